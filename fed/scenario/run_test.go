package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesp-cosim/cosim/fed"
	"github.com/tesp-cosim/cosim/fed/trace"
)

// valuesOnly drops endpoint messages from the observations.
func valuesOnly(obs []Observation) []Observation {
	var out []Observation
	for _, o := range obs {
		if !o.Message {
			out = append(out, o)
		}
	}
	return out
}

func TestRunLoadshed_MonitorSeesScheduleAtExactTimes(t *testing.T) {
	// GIVEN the default schedule and a six hour stop time
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelValues})

	// WHEN the loadshed scenario runs
	res, err := RunLoadshed(ctx, Options{
		Stop:     fed.Seconds(21600),
		Schedule: DefaultLoadshedSchedule(),
		Trace:    st,
	})
	require.NoError(t, err)

	// THEN the monitor saw 1,0,1,0,1 each at its scheduled time
	key := "loadshed/sw_status"
	assert.Equal(t, []Observation{
		{Granted: fed.Seconds(0), Key: key, Value: "1"},
		{Granted: fed.Seconds(1800), Key: key, Value: "0"},
		{Granted: fed.Seconds(5400), Key: key, Value: "1"},
		{Granted: fed.Seconds(16200), Key: key, Value: "0"},
		{Granted: fed.Seconds(19800), Key: key, Value: "1"},
	}, valuesOnly(res.Observations))

	// AND both federates reached the stop time
	assert.Equal(t, fed.Seconds(21600), res.DriverTime)
	assert.Equal(t, fed.Seconds(21600), res.MonitorTime)

	// AND the trace shows no delivery lag
	summary := trace.Summarize(st)
	assert.Equal(t, 5, summary.TotalPublications)
	assert.Equal(t, 5, summary.TotalDeliveries)
	assert.Equal(t, int64(0), summary.MaxDeliveryLag)
}

func TestRunLoadshed_EndpointMessagesFollowValues(t *testing.T) {
	res, err := RunLoadshed(context.Background(), Options{
		Stop:     fed.Seconds(21600),
		Schedule: DefaultLoadshedSchedule(),
	})
	require.NoError(t, err)

	var states []string
	for _, o := range res.Observations {
		if o.Message {
			states = append(states, o.Value)
			assert.Equal(t, "loadshed/sw_status", o.Key)
		}
	}
	assert.Equal(t, []string{"CLOSED", "OPEN", "CLOSED", "OPEN", "CLOSED"}, states)
}

func TestRunLoadshed_StopBeforeLastSwitching(t *testing.T) {
	// GIVEN a stop time of 2h, before the last three switchings
	res, err := RunLoadshed(context.Background(), Options{
		Stop:     fed.Seconds(7200),
		Schedule: DefaultLoadshedSchedule(),
	})
	require.NoError(t, err)

	// THEN only the first three values are observed
	obs := valuesOnly(res.Observations)
	require.Len(t, obs, 3)
	assert.Equal(t, fed.Seconds(5400), obs[2].Granted)
	assert.Equal(t, fed.Seconds(7200), res.MonitorTime)
}

func TestRunLoadshed_WithoutEndpoint(t *testing.T) {
	s := DefaultLoadshedSchedule()
	s.Endpoint = ""
	res, err := RunLoadshed(context.Background(), Options{Stop: fed.Seconds(3600), Schedule: s})
	require.NoError(t, err)
	for _, o := range res.Observations {
		assert.False(t, o.Message)
	}
	assert.Len(t, res.Observations, 2)
}

func TestRunLoadshed_InvalidSchedule(t *testing.T) {
	s := DefaultLoadshedSchedule()
	s.Switchings = append(s.Switchings, Action{At: 0, Value: 1})
	_, err := RunLoadshed(context.Background(), Options{Stop: fed.Seconds(10), Schedule: s})
	assert.ErrorIs(t, err, fed.ErrConfig)
}

func TestRunLoadshed_UnavailableCore(t *testing.T) {
	_, err := RunLoadshed(context.Background(), Options{
		Stop:     fed.Seconds(10),
		Schedule: DefaultLoadshedSchedule(),
		CoreType: "tcp",
	})
	assert.ErrorIs(t, err, fed.ErrConnection)
}
