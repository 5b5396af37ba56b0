package scenario

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tesp-cosim/cosim/fed"
)

// Observation is one value or message seen by the monitor.
type Observation struct {
	Granted fed.Time
	Key     string
	Value   string
	Message bool
}

// Monitor subscribes to publications and records every update together with
// the time it was granted.
type Monitor struct {
	fed          *fed.Federate
	ep           *fed.Endpoint
	stop         fed.Time
	observations []Observation
}

// NewMonitor subscribes f to keys. A non-empty endpoint name registers an
// endpoint whose messages are recorded as well.
func NewMonitor(f *fed.Federate, keys []string, endpoint string, stop fed.Time) (*Monitor, error) {
	for _, key := range keys {
		if _, err := f.RegisterSubscriptionWithOptions(key, fed.SubscriptionOptions{Type: fed.TypeString, List: true}); err != nil {
			return nil, err
		}
	}
	m := &Monitor{fed: f, stop: stop}
	if endpoint != "" {
		ep, err := f.RegisterEndpoint(endpoint)
		if err != nil {
			return nil, err
		}
		m.ep = ep
	}
	return m, nil
}

// EndpointName returns the full name of the monitor endpoint, or "".
func (m *Monitor) EndpointName() string {
	if m.ep == nil {
		return ""
	}
	return m.ep.Name()
}

// Observations returns what was recorded, in grant order.
func (m *Monitor) Observations() []Observation {
	return append([]Observation(nil), m.observations...)
}

// Run enters executing mode and records updates until the stop time is granted.
func (m *Monitor) Run(ctx context.Context) error {
	f := m.fed
	if err := f.EnterExecutingMode(ctx); err != nil {
		return err
	}
	for f.CurrentTime() < m.stop {
		granted, err := f.RequestTime(ctx, m.stop)
		if err != nil {
			return err
		}
		m.collect(granted)
	}
	return nil
}

func (m *Monitor) collect(granted fed.Time) {
	for name := range m.fed.Events() {
		sub, err := m.fed.Subscription(name)
		if err != nil {
			continue
		}
		for _, v := range sub.Values() {
			logrus.Debugf("Observed %s=%s at %s", sub.Key(), v, granted)
			m.observations = append(m.observations, Observation{Granted: granted, Key: sub.Key(), Value: v.String()})
		}
	}
	if m.ep == nil {
		return
	}
	for {
		msg, ok := m.ep.Receive()
		if !ok {
			return
		}
		logrus.Debugf("Received %q from %s at %s", msg.Data, msg.Source, granted)
		m.observations = append(m.observations, Observation{Granted: granted, Key: msg.Source, Value: string(msg.Data), Message: true})
	}
}
