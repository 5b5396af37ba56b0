package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	assert.Equal(t, 0, summary.TotalGrants)
	assert.Empty(t, summary.FinalGrant)
	assert.Equal(t, int64(0), summary.MaxDeliveryLag)
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with grants, publications and deliveries of two federates
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelValues})
	st.RecordGrant(GrantRecord{Federate: "loadshed", Requested: 1800, Granted: 1800})
	st.RecordGrant(GrantRecord{Federate: "loadshed", Requested: 5400, Granted: 5400})
	st.RecordGrant(GrantRecord{Federate: "monitor", Requested: 21600, Granted: 1800, Updates: 1})
	st.RecordPublication(PublicationRecord{Federate: "loadshed", Key: "loadshed/sw_status", Time: 1800, Value: "0"})
	st.RecordPublication(PublicationRecord{Federate: "loadshed", Key: "loadshed/sw_status", Time: 5400, Value: "1"})
	st.RecordDelivery(DeliveryRecord{Federate: "monitor", Key: "loadshed/sw_status", Stamp: 1800, Granted: 1800})
	st.RecordDelivery(DeliveryRecord{Federate: "monitor", Key: "loadshed/sw_status", Stamp: 5400, Granted: 5460})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts and extremes match
	assert.Equal(t, 3, summary.TotalGrants)
	assert.Equal(t, 2, summary.TotalPublications)
	assert.Equal(t, 2, summary.TotalDeliveries)
	assert.Equal(t, map[string]int{"loadshed": 2, "monitor": 1}, summary.GrantsPerFederate)
	assert.Equal(t, map[string]int64{"loadshed": 5400, "monitor": 1800}, summary.FinalGrant)
	assert.Equal(t, map[string]int{"loadshed/sw_status": 2}, summary.PublicationsByKey)
	assert.Equal(t, int64(60), summary.MaxDeliveryLag)
}
