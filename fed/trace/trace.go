package trace

import (
	"sync"

	"github.com/google/uuid"
)

// TraceLevel controls the verbosity of tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelGrants captures time grants only.
	TraceLevelGrants TraceLevel = "grants"
	// TraceLevelValues captures grants, publications and deliveries.
	TraceLevelValues TraceLevel = "values"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelGrants: true,
	TraceLevelValues: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects records from any number of federates.
// It is safe for concurrent use; a nil *SimulationTrace records nothing.
type SimulationTrace struct {
	Config       TraceConfig
	RunID        string
	mu           sync.Mutex
	Grants       []GrantRecord
	Publications []PublicationRecord
	Deliveries   []DeliveryRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording, tagged
// with a fresh run ID.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:       config,
		RunID:        uuid.New().String(),
		Grants:       make([]GrantRecord, 0),
		Publications: make([]PublicationRecord, 0),
		Deliveries:   make([]DeliveryRecord, 0),
	}
}

func (st *SimulationTrace) enabled(min TraceLevel) bool {
	if st == nil {
		return false
	}
	switch st.Config.Level {
	case TraceLevelValues:
		return true
	case TraceLevelGrants:
		return min == TraceLevelGrants
	default:
		return false
	}
}

// RecordGrant appends a grant record.
func (st *SimulationTrace) RecordGrant(record GrantRecord) {
	if !st.enabled(TraceLevelGrants) {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Grants = append(st.Grants, record)
}

// RecordPublication appends a publication record.
func (st *SimulationTrace) RecordPublication(record PublicationRecord) {
	if !st.enabled(TraceLevelValues) {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Publications = append(st.Publications, record)
}

// RecordDelivery appends a delivery record.
func (st *SimulationTrace) RecordDelivery(record DeliveryRecord) {
	if !st.enabled(TraceLevelValues) {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Deliveries = append(st.Deliveries, record)
}

// DeliveriesFor returns the deliveries received by one federate, in order.
func (st *SimulationTrace) DeliveriesFor(federate string) []DeliveryRecord {
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []DeliveryRecord
	for _, d := range st.Deliveries {
		if d.Federate == federate {
			out = append(out, d)
		}
	}
	return out
}
