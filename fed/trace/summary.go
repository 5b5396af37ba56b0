package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalGrants       int
	TotalPublications int
	TotalDeliveries   int
	FinalGrant        map[string]int64 // federate → last granted time
	GrantsPerFederate map[string]int   // federate → number of grants
	PublicationsByKey map[string]int   // key → number of publications
	MaxDeliveryLag    int64            // max(granted - stamp) over deliveries
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		FinalGrant:        make(map[string]int64),
		GrantsPerFederate: make(map[string]int),
		PublicationsByKey: make(map[string]int),
	}
	if st == nil {
		return summary
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	summary.TotalGrants = len(st.Grants)
	for _, g := range st.Grants {
		summary.GrantsPerFederate[g.Federate]++
		if last, ok := summary.FinalGrant[g.Federate]; !ok || g.Granted > last {
			summary.FinalGrant[g.Federate] = g.Granted
		}
	}

	summary.TotalPublications = len(st.Publications)
	for _, p := range st.Publications {
		summary.PublicationsByKey[p.Key]++
	}

	summary.TotalDeliveries = len(st.Deliveries)
	for _, d := range st.Deliveries {
		if lag := d.Granted - d.Stamp; lag > summary.MaxDeliveryLag {
			summary.MaxDeliveryLag = lag
		}
	}
	return summary
}
