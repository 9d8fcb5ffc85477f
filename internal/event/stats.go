package event

// Stats summarizes a snapshot of events for telemetry and file reports.
type Stats struct {
	Total      int
	Up         int
	Down       int
	DurationUS uint64
	PerSecond  float64
}

// Calculate computes statistics over a snapshot. Duration spans the first to
// the last event timestamp; rate is zero when the span is.
func Calculate(events []Event) Stats {
	st := Stats{Total: len(events)}
	if len(events) == 0 {
		return st
	}
	minTS, maxTS := events[0].Timestamp, events[0].Timestamp
	for _, e := range events {
		if e.Polarity == PolarityUp {
			st.Up++
		} else {
			st.Down++
		}
		if e.Timestamp < minTS {
			minTS = e.Timestamp
		}
		if e.Timestamp > maxTS {
			maxTS = e.Timestamp
		}
	}
	st.DurationUS = maxTS - minTS
	if st.DurationUS > 0 {
		st.PerSecond = float64(st.Total) / (float64(st.DurationUS) / 1e6)
	}
	return st
}
