package metrics

import coremetrics "github.com/raftaar/ambudispatch/core/metrics"

// MultiSink fans events out to several sinks, returning the first error.
type MultiSink struct {
	sinks []coremetrics.Sink
}

// NewMultiSink combines the given sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordCallOutcome(ev coremetrics.CallOutcome) error {
	var first error
	for _, s := range m.sinks {
		if err := s.RecordCallOutcome(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiSink) RecordAssignment(ev coremetrics.Assignment) error {
	var first error
	for _, s := range m.sinks {
		if err := s.RecordAssignment(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
