package metrics

import coremetrics "github.com/gridmesh/vpp/core/metrics"

// MultiSink fanouts engine events to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDispatchEvent forwards the events to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordDispatchEvent(events []coremetrics.DispatchEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordDispatchEvent(events); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement forwards settlement events when supported by the sink.
func (m *MultiSink) RecordSettlement(ev coremetrics.SettlementEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SettlementRecorder); ok {
			if err := rec.RecordSettlement(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordClearingPrice forwards clearing events when supported by the sink.
func (m *MultiSink) RecordClearingPrice(ev coremetrics.ClearingEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.ClearingRecorder); ok {
			if err := rec.RecordClearingPrice(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
