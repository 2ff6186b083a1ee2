package telemetry

import (
	"errors"
	"time"

	"github.com/attribstream/attribstream/agent/internal/attribution"
)

// Recorder is the write side of the attribution engine.
type Recorder interface {
	RecordConversion(path []string, value float64) error
}

// InstrumentedSink wraps a Recorder and counts what passes through it.
type InstrumentedSink struct {
	next Recorder
	m    *Metrics
}

// NewInstrumentedSink returns a Recorder that forwards to next.
func NewInstrumentedSink(next Recorder, m *Metrics) *InstrumentedSink {
	return &InstrumentedSink{next: next, m: m}
}

// RecordConversion forwards to the wrapped Recorder and updates the counters.
func (s *InstrumentedSink) RecordConversion(path []string, value float64) error {
	start := time.Now()
	err := s.next.RecordConversion(path, value)
	if s.m == nil {
		return err
	}
	s.m.RecordDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.m.RejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	s.m.ConversionsTotal.Inc()
	s.m.ConversionValue.Add(value)
	return nil
}

func rejectReason(err error) string {
	var ip *attribution.InvalidPathError
	if errors.As(err, &ip) {
		return ip.Reason
	}
	return "other"
}
