package telemetry

import (
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attribstream/attribstream/agent/internal/attribution"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestInstrumentedSink_CountsAcceptedAndRejected(t *testing.T) {
	m, _ := newTestMetrics(t)
	eng, err := attribution.New([]string{"Search", "Email"})
	require.NoError(t, err)
	sink := NewInstrumentedSink(eng, m)

	require.NoError(t, sink.RecordConversion([]string{"Search", "Email"}, 120))
	require.NoError(t, sink.RecordConversion([]string{"Email"}, 30))
	assert.Error(t, sink.RecordConversion([]string{"Fax"}, 10))
	assert.Error(t, sink.RecordConversion(nil, 10))
	assert.Error(t, sink.RecordConversion([]string{"Search"}, -1))
	assert.Error(t, sink.RecordConversion([]string{"Search"}, math.NaN()))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConversionsTotal))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.ConversionValue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues(attribution.ReasonUnknownChannel)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues(attribution.ReasonEmptyPath)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues(attribution.ReasonNegativeValue)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues(attribution.ReasonInvalidValue)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecordDuration))

	assert.Equal(t, int64(2), eng.Snapshot().TotalConversions)
}

type failingRecorder struct{}

func (failingRecorder) RecordConversion([]string, float64) error { return errors.New("boom") }

func TestInstrumentedSink_OtherErrors(t *testing.T) {
	m, _ := newTestMetrics(t)
	sink := NewInstrumentedSink(failingRecorder{}, m)
	assert.Error(t, sink.RecordConversion([]string{"A"}, 1))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedTotal.WithLabelValues("other")))
}

func TestInstrumentedSink_NilMetrics(t *testing.T) {
	eng, err := attribution.New([]string{"A"})
	require.NoError(t, err)
	sink := NewInstrumentedSink(eng, nil)
	assert.NoError(t, sink.RecordConversion([]string{"A"}, 1))
}

func TestMetrics_ReportAndShipper(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.ObserveReport(map[string]float64{"Search": 0.25, "Email": 0.75}, 91.5, 0.8)
	m.ShipOK()
	m.ShipOK()
	m.ShipFailed(false)
	m.ShipFailed(true)
	m.SetBufferDepth(7)
	m.Evicted()

	assert.Equal(t, 0.75, testutil.ToFloat64(m.ChannelShare.WithLabelValues("Email")))
	assert.Equal(t, 91.5, testutil.ToFloat64(m.HealthScore))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.Confidence))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsShipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShipErrorsTotal.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShipErrorsTotal.WithLabelValues("permanent")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BufferDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BufferEvictedTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveReport(map[string]float64{"A": 1}, 1, 1)
		m.ShipOK()
		m.ShipFailed(true)
		m.SetBufferDepth(3)
		m.Evicted()
	})
}

func TestHandler_ServesTextFormat(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ShipOK()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "attribstream_shipper_records_shipped_total 1"))
}
