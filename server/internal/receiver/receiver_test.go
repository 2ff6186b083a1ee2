package receiver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/alerts"
	"github.com/attribstream/attribstream/server/internal/auth"
	"github.com/attribstream/attribstream/server/internal/config"
	"github.com/attribstream/attribstream/server/internal/receiver"
	"github.com/attribstream/attribstream/server/internal/store"
)

func init() { gin.SetMode(gin.TestMode) }

// --- fakes ---

type fakeHistory struct {
	mu   sync.Mutex
	recs []*types.MetricsRecord
	err  error
}

func (f *fakeHistory) Record(_ context.Context, rec *types.MetricsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

type fakePub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePub) Publish(event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

// --- helpers ---

func newRouter(t *testing.T, mw []gin.HandlerFunc, opts ...receiver.Option) (*gin.Engine, *store.Store) {
	t.Helper()
	st := store.New(5 * time.Minute)
	r := gin.New()
	receiver.New(st, opts...).Register(r, mw...)
	return r, st
}

func post(t *testing.T, r http.Handler, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func recordJSON(t *testing.T, rec *types.MetricsRecord) []byte {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func sample(id string) *types.MetricsRecord {
	return &types.MetricsRecord{
		SourceID:         id,
		Attribution:      map[string]float64{"Search": 0.7, "Email": 0.3},
		TotalConversions: 10,
		TotalValue:       1234.5,
		Model:            "last_touch",
		Health:           types.Health{State: types.StateHealthy, Score: 88, FillRate: 0.95, CTR: 0.02},
		AttributionStats: types.AttributionStats{Confidence: 0.9},
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return body["code"]
}

// --- tests ---

func TestUpdate_StoresRecord(t *testing.T) {
	r, st := newRouter(t, nil)

	w := post(t, r, receiver.UpdatePath, recordJSON(t, sample("agent-1")), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"status":"success"`) {
		t.Errorf("body: got %s", w.Body.String())
	}

	e, ok := st.Get("agent-1")
	if !ok {
		t.Fatal("store.Get: expected entry, got none")
	}
	if e.Record.TotalValue != 1234.5 || e.Record.Share("Search") != 0.7 {
		t.Errorf("stored record: got %+v", e.Record)
	}
}

func TestUpdate_LegacyPath(t *testing.T) {
	r, st := newRouter(t, nil)
	if w := post(t, r, "/update", recordJSON(t, sample("old-agent")), nil); w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	if _, ok := st.Get("old-agent"); !ok {
		t.Error("legacy path did not store the record")
	}
}

func TestUpdate_MissingSourceID_BadRequest(t *testing.T) {
	r, st := newRouter(t, nil)
	w := post(t, r, receiver.UpdatePath, []byte(`{"total_conversions": 3}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if st.Count() != 0 {
		t.Errorf("store: got %d entries, want 0", st.Count())
	}
}

func TestUpdate_MalformedJSON_BadRequest(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := post(t, r, receiver.UpdatePath, []byte(`{"source_id":`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != receiver.CodeBadRequest {
		t.Errorf("code: got %q, want %q", code, receiver.CodeBadRequest)
	}
}

func TestUpdate_InvalidRecord(t *testing.T) {
	r, _ := newRouter(t, nil)
	rec := sample("agent-1")
	rec.Attribution["Search"] = 1.7

	w := post(t, r, receiver.UpdatePath, recordJSON(t, rec), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if code := errorCode(t, w); code != receiver.CodeInvalidRecord {
		t.Errorf("code: got %q, want %q", code, receiver.CodeInvalidRecord)
	}
}

func TestUpdate_NegativeValuesRejected(t *testing.T) {
	cases := map[string]string{
		"channel value":       `{"source_id":"a","channel_value":{"Search":-100,"Social":200},"total_value":100}`,
		"channel conversions": `{"source_id":"a","channel_conversions":{"Search":-3}}`,
		"events per second":   `{"source_id":"a","events_sec":-5}`,
		"total events":        `{"source_id":"a","total_events":-1}`,
		"health score":        `{"source_id":"a","health":{"score":140}}`,
		"health state":        `{"source_id":"a","health":{"state":"on-fire"}}`,
		"confidence":          `{"source_id":"a","attribution_stats":{"confidence":1.5}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			r, st := newRouter(t, nil)
			w := post(t, r, receiver.UpdatePath, []byte(body), nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != receiver.CodeInvalidRecord {
				t.Errorf("code: got %q, want %q", code, receiver.CodeInvalidRecord)
			}
			if st.Count() != 0 {
				t.Errorf("store: got %d entries, want 0", st.Count())
			}
		})
	}
}

func TestUpdate_ChannelValueAboveTotalRejected(t *testing.T) {
	r, st := newRouter(t, nil)
	rec := sample("agent-1")
	rec.ChannelValue = map[string]float64{"Search": 5000}

	w := post(t, r, receiver.UpdatePath, recordJSON(t, rec), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", w.Code)
	}
	if st.Count() != 0 {
		t.Errorf("store: got %d entries, want 0", st.Count())
	}
}

func TestUpdate_TooLarge(t *testing.T) {
	r, _ := newRouter(t, nil)
	body := `{"source_id":"a","model":"` + strings.Repeat("x", receiver.MaxBodyBytes) + `"}`
	w := post(t, r, receiver.UpdatePath, []byte(body), nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: got %d, want 413", w.Code)
	}
}

func TestUpdate_UpdateExistingSource(t *testing.T) {
	r, st := newRouter(t, nil)
	first := sample("src")
	second := sample("src")
	second.TotalConversions = 99

	post(t, r, receiver.UpdatePath, recordJSON(t, first), nil)
	post(t, r, receiver.UpdatePath, recordJSON(t, second), nil)

	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
	e, _ := st.Get("src")
	if e.Record.TotalConversions != 99 {
		t.Errorf("TotalConversions: got %d, want 99", e.Record.TotalConversions)
	}
}

func TestUpdate_FansOut(t *testing.T) {
	eng, err := alerts.New(config.AlertsConfig{})
	if err != nil {
		t.Fatalf("alerts.New: %v", err)
	}
	hist := &fakeHistory{err: errors.New("disk full")}
	pub := &fakePub{}
	r, _ := newRouter(t, nil,
		receiver.WithAlerts(eng),
		receiver.WithHistory(hist),
		receiver.WithPublisher(pub),
	)

	rec := sample("agent-1")
	rec.Health.FillRate = 0.5 // trips the default fill-rate rule
	w := post(t, r, receiver.UpdatePath, recordJSON(t, rec), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 even when history fails", w.Code)
	}

	if len(hist.recs) != 1 {
		t.Errorf("history: got %d records, want 1", len(hist.recs))
	}
	if eng.Firing() != 1 {
		t.Errorf("alerts firing: got %d, want 1", eng.Firing())
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 || pub.events[0] != "update" || pub.events[1] != "alert" {
		t.Errorf("published: got %v, want [update alert]", pub.events)
	}
}

func TestUpdate_WithAPIKey(t *testing.T) {
	mw := []gin.HandlerFunc{auth.APIKey("apikey", "x-api-key", "secret")}
	r, st := newRouter(t, mw)
	body := recordJSON(t, sample("agent-1"))

	if w := post(t, r, receiver.UpdatePath, body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: got %d, want 401", w.Code)
	}
	if w := post(t, r, receiver.UpdatePath, body, map[string]string{"x-api-key": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d, want 401", w.Code)
	}
	if st.Count() != 0 {
		t.Fatalf("store written before auth passed")
	}
	if w := post(t, r, receiver.UpdatePath, body, map[string]string{"x-api-key": "secret"}); w.Code != http.StatusOK {
		t.Errorf("correct key: got %d, want 200", w.Code)
	}
}
