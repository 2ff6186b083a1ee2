package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attribstream/attribstream/pkg/types"
)

func openTest(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func rec(id string, conversions int64) *types.MetricsRecord {
	return &types.MetricsRecord{
		SourceID:         id,
		Attribution:      map[string]float64{"Search": 0.6, "Email": 0.4},
		TotalConversions: conversions,
		TotalValue:       float64(conversions) * 100,
		Model:            "last_touch",
		Health:           types.Health{State: types.StateHealthy, Score: 91},
		AttributionStats: types.AttributionStats{Confidence: 0.8},
	}
}

func TestRecordAndQuery(t *testing.T) {
	s, now := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, rec("a", 1)))
	*now = now.Add(time.Second)
	require.NoError(t, s.Record(ctx, rec("b", 5)))
	*now = now.Add(time.Second)
	require.NoError(t, s.Record(ctx, rec("a", 2)))

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(2), all[0].Record.TotalConversions, "newest first")
	assert.Equal(t, "b", all[1].SourceID)
	assert.Equal(t, 0.6, all[2].Record.Share("Search"))
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), all[2].ReceivedAt)

	onlyA, err := s.Query(ctx, Query{SourceID: "a"})
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	for _, e := range onlyA {
		assert.Equal(t, "a", e.SourceID)
	}
}

func TestQuery_SinceAndLimit(t *testing.T) {
	s, now := openTest(t)
	ctx := context.Background()
	start := *now

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, rec("a", int64(i))))
		*now = now.Add(time.Minute)
	}

	recent, err := s.Query(ctx, Query{Since: start.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].Record.TotalConversions)

	limited, err := s.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestQuery_EmptyIsNonNil(t *testing.T) {
	s, _ := openTest(t)
	out, err := s.Query(context.Background(), Query{SourceID: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestPrune(t *testing.T) {
	s, now := openTest(t)
	ctx := context.Background()
	start := *now

	require.NoError(t, s.Record(ctx, rec("a", 1)))
	*now = now.Add(2 * time.Hour)
	require.NoError(t, s.Record(ctx, rec("a", 2)))

	n, err := s.Prune(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(2), left[0].Record.TotalConversions)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _ := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing-dir", "x.db"))
	assert.Error(t, err)
}
