package store

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resinat/Tagscope/internal/device"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MigratesToLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	v, err := schemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	require.NoError(t, s.Close())

	// Reopening an up-to-date database is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestInsertAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run, err := s.InsertRun(ctx, Run{
		Kind:                  KindCounts,
		CreatedAt:             created,
		ExposureMs:            100,
		CoincidenceWindowBins: 5000,
		WindowNs:              5,
		Updates:               1,
		DataLost:              true,
		ExportPath:            "/tmp/coincWin_5ns.txt",
		Digest:                "00000000deadbeef",
	}, RunData{
		Counters: []int64{0, 1200, 950},
		Timestamps: &device.Timestamps{
			Times:    []int64{10, 20, 35},
			Channels: []int8{1, 2, 1},
			Valid:    3,
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, KindCounts, got.Kind)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, 5000, got.CoincidenceWindowBins)
	assert.Equal(t, 5.0, got.WindowNs)
	assert.True(t, got.DataLost)
	assert.Equal(t, "00000000deadbeef", got.Digest)
	assert.JSONEq(t, "{}", string(got.Params))

	counters, err := s.RunCounters(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1200, 950}, counters)

	ts, err := s.RunTimestamps(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 35}, ts.Times)
	assert.Equal(t, []int8{1, 2, 1}, ts.Channels)
	assert.Equal(t, 3, ts.Valid)

	g2, err := s.RunG2(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, g2)
}

func TestInsertG2KeepsNonFiniteBins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := []float64{1, math.NaN(), 0.5, math.Inf(1), math.Inf(-1), 0}
	run, err := s.InsertRun(ctx, Run{Kind: KindHg2G2}, RunData{G2: in})
	require.NoError(t, err)

	g2, err := s.RunG2(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, g2, len(in))
	assert.Equal(t, 1.0, g2[0])
	assert.True(t, math.IsNaN(g2[1]))
	assert.Equal(t, 0.5, g2[2])
	assert.True(t, math.IsInf(g2[3], 1))
	assert.True(t, math.IsInf(g2[4], -1))
	assert.Equal(t, 0.0, g2[5])
}

func TestInsertG2WithParams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	params, err := json.Marshal(map[string]int{"idler": 1, "bin_count": 2})
	require.NoError(t, err)
	run, err := s.InsertRun(ctx, Run{Kind: KindHg2G2, Params: params}, RunData{G2: []float64{1, 0.2, 1}})
	require.NoError(t, err)

	g2, err := s.RunG2(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.2, 1}, g2)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idler":1,"bin_count":2}`, string(got.Params))

	ts, err := s.RunTimestamps(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, ts.Times)

	_, err = s.InsertRun(ctx, Run{Kind: "bogus"}, RunData{})
	assert.Error(t, err)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		_, err := s.InsertRun(ctx, Run{
			Kind:      KindSweepPoint,
			SweepID:   "sweep-a",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			WindowNs:  float64(i + 1),
		}, RunData{})
		require.NoError(t, err)
	}
	_, err := s.InsertRun(ctx, Run{Kind: KindHBTG2, CreatedAt: base.Add(time.Minute)}, RunData{})
	require.NoError(t, err)

	all, total, err := s.ListRuns(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, all, 6)
	assert.Equal(t, KindHBTG2, all[0].Kind)

	page, total, err := s.ListRuns(ctx, ListFilter{Kind: KindSweepPoint, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 4.0, page[0].WindowNs)
	assert.Equal(t, 3.0, page[1].WindowNs)

	bySweep, total, err := s.ListRuns(ctx, ListFilter{SweepID: "sweep-a"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, bySweep, 5)

	none, total, err := s.ListRuns(ctx, ListFilter{Kind: KindHg2G2})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.NotNil(t, none)
}

func TestDeleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.InsertRun(ctx, Run{Kind: KindCounts}, RunData{Counters: []int64{1, 2}})
	require.NoError(t, err)
	require.NoError(t, s.DeleteRun(ctx, run.ID))

	_, err = s.GetRun(ctx, run.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.RunCounters(ctx, run.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.DeleteRun(ctx, run.ID), ErrNotFound))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM run_counters`).Scan(&n))
	assert.Zero(t, n)
}
