package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resinat/Tagscope/internal/device"
	"github.com/Resinat/Tagscope/internal/plan"
	"github.com/Resinat/Tagscope/internal/render"
	"github.com/Resinat/Tagscope/internal/session"
	"github.com/Resinat/Tagscope/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

type harnessEnv struct {
	h         *Harness
	store     *store.Store
	exportDir string
}

func newHarness(t *testing.T, withStore bool) harnessEnv {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	sim := device.NewSimulator(device.SimulatorOptions{Seed: 11, Now: clock.Now})
	sess := session.New(sim, session.Options{Now: clock.Now, Sleep: clock.Sleep})
	t.Cleanup(func() { _ = sess.Close() })

	env := harnessEnv{exportDir: t.TempDir()}
	if withStore {
		st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		env.store = st
	}
	env.h = NewHarness(Config{
		Session:   sess,
		Store:     env.store,
		ExportDir: env.exportDir,
		Chart:     render.ChartRenderer{Width: 400, Height: 300},
	})
	return env
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected ServiceError, got %v", err)
	assert.Equal(t, code, svcErr.Code)
}

func TestHarness_AcquireRecordsRun(t *testing.T) {
	env := newHarness(t, true)
	ctx := context.Background()

	res, err := env.h.Acquire(ctx, 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, store.KindCounts, res.Run.Kind)
	assert.Equal(t, 1, res.Run.Updates)

	detail, err := env.h.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Acquisition.Counters.Values, detail.Counters)
	require.NotNil(t, detail.Timestamps)
	assert.Equal(t, res.Acquisition.Timestamps.Valid, detail.Timestamps.Valid)

	_, err = env.h.Acquire(ctx, -1, 1000)
	requireCode(t, err, "INVALID_ARGUMENT")
}

func TestHarness_SweepExportsAndRecordsEveryPoint(t *testing.T) {
	env := newHarness(t, true)
	ctx := context.Background()

	var results []SweepResult
	sweepID, err := env.h.Sweep(ctx, plan.Sweep{ExposureMs: 20, CoincidenceWindowsNs: []float64{1, 5}}, func(r SweepResult) {
		results = append(results, r)
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, name := range []string{"coincWin_1ns.txt", "coincWin_5ns.txt"} {
		_, err := os.Stat(filepath.Join(env.exportDir, name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, 5000, results[1].Run.CoincidenceWindowBins)
	assert.Equal(t, results[1].Export.Digest, results[1].Run.Digest)

	runs, total, err := env.h.ListRuns(ctx, store.ListFilter{SweepID: sweepID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, runs, 2)

	_, err = env.h.Sweep(ctx, plan.Sweep{}, nil)
	requireCode(t, err, "INVALID_ARGUMENT")
}

func TestHarness_CorrelationCaptures(t *testing.T) {
	env := newHarness(t, true)
	ctx := context.Background()

	hbt, err := env.h.HBT(ctx)
	require.NoError(t, err)
	assert.Len(t, hbt.Values, 2*256-1)
	assert.FileExists(t, filepath.Join(env.exportDir, HBTG2Name))

	p := session.DefaultHg2Params()
	p.BinCount = 32
	hg2, err := env.h.CaptureHg2(ctx, p)
	require.NoError(t, err)
	assert.Len(t, hg2.Values, 2*32-1)
	assert.FileExists(t, filepath.Join(env.exportDir, "HeraldedG2.txt"))
	assert.Equal(t, filepath.Join(env.exportDir, "HeraldedG2.png"), hg2.ChartPath)
	assert.FileExists(t, hg2.ChartPath)

	detail, err := env.h.GetRun(ctx, hg2.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, hg2.Values, detail.G2)
	assert.Nil(t, detail.Timestamps)
	assert.JSONEq(t, `{"idler":1,"channel1":2,"channel2":3,"bin_width":12,"bin_count":32,"wait":5000000000}`, string(detail.Params))
}

func TestHarness_CaptureConflict(t *testing.T) {
	env := newHarness(t, false)
	env.h.capturing.Store(true)
	_, err := env.h.CaptureHg2(context.Background(), env.h.Hg2Defaults())
	requireCode(t, err, "CONFLICT")
}

func TestHarness_RunsWithoutStore(t *testing.T) {
	env := newHarness(t, false)
	ctx := context.Background()

	res, err := env.h.Acquire(ctx, 10, 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Run.ID)

	_, _, err = env.h.ListRuns(ctx, store.ListFilter{})
	requireCode(t, err, "UNAVAILABLE")
	_, err = env.h.GetRun(ctx, res.Run.ID)
	requireCode(t, err, "UNAVAILABLE")
}

func TestHarness_RunErrors(t *testing.T) {
	env := newHarness(t, true)
	ctx := context.Background()

	_, err := env.h.GetRun(ctx, "missing")
	requireCode(t, err, "NOT_FOUND")
	requireCode(t, env.h.DeleteRun(ctx, "missing"), "NOT_FOUND")
	_, _, err = env.h.ListRuns(ctx, store.ListFilter{Kind: "bogus"})
	requireCode(t, err, "INVALID_ARGUMENT")

	_, err = env.h.LiveFrame("counts")
	requireCode(t, err, "NOT_FOUND")
}
