// Package store persists measurement runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/Resinat/Tagscope/internal/device"
)

// ErrNotFound is returned when a run id is unknown.
const ErrNotFound = errors.Sentinel("run not found")

// Kind tells what a run measured.
type Kind string

const (
	KindCounts     Kind = "counts"
	KindHBTG2      Kind = "hbt_g2"
	KindHg2G2      Kind = "hg2_g2"
	KindSweepPoint Kind = "sweep_point"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindCounts, KindHBTG2, KindHg2G2, KindSweepPoint:
		return true
	}
	return false
}

// Run is the metadata row of one measurement.
type Run struct {
	ID                    string          `json:"id"`
	Kind                  Kind            `json:"kind"`
	SweepID               string          `json:"sweep_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	ExposureMs            int             `json:"exposure_ms,omitempty"`
	CoincidenceWindowBins int             `json:"coincidence_window_bins,omitempty"`
	WindowNs              float64         `json:"window_ns,omitempty"`
	Updates               int             `json:"updates,omitempty"`
	DataLost              bool            `json:"data_lost"`
	Params                json.RawMessage `json:"params,omitempty"`
	ExportPath            string          `json:"export_path,omitempty"`
	Digest                string          `json:"digest,omitempty"`
}

// RunData is the bulk payload of a run. Nil parts are not stored.
type RunData struct {
	Counters   []int64
	G2         []float64
	Timestamps *device.Timestamps
}

// Store wraps the runs database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "store mkdir")
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// OpenDB opens a SQLite database at path with WAL journal mode,
// synchronous=NORMAL, foreign_keys=ON and busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open db %s", path)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %q on %s", p, path)
		}
	}
	return db, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRun stores a run and its data in one transaction. An empty ID is
// filled with a new UUID and a zero CreatedAt with the current time.
func (s *Store) InsertRun(ctx context.Context, run Run, data RunData) (Run, error) {
	if !run.Kind.IsValid() {
		return Run{}, errors.Errorf("store: invalid run kind %q", run.Kind)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	params := run.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, errors.Wrap(err, "store begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, kind, sweep_id, created_at_ns, exposure_ms, coincidence_window_bins,
		window_ns, updates, data_lost, params_json, export_path, digest
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, string(run.Kind), run.SweepID, run.CreatedAt.UnixNano(), run.ExposureMs,
		run.CoincidenceWindowBins, run.WindowNs, run.Updates, boolToInt(run.DataLost),
		string(params), run.ExportPath, run.Digest,
	)
	if err != nil {
		return Run{}, errors.Wrap(err, "store insert run")
	}

	if len(data.Counters) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_counters (run_id, idx, value) VALUES (?,?,?)`)
		if err != nil {
			return Run{}, errors.Wrap(err, "store prepare counters")
		}
		defer stmt.Close()
		for i, v := range data.Counters {
			if _, err := stmt.ExecContext(ctx, run.ID, i, v); err != nil {
				return Run{}, errors.Wrapf(err, "store insert counter %d", i)
			}
		}
	}

	if len(data.G2) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_g2 (run_id, bin, value, nonfinite) VALUES (?,?,?,?)`)
		if err != nil {
			return Run{}, errors.Wrap(err, "store prepare g2")
		}
		defer stmt.Close()
		for i, v := range data.G2 {
			value, nonfinite := encodeG2Value(v)
			if _, err := stmt.ExecContext(ctx, run.ID, i, value, nonfinite); err != nil {
				return Run{}, errors.Wrapf(err, "store insert g2 bin %d", i)
			}
		}
	}

	if ts := data.Timestamps; ts != nil {
		times, err := json.Marshal(nonNil(ts.Times))
		if err != nil {
			return Run{}, errors.Wrap(err, "store marshal timestamps")
		}
		chans := make([]int, len(ts.Channels))
		for i, c := range ts.Channels {
			chans[i] = int(c)
		}
		channels, err := json.Marshal(chans)
		if err != nil {
			return Run{}, errors.Wrap(err, "store marshal channels")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_timestamps (run_id, times_json, channels_json, valid) VALUES (?,?,?,?)`,
			run.ID, string(times), string(channels), ts.Valid,
		); err != nil {
			return Run{}, errors.Wrap(err, "store insert timestamps")
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, errors.Wrap(err, "store commit")
	}
	run.Params = params
	return run, nil
}

const runColumns = `id, kind, sweep_id, created_at_ns, exposure_ms, coincidence_window_bins,
	window_ns, updates, data_lost, params_json, export_path, digest`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r         Run
		kind      string
		createdNs int64
		dataLost  int
		params    string
	)
	if err := row.Scan(
		&r.ID, &kind, &r.SweepID, &createdNs, &r.ExposureMs, &r.CoincidenceWindowBins,
		&r.WindowNs, &r.Updates, &dataLost, &params, &r.ExportPath, &r.Digest,
	); err != nil {
		return Run{}, err
	}
	r.Kind = Kind(kind)
	r.CreatedAt = time.Unix(0, createdNs).UTC()
	r.DataLost = dataLost != 0
	r.Params = json.RawMessage(params)
	return r, nil
}

// GetRun returns the metadata of one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.WithDetails(ErrNotFound, "id", id)
	}
	if err != nil {
		return Run{}, errors.Wrap(err, "store get run")
	}
	return r, nil
}

// ListFilter narrows ListRuns. Zero fields match everything.
type ListFilter struct {
	Kind    Kind
	SweepID string
	Limit   int
	Offset  int
}

// ListRuns returns runs newest first and the total number matching f.
func (s *Store) ListRuns(ctx context.Context, f ListFilter) ([]Run, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.SweepID != "" {
		where = append(where, "sweep_id = ?")
		args = append(args, f.SweepID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "store count runs")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := max(f.Offset, 0)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs`+clause+` ORDER BY created_at_ns DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "store list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "store scan run")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "store list runs")
	}
	return runs, total, nil
}

// RunCounters returns the coincidence counters of a run in index order.
func (s *Store) RunCounters(ctx context.Context, id string) ([]int64, error) {
	if err := s.ensureRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM run_counters WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, errors.Wrap(err, "store query counters")
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "store scan counter")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "store query counters")
}

// RunG2 returns the correlation bins of a run in bin order.
func (s *Store) RunG2(ctx context.Context, id string) ([]float64, error) {
	if err := s.ensureRun(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT value, nonfinite FROM run_g2 WHERE run_id = ? ORDER BY bin`, id)
	if err != nil {
		return nil, errors.Wrap(err, "store query g2")
	}
	defer rows.Close()
	out := []float64{}
	for rows.Next() {
		var (
			value     sql.NullFloat64
			nonfinite string
		)
		if err := rows.Scan(&value, &nonfinite); err != nil {
			return nil, errors.Wrap(err, "store scan g2")
		}
		out = append(out, decodeG2Value(value, nonfinite))
	}
	return out, errors.Wrap(rows.Err(), "store query g2")
}

// RunTimestamps returns the timestamp buffer stored with a run. A run stored
// without timestamps yields an empty buffer.
func (s *Store) RunTimestamps(ctx context.Context, id string) (device.Timestamps, error) {
	if err := s.ensureRun(ctx, id); err != nil {
		return device.Timestamps{}, err
	}
	var times, channels string
	var ts device.Timestamps
	err := s.db.QueryRowContext(ctx,
		`SELECT times_json, channels_json, valid FROM run_timestamps WHERE run_id = ?`, id,
	).Scan(&times, &channels, &ts.Valid)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Timestamps{Times: []int64{}, Channels: []int8{}}, nil
	}
	if err != nil {
		return ts, errors.Wrap(err, "store query timestamps")
	}
	if err := json.Unmarshal([]byte(times), &ts.Times); err != nil {
		return ts, errors.Wrap(err, "store decode timestamps")
	}
	var chans []int
	if err := json.Unmarshal([]byte(channels), &chans); err != nil {
		return ts, errors.Wrap(err, "store decode channels")
	}
	ts.Channels = make([]int8, len(chans))
	for i, c := range chans {
		ts.Channels[i] = int8(c)
	}
	return ts, nil
}

// DeleteRun removes a run and its data.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"run_counters", "run_g2", "run_timestamps"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return errors.Wrapf(err, "store delete %s", table)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "store delete run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "store delete run")
	}
	if n == 0 {
		return errors.WithDetails(ErrNotFound, "id", id)
	}
	return errors.Wrap(tx.Commit(), "store commit")
}

func (s *Store) ensureRun(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.WithDetails(ErrNotFound, "id", id)
	}
	return errors.Wrap(err, "store lookup run")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// encodeG2Value splits v into a REAL column and a marker for values SQLite
// cannot hold: NaN binds as NULL, so non-finite bins store NULL and a name.
func encodeG2Value(v float64) (sql.NullFloat64, string) {
	switch {
	case math.IsNaN(v):
		return sql.NullFloat64{}, "nan"
	case math.IsInf(v, 1):
		return sql.NullFloat64{}, "inf"
	case math.IsInf(v, -1):
		return sql.NullFloat64{}, "-inf"
	default:
		return sql.NullFloat64{Float64: v, Valid: true}, ""
	}
}

func decodeG2Value(value sql.NullFloat64, nonfinite string) float64 {
	switch nonfinite {
	case "inf":
		return math.Inf(1)
	case "-inf":
		return math.Inf(-1)
	}
	if !value.Valid {
		return math.NaN()
	}
	return value.Float64
}
