// Package store persists test runs and their evaluations in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/timvw/prompt-tracker/internal/model"
)

// ErrNotFound is returned when a test run does not exist.
var ErrNotFound = errors.New("test run not found")

// Store is a SQLite-backed test run repository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open test run db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate test run db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const runColumns = `id, test_name, prompt_slug, version_number, dataset_row_id, status, passed, score,
	error_message, metadata, messages, rendered_system_prompt, rendered_user_prompt, usage,
	model, provider, execution_time_ms, created_at, completed_at`

// CreateTestRun inserts run, assigning an id when it has none.
func (s *Store) CreateTestRun(ctx context.Context, run *model.TestRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO test_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{run.ID}, args...)...,
	)
	if err != nil {
		return fmt.Errorf("insert test run: %w", err)
	}
	return nil
}

// UpdateTestRun writes every column of run except its id.
func (s *Store) UpdateTestRun(ctx context.Context, run *model.TestRun) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE test_runs SET
		test_name = ?, prompt_slug = ?, version_number = ?, dataset_row_id = ?, status = ?, passed = ?,
		score = ?, error_message = ?, metadata = ?, messages = ?, rendered_system_prompt = ?,
		rendered_user_prompt = ?, usage = ?, model = ?, provider = ?, execution_time_ms = ?,
		created_at = ?, completed_at = ?
		WHERE id = ?`,
		append(args, run.ID)...,
	)
	if err != nil {
		return fmt.Errorf("update test run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update test run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// runArgs returns the column values of run after id, in runColumns order.
func runArgs(run *model.TestRun) ([]any, error) {
	metadata, err := json.Marshal(orEmptyMap(run.Metadata))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	messages := run.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	usage, err := json.Marshal(run.Usage)
	if err != nil {
		return nil, fmt.Errorf("encode usage: %w", err)
	}

	var passed sql.NullBool
	if run.Passed != nil {
		passed = sql.NullBool{Bool: *run.Passed, Valid: true}
	}
	var score sql.NullFloat64
	if run.Score != nil {
		score = sql.NullFloat64{Float64: *run.Score, Valid: true}
	}
	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*run.CompletedAt), Valid: true}
	}

	return []any{
		run.TestName, run.PromptSlug, run.VersionNumber, run.DatasetRowID, run.Status, passed, score,
		run.ErrorMessage, string(metadata), string(messagesJSON), run.RenderedSystemPrompt,
		run.RenderedUserPrompt, string(usage), run.Model, run.Provider, run.ExecutionTimeMs,
		formatTime(run.CreatedAt), completed,
	}, nil
}

// AddEvaluations inserts evals for the run, filling in ids, the run id and
// creation times.
func (s *Store) AddEvaluations(ctx context.Context, runID string, evals []model.Evaluation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range evals {
		e := &evals[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.TestRunID = runID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		metadata, err := json.Marshal(orEmptyMap(e.Metadata))
		if err != nil {
			return fmt.Errorf("encode evaluation metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO evaluations (id, test_run_id, evaluator_key, score, passed, feedback, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, runID, e.EvaluatorKey, e.Score, e.Passed, e.Feedback, string(metadata), formatTime(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert evaluation %q: %w", e.EvaluatorKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetTestRun returns the run with its evaluations.
func (s *Store) GetTestRun(ctx context.Context, id string) (*model.TestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	evals, err := s.evaluations(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Evaluations = evals
	return run, nil
}

func (s *Store) evaluations(ctx context.Context, runID string) ([]model.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_run_id, evaluator_key, score, passed, feedback, metadata, created_at
		 FROM evaluations WHERE test_run_id = ? ORDER BY created_at, evaluator_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var out []model.Evaluation
	for rows.Next() {
		var (
			e        model.Evaluation
			metadata string
			created  string
		)
		if err := rows.Scan(&e.ID, &e.TestRunID, &e.EvaluatorKey, &e.Score, &e.Passed, &e.Feedback, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode evaluation metadata: %w", err)
		}
		if len(e.Metadata) == 0 {
			e.Metadata = nil
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Filter selects test runs. Zero fields match everything.
type Filter struct {
	TestName string
	Status   string
	// Limit caps the number of runs; 0 means 50.
	Limit int
}

// ListTestRuns returns matching runs, newest first, without evaluations.
func (s *Store) ListTestRuns(ctx context.Context, f Filter) ([]model.TestRun, error) {
	var (
		where []string
		args  []any
	)
	if f.TestName != "" {
		where = append(where, "test_name = ?")
		args = append(args, f.TestName)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM test_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query test runs: %w", err)
	}
	defer rows.Close()

	var out []model.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// Stats summarizes the finished runs of a test.
type Stats struct {
	TestName string `json:"test_name,omitempty"`
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Errored  int    `json:"errored"`
	// InFlight counts pending and running runs.
	InFlight int `json:"in_flight"`
	// PassRate is the percentage of finished runs that passed.
	PassRate float64 `json:"pass_rate"`
	// AvgScore is the mean score of scored runs; nil when none were scored.
	AvgScore *float64 `json:"avg_score,omitempty"`
}

// Stats computes run statistics for testName, or for all tests when empty.
func (s *Store) Stats(ctx context.Context, testName string) (Stats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(status = 'passed'), 0),
		COALESCE(SUM(status = 'failed'), 0),
		COALESCE(SUM(status = 'error'), 0),
		COALESCE(SUM(status IN ('pending', 'running')), 0),
		AVG(score)
		FROM test_runs`
	var args []any
	if testName != "" {
		query += " WHERE test_name = ?"
		args = append(args, testName)
	}

	st := Stats{TestName: testName}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Total, &st.Passed, &st.Failed, &st.Errored, &st.InFlight, &avg); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if finished := st.Passed + st.Failed + st.Errored; finished > 0 {
		st.PassRate = 100 * float64(st.Passed) / float64(finished)
	}
	if avg.Valid {
		st.AvgScore = &avg.Float64
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.TestRun, error) {
	var (
		run       model.TestRun
		passed    sql.NullBool
		score     sql.NullFloat64
		metadata  string
		messages  string
		usage     string
		created   string
		completed sql.NullString
	)
	err := row.Scan(&run.ID, &run.TestName, &run.PromptSlug, &run.VersionNumber, &run.DatasetRowID, &run.Status,
		&passed, &score, &run.ErrorMessage, &metadata, &messages, &run.RenderedSystemPrompt,
		&run.RenderedUserPrompt, &usage, &run.Model, &run.Provider, &run.ExecutionTimeMs, &created, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan test run: %w", err)
	}

	if passed.Valid {
		run.Passed = &passed.Bool
	}
	if score.Valid {
		run.Score = &score.Float64
	}
	if err := json.Unmarshal([]byte(metadata), &run.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(messages), &run.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of run %s: %w", run.ID, err)
	}
	if len(run.Messages) == 0 {
		run.Messages = nil
	}
	if err := json.Unmarshal([]byte(usage), &run.Usage); err != nil {
		return nil, fmt.Errorf("decode usage of run %s: %w", run.ID, err)
	}
	run.CreatedAt = parseTime(created)
	if completed.Valid {
		t := parseTime(completed.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
