package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection that records datasets and training runs.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			records INT NOT NULL,
			labels TEXT[] NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS training_runs (
			id BIGSERIAL PRIMARY KEY,
			training_dataset TEXT NOT NULL,
			test_dataset TEXT NOT NULL,
			max_steps INT NOT NULL,
			learn_rate DOUBLE PRECISION NOT NULL,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			train_accuracy DOUBLE PRECISION,
			test_accuracy DOUBLE PRECISION
		);
		CREATE TABLE IF NOT EXISTS training_summaries (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT REFERENCES training_runs(id) ON DELETE CASCADE,
			scope TEXT NOT NULL,
			step INT NOT NULL,
			tag TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT REFERENCES training_runs(id) ON DELETE CASCADE,
			step INT NOT NULL,
			image_path TEXT NOT NULL,
			label TEXT NOT NULL,
			predicted INT NOT NULL,
			correct BOOLEAN NOT NULL
		);
		CREATE INDEX IF NOT EXISTS training_summaries_run_id_idx ON training_summaries (run_id);
		CREATE INDEX IF NOT EXISTS predictions_run_id_idx ON predictions (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureDataset registers a preprocessed dataset. If it exists, it refreshes the metadata.
func (s *Store) EnsureDataset(ctx context.Context, id, path string, records int, labels []string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO datasets (id, path, records, labels, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path,
			records = EXCLUDED.records, labels = EXCLUDED.labels
	`, id, path, records, labels)
	return err
}

// CreateRun opens a training run and returns its ID.
func (s *Store) CreateRun(ctx context.Context, trainingPath, testPath string, maxSteps int, learnRate float64) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO training_runs (training_dataset, test_dataset, max_steps, learn_rate)
		VALUES ($1, $2, $3, $4) RETURNING id
	`, trainingPath, testPath, maxSteps, learnRate).Scan(&id)
	return id, err
}

// InsertScalar saves one monitoring value of a run.
func (s *Store) InsertScalar(ctx context.Context, runID int64, scope string, step int, tag string, value float64) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO training_summaries (run_id, scope, step, tag, value)
		VALUES ($1, $2, $3, $4, $5)
	`, runID, scope, step, tag, value)
	return err
}

// InsertPrediction saves the outcome of one evaluated image.
func (s *Store) InsertPrediction(ctx context.Context, runID int64, step int, path, label string, predicted int, correct bool) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO predictions (run_id, step, image_path, label, predicted, correct)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, runID, step, path, label, predicted, correct)
	return err
}

// FinishRun stores the final accuracies of a run.
func (s *Store) FinishRun(ctx context.Context, runID int64, trainAccuracy, testAccuracy float64) error {
	_, err := s.conn.Exec(ctx, `
		UPDATE training_runs SET finished_at = NOW(), train_accuracy = $2, test_accuracy = $3
		WHERE id = $1
	`, runID, trainAccuracy, testAccuracy)
	return err
}

// Run is a row of training_runs.
type Run struct {
	ID            int64
	Training      string
	Test          string
	MaxSteps      int
	LearnRate     float64
	StartedAt     time.Time
	FinishedAt    *time.Time
	TrainAccuracy *float64
	TestAccuracy  *float64
	Predictions   int
}

// ListRuns returns every training run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id, r.training_dataset, r.test_dataset, r.max_steps, r.learn_rate,
			r.started_at, r.finished_at, r.train_accuracy, r.test_accuracy,
			(SELECT COUNT(*) FROM predictions p WHERE p.run_id = r.id)
		FROM training_runs r
		ORDER BY r.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Training, &r.Test, &r.MaxSteps, &r.LearnRate,
			&r.StartedAt, &r.FinishedAt, &r.TrainAccuracy, &r.TestAccuracy, &r.Predictions); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS predictions CASCADE;
		DROP TABLE IF EXISTS training_summaries CASCADE;
		DROP TABLE IF EXISTS training_runs CASCADE;
		DROP TABLE IF EXISTS datasets CASCADE;
	`)
	return err
}

// RunSink records summary scalars against one run.
type RunSink struct {
	Store *Store
	RunID int64
}

func (r RunSink) Scalar(ctx context.Context, scope string, step int, tag string, value float64) error {
	return r.Store.InsertScalar(ctx, r.RunID, scope, step, tag, value)
}
