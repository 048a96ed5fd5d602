package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/snipebot/service/metrics"
)

// Program statuses.
const (
	ProgramStatusActive = "active"
	ProgramStatusPaused = "paused"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// Metrics may be nil, in which case query metrics are not recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// recordQuery records query duration and outcome for an operation.
func (s *Store) recordQuery(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Program represents a watched Solana program in our system.
type Program struct {
	ProgramID    string
	Label        *string // optional human-readable name
	PollInterval time.Duration
	Status       string // "active" or "paused"
	LastPolledAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateProgramParams contains the parameters for registering a program.
type CreateProgramParams struct {
	ProgramID    string
	Label        *string
	PollInterval time.Duration
}

// CreateProgram registers a program for watching. Registration is an
// upsert: re-registering an existing program updates its label and
// poll interval and reactivates it.
func (s *Store) CreateProgram(ctx context.Context, params CreateProgramParams) (*Program, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO programs (program_id, label, poll_interval_seconds, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (program_id) DO UPDATE SET
			label = EXCLUDED.label,
			poll_interval_seconds = EXCLUDED.poll_interval_seconds,
			status = 'active',
			updated_at = now()
		RETURNING program_id, label, poll_interval_seconds, status, last_polled_at, created_at, updated_at
	`, params.ProgramID, params.Label, int64(params.PollInterval.Seconds()))

	p, err := scanProgram(row)
	s.recordQuery("create_program", "programs", start, err)
	return p, err
}

// GetProgram retrieves a program by its on-chain address.
// Returns pgx.ErrNoRows if the program is not registered.
func (s *Store) GetProgram(ctx context.Context, programID string) (*Program, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		SELECT program_id, label, poll_interval_seconds, status, last_polled_at, created_at, updated_at
		FROM programs
		WHERE program_id = $1
	`, programID)

	p, err := scanProgram(row)
	s.recordQuery("get_program", "programs", start, err)
	return p, err
}

// ListPrograms retrieves all registered programs, most recently
// registered first.
func (s *Store) ListPrograms(ctx context.Context) ([]*Program, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT program_id, label, poll_interval_seconds, status, last_polled_at, created_at, updated_at
		FROM programs
		ORDER BY created_at DESC
	`)
	if err != nil {
		s.recordQuery("list_programs", "programs", start, err)
		return nil, err
	}
	defer rows.Close()

	programs, err := scanPrograms(rows)
	s.recordQuery("list_programs", "programs", start, err)
	return programs, err
}

// ListActivePrograms retrieves programs that should currently be
// watched and polled.
func (s *Store) ListActivePrograms(ctx context.Context) ([]*Program, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT program_id, label, poll_interval_seconds, status, last_polled_at, created_at, updated_at
		FROM programs
		WHERE status = 'active'
		ORDER BY created_at DESC
	`)
	if err != nil {
		s.recordQuery("list_active_programs", "programs", start, err)
		return nil, err
	}
	defer rows.Close()

	programs, err := scanPrograms(rows)
	s.recordQuery("list_active_programs", "programs", start, err)
	return programs, err
}

// UpdateProgramPollTime records when a program was last polled.
func (s *Store) UpdateProgramPollTime(ctx context.Context, programID string, polledAt time.Time) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		UPDATE programs SET last_polled_at = $2, updated_at = now()
		WHERE program_id = $1
	`, programID, polledAt)
	s.recordQuery("update_program_poll_time", "programs", start, err)
	return err
}

// UpdateProgramStatus sets a program's status ("active" or "paused").
func (s *Store) UpdateProgramStatus(ctx context.Context, programID string, status string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		UPDATE programs SET status = $2, updated_at = now()
		WHERE program_id = $1
	`, programID, status)
	s.recordQuery("update_program_status", "programs", start, err)
	return err
}

// DeleteProgram removes a program and all of its stored account
// updates.
func (s *Store) DeleteProgram(ctx context.Context, programID string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `DELETE FROM programs WHERE program_id = $1`, programID)
	s.recordQuery("delete_program", "programs", start, err)
	return err
}

// ProgramExists reports whether a program is registered.
func (s *Store) ProgramExists(ctx context.Context, programID string) (bool, error) {
	start := time.Now()
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM programs WHERE program_id = $1)
	`, programID).Scan(&exists)
	s.recordQuery("program_exists", "programs", start, err)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (*Program, error) {
	var (
		p           Program
		intervalSec int64
	)
	err := row.Scan(&p.ProgramID, &p.Label, &intervalSec, &p.Status, &p.LastPolledAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.PollInterval = time.Duration(intervalSec) * time.Second
	return &p, nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPrograms(rows rowsScanner) ([]*Program, error) {
	var programs []*Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}
