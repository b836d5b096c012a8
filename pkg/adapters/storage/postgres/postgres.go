package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store implements ports.VersionStore and ports.RunStore on PostgreSQL.
// Version allocation and publishing hold a row lock on the pipeline head;
// run updates hold a row lock on the run.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ ports.VersionStore = (*Store)(nil)
	_ ports.RunStore     = (*Store)(nil)
)

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStore(pool, logger), nil
}

// NewStore wraps an existing pool
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// migrationFiles returns the embedded migration names in apply order
func migrationFiles() ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies embedded migrations that have not run yet
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	names, err := migrationFiles()
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}

	for _, name := range names {
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		}); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		s.logger.Info("migration applied", zap.String("name", name))
	}
	return nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const versionColumns = `v.id, v.pipeline_id, v.version_number, v.status, v.spec, v.change_summary,
	v.created_by, v.created_at, v.updated_at, v.submitted_at, v.published_at, v.rejected_at,
	COALESCE(p.active_version_id = v.id, false)`

const versionFrom = `FROM pipeline_versions v JOIN pipelines p ON p.pipeline_id = v.pipeline_id`

func scanVersion(row rowScanner) (*domain.PipelineVersion, error) {
	var v domain.PipelineVersion
	var status string
	var spec []byte
	if err := row.Scan(&v.ID, &v.PipelineID, &v.VersionNumber, &status, &spec, &v.ChangeSummary,
		&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt, &v.SubmittedAt, &v.PublishedAt, &v.RejectedAt,
		&v.IsActive); err != nil {
		return nil, err
	}
	v.Status = domain.VersionStatus(status)
	if err := json.Unmarshal(spec, &v.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
	}
	return &v, nil
}

// lockHead creates the pipeline head row if needed and locks it
func lockHead(ctx context.Context, tx pgx.Tx, pipelineID string) (lastNumber int, activeID *string, err error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO pipelines (pipeline_id) VALUES ($1) ON CONFLICT (pipeline_id) DO NOTHING`,
		pipelineID); err != nil {
		return 0, nil, fmt.Errorf("failed to create pipeline head: %w", err)
	}
	if err := tx.QueryRow(ctx,
		`SELECT last_version_number, active_version_id FROM pipelines WHERE pipeline_id = $1 FOR UPDATE`,
		pipelineID).Scan(&lastNumber, &activeID); err != nil {
		return 0, nil, fmt.Errorf("failed to lock pipeline head: %w", err)
	}
	return lastNumber, activeID, nil
}

// CreateVersion allocates the next version number under the head row lock
func (s *Store) CreateVersion(ctx context.Context, v *domain.PipelineVersion) (*domain.PipelineVersion, error) {
	stored := v.Clone()
	stored.ID = uuid.New().String()
	stored.IsActive = false

	spec, err := json.Marshal(stored.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spec: %w", err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		last, _, err := lockHead(ctx, tx, stored.PipelineID)
		if err != nil {
			return err
		}

		now := s.now()
		stored.VersionNumber = last + 1
		stored.CreatedAt = now
		stored.UpdatedAt = now

		if _, err := tx.Exec(ctx,
			`UPDATE pipelines SET last_version_number = $2 WHERE pipeline_id = $1`,
			stored.PipelineID, stored.VersionNumber); err != nil {
			return fmt.Errorf("failed to advance version counter: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO pipeline_versions
			   (id, pipeline_id, version_number, status, spec, change_summary, created_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			stored.ID, stored.PipelineID, stored.VersionNumber, string(stored.Status), spec,
			stored.ChangeSummary, stored.CreatedBy, stored.CreatedAt, stored.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}
	return stored, nil
}

// GetVersion returns a version by id
func (s *Store) GetVersion(ctx context.Context, id string) (*domain.PipelineVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` `+versionFrom+` WHERE v.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// ListVersions returns a pipeline's versions in version number order
func (s *Store) ListVersions(ctx context.Context, pipelineID string) ([]*domain.PipelineVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+versionColumns+` `+versionFrom+` WHERE v.pipeline_id = $1 ORDER BY v.version_number`,
		pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.PipelineVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return out, nil
}

// UpdateVersion applies fn under the owning pipeline's head lock
func (s *Store) UpdateVersion(ctx context.Context, id string, fn ports.VersionMutation) (*domain.PipelineVersion, error) {
	return s.mutateVersion(ctx, id, fn, false)
}

// PublishVersion applies fn and moves the active pointer in one transaction
func (s *Store) PublishVersion(ctx context.Context, id string, fn ports.VersionMutation) (*domain.PipelineVersion, error) {
	return s.mutateVersion(ctx, id, fn, true)
}

func (s *Store) mutateVersion(ctx context.Context, id string, fn ports.VersionMutation, activate bool) (*domain.PipelineVersion, error) {
	var result *domain.PipelineVersion

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var pipelineID string
		if err := tx.QueryRow(ctx,
			`SELECT pipeline_id FROM pipeline_versions WHERE id = $1`, id,
		).Scan(&pipelineID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
			}
			return fmt.Errorf("failed to get version: %w", err)
		}
		if _, _, err := lockHead(ctx, tx, pipelineID); err != nil {
			return err
		}

		next, err := scanVersion(tx.QueryRow(ctx,
			`SELECT `+versionColumns+` `+versionFrom+` WHERE v.id = $1`, id))
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		if err := fn(next); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE pipeline_versions
			    SET status = $2, change_summary = $3, updated_at = $4,
			        submitted_at = $5, published_at = $6, rejected_at = $7
			  WHERE id = $1`,
			id, string(next.Status), next.ChangeSummary, next.UpdatedAt,
			next.SubmittedAt, next.PublishedAt, next.RejectedAt); err != nil {
			return fmt.Errorf("failed to update version: %w", err)
		}
		if activate {
			if _, err := tx.Exec(ctx,
				`UPDATE pipelines SET active_version_id = $2 WHERE pipeline_id = $1`,
				pipelineID, id); err != nil {
				return fmt.Errorf("failed to move active pointer: %w", err)
			}
			next.IsActive = true
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ActiveVersion returns the version named by the pipeline's active pointer
func (s *Store) ActiveVersion(ctx context.Context, pipelineID string) (*domain.PipelineVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` `+versionFrom+` WHERE p.pipeline_id = $1 AND v.id = p.active_version_id`,
		pipelineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: pipeline %s", domain.ErrNoPublishedVersion, pipelineID)
		}
		return nil, fmt.Errorf("failed to get active version: %w", err)
	}
	return v, nil
}

// CreateRun stores a new run
func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, pipeline_id, pipeline_version_id, status, created_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.PipelineID, run.PipelineVersionID, string(run.Status), run.CreatedAt, record)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("run already exists: %s", run.ID)
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var record []byte
	if err := row.Scan(&record); err != nil {
		return nil, err
	}
	var r domain.Run
	if err := json.Unmarshal(record, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &r, nil
}

// GetRun returns a run by id
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT record FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs matching filter, newest first
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM runs
		  WHERE ($1 = '' OR pipeline_id = $1)
		    AND ($2 = '' OR status = $2)
		  ORDER BY created_at DESC, id DESC
		  LIMIT NULLIF($3, 0)`,
		filter.PipelineID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// UpdateRun applies fn while holding the run's row lock
func (s *Store) UpdateRun(ctx context.Context, id string, fn ports.RunMutation) (*domain.Run, error) {
	var result *domain.Run

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		next, err := scanRun(tx.QueryRow(ctx, `SELECT record FROM runs WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
			}
			return fmt.Errorf("failed to get run: %w", err)
		}
		if err := fn(next); err != nil {
			return err
		}

		record, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE runs SET status = $2, record = $3 WHERE id = $1`,
			id, string(next.Status), record); err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
