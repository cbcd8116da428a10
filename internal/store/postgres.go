package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/vulnscan/internal/errors"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"-"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full prefer allow"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// DSN builds a lib/pq key=value connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Connect opens and verifies a PostgreSQL connection pool.
// Returned errors never include the DSN.
func Connect(ctx context.Context, config *Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN())
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}
	return db, nil
}

// sanitizeDBError converts raw database errors into errors that don't
// expose SQL details to API clients. The original error is kept as Cause.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var dbErr *errors.DatabaseError
	var pqErr *pq.Error
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		dbErr = errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	case stderrors.Is(err, context.Canceled):
		dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
	case stderrors.Is(err, context.DeadlineExceeded):
		dbErr = errors.NewDatabaseError(errors.CodeTimeout, "Database operation timed out")
	case stderrors.As(err, &pqErr):
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
		case "23502", "23514": // not_null_violation, check_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01", "08000", "08003", "08006": // admin_shutdown, connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery,
				fmt.Sprintf("Database operation failed: %s", operation))
		}
	default:
		dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery,
			fmt.Sprintf("Database operation failed: %s", operation))
	}

	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open connection pool. Run the Migrator first.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

const jobColumns = `id, target, label, status, COALESCE(error_message, '') AS error_message,
	created_at, started_at, ended_at`

const findingColumns = `id, job_id, port, protocol, service, version, name, description,
	remediation, severity, cve_id, detected_at`

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new job.
func (p *Postgres) Create(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO scan_jobs (id, target, label, status, error_message, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := p.db.ExecContext(ctx, query,
		job.ID, job.Target, job.Label, job.Status, nullIfEmpty(job.Error),
		job.CreatedAt, job.StartedAt, job.EndedAt)
	if err != nil {
		sanitized := sanitizeDBError("create scan job", err)
		if errors.IsCode(sanitized, errors.CodeConflict) {
			return errJobExists(job.ID)
		}
		return sanitized
	}
	return nil
}

// Get returns the job with its findings.
func (p *Postgres) Get(ctx context.Context, id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrJobNotFound(id)
	}

	var job Job
	query := `SELECT ` + jobColumns + ` FROM scan_jobs WHERE id = $1`
	if err := p.db.GetContext(ctx, &job, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrJobNotFound(id)
		}
		return nil, sanitizeDBError("get scan job", err)
	}

	findings, err := p.findingsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	job.Findings = findings[id]
	return &job, nil
}

// List returns all jobs, newest first.
func (p *Postgres) List(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	query := `SELECT ` + jobColumns + ` FROM scan_jobs ORDER BY created_at DESC, seq DESC`
	if err := p.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, sanitizeDBError("list scan jobs", err)
	}
	if len(jobs) == 0 {
		return jobs, nil
	}

	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	findings, err := p.findingsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		job.Findings = findings[job.ID]
	}
	return jobs, nil
}

func (p *Postgres) findingsFor(ctx context.Context, ids []string) (map[string][]Finding, error) {
	var rows []Finding
	query := `SELECT ` + findingColumns + ` FROM scan_findings
		WHERE job_id = ANY($1::uuid[]) ORDER BY detected_at, port`
	if err := p.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, sanitizeDBError("list scan findings", err)
	}

	byJob := make(map[string][]Finding, len(ids))
	for _, f := range rows {
		byJob[f.JobID] = append(byJob[f.JobID], f)
	}
	return byJob, nil
}

// Update locks the job row, applies mutate and writes the mutable fields.
func (p *Postgres) Update(ctx context.Context, id string, mutate Mutator) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.ErrJobNotFound(id)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var job Job
	query := `SELECT ` + jobColumns + ` FROM scan_jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &job, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.ErrJobNotFound(id)
		}
		return sanitizeDBError("lock scan job", err)
	}

	if err := mutate(&job); err != nil {
		return err
	}

	update := `
		UPDATE scan_jobs
		SET status = $1, started_at = $2, ended_at = $3, error_message = $4
		WHERE id = $5`
	if _, err := tx.ExecContext(ctx, update,
		job.Status, job.StartedAt, job.EndedAt, nullIfEmpty(job.Error), id); err != nil {
		return sanitizeDBError("update scan job", err)
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit transaction", err)
	}
	return nil
}

// AppendFindings adds findings to a running job in one transaction.
func (p *Postgres) AppendFindings(ctx context.Context, id string, findings ...Finding) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.ErrJobNotFound(id)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status Status
	if err := tx.GetContext(ctx, &status, `SELECT status FROM scan_jobs WHERE id = $1 FOR SHARE`, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.ErrJobNotFound(id)
		}
		return sanitizeDBError("lock scan job", err)
	}
	if status != StatusRunning {
		return errNotRunning(id, status)
	}

	insert := `
		INSERT INTO scan_findings (` + findingColumns + `)
		VALUES (:id, :job_id, :port, :protocol, :service, :version, :name, :description,
			:remediation, :severity, :cve_id, :detected_at)`
	for i := range findings {
		f := findings[i]
		f.JobID = id
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if _, err := tx.NamedExecContext(ctx, insert, f); err != nil {
			return sanitizeDBError("insert scan finding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit transaction", err)
	}
	return nil
}

// DeleteFinishedBefore removes terminal jobs that ended before cutoff.
// Findings are removed by the foreign key cascade.
func (p *Postgres) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM scan_jobs
		WHERE status IN ('completed', 'failed', 'aborted') AND ended_at < $1`

	res, err := p.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, sanitizeDBError("delete finished scan jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sanitizeDBError("get rows affected", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return sanitizeDBError("ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
