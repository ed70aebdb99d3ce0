package taskdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/zkrelay/internal/domain"
)

// ErrRetriesExhausted is returned by Fail once a task has used its last
// retry; the caller treats this as a fatal TaskDbError for the job.
var ErrRetriesExhausted = errors.New("taskdb: retries exhausted")

// PostgresTaskDB implements TaskDB on top of a pgx pool. Tasks and their
// prerequisite edges are stored as normal rows, not JSONB blobs, because
// the claim query needs to join and lock them; the task payload itself
// (a Prove/Join/Resolve/Finalize/Snark/Keccak body) is opaque JSONB.
type PostgresTaskDB struct {
	pool *pgxpool.Pool
}

// NewPostgresTaskDB opens a pool against dsn and ensures the schema exists.
func NewPostgresTaskDB(ctx context.Context, dsn string, maxConns int32) (*PostgresTaskDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("taskdb: postgres DSN is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("taskdb: parse DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("taskdb: create pool: %w", err)
	}

	db := &PostgresTaskDB{pool: pool}
	if err := db.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("taskdb: ping: %w", err)
	}
	if err := db.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *PostgresTaskDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresTaskDB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS epp_tasks (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			name TEXT NOT NULL,
			stream TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			unresolved_deps INTEGER NOT NULL DEFAULT 0,
			attempt INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			lease_owner TEXT,
			lease_expires_at TIMESTAMPTZ,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(job_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_epp_tasks_claim ON epp_tasks(stream, status, lease_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_epp_tasks_job ON epp_tasks(job_id)`,
		`CREATE TABLE IF NOT EXISTS epp_task_deps (
			task_id TEXT NOT NULL REFERENCES epp_tasks(id) ON DELETE CASCADE,
			prereq_name TEXT NOT NULL,
			job_id TEXT NOT NULL,
			PRIMARY KEY (task_id, prereq_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_epp_task_deps_prereq ON epp_task_deps(job_id, prereq_name)`,
	}
	for _, s := range stmts {
		if _, err := db.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("taskdb: ensure schema: %w", err)
		}
	}
	return nil
}

// CreateTask inserts t and its prerequisite edges in one transaction.
// Prerequisites already 'done' at insert time (a worker can finish a
// segment task before the Planner Feeder creates its join) are not
// counted as unresolved, so a task with none outstanding starts ready.
func (db *PostgresTaskDB) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	id := uuid.New().String()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("taskdb: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	unresolved := len(t.Prereqs)
	if unresolved > 0 {
		var done int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM epp_tasks WHERE job_id = $1 AND name = ANY($2) AND status = 'done'`,
			t.JobID, t.Prereqs).Scan(&done); err != nil {
			return "", fmt.Errorf("taskdb: count done prereqs: %w", err)
		}
		unresolved -= done
	}
	status := StatusPending
	if unresolved <= 0 {
		status = StatusReady
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO epp_tasks (id, job_id, name, stream, payload, status, unresolved_deps, max_retries)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, t.JobID, t.Name, string(t.Stream), []byte(t.Payload), string(status), unresolved, t.Retries)
	if err != nil {
		return "", fmt.Errorf("taskdb: insert task: %w", err)
	}

	for _, p := range t.Prereqs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO epp_task_deps (task_id, prereq_name, job_id) VALUES ($1, $2, $3)`,
			id, p, t.JobID); err != nil {
			return "", fmt.Errorf("taskdb: insert dep: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("taskdb: commit: %w", err)
	}
	return id, nil
}

// Claim atomically claims one ready or lease-expired task on stream.
func (db *PostgresTaskDB) Claim(ctx context.Context, stream domain.Stream, leaseOwner string, leaseDuration time.Duration) (*Record, error) {
	now := time.Now().UTC()
	leaseExpires := now.Add(leaseDuration)

	r := &Record{}
	var status string
	err := db.pool.QueryRow(ctx,
		`WITH candidate AS (
			SELECT id FROM epp_tasks
			WHERE stream = $1
			  AND (status = 'ready' OR (status = 'running' AND lease_expires_at < $4))
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		),
		updated AS (
			UPDATE epp_tasks t
			SET status = 'running', lease_owner = $2, lease_expires_at = $3, attempt = t.attempt + 1
			FROM candidate c
			WHERE t.id = c.id
			RETURNING t.id, t.job_id, t.name, t.stream, t.payload, t.status, t.unresolved_deps,
			          t.attempt, t.max_retries, t.lease_owner, t.lease_expires_at, t.created_at
		)
		SELECT id, job_id, name, stream, payload, status, unresolved_deps, attempt, max_retries,
		       COALESCE(lease_owner, ''), lease_expires_at, created_at
		FROM updated`,
		string(stream), leaseOwner, leaseExpires, now).
		Scan(&r.ID, &r.JobID, &r.Name, &r.Stream, &r.Payload, &status, &r.UnresolvedDeps,
			&r.Attempt, &r.MaxRetries, &r.LeaseOwner, &r.LeaseExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskdb: claim: %w", err)
	}
	r.Status = Status(status)
	return r, nil
}

// Complete marks taskID done and promotes dependents whose last
// prerequisite just resolved.
func (db *PostgresTaskDB) Complete(ctx context.Context, taskID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("taskdb: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var jobID, name string
	err = tx.QueryRow(ctx, `UPDATE epp_tasks SET status = 'done' WHERE id = $1 RETURNING job_id, name`, taskID).
		Scan(&jobID, &name)
	if err != nil {
		return fmt.Errorf("taskdb: complete: %w", err)
	}

	var dependents []string
	rows, err := tx.Query(ctx, `SELECT task_id FROM epp_task_deps WHERE job_id = $1 AND prereq_name = $2`, jobID, name)
	if err != nil {
		return fmt.Errorf("taskdb: list dependents: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("taskdb: scan dependent: %w", err)
		}
		dependents = append(dependents, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range dependents {
		if _, err := tx.Exec(ctx,
			`UPDATE epp_tasks
			 SET unresolved_deps = unresolved_deps - 1,
			     status = CASE WHEN unresolved_deps - 1 <= 0 THEN 'ready' ELSE status END
			 WHERE id = $1 AND status = 'pending'`, id); err != nil {
			return fmt.Errorf("taskdb: decrement dep: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Fail records a failed attempt, requeuing the task if retries remain.
func (db *PostgresTaskDB) Fail(ctx context.Context, taskID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var attempt, maxRetries int
	err := db.pool.QueryRow(ctx, `SELECT attempt, max_retries FROM epp_tasks WHERE id = $1`, taskID).
		Scan(&attempt, &maxRetries)
	if err != nil {
		return fmt.Errorf("taskdb: load for fail: %w", err)
	}

	if attempt > maxRetries {
		_, err := db.pool.Exec(ctx,
			`UPDATE epp_tasks SET status = 'failed', error_message = $2 WHERE id = $1`, taskID, msg)
		if err != nil {
			return fmt.Errorf("taskdb: mark failed: %w", err)
		}
		return ErrRetriesExhausted
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE epp_tasks SET status = 'ready', lease_owner = NULL, lease_expires_at = NULL, error_message = $2
		 WHERE id = $1`, taskID, msg)
	if err != nil {
		return fmt.Errorf("taskdb: requeue: %w", err)
	}
	return nil
}

// JobTasks returns every task recorded for jobID, ordered by creation.
func (db *PostgresTaskDB) JobTasks(ctx context.Context, jobID string) ([]Record, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, name, stream, payload, status, unresolved_deps, attempt, max_retries,
		        COALESCE(lease_owner, ''), COALESCE(lease_expires_at, 'epoch'::timestamptz), created_at
		 FROM epp_tasks WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("taskdb: job tasks: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.ID, &r.JobID, &r.Name, &r.Stream, &r.Payload, &status, &r.UnresolvedDeps,
			&r.Attempt, &r.MaxRetries, &r.LeaseOwner, &r.LeaseExpiresAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("taskdb: scan job task: %w", err)
		}
		r.Status = Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
