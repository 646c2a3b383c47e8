package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("evaluation not found")
	ErrNotClaimable = errors.New("evaluation is not queued")
)

const columns = `id, kind, status, rubric_name, workflow_name, request, result, trace_ref, error, created_at, updated_at`

type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo { return &Repo{db: db} }

func (r *Repo) DB() *sqlx.DB { return r.db }

// Create inserts e, stamping both timestamps.
func (r *Repo) Create(ctx context.Context, e *Evaluation) error {
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO evaluations (`+columns+`)
		VALUES (:id, :kind, :status, :rubric_name, :workflow_name, :request, :result, :trace_ref, :error, :created_at, :updated_at)`, e)
	if err != nil {
		return fmt.Errorf("insert evaluation %s: %w", e.ID, err)
	}
	return nil
}

// Claim moves a queued evaluation to running. It fails with
// ErrNotClaimable when another worker got there first.
func (r *Repo) Claim(ctx context.Context, id string) (*Evaluation, error) {
	var e Evaluation
	err := WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &e, tx.Rebind(`SELECT `+columns+` FROM evaluations WHERE id = ?`), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if e.Status != StatusQueued {
			return ErrNotClaimable
		}
		e.Status = StatusRunning
		e.UpdatedAt = time.Now().UTC()
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE evaluations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
			e.Status, e.UpdatedAt, id, StatusQueued)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim evaluation %s: %w", id, err)
	}
	return &e, nil
}

// Finish records the final status with its result document, archived
// trace reference and error message. Empty strings are stored as NULL.
func (r *Repo) Finish(ctx context.Context, id string, status string, result []byte, traceRef, errMsg string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE evaluations SET status = ?, result = ?, trace_ref = ?, error = ?, updated_at = ?
		WHERE id = ?`),
		status, nullString(string(result)), nullString(traceRef), nullString(errMsg), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish evaluation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish evaluation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Evaluation, error) {
	var e Evaluation
	err := r.db.GetContext(ctx, &e, r.db.Rebind(`SELECT `+columns+` FROM evaluations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation %s: %w", id, err)
	}
	return &e, nil
}

// Recent returns the newest evaluations first.
func (r *Repo) Recent(ctx context.Context, limit int) ([]Evaluation, error) {
	out := []Evaluation{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`SELECT `+columns+` FROM evaluations ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
