package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"webpanel-gate/internal/mfa/domain"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a verification repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the record. The row is kept until purge_after, which Sweep enforces.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record, retention time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_verifications (token, username, code_hash, status, client_ip, created_at, purge_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Token, rec.Username, rec.CodeHash, string(rec.Status), rec.ClientIP, rec.CreatedAt, rec.CreatedAt.Add(retention),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetByToken returns the record for token, or nil if not found or past retention.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, username, code_hash, status, client_ip, created_at, resolved_by, resolved_at, attempts
		FROM mfa_verifications
		WHERE token = $1 AND purge_after > now()`, token)
	return scanRecord(row)
}

// FindPending returns the newest pending record for (username, codeHash) created at or after notBefore.
func (r *PostgresRepository) FindPending(ctx context.Context, username, codeHash string, notBefore time.Time) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, username, code_hash, status, client_ip, created_at, resolved_by, resolved_at, attempts
		FROM mfa_verifications
		WHERE username = $1 AND code_hash = $2 AND status = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`, username, codeHash, string(domain.StatusPending), notBefore)
	return scanRecord(row)
}

// CompareAndSwap is a single conditional UPDATE; the row lock makes concurrent callers serialize and
// only the first one matches the WHERE clause.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, token string, t Transition) (bool, error) {
	var notBefore sql.NullTime
	if !t.NotBefore.IsZero() {
		notBefore = sql.NullTime{Time: t.NotBefore, Valid: true}
	}
	var actor sql.NullString
	var at sql.NullTime
	if t.Actor != "" {
		actor = sql.NullString{String: t.Actor, Valid: true}
		at = sql.NullTime{Time: t.At, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_verifications
		SET status = $2,
		    resolved_by = COALESCE($4, resolved_by),
		    resolved_at = COALESCE($5, resolved_at)
		WHERE token = $1 AND status = $3
		  AND ($6::timestamptz IS NULL OR created_at >= $6)
		  AND purge_after > now()`,
		token, string(t.To), string(t.From), actor, at, notBefore,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// IncrementAttempts is a single UPDATE ... RETURNING, so concurrent callers each see a distinct count.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, token string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE mfa_verifications
		SET attempts = attempts + 1
		WHERE token = $1 AND purge_after > now()
		RETURNING attempts`, token).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Sweep deletes rows whose retention ended at or before the given time.
func (r *PostgresRepository) Sweep(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_verifications WHERE purge_after <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func scanRecord(row *sql.Row) (*domain.Record, error) {
	var (
		rec        domain.Record
		status     string
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&rec.Token, &rec.Username, &rec.CodeHash, &status, &rec.ClientIP, &rec.CreatedAt, &resolvedBy, &resolvedAt, &rec.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.Status = domain.Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		rec.ResolvedAt = &at
	}
	return &rec, nil
}
