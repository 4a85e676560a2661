package repository

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"webpanel-gate/internal/mfa/domain"
)

// FallbackRepository writes to the durable primary and, when the primary reports ErrStoreUnavailable,
// to an in-process secondary. Every fallback write is logged at WARN as degraded mode: records
// written there are invisible to other processes and lost on restart.
//
// Each record lives in exactly one backend, so reads and transitions try the primary first and then
// the secondary.
type FallbackRepository struct {
	primary   Repository
	secondary Repository
	logger    *slog.Logger
	degraded  atomic.Int64
}

var _ Repository = (*FallbackRepository)(nil)

// NewFallbackRepository wraps primary with secondary. logger may be nil.
func NewFallbackRepository(primary, secondary Repository, logger *slog.Logger) *FallbackRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackRepository{primary: primary, secondary: secondary, logger: logger}
}

// Degraded returns how many records were written to the secondary.
func (f *FallbackRepository) Degraded() int64 {
	return f.degraded.Load()
}

func (f *FallbackRepository) Create(ctx context.Context, r *domain.Record, retention time.Duration) error {
	err := f.primary.Create(ctx, r, retention)
	if err == nil || !errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	f.logger.Warn("verification: degraded mode, durable store unavailable; record kept in process memory",
		"token_prefix", domain.TokenPrefix(r.Token),
		"error", err,
	)
	if serr := f.secondary.Create(ctx, r, retention); serr != nil {
		return errors.Join(err, serr)
	}
	f.degraded.Add(1)
	return nil
}

func (f *FallbackRepository) GetByToken(ctx context.Context, token string) (*domain.Record, error) {
	rec, err := f.primary.GetByToken(ctx, token)
	if err == nil && rec != nil {
		return rec, nil
	}
	srec, serr := f.secondary.GetByToken(ctx, token)
	if serr == nil && srec != nil {
		return srec, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, serr
}

func (f *FallbackRepository) FindPending(ctx context.Context, username, codeHash string, notBefore time.Time) (*domain.Record, error) {
	rec, err := f.primary.FindPending(ctx, username, codeHash, notBefore)
	if err == nil && rec != nil {
		return rec, nil
	}
	srec, serr := f.secondary.FindPending(ctx, username, codeHash, notBefore)
	if serr == nil && srec != nil {
		return srec, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, serr
}

func (f *FallbackRepository) CompareAndSwap(ctx context.Context, token string, t Transition) (bool, error) {
	ok, err := f.primary.CompareAndSwap(ctx, token, t)
	if ok {
		return true, nil
	}
	sok, serr := f.secondary.CompareAndSwap(ctx, token, t)
	if sok {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, serr
}

func (f *FallbackRepository) IncrementAttempts(ctx context.Context, token string) (int, error) {
	n, err := f.primary.IncrementAttempts(ctx, token)
	if n > 0 {
		return n, nil
	}
	sn, serr := f.secondary.IncrementAttempts(ctx, token)
	if sn > 0 {
		return sn, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, serr
}

func (f *FallbackRepository) Sweep(ctx context.Context, before time.Time) (int, error) {
	n, err := f.primary.Sweep(ctx, before)
	sn, serr := f.secondary.Sweep(ctx, before)
	return n + sn, errors.Join(err, serr)
}

// Ping reports the primary's health. A failing primary is degraded, not down.
func (f *FallbackRepository) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}
