// Package service implements the verification state machine that drives an out-of-band login
// approval: create a pending record, resolve it by an administrator's decision, and consume the
// approval exactly once when the browser polls.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"webpanel-gate/internal/audit"
	"webpanel-gate/internal/mfa"
	"webpanel-gate/internal/mfa/domain"
	"webpanel-gate/internal/mfa/repository"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/telemetry"
	teldomain "webpanel-gate/internal/telemetry/domain"
)

// Sentinel errors; handlers map them to responses.
var (
	ErrCodeMismatch    = errors.New("verification code does not match")
	ErrInvalidDecision = errors.New("unknown decision")
	ErrInvalidUsername = errors.New("username is required")
	ErrTooManyAttempts = errors.New("too many wrong verification codes")
)

const createAttempts = 3

// DefaultMaxAttempts is how many wrong codes a pending record accepts before it is denied.
const DefaultMaxAttempts = 5

// Created is the outcome of Create. Code is the only copy of the plaintext code; the store keeps its hash.
type Created struct {
	Token  string
	Code   string
	Record *domain.Record
}

// Service is the verification state machine. Every transition is a store-level compare-and-swap, so
// any number of Service instances (web process, bot process) can share one store.
type Service struct {
	repo      repository.Repository
	ttl       time.Duration
	retention time.Duration
	audit     audit.AuditLogger
	events    telemetry.EventEmitter
	maxTries  int
	nowF      func() time.Time
}

// NewService returns a Service. ttl <= 0 means repository.DefaultTTL; retention shorter than ttl is
// raised to 2×ttl. auditLogger and events may be nil.
func NewService(repo repository.Repository, ttl, retention time.Duration, auditLogger audit.AuditLogger, events telemetry.EventEmitter) *Service {
	if ttl <= 0 {
		ttl = repository.DefaultTTL
	}
	if retention < ttl {
		retention = 2 * ttl
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Service{
		repo:      repo,
		ttl:       ttl,
		retention: retention,
		audit:     auditLogger,
		events:    events,
		maxTries:  DefaultMaxAttempts,
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// WithMaxAttempts sets how many wrong codes ConfirmToken accepts per record. n <= 0 keeps the default.
func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxTries = n
	}
	return s
}

// TTL returns the approval window.
func (s *Service) TTL() time.Duration { return s.ttl }

// Create stores a new pending record for username and returns its token and plaintext code.
func (s *Service) Create(ctx context.Context, username, clientIP string) (*Created, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	code, err := mfa.GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	rec := &domain.Record{
		Username: username,
		CodeHash: mfa.HashCode(code),
		Status:   domain.StatusPending,
		ClientIP: clientIP,
	}
	for attempt := 0; ; attempt++ {
		token, err := mfa.NewToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		rec.Token = token
		rec.CreatedAt = s.nowF()
		err = s.repo.Create(ctx, rec, s.retention)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateToken) || attempt+1 >= createAttempts {
			return nil, err
		}
	}

	logx.FromContext(ctx).Info("mfa: verification created",
		"token_prefix", domain.TokenPrefix(rec.Token),
		"username", username,
	)
	s.audit.LogEvent(ctx, username, audit.ActionMFARequested, resourceOf(rec.Token), "")
	s.emit(ctx, teldomain.EventVerificationCreate, "pending", rec)
	return &Created{Token: rec.Token, Code: code, Record: rec}, nil
}

// Resolve applies an administrator's decision to a pending record. Exactly one caller ever gets
// Applied for a token; the others get AlreadyResolved. A pending record past its TTL is Expired and
// left untouched.
func (s *Service) Resolve(ctx context.Context, token string, decision domain.Decision, actor string) (domain.Result, error) {
	to, ok := decision.Status()
	if !ok {
		return 0, ErrInvalidDecision
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.NotFound, nil
	}
	now := s.nowF()
	applied, err := s.repo.CompareAndSwap(ctx, token, repository.Transition{
		From:      domain.StatusPending,
		To:        to,
		NotBefore: now.Add(-s.ttl),
		Actor:     actor,
		At:        now,
	})
	if err != nil {
		return 0, err
	}

	log := logx.FromContext(ctx).With("token_prefix", domain.TokenPrefix(token), "decision", string(decision), "actor", actor)
	if applied {
		log.Info("mfa: verification resolved")
		action := audit.ActionMFAApproved
		if to == domain.StatusDenied {
			action = audit.ActionMFADenied
		}
		s.audit.LogEvent(ctx, actor, action, resourceOf(token), string(decision))
		s.emit(ctx, teldomain.EventVerificationResolve, domain.Applied.String(), &domain.Record{Token: token})
		return domain.Applied, nil
	}

	rec, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	var result domain.Result
	switch {
	case rec == nil:
		result = domain.NotFound
	case rec.Status == domain.StatusPending:
		// The CAS only fails on a pending record when the not-before condition rejected it.
		result = domain.Expired
	default:
		result = domain.AlreadyResolved
	}
	log.Info("mfa: verification not resolved", "result", result.String())
	s.emit(ctx, teldomain.EventVerificationResolve, result.String(), &domain.Record{Token: token})
	return result, nil
}

// Inspect returns the logical state of token. Unknown tokens are StateInvalid. It never writes.
func (s *Service) Inspect(ctx context.Context, token string) (domain.State, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.StateInvalid, nil
	}
	rec, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return domain.StateInvalid, nil
	}
	return rec.StateAt(s.nowF(), s.ttl), nil
}

// ConfirmByCode approves the newest pending, unexpired record of username whose code matches.
// A code issued to another username never matches. Returns the token that was resolved, if any.
func (s *Service) ConfirmByCode(ctx context.Context, username, code, actor string) (string, domain.Result, error) {
	username = strings.TrimSpace(username)
	code = strings.TrimSpace(code)
	if username == "" || !mfa.ValidCodeFormat(code) {
		return "", domain.NotFound, nil
	}
	rec, err := s.repo.FindPending(ctx, username, mfa.HashCode(code), s.nowF().Add(-s.ttl))
	if err != nil {
		return "", 0, err
	}
	if rec == nil {
		return "", domain.NotFound, nil
	}
	res, err := s.Resolve(ctx, rec.Token, domain.DecisionApprove, actor)
	return rec.Token, res, err
}

// ConfirmToken approves token when code matches its record, for a code relayed to the browser's
// user by an administrator. An already approved record with a matching code is AlreadyResolved, so
// the caller can go on to Consume.
//
// Every comparison first reserves an attempt in the store. The wrong code that uses up the last
// attempt denies a pending record; from then on the token only returns ErrTooManyAttempts.
func (s *Service) ConfirmToken(ctx context.Context, token, code, actor string) (domain.Result, error) {
	token = strings.TrimSpace(token)
	code = strings.TrimSpace(code)
	if token == "" {
		return domain.NotFound, nil
	}
	rec, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return domain.NotFound, nil
	}
	state := rec.StateAt(s.nowF(), s.ttl)
	if state == domain.StateExpired {
		return domain.Expired, nil
	}
	if !mfa.ValidCodeFormat(code) {
		return 0, ErrCodeMismatch
	}
	n, err := s.repo.IncrementAttempts(ctx, token)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return domain.NotFound, nil
	}
	if n > s.maxTries {
		return 0, ErrTooManyAttempts
	}
	if !mfa.CodeEqual(code, rec.CodeHash) {
		if n == s.maxTries {
			if err := s.lock(ctx, rec); err != nil {
				return 0, err
			}
			return 0, ErrTooManyAttempts
		}
		return 0, ErrCodeMismatch
	}
	if state != domain.StatePending {
		return domain.AlreadyResolved, nil
	}
	return s.Resolve(ctx, token, domain.DecisionApprove, actor)
}

// lock denies a pending record whose attempts are used up. A record that was resolved in the
// meantime keeps its state.
func (s *Service) lock(ctx context.Context, rec *domain.Record) error {
	now := s.nowF()
	applied, err := s.repo.CompareAndSwap(ctx, rec.Token, repository.Transition{
		From:  domain.StatusPending,
		To:    domain.StatusDenied,
		Actor: audit.SystemActor,
		At:    now,
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	logx.FromContext(ctx).Warn("mfa: verification locked after repeated wrong codes",
		"token_prefix", domain.TokenPrefix(rec.Token),
		"username", rec.Username,
		"attempts", s.maxTries,
	)
	s.audit.LogEvent(ctx, audit.SystemActor, audit.ActionMFALocked, resourceOf(rec.Token), rec.Username)
	s.emit(ctx, teldomain.EventVerificationResolve, "locked", rec)
	return nil
}

// Consume performs consume-on-approve: the single caller that moves token from approved to consumed
// gets Consumed and the record; every other caller gets AlreadyConsumed.
func (s *Service) Consume(ctx context.Context, token string) (*domain.Record, domain.ConsumeResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ConsumeNotFound, nil
	}
	rec, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	if rec == nil {
		return nil, domain.ConsumeNotFound, nil
	}
	switch rec.Status {
	case domain.StatusConsumed:
		return nil, domain.AlreadyConsumed, nil
	case domain.StatusApproved:
	default:
		return nil, domain.NotApproved, nil
	}

	ok, err := s.repo.CompareAndSwap(ctx, token, repository.Transition{
		From: domain.StatusApproved,
		To:   domain.StatusConsumed,
		At:   s.nowF(),
	})
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, domain.AlreadyConsumed, nil
	}
	rec.Status = domain.StatusConsumed
	return rec, domain.Consumed, nil
}

// Sweep removes records whose retention has elapsed. Expiry itself never depends on it.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.repo.Sweep(ctx, s.nowF())
}

// RunSweeper calls Sweep every interval until ctx is done. interval <= 0 returns immediately.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logx.FromContext(ctx).Warn("mfa: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logx.FromContext(ctx).Debug("mfa: swept verification records", "count", n)
			}
		}
	}
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) emit(ctx context.Context, eventType, outcome string, rec *domain.Record) {
	telemetry.EmitAsync(s.events, ctx, &teldomain.Event{
		Type:        eventType,
		Source:      "mfa",
		Outcome:     outcome,
		Username:    rec.Username,
		TokenPrefix: domain.TokenPrefix(rec.Token),
		ClientIP:    rec.ClientIP,
	})
}

func resourceOf(token string) string {
	return "verification:" + domain.TokenPrefix(token)
}
