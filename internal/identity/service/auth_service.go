package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webpanel-gate/internal/audit"
	identityrepo "webpanel-gate/internal/identity/repository"
	mfadomain "webpanel-gate/internal/mfa/domain"
	mfaservice "webpanel-gate/internal/mfa/service"
	"webpanel-gate/internal/notifier"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/policy/engine"
	"webpanel-gate/internal/security"
	sessiondomain "webpanel-gate/internal/session/domain"
	"webpanel-gate/internal/telemetry"
	teldomain "webpanel-gate/internal/telemetry/domain"
)

// Sentinel errors for auth service; handler maps them to HTTP responses.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrCodeMismatch       = mfaservice.ErrCodeMismatch
	ErrTooManyAttempts    = mfaservice.ErrTooManyAttempts
)

// LoginResult is the outcome of a successful credential check. Exactly one of Session and Token is set.
type LoginResult struct {
	MFARequired bool
	Token       string
	Session     *sessiondomain.Session
}

// PollResult is what the browser learns about its verification. Session is set only for the single
// caller that consumed the approval.
type PollResult struct {
	State   mfadomain.State
	Session *sessiondomain.Session
}

// VerificationService is the verification state machine as used by the gateway.
type VerificationService interface {
	Create(ctx context.Context, username, clientIP string) (*mfaservice.Created, error)
	Inspect(ctx context.Context, token string) (mfadomain.State, error)
	ConfirmToken(ctx context.Context, token, code, actor string) (mfadomain.Result, error)
	Consume(ctx context.Context, token string) (*mfadomain.Record, mfadomain.ConsumeResult, error)
}

// Notifier delivers a pending login to administrators.
type Notifier interface {
	Notify(ctx context.Context, req notifier.Request) (notifier.Report, error)
	Destinations() int
}

// SessionManager mints and revokes panel sessions.
type SessionManager interface {
	Issue(ctx context.Context, username, clientIP string) (*sessiondomain.Session, error)
	Revoke(ctx context.Context, id string) error
	Validate(ctx context.Context, id string) (string, error)
}

// SettingsReader exposes the runtime bot-approval toggle.
type SettingsReader interface {
	TelegramAuthEnabled(ctx context.Context) (bool, error)
}

// AuthService checks primary credentials, escalates to out-of-band approval when policy requires it,
// and turns an approved verification into exactly one session.
type AuthService struct {
	identities    identityrepo.Repository
	hasher        *security.Hasher
	verifications VerificationService
	notifier      Notifier
	sessions      SessionManager
	settings      SettingsReader
	policy        engine.Evaluator
	audit         audit.AuditLogger
	events        telemetry.EventEmitter
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger and events may be nil.
func NewAuthService(
	identities identityrepo.Repository,
	hasher *security.Hasher,
	verifications VerificationService,
	n Notifier,
	sessions SessionManager,
	settings SettingsReader,
	policy engine.Evaluator,
	auditLogger audit.AuditLogger,
	events telemetry.EventEmitter,
) *AuthService {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &AuthService{
		identities:    identities,
		hasher:        hasher,
		verifications: verifications,
		notifier:      n,
		sessions:      sessions,
		settings:      settings,
		policy:        policy,
		audit:         auditLogger,
		events:        events,
	}
}

// CheckCredentials verifies username and password. Unknown users and wrong passwords are
// indistinguishable: both return ErrInvalidCredentials after one bcrypt comparison.
func (s *AuthService) CheckCredentials(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	var hash string
	if username != "" {
		ident, err := s.identities.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		if ident != nil {
			hash = ident.PasswordHash
		}
	}
	if !s.hasher.Verify(hash, password) {
		return ErrInvalidCredentials
	}
	return nil
}

// Login checks credentials and then either issues a session or starts a verification and notifies
// administrators. A verification nobody could be told about is abandoned: the caller gets
// notifier.ErrNotificationFailed and never sees the token, and the record expires by TTL.
func (s *AuthService) Login(ctx context.Context, username, password, clientIP string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	log := logx.FromContext(ctx).With("username", username, "client_ip", clientIP)

	if err := s.CheckCredentials(ctx, username, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Info("auth: login rejected")
			s.audit.LogEvent(ctx, username, audit.ActionLoginFailure, "user:"+username, "")
			s.emit(ctx, "failure", username, "", clientIP)
		}
		return nil, err
	}

	required, err := s.mfaRequired(ctx, username, clientIP)
	if err != nil {
		return nil, err
	}
	if !required {
		sess, err := s.sessions.Issue(ctx, username, clientIP)
		if err != nil {
			return nil, err
		}
		log.Info("auth: login succeeded")
		s.audit.LogEvent(ctx, username, audit.ActionLoginSuccess, "user:"+username, "")
		s.emit(ctx, "success", username, "", clientIP)
		return &LoginResult{Session: sess}, nil
	}

	created, err := s.verifications.Create(ctx, username, clientIP)
	if err != nil {
		return nil, err
	}
	report, err := s.notifier.Notify(ctx, notifier.Request{
		Token:       created.Token,
		Code:        created.Code,
		Username:    username,
		ClientIP:    clientIP,
		RequestedAt: created.Record.CreatedAt,
	})
	if err != nil {
		log.Warn("auth: verification not delivered",
			"token_prefix", mfadomain.TokenPrefix(created.Token),
			"failed", len(report.Failed),
		)
		s.audit.LogEvent(ctx, username, audit.ActionNotifyFailed, "verification:"+mfadomain.TokenPrefix(created.Token), "")
		s.emit(ctx, "notify_failed", username, created.Token, clientIP)
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	log.Info("auth: verification sent",
		"token_prefix", mfadomain.TokenPrefix(created.Token),
		"delivered", len(report.Delivered),
	)
	s.emit(ctx, "mfa_required", username, created.Token, clientIP)
	return &LoginResult{MFARequired: true, Token: created.Token}, nil
}

// PollStatus reports the verification's state. An approved verification is consumed here; only the
// poller whose consume succeeds gets a session, every other gets StateConsumed.
func (s *AuthService) PollStatus(ctx context.Context, token, clientIP string) (*PollResult, error) {
	state, err := s.verifications.Inspect(ctx, token)
	if err != nil {
		return nil, err
	}
	if state != mfadomain.StateApproved {
		return &PollResult{State: state}, nil
	}
	return s.consume(ctx, token, clientIP)
}

// VerifyCode approves token with the code the user was told by an administrator, then consumes it
// like PollStatus. A wrong code returns ErrCodeMismatch and leaves the record pending until the
// attempt limit denies it; after that every call returns ErrTooManyAttempts.
func (s *AuthService) VerifyCode(ctx context.Context, token, code, clientIP string) (*PollResult, error) {
	res, err := s.verifications.ConfirmToken(ctx, token, code, "web:"+clientIP)
	if err != nil {
		return nil, err
	}
	switch res {
	case mfadomain.NotFound:
		return &PollResult{State: mfadomain.StateInvalid}, nil
	case mfadomain.Expired:
		return &PollResult{State: mfadomain.StateExpired}, nil
	}
	return s.consume(ctx, token, clientIP)
}

// Logout revokes the session. Unknown or already revoked sessions are not errors.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	username, verr := s.sessions.Validate(ctx, sessionID)
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	if verr == nil {
		logx.FromContext(ctx).Info("auth: logout", "username", username)
		s.audit.LogEvent(ctx, username, audit.ActionLogout, "user:"+username, "")
		s.emitType(ctx, teldomain.EventLogout, "ok", username, "", "")
	}
	return nil
}

// Me returns the username of an active session.
func (s *AuthService) Me(ctx context.Context, sessionID string) (string, error) {
	return s.sessions.Validate(ctx, sessionID)
}

func (s *AuthService) mfaRequired(ctx context.Context, username, clientIP string) (bool, error) {
	enabled, err := s.settings.TelegramAuthEnabled(ctx)
	if err != nil {
		return false, err
	}
	if s.policy == nil {
		return enabled, nil
	}
	res, err := s.policy.EvaluateLogin(ctx, engine.LoginInput{
		Username:            username,
		ClientIP:            clientIP,
		TelegramAuthEnabled: enabled,
		Destinations:        s.notifier.Destinations(),
	})
	if err != nil {
		return false, err
	}
	return res.MFARequired, nil
}

func (s *AuthService) consume(ctx context.Context, token, clientIP string) (*PollResult, error) {
	rec, res, err := s.verifications.Consume(ctx, token)
	if err != nil {
		return nil, err
	}
	switch res {
	case mfadomain.Consumed:
	case mfadomain.AlreadyConsumed:
		logx.FromContext(ctx).Info("auth: approval already consumed", "token_prefix", mfadomain.TokenPrefix(token))
		s.audit.LogEvent(ctx, audit.SystemActor, audit.ActionConsumeReplay, "verification:"+mfadomain.TokenPrefix(token), clientIP)
		s.emitType(ctx, teldomain.EventConsumeReplay, "rejected", "", token, clientIP)
		return &PollResult{State: mfadomain.StateConsumed}, nil
	case mfadomain.NotApproved:
		state, err := s.verifications.Inspect(ctx, token)
		if err != nil {
			return nil, err
		}
		return &PollResult{State: state}, nil
	default:
		return &PollResult{State: mfadomain.StateInvalid}, nil
	}

	sess, err := s.sessions.Issue(ctx, rec.Username, clientIP)
	if err != nil {
		// The approval is spent; the user has to log in again.
		logx.FromContext(ctx).Error("auth: session issue failed after consuming approval",
			"username", rec.Username,
			"token_prefix", mfadomain.TokenPrefix(token),
			"error", err,
		)
		s.audit.LogEvent(ctx, rec.Username, audit.ActionSessionFailed, "verification:"+mfadomain.TokenPrefix(token), err.Error())
		s.emit(ctx, "session_failed", rec.Username, token, clientIP)
		return nil, fmt.Errorf("issue session after approval: %w", err)
	}
	logx.FromContext(ctx).Info("auth: login approved",
		"username", rec.Username,
		"token_prefix", mfadomain.TokenPrefix(token),
		"approved_by", rec.ResolvedBy,
	)
	s.audit.LogEvent(ctx, rec.Username, audit.ActionSessionIssued, "verification:"+mfadomain.TokenPrefix(token), rec.ResolvedBy)
	s.emit(ctx, "approved", rec.Username, token, clientIP)
	return &PollResult{State: mfadomain.StateApproved, Session: sess}, nil
}

func (s *AuthService) emit(ctx context.Context, outcome, username, token, clientIP string) {
	s.emitType(ctx, teldomain.EventLogin, outcome, username, token, clientIP)
}

func (s *AuthService) emitType(ctx context.Context, eventType, outcome, username, token, clientIP string) {
	ev := &teldomain.Event{
		Type:     eventType,
		Source:   "identity",
		Outcome:  outcome,
		Username: username,
		ClientIP: clientIP,
	}
	if token != "" {
		ev.TokenPrefix = mfadomain.TokenPrefix(token)
	}
	telemetry.EmitAsync(s.events, ctx, ev)
}
