package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"webpanel-gate/internal/audit"
	identitydomain "webpanel-gate/internal/identity/domain"
	identityrepo "webpanel-gate/internal/identity/repository"
	mfadomain "webpanel-gate/internal/mfa/domain"
	mfarepo "webpanel-gate/internal/mfa/repository"
	mfaservice "webpanel-gate/internal/mfa/service"
	"webpanel-gate/internal/notifier"
	"webpanel-gate/internal/policy/engine"
	"webpanel-gate/internal/security"
	"webpanel-gate/internal/session"
	sessiondomain "webpanel-gate/internal/session/domain"
	sessionrepo "webpanel-gate/internal/session/repository"
)

const (
	testUser     = "admin"
	testPassword = "correct-horse"
	testIP       = "203.0.113.7"
)

type mockNotifier struct {
	mu    sync.Mutex
	reqs  []notifier.Request
	err   error
	dests int
}

func (m *mockNotifier) Notify(ctx context.Context, req notifier.Request) (notifier.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return notifier.Report{Failed: []notifier.DeliveryError{{Destination: "telegram:1", Err: m.err}}}, m.err
	}
	return notifier.Report{Delivered: []string{"telegram:1"}}, nil
}

func (m *mockNotifier) Destinations() int { return m.dests }

func (m *mockNotifier) last() notifier.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[len(m.reqs)-1]
}

type mockSettings struct {
	enabled bool
	err     error
}

func (m mockSettings) TelegramAuthEnabled(ctx context.Context) (bool, error) { return m.enabled, m.err }

type mockPolicy struct {
	required bool
	in       engine.LoginInput
}

func (m *mockPolicy) EvaluateLogin(ctx context.Context, in engine.LoginInput) (engine.MFAResult, error) {
	m.in = in
	return engine.MFAResult{MFARequired: m.required}, nil
}

type mockAudit struct {
	mu      sync.Mutex
	actions []string
}

func (m *mockAudit) LogEvent(ctx context.Context, actor, action, resource, metadata string) {
	m.mu.Lock()
	m.actions = append(m.actions, action)
	m.mu.Unlock()
}

func (m *mockAudit) has(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}

type fixture struct {
	svc      *AuthService
	mfa      *mfaservice.Service
	sessions *session.Manager
	notifier *mockNotifier
	audit    *mockAudit
}

func newFixture(t *testing.T, mfaEnabled bool) *fixture {
	t.Helper()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	identities := identityrepo.NewStaticRepository(identitydomain.Identity{Username: testUser, PasswordHash: hash})
	verifications := mfaservice.NewService(mfarepo.NewMemoryRepository(), 300*time.Second, 0, nil, nil)
	sessions := session.NewManager(sessionrepo.NewMemoryRepository(), time.Hour, nil)
	n := &mockNotifier{dests: 1}
	a := &mockAudit{}
	svc := NewAuthService(identities, hasher, verifications, n, sessions, mockSettings{enabled: mfaEnabled}, nil, a, nil)
	return &fixture{svc: svc, mfa: verifications, sessions: sessions, notifier: n, audit: a}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, true)
	tests := []struct {
		name, username, password string
	}{
		{"wrong password", testUser, "nope"},
		{"unknown user", "root", testPassword},
		{"empty username", "", testPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.username, tt.password, testIP)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
	if len(f.notifier.reqs) != 0 {
		t.Error("no notification should be sent for bad credentials")
	}
	if !f.audit.has(audit.ActionLoginFailure) {
		t.Error("expected login_failure audit")
	}
}

func TestLogin_NoMFAIssuesSession(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.svc.Login(context.Background(), testUser, testPassword, testIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.MFARequired || res.Token != "" {
		t.Fatalf("MFARequired = %v, Token = %q; want direct session", res.MFARequired, res.Token)
	}
	if res.Session == nil || res.Session.ID == "" {
		t.Fatal("expected session")
	}
	username, err := f.svc.Me(context.Background(), res.Session.ID)
	if err != nil || username != testUser {
		t.Fatalf("Me = %q, %v", username, err)
	}
}

func TestLogin_MFARequiredNotifies(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.svc.Login(context.Background(), testUser, testPassword, testIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.MFARequired || res.Token == "" || res.Session != nil {
		t.Fatalf("result = %+v, want token without session", res)
	}
	req := f.notifier.last()
	if req.Token != res.Token || req.Username != testUser || req.ClientIP != testIP {
		t.Errorf("notify request = %+v", req)
	}
	if len(req.Code) != 6 {
		t.Errorf("code = %q, want 6 digits", req.Code)
	}
	state, err := f.mfa.Inspect(context.Background(), res.Token)
	if err != nil || state != mfadomain.StatePending {
		t.Fatalf("state = %v, %v; want pending", state, err)
	}
}

func TestLogin_NotifyFailure(t *testing.T) {
	f := newFixture(t, true)
	f.notifier.err = notifier.ErrNotificationFailed
	res, err := f.svc.Login(context.Background(), testUser, testPassword, testIP)
	if !errors.Is(err, notifier.ErrNotificationFailed) {
		t.Fatalf("err = %v, want ErrNotificationFailed", err)
	}
	if res != nil {
		t.Error("token must not be returned when nobody was notified")
	}
	if !f.audit.has(audit.ActionNotifyFailed) {
		t.Error("expected mfa_notify_failed audit")
	}
}

func TestLogin_PolicyReceivesInput(t *testing.T) {
	f := newFixture(t, true)
	p := &mockPolicy{required: false}
	f.svc.policy = p
	f.notifier.dests = 2
	res, err := f.svc.Login(context.Background(), testUser, testPassword, testIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.MFARequired {
		t.Error("policy said no MFA")
	}
	want := engine.LoginInput{Username: testUser, ClientIP: testIP, TelegramAuthEnabled: true, Destinations: 2}
	if p.in != want {
		t.Errorf("policy input = %+v, want %+v", p.in, want)
	}
}

func TestLogin_SettingsError(t *testing.T) {
	f := newFixture(t, true)
	boom := errors.New("settings down")
	f.svc.settings = mockSettings{err: boom}
	if _, err := f.svc.Login(context.Background(), testUser, testPassword, testIP); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func startVerification(t *testing.T, f *fixture) string {
	t.Helper()
	res, err := f.svc.Login(context.Background(), testUser, testPassword, testIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res.Token
}

func TestPollStatus_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	token := startVerification(t, f)

	res, err := f.svc.PollStatus(ctx, token, testIP)
	if err != nil || res.State != mfadomain.StatePending || res.Session != nil {
		t.Fatalf("poll = %+v, %v; want pending", res, err)
	}

	if r, err := f.mfa.Resolve(ctx, token, mfadomain.DecisionApprove, "telegram:1"); err != nil || r != mfadomain.Applied {
		t.Fatalf("Resolve = %v, %v", r, err)
	}
	res, err = f.svc.PollStatus(ctx, token, testIP)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if res.State != mfadomain.StateApproved || res.Session == nil {
		t.Fatalf("poll = %+v, want approved with session", res)
	}

	res, err = f.svc.PollStatus(ctx, token, testIP)
	if err != nil || res.State != mfadomain.StateConsumed || res.Session != nil {
		t.Fatalf("replay poll = %+v, %v; want consumed", res, err)
	}
	if !f.audit.has(audit.ActionConsumeReplay) {
		t.Error("expected consume replay audit")
	}
}

func TestPollStatus_Denied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	token := startVerification(t, f)
	if _, err := f.mfa.Resolve(ctx, token, mfadomain.DecisionDeny, "telegram:1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res, err := f.svc.PollStatus(ctx, token, testIP)
	if err != nil || res.State != mfadomain.StateDenied || res.Session != nil {
		t.Fatalf("poll = %+v, %v; want denied", res, err)
	}
}

func TestPollStatus_UnknownToken(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.svc.PollStatus(context.Background(), "does-not-exist", testIP)
	if err != nil || res.State != mfadomain.StateInvalid {
		t.Fatalf("poll = %+v, %v; want invalid", res, err)
	}
}

func TestPollStatus_ConcurrentSingleSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	token := startVerification(t, f)
	if _, err := f.mfa.Resolve(ctx, token, mfadomain.DecisionApprove, "telegram:1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	const pollers = 16
	var wg sync.WaitGroup
	results := make(chan *PollResult, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.PollStatus(ctx, token, testIP)
			if err != nil {
				t.Errorf("PollStatus: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	issued := 0
	for res := range results {
		switch res.State {
		case mfadomain.StateApproved:
			if res.Session == nil {
				t.Error("approved without session")
			}
			issued++
		case mfadomain.StateConsumed:
		default:
			t.Errorf("state = %v, want approved or consumed", res.State)
		}
	}
	if issued != 1 {
		t.Fatalf("sessions issued = %d, want 1", issued)
	}
	active, err := f.sessions.ActiveSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active sessions = %d, want 1", len(active))
	}
}

func TestVerifyCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	token := startVerification(t, f)
	code := f.notifier.last().Code

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := f.svc.VerifyCode(ctx, token, wrong, testIP); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("wrong code err = %v, want ErrCodeMismatch", err)
	}
	if state, _ := f.mfa.Inspect(ctx, token); state != mfadomain.StatePending {
		t.Fatalf("state after wrong code = %v, want pending", state)
	}

	res, err := f.svc.VerifyCode(ctx, token, code, testIP)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if res.State != mfadomain.StateApproved || res.Session == nil {
		t.Fatalf("verify = %+v, want approved with session", res)
	}

	res, err = f.svc.VerifyCode(ctx, token, code, testIP)
	if err != nil || res.Session != nil || res.State != mfadomain.StateConsumed {
		t.Fatalf("second verify = %+v, %v; want consumed", res, err)
	}
}

func TestVerifyCode_UnknownToken(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.svc.VerifyCode(context.Background(), "missing", "123456", testIP)
	if err != nil || res.State != mfadomain.StateInvalid {
		t.Fatalf("verify = %+v, %v; want invalid", res, err)
	}
}

// fakeVerifications returns canned results for the paths a real store only reaches with time.
type fakeVerifications struct {
	state   mfadomain.State
	confirm mfadomain.Result
	consume mfadomain.ConsumeResult
}

func (f fakeVerifications) Create(ctx context.Context, username, clientIP string) (*mfaservice.Created, error) {
	return nil, errors.New("not used")
}

func (f fakeVerifications) Inspect(ctx context.Context, token string) (mfadomain.State, error) {
	return f.state, nil
}

func (f fakeVerifications) ConfirmToken(ctx context.Context, token, code, actor string) (mfadomain.Result, error) {
	return f.confirm, nil
}

func (f fakeVerifications) Consume(ctx context.Context, token string) (*mfadomain.Record, mfadomain.ConsumeResult, error) {
	return nil, f.consume, nil
}

func TestExpiredVerification(t *testing.T) {
	f := newFixture(t, true)
	f.svc.verifications = fakeVerifications{
		state:   mfadomain.StateExpired,
		confirm: mfadomain.Expired,
		consume: mfadomain.NotApproved,
	}
	res, err := f.svc.PollStatus(context.Background(), "tok", testIP)
	if err != nil || res.State != mfadomain.StateExpired {
		t.Fatalf("poll = %+v, %v; want expired", res, err)
	}
	res, err = f.svc.VerifyCode(context.Background(), "tok", "123456", testIP)
	if err != nil || res.State != mfadomain.StateExpired || res.Session != nil {
		t.Fatalf("verify = %+v, %v; want expired", res, err)
	}
}

func TestConsumeRaceLostToExpiry(t *testing.T) {
	f := newFixture(t, true)
	// Inspect reports approved but the consume CAS finds it no longer approved.
	f.svc.verifications = fakeVerifications{state: mfadomain.StateApproved, consume: mfadomain.NotApproved}
	res, err := f.svc.PollStatus(context.Background(), "tok", testIP)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if res.Session != nil {
		t.Error("no session when consume fails")
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	res, err := f.svc.Login(ctx, testUser, testPassword, testIP)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.Logout(ctx, res.Session.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Me(ctx, res.Session.ID); !errors.Is(err, session.ErrInvalidSession) {
		t.Fatalf("Me after logout err = %v, want ErrInvalidSession", err)
	}
	if !f.audit.has(audit.ActionLogout) {
		t.Error("expected logout audit")
	}
	if err := f.svc.Logout(ctx, res.Session.ID); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, "garbage"); err != nil {
		t.Errorf("Logout garbage: %v", err)
	}
}

// failingSessions is a SessionManager whose Issue always fails.
type failingSessions struct{ SessionManager }

func (failingSessions) Issue(ctx context.Context, username, clientIP string) (*sessiondomain.Session, error) {
	return nil, sessionrepo.ErrStoreUnavailable
}

func TestPollStatus_SessionIssueFailureIsAudited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.svc.sessions = failingSessions{f.sessions}
	token := startVerification(t, f)
	if _, err := f.mfa.Resolve(ctx, token, mfadomain.DecisionApprove, "telegram:1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	res, err := f.svc.PollStatus(ctx, token, testIP)
	if !errors.Is(err, sessionrepo.ErrStoreUnavailable) || res != nil {
		t.Fatalf("poll = %+v, %v; want store unavailable", res, err)
	}
	if !f.audit.has(audit.ActionSessionFailed) {
		t.Errorf("audit actions = %v, want %s", f.audit.actions, audit.ActionSessionFailed)
	}
	if state, _ := f.mfa.Inspect(ctx, token); state != mfadomain.StateConsumed {
		t.Errorf("state = %v, want consumed", state)
	}
}

func TestVerifyCode_TooManyAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	token := startVerification(t, f)
	code := f.notifier.last().Code

	var last error
	for i := 0; i < mfaservice.DefaultMaxAttempts; i++ {
		wrong := fmt.Sprintf("%06d", i)
		if wrong == code {
			wrong = "999999"
		}
		_, last = f.svc.VerifyCode(ctx, token, wrong, testIP)
	}
	if !errors.Is(last, ErrTooManyAttempts) {
		t.Fatalf("last wrong code err = %v, want ErrTooManyAttempts", last)
	}
	if _, err := f.svc.VerifyCode(ctx, token, code, testIP); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("right code after lock err = %v, want ErrTooManyAttempts", err)
	}
	res, err := f.svc.PollStatus(ctx, token, testIP)
	if err != nil || res.State != mfadomain.StateDenied || res.Session != nil {
		t.Fatalf("poll after lock = %+v, %v; want denied", res, err)
	}
}
