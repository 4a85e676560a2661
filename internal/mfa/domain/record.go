package domain

import "time"

// Status is the stored status of a verification record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	// StatusConsumed marks an approved record whose session has been issued. Written once by the
	// poller that wins consume-on-approve; later polls observe it and must not issue again.
	StatusConsumed Status = "consumed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusConsumed:
		return true
	}
	return false
}

// State is what readers observe: the stored status with expiry applied, or invalid for unknown tokens.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateDenied   State = "denied"
	StateExpired  State = "expired"
	StateInvalid  State = "invalid"
	StateConsumed State = "consumed"
)

// Decision is an administrator's answer to a pending login.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Status returns the terminal status a decision transitions to.
func (d Decision) Status() (Status, bool) {
	switch d {
	case DecisionApprove:
		return StatusApproved, true
	case DecisionDeny:
		return StatusDenied, true
	}
	return "", false
}

// Result is the outcome of a resolve attempt.
type Result int

const (
	// Applied means this call performed the transition.
	Applied Result = iota + 1
	// AlreadyResolved means another actor transitioned the record first. Not an error.
	AlreadyResolved
	// NotFound means the token (or username/code pair) is unknown.
	NotFound
	// Expired means the record is older than the approval window; nothing was changed.
	Expired
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case AlreadyResolved:
		return "already_resolved"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// ConsumeResult is the outcome of consume-on-approve.
type ConsumeResult int

const (
	// Consumed means this caller won the approved → consumed transition and must issue the session.
	Consumed ConsumeResult = iota + 1
	// AlreadyConsumed means another caller already consumed the record; no session may be issued.
	AlreadyConsumed
	// NotApproved means the record exists but is not approved.
	NotApproved
	// ConsumeNotFound means the token is unknown.
	ConsumeNotFound
)

func (r ConsumeResult) String() string {
	switch r {
	case Consumed:
		return "consumed"
	case AlreadyConsumed:
		return "already_consumed"
	case NotApproved:
		return "not_approved"
	case ConsumeNotFound:
		return "not_found"
	}
	return "unknown"
}

// Record is one login attempt awaiting a second factor.
type Record struct {
	Token      string
	Username   string
	CodeHash   string
	Status     Status
	ClientIP   string
	CreatedAt  time.Time
	ResolvedBy string
	ResolvedAt *time.Time
	// Attempts counts wrong codes submitted against Token from the browser.
	Attempts int
}

// ExpiredAt reports whether the record is older than ttl at now.
func (r *Record) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) > ttl
}

// StateAt returns the logical state of the record at now. Only pending records expire; terminal
// statuses are reported as stored.
func (r *Record) StateAt(now time.Time, ttl time.Duration) State {
	switch r.Status {
	case StatusPending:
		if r.ExpiredAt(now, ttl) {
			return StateExpired
		}
		return StatePending
	case StatusApproved:
		return StateApproved
	case StatusDenied:
		return StateDenied
	case StatusConsumed:
		return StateConsumed
	}
	return StateInvalid
}

// TokenPrefix returns the first 8 characters of a token, for logs.
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
