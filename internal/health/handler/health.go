// Package handler reports readiness: HTTP /healthz for the web process and grpc.health.v1 for the
// bot process. Both check the verification store and, when set, the MFA policy.
package handler

import (
	"context"
	"time"
)

const checkTimeout = 2 * time.Second

// Pinger checks a backend's reachability (e.g. the verification service's store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks that the MFA policy is loaded and evaluable.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// StoreInfo describes the configured verification store.
type StoreInfo struct {
	// Name is the backend ("redis", "postgres", "memory").
	Name string
	// Durable is false for the in-process store.
	Durable bool
	// Fallback is true when an in-process secondary takes over writes while the primary is down.
	Fallback bool
}

// Checker runs the readiness checks shared by the HTTP and gRPC endpoints.
type Checker struct {
	store  Pinger
	info   StoreInfo
	policy PolicyChecker
}

// NewChecker returns a Checker. store and policy may be nil, in which case those checks are skipped.
func NewChecker(store Pinger, info StoreInfo, policy PolicyChecker) *Checker {
	return &Checker{store: store, info: info, policy: policy}
}

// Report is the outcome of a readiness check.
type Report struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Durable bool   `json:"durable"`
	Error   string `json:"error,omitempty"`
}

// Serving reports whether the process can take traffic.
func (r Report) Serving() bool { return r.Status != statusUnavailable }

const (
	statusOK          = "ok"
	statusDegraded    = "degraded"
	statusUnavailable = "unavailable"
)

// Check runs the checks. A failing store with a fallback configured is degraded, not unavailable:
// logins still work within this process.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	rep := Report{Status: statusOK, Store: c.info.Name, Durable: c.info.Durable}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			rep.Status = statusUnavailable
			rep.Error = "policy: " + err.Error()
			return rep
		}
	}
	if c.store != nil {
		if err := c.store.Ping(ctx); err != nil {
			rep.Error = "store: " + err.Error()
			if c.info.Fallback {
				rep.Status = statusDegraded
				rep.Durable = false
				return rep
			}
			rep.Status = statusUnavailable
		}
	}
	return rep
}
