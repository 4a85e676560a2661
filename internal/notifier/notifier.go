// Package notifier delivers a pending login's token and code to every configured administrator
// destination, concurrently, with a per-attempt timeout and bounded retries.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"webpanel-gate/internal/mfa/domain"
)

// ErrNotificationFailed is returned when no destination accepted the message.
var ErrNotificationFailed = errors.New("notification failed: no destination accepted the message")

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
)

// Request is what a destination is told about a login attempt.
type Request struct {
	Token       string
	Code        string
	Username    string
	ClientIP    string
	RequestedAt time.Time
}

// Sender delivers a Request to one address (a chat ID, a phone number). Implementations must honor
// ctx cancellation. Wrap an error with Permanent to stop retries for that destination.
type Sender interface {
	Send(ctx context.Context, address string, req Request) error
}

// Destination is one recipient.
type Destination struct {
	Name    string
	Sender  Sender
	Address string
}

// DeliveryError records why a destination did not receive the message.
type DeliveryError struct {
	Destination string
	Attempts    int
	Err         error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("notify %s: %d attempt(s): %v", e.Destination, e.Attempts, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }

// Report lists which destinations were reached.
type Report struct {
	Delivered []string
	Failed    []DeliveryError
}

// Permanent marks err as not worth retrying (e.g. the chat blocked the bot).
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Options configures a FanOut.
type Options struct {
	// Timeout bounds each delivery attempt. <= 0 means DefaultTimeout.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. < 0 means 0.
	MaxRetries int
	// InitialInterval is the first backoff wait. <= 0 means 500ms.
	InitialInterval time.Duration
	Logger          *slog.Logger
}

// FanOut sends to every destination in parallel.
type FanOut struct {
	destinations []Destination
	timeout      time.Duration
	maxRetries   int
	initial      time.Duration
	logger       *slog.Logger
}

// NewFanOut returns a FanOut over destinations.
func NewFanOut(destinations []Destination, opts Options) *FanOut {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FanOut{
		destinations: destinations,
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		initial:      opts.InitialInterval,
		logger:       opts.Logger,
	}
}

// Destinations returns how many destinations are configured.
func (f *FanOut) Destinations() int { return len(f.destinations) }

// Notify delivers req to every destination. A slow or failing destination never delays the others
// beyond its own retry budget. Returns ErrNotificationFailed (with the report) when nothing was delivered.
func (f *FanOut) Notify(ctx context.Context, req Request) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
	)
	for _, d := range f.destinations {
		wg.Add(1)
		go func(d Destination) {
			defer wg.Done()
			attempts, err := f.deliver(ctx, d, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, DeliveryError{Destination: d.Name, Attempts: attempts, Err: err})
				return
			}
			report.Delivered = append(report.Delivered, d.Name)
		}(d)
	}
	wg.Wait()

	for _, fe := range report.Failed {
		f.logger.WarnContext(ctx, "notifier: delivery failed",
			"destination", fe.Destination,
			"attempts", fe.Attempts,
			"token_prefix", domain.TokenPrefix(req.Token),
			"error", fe.Err,
		)
	}
	if len(report.Delivered) == 0 {
		return report, ErrNotificationFailed
	}
	return report, nil
}

func (f *FanOut) deliver(ctx context.Context, d Destination, req Request) (int, error) {
	if d.Sender == nil {
		return 0, errors.New("no sender configured")
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.initial
	eb.MaxInterval = f.timeout
	var b backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.maxRetries)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		return d.Sender.Send(attemptCtx, d.Address, req)
	}, b)
	return attempts, err
}
