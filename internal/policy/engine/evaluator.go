package engine

import "context"

// LoginInput is what the MFA decision sees about a login whose primary credentials already passed.
type LoginInput struct {
	Username            string
	ClientIP            string
	TelegramAuthEnabled bool
	// Destinations is how many notifier destinations are configured.
	Destinations int
}

// MFAResult holds the result of the login MFA decision.
type MFAResult struct {
	MFARequired bool
}

// Evaluator decides whether a login must be approved out of band.
type Evaluator interface {
	EvaluateLogin(ctx context.Context, in LoginInput) (MFAResult, error)
}
