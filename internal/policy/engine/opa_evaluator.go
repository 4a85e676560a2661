package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"webpanel-gate/internal/platform/logx"
)

const mfaRequiredQuery = "data.webpanel.login.mfa_required"

// Default Rego policy: bot approval is required whenever the runtime toggle is on. A missing
// notifier configuration does not skip it; the login then fails at delivery.
const defaultRegoPolicy = `package webpanel.login

default mfa_required := false

mfa_required if {
	input.settings.telegram_auth_enabled
}
`

// OPAEvaluator evaluates the login MFA decision with OPA Rego. The query is prepared once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (Rego source for package webpanel.login). Empty policy uses the
// default.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = defaultRegoPolicy
	}
	q, err := rego.New(
		rego.Query(mfaRequiredQuery),
		rego.Module("login.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// NewOPAEvaluatorFromFile reads the policy from path; empty path uses the default policy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// HealthCheck evaluates the prepared query against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(LoginInput{})))
	if err != nil {
		return fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateLogin evaluates the policy for in. If evaluation fails or yields no boolean, the result
// falls back to the toggle itself so a broken policy never disables the second factor.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (MFAResult, error) {
	fallback := MFAResult{MFARequired: in.TelegramAuthEnabled}
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		logx.FromContext(ctx).Warn("policy: evaluation failed, using toggle", "error", err)
		return fallback, nil
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fallback, nil
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		logx.FromContext(ctx).Warn("policy: mfa_required is not a boolean, using toggle")
		return fallback, nil
	}
	return MFAResult{MFARequired: v}, nil
}

func buildInput(in LoginInput) map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"username": in.Username,
		},
		"request": map[string]interface{}{
			"client_ip": in.ClientIP,
		},
		"settings": map[string]interface{}{
			"telegram_auth_enabled": in.TelegramAuthEnabled,
		},
		"notifier": map[string]interface{}{
			"destinations": in.Destinations,
		},
	}
}
