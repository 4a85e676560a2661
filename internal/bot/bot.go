// Package bot turns administrator actions (inline button presses, /confirm commands) into
// verification decisions and the replies the bot shows for them.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"webpanel-gate/internal/audit"
	"webpanel-gate/internal/mfa/domain"
	"webpanel-gate/internal/notifier/telegram"
	"webpanel-gate/internal/platform/logx"
	"webpanel-gate/internal/platform/rbac"
)

// Replies shown to administrators.
const (
	AnswerApproved     = "Login Approved"
	AnswerDenied       = "Login Denied"
	AnswerProcessed    = "Request expired or already processed"
	AnswerNotFound     = "Request not found"
	AnswerExpired      = "Request expired"
	AnswerUnauthorized = "Unauthorized"
	AnswerFailed       = "Something went wrong, try again"
	AnswerBadCallback  = "Unknown action"
	ConfirmUsage       = "Usage: /confirm <username> <code>"
)

// Resolver applies administrator decisions to verification records.
type Resolver interface {
	Resolve(ctx context.Context, token string, decision domain.Decision, actor string) (domain.Result, error)
	ConfirmByCode(ctx context.Context, username, code, actor string) (string, domain.Result, error)
}

// Actor identifies who pressed a button or sent a command.
type Actor struct {
	ID       int64
	Username string
	Name     string
}

// Label is the name echoed in acknowledgements and stored as the resolver.
func (a Actor) Label() string {
	switch {
	case a.Username != "":
		return "@" + a.Username
	case a.Name != "":
		return a.Name
	}
	return strconv.FormatInt(a.ID, 10)
}

// Reply is what the bot shows after an action. Answer is the short popup (or reply text for
// commands); Edit, when set, replaces the original verification message so its buttons go away.
type Reply struct {
	Answer string
	Edit   string
}

// Handler authorizes actors and resolves verifications.
type Handler struct {
	verifications Resolver
	admins        *rbac.AdminSet
	audit         audit.AuditLogger
}

// NewHandler returns a Handler. auditLogger may be nil.
func NewHandler(verifications Resolver, admins *rbac.AdminSet, auditLogger audit.AuditLogger) *Handler {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{verifications: verifications, admins: admins, audit: auditLogger}
}

// HandleCallback handles an inline button press carrying data.
func (h *Handler) HandleCallback(ctx context.Context, actor Actor, data string) Reply {
	if !h.authorized(ctx, actor) {
		return Reply{Answer: AnswerUnauthorized}
	}
	decision, token, ok := telegram.ParseCallback(data)
	if !ok {
		return Reply{Answer: AnswerBadCallback}
	}
	res, err := h.verifications.Resolve(ctx, token, decision, actor.Label())
	if err != nil {
		logx.FromContext(ctx).Error("bot: resolve failed", "token_prefix", domain.TokenPrefix(token), "error", err)
		return Reply{Answer: AnswerFailed}
	}
	return replyFor(decision, res, actor)
}

// HandleConfirm handles "/confirm <username> <code>"; args is the text after the command.
func (h *Handler) HandleConfirm(ctx context.Context, actor Actor, args string) Reply {
	if !h.authorized(ctx, actor) {
		return Reply{Answer: AnswerUnauthorized}
	}
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return Reply{Answer: ConfirmUsage}
	}
	token, res, err := h.verifications.ConfirmByCode(ctx, fields[0], fields[1], actor.Label())
	if err != nil {
		logx.FromContext(ctx).Error("bot: confirm failed", "error", err)
		return Reply{Answer: AnswerFailed}
	}
	reply := replyFor(domain.DecisionApprove, res, actor)
	if res == domain.Applied {
		logx.FromContext(ctx).Info("bot: login confirmed by code", "token_prefix", domain.TokenPrefix(token), "actor", actor.Label())
		reply.Answer = reply.Edit
		reply.Edit = ""
	}
	return reply
}

func (h *Handler) authorized(ctx context.Context, actor Actor) bool {
	if err := rbac.RequireAdmin(h.admins, actor.ID); err != nil {
		logx.FromContext(ctx).Warn("bot: unauthorized actor", "actor_id", actor.ID)
		h.audit.LogEvent(ctx, "telegram:"+strconv.FormatInt(actor.ID, 10), audit.ActionUnauthorizedChat, "bot", actor.Label())
		return false
	}
	return true
}

func replyFor(decision domain.Decision, res domain.Result, actor Actor) Reply {
	switch res {
	case domain.Applied:
		if decision == domain.DecisionDeny {
			return Reply{Answer: AnswerDenied, Edit: fmt.Sprintf("%s ❌\nBy: %s", AnswerDenied, actor.Label())}
		}
		return Reply{Answer: AnswerApproved, Edit: fmt.Sprintf("%s ✅\nBy: %s", AnswerApproved, actor.Label())}
	case domain.AlreadyResolved:
		return Reply{Answer: AnswerProcessed}
	case domain.Expired:
		return Reply{Answer: AnswerExpired}
	}
	return Reply{Answer: AnswerNotFound}
}
