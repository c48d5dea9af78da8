// Package authorizer composes token verification, principal sync, the RBAC
// engine and the step-up MFA policy into a single allow/deny decision. It is
// the one entry point an upstream router calls per request.
package authorizer

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"azkaban/internal/policy/engine"
	"azkaban/internal/rbac"
	"azkaban/internal/security"
	userdomain "azkaban/internal/user/domain"
	usersvc "azkaban/internal/user/service"
)

// Deny reasons surfaced on decisions. Internal logs and audit records see
// these precisely; external callers should only be shown allow/deny.
const (
	ReasonGranted            = "granted"
	ReasonTokenMalformed     = "token_malformed"
	ReasonTokenExpired       = "token_expired"
	ReasonTokenBadSignature  = "token_bad_signature"
	ReasonTokenWrongAudience = "token_wrong_audience"
	ReasonEmailDomain        = "email_domain_not_allowed"
	ReasonDeactivated        = "account_deactivated"
	ReasonRoleUnknown        = "role_unknown"
	ReasonPermissionUnknown  = "permission_unknown"
	ReasonNotGranted         = "not_granted"
	ReasonMFARequired        = "mfa_required"
	ReasonMFAEnrollRequired  = "mfa_enrollment_required"
	ReasonInternal           = "internal_error"
)

// Unenrolled policy modes for MFA-required actions. Explicit configuration,
// no implicit default.
const (
	OnUnenrolledAllow  = "allow"
	OnUnenrolledEnroll = "enroll"
)

// Principal is the derived request context handed downstream on allow.
type Principal struct {
	UserID      string `json:"user_id"`
	ExternalUID string `json:"external_uid"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	Permission  string `json:"permission"`
	MFAEnrolled bool   `json:"mfa_enrolled"`
}

// Request is one authorization check.
type Request struct {
	Token        string
	Resource     string
	Action       string
	MFAAssertion string
}

// Decision is the outcome. Principal is set only on allow.
type Decision struct {
	Allow     bool       `json:"allow"`
	Reason    string     `json:"reason"`
	Principal *Principal `json:"principal,omitempty"`
}

// Directory is the slice of the user service the gateway depends on.
type Directory interface {
	Sync(ctx context.Context, claims *security.Claims) (*userdomain.Principal, error)
}

// AssertionValidator checks a step-up MFA marker for a user.
type AssertionValidator interface {
	Validate(marker, userID string) error
}

// DecisionAuditor records a decision. Best-effort, never returns.
type DecisionAuditor interface {
	LogDecision(ctx context.Context, userID, resource, action string, allowed bool, reason string)
}

// Gateway runs the five evaluation steps in strict order and caches the
// outcome per token fingerprint and target.
type Gateway struct {
	verifier     *security.Verifier
	directory    Directory
	engine       *rbac.Engine
	mapper       *rbac.PermissionMapper
	policy       engine.Evaluator
	assertions   AssertionValidator
	cache        DecisionCache
	auditor      DecisionAuditor
	cacheTTL     time.Duration
	onUnenrolled string
}

// Options carries the optional collaborators; the required ones are
// positional on NewGateway.
type Options struct {
	Cache        DecisionCache
	Auditor      DecisionAuditor
	CacheTTL     time.Duration
	OnUnenrolled string
}

// NewGateway wires the authorization pipeline.
func NewGateway(
	verifier *security.Verifier,
	directory Directory,
	eng *rbac.Engine,
	mapper *rbac.PermissionMapper,
	policy engine.Evaluator,
	assertions AssertionValidator,
	opts Options,
) *Gateway {
	return &Gateway{
		verifier:     verifier,
		directory:    directory,
		engine:       eng,
		mapper:       mapper,
		policy:       policy,
		assertions:   assertions,
		cache:        opts.Cache,
		auditor:      opts.Auditor,
		cacheTTL:     opts.CacheTTL,
		onUnenrolled: opts.OnUnenrolled,
	}
}

// Authorize evaluates req. Storage failures deny with ReasonInternal and are
// never cached; the caller may retry the whole request.
func (g *Gateway) Authorize(ctx context.Context, req Request) Decision {
	ctx, span := otel.Tracer("authorizer").Start(ctx, "gateway.authorize",
		trace.WithAttributes(
			attribute.String("authz.resource", req.Resource),
			attribute.String("authz.action", req.Action),
		))
	defer span.End()

	key := CacheKey(req.Token, req.Resource, req.Action)
	if g.cache != nil {
		if cached, ok := g.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("authz.cache_hit", true))
			return *cached
		}
	}

	d, userID, cacheable := g.evaluate(ctx, req)
	span.SetAttributes(
		attribute.Bool("authz.allow", d.Allow),
		attribute.String("authz.reason", d.Reason),
	)
	if g.auditor != nil {
		g.auditor.LogDecision(ctx, userID, req.Resource, req.Action, d.Allow, d.Reason)
	}
	if cacheable && g.cache != nil {
		g.cache.Set(ctx, key, userID, &d, g.cacheTTL)
	}
	return d
}

func (g *Gateway) evaluate(ctx context.Context, req Request) (d Decision, userID string, cacheable bool) {
	// Step 1: token verification. Pure client input, always cacheable.
	claims, err := g.verifier.Verify(ctx, req.Token)
	if err != nil {
		return deny(tokenReason(err)), "", true
	}

	// Step 2: principal sync. Storage trouble fails closed and is not cached.
	principal, err := g.directory.Sync(ctx, claims)
	if err != nil {
		if errors.Is(err, usersvc.ErrEmailDomainNotAllowed) {
			return deny(ReasonEmailDomain), "", true
		}
		log.Printf("authorizer: sync failed for subject %s: %v", claims.Subject, err)
		return deny(ReasonInternal), "", false
	}
	userID = principal.ID

	// Step 3: activation gate.
	if !principal.IsActive {
		return deny(ReasonDeactivated), userID, true
	}

	// Step 4: role/permission resolution.
	permission := g.mapper.PermissionFor(req.Resource, req.Action)
	rd := g.engine.Authorize(principal.Role, permission)
	if !rd.Allowed {
		return deny(string(rd.Reason)), userID, true
	}

	// Step 5: step-up MFA policy.
	res, err := g.policy.EvaluateMFA(ctx, engine.Input{
		Resource:    req.Resource,
		Action:      req.Action,
		Role:        principal.Role,
		MFAEnrolled: principal.MFAEnrolled,
	})
	if err != nil {
		log.Printf("authorizer: mfa policy eval failed: %v", err)
		return deny(ReasonInternal), userID, false
	}
	if res.MFARequired {
		if principal.MFAEnrolled {
			if err := g.assertions.Validate(req.MFAAssertion, principal.ID); err != nil {
				// Assertions are bearer-scoped and short-lived; do not cache
				// the deny, the very next request may carry a fresh one.
				return deny(ReasonMFARequired), userID, false
			}
		} else if g.onUnenrolled != OnUnenrolledAllow {
			return deny(ReasonMFAEnrollRequired), userID, true
		}
	}

	return Decision{
		Allow:  true,
		Reason: ReasonGranted,
		Principal: &Principal{
			UserID:      principal.ID,
			ExternalUID: principal.ExternalUID,
			Email:       principal.Email,
			Role:        principal.Role,
			Permission:  permission,
			MFAEnrolled: principal.MFAEnrolled,
		},
	}, userID, true
}

func deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, security.ErrTokenBadSignature):
		return ReasonTokenBadSignature
	case errors.Is(err, security.ErrTokenWrongAudience):
		return ReasonTokenWrongAudience
	default:
		return ReasonTokenMalformed
	}
}
