// Package audit records every authorization decision. Writes are
// best-effort: an audit outage never turns into a request failure.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"azkaban/internal/audit/domain"
	"azkaban/internal/audit/producer"
	auditrepo "azkaban/internal/audit/repository"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// DecisionLogger records one authorization decision. Best-effort: failures
// are logged and do not affect the caller.
type DecisionLogger interface {
	LogDecision(ctx context.Context, userID, resource, action string, allowed bool, reason string)
}

// Logger implements DecisionLogger over the audit repository, an optional
// event producer and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	producer    producer.Producer
	ipExtractor IPExtractor
	nowF        func() time.Time
}

// NewLogger returns a DecisionLogger persisting to repo. producer and
// ipExtractor may be nil; without an extractor the IP is recorded as
// "unknown".
func NewLogger(repo auditrepo.Repository, prod producer.Producer, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, producer: prod, ipExtractor: ipExtractor, nowF: time.Now}
}

// LogDecision writes one decision record and publishes the event. Errors are
// logged and not returned.
func (l *Logger) LogDecision(ctx context.Context, userID, resource, action string, allowed bool, reason string) {
	outcome := domain.OutcomeDeny
	if allowed {
		outcome = domain.OutcomeAllow
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	entry := &domain.DecisionLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Resource:  resource,
		Action:    action,
		Outcome:   outcome,
		Reason:    reason,
		IP:        ip,
		CreatedAt: l.nowF().UTC(),
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, entry); err != nil {
			log.Printf("audit: failed to log decision %s %s:%s: %v", outcome, resource, action, err)
		}
	}
	if l.producer != nil {
		if err := l.producer.Emit(ctx, entry); err != nil {
			log.Printf("audit: failed to publish decision event: %v", err)
		}
	}
}
