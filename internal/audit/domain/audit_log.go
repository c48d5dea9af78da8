package domain

import "time"

// DecisionLog is one authorization decision record (stored in audit_logs).
// Reason carries the precise internal deny reason; external callers only
// ever see the boolean outcome.
type DecisionLog struct {
	ID        string
	UserID    string
	Resource  string
	Action    string
	Outcome   string
	Reason    string
	IP        string
	CreatedAt time.Time
}

// Outcomes.
const (
	OutcomeAllow = "allow"
	OutcomeDeny  = "deny"
)
