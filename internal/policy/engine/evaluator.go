// Package engine decides whether an action needs a step-up MFA proof on top
// of the role check. The decision is a Rego policy so operators can tighten
// or relax it without a deploy.
package engine

import "context"

// Input is the evaluation context handed to the policy.
type Input struct {
	Resource    string
	Action      string
	Role        string
	MFAEnrolled bool
}

// Result holds the outcome of an MFA policy evaluation.
type Result struct {
	MFARequired bool
}

// Evaluator evaluates the step-up MFA policy for a request.
type Evaluator interface {
	EvaluateMFA(ctx context.Context, in Input) (Result, error)
}
