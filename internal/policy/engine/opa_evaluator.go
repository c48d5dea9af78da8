package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.azkaban.authz.mfa_required"

// Default Rego policy: mutations to other principals' accounts need a fresh
// MFA proof; reads and self-service operations do not.
const defaultRegoPolicy = `package azkaban.authz

default mfa_required = false

mfa_required if {
	input.resource == "users"
	input.action in {"update_role", "update_status"}
}
`

// OPAEvaluator evaluates the step-up MFA policy with in-process OPA Rego.
// The policy is compiled once at construction and reused for every request.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles customPolicy, or the default policy when
// customPolicy is empty. A policy that does not compile is a startup error,
// not a per-request one.
func NewOPAEvaluator(customPolicy string) (*OPAEvaluator, error) {
	source := customPolicy
	if source == "" {
		source = defaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile mfa policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("prepare mfa policy query: %w", err)
	}
	return &OPAEvaluator{query: query}, nil
}

// EvaluateMFA reports whether the request needs a step-up MFA proof.
// An undefined result means the policy does not speak to this request and is
// treated as not required.
func (e *OPAEvaluator) EvaluateMFA(ctx context.Context, in Input) (Result, error) {
	input := map[string]interface{}{
		"resource": in.Resource,
		"action":   in.Action,
		"principal": map[string]interface{}{
			"role":         in.Role,
			"mfa_enrolled": in.MFAEnrolled,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Result{}, fmt.Errorf("eval mfa policy: %w", err)
	}
	out := Result{}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if v, ok := rs[0].Expressions[0].Value.(bool); ok {
			out.MFARequired = v
		}
	}
	return out, nil
}

// HealthCheck verifies the default policy still compiles and evaluates.
// Does not touch storage.
func HealthCheck(ctx context.Context) error {
	ev, err := NewOPAEvaluator("")
	if err != nil {
		return err
	}
	if _, err := ev.EvaluateMFA(ctx, Input{Resource: "users", Action: "list", Role: "admin"}); err != nil {
		return err
	}
	return nil
}
