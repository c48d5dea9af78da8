package engine

import (
	"context"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	ev, err := NewOPAEvaluator("")
	if err != nil {
		t.Fatalf("compile default policy: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		resource string
		action   string
		want     bool
	}{
		{"users", "update_role", true},
		{"users", "update_status", true},
		{"users", "list", false},
		{"users", "read_self", false},
		{"mfa", "manage", false},
	}
	for _, tc := range cases {
		got, err := ev.EvaluateMFA(ctx, Input{Resource: tc.resource, Action: tc.action, Role: "admin"})
		if err != nil {
			t.Fatalf("EvaluateMFA(%s:%s): %v", tc.resource, tc.action, err)
		}
		if got.MFARequired != tc.want {
			t.Errorf("mfa_required(%s:%s) = %v, want %v", tc.resource, tc.action, got.MFARequired, tc.want)
		}
	}
}

func TestCustomPolicy(t *testing.T) {
	const policy = `package azkaban.authz

default mfa_required = false

mfa_required if {
	input.principal.role == "admin"
}
`
	ev, err := NewOPAEvaluator(policy)
	if err != nil {
		t.Fatalf("compile custom policy: %v", err)
	}
	ctx := context.Background()

	got, err := ev.EvaluateMFA(ctx, Input{Resource: "users", Action: "list", Role: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.MFARequired {
		t.Fatal("custom policy should require mfa for admins")
	}
	got, err = ev.EvaluateMFA(ctx, Input{Resource: "users", Action: "list", Role: "user"})
	if err != nil {
		t.Fatal(err)
	}
	if got.MFARequired {
		t.Fatal("custom policy should not require mfa for users")
	}
}

func TestBadPolicyRejectedAtConstruction(t *testing.T) {
	if _, err := NewOPAEvaluator("package azkaban.authz\nmfa_required {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestHealthCheck(t *testing.T) {
	if err := HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check: %v", err)
	}
}
