// Package rbac resolves role-based access decisions. Every authorization
// decision in the service flows through Engine.Authorize, so denies carry a
// distinct machine-readable reason for auditing.
package rbac

import (
	"context"
	"fmt"
	"sync"
)

// Deny reasons. All three produce the same external "deny" outcome; they are
// distinct signals for observability.
type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonRoleUnknown       Reason = "role_unknown"
	ReasonPermissionUnknown Reason = "permission_unknown"
	ReasonNotGranted        Reason = "not_granted"
)

// Decision is the outcome of a single (role, permission) resolution.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Role       string
	Permission string
}

// Snapshot is an immutable view of the binding table at one point in time.
// Resolution is a pure function of the snapshot; callers that hold one get
// deterministic answers.
type Snapshot struct {
	permissions map[string]bool
	roles       map[string]map[string]bool
}

// NewSnapshot builds a snapshot from the known permission names and the
// role → permissions bindings.
func NewSnapshot(permissions []string, bindings map[string][]string) *Snapshot {
	perms := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		perms[p] = true
	}
	roles := make(map[string]map[string]bool, len(bindings))
	for role, granted := range bindings {
		set := make(map[string]bool, len(granted))
		for _, p := range granted {
			set[p] = true
		}
		roles[role] = set
	}
	return &Snapshot{permissions: perms, roles: roles}
}

// Authorize resolves permission ∈ permissions(role). One code path for all
// roles; admin holds a superset because its binding rows say so, not because
// of special-cased code.
func (s *Snapshot) Authorize(role, permission string) Decision {
	d := Decision{Role: role, Permission: permission}
	granted, ok := s.roles[role]
	if !ok {
		d.Reason = ReasonRoleUnknown
		return d
	}
	if !s.permissions[permission] {
		d.Reason = ReasonPermissionUnknown
		return d
	}
	if !granted[permission] {
		d.Reason = ReasonNotGranted
		return d
	}
	d.Allowed = true
	d.Reason = ReasonGranted
	return d
}

// RoleExists reports whether the role has binding rows.
func (s *Snapshot) RoleExists(role string) bool {
	_, ok := s.roles[role]
	return ok
}

// Loader reads the current binding table from storage.
type Loader interface {
	LoadBindings(ctx context.Context) (permissions []string, bindings map[string][]string, err error)
}

// Engine holds the current snapshot. The binding table is read-mostly: reads
// take a pointer under RLock, refresh swaps it via Reload. No per-request
// locking beyond the pointer read.
type Engine struct {
	loader Loader

	mu   sync.RWMutex
	snap *Snapshot
}

// NewEngine returns an engine over loader with an empty snapshot; call
// Reload before serving.
func NewEngine(loader Loader) *Engine {
	return &Engine{loader: loader, snap: NewSnapshot(nil, nil)}
}

// NewStaticEngine returns an engine with a fixed snapshot and no loader.
func NewStaticEngine(snap *Snapshot) *Engine {
	return &Engine{snap: snap}
}

// Reload replaces the snapshot from storage. Explicit invalidation: callers
// decide when bindings changed.
func (e *Engine) Reload(ctx context.Context) error {
	if e.loader == nil {
		return nil
	}
	permissions, bindings, err := e.loader.LoadBindings(ctx)
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	snap := NewSnapshot(permissions, bindings)
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
	return nil
}

// Snapshot returns the current binding snapshot.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// Authorize resolves against the current snapshot.
func (e *Engine) Authorize(role, permission string) Decision {
	return e.Snapshot().Authorize(role, permission)
}

// RoleExists reports whether role exists in the current snapshot.
func (e *Engine) RoleExists(role string) bool {
	return e.Snapshot().RoleExists(role)
}

// PermissionMapper names the permission guarding a resource/action pair.
// The default scheme is "resource:action"; overrides keep the wire contract
// stable when permission names diverge from route names.
type PermissionMapper struct {
	overrides map[string]string
}

// NewPermissionMapper returns a mapper with the given overrides (may be nil).
func NewPermissionMapper(overrides map[string]string) *PermissionMapper {
	return &PermissionMapper{overrides: overrides}
}

// PermissionFor maps (resource, action) to a permission name.
func (m *PermissionMapper) PermissionFor(resource, action string) string {
	key := resource + ":" + action
	if m.overrides != nil {
		if mapped, ok := m.overrides[key]; ok {
			return mapped
		}
	}
	return key
}
