package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role-graph configuration errors, detected at construction time.
var (
	ErrDuplicateRole = errors.New("auth: duplicate role")
	ErrRoleCycle     = errors.New("auth: role inheritance cycle")
)

// RoleDefinition declares a role, its direct permission grants and the roles
// it inherits from. Permissions use the resource:action convention; a
// trailing :* grants every action on the resource and *:* grants everything.
type RoleDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	Inherits    []string `json:"inherits,omitempty"`
}

// PermissionDefinition documents a permission for admin surfaces. The
// registry is descriptive only: Check matches textually and never requires
// the permission to be registered.
type PermissionDefinition struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// RBACConfig is the role graph handed to NewResolver. Inheritance is walked
// only when HierarchyEnabled is set; with it off every role resolves to its
// direct grants alone.
type RBACConfig struct {
	Roles            []RoleDefinition
	Permissions      []PermissionDefinition
	HierarchyEnabled bool
}

// PermissionContext carries request-scoped attributes for contextual access
// rules. Evaluated only when no direct or wildcard grant matches.
type PermissionContext struct {
	MunicipalityCode string
}

// DefaultRoles is the built-in role graph used when no custom configuration
// is supplied: admin inherits everything through *:*, editor layers write
// access on viewer, and citizen covers self-service operations.
func DefaultRoles() []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        "admin",
			Description: "Full system access",
			Permissions: []string{"*:*"},
		},
		{
			Name:        "editor",
			Description: "Create and update content",
			Permissions: []string{"documents:create", "documents:update", "documents:delete"},
			Inherits:    []string{"viewer"},
		},
		{
			Name:        "viewer",
			Description: "Read-only access",
			Permissions: []string{"documents:read", "reports:read"},
		},
		{
			Name:        "citizen",
			Description: "Self-service access to own data",
			Permissions: []string{"profile:read", "profile:update", "applications:create", "applications:read"},
		},
		{
			Name:        "caseworker",
			Description: "Municipal case handling",
			Permissions: []string{"applications:read", "applications:update", "applications:assign"},
			Inherits:    []string{"viewer"},
		},
	}
}

// Resolver answers permission questions over an immutable role graph. The
// transitive closure of every role is computed once at construction, so all
// methods are read-only and safe for concurrent use.
type Resolver struct {
	index     map[string]int
	roles     []RoleDefinition
	closure   []map[string]struct{}
	perms     map[string]PermissionDefinition
	hierarchy bool
}

// NewResolver validates the role graph and precomputes each role's permission
// closure. Duplicate role or permission names are configuration errors, as
// are inheritance cycles when the hierarchy is enabled; names inherited but
// never defined are skipped.
func NewResolver(cfg RBACConfig) (*Resolver, error) {
	roles := cfg.Roles
	hierarchy := cfg.HierarchyEnabled
	if len(roles) == 0 {
		// The built-in graph relies on inheritance.
		roles = DefaultRoles()
		hierarchy = true
	}

	r := &Resolver{
		index:     make(map[string]int, len(roles)),
		roles:     make([]RoleDefinition, 0, len(roles)),
		closure:   make([]map[string]struct{}, len(roles)),
		perms:     make(map[string]PermissionDefinition, len(cfg.Permissions)),
		hierarchy: hierarchy,
	}
	for _, perm := range cfg.Permissions {
		name := strings.TrimSpace(perm.Name)
		if name == "" {
			return nil, errors.New("auth: permission with empty name")
		}
		if _, exists := r.perms[name]; exists {
			return nil, fmt.Errorf("auth: duplicate permission %s", name)
		}
		perm.Name = name
		r.perms[name] = perm
	}
	for _, role := range roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return nil, errors.New("auth: role with empty name")
		}
		if _, exists := r.index[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, name)
		}
		role.Name = name
		r.index[name] = len(r.roles)
		r.roles = append(r.roles, role)
	}

	// Resolve closures depth-first. state: 0 unvisited, 1 in progress,
	// 2 done. Revisiting an in-progress node means the graph has a cycle.
	state := make([]int, len(r.roles))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case 1:
			return fmt.Errorf("%w: %s", ErrRoleCycle, r.roles[i].Name)
		case 2:
			return nil
		}
		state[i] = 1
		set := make(map[string]struct{}, len(r.roles[i].Permissions))
		for _, p := range r.roles[i].Permissions {
			if p = strings.TrimSpace(p); p != "" {
				set[p] = struct{}{}
			}
		}
		if r.hierarchy {
			for _, parent := range r.roles[i].Inherits {
				j, ok := r.index[strings.TrimSpace(parent)]
				if !ok {
					continue
				}
				if err := visit(j); err != nil {
					return err
				}
				for p := range r.closure[j] {
					set[p] = struct{}{}
				}
			}
		}
		r.closure[i] = set
		state[i] = 2
		return nil
	}

	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(r.index[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Roles returns the defined role names, sorted.
func (r *Resolver) Roles() []string {
	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Role looks up a role definition by name.
func (r *Resolver) Role(name string) (RoleDefinition, bool) {
	i, ok := r.index[name]
	if !ok {
		return RoleDefinition{}, false
	}
	return r.roles[i], true
}

// Permission looks up a registered permission definition by name.
func (r *Resolver) Permission(name string) (PermissionDefinition, bool) {
	perm, ok := r.perms[name]
	return perm, ok
}

// Permissions returns the registered permission definitions, sorted by name.
func (r *Resolver) Permissions() []PermissionDefinition {
	out := make([]PermissionDefinition, 0, len(r.perms))
	for _, perm := range r.perms {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveRolePermissions returns the role's permission closure (its own
// grants plus everything inherited), sorted. Unknown roles resolve to the
// empty set.
func (r *Resolver) ResolveRolePermissions(roleName string) []string {
	i, ok := r.index[strings.TrimSpace(roleName)]
	if !ok {
		return []string{}
	}
	return sortedSet(r.closure[i])
}

// ResolveUserPermissions returns the union of the closures of every role the
// principal holds plus the principal's direct permission grants, sorted.
func (r *Resolver) ResolveUserPermissions(principal Principal) []string {
	return sortedSet(r.resolved(principal))
}

func (r *Resolver) resolved(principal Principal) map[string]struct{} {
	set := make(map[string]struct{})
	for _, role := range principal.Roles {
		if i, ok := r.index[strings.TrimSpace(role)]; ok {
			for p := range r.closure[i] {
				set[p] = struct{}{}
			}
		}
	}
	for _, p := range principal.Permissions {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// Check reports whether the principal may exercise the permission. A direct
// grant or a wildcard grant wins outright; otherwise, for municipality
// tenants with a municipality-scoped context, access hinges on the codes
// matching.
func (r *Resolver) Check(principal Principal, permission string, pctx *PermissionContext) bool {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return false
	}
	resolved := r.resolved(principal)

	if _, ok := resolved[permission]; ok {
		return true
	}
	for p := range resolved {
		if p == "*:*" {
			return true
		}
		if strings.HasSuffix(p, ":*") && strings.HasPrefix(permission, p[:len(p)-1]) {
			return true
		}
	}

	if pctx != nil && pctx.MunicipalityCode != "" &&
		principal.Tenant != nil && principal.Tenant.Kind == TenantMunicipality {
		return principal.Tenant.MunicipalityCode == pctx.MunicipalityCode
	}
	return false
}

// HasAnyRole reports whether the principal holds at least one of the roles.
func HasAnyRole(principal Principal, roles ...string) bool {
	for _, role := range roles {
		if principal.HasRole(role) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the principal holds every one of the roles.
func HasAllRoles(principal Principal, roles ...string) bool {
	for _, role := range roles {
		if !principal.HasRole(role) {
			return false
		}
	}
	return true
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
