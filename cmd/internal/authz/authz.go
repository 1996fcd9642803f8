// Package authz decides whether a permission set satisfies an operation's
// declared requirement.
//
// Evaluation is pure: no I/O, no mutation. The HTTP guard in this package
// only adapts the decision to a request and never looks anything up.
package authz

import "strings"

// Permission names used by the built-in administrative routes.
const (
	AdminRead  = "admin:read"
	AdminWrite = "admin:write"
)

// Authorize reports whether every required permission is present in
// granted. An empty requirement is always satisfied. Names are compared
// after trimming and lower-casing; blank names are ignored on both sides.
func Authorize(granted, required []string) bool {
	want := normalizedSet(required)
	if len(want) == 0 {
		return true
	}
	have := normalizedSet(granted)
	for p := range want {
		if _, ok := have[p]; !ok {
			return false
		}
	}
	return true
}

// AuthorizeAny reports whether at least one required permission is present
// in granted. An empty requirement is always satisfied.
func AuthorizeAny(granted, required []string) bool {
	want := normalizedSet(required)
	if len(want) == 0 {
		return true
	}
	for p := range normalizedSet(granted) {
		if _, ok := want[p]; ok {
			return true
		}
	}
	return false
}

// Requirement is the permission set declared for one operation. It is
// registered next to the handler it protects.
type Requirement struct {
	perms []string
	any   bool
}

// AllOf requires every listed permission.
func AllOf(perms ...string) Requirement {
	return Requirement{perms: normalizeList(perms)}
}

// AnyOf requires at least one listed permission.
func AnyOf(perms ...string) Requirement {
	return Requirement{perms: normalizeList(perms), any: true}
}

// Authenticated is the empty requirement: any verified principal passes.
func Authenticated() Requirement { return Requirement{} }

// Allows evaluates the requirement against granted.
func (r Requirement) Allows(granted []string) bool {
	if r.any {
		return AuthorizeAny(granted, r.perms)
	}
	return Authorize(granted, r.perms)
}

// Permissions returns a copy of the declared names.
func (r Requirement) Permissions() []string {
	return append([]string(nil), r.perms...)
}

func (r Requirement) String() string {
	if len(r.perms) == 0 {
		return "authenticated"
	}
	sep := "&"
	if r.any {
		sep = "|"
	}
	return strings.Join(r.perms, sep)
}

func normalize(p string) string {
	return strings.TrimSpace(p)
}

func normalizedSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, p := range in {
		if p = normalize(p); p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = normalize(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
