package identity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse/cmd/identity/ids"
)

// MemoryStore is a Store kept in process memory. It is safe for concurrent
// use and returns copies, never references into its maps.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[string]Principal // by id
	byEmail    map[string]string    // normalized email -> id
	roles      map[string]Role      // by id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]Principal),
		byEmail:    make(map[string]string),
		roles:      make(map[string]Role),
	}
}

func (s *MemoryStore) PrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Principal{}, NotFoundError{Op: "identity.PrincipalByEmail", Resource: "principal"}
	}
	return clonePrincipal(s.principals[id]), nil
}

func (s *MemoryStore) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return Principal{}, NotFoundError{Op: "identity.PrincipalByID", Resource: "principal"}
	}
	return clonePrincipal(p), nil
}

func (s *MemoryStore) Permissions(ctx context.Context, principalID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[principalID]
	if !ok {
		return nil, NotFoundError{Op: "identity.Permissions", Resource: "principal"}
	}

	set := make(map[string]struct{})
	for _, rid := range p.RoleIDs {
		for _, perm := range s.roles[rid].Permissions {
			set[perm] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, in NewPrincipal) (Principal, error) {
	const op = "identity.CreatePrincipal"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	email := NormalizeEmail(in.Email)
	if email == "" {
		return Principal{}, invalid(op, "email is required")
	}
	if in.PasswordHash == "" {
		return Principal{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return Principal{}, ConflictError{Op: op, Field: "email"}
	}

	p := Principal{
		ID:           id,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.principals[id] = p
	s.byEmail[email] = id
	return clonePrincipal(p), nil
}

func (s *MemoryStore) ListPrincipals(ctx context.Context, q ListQuery) ([]PrincipalSummary, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]PrincipalSummary, 0, len(s.principals))
	for _, p := range s.principals {
		sum := s.summaryLocked(p)
		if matchesAll(q.Filters, sum) {
			matched = append(matched, sum)
		}
	}

	slices.SortFunc(matched, func(a, b PrincipalSummary) int {
		c := compareBy(a, b, q.SortField)
		if q.SortDesc {
			return -c
		}
		return c
	})

	total := len(matched)
	lo := min(q.Offset, total)
	hi := min(lo+q.Limit, total)
	return matched[lo:hi], total, nil
}

func (s *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	slices.SortFunc(out, func(a, b Role) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *MemoryStore) CreateRole(ctx context.Context, name string, permissions []string, now time.Time) (Role, error) {
	const op = "identity.CreateRole"

	if err := ctx.Err(); err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, invalid(op, "name is required")
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Role{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return Role{}, ConflictError{Op: op, Field: "role_name"}
		}
	}
	r := Role{ID: id, Name: name, Permissions: normalizeIDs(permissions)}
	s.roles[id] = r
	return cloneRole(r), nil
}

func (s *MemoryStore) SetPrincipalRoles(ctx context.Context, principalID string, roleIDs []string, now time.Time) error {
	const op = "identity.SetPrincipalRoles"

	if err := ctx.Err(); err != nil {
		return err
	}
	roleIDs = normalizeIDs(roleIDs)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[principalID]
	if !ok {
		return NotFoundError{Op: op, Resource: "principal"}
	}
	for _, rid := range roleIDs {
		if _, ok := s.roles[rid]; !ok {
			return NotFoundError{Op: op, Resource: "role"}
		}
	}

	p.RoleIDs = roleIDs
	if !now.IsZero() {
		p.UpdatedAt = now
	}
	s.principals[principalID] = p
	return nil
}

func (s *MemoryStore) summaryLocked(p Principal) PrincipalSummary {
	names := make([]string, 0, len(p.RoleIDs))
	for _, rid := range p.RoleIDs {
		if r, ok := s.roles[rid]; ok {
			names = append(names, r.Name)
		}
	}
	return PrincipalSummary{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Roles:       names,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func matchesAll(filters []Filter, p PrincipalSummary) bool {
	for _, f := range filters {
		if !f.match(p) {
			return false
		}
	}
	return true
}

func clonePrincipal(p Principal) Principal {
	p.RoleIDs = slices.Clone(p.RoleIDs)
	return p
}

func cloneRole(r Role) Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}
