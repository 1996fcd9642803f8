package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gatehouse/cmd/identity/ids"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller. Table names are schema-qualified and
// quoted through pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the identity tables (default "gatehouse").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "gatehouse"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresStore) PrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	return s.principalWhere(ctx, "identity.PrincipalByEmail", "p.email = $1", NormalizeEmail(email))
}

func (s *PostgresStore) PrincipalByID(ctx context.Context, id string) (Principal, error) {
	return s.principalWhere(ctx, "identity.PrincipalByID", "p.id = $1", id)
}

func (s *PostgresStore) principalWhere(ctx context.Context, op, cond string, arg any) (Principal, error) {
	var p Principal
	err := s.pool.QueryRow(ctx,
		`SELECT p.id, p.email, p.display_name, p.password_hash, p.created_at, p.updated_at,
		        COALESCE(array_agg(pr.role_id ORDER BY pr.role_id) FILTER (WHERE pr.role_id IS NOT NULL), '{}')
		   FROM `+s.table("principals")+` p
		   LEFT JOIN `+s.table("principal_roles")+` pr ON pr.principal_id = p.id
		  WHERE `+cond+`
		  GROUP BY p.id`,
		arg,
	).Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.CreatedAt, &p.UpdatedAt, &p.RoleIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Principal{}, NotFoundError{Op: op, Resource: "principal"}
	}
	if err != nil {
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// Permissions resolves the role -> permission join in a single query. A
// principal without roles yields an empty set; an unknown principal yields a
// NotFoundError.
func (s *PostgresStore) Permissions(ctx context.Context, principalID string) ([]string, error) {
	const op = "identity.Permissions"

	var perms []string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(array_agg(DISTINCT rp.permission ORDER BY rp.permission)
		                 FILTER (WHERE rp.permission IS NOT NULL), '{}')
		   FROM `+s.table("principals")+` p
		   LEFT JOIN `+s.table("principal_roles")+` pr ON pr.principal_id = p.id
		   LEFT JOIN `+s.table("role_permissions")+` rp ON rp.role_id = pr.role_id
		  WHERE p.id = $1
		  GROUP BY p.id`,
		principalID,
	).Scan(&perms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundError{Op: op, Resource: "principal"}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return perms, nil
}

func (s *PostgresStore) CreatePrincipal(ctx context.Context, in NewPrincipal) (Principal, error) {
	const op = "identity.CreatePrincipal"

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

	p := Principal{
		ID:           id,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("principals")+` (id, email, display_name, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		p.ID, p.Email, p.DisplayName, p.PasswordHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Principal{}, ConflictError{Op: op, Field: field}
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPrincipals(ctx context.Context, q ListQuery) ([]PrincipalSummary, int, error) {
	const op = "identity.ListPrincipals"

	where, args := pgWhere(q.Filters)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("principals")+` p`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s: count: %w", op, err)
	}

	order := "p.id ASC"
	if def, ok := listFields[q.SortField]; ok {
		dir := "ASC"
		if q.SortDesc {
			dir = "DESC"
		}
		order = "p." + def.column + " " + dir + ", p.id ASC"
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.email, p.display_name, p.created_at, p.updated_at,
		        COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
		   FROM `+s.table("principals")+` p
		   LEFT JOIN `+s.table("principal_roles")+` pr ON pr.principal_id = p.id
		   LEFT JOIN `+s.table("roles")+` r ON r.id = pr.role_id`+
			where+`
		  GROUP BY p.id
		  ORDER BY `+order+`
		  LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PrincipalSummary, error) {
		var p PrincipalSummary
		err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.CreatedAt, &p.UpdatedAt, &p.Roles)
		return p, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return out, total, nil
}

func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	const op = "identity.ListRoles"

	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.name,
		        COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
		   FROM `+s.table("roles")+` r
		   LEFT JOIN `+s.table("role_permissions")+` rp ON rp.role_id = r.id
		  GROUP BY r.id
		  ORDER BY r.name`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		var r Role
		err := row.Scan(&r.ID, &r.Name, &r.Permissions)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) CreateRole(ctx context.Context, name string, permissions []string, now time.Time) (Role, error) {
	const op = "identity.CreateRole"

	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, invalid(op, "name is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Role{}, err
	}
	r := Role{ID: id, Name: name, Permissions: normalizeIDs(permissions)}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("roles")+` (id, name, created_at) VALUES ($1, $2, $3)`,
			r.ID, r.Name, now,
		); err != nil {
			return err
		}
		for _, perm := range r.Permissions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+s.table("role_permissions")+` (role_id, permission) VALUES ($1, $2)`,
				r.ID, perm,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Role{}, ConflictError{Op: op, Field: field}
		}
		return Role{}, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// SetPrincipalRoles deletes the principal's assignments and recreates them in
// one transaction, with the principal row locked to serialize concurrent
// replacements.
func (s *PostgresStore) SetPrincipalRoles(ctx context.Context, principalID string, roleIDs []string, now time.Time) error {
	const op = "identity.SetPrincipalRoles"

	roleIDs = normalizeIDs(roleIDs)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE `+s.table("principals")+` SET updated_at = $2 WHERE id = $1`,
			principalID, now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return NotFoundError{Op: op, Resource: "principal"}
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM `+s.table("principal_roles")+` WHERE principal_id = $1`,
			principalID,
		); err != nil {
			return err
		}
		for _, rid := range roleIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+s.table("principal_roles")+` (principal_id, role_id) VALUES ($1, $2)`,
				principalID, rid,
			); err != nil {
				if pgIsForeignKeyViolation(err) {
					return NotFoundError{Op: op, Resource: "role"}
				}
				return err
			}
		}
		return nil
	})
	var nf NotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// pgWhere renders filters as a WHERE clause with positional arguments.
// Column names come from listFields, never from input.
func pgWhere(filters []Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		def, ok := listFields[f.Field]
		if !ok {
			continue
		}
		col := "p." + def.column
		ph := "$" + strconv.Itoa(len(args)+1)
		switch f.Op {
		case OpContains:
			conds = append(conds, col+" ILIKE "+ph+` ESCAPE '\'`)
			args = append(args, "%"+likeEscape(f.Value)+"%")
		case OpStartsWith:
			conds = append(conds, col+" ILIKE "+ph+` ESCAPE '\'`)
			args = append(args, likeEscape(f.Value)+"%")
		case OpEndsWith:
			conds = append(conds, col+" ILIKE "+ph+` ESCAPE '\'`)
			args = append(args, "%"+likeEscape(f.Value))
		case OpGte:
			conds = append(conds, col+" >= "+ph)
			args = append(args, f.Time)
		case OpLte:
			conds = append(conds, col+" <= "+ph)
			args = append(args, f.Time)
		case OpEq:
			conds = append(conds, col+" = "+ph)
			if def.kind == timeField {
				args = append(args, f.Time)
			} else {
				args = append(args, f.Value)
			}
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string { return likeEscaper.Replace(s) }

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_principals_email" || strings.Contains(c, "email"):
		return "email", true
	case c == "uq_roles_name" || strings.Contains(c, "name"):
		return "role_name", true
	default:
		return "unique", true
	}
}
