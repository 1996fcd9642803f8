package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements CredentialStore over <schema>.refresh_credentials.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a Postgres-backed credential store. The pool is
// owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, schema string) *PostgresStore {
	return &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{schema, "refresh_credentials"}.Sanitize(),
	}
}

func (s *PostgresStore) Create(ctx context.Context, c Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (id_hash, principal_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, c.IDHash, c.PrincipalID, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.Create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, idHash string) (Credential, error) {
	return scanCredential(s.pool.QueryRow(ctx, `
		SELECT id_hash, principal_id, created_at, expires_at
		FROM `+s.table+`
		WHERE id_hash = $1
	`, idHash))
}

func (s *PostgresStore) Delete(ctx context.Context, idHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE id_hash = $1`, idHash)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.Delete: %w", err)
	}
	return nil
}

// Consume relies on DELETE ... RETURNING: the row lock taken by the first
// delete makes concurrent deletes of the same key see zero rows.
func (s *PostgresStore) Consume(ctx context.Context, idHash string) (Credential, error) {
	return scanCredential(s.pool.QueryRow(ctx, `
		DELETE FROM `+s.table+`
		WHERE id_hash = $1
		RETURNING id_hash, principal_id, created_at, expires_at
	`, idHash))
}

func (s *PostgresStore) DeleteExpiredForPrincipal(ctx context.Context, principalID string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table+`
		WHERE principal_id = $1 AND expires_at <= $2
	`, principalID, now)
	if err != nil {
		return 0, fmt.Errorf("session.PostgresStore.DeleteExpiredForPrincipal: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("session.PostgresStore.DeleteExpired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var c Credential
	err := row.Scan(&c.IDHash, &c.PrincipalID, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	return c, nil
}
