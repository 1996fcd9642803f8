package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "gatehouse:refresh:"

// RedisStore implements CredentialStore on Redis.
//
// Each credential is a JSON value under <prefix>cred:<hash> that Redis
// expires on its own. A sorted set <prefix>principal:<id>, scored by expiry
// in unix milliseconds, indexes a principal's credentials for sweeping.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

type redisCredential struct {
	PrincipalID string `json:"pid"`
	CreatedAt   int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

func (s *RedisStore) credKey(idHash string) string { return s.prefix + "cred:" + idHash }
func (s *RedisStore) indexKey(principalID string) string {
	return s.prefix + "principal:" + principalID
}

func (s *RedisStore) Create(ctx context.Context, c Credential) error {
	ttl := c.ExpiresAt.Sub(c.CreatedAt)
	if ttl <= 0 {
		// Already expired; nothing a later Find could accept.
		return nil
	}
	payload, err := json.Marshal(redisCredential{
		PrincipalID: c.PrincipalID,
		CreatedAt:   c.CreatedAt.UnixMilli(),
		ExpiresAt:   c.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.credKey(c.IDHash), payload, ttl)
		p.ZAdd(ctx, s.indexKey(c.PrincipalID), redis.Z{Score: float64(c.ExpiresAt.UnixMilli()), Member: c.IDHash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("session.RedisStore.Create: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, idHash string) (Credential, error) {
	raw, err := s.client.Get(ctx, s.credKey(idHash)).Bytes()
	return s.decode(idHash, raw, err)
}

func (s *RedisStore) Delete(ctx context.Context, idHash string) error {
	_, err := s.Consume(ctx, idHash)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		return err
	}
	return nil
}

// Consume uses GETDEL, which Redis executes atomically.
func (s *RedisStore) Consume(ctx context.Context, idHash string) (Credential, error) {
	raw, err := s.client.GetDel(ctx, s.credKey(idHash)).Bytes()
	c, err := s.decode(idHash, raw, err)
	if err != nil {
		return Credential{}, err
	}
	// Index cleanup is best-effort; stale members are pruned by sweeps.
	_ = s.client.ZRem(ctx, s.indexKey(c.PrincipalID), idHash).Err()
	return c, nil
}

func (s *RedisStore) DeleteExpiredForPrincipal(ctx context.Context, principalID string, now time.Time) (int64, error) {
	return s.pruneIndex(ctx, s.indexKey(principalID), now)
}

// DeleteExpired walks every principal index with SCAN.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	iter := s.client.Scan(ctx, 0, s.prefix+"principal:*", 200).Iterator()
	for iter.Next(ctx) {
		n, err := s.pruneIndex(ctx, iter.Val(), now)
		if err != nil {
			return total, err
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("session.RedisStore.DeleteExpired: %w", err)
	}
	return total, nil
}

func (s *RedisStore) pruneIndex(ctx context.Context, index string, now time.Time) (int64, error) {
	upper := strconv.FormatInt(now.UnixMilli(), 10)
	expired, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("session.RedisStore.pruneIndex: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	keys := make([]string, len(expired))
	members := make([]any, len(expired))
	for i, h := range expired {
		keys[i] = s.credKey(h)
		members[i] = h
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		removed = p.ZRem(ctx, index, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("session.RedisStore.pruneIndex: %w", err)
	}
	return removed.Val(), nil
}

func (s *RedisStore) decode(idHash string, raw []byte, err error) (Credential, error) {
	if errors.Is(err, redis.Nil) {
		return Credential{}, ErrCredentialNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("session.RedisStore: %w", err)
	}
	var rc redisCredential
	if err := json.Unmarshal(raw, &rc); err != nil {
		return Credential{}, fmt.Errorf("session.RedisStore: decode: %w", err)
	}
	return Credential{
		IDHash:      idHash,
		PrincipalID: rc.PrincipalID,
		CreatedAt:   time.UnixMilli(rc.CreatedAt).UTC(),
		ExpiresAt:   time.UnixMilli(rc.ExpiresAt).UTC(),
	}, nil
}
