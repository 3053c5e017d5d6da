package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlacklist keys blacklist entries by token id with a TTL equal to
// the token's remaining natural lifetime, so Redis prunes entries the
// moment they stop mattering.
type RedisBlacklist struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisBlacklist creates a blacklist under the given key prefix
// (default "abl").
func NewRedisBlacklist(client redis.UniversalClient, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "abl"
	}
	return &RedisBlacklist{redis: client, prefix: prefix}
}

func (s *RedisBlacklist) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

func (s *RedisBlacklist) Add(ctx context.Context, tokenID string, entry BlacklistEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		// Already past natural expiry; nothing to revoke.
		return nil
	}

	// SETNX keeps the first entry under concurrent blacklisting.
	err := s.redis.SetNX(ctx, s.key(tokenID), entry.Reason, ttl).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisBlacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

const revokeIfExistsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

var revokeIfExistsLua = redis.NewScript(revokeIfExistsScript)

// RedisRefreshStore keeps one hash per refresh token plus a per-subject
// id set for bulk revocation. Record TTLs follow token expiry.
type RedisRefreshStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRefreshStore creates a refresh store under the given key
// prefix (default "arf").
func NewRedisRefreshStore(client redis.UniversalClient, prefix string) *RedisRefreshStore {
	if prefix == "" {
		prefix = "arf"
	}
	return &RedisRefreshStore{redis: client, prefix: prefix}
}

func (s *RedisRefreshStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}

func (s *RedisRefreshStore) subjectKey(subjectID string) string {
	return s.prefix + "u:" + subjectID
}

func (s *RedisRefreshStore) Put(ctx context.Context, tokenID string, rec RefreshRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	key := s.key(tokenID)
	revoked := "0"
	if rec.Revoked {
		revoked = "1"
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"sub", rec.SubjectID,
			"fp", rec.Fingerprint,
			"revoked", revoked,
			"exp", rec.ExpiresAt.Unix(),
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.subjectKey(rec.SubjectID), tokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisRefreshStore) Get(ctx context.Context, tokenID string) (RefreshRecord, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RefreshRecord{}, false, nil
		}
		return RefreshRecord{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return RefreshRecord{}, false, nil
	}

	rec := RefreshRecord{
		SubjectID:   fields["sub"],
		Fingerprint: fields["fp"],
		Revoked:     fields["revoked"] == "1",
	}
	return rec, true, nil
}

func (s *RedisRefreshStore) Revoke(ctx context.Context, tokenID string) error {
	err := revokeIfExistsLua.Run(ctx, s.redis, []string{s.key(tokenID)}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisRefreshStore) RevokeAllForSubject(ctx context.Context, subjectID string) (int, error) {
	subjectKey := s.subjectKey(subjectID)

	tokenIDs, err := s.redis.SMembers(ctx, subjectKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked := 0
	var gone []interface{}
	for _, tokenID := range tokenIDs {
		n, runErr := revokeIfExistsLua.Run(ctx, s.redis, []string{s.key(tokenID)}).Int64()
		if runErr != nil && !errors.Is(runErr, redis.Nil) {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, runErr)
		}
		if n == 1 {
			revoked++
			continue
		}
		exists, existsErr := s.redis.Exists(ctx, s.key(tokenID)).Result()
		if existsErr != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, existsErr)
		}
		if exists == 0 {
			gone = append(gone, tokenID)
		}
	}

	// Drop index members whose records expired away.
	if len(gone) > 0 {
		if err := s.redis.SRem(ctx, subjectKey, gone...).Err(); err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return revoked, nil
}
