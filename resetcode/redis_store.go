package resetcode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const validateCodeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
local max = tonumber(redis.call("HGET", KEYS[1], "max") or "0")
if attempts > max then
  redis.call("DEL", KEYS[1])
  return -2
end
if redis.call("HGET", KEYS[1], "hash") == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

var validateCodeLua = redis.NewScript(validateCodeScript)

// RedisStore keeps one pending code hash per subject. Attempt counting,
// matching, and single-use consumption are one Lua step, so concurrent
// validations cannot double-spend a code.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a code store under the given key prefix
// (default "arc").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arc"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(subjectID string) string {
	return s.prefix + ":" + subjectID
}

func (s *RedisStore) Issue(ctx context.Context, subjectID, code string, ttl time.Duration, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	hash := sha256.Sum256([]byte(code))
	key := s.key(subjectID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"hash", hex.EncodeToString(hash[:]),
			"attempts", 0,
			"max", maxAttempts,
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Validate(ctx context.Context, subjectID, code string) (bool, error) {
	hash := sha256.Sum256([]byte(code))

	status, err := validateCodeLua.Run(ctx, s.redis,
		[]string{s.key(subjectID)},
		hex.EncodeToString(hash[:]),
	).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case 1:
		return true, nil
	case -2:
		return false, ErrAttemptsExceeded
	default:
		return false, nil
	}
}
