package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkhalev/authcore/token"
)

const touchIfActiveScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "last_active", ARGV[1])
return 1
`

var touchIfActiveLua = redis.NewScript(touchIfActiveScript)

const markInactiveScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0, 0}
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return {1, 0}
end
redis.call("HSET", KEYS[1], "active", "0")
local active = tonumber(redis.call("GET", KEYS[2]) or "0")
if active > 1 then
  redis.call("DECR", KEYS[2])
elseif active == 1 then
  redis.call("DEL", KEYS[2])
end
return {1, 1}
`

var markInactiveLua = redis.NewScript(markInactiveScript)

// RedisStore keeps one hash per session plus a per-subject id set and
// tracked/active counters. Touch and MarkInactive go through Lua so the
// active check and the field write are a single atomic step — a logout
// racing an activity ping always ends inactive.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a session store under the given key prefix
// (default "ass"). ttl bounds how long records are retained; zero means
// no expiry.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ass"
	}
	return &RedisStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisStore) subjectKey(subjectID string) string {
	return s.prefix + "u:" + subjectID
}

func (s *RedisStore) trackedKey() string {
	return s.prefix + ":count"
}

func (s *RedisStore) activeKey() string {
	return s.prefix + ":active"
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	key := s.key(sess.ID)
	active := "0"
	if sess.Active {
		active = "1"
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"sub", sess.SubjectID,
			"email", sess.Email,
			"role", sess.Role,
			"fp", sess.Device.Fingerprint,
			"ua", sess.Device.UserAgent,
			"ip", sess.IP,
			"created", sess.CreatedAt.Unix(),
			"last_active", sess.LastActiveAt.Unix(),
			"active", active,
			"access_tid", sess.AccessTokenID,
			"refresh_tid", sess.RefreshTokenID,
		)
		if s.ttl > 0 {
			pipe.PExpire(ctx, key, s.ttl)
		}
		pipe.SAdd(ctx, s.subjectKey(sess.SubjectID), sess.ID)
		pipe.Incr(ctx, s.trackedKey())
		if sess.Active {
			pipe.Incr(ctx, s.activeKey())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	created, _ := strconv.ParseInt(fields["created"], 10, 64)
	lastActive, _ := strconv.ParseInt(fields["last_active"], 10, 64)

	sess := &Session{
		ID:        sessionID,
		SubjectID: fields["sub"],
		Email:     fields["email"],
		Role:      fields["role"],
		Device: token.DeviceInfo{
			Fingerprint: fields["fp"],
			UserAgent:   fields["ua"],
		},
		IP:             fields["ip"],
		CreatedAt:      time.Unix(created, 0),
		LastActiveAt:   time.Unix(lastActive, 0),
		Active:         fields["active"] == "1",
		AccessTokenID:  fields["access_tid"],
		RefreshTokenID: fields["refresh_tid"],
	}
	return sess, true, nil
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	n, err := touchIfActiveLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		at.Unix(),
	).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) MarkInactive(ctx context.Context, sessionID string) (bool, bool, error) {
	result, err := markInactiveLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.activeKey()},
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return false, false, fmt.Errorf("%w: invalid mark-inactive script response", ErrStoreUnavailable)
	}
	existed, _ := parts[0].(int64)
	transitioned, _ := parts[1].(int64)
	return existed == 1, transitioned == 1, nil
}

func (s *RedisStore) IDsForSubject(ctx context.Context, subjectID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := s.redis.Pipeline()
	trackedCmd := pipe.Get(ctx, s.trackedKey())
	activeCmd := pipe.Get(ctx, s.activeKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	tracked, err := trackedCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	active, err := activeCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tracked < 0 {
		tracked = 0
	}
	if active < 0 {
		active = 0
	}

	return Stats{Tracked: int(tracked), Active: int(active)}, nil
}
