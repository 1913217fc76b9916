package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for unknown, destroyed and expired sessions alike.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps transport failures from Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	defaultPrefix   = "ps"
	defaultLifetime = 7 * 24 * time.Hour
)

// Config controls key layout and session lifetime.
type Config struct {
	Prefix   string
	Lifetime time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Store is a Redis-backed session store. All methods are safe for concurrent
// use; per-session consistency is Redis's single-key atomicity.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	lifetime time.Duration
	now      func() time.Time
}

// NewStore creates a Store. Zero config fields take defaults (prefix "ps",
// seven day lifetime).
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		redis:    client,
		prefix:   cfg.Prefix,
		lifetime: cfg.Lifetime,
		now:      cfg.Now,
	}
}

// Lifetime returns the fixed session lifetime.
func (s *Store) Lifetime() time.Duration {
	return s.lifetime
}

func (s *Store) key(idHash string) string {
	return s.prefix + ":" + idHash
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Create issues a new session for userID with an absolute expiry of
// now+Lifetime.
//
//	Performance: 1 MULTI/EXEC (SET + SADD + PEXPIRE).
func (s *Store) Create(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session user id required")
	}

	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Unix(now.Unix(), 0),
		ExpiresAt: time.Unix(now.Add(s.lifetime).Unix(), 0),
	}
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	idHash := internal.HashToken(id)
	ttl := sess.ExpiresAt.Sub(now)
	userKey := s.userKey(userID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(idHash), data, ttl)
		pipe.SAdd(ctx, userKey, idHash)
		pipe.PExpire(ctx, userKey, s.lifetime)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// Resolve returns the live session for id. Unknown, destroyed and expired
// identifiers all yield ErrNotFound. Resolve never extends the expiry.
//
//	Performance: 1 Redis GET.
func (s *Store) Resolve(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	idHash := internal.HashToken(id)
	data, err := s.redis.Get(ctx, s.key(idHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		_ = s.deleteRecord(ctx, idHash, "")
		return nil, ErrNotFound
	}
	sess.ID = id

	if sess.Expired(s.now()) {
		if err := s.deleteRecord(ctx, idHash, sess.UserID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// Destroy removes the session. Destroying an unknown session is not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	idHash := internal.HashToken(id)
	data, err := s.redis.Get(ctx, s.key(idHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	userID := ""
	if sess, decErr := Decode(data); decErr == nil {
		userID = sess.UserID
	}
	return s.deleteRecord(ctx, idHash, userID)
}

// DestroyAllForUser removes every session of userID except keepID (which may
// be empty) and returns how many were removed.
//
// A session created concurrently with this call may survive it. Callers that
// deactivate a user also flip the user's active flag, which the resolver
// checks on every request.
func (s *Store) DestroyAllForUser(ctx context.Context, userID, keepID string) (int, error) {
	userKey := s.userKey(userID)

	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keepHash := ""
	if keepID != "" {
		keepHash = internal.HashToken(keepID)
	}

	keys := make([]string, 0, len(hashes))
	members := make([]interface{}, 0, len(hashes))
	for _, h := range hashes {
		if h == keepHash {
			continue
		}
		keys = append(keys, s.key(h))
		members = append(members, h)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(delCmd.Val()), nil
}

// ActiveSessionCount returns the number of indexed sessions for userID.
// Expired-but-unswept entries may be included.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Ping checks Redis availability and returns the round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteRecord(ctx context.Context, idHash, userID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(idHash))
		if userID != "" {
			pipe.SRem(ctx, s.userKey(userID), idHash)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
