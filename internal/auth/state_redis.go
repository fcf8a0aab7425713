package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const stateKeyPrefix = "portal:login_state:"

// RedisStateStore shares login states across API replicas. Redis key
// expiry takes the place of the in-process sweep.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewRedisStateStore builds a store on an existing client.
func NewRedisStateStore(client *redis.Client, ttl time.Duration, clock clockwork.Clock, logger *zap.Logger) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStateStore{client: client, ttl: ttl, clock: clock, logger: logger}
}

// Create generates a new state token.
func (s *RedisStateStore) Create() (string, error) {
	return NewState()
}

// Register stores state with the configured TTL. The stored value is the
// absolute expiry in unix milliseconds.
func (s *RedisStateStore) Register(ctx context.Context, state string) error {
	expiresAt := s.clock.Now().Add(s.ttl).UnixMilli()
	ok, err := s.client.SetNX(ctx, stateKeyPrefix+state, expiresAt, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateExists
	}
	return nil
}

// Consume atomically fetches and deletes state (GETDEL), then re-checks
// the stored expiry.
func (s *RedisStateStore) Consume(ctx context.Context, state string) bool {
	if state == "" {
		return false
	}
	raw, err := s.client.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		s.logger.Warn("login state consume failed", zap.Error(err))
		return false
	}
	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return s.clock.Now().UnixMilli() <= expiresAt
}
