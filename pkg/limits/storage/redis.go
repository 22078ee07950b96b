package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/turnstile/pkg/limits"
)

// incrementScript adds ARGV[1] and, when ARGV[2] is positive, gives a key
// without a TTL that many milliseconds. PTTL returns -1 for exactly that case,
// which keeps the script usable on servers without EXPIRE NX (Redis < 7.0).
var incrementScript = redis.NewScript(`
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return v
`)

// RedisStore implements Store on a shared Redis instance.
// INCRBY is atomic on the server, so counters are linearizable across every
// process that talks to the same Redis. Expiry is native; Sweep is a no-op.
//
// Increments run as a Lua script and need Redis 2.6 or later.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	ownsClient bool
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	// Addr is the Redis address (host:port).
	Addr string

	// Password is the optional AUTH password.
	Password string

	// DB is the database number.
	DB int

	// KeyPrefix is prepended to every counter key.
	// Default: "turnstile:counter:"
	KeyPrefix string

	// PoolSize is the maximum number of socket connections.
	// Default: 10 per CPU (go-redis default).
	PoolSize int

	// DialTimeout, ReadTimeout and WriteTimeout bound network operations.
	// Defaults: 2s, 500ms, 500ms
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DefaultTTL is applied to a counter on creation, atomically with the
	// increment, so a crash before the caller's Expire cannot leak it.
	// 0 disables it.
	DefaultTTL time.Duration
}

// NewRedisStore connects to Redis with the given configuration.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	s := NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.DefaultTTL)
	s.ownsClient = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps ownership
// of the client; Close does not close it.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "turnstile:counter:"
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		defaultTTL: defaultTTL,
	}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

// IncrementAndGet atomically adds amount and returns the new value.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key Key, amount int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, limits.NewStoreError("redis", "increment", key.String(), err)
	}

	rk := s.redisKey(key)

	value, err := incrementScript.Run(ctx, s.client, []string{rk}, amount, s.defaultTTL.Milliseconds()).Int64()
	if err != nil {
		return 0, limits.NewStoreError("redis", "increment", key.String(), classifyRedis(err))
	}

	return value, nil
}

// Peek returns the current value. Missing keys read as 0.
func (s *RedisStore) Peek(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, limits.NewStoreError("redis", "peek", key.String(), err)
	}

	value, err := s.client.Get(ctx, s.redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, limits.NewStoreError("redis", "peek", key.String(), classifyRedis(err))
	}

	return value, nil
}

// Expire sets the key's TTL.
func (s *RedisStore) Expire(ctx context.Context, key Key, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.redisKey(key), ttl).Err(); err != nil {
		return limits.NewStoreError("redis", "expire", key.String(), classifyRedis(err))
	}
	return nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return limits.NewStoreError("redis", "ping", "", classifyRedis(err))
	}
	return nil
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// classifyRedis marks transport failures as outages. Server replies such as
// WRONGTYPE stay unclassified.
func classifyRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return limits.Unavailable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return limits.Unavailable(err)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection pool timeout") ||
		strings.HasPrefix(msg, "LOADING") ||
		strings.HasPrefix(msg, "CLUSTERDOWN") ||
		strings.HasPrefix(msg, "TRYAGAIN") {
		return limits.Unavailable(err)
	}
	return err
}
