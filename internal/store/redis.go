package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/roomledger/internal/ledger"
	"github.com/eldtechnologies/roomledger/internal/metrics"
)

// applyScript checks every op before writing so that a batch lands whole
// or not at all. Errors carry the 1-based index of the failing op.
var applyScript = redis.NewScript(`
for i = 1, #KEYS do
	local kind = ARGV[i * 2 - 1]
	if kind == 'create' then
		if redis.call('EXISTS', KEYS[i]) == 1 then
			return redis.error_reply('ADDRESS_IN_USE ' .. i)
		end
	else
		local size = redis.call('STRLEN', KEYS[i])
		if size == 0 then
			return redis.error_reply('NOT_FOUND ' .. i)
		end
		if string.len(ARGV[i * 2]) > size then
			return redis.error_reply('EXCEEDS_SPACE ' .. i)
		end
	end
end
for i = 1, #KEYS do
	local data = ARGV[i * 2]
	if ARGV[i * 2 - 1] == 'update' then
		local size = redis.call('STRLEN', KEYS[i])
		data = data .. string.rep('\0', size - string.len(data))
	end
	redis.call('SET', KEYS[i], data)
end
return 'OK'
`)

// RedisStore keeps records as plain string keys and tracks used nonces.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the record stored at addr.
func (s *RedisStore) Get(ctx context.Context, addr ledger.Address) ([]byte, error) {
	defer observe("redis", "get", time.Now())

	data, err := s.client.Get(ctx, recordKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(addr)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Apply runs the batch as a single Lua script.
func (s *RedisStore) Apply(ctx context.Context, ops ...ledger.Op) error {
	defer observe("redis", "apply", time.Now())

	keys := make([]string, len(ops))
	args := make([]interface{}, 0, len(ops)*2)
	for i, op := range ops {
		keys[i] = recordKey(op.Address)
		data := op.Data
		if op.Kind == ledger.OpCreate {
			if len(op.Data) > op.Space {
				return exceedsSpace(op.Address, len(op.Data), op.Space)
			}
			data = ledger.Pad(op.Data, op.Space)
		}
		args = append(args, op.Kind.String(), data)
	}

	err := applyScript.Run(ctx, s.client, keys, args...).Err()
	if err == nil {
		return nil
	}
	return scriptError(err, ops)
}

// scriptError maps an error reply from applyScript to a store error.
func scriptError(err error, ops []ledger.Op) error {
	fields := strings.Fields(err.Error())
	if len(fields) != 2 {
		return fmt.Errorf("redis apply: %w", err)
	}
	i, convErr := strconv.Atoi(fields[1])
	if convErr != nil || i < 1 || i > len(ops) {
		return fmt.Errorf("redis apply: %w", err)
	}
	addr := ops[i-1].Address

	switch fields[0] {
	case "ADDRESS_IN_USE":
		return addressInUse(addr)
	case "NOT_FOUND":
		return notFound(addr)
	case "EXCEEDS_SPACE":
		return fmt.Errorf("%w: %s", ledger.ErrExceedsSpace, addr)
	}
	return fmt.Errorf("redis apply: %w", err)
}

// UseNonce claims nonce for key with SET NX. A Redis error counts as a
// reused nonce so the request is rejected.
func (s *RedisStore) UseNonce(ctx context.Context, key, nonce string, ttl time.Duration) bool {
	fresh, err := s.client.SetNX(ctx, nonceKey(key, nonce), "1", ttl).Result()
	return err == nil && fresh
}

func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
