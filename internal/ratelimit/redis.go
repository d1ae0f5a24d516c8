package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills whole tokens since ts, takes one if available and
// returns {allowed, waitMs}. The caller supplies now so every process agrees
// on the same clock source.
var tokenBucket = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  local gained = math.floor((now - ts) / refill)
  if gained > 0 then
    tokens = math.min(capacity, tokens + gained)
    ts = ts + gained * refill
  end
end
if tokens >= capacity then
  ts = now
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = refill - (now - ts)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', KEYS[1], capacity * refill)
return {allowed, wait}
`)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Redis shares buckets between processes through one Redis instance.
type Redis struct {
	client   *redis.Client
	policies map[Endpoint]Policy
	prefix   string
	now      func() time.Time
}

func NewRedis(ctx context.Context, opts RedisOptions, policies map[Endpoint]Policy) (*Redis, error) {
	const op = "ratelimit.NewRedis"
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewRedisWithClient(client, policies), nil
}

func NewRedisWithClient(client *redis.Client, policies map[Endpoint]Policy) *Redis {
	return &Redis{client: client, policies: policies, prefix: "rl:", now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, endpoint Endpoint, key string) (Decision, error) {
	const op = "ratelimit.Redis.Allow"
	p, ok := r.policies[endpoint]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	refill := p.Refill.Milliseconds()
	if refill < 1 {
		refill = 1
	}

	res, err := tokenBucket.Run(ctx, r.client,
		[]string{r.prefix + string(endpoint) + ":" + key},
		p.Capacity, refill, r.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%s: unexpected script reply %v", op, res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
