package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisReserver keeps reservations as expiring keys. A reservation lives for
// TTL; a failed key is held for RetryAfter so other workers skip it.
type RedisReserver struct {
	Client     *redis.Client
	Prefix     string
	Owner      string
	TTL        time.Duration
	RetryAfter time.Duration
}

func NewRedisReserver(opt *redis.Options, prefix string, ttl, retryAfter time.Duration) *RedisReserver {
	if prefix == "" {
		prefix = "ephyspipe:job:"
	}
	return &RedisReserver{
		Client:     redis.NewClient(opt),
		Prefix:     prefix,
		Owner:      uuid.NewString(),
		TTL:        ttl,
		RetryAfter: retryAfter,
	}
}

// Only the owner may release or fail its own reservation.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	failScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[3]) > 0 then
		return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	end
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

func (r *RedisReserver) key(table, keyHash string) string {
	return r.Prefix + table + ":" + keyHash
}

func (r *RedisReserver) Reserve(ctx context.Context, table, keyHash string, _ []byte) (bool, error) {
	return r.Client.SetNX(ctx, r.key(table, keyHash), r.Owner, r.TTL).Result()
}

func (r *RedisReserver) Complete(ctx context.Context, table, keyHash string) error {
	return releaseScript.Run(ctx, r.Client, []string{r.key(table, keyHash)}, r.Owner).Err()
}

func (r *RedisReserver) Fail(ctx context.Context, table, keyHash string, cause error) error {
	msg := "error"
	if cause != nil {
		msg = "error: " + cause.Error()
	}
	return failScript.Run(ctx, r.Client, []string{r.key(table, keyHash)},
		r.Owner, msg, r.RetryAfter.Milliseconds()).Err()
}

func (r *RedisReserver) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
