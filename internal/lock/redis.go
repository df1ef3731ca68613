package lock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces lease keys in Redis.
const KeyPrefix = "annotree:lock:"

// Only the owner's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis database.
type Redis struct {
	client *redis.Client
	logger *log.Logger
}

func NewRedis(client *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.New(log.Writer(), "[LOCK] ", log.LstdFlags)
	}
	return &Redis{client: client, logger: logger}
}

// Conn dials Redis and checks it answers PING.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	// Taken before the round trip so Expires never outlives the key.
	start := time.Now()
	ok, err := r.client.SetNX(ctx, KeyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{Key: key, Token: token, Expires: start.Add(ttl)}, nil
}

func (r *Redis) Release(ctx context.Context, lease *Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{KeyPrefix + lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", lease.Key, err)
	}
	if n == 0 {
		r.logger.Printf("lease on %s expired before release", lease.Key)
		return ErrNotHeld
	}
	return nil
}

var _ Locker = (*Redis)(nil)
