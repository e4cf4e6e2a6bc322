package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // default "spider"
	TTL      time.Duration // 0 keeps keys forever
}

// RedisStore mirrors the artifacts into Redis so other hosts can serve them.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL), client, nil
}

func NewRedisStoreWithClient(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "spider"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Key(name string) string { return s.prefix + ":" + name }

// Publish writes every artifact in one MULTI/EXEC so readers never see a
// half-updated set.
func (s *RedisStore) Publish(ctx context.Context, a Artifacts) error {
	runLog, err := json.Marshal(a.RunLog)
	if err != nil {
		return fmt.Errorf("marshal run log: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if a.Full != nil {
			pipe.Set(ctx, s.Key("clash_all"), a.Full.Clash, s.ttl)
			pipe.Set(ctx, s.Key("subscribe_all"), a.Full.Subscription, s.ttl)
		}
		if a.Available != nil {
			pipe.Set(ctx, s.Key("clash"), a.Available.Clash, s.ttl)
			pipe.Set(ctx, s.Key("subscribe"), a.Available.Subscription, s.ttl)
		}
		pipe.Set(ctx, s.Key("runlog"), runLog, s.ttl)
		pipe.LPush(ctx, s.Key("runlogs"), runLog)
		pipe.LTrim(ctx, s.Key("runlogs"), 0, 99)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}
