// Package storage holds the redis client and the small list helpers the
// inbox and the event bus share. Redis is optional everywhere: callers keep
// working with a nil client, they just lose durability.
package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klaxonhq/klaxon/pkg/tlsx"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	UseTLS   bool
	tlsx.ClientConfig
	RedisType        string
	MasterName       string
	SentinelUsername string
	SentinelPassword string
}

type Redis redis.Cmdable

// NewRedis connects according to RedisType and pings before returning, so a
// bad address fails at boot instead of on the first write.
func NewRedis(cfg RedisConfig) (Redis, error) {
	var tlsConfig *tls.Config
	if cfg.UseTLS {
		var err error
		tlsConfig, err = cfg.TLSConfig()
		if err != nil {
			return nil, fmt.Errorf("bad redis tls config: %v", err)
		}
	}

	var client Redis
	switch cfg.RedisType {
	case "standalone", "":
		client = redis.NewClient(&redis.Options{
			Addr:      cfg.Address,
			Username:  cfg.Username,
			Password:  cfg.Password,
			DB:        cfg.DB,
			TLSConfig: tlsConfig,
		})
	case "cluster":
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     strings.Split(cfg.Address, ","),
			Username:  cfg.Username,
			Password:  cfg.Password,
			TLSConfig: tlsConfig,
		})
	case "sentinel":
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterName,
			SentinelAddrs:    strings.Split(cfg.Address, ","),
			Username:         cfg.Username,
			Password:         cfg.Password,
			DB:               cfg.DB,
			SentinelUsername: cfg.SentinelUsername,
			SentinelPassword: cfg.SentinelPassword,
			TLSConfig:        tlsConfig,
		})
	default:
		return nil, fmt.Errorf("unknown redis type %q", cfg.RedisType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %v", err)
	}
	return client, nil
}

func LPush(ctx context.Context, r Redis, key string, values ...interface{}) error {
	return r.LPush(ctx, key, values...).Err()
}

func LTrim(ctx context.Context, r Redis, key string, start, stop int64) error {
	return r.LTrim(ctx, key, start, stop).Err()
}

func LLen(ctx context.Context, r Redis, key string) (int64, error) {
	return r.LLen(ctx, key).Result()
}

// RangeList reads a slice of a list and unmarshals each element to T.
// Elements that fail to decode are skipped, one corrupt entry should not
// hide the rest of the list.
func RangeList[T any](ctx context.Context, r Redis, key string, start, stop int64) ([]T, error) {
	vals, err := r.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	res := make([]T, 0, len(vals))
	for _, v := range vals {
		var item T
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			continue
		}
		res = append(res, item)
	}
	return res, nil
}
