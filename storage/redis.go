package storage

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	// URL takes precedence over Addr/Port when set, e.g. redis://:pw@host:6379/0
	URL      string
	Addr     string
	Port     int
	Password string
	DB       int
	// Prefix is prepended to every row-set key.
	Prefix string
}

// RedisBackend stores each row-set as a Redis LIST at <prefix><key>:<TYPE>.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	var options *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		options = parsed
	} else {
		port := opts.Port
		if port == 0 {
			port = 6379
		}
		options = &redis.Options{
			Addr:     net.JoinHostPort(opts.Addr, strconv.Itoa(port)),
			Password: opts.Password,
			DB:       opts.DB,
		}
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connecting to redis at %s: %v", ErrStore, options.Addr, err)
	}
	return NewRedisBackendFromClient(client, opts.Prefix), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(key string, t RecordType) string {
	return b.prefix + rowSetKey(key, t)
}

// Read issues one pipelined LRANGE per key.
func (b *RedisBackend) Read(ctx context.Context, keys []string, t RecordType) ([][][]byte, error) {
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.LRange(ctx, b.key(k, t), 0, -1)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	out := make([][][]byte, len(keys))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		rows := make([][]byte, len(vals))
		for j, v := range vals {
			rows[j] = []byte(v)
		}
		out[i] = rows
	}
	return out, nil
}

// Replace swaps the list in a MULTI/EXEC transaction.
func (b *RedisBackend) Replace(ctx context.Context, key string, t RecordType, rows [][]byte) error {
	k := b.key(key, t)
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		if len(rows) > 0 {
			vals := make([]any, len(rows))
			for i, r := range rows {
				vals[i] = r
			}
			p.RPush(ctx, k, vals...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrStore, k, err)
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
