package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/scott/kvdns/config"
	"github.com/scott/kvdns/storage"
)

// backend is a storage backend the import command can also write to.
type backend interface {
	storage.Backend
	storage.Writer
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (backend, error) {
	switch cfg.Backend {
	case "redis":
		b, err := storage.NewRedisBackend(ctx, storage.RedisOptions{
			URL:      cfg.Redis.URL,
			Addr:     cfg.Redis.Addr,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		log.Infof("using Redis backend at %s", redisTarget(cfg.Redis))
		return b, nil
	case "bolt":
		b, err := storage.OpenBolt(cfg.Bolt.Path)
		if err != nil {
			return nil, err
		}
		log.Infof("using bbolt backend at %s", cfg.Bolt.Path)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func redisTarget(cfg config.RedisConfig) string {
	if cfg.URL != "" {
		return "configured URL"
	}
	return fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
}
