package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/storage"
)

// OpenStore returns the backing set selected by registry.backend. The
// returned func releases any connection OpenStore made.
func OpenStore(ctx context.Context, cfg *config.Config, db *storage.Service) (Store, func(), error) {
	switch cfg.Registry.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		log.L().Info().Str("address", cfg.Redis.Address).Msg("room registry backed by redis")
		return storage.NewRedisRoomSet(rdb, cfg.Redis.RoomsKey), func() { rdb.Close() }, nil
	case "database", "":
		return db, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("registry.backend: unsupported backend %q", cfg.Registry.Backend)
	}
}
