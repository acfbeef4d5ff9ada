package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisRoomSet keeps the registered rooms in one Redis set. SADD is an atomic
// set union, so concurrent registrations from several processes never lose
// an entry.
type RedisRoomSet struct {
	Redis *redis.Client
	Key   string
}

func NewRedisRoomSet(rdb *redis.Client, key string) *RedisRoomSet {
	return &RedisRoomSet{Redis: rdb, Key: key}
}

func (r *RedisRoomSet) AddRoom(ctx context.Context, roomID string) error {
	if err := r.Redis.SAdd(ctx, r.Key, roomID).Err(); err != nil {
		return fmt.Errorf("register room %s: %w", roomID, err)
	}
	return nil
}

func (r *RedisRoomSet) HasRoom(ctx context.Context, roomID string) (bool, error) {
	ok, err := r.Redis.SIsMember(ctx, r.Key, roomID).Result()
	if err != nil {
		return false, fmt.Errorf("look up room %s: %w", roomID, err)
	}
	return ok, nil
}

// ListRooms returns the members sorted, since Redis sets are unordered.
func (r *RedisRoomSet) ListRooms(ctx context.Context) ([]string, error) {
	ids, err := r.Redis.SMembers(ctx, r.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
