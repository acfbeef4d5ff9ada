package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRoomSet(t *testing.T) (*RedisRoomSet, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisRoomSet(rdb, "roomrelay:rooms"), mr
}

func TestRedisRoomSet_AddHasList(t *testing.T) {
	set, mr := newRedisRoomSet(t)
	ctx := context.Background()

	ok, err := set.HasRoom(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, set.AddRoom(ctx, "R2"))
	require.NoError(t, set.AddRoom(ctx, "R1"))
	require.NoError(t, set.AddRoom(ctx, "R1"))

	ok, err = set.HasRoom(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, ok)

	rooms, err := set.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, rooms)

	members, err := mr.Members("roomrelay:rooms")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

// TestRedisRoomSet_SharedAcrossClients simulates two server processes
// registering rooms at the same moment.
func TestRedisRoomSet_SharedAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	var sets []*RedisRoomSet
	for i := 0; i < 2; i++ {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		sets = append(sets, NewRedisRoomSet(rdb, "rooms"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, sets[i%2].AddRoom(ctx, fmt.Sprintf("room-%02d", i)))
		}(i)
	}
	wg.Wait()

	rooms, err := sets[0].ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 50)
}

func TestRedisRoomSet_Unavailable(t *testing.T) {
	set, mr := newRedisRoomSet(t)
	mr.Close()

	_, err := set.HasRoom(context.Background(), "R1")
	assert.Error(t, err)
}
