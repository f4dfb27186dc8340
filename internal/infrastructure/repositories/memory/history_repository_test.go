package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrelay/internal/core/domain"
)

func testEvent(room string, seq int) *domain.Event {
	return &domain.Event{
		Type:       domain.EventTypeTranscription,
		RoomID:     domain.RoomID(room),
		PeerID:     "peer-1",
		ProducerID: "prod-1",
		Timestamp:  int64(seq),
		Data:       fmt.Sprintf("entry-%d", seq),
	}
}

func TestMemoryHistoryAppendAndRecent(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Hour)
	defer repo.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(context.Background(), testEvent("room-1", i)))
	}

	events, err := repo.Recent(context.Background(), "room-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, int64(2), events[0].Timestamp)
	assert.Equal(t, int64(0), events[2].Timestamp)
}

func TestMemoryHistoryWindowTrimsOldest(t *testing.T) {
	repo := NewMemoryHistoryRepository(3, time.Hour)
	defer repo.Close()

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Append(context.Background(), testEvent("room-1", i)))
	}

	events, err := repo.Recent(context.Background(), "room-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(6), events[0].Timestamp)
	assert.Equal(t, int64(4), events[2].Timestamp)
}

func TestMemoryHistoryRecentLimit(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Hour)
	defer repo.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(context.Background(), testEvent("room-1", i)))
	}

	events, err := repo.Recent(context.Background(), "room-1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].Timestamp)
	assert.Equal(t, int64(3), events[1].Timestamp)
}

func TestMemoryHistoryRoomsIsolated(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Hour)
	defer repo.Close()

	require.NoError(t, repo.Append(context.Background(), testEvent("room-1", 1)))
	require.NoError(t, repo.Append(context.Background(), testEvent("room-2", 2)))

	events, err := repo.Recent(context.Background(), "room-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.RoomID("room-1"), events[0].RoomID)
}

func TestMemoryHistoryRoomsListing(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Hour)
	defer repo.Close()

	rooms, err := repo.Rooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)

	require.NoError(t, repo.Append(context.Background(), testEvent("room-1", 1)))
	require.NoError(t, repo.Append(context.Background(), testEvent("room-2", 2)))
	require.NoError(t, repo.Append(context.Background(), testEvent("room-1", 3)))

	rooms, err = repo.Rooms(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.RoomID{"room-1", "room-2"}, rooms)

	require.NoError(t, repo.Clear(context.Background(), "room-1"))

	rooms, err = repo.Rooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.RoomID{"room-2"}, rooms)
}

func TestMemoryHistoryUnknownRoomEmpty(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Hour)
	defer repo.Close()

	events, err := repo.Recent(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryHistoryClear(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Hour)
	defer repo.Close()

	require.NoError(t, repo.Append(context.Background(), testEvent("room-1", 1)))
	require.NoError(t, repo.Clear(context.Background(), "room-1"))

	events, err := repo.Recent(context.Background(), "room-1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryHistoryExpiresIdleRooms(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Minute).(*MemoryHistoryRepository)
	defer repo.Close()

	require.NoError(t, repo.Append(context.Background(), testEvent("room-1", 1)))

	repo.removeExpired(time.Now().Add(2 * time.Minute))

	events, err := repo.Recent(context.Background(), "room-1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryHistoryActiveRoomSurvivesSweep(t *testing.T) {
	repo := NewMemoryHistoryRepository(10, time.Minute).(*MemoryHistoryRepository)
	defer repo.Close()

	require.NoError(t, repo.Append(context.Background(), testEvent("room-1", 1)))

	repo.removeExpired(time.Now().Add(30 * time.Second))

	events, err := repo.Recent(context.Background(), "room-1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryHistoryConcurrentAppends(t *testing.T) {
	repo := NewMemoryHistoryRepository(50, time.Hour)
	defer repo.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = repo.Append(context.Background(), testEvent("room-1", g*100+i))
			}
		}(g)
	}
	wg.Wait()

	events, err := repo.Recent(context.Background(), "room-1", 100)
	require.NoError(t, err)
	assert.Len(t, events, 50)
}
