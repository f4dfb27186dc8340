package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/batch"
)

const historyPrefix = "voxrelay:history:"

// roomIndexKey tracks which rooms currently hold history. Room IDs cannot
// contain a colon, so this key never collides with a room list.
const roomIndexKey = historyPrefix + "rooms:index"

// historyEntry is one serialized event waiting in the write batch.
type historyEntry struct {
	room string
	data []byte
}

// RedisHistoryRepository stores each room's event window as a capped Redis
// list, newest at the head. Appends are coalesced into pipelined batches so
// a busy room costs one round trip per flush instead of one per event.
type RedisHistoryRepository struct {
	client  *redis.Client
	limit   int
	ttl     time.Duration
	batcher *batch.Batcher[historyEntry]
	logger  *zap.Logger
}

func NewRedisHistoryRepository(client *redis.Client, limit int, ttl time.Duration, logger *zap.Logger) ports.EventHistoryRepository {
	if limit < 1 {
		limit = 1
	}
	r := &RedisHistoryRepository{
		client: client,
		limit:  limit,
		ttl:    ttl,
		logger: logger,
	}
	r.batcher = batch.NewBatcher(64, 200*time.Millisecond, r.writeBatch)
	return r
}

func (r *RedisHistoryRepository) roomKey(roomID domain.RoomID) string {
	return historyPrefix + string(roomID)
}

func (r *RedisHistoryRepository) Append(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	r.batcher.Add(historyEntry{room: string(event.RoomID), data: data})
	return nil
}

// writeBatch pushes a batch through one pipeline: LPUSH per event, then a
// single LTRIM, EXPIRE and index SAdd per touched room.
func (r *RedisHistoryRepository) writeBatch(ctx context.Context, entries []historyEntry) error {
	pipe := r.client.Pipeline()

	touched := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		pipe.LPush(ctx, historyPrefix+entry.room, entry.data)
		touched[entry.room] = struct{}{}
	}
	for room := range touched {
		key := historyPrefix + room
		pipe.LTrim(ctx, key, 0, int64(r.limit)-1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		pipe.SAdd(ctx, roomIndexKey, room)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		if r.logger != nil {
			r.logger.Warn("history batch write failed",
				zap.Int("entries", len(entries)), zap.Error(err))
		}
		return err
	}
	return nil
}

func (r *RedisHistoryRepository) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Event, error) {
	// Push out anything still sitting in the batch so reads see their own
	// writes.
	if err := r.batcher.Flush(ctx); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > r.limit {
		limit = r.limit
	}

	raw, err := r.client.LRange(ctx, r.roomKey(roomID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history from Redis: %w", err)
	}

	events := make([]*domain.Event, 0, len(raw))
	for _, item := range raw {
		var event domain.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping undecodable history entry",
					zap.String("room", string(roomID)), zap.Error(err))
			}
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// Rooms lists every room present in the index. Index members whose list
// already expired are pruned along the way.
func (r *RedisHistoryRepository) Rooms(ctx context.Context) ([]domain.RoomID, error) {
	if err := r.batcher.Flush(ctx); err != nil {
		return nil, err
	}

	members, err := r.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read room index from Redis: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, room := range members {
		checks[i] = pipe.Exists(ctx, historyPrefix+room)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check room lists in Redis: %w", err)
	}

	rooms := make([]domain.RoomID, 0, len(members))
	var stale []interface{}
	for i, room := range members {
		if checks[i].Val() == 0 {
			stale = append(stale, room)
			continue
		}
		rooms = append(rooms, domain.RoomID(room))
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, roomIndexKey, stale...).Err(); err != nil && r.logger != nil {
			r.logger.Warn("failed to prune expired rooms from index",
				zap.Int("rooms", len(stale)), zap.Error(err))
		}
	}
	return rooms, nil
}

func (r *RedisHistoryRepository) Clear(ctx context.Context, roomID domain.RoomID) error {
	if err := r.batcher.Flush(ctx); err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.roomKey(roomID))
	pipe.SRem(ctx, roomIndexKey, string(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear history in Redis: %w", err)
	}
	return nil
}

// Close flushes pending writes. The Redis client itself is owned by the
// repository factory.
func (r *RedisHistoryRepository) Close() error {
	r.batcher.Stop()
	return nil
}
