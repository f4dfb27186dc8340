package memory

import (
	"context"
	"sync"
	"time"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
)

type roomWindow struct {
	events      []*domain.Event
	lastTouched time.Time
}

// MemoryHistoryRepository keeps the per-room event window in process memory.
// Each room holds at most limit events; rooms idle longer than ttl are swept
// by a background janitor.
type MemoryHistoryRepository struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomWindow

	limit int
	ttl   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryHistoryRepository(limit int, ttl time.Duration) ports.EventHistoryRepository {
	if limit < 1 {
		limit = 1
	}
	r := &MemoryHistoryRepository{
		rooms: make(map[domain.RoomID]*roomWindow),
		limit: limit,
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	if ttl > 0 {
		go r.janitor()
	}
	return r
}

func (r *MemoryHistoryRepository) Append(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.rooms[event.RoomID]
	if !ok {
		w = &roomWindow{events: make([]*domain.Event, 0, r.limit)}
		r.rooms[event.RoomID] = w
	}

	w.events = append(w.events, event)
	if len(w.events) > r.limit {
		// Shift in place so the backing array does not pin dropped events.
		n := copy(w.events, w.events[len(w.events)-r.limit:])
		for i := n; i < len(w.events); i++ {
			w.events[i] = nil
		}
		w.events = w.events[:n]
	}
	w.lastTouched = time.Now()
	return nil
}

// Recent returns up to limit events for the room, newest first.
func (r *MemoryHistoryRepository) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.rooms[roomID]
	if !ok {
		return nil, nil
	}

	if limit <= 0 || limit > len(w.events) {
		limit = len(w.events)
	}

	out := make([]*domain.Event, 0, limit)
	for i := len(w.events) - 1; i >= len(w.events)-limit; i-- {
		out = append(out, w.events[i])
	}
	return out, nil
}

func (r *MemoryHistoryRepository) Rooms(ctx context.Context) ([]domain.RoomID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RoomID, 0, len(r.rooms))
	for roomID := range r.rooms {
		out = append(out, roomID)
	}
	return out, nil
}

func (r *MemoryHistoryRepository) Clear(ctx context.Context, roomID domain.RoomID) error {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryHistoryRepository) Close() error {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	return nil
}

func (r *MemoryHistoryRepository) janitor() {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.removeExpired(time.Now())
		case <-r.stop:
			return
		}
	}
}

func (r *MemoryHistoryRepository) removeExpired(now time.Time) {
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	for roomID, w := range r.rooms {
		if w.lastTouched.Before(cutoff) {
			delete(r.rooms, roomID)
		}
	}
	r.mu.Unlock()
}
