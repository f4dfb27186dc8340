package ports

import (
	"context"

	"voxrelay/internal/core/domain"
)

// EventHistoryRepository stores the rolling per-room window of published
// events. Implementations cap the window and expire idle rooms.
type EventHistoryRepository interface {
	Append(ctx context.Context, event *domain.Event) error
	Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Event, error)
	Rooms(ctx context.Context) ([]domain.RoomID, error)
	Clear(ctx context.Context, roomID domain.RoomID) error
	Close() error
}
