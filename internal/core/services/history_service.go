package services

import (
	"context"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/tracing"
)

// HistoryService records published events into the per-room rolling window
// and serves recent-event queries for late joiners. Recording is best effort:
// a failed append is logged, never surfaced to the pipeline.
type HistoryService struct {
	repo         ports.EventHistoryRepository
	defaultLimit int
	logger       *zap.Logger
}

func NewHistoryService(repo ports.EventHistoryRepository, defaultLimit int, logger *zap.Logger) *HistoryService {
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	return &HistoryService{
		repo:         repo,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

func (s *HistoryService) Record(ctx context.Context, event *domain.Event) {
	if event == nil {
		return
	}

	ctx, span := tracing.TraceHistoryOperation(ctx, "append", string(event.RoomID))
	defer span.End()

	if err := s.repo.Append(ctx, event); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warn("event history append failed",
			zap.String("room", string(event.RoomID)),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Recent returns up to limit events for the room, newest first. A limit of
// zero or less falls back to the configured default; requests above the
// default are clamped to it.
func (s *HistoryService) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Event, error) {
	if limit <= 0 || limit > s.defaultLimit {
		limit = s.defaultLimit
	}

	ctx, span := tracing.TraceHistoryOperation(ctx, "recent", string(roomID))
	defer span.End()

	events, err := s.repo.Recent(ctx, roomID, limit)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return events, nil
}

// Clear drops the room's window. Used when a room is torn down.
func (s *HistoryService) Clear(ctx context.Context, roomID domain.RoomID) error {
	return s.repo.Clear(ctx, roomID)
}
