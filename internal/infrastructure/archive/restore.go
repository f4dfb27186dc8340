package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/archive"
)

// RestoreService replays archived history snapshots back into the event
// repository.
type RestoreService struct {
	service *archive.Service
	history ports.EventHistoryRepository
	logger  *zap.Logger
}

func NewRestoreService(service *archive.Service, history ports.EventHistoryRepository, logger *zap.Logger) *RestoreService {
	return &RestoreService{
		service: service,
		history: history,
		logger:  logger,
	}
}

// RestoreLatest replays the newest snapshot and returns its name. Returns
// an empty name when no snapshot exists.
func (rs *RestoreService) RestoreLatest(ctx context.Context) (string, error) {
	names, err := rs.service.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list archives: %w", err)
	}
	if len(names) == 0 {
		return "", nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	name := names[len(names)-1]
	if err := rs.Restore(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// Restore replays one snapshot. Rooms that already hold live history keep
// their window untouched.
func (rs *RestoreService) Restore(ctx context.Context, name string) error {
	snap, err := rs.service.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load archive: %w", err)
	}
	if snap.Version == "" {
		return fmt.Errorf("invalid archive %s: missing version", name)
	}

	restoredRooms := 0
	restoredEvents := 0
	for roomID, rawEvents := range snap.Rooms {
		existing, err := rs.history.Recent(ctx, domain.RoomID(roomID), 1)
		if err == nil && len(existing) > 0 {
			rs.logger.Debug("skipping room with live history", zap.String("room", roomID))
			continue
		}

		replayed := 0
		for _, raw := range rawEvents {
			var event domain.Event
			if err := json.Unmarshal(raw, &event); err != nil {
				rs.logger.Warn("skipping undecodable archived event",
					zap.String("room", roomID), zap.Error(err))
				continue
			}
			if err := rs.history.Append(ctx, &event); err != nil {
				return fmt.Errorf("failed to replay event for room %s: %w", roomID, err)
			}
			replayed++
		}
		if replayed > 0 {
			restoredRooms++
			restoredEvents += replayed
		}
	}

	rs.logger.Info("room history restored",
		zap.String("archive", name),
		zap.Int("rooms", restoredRooms),
		zap.Int("events", restoredEvents))
	return nil
}

// FindByTime returns the newest snapshot created at or before the target
// time, for point-in-time recovery.
func (rs *RestoreService) FindByTime(ctx context.Context, target time.Time) (string, error) {
	names, err := rs.service.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list archives: %w", err)
	}

	var (
		best     string
		bestTime time.Time
		found    bool
	)
	for _, name := range names {
		created, err := archive.ParseName(name)
		if err != nil {
			continue
		}
		if created.After(target) {
			continue
		}
		if !found || created.After(bestTime) {
			best = name
			bestTime = created
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("no archive at or before %s", target.Format(time.RFC3339))
	}
	return best, nil
}
