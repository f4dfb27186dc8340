package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"voxrelay/internal/core/ports"
	"voxrelay/pkg/archive"
)

// Scheduler snapshots the room event history on a fixed interval and prunes
// snapshots older than the retention window.
type Scheduler struct {
	service   *archive.Service
	history   ports.EventHistoryRepository
	instance  string
	interval  time.Duration
	retention int
	logger    *zap.Logger
	stopChan  chan struct{}
}

// Config contains scheduler settings.
type Config struct {
	Interval      time.Duration
	RetentionDays int
}

func NewScheduler(
	service *archive.Service,
	history ports.EventHistoryRepository,
	instance string,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		service:   service,
		history:   history,
		instance:  instance,
		interval:  interval,
		retention: cfg.RetentionDays,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the snapshot loop until Stop is called or the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Snapshot(ctx)

	for {
		select {
		case <-ticker.C:
			s.Snapshot(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Snapshot captures the current history immediately. The interval loop and
// shutdown both go through here. Empty history produces no archive.
func (s *Scheduler) Snapshot(ctx context.Context) {
	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		s.logger.Error("failed to collect history snapshot", zap.Error(err))
		return
	}
	if len(snap.Rooms) == 0 {
		s.logger.Debug("no room history to archive")
		return
	}

	name, err := s.service.Create(ctx, snap)
	if err != nil {
		s.logger.Error("failed to write archive", zap.Error(err))
		return
	}
	s.logger.Info("room history archived",
		zap.String("archive", name),
		zap.Int("rooms", len(snap.Rooms)))

	if err := s.pruneExpired(ctx); err != nil {
		s.logger.Warn("failed to prune expired archives", zap.Error(err))
	}
}

func (s *Scheduler) buildSnapshot(ctx context.Context) (*archive.Snapshot, error) {
	rooms, err := s.history.Rooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	snap := &archive.Snapshot{
		Instance: s.instance,
		Rooms:    make(map[string][]json.RawMessage, len(rooms)),
		Metadata: make(map[string]interface{}),
	}

	total := 0
	for _, roomID := range rooms {
		events, err := s.history.Recent(ctx, roomID, 0)
		if err != nil {
			s.logger.Warn("failed to read room history",
				zap.String("room", string(roomID)), zap.Error(err))
			continue
		}
		if len(events) == 0 {
			continue
		}

		// Recent returns newest first; archives store oldest first.
		encoded := make([]json.RawMessage, 0, len(events))
		for i := len(events) - 1; i >= 0; i-- {
			raw, err := json.Marshal(events[i])
			if err != nil {
				s.logger.Warn("skipping unencodable event",
					zap.String("room", string(roomID)), zap.Error(err))
				continue
			}
			encoded = append(encoded, raw)
		}
		snap.Rooms[string(roomID)] = encoded
		total += len(encoded)
	}

	snap.Metadata["room_count"] = len(snap.Rooms)
	snap.Metadata["event_count"] = total
	snap.Metadata["trigger"] = "scheduled"
	return snap, nil
}

func (s *Scheduler) pruneExpired(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	names, err := s.service.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -s.retention)
	for _, name := range names {
		created, err := archive.ParseName(name)
		if err != nil {
			s.logger.Warn("skipping unrecognized archive name",
				zap.String("archive", name), zap.Error(err))
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := s.service.Delete(ctx, name); err != nil {
			s.logger.Warn("failed to delete expired archive",
				zap.String("archive", name), zap.Error(err))
			continue
		}
		s.logger.Info("deleted expired archive",
			zap.String("archive", name),
			zap.Duration("age", time.Since(created)))
	}
	return nil
}
