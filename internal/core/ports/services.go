package ports

import (
	"context"

	"voxrelay/internal/core/domain"
)

// UpstreamClient maintains the relay's WebSocket connection to the SFU:
// authentication, heartbeat, reconnect with backoff, and the retained
// subscription set.
type UpstreamClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, key domain.StreamKey) error
	Unsubscribe(ctx context.Context, key domain.StreamKey) error
	Subscriptions() []domain.StreamKey
	State() domain.ConnState
	IsReady() bool
	Stats() domain.UpstreamStats
}

// EventPublisher fans a typed event out to the sessions registered for its
// room. Returns the number of sessions the event was handed to. Must never
// block on a slow consumer.
type EventPublisher interface {
	Publish(event *domain.Event) int
}

// TranscriptionStage converts audio chunks into (possibly partial) text.
// A nil result with nil error means the chunk produced nothing (silence).
type TranscriptionStage interface {
	Name() string
	Ready() bool
	Process(ctx context.Context, chunk *domain.AudioChunk) (*domain.TranscriptionResult, error)
	Close() error
}

// TranslationStage translates finalized transcript text.
type TranslationStage interface {
	Name() string
	Ready() bool
	Process(ctx context.Context, key domain.StreamKey, text string) (*domain.TranslationResult, error)
	Close() error
}

// EmotionStage classifies emotion from raw audio or finalized text,
// depending on the configured source.
type EmotionStage interface {
	Name() string
	Ready() bool
	ProcessAudio(ctx context.Context, chunk *domain.AudioChunk) (*domain.EmotionResult, error)
	ProcessText(ctx context.Context, key domain.StreamKey, text string) (*domain.EmotionResult, error)
	Close() error
}

// HistoryService records published events and serves the recent window.
type HistoryService interface {
	Record(ctx context.Context, event *domain.Event)
	Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Event, error)
}

// StreamAnnouncer broadcasts relay lifecycle notifications to sibling
// instances. Single-instance deployments wire the no-op implementation.
type StreamAnnouncer interface {
	AnnounceStreamSubscribed(ctx context.Context, key domain.StreamKey) error
	AnnounceStreamEnded(ctx context.Context, key domain.StreamKey) error
	AnnounceUpstreamLost(ctx context.Context, reason string) error
	AnnounceUpstreamRestored(ctx context.Context) error
}

// NoopAnnouncer satisfies StreamAnnouncer for single-instance deployments
// without Redis.
type NoopAnnouncer struct{}

var _ StreamAnnouncer = NoopAnnouncer{}

func (NoopAnnouncer) AnnounceStreamSubscribed(context.Context, domain.StreamKey) error { return nil }
func (NoopAnnouncer) AnnounceStreamEnded(context.Context, domain.StreamKey) error      { return nil }
func (NoopAnnouncer) AnnounceUpstreamLost(context.Context, string) error               { return nil }
func (NoopAnnouncer) AnnounceUpstreamRestored(context.Context) error                   { return nil }
