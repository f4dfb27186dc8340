package ports

import (
	"context"

	"voxrelay/internal/core/domain"
)

// UpstreamHandler consumes decoded traffic from the upstream connection
// manager. HandleAudio must not block the caller's receive loop.
type UpstreamHandler interface {
	HandleAudio(ctx context.Context, chunk *domain.AudioChunk)
	HandleStreamEnd(ctx context.Context, key domain.StreamKey)
}
