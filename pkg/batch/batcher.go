package batch

import (
	"context"
	"sync"
	"time"
)

// ProcessFunc handles one batch of accumulated items.
type ProcessFunc[T any] func(ctx context.Context, items []T) error

// Batcher accumulates items and hands them to a ProcessFunc either when the
// batch size is reached or on a fixed interval, whichever comes first.
type Batcher[T any] struct {
	batchSize     int
	batchInterval time.Duration
	process       ProcessFunc[T]

	mu      sync.Mutex
	pending []T

	flushChan chan struct{}
	stopChan  chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once
}

// NewBatcher creates a batcher and starts its background flush loop.
func NewBatcher[T any](batchSize int, batchInterval time.Duration, process ProcessFunc[T]) *Batcher[T] {
	b := &Batcher[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		process:       process,
		pending:       make([]T, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}

	go b.run()

	return b
}

// Add queues an item. When the pending batch reaches the configured size a
// flush is triggered asynchronously.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	b.pending = append(b.pending, item)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
}

// Flush immediately processes all pending items.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}

	items := make([]T, len(b.pending))
	copy(items, b.pending)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	return b.process(ctx, items)
}

// PendingCount returns the number of items not yet flushed.
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop flushes remaining items and terminates the flush loop. It blocks
// until the final flush has completed.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	<-b.doneChan
}

func (b *Batcher[T]) run() {
	defer close(b.doneChan)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			_ = b.Flush(context.Background())
			return
		}
	}
}
