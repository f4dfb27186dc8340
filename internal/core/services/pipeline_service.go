package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/config"
	"voxrelay/pkg/tracing"
	"voxrelay/pkg/utils"
)

const (
	stageTranscription = "transcription"
	stageTranslation   = "translation"
	stageEmotion       = "emotion"

	emotionSourceText = "text"

	dropReasonQueueFull = "queue-full"
	dropReasonShutdown  = "shutdown"
)

// streamWorker owns the processing queue for one StreamKey. Chunks for the
// same key are handled by a single goroutine so results keep arrival order;
// distinct keys run fully concurrent.
type streamWorker struct {
	key      domain.StreamKey
	queue    chan *domain.AudioChunk
	done     chan struct{}
	lastSeen time.Time
}

// PipelineService routes decoded audio through the inference stages and fans
// the results out to downstream sessions. It implements ports.UpstreamHandler.
type PipelineService struct {
	transcription ports.TranscriptionStage
	translation   ports.TranslationStage
	emotion       ports.EmotionStage

	publisher ports.EventPublisher
	history   ports.HistoryService
	announcer ports.StreamAnnouncer
	metrics   ports.MetricsSink
	logger    *zap.Logger

	queueSize       int
	workerIdle      time.Duration
	emotionFromText bool

	mu      sync.Mutex
	workers map[domain.StreamKey]*streamWorker
	stopped bool

	wg          sync.WaitGroup
	janitorStop chan struct{}
	baseCtx     context.Context
	baseCancel  context.CancelFunc

	chunksProcessed atomic.Uint64
	chunksDropped   atomic.Uint64
	eventsPublished atomic.Uint64
}

// NewPipelineService builds the orchestrator. Any of the three stages may be
// nil (disabled); announcer may be nil in single-instance mode.
func NewPipelineService(
	cfg *config.Config,
	transcription ports.TranscriptionStage,
	translation ports.TranslationStage,
	emotion ports.EmotionStage,
	publisher ports.EventPublisher,
	history ports.HistoryService,
	announcer ports.StreamAnnouncer,
	metrics ports.MetricsSink,
	logger *zap.Logger,
) *PipelineService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	s := &PipelineService{
		transcription:   transcription,
		translation:     translation,
		emotion:         emotion,
		publisher:       publisher,
		history:         history,
		announcer:       announcer,
		metrics:         metrics,
		logger:          logger,
		queueSize:       cfg.Pipeline.QueueSize,
		workerIdle:      cfg.Pipeline.WorkerIdleTimeout,
		emotionFromText: cfg.Pipeline.Emotion.Source == emotionSourceText,
		workers:         make(map[domain.StreamKey]*streamWorker),
		janitorStop:     make(chan struct{}),
		baseCtx:         baseCtx,
		baseCancel:      baseCancel,
	}
	if s.queueSize < 1 {
		s.queueSize = 1
	}

	go s.janitor()
	return s
}

// HandleAudio hands the chunk to the key's worker, spawning one on first
// sight. Never blocks: when the worker's queue is full the chunk is dropped.
func (s *PipelineService) HandleAudio(ctx context.Context, chunk *domain.AudioChunk) {
	if chunk == nil || chunk.Key.IsZero() {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.chunksDropped.Add(1)
		s.metrics.ChunkDropped(dropReasonShutdown)
		return
	}

	w, ok := s.workers[chunk.Key]
	if !ok {
		w = &streamWorker{
			key:   chunk.Key,
			queue: make(chan *domain.AudioChunk, s.queueSize),
			done:  make(chan struct{}),
		}
		s.workers[chunk.Key] = w
		s.wg.Add(1)
		go s.runWorker(w)
		s.logger.Debug("pipeline worker started", zap.String("stream", chunk.Key.String()))
	}
	w.lastSeen = time.Now()

	// Enqueue while still holding the lock so the queue cannot be closed
	// between the lookup and the send.
	select {
	case w.queue <- chunk:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.chunksDropped.Add(1)
		s.metrics.ChunkDropped(dropReasonQueueFull)
		s.logger.Warn("pipeline queue full, dropping chunk",
			zap.String("stream", chunk.Key.String()),
			zap.Int("queue_size", s.queueSize))
	}
}

// HandleStreamEnd retires the key's worker, waits for its queue to drain and
// then publishes the terminal stream-end event. The wait happens off the
// caller's goroutine so the upstream read loop is never held up.
func (s *PipelineService) HandleStreamEnd(ctx context.Context, key domain.StreamKey) {
	if key.IsZero() {
		return
	}

	s.mu.Lock()
	w, ok := s.workers[key]
	if ok {
		delete(s.workers, key)
		close(w.queue)
	}
	stopped := s.stopped
	s.mu.Unlock()

	if stopped {
		return
	}

	go func() {
		if ok {
			<-w.done
		}
		s.publish(s.baseCtx, domain.NewEvent(domain.EventTypeStreamEnd, key, nil))
		if s.announcer != nil {
			if err := s.announcer.AnnounceStreamEnded(s.baseCtx, key); err != nil {
				s.logger.Warn("stream end announce failed",
					zap.String("stream", key.String()), zap.Error(err))
			}
		}
		s.logger.Info("stream ended", zap.String("stream", key.String()))
	}()
}

// Stop closes every worker queue and waits for in-flight chunks to finish.
// When ctx expires first, the base context is cancelled to abort the stages.
func (s *PipelineService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for key, w := range s.workers {
		delete(s.workers, key)
		close(w.queue)
	}
	s.mu.Unlock()

	close(s.janitorStop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.baseCancel()
		<-done
	}
	s.baseCancel()
	return nil
}

// ActiveWorkers returns the number of live per-stream workers.
func (s *PipelineService) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *PipelineService) ChunksProcessed() uint64 { return s.chunksProcessed.Load() }
func (s *PipelineService) ChunksDropped() uint64   { return s.chunksDropped.Load() }
func (s *PipelineService) EventsPublished() uint64 { return s.eventsPublished.Load() }

func (s *PipelineService) runWorker(w *streamWorker) {
	defer s.wg.Done()
	defer close(w.done)

	for chunk := range w.queue {
		s.processChunk(w.key, chunk)
	}
}

// processChunk runs one chunk through the stages. Transcription goes first;
// translation and emotion then run concurrently and are both joined before
// the worker takes the next chunk. A stage failure is logged, published as an
// error event and never stops the other stages.
func (s *PipelineService) processChunk(key domain.StreamKey, chunk *domain.AudioChunk) {
	start := time.Now()
	ctx := s.baseCtx

	var finalText string
	if s.transcription != nil {
		if result := s.runTranscription(ctx, key, chunk); result != nil && result.IsFinal {
			finalText = result.Text
		}
	}

	var stageWG sync.WaitGroup
	if s.translation != nil && finalText != "" {
		stageWG.Add(1)
		go func() {
			defer stageWG.Done()
			s.runTranslation(ctx, key, finalText)
		}()
	}
	if s.emotion != nil {
		if s.emotionFromText {
			if finalText != "" {
				stageWG.Add(1)
				go func() {
					defer stageWG.Done()
					s.runEmotionText(ctx, key, finalText)
				}()
			}
		} else {
			stageWG.Add(1)
			go func() {
				defer stageWG.Done()
				s.runEmotionAudio(ctx, key, chunk)
			}()
		}
	}
	stageWG.Wait()

	s.chunksProcessed.Add(1)
	s.metrics.ChunkProcessed(time.Since(start))
}

func (s *PipelineService) runTranscription(ctx context.Context, key domain.StreamKey, chunk *domain.AudioChunk) *domain.TranscriptionResult {
	ctx, span := tracing.TraceStage(ctx, stageTranscription, key.String())
	defer span.End()

	start := time.Now()
	result, err := s.transcription.Process(ctx, chunk)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.stageFailure(ctx, key, stageTranscription, err)
		return nil
	}
	s.metrics.StageSucceeded(stageTranscription, time.Since(start))

	if result == nil || result.Text == "" {
		return nil
	}
	s.logger.Debug("transcription result",
		zap.String("stream", key.String()),
		zap.Bool("final", result.IsFinal),
		zap.String("text", utils.TruncateString(result.Text, 80)))
	s.publish(ctx, domain.NewEvent(domain.EventTypeTranscription, key, result))
	return result
}

func (s *PipelineService) runTranslation(ctx context.Context, key domain.StreamKey, text string) {
	ctx, span := tracing.TraceStage(ctx, stageTranslation, key.String())
	defer span.End()

	start := time.Now()
	result, err := s.translation.Process(ctx, key, text)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.stageFailure(ctx, key, stageTranslation, err)
		return
	}
	s.metrics.StageSucceeded(stageTranslation, time.Since(start))
	s.publish(ctx, domain.NewEvent(domain.EventTypeTranslation, key, result))
}

func (s *PipelineService) runEmotionAudio(ctx context.Context, key domain.StreamKey, chunk *domain.AudioChunk) {
	ctx, span := tracing.TraceStage(ctx, stageEmotion, key.String())
	defer span.End()

	start := time.Now()
	result, err := s.emotion.ProcessAudio(ctx, chunk)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.stageFailure(ctx, key, stageEmotion, err)
		return
	}
	s.metrics.StageSucceeded(stageEmotion, time.Since(start))
	if result != nil {
		s.publish(ctx, domain.NewEvent(domain.EventTypeEmotion, key, result))
	}
}

func (s *PipelineService) runEmotionText(ctx context.Context, key domain.StreamKey, text string) {
	ctx, span := tracing.TraceStage(ctx, stageEmotion, key.String())
	defer span.End()

	start := time.Now()
	result, err := s.emotion.ProcessText(ctx, key, text)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.stageFailure(ctx, key, stageEmotion, err)
		return
	}
	s.metrics.StageSucceeded(stageEmotion, time.Since(start))
	if result != nil {
		s.publish(ctx, domain.NewEvent(domain.EventTypeEmotion, key, result))
	}
}

func (s *PipelineService) stageFailure(ctx context.Context, key domain.StreamKey, stage string, err error) {
	s.metrics.StageFailed(stage)
	s.logger.Warn("stage failed",
		zap.String("stage", stage),
		zap.String("stream", key.String()),
		zap.Error(err))

	detail := &domain.ErrorDetail{
		Code:    stage + "-failed",
		Message: err.Error(),
		Stage:   stage,
	}
	s.publish(ctx, domain.NewEvent(domain.EventTypeError, key, detail))
}

func (s *PipelineService) publish(ctx context.Context, event *domain.Event) {
	_, span := tracing.TracePublish(ctx, string(event.Type), string(event.RoomID))
	defer span.End()

	delivered := s.publisher.Publish(event)
	s.eventsPublished.Add(1)
	s.metrics.EventPublished(string(event.Type), delivered)

	if s.history != nil {
		s.history.Record(ctx, event)
	}
}

// janitor retires workers whose streams have gone quiet so an abandoned
// producer does not pin a goroutine forever. Retirement is silent; the next
// chunk for the key simply spawns a fresh worker.
func (s *PipelineService) janitor() {
	interval := s.workerIdle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.retireIdle()
		case <-s.janitorStop:
			return
		}
	}
}

func (s *PipelineService) retireIdle() {
	cutoff := time.Now().Add(-s.workerIdle)

	s.mu.Lock()
	for key, w := range s.workers {
		if w.lastSeen.Before(cutoff) {
			delete(s.workers, key)
			close(w.queue)
			s.logger.Debug("idle pipeline worker retired", zap.String("stream", key.String()))
		}
	}
	s.mu.Unlock()
}
