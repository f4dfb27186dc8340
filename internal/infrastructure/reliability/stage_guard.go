package reliability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/circuitbreaker"
)

// stageGuard bounds one inference stage with a circuit breaker and a
// per-call timeout. A stage that keeps failing trips its breaker and fails
// fast until the cooldown passes; the other stages are unaffected.
type stageGuard struct {
	name    string
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

func newStageGuard(name string, timeout time.Duration, cbConfig circuitbreaker.Config, logger *zap.Logger) *stageGuard {
	g := &stageGuard{
		name:    name,
		timeout: timeout,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}

	g.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Info("stage circuit breaker state changed",
			zap.String("stage", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	})

	return g
}

func (g *stageGuard) healthy(stageReady bool) bool {
	return stageReady && g.breaker.GetState() != circuitbreaker.StateOpen
}

func (g *stageGuard) stats() circuitbreaker.Stats {
	return g.breaker.GetStats()
}

// GuardedTranscription wraps a transcription stage with a stage guard.
type GuardedTranscription struct {
	stage ports.TranscriptionStage
	guard *stageGuard
}

// NewGuardedTranscription guards stage. A nil stage passes through as nil
// so disabled stages need no special handling by callers.
func NewGuardedTranscription(stage ports.TranscriptionStage, timeout time.Duration, cbConfig circuitbreaker.Config, logger *zap.Logger) ports.TranscriptionStage {
	if stage == nil {
		return nil
	}
	return &GuardedTranscription{
		stage: stage,
		guard: newStageGuard(stage.Name(), timeout, cbConfig, logger),
	}
}

func (s *GuardedTranscription) Name() string { return s.stage.Name() }

func (s *GuardedTranscription) Ready() bool { return s.guard.healthy(s.stage.Ready()) }

func (s *GuardedTranscription) Close() error { return s.stage.Close() }

func (s *GuardedTranscription) Process(ctx context.Context, chunk *domain.AudioChunk) (*domain.TranscriptionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.guard.timeout)
	defer cancel()

	return circuitbreaker.ExecuteWithResult(callCtx, s.guard.breaker, func() (*domain.TranscriptionResult, error) {
		return s.stage.Process(callCtx, chunk)
	})
}

// BreakerStats exposes the breaker snapshot for health reporting.
func (s *GuardedTranscription) BreakerStats() circuitbreaker.Stats { return s.guard.stats() }

// GuardedTranslation wraps a translation stage with a stage guard.
type GuardedTranslation struct {
	stage ports.TranslationStage
	guard *stageGuard
}

// NewGuardedTranslation guards stage; nil passes through as nil.
func NewGuardedTranslation(stage ports.TranslationStage, timeout time.Duration, cbConfig circuitbreaker.Config, logger *zap.Logger) ports.TranslationStage {
	if stage == nil {
		return nil
	}
	return &GuardedTranslation{
		stage: stage,
		guard: newStageGuard(stage.Name(), timeout, cbConfig, logger),
	}
}

func (s *GuardedTranslation) Name() string { return s.stage.Name() }

func (s *GuardedTranslation) Ready() bool { return s.guard.healthy(s.stage.Ready()) }

func (s *GuardedTranslation) Close() error { return s.stage.Close() }

func (s *GuardedTranslation) Process(ctx context.Context, key domain.StreamKey, text string) (*domain.TranslationResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.guard.timeout)
	defer cancel()

	return circuitbreaker.ExecuteWithResult(callCtx, s.guard.breaker, func() (*domain.TranslationResult, error) {
		return s.stage.Process(callCtx, key, text)
	})
}

// BreakerStats exposes the breaker snapshot for health reporting.
func (s *GuardedTranslation) BreakerStats() circuitbreaker.Stats { return s.guard.stats() }

// GuardedEmotion wraps an emotion stage with a stage guard. Audio and text
// paths share one breaker because they hit the same backend.
type GuardedEmotion struct {
	stage ports.EmotionStage
	guard *stageGuard
}

// NewGuardedEmotion guards stage; nil passes through as nil.
func NewGuardedEmotion(stage ports.EmotionStage, timeout time.Duration, cbConfig circuitbreaker.Config, logger *zap.Logger) ports.EmotionStage {
	if stage == nil {
		return nil
	}
	return &GuardedEmotion{
		stage: stage,
		guard: newStageGuard(stage.Name(), timeout, cbConfig, logger),
	}
}

func (s *GuardedEmotion) Name() string { return s.stage.Name() }

func (s *GuardedEmotion) Ready() bool { return s.guard.healthy(s.stage.Ready()) }

func (s *GuardedEmotion) Close() error { return s.stage.Close() }

func (s *GuardedEmotion) ProcessAudio(ctx context.Context, chunk *domain.AudioChunk) (*domain.EmotionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.guard.timeout)
	defer cancel()

	return circuitbreaker.ExecuteWithResult(callCtx, s.guard.breaker, func() (*domain.EmotionResult, error) {
		return s.stage.ProcessAudio(callCtx, chunk)
	})
}

func (s *GuardedEmotion) ProcessText(ctx context.Context, key domain.StreamKey, text string) (*domain.EmotionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.guard.timeout)
	defer cancel()

	return circuitbreaker.ExecuteWithResult(callCtx, s.guard.breaker, func() (*domain.EmotionResult, error) {
		return s.stage.ProcessText(callCtx, key, text)
	})
}

// BreakerStats exposes the breaker snapshot for health reporting.
func (s *GuardedEmotion) BreakerStats() circuitbreaker.Stats { return s.guard.stats() }
