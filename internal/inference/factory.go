package inference

import (
	"fmt"

	"go.uber.org/zap"

	"voxrelay/internal/core/ports"
	"voxrelay/pkg/config"
)

// Provider names accepted in pipeline config.
const (
	ProviderMock   = "mock"
	ProviderRemote = "remote"
)

// NewTranscriptionStage builds the configured transcription provider.
// Returns nil when the stage is disabled.
func NewTranscriptionStage(cfg *config.Config, logger *zap.Logger) (ports.TranscriptionStage, error) {
	section := cfg.Pipeline.Transcription
	if !section.Enabled {
		return nil, nil
	}

	switch section.Provider {
	case ProviderMock:
		return NewMockTranscriber(section.Language, logger), nil
	case ProviderRemote:
		return NewRemoteTranscriber(section.Endpoint, section.Language, section.MinWindow, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", section.Provider)
	}
}

// NewTranslationStage builds the configured translation provider, wrapped in
// a result cache when pipeline.translation.cache_ttl is set.
// Returns nil when the stage is disabled.
func NewTranslationStage(cfg *config.Config) (ports.TranslationStage, error) {
	section := cfg.Pipeline.Translation
	if !section.Enabled {
		return nil, nil
	}

	var stage ports.TranslationStage
	switch section.Provider {
	case ProviderMock:
		stage = NewMockTranslator(section.SourceLanguage, section.TargetLanguage)
	case ProviderRemote:
		stage = NewRemoteTranslator(section.Endpoint, section.SourceLanguage, section.TargetLanguage)
	default:
		return nil, fmt.Errorf("unknown translation provider %q", section.Provider)
	}

	if section.CacheTTL > 0 {
		stage = NewCachedTranslator(stage, CacheConfig{
			TTL:             section.CacheTTL,
			CleanupInterval: section.CacheTTL,
			SourceLanguage:  section.SourceLanguage,
			TargetLanguage:  section.TargetLanguage,
		})
	}
	return stage, nil
}

// NewEmotionStage builds the configured emotion provider.
// Returns nil when the stage is disabled.
func NewEmotionStage(cfg *config.Config) (ports.EmotionStage, error) {
	section := cfg.Pipeline.Emotion
	if !section.Enabled {
		return nil, nil
	}

	switch section.Provider {
	case ProviderMock:
		return NewMockEmotion(), nil
	case ProviderRemote:
		return NewRemoteEmotion(section.Endpoint), nil
	default:
		return nil, fmt.Errorf("unknown emotion provider %q", section.Provider)
	}
}
