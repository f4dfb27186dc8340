package inference

import (
	"context"
	"strings"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/audio"
)

var emotionKeywords = map[domain.EmotionCategory][]string{
	domain.EmotionHappy:     {"감사", "좋은", "반갑", "happy", "great", "thank", "love", "nice"},
	domain.EmotionSad:       {"슬프", "아쉽", "sad", "sorry", "miss", "unfortunately"},
	domain.EmotionAngry:     {"화가", "짜증", "angry", "terrible", "hate", "unacceptable"},
	domain.EmotionFearful:   {"걱정", "무서", "afraid", "worried", "scared"},
	domain.EmotionDisgusted: {"역겹", "싫어", "disgusting", "awful", "gross"},
	domain.EmotionSurprised: {"놀라", "정말", "wow", "surprised", "unbelievable"},
}

// MockEmotion classifies emotion deterministically: keyword rules on text,
// energy bands on audio. Weights always cover the full category set and
// sum to 1.0.
type MockEmotion struct{}

// NewMockEmotion creates the rule-based analyzer.
func NewMockEmotion() *MockEmotion {
	return &MockEmotion{}
}

func (m *MockEmotion) Name() string { return "mock-emotion" }

func (m *MockEmotion) Ready() bool { return true }

func (m *MockEmotion) Close() error { return nil }

// ProcessText scores the transcript against keyword lists. Text without any
// hits comes out neutral.
func (m *MockEmotion) ProcessText(ctx context.Context, key domain.StreamKey, text string) (*domain.EmotionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	weights := baseWeights()
	weights[domain.EmotionNeutral] = 1.0

	lowered := strings.ToLower(text)
	for category, keywords := range emotionKeywords {
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				weights[category] += 0.8
			}
		}
	}

	result := &domain.EmotionResult{Weights: weights}
	result.NormalizeWeights()
	return result, nil
}

// ProcessAudio maps chunk energy onto arousal bands. Louder audio shifts
// weight from neutral toward the high-arousal categories.
func (m *MockEmotion) ProcessAudio(ctx context.Context, chunk *domain.AudioChunk) (*domain.EmotionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rms := audio.RMS(chunk.PCM)
	weights := baseWeights()

	switch {
	case rms < 0.02:
		weights[domain.EmotionNeutral] = 0.8
		weights[domain.EmotionSad] = 0.2
	case rms < 0.08:
		weights[domain.EmotionNeutral] = 0.6
		weights[domain.EmotionHappy] = 0.25
		weights[domain.EmotionSad] = 0.15
	case rms < 0.2:
		weights[domain.EmotionHappy] = 0.5
		weights[domain.EmotionSurprised] = 0.25
		weights[domain.EmotionNeutral] = 0.25
	default:
		weights[domain.EmotionAngry] = 0.45
		weights[domain.EmotionSurprised] = 0.3
		weights[domain.EmotionHappy] = 0.25
	}

	result := &domain.EmotionResult{Weights: weights}
	result.NormalizeWeights()
	return result, nil
}

// baseWeights returns a map covering every category with zero weight, so
// consumers always see the full distribution.
func baseWeights() map[domain.EmotionCategory]float64 {
	weights := make(map[domain.EmotionCategory]float64, len(domain.EmotionCategories))
	for _, category := range domain.EmotionCategories {
		weights[category] = 0
	}
	return weights
}
