package inference

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxrelay/internal/core/domain"
)

func assertWeightsValid(t *testing.T, result *domain.EmotionResult) {
	t.Helper()

	var total float64
	for _, w := range result.Weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-6, "weights must sum to 1.0")

	for _, category := range domain.EmotionCategories {
		_, ok := result.Weights[category]
		assert.True(t, ok, "weight map missing category %s", category)
	}
}

func TestMockEmotionTextKeywords(t *testing.T) {
	m := NewMockEmotion()
	ctx := context.Background()
	key := chunkKey("r", "p", "pr")

	tests := []struct {
		text     string
		expected domain.EmotionCategory
	}{
		{"감사합니다 좋은 하루 되세요", domain.EmotionHappy},
		{"thank you so much, this is great", domain.EmotionHappy},
		{"i am so angry, this is terrible", domain.EmotionAngry},
		{"정말 놀라운 소식이네요", domain.EmotionSurprised},
		{"무서워서 걱정이 됩니다", domain.EmotionFearful},
	}

	for _, tt := range tests {
		result, err := m.ProcessText(ctx, key, tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, result.Category, "text %q", tt.text)
		assertWeightsValid(t, result)
	}
}

func TestMockEmotionPlainTextIsNeutral(t *testing.T) {
	m := NewMockEmotion()

	result, err := m.ProcessText(context.Background(), chunkKey("r", "p", "pr"), "the meeting starts at three")
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionNeutral, result.Category)
	assertWeightsValid(t, result)
}

func TestMockEmotionAudioBands(t *testing.T) {
	m := NewMockEmotion()
	ctx := context.Background()
	key := chunkKey("r", "p", "pr")

	quiet, err := m.ProcessAudio(ctx, silentChunk(key))
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionNeutral, quiet.Category)
	assertWeightsValid(t, quiet)

	// Amplitude 8000 is RMS ~0.24: the loud band.
	loud, err := m.ProcessAudio(ctx, voicedChunk(key, 8000))
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionAngry, loud.Category)
	assertWeightsValid(t, loud)

	// Amplitude 4000 is RMS ~0.12: the mid band.
	mid, err := m.ProcessAudio(ctx, voicedChunk(key, 4000))
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionHappy, mid.Category)
	assertWeightsValid(t, mid)
}

func TestMockEmotionConfidenceMatchesTopWeight(t *testing.T) {
	m := NewMockEmotion()

	result, err := m.ProcessText(context.Background(), chunkKey("r", "p", "pr"), "thank you")
	require.NoError(t, err)

	var top float64
	for _, w := range result.Weights {
		top = math.Max(top, w)
	}
	assert.InDelta(t, top, result.Confidence, 1e-9)
}

func TestMockEmotionContextCancelled(t *testing.T) {
	m := NewMockEmotion()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ProcessText(ctx, chunkKey("r", "p", "pr"), "text")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = m.ProcessAudio(ctx, silentChunk(chunkKey("r", "p", "pr")))
	assert.ErrorIs(t, err, context.Canceled)
}
