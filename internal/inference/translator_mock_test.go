package inference

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTranslatorDictionaryHit(t *testing.T) {
	m := NewMockTranslator("ko", "en")

	result, err := m.Process(context.Background(), chunkKey("r", "p", "pr"), "안녕하세요 만나서 반갑습니다")
	require.NoError(t, err)
	assert.Equal(t, "Hello, nice to meet you.", result.TranslatedText)
	assert.Equal(t, "안녕하세요 만나서 반갑습니다", result.SourceText)
	assert.Equal(t, "ko", result.SourceLanguage)
	assert.Equal(t, "en", result.TargetLanguage)
}

func TestMockTranslatorFallback(t *testing.T) {
	m := NewMockTranslator("ko", "en")

	result, err := m.Process(context.Background(), chunkKey("r", "p", "pr"), "사전에 없는 문장")
	require.NoError(t, err)
	assert.Equal(t, "[en] 사전에 없는 문장", result.TranslatedText)
}

func TestMockTranslatorOtherPairsAlwaysFallback(t *testing.T) {
	m := NewMockTranslator("en", "fr")

	result, err := m.Process(context.Background(), chunkKey("r", "p", "pr"), "hello")
	require.NoError(t, err)
	assert.Equal(t, "[fr] hello", result.TranslatedText)
}

func TestMockTranslatorContextCancelled(t *testing.T) {
	m := NewMockTranslator("ko", "en")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Process(ctx, chunkKey("r", "p", "pr"), "text")
	assert.ErrorIs(t, err, context.Canceled)
}
