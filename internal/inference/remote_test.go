package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voxrelay/internal/core/domain"
)

func TestRemoteTranscriberBuffersBelowWindow(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	tr := NewRemoteTranscriber(server.URL, "ko", time.Second, zaptest.NewLogger(t))
	key := chunkKey("r", "p", "pr")

	// 100ms chunks: nine of them stay under the 1s window.
	for i := 0; i < 9; i++ {
		result, err := tr.Process(context.Background(), voicedChunk(key, 8000))
		require.NoError(t, err)
		assert.Nil(t, result)
	}
	assert.Equal(t, int32(0), requests.Load())
}

func TestRemoteTranscriberPostsWAVAtWindow(t *testing.T) {
	type captured struct {
		contentType string
		language    string
		task        string
		body        []byte
	}
	capturedCh := make(chan captured, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		capturedCh <- captured{
			contentType: r.Header.Get("Content-Type"),
			language:    r.URL.Query().Get("language"),
			task:        r.URL.Query().Get("task"),
			body:        body,
		}
		json.NewEncoder(w).Encode(map[string]any{
			"text":       "안녕하세요",
			"language":   "ko",
			"final":      true,
			"confidence": 0.87,
		})
	}))
	defer server.Close()

	tr := NewRemoteTranscriber(server.URL, "ko", time.Second, zaptest.NewLogger(t))
	key := chunkKey("r", "p", "pr")

	var result *domain.TranscriptionResult
	var err error
	for i := 0; i < 10; i++ {
		result, err = tr.Process(context.Background(), voicedChunk(key, 8000))
		require.NoError(t, err)
	}
	require.NotNil(t, result, "window boundary should produce a result")
	assert.Equal(t, "안녕하세요", result.Text)
	assert.True(t, result.IsFinal)
	assert.InDelta(t, 0.87, result.Confidence, 1e-9)

	req := <-capturedCh
	assert.Equal(t, "audio/wav", req.contentType)
	assert.Equal(t, "ko", req.language)
	assert.Equal(t, "transcribe", req.task)
	require.Greater(t, len(req.body), 44, "body must contain a WAV header")
	assert.Equal(t, "RIFF", string(req.body[0:4]))
	assert.Equal(t, "WAVE", string(req.body[8:12]))

	// The window resets after a request: the next chunk buffers again.
	result, err = tr.Process(context.Background(), voicedChunk(key, 8000))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRemoteTranscriberEmptyTextMeansNoResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"text": ""})
	}))
	defer server.Close()

	tr := NewRemoteTranscriber(server.URL, "ko", 100*time.Millisecond, zaptest.NewLogger(t))

	result, err := tr.Process(context.Background(), voicedChunk(chunkKey("r", "p", "pr"), 8000))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRemoteTranscriberServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewRemoteTranscriber(server.URL, "ko", 100*time.Millisecond, zaptest.NewLogger(t))

	_, err := tr.Process(context.Background(), voicedChunk(chunkKey("r", "p", "pr"), 8000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRemoteTranscriberReady(t *testing.T) {
	assert.True(t, NewRemoteTranscriber("http://localhost:9000", "ko", time.Second, zaptest.NewLogger(t)).Ready())
	assert.False(t, NewRemoteTranscriber("", "ko", time.Second, zaptest.NewLogger(t)).Ready())
}

func TestRemoteTranslatorRequestAndResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteTranslationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "안녕하세요", req.Text)
		assert.Equal(t, "ko", req.Source)
		assert.Equal(t, "en", req.Target)

		json.NewEncoder(w).Encode(map[string]string{"translatedText": "Hello"})
	}))
	defer server.Close()

	tr := NewRemoteTranslator(server.URL, "ko", "en")

	result, err := tr.Process(context.Background(), chunkKey("r", "p", "pr"), "안녕하세요")
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.TranslatedText)
	assert.Equal(t, "안녕하세요", result.SourceText)
	assert.Equal(t, "ko", result.SourceLanguage)
	assert.Equal(t, "en", result.TargetLanguage)
}

func TestRemoteTranslatorEmptyResponseIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	tr := NewRemoteTranslator(server.URL, "ko", "en")

	_, err := tr.Process(context.Background(), chunkKey("r", "p", "pr"), "text")
	require.Error(t, err)
}

func TestRemoteEmotionTextRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteEmotionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "so happy today", req.Text)

		json.NewEncoder(w).Encode(map[string]any{
			"category": "happy",
			"weights":  map[string]float64{"happy": 3, "neutral": 1},
		})
	}))
	defer server.Close()

	em := NewRemoteEmotion(server.URL)

	result, err := em.ProcessText(context.Background(), chunkKey("r", "p", "pr"), "so happy today")
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionHappy, result.Category)
	assert.InDelta(t, 0.75, result.Weights[domain.EmotionHappy], 1e-9)
	assertWeightsValid(t, result)
}

func TestRemoteEmotionAudioRequestCarriesFeatures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remoteEmotionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Greater(t, req.Energy, 0.0)
		assert.Greater(t, req.Peak, 0.0)
		assert.Equal(t, int64(100), req.DurationMS)

		json.NewEncoder(w).Encode(map[string]any{"category": "surprised"})
	}))
	defer server.Close()

	em := NewRemoteEmotion(server.URL)

	result, err := em.ProcessAudio(context.Background(), voicedChunk(chunkKey("r", "p", "pr"), 8000))
	require.NoError(t, err)
	assert.Equal(t, domain.EmotionSurprised, result.Category)
	assert.InDelta(t, 1.0, result.Weights[domain.EmotionSurprised], 1e-9)
	assertWeightsValid(t, result)
}

func TestRemoteEmotionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	em := NewRemoteEmotion(server.URL)

	_, err := em.ProcessText(context.Background(), chunkKey("r", "p", "pr"), "text")
	require.Error(t, err)
}
