package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/audio"
)

type pcmWindow struct {
	data       []byte
	sampleRate int
	channels   int
	lastSeen   time.Time
}

func (w *pcmWindow) duration() time.Duration {
	if w.sampleRate <= 0 || w.channels <= 0 {
		return 0
	}
	samples := len(w.data) / 2 / w.channels
	return time.Duration(samples) * time.Second / time.Duration(w.sampleRate)
}

type remoteTranscriptionResponse struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Final      *bool   `json:"final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// RemoteTranscriber accumulates PCM per stream until a minimum window is
// buffered, wraps it in a WAV container and POSTs it to a Whisper-style
// HTTP endpoint. Chunks below the window return no result.
type RemoteTranscriber struct {
	endpoint  string
	language  string
	minWindow time.Duration
	client    *http.Client
	wavs      *audio.BufferPool
	logger    *zap.Logger

	mu        sync.Mutex
	windows   map[domain.StreamKey]*pcmWindow
	lastPrune time.Time
}

// NewRemoteTranscriber creates a transcriber POSTing to endpoint. minWindow
// bounds how much audio is buffered per stream before a request is made.
func NewRemoteTranscriber(endpoint, language string, minWindow time.Duration, logger *zap.Logger) *RemoteTranscriber {
	if minWindow <= 0 {
		minWindow = time.Second
	}
	return &RemoteTranscriber{
		endpoint:  endpoint,
		language:  language,
		minWindow: minWindow,
		client:    &http.Client{},
		wavs:      audio.NewBufferPool(),
		logger:    logger,
		windows:   make(map[domain.StreamKey]*pcmWindow),
		lastPrune: time.Now(),
	}
}

func (r *RemoteTranscriber) Name() string { return "remote-transcriber" }

func (r *RemoteTranscriber) Ready() bool { return r.endpoint != "" }

func (r *RemoteTranscriber) Close() error {
	r.mu.Lock()
	r.windows = make(map[domain.StreamKey]*pcmWindow)
	r.mu.Unlock()
	r.client.CloseIdleConnections()
	return nil
}

func (r *RemoteTranscriber) Process(ctx context.Context, chunk *domain.AudioChunk) (*domain.TranscriptionResult, error) {
	wav, ok := r.accumulate(chunk)
	if !ok {
		return nil, nil
	}
	// wav is pooled; transcribe must fully consume it before returning.
	defer r.wavs.Put(wav)
	return r.transcribe(ctx, wav)
}

// accumulate buffers the chunk and returns a full WAV when the window is
// reached. The returned buffer belongs to the transcriber's pool.
func (r *RemoteTranscriber) accumulate(chunk *domain.AudioChunk) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	w, ok := r.windows[chunk.Key]
	if !ok {
		w = &pcmWindow{sampleRate: chunk.SampleRate, channels: chunk.Channels}
		r.windows[chunk.Key] = w
	}
	w.data = append(w.data, chunk.PCM...)
	w.lastSeen = time.Now()

	if w.duration() < r.minWindow {
		return nil, false
	}

	wav := audio.AppendWAV(r.wavs.Get(0), w.data, w.sampleRate, w.channels, 16)
	w.data = w.data[:0]
	return wav, true
}

func (r *RemoteTranscriber) transcribe(ctx context.Context, wav []byte) (*domain.TranscriptionResult, error) {
	endpoint, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid transcription endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("language", r.language)
	query.Set("task", "transcribe")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("failed to build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription endpoint returned %d", resp.StatusCode)
	}

	var decoded remoteTranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	if decoded.Text == "" {
		return nil, nil
	}

	language := decoded.Language
	if language == "" {
		language = r.language
	}
	final := true
	if decoded.Final != nil {
		final = *decoded.Final
	}
	confidence := decoded.Confidence
	if confidence == 0 {
		confidence = 0.9
	}

	return &domain.TranscriptionResult{
		Text:       decoded.Text,
		IsFinal:    final,
		Language:   language,
		Confidence: confidence,
	}, nil
}

func (r *RemoteTranscriber) pruneLocked() {
	now := time.Now()
	if now.Sub(r.lastPrune) < statePruneInterval {
		return
	}
	r.lastPrune = now

	for key, w := range r.windows {
		if now.Sub(w.lastSeen) > stateMaxIdle {
			delete(r.windows, key)
		}
	}
}
