package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/audio"
)

type remoteEmotionRequest struct {
	Text       string  `json:"text,omitempty"`
	Energy     float64 `json:"energy,omitempty"`
	Peak       float64 `json:"peak,omitempty"`
	DurationMS int64   `json:"durationMs,omitempty"`
}

type remoteEmotionResponse struct {
	Category   string             `json:"category"`
	Confidence float64            `json:"confidence,omitempty"`
	Weights    map[string]float64 `json:"weights,omitempty"`
}

// RemoteEmotion posts either transcript text or audio energy features to an
// emotion classification endpoint. Responses without a full weight map are
// expanded to one before normalization.
type RemoteEmotion struct {
	endpoint string
	client   *http.Client
}

// NewRemoteEmotion creates an analyzer POSTing to endpoint.
func NewRemoteEmotion(endpoint string) *RemoteEmotion {
	return &RemoteEmotion{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

func (r *RemoteEmotion) Name() string { return "remote-emotion" }

func (r *RemoteEmotion) Ready() bool { return r.endpoint != "" }

func (r *RemoteEmotion) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *RemoteEmotion) ProcessText(ctx context.Context, key domain.StreamKey, text string) (*domain.EmotionResult, error) {
	return r.classify(ctx, remoteEmotionRequest{Text: text})
}

func (r *RemoteEmotion) ProcessAudio(ctx context.Context, chunk *domain.AudioChunk) (*domain.EmotionResult, error) {
	return r.classify(ctx, remoteEmotionRequest{
		Energy:     audio.RMS(chunk.PCM),
		Peak:       audio.Peak(chunk.PCM),
		DurationMS: chunk.Duration().Milliseconds(),
	})
}

func (r *RemoteEmotion) classify(ctx context.Context, payload remoteEmotionRequest) (*domain.EmotionResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode emotion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build emotion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emotion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emotion endpoint returned %d", resp.StatusCode)
	}

	var decoded remoteEmotionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode emotion response: %w", err)
	}

	weights := baseWeights()
	for name, weight := range decoded.Weights {
		weights[domain.EmotionCategory(name)] = weight
	}
	if len(decoded.Weights) == 0 && decoded.Category != "" {
		weights[domain.EmotionCategory(decoded.Category)] = 1.0
	}

	result := &domain.EmotionResult{
		Category: domain.EmotionCategory(decoded.Category),
		Weights:  weights,
	}
	result.NormalizeWeights()
	return result, nil
}
