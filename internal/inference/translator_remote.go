package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"voxrelay/internal/core/domain"
)

type remoteTranslationRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type remoteTranslationResponse struct {
	TranslatedText string `json:"translatedText"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// RemoteTranslator POSTs transcript text to a translation HTTP endpoint.
type RemoteTranslator struct {
	endpoint string
	source   string
	target   string
	client   *http.Client
}

// NewRemoteTranslator creates a translator for the source→target pair.
func NewRemoteTranslator(endpoint, source, target string) *RemoteTranslator {
	return &RemoteTranslator{
		endpoint: endpoint,
		source:   source,
		target:   target,
		client:   &http.Client{},
	}
}

func (r *RemoteTranslator) Name() string { return "remote-translator" }

func (r *RemoteTranslator) Ready() bool { return r.endpoint != "" }

func (r *RemoteTranslator) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *RemoteTranslator) Process(ctx context.Context, key domain.StreamKey, text string) (*domain.TranslationResult, error) {
	body, err := json.Marshal(remoteTranslationRequest{
		Text:   text,
		Source: r.source,
		Target: r.target,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode translation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("translation endpoint returned %d", resp.StatusCode)
	}

	var decoded remoteTranslationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode translation response: %w", err)
	}

	if decoded.TranslatedText == "" {
		return nil, fmt.Errorf("translation endpoint returned empty text")
	}

	source := decoded.SourceLanguage
	if source == "" {
		source = r.source
	}
	target := decoded.TargetLanguage
	if target == "" {
		target = r.target
	}

	return &domain.TranslationResult{
		SourceText:     text,
		TranslatedText: decoded.TranslatedText,
		SourceLanguage: source,
		TargetLanguage: target,
	}, nil
}
