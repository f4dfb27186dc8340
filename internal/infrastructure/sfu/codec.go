package sfu

import (
	"encoding/json"
	"fmt"
	"strings"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/audio"
	"voxrelay/pkg/validation"
)

// Message types on the SFU signaling socket. The canonical spelling is
// hyphenated; NormalizeType folds snake_case variants onto these.
const (
	TypeAuth        = "auth"
	TypeAuthSuccess = "auth-success"
	TypeAuthFailure = "auth-failure"
	TypeAuthError   = "auth-error" // failure alias emitted by some SFU versions
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeStreamData  = "stream-data"
	TypeStreamEnd   = "stream-end"
)

// ClientTypeAIService identifies this relay to the SFU during auth.
const ClientTypeAIService = "ai-service"

// Audio format defaults applied when stream-data omits them.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Envelope is the outer frame of every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NormalizeType maps snake_case type spellings onto the canonical
// hyphenated form, so auth_success and auth-success dispatch identically.
func NormalizeType(t string) string {
	return strings.ReplaceAll(t, "_", "-")
}

// AuthPayload is the credential frame sent immediately after dialing.
type AuthPayload struct {
	ClientID   string `json:"client_id"`
	ClientType string `json:"client_type"`
	Token      string `json:"token"`
}

// AuthResultPayload carries the outcome of authentication. The SFU reports
// failures in either reason or message depending on version.
type AuthResultPayload struct {
	ClientID string `json:"client_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FailureReason returns whichever failure field the SFU populated.
func (p AuthResultPayload) FailureReason() string {
	if p.Reason != "" {
		return p.Reason
	}
	if p.Message != "" {
		return p.Message
	}
	return "unspecified"
}

// StreamPayload identifies one producer's stream in subscribe, unsubscribe
// and stream-end frames.
type StreamPayload struct {
	RoomID     string `json:"room_id"`
	PeerID     string `json:"peer_id"`
	ProducerID string `json:"producer_id"`
}

// Key converts the payload to a domain stream key.
func (p StreamPayload) Key() domain.StreamKey {
	return domain.StreamKey{
		RoomID:     domain.RoomID(p.RoomID),
		PeerID:     domain.PeerID(p.PeerID),
		ProducerID: domain.ProducerID(p.ProducerID),
	}
}

// StreamDataPayload carries one chunk of audio as base64 PCM16LE.
type StreamDataPayload struct {
	RoomID     string `json:"room_id"`
	PeerID     string `json:"peer_id"`
	ProducerID string `json:"producer_id"`
	Buffer     string `json:"buffer"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

func encodeEnvelope(msgType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		data = encoded
	}

	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", msgType, err)
	}
	return frame, nil
}

// EncodeAuth builds the auth frame for this relay's credentials.
func EncodeAuth(clientID, token string) ([]byte, error) {
	return encodeEnvelope(TypeAuth, AuthPayload{
		ClientID:   clientID,
		ClientType: ClientTypeAIService,
		Token:      token,
	})
}

// EncodeSubscribe builds a subscribe frame for one stream.
func EncodeSubscribe(key domain.StreamKey) ([]byte, error) {
	return encodeEnvelope(TypeSubscribe, StreamPayload{
		RoomID:     string(key.RoomID),
		PeerID:     string(key.PeerID),
		ProducerID: string(key.ProducerID),
	})
}

// EncodeUnsubscribe builds an unsubscribe frame for one stream.
func EncodeUnsubscribe(key domain.StreamKey) ([]byte, error) {
	return encodeEnvelope(TypeUnsubscribe, StreamPayload{
		RoomID:     string(key.RoomID),
		PeerID:     string(key.PeerID),
		ProducerID: string(key.ProducerID),
	})
}

// EncodePing builds a heartbeat frame.
func EncodePing() ([]byte, error) {
	return encodeEnvelope(TypePing, nil)
}

// EncodePong builds a heartbeat reply frame.
func EncodePong() ([]byte, error) {
	return encodeEnvelope(TypePong, nil)
}

// DecodeEnvelope parses the outer frame and normalizes its type.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame missing type")
	}
	env.Type = NormalizeType(env.Type)
	return env, nil
}

// DecodeAuthResult parses the payload of auth-success and auth-failure.
// Both arrive with optional payloads, so nil data decodes to a zero result.
func DecodeAuthResult(data json.RawMessage) (AuthResultPayload, error) {
	var p AuthResultPayload
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return AuthResultPayload{}, fmt.Errorf("malformed auth result: %w", err)
	}
	return p, nil
}

// DecodeStreamEnd parses a stream-end payload into its stream key.
func DecodeStreamEnd(data json.RawMessage) (domain.StreamKey, error) {
	var p StreamPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.StreamKey{}, fmt.Errorf("malformed stream-end: %w", err)
	}
	key := p.Key()
	if key.IsZero() {
		return domain.StreamKey{}, fmt.Errorf("stream-end missing stream identifiers")
	}
	return key, nil
}

// DecodeStreamData parses a stream-data payload into an audio chunk,
// decoding the base64 buffer and applying format defaults.
func DecodeStreamData(data json.RawMessage) (*domain.AudioChunk, error) {
	var p StreamDataPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed stream-data: %w", err)
	}

	key := StreamPayload{RoomID: p.RoomID, PeerID: p.PeerID, ProducerID: p.ProducerID}.Key()
	if key.IsZero() {
		return nil, fmt.Errorf("stream-data missing stream identifiers")
	}

	pcm, err := audio.DecodeBase64PCM(p.Buffer)
	if err != nil {
		return nil, fmt.Errorf("stream-data buffer: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("stream-data buffer is empty")
	}

	sampleRate := p.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	} else if err := validation.ValidateSampleRate(sampleRate); err != nil {
		return nil, fmt.Errorf("stream-data: %w", err)
	}
	channels := p.Channels
	if channels <= 0 {
		channels = DefaultChannels
	} else if err := validation.ValidateChannels(channels); err != nil {
		return nil, fmt.Errorf("stream-data: %w", err)
	}

	return &domain.AudioChunk{
		Key:        key,
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   channels,
		Timestamp:  p.Timestamp,
	}, nil
}
