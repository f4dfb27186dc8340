package domain

import (
	"fmt"
	"time"
)

type RoomID string
type PeerID string
type ProducerID string

// StreamKey identifies a single producer's media stream inside a room.
type StreamKey struct {
	RoomID     RoomID
	PeerID     PeerID
	ProducerID ProducerID
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.RoomID, k.PeerID, k.ProducerID)
}

func (k StreamKey) IsZero() bool {
	return k.RoomID == "" && k.PeerID == "" && k.ProducerID == ""
}

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// StreamRequest is an external request to attach inference to a producer.
type StreamRequest struct {
	RoomID     RoomID
	PeerID     PeerID
	ProducerID ProducerID
	Kind       MediaKind
	Metadata   map[string]string
}

func (r StreamRequest) Key() StreamKey {
	return StreamKey{RoomID: r.RoomID, PeerID: r.PeerID, ProducerID: r.ProducerID}
}

// AudioChunk is one decoded frame of PCM16LE audio from the upstream SFU.
type AudioChunk struct {
	Key        StreamKey
	PCM        []byte
	SampleRate int
	Channels   int
	Timestamp  int64
}

// SampleCount returns the number of samples per channel in the chunk.
func (c *AudioChunk) SampleCount() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.PCM) / 2 / c.Channels
}

// Duration returns the playback duration of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.SampleCount()) * time.Second / time.Duration(c.SampleRate)
}
