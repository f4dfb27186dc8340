package domain

import "time"

type EventType string

const (
	EventTypeTranscription EventType = "transcription"
	EventTypeTranslation   EventType = "translation"
	EventTypeEmotion       EventType = "emotion"
	EventTypeError         EventType = "error"
	EventTypeStreamEnd     EventType = "stream-end"
)

// Event is the typed message pushed to downstream sessions. Data carries the
// stage result (or error detail) and must be JSON-marshalable.
type Event struct {
	Type       EventType  `json:"type"`
	RoomID     RoomID     `json:"roomId"`
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
	Timestamp  int64      `json:"timestamp"`
	Data       any        `json:"data,omitempty"`
}

func NewEvent(eventType EventType, key StreamKey, data any) *Event {
	return &Event{
		Type:       eventType,
		RoomID:     key.RoomID,
		PeerID:     key.PeerID,
		ProducerID: key.ProducerID,
		Timestamp:  time.Now().UnixMilli(),
		Data:       data,
	}
}

func (e *Event) Key() StreamKey {
	return StreamKey{RoomID: e.RoomID, PeerID: e.PeerID, ProducerID: e.ProducerID}
}

// ErrorDetail is the Data payload of an error event.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}
