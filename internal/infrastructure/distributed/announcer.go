package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
)

const announceChannel = "voxrelay:announce"

// NoticeType identifies a cross-instance lifecycle notification.
type NoticeType string

const (
	NoticeStreamSubscribed NoticeType = "relay.stream.subscribed"
	NoticeStreamEnded      NoticeType = "relay.stream.ended"
	NoticeUpstreamLost     NoticeType = "relay.upstream.lost"
	NoticeUpstreamRestored NoticeType = "relay.upstream.restored"
)

// Notice is the payload exchanged between relay instances over Redis pub/sub.
type Notice struct {
	Type       NoticeType        `json:"type"`
	InstanceID string            `json:"instance_id"`
	Timestamp  time.Time         `json:"timestamp"`
	RoomID     domain.RoomID     `json:"room_id,omitempty"`
	PeerID     domain.PeerID     `json:"peer_id,omitempty"`
	ProducerID domain.ProducerID `json:"producer_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

func (n *Notice) Key() domain.StreamKey {
	return domain.StreamKey{RoomID: n.RoomID, PeerID: n.PeerID, ProducerID: n.ProducerID}
}

// Announcer broadcasts relay lifecycle notices to sibling instances and can
// listen for theirs. It implements ports.StreamAnnouncer.
type Announcer struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

func NewAnnouncer(client *redis.Client, instanceID string, logger *zap.Logger) *Announcer {
	return &Announcer{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (a *Announcer) publish(ctx context.Context, notice *Notice) error {
	notice.InstanceID = a.instanceID
	notice.Timestamp = time.Now()

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	if err := a.client.Publish(ctx, announceChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}

	a.logger.Debug("published notice",
		zap.String("type", string(notice.Type)),
		zap.String("room", string(notice.RoomID)),
	)
	return nil
}

func (a *Announcer) AnnounceStreamSubscribed(ctx context.Context, key domain.StreamKey) error {
	return a.publish(ctx, &Notice{
		Type:       NoticeStreamSubscribed,
		RoomID:     key.RoomID,
		PeerID:     key.PeerID,
		ProducerID: key.ProducerID,
	})
}

func (a *Announcer) AnnounceStreamEnded(ctx context.Context, key domain.StreamKey) error {
	return a.publish(ctx, &Notice{
		Type:       NoticeStreamEnded,
		RoomID:     key.RoomID,
		PeerID:     key.PeerID,
		ProducerID: key.ProducerID,
	})
}

func (a *Announcer) AnnounceUpstreamLost(ctx context.Context, reason string) error {
	return a.publish(ctx, &Notice{Type: NoticeUpstreamLost, Reason: reason})
}

func (a *Announcer) AnnounceUpstreamRestored(ctx context.Context) error {
	return a.publish(ctx, &Notice{Type: NoticeUpstreamRestored})
}

// Listen blocks consuming sibling notices until ctx is done. Notices from
// this instance are skipped.
func (a *Announcer) Listen(ctx context.Context, handler func(*Notice) error) error {
	pubsub := a.client.Subscribe(ctx, announceChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := a.handleMessage([]byte(msg.Payload), handler); err != nil {
				a.logger.Warn("error handling notice", zap.Error(err))
			}
		}
	}
}

func (a *Announcer) handleMessage(payload []byte, handler func(*Notice) error) error {
	var notice Notice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return fmt.Errorf("failed to unmarshal notice: %w", err)
	}

	if notice.InstanceID == a.instanceID {
		return nil
	}
	return handler(&notice)
}
