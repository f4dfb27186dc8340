package sfu

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voxrelay/internal/core/domain"
	"voxrelay/pkg/config"
)

// fakeSFU is a scripted stand-in for the media server's signaling socket.
type fakeSFU struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	authOK     atomic.Bool
	silentAuth atomic.Bool
	pongOnPing atomic.Bool
	failReason string

	mu    sync.Mutex
	conns []*fakeConn

	frames chan receivedFrame
}

type fakeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (fc *fakeConn) push(t *testing.T, msgType string, payload any) {
	t.Helper()

	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		data = encoded
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	require.NoError(t, err)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NoError(t, fc.conn.WriteMessage(websocket.TextMessage, frame))
}

func (fc *fakeConn) pushRaw(t *testing.T, raw string) {
	t.Helper()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NoError(t, fc.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (fc *fakeConn) close() {
	fc.conn.Close()
}

type receivedFrame struct {
	connIndex int
	env       Envelope
}

func newFakeSFU(t *testing.T) *fakeSFU {
	f := &fakeSFU{
		t:          t,
		failReason: "invalid token",
		frames:     make(chan receivedFrame, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	f.authOK.Store(true)
	f.pongOnPing.Store(true)

	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSFU) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeSFU) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fc := &fakeConn{conn: conn}
	f.mu.Lock()
	f.conns = append(f.conns, fc)
	index := len(f.conns) - 1
	f.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		select {
		case f.frames <- receivedFrame{connIndex: index, env: env}:
		default:
		}

		switch env.Type {
		case TypeAuth:
			if f.silentAuth.Load() {
				continue
			}
			if f.authOK.Load() {
				fc.push(f.t, TypeAuthSuccess, map[string]string{"client_id": "relay-test"})
			} else {
				fc.push(f.t, TypeAuthFailure, map[string]string{"reason": f.failReason})
			}
		case TypePing:
			if f.pongOnPing.Load() {
				fc.push(f.t, TypePong, nil)
			}
		}
	}
}

func (f *fakeSFU) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeSFU) conn(t *testing.T, index int) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.conns) > index {
			fc := f.conns[index]
			f.mu.Unlock()
			return fc
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %d never arrived", index)
	return nil
}

// waitFrame consumes received frames until one of msgType arrives.
func (f *fakeSFU) waitFrame(t *testing.T, msgType string) receivedFrame {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case fr := <-f.frames:
			if fr.env.Type == msgType {
				return fr
			}
		case <-timeout:
			t.Fatalf("frame %q never arrived", msgType)
		}
	}
}

type captureHandler struct {
	audio chan *domain.AudioChunk
	ends  chan domain.StreamKey
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		audio: make(chan *domain.AudioChunk, 32),
		ends:  make(chan domain.StreamKey, 32),
	}
}

func (h *captureHandler) HandleAudio(ctx context.Context, chunk *domain.AudioChunk) {
	h.audio <- chunk
}

func (h *captureHandler) HandleStreamEnd(ctx context.Context, key domain.StreamKey) {
	h.ends <- key
}

func clientConfig(url string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream.URL = url
	cfg.Upstream.ClientID = "relay-test"
	cfg.Upstream.Token = "secret-token"
	cfg.Upstream.DialTimeout = 2 * time.Second
	cfg.Upstream.AuthTimeout = 2 * time.Second
	cfg.Upstream.PingInterval = 30 * time.Millisecond
	cfg.Upstream.Reconnect.BaseDelay = 20 * time.Millisecond
	cfg.Upstream.Reconnect.MaxDelay = 100 * time.Millisecond
	cfg.Upstream.Reconnect.MaxAttempts = 5
	return cfg
}

func newTestClient(t *testing.T, f *fakeSFU, mutate func(*config.Config)) (*Client, *captureHandler) {
	t.Helper()
	cfg := clientConfig(f.url())
	if mutate != nil {
		mutate(cfg)
	}
	handler := newCaptureHandler()
	c := NewClient(cfg, handler, zaptest.NewLogger(t))
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c, handler
}

func testKey(room, peer, producer string) domain.StreamKey {
	return domain.StreamKey{
		RoomID:     domain.RoomID(room),
		PeerID:     domain.PeerID(peer),
		ProducerID: domain.ProducerID(producer),
	}
}

func waitState(t *testing.T, c *Client, want domain.ConnState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, never reached %s", c.State(), want)
}

func TestConnectAuthenticates(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)

	require.NoError(t, c.Connect(context.Background()))

	assert.True(t, c.IsReady())
	assert.Equal(t, domain.ConnStateConnected, c.State())

	fr := f.waitFrame(t, TypeAuth)
	var auth AuthPayload
	require.NoError(t, json.Unmarshal(fr.env.Data, &auth))
	assert.Equal(t, "relay-test", auth.ClientID)
	assert.Equal(t, ClientTypeAIService, auth.ClientType)
	assert.Equal(t, "secret-token", auth.Token)
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, 1, f.connCount())
}

func TestConnectAuthFailure(t *testing.T) {
	f := newFakeSFU(t)
	f.authOK.Store(false)
	c, _ := newTestClient(t, f, nil)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthFailed))
	assert.Contains(t, err.Error(), "invalid token")
	assert.Equal(t, domain.ConnStateDisconnected, c.State())
	assert.False(t, c.IsReady())
}

func TestConnectAuthErrorAlias(t *testing.T) {
	f := newFakeSFU(t)
	f.silentAuth.Store(true)
	c, _ := newTestClient(t, f, nil)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()

	f.waitFrame(t, TypeAuth)
	f.conn(t, 0).push(t, "auth_error", map[string]string{"reason": "invalid token"})

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthFailed))
	assert.Contains(t, err.Error(), "invalid token")
	assert.Equal(t, domain.ConnStateDisconnected, c.State())
}

func TestConnectAuthTimeout(t *testing.T) {
	f := newFakeSFU(t)
	f.silentAuth.Store(true)
	c, _ := newTestClient(t, f, func(cfg *config.Config) {
		cfg.Upstream.AuthTimeout = 100 * time.Millisecond
	})

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAuthTimeout))
	assert.Equal(t, domain.ConnStateDisconnected, c.State())
}

func TestConnectDialFailure(t *testing.T) {
	f := newFakeSFU(t)
	url := f.url()
	f.server.Close()

	cfg := clientConfig(url)
	cfg.Upstream.DialTimeout = 500 * time.Millisecond
	c := NewClient(cfg, newCaptureHandler(), zaptest.NewLogger(t))
	defer c.Disconnect(context.Background())

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ConnStateDisconnected, c.State())
}

func TestSubscribeSendsFrameAndTracksKey(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	key := testKey("room-1", "peer-1", "prod-1")
	require.NoError(t, c.Subscribe(context.Background(), key))

	fr := f.waitFrame(t, TypeSubscribe)
	var payload StreamPayload
	require.NoError(t, json.Unmarshal(fr.env.Data, &payload))
	assert.Equal(t, "room-1", payload.RoomID)
	assert.Equal(t, "peer-1", payload.PeerID)
	assert.Equal(t, "prod-1", payload.ProducerID)

	assert.Equal(t, []domain.StreamKey{key}, c.Subscriptions())
}

func TestSubscribeConnectsFirst(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)

	require.NoError(t, c.Subscribe(context.Background(), testKey("r", "p", "pr")))

	assert.True(t, c.IsReady())
	f.waitFrame(t, TypeAuth)
	f.waitFrame(t, TypeSubscribe)
}

func TestSubscribeFailureLeavesSetUnchanged(t *testing.T) {
	f := newFakeSFU(t)
	url := f.url()
	f.server.Close()

	cfg := clientConfig(url)
	cfg.Upstream.DialTimeout = 300 * time.Millisecond
	c := NewClient(cfg, newCaptureHandler(), zaptest.NewLogger(t))
	defer c.Disconnect(context.Background())

	err := c.Subscribe(context.Background(), testKey("r", "p", "pr"))
	require.Error(t, err)
	assert.Empty(t, c.Subscriptions())
}

func TestSubscribeRejectsZeroKey(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)

	err := c.Subscribe(context.Background(), domain.StreamKey{})
	require.Error(t, err)
	assert.Empty(t, c.Subscriptions())
}

func TestUnsubscribeRemovesKey(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	key := testKey("room-1", "peer-1", "prod-1")
	require.NoError(t, c.Subscribe(context.Background(), key))
	require.NoError(t, c.Unsubscribe(context.Background(), key))

	fr := f.waitFrame(t, TypeUnsubscribe)
	var payload StreamPayload
	require.NoError(t, json.Unmarshal(fr.env.Data, &payload))
	assert.Equal(t, "room-1", payload.RoomID)

	assert.Empty(t, c.Subscriptions())

	err := c.Unsubscribe(context.Background(), key)
	assert.True(t, errors.Is(err, domain.ErrStreamNotFound))
}

func TestUnsubscribeWhileDisconnectedRemovesLocally(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, func(cfg *config.Config) {
		// Park the reconnect loop so the client stays disconnected.
		cfg.Upstream.Reconnect.BaseDelay = time.Hour
		cfg.Upstream.Reconnect.MaxDelay = time.Hour
		cfg.Upstream.PingInterval = time.Hour
	})
	require.NoError(t, c.Connect(context.Background()))

	key := testKey("room-1", "peer-1", "prod-1")
	require.NoError(t, c.Subscribe(context.Background(), key))

	f.conn(t, 0).close()
	waitState(t, c, domain.ConnStateReconnecting)

	require.NoError(t, c.Unsubscribe(context.Background(), key))
	assert.Empty(t, c.Subscriptions())
}

func TestStreamDataDispatchedToHandler(t *testing.T) {
	f := newFakeSFU(t)
	c, handler := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	pcm := []byte{0x01, 0x00, 0xFF, 0x7F}
	f.conn(t, 0).push(t, TypeStreamData, StreamDataPayload{
		RoomID:     "room-1",
		PeerID:     "peer-1",
		ProducerID: "prod-1",
		Buffer:     base64.StdEncoding.EncodeToString(pcm),
		Timestamp:  1234,
	})

	select {
	case chunk := <-handler.audio:
		assert.Equal(t, testKey("room-1", "peer-1", "prod-1"), chunk.Key)
		assert.Equal(t, pcm, chunk.PCM)
		assert.Equal(t, DefaultSampleRate, chunk.SampleRate)
		assert.Equal(t, DefaultChannels, chunk.Channels)
		assert.Equal(t, int64(1234), chunk.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received audio chunk")
	}
}

func TestMalformedStreamDataDropped(t *testing.T) {
	f := newFakeSFU(t)
	c, handler := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	fc := f.conn(t, 0)

	// Bad base64, bad JSON, unsupported format, then a valid chunk. Only the
	// valid one arrives.
	fc.push(t, TypeStreamData, StreamDataPayload{
		RoomID: "room-1", PeerID: "peer-1", ProducerID: "prod-1",
		Buffer: "not-base64!!!",
	})
	fc.pushRaw(t, `{"type":"stream-data","data":"garbage`)
	fc.push(t, TypeStreamData, StreamDataPayload{
		RoomID: "room-1", PeerID: "peer-1", ProducerID: "prod-1",
		Buffer:     base64.StdEncoding.EncodeToString([]byte{0x01, 0x00}),
		SampleRate: 12345,
	})
	good := []byte{0x02, 0x00}
	fc.push(t, TypeStreamData, StreamDataPayload{
		RoomID: "room-1", PeerID: "peer-1", ProducerID: "prod-1",
		Buffer: base64.StdEncoding.EncodeToString(good),
	})

	select {
	case chunk := <-handler.audio:
		assert.Equal(t, good, chunk.PCM)
	case <-time.After(5 * time.Second):
		t.Fatal("valid chunk never arrived")
	}
	assert.True(t, c.IsReady(), "malformed frames must not break the connection")
}

func TestStreamEndDispatchedAndSubscriptionDropped(t *testing.T) {
	f := newFakeSFU(t)
	c, handler := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	key := testKey("room-1", "peer-1", "prod-1")
	require.NoError(t, c.Subscribe(context.Background(), key))

	f.conn(t, 0).push(t, TypeStreamEnd, StreamPayload{
		RoomID: "room-1", PeerID: "peer-1", ProducerID: "prod-1",
	})

	select {
	case got := <-handler.ends:
		assert.Equal(t, key, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never received stream end")
	}
	assert.Empty(t, c.Subscriptions(), "ended stream must not be replayed after reconnect")
}

func TestSnakeCaseTypesNormalized(t *testing.T) {
	f := newFakeSFU(t)
	c, handler := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	raw := `{"type":"stream_end","data":{"room_id":"r","peer_id":"p","producer_id":"pr"}}`
	f.conn(t, 0).pushRaw(t, raw)

	select {
	case key := <-handler.ends:
		assert.Equal(t, testKey("r", "p", "pr"), key)
	case <-time.After(5 * time.Second):
		t.Fatal("snake_case stream_end was not dispatched")
	}
}

func TestUnknownMessageIgnored(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	f.conn(t, 0).push(t, "speaker-changed", map[string]string{"peer_id": "p"})

	time.Sleep(50 * time.Millisecond)
	assert.True(t, c.IsReady())
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	f.waitFrame(t, TypePing)
	f.waitFrame(t, TypePing)

	assert.True(t, c.IsReady())
	assert.Equal(t, 1, f.connCount())
	assert.False(t, c.Stats().LastPongAt.IsZero())
}

func TestMissedPongsTriggerReconnect(t *testing.T) {
	f := newFakeSFU(t)
	f.pongOnPing.Store(false)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	// With pongs withheld the heartbeat declares the peer dead after two
	// intervals and reconnects.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && f.connCount() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, f.connCount(), 2, "client never reconnected")
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))

	keyA := testKey("room-1", "peer-1", "prod-1")
	keyB := testKey("room-1", "peer-2", "prod-2")
	require.NoError(t, c.Subscribe(context.Background(), keyA))
	require.NoError(t, c.Subscribe(context.Background(), keyB))

	// Drain the initial subscribe frames.
	f.waitFrame(t, TypeSubscribe)
	f.waitFrame(t, TypeSubscribe)

	f.conn(t, 0).close()
	waitState(t, c, domain.ConnStateConnected)
	require.GreaterOrEqual(t, f.connCount(), 2)

	replayed := map[string]bool{}
	for i := 0; i < 2; i++ {
		fr := f.waitFrame(t, TypeSubscribe)
		var payload StreamPayload
		require.NoError(t, json.Unmarshal(fr.env.Data, &payload))
		replayed[payload.Key().String()] = true
	}
	assert.True(t, replayed[keyA.String()], "keyA was not replayed")
	assert.True(t, replayed[keyB.String()], "keyB was not replayed")

	assert.Len(t, c.Subscriptions(), 2)
}

func TestReconnectExhaustionReportsFatalOnce(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, func(cfg *config.Config) {
		cfg.Upstream.DialTimeout = 200 * time.Millisecond
		cfg.Upstream.Reconnect.BaseDelay = 10 * time.Millisecond
		cfg.Upstream.Reconnect.MaxDelay = 20 * time.Millisecond
		cfg.Upstream.Reconnect.MaxAttempts = 2
	})

	var fatalCount atomic.Int32
	fatalCh := make(chan error, 4)
	c.OnFatal(func(err error) {
		fatalCount.Add(1)
		fatalCh <- err
	})

	require.NoError(t, c.Connect(context.Background()))

	// Take the whole server down so every reconnect attempt fails.
	f.server.CloseClientConnections()
	f.server.Close()

	select {
	case err := <-fatalCh:
		assert.True(t, errors.Is(err, domain.ErrReconnectExhausted))
	case <-time.After(10 * time.Second):
		t.Fatal("fatal callback never fired")
	}

	waitState(t, c, domain.ConnStateDisconnected)

	// No further attempts or reports without external intervention.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), fatalCount.Load())
	assert.False(t, c.IsReady())
}

func TestDisconnectUnsubscribesAndClearsSet(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), testKey("r", "p", "pr")))

	require.NoError(t, c.Disconnect(context.Background()))

	fr := f.waitFrame(t, TypeUnsubscribe)
	var payload StreamPayload
	require.NoError(t, json.Unmarshal(fr.env.Data, &payload))
	assert.Equal(t, "r", payload.RoomID)

	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, domain.ConnStateDisconnected, c.State())

	assert.True(t, errors.Is(c.Connect(context.Background()), domain.ErrShuttingDown))
	assert.True(t, errors.Is(c.Subscribe(context.Background(), testKey("r", "p", "pr")), domain.ErrShuttingDown))
}

func TestStatsSnapshot(t *testing.T) {
	f := newFakeSFU(t)
	c, _ := newTestClient(t, f, nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), testKey("r", "p", "pr")))

	stats := c.Stats()
	assert.Equal(t, domain.ConnStateConnected, stats.State)
	assert.Equal(t, f.url(), stats.URL)
	assert.Equal(t, 1, stats.Subscriptions)
	assert.Equal(t, 0, stats.ReconnectAttempt)
	assert.False(t, stats.ConnectedSince.IsZero())
}
