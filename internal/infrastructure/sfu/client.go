package sfu

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/pkg/backoff"
	"voxrelay/pkg/config"
	"voxrelay/pkg/utils"
)

const writeTimeout = 10 * time.Second

var _ ports.UpstreamClient = (*Client)(nil)

type authOutcome struct {
	ok     bool
	reason string
}

// Client maintains the relay's WebSocket connection to the SFU. It
// authenticates as an ai-service client, keeps the link alive with JSON
// ping/pong heartbeats, reconnects with exponential backoff when the link
// drops, and replays the retained subscription set after every reconnect.
//
// The subscription set survives connection loss. It is cleared only by
// Disconnect, which is the shutdown path.
type Client struct {
	url          string
	clientID     string
	token        string
	dialTimeout  time.Duration
	authTimeout  time.Duration
	pingInterval time.Duration
	policy       backoff.Policy

	handler ports.UpstreamHandler
	metrics ports.MetricsSink
	logger  *zap.Logger

	// connectMu serializes dial+auth sequences so an explicit Connect and
	// the reconnect loop cannot interleave.
	connectMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	state          domain.ConnState
	authWait       chan authOutcome
	attempt        int
	connectedSince time.Time
	fatalReported  bool
	onStateChange  func(from, to domain.ConnState)
	onFatal        func(err error)

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[domain.StreamKey]struct{}

	lastPong     atomic.Int64
	reconnecting atomic.Bool
	shuttingDown atomic.Bool

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// NewClient creates an unconnected client from the upstream section of cfg.
// handler receives decoded audio and stream-end notifications.
func NewClient(cfg *config.Config, handler ports.UpstreamHandler, logger *zap.Logger) *Client {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())

	return &Client{
		url:          cfg.Upstream.URL,
		clientID:     cfg.Upstream.ClientID,
		token:        cfg.Upstream.Token,
		dialTimeout:  cfg.Upstream.DialTimeout,
		authTimeout:  cfg.Upstream.AuthTimeout,
		pingInterval: cfg.Upstream.PingInterval,
		policy: backoff.Policy{
			BaseDelay:   cfg.Upstream.Reconnect.BaseDelay,
			MaxDelay:    cfg.Upstream.Reconnect.MaxDelay,
			MaxAttempts: cfg.Upstream.Reconnect.MaxAttempts,
		},
		handler:    handler,
		metrics:    ports.NopMetrics{},
		logger:     logger,
		state:      domain.ConnStateDisconnected,
		subs:       make(map[domain.StreamKey]struct{}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

// SetMetrics replaces the no-op sink. Call before Connect.
func (c *Client) SetMetrics(sink ports.MetricsSink) {
	if sink != nil {
		c.metrics = sink
	}
}

// OnStateChange registers a callback fired on every connection state
// transition. The callback runs on its own goroutine.
func (c *Client) OnStateChange(fn func(from, to domain.ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnFatal registers a callback fired once per outage when reconnection
// attempts are exhausted. The relay stays up; a later explicit Connect
// (via the API) starts a fresh attempt series.
func (c *Client) OnFatal(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFatal = fn
}

// Connect dials the SFU and authenticates. It is idempotent: when the
// client is already connected it returns nil immediately.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	if c.shuttingDown.Load() {
		return domain.ErrShuttingDown
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.shuttingDown.Load() {
		return domain.ErrShuttingDown
	}
	if c.State() == domain.ConnStateConnected {
		return nil
	}

	c.setState(domain.ConnStateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		c.setState(domain.ConnStateDisconnected)
		return fmt.Errorf("failed to dial upstream %s: %w", c.url, err)
	}

	authCh := make(chan authOutcome, 1)
	c.mu.Lock()
	c.conn = conn
	c.authWait = authCh
	c.mu.Unlock()

	c.setState(domain.ConnStateAuthenticating)

	epoch := make(chan struct{})
	go c.readLoop(conn, epoch)

	c.logger.Debug("authenticating with upstream",
		zap.String("client_id", c.clientID),
		zap.String("token", utils.MaskSensitive(c.token, 4)))

	frame, err := EncodeAuth(c.clientID, c.token)
	if err != nil {
		c.dropConn(conn)
		c.setState(domain.ConnStateDisconnected)
		return err
	}
	if err := c.send(conn, frame); err != nil {
		c.dropConn(conn)
		c.setState(domain.ConnStateDisconnected)
		return fmt.Errorf("failed to send auth: %w", err)
	}

	select {
	case outcome := <-authCh:
		if !outcome.ok {
			c.dropConn(conn)
			c.setState(domain.ConnStateDisconnected)
			return fmt.Errorf("%w: %s", domain.ErrAuthFailed, outcome.reason)
		}
	case <-time.After(c.authTimeout):
		c.dropConn(conn)
		c.setState(domain.ConnStateDisconnected)
		return domain.ErrAuthTimeout
	case <-ctx.Done():
		c.dropConn(conn)
		c.setState(domain.ConnStateDisconnected)
		return ctx.Err()
	}

	c.mu.Lock()
	c.authWait = nil
	c.attempt = 0
	c.fatalReported = false
	c.connectedSince = time.Now()
	c.mu.Unlock()
	c.lastPong.Store(time.Now().UnixMilli())

	c.setState(domain.ConnStateConnected)
	c.logger.Info("upstream connected",
		zap.String("url", c.url),
		zap.String("client_id", c.clientID))

	go c.heartbeatLoop(conn, epoch)

	c.replaySubscriptions(conn)

	return nil
}

// Disconnect shuts the client down for good: a best-effort unsubscribe is
// sent for each retained stream, the set is cleared, the connection closed
// with a normal close frame, and any in-flight reconnect loop stopped.
// Further calls to Connect or Subscribe fail with ErrShuttingDown.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	c.setState(domain.ConnStateShuttingDown)
	c.lifeCancel()

	c.subsMu.Lock()
	keys := make([]domain.StreamKey, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	c.subs = make(map[domain.StreamKey]struct{})
	c.subsMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		for _, key := range keys {
			frame, err := EncodeUnsubscribe(key)
			if err != nil {
				continue
			}
			if err := c.send(conn, frame); err != nil {
				break
			}
		}

		deadline := time.Now().Add(writeTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"), deadline)
		_ = conn.Close()
	}

	c.setState(domain.ConnStateDisconnected)
	c.logger.Info("upstream client shut down")
	return nil
}

// Subscribe asks the SFU for a producer's audio. The client connects first
// if it is not already connected; on any failure the subscription set is
// left unchanged.
func (c *Client) Subscribe(ctx context.Context, key domain.StreamKey) error {
	if c.shuttingDown.Load() {
		return domain.ErrShuttingDown
	}
	if key.IsZero() {
		return fmt.Errorf("stream key missing identifiers")
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	frame, err := EncodeSubscribe(key)
	if err != nil {
		return err
	}

	conn := c.currentConn()
	if conn == nil {
		return domain.ErrNotConnected
	}
	if err := c.send(conn, frame); err != nil {
		return fmt.Errorf("failed to send subscribe for %s: %w", key, err)
	}

	c.subsMu.Lock()
	c.subs[key] = struct{}{}
	c.subsMu.Unlock()

	c.logger.Info("subscribed to stream", zap.String("stream", key.String()))
	return nil
}

// Unsubscribe removes the stream from the retained set. The local removal
// always happens; the unsubscribe frame is best-effort when the link is
// down or the send fails.
func (c *Client) Unsubscribe(ctx context.Context, key domain.StreamKey) error {
	c.subsMu.Lock()
	_, ok := c.subs[key]
	delete(c.subs, key)
	c.subsMu.Unlock()

	if !ok {
		return domain.ErrStreamNotFound
	}

	if c.State() != domain.ConnStateConnected {
		return nil
	}
	conn := c.currentConn()
	if conn == nil {
		return nil
	}

	frame, err := EncodeUnsubscribe(key)
	if err != nil {
		return err
	}
	if err := c.send(conn, frame); err != nil {
		c.logger.Warn("failed to send unsubscribe, stream removed locally",
			zap.String("stream", key.String()),
			zap.Error(err))
		return nil
	}

	c.logger.Info("unsubscribed from stream", zap.String("stream", key.String()))
	return nil
}

// Subscriptions returns a sorted snapshot of the retained stream keys.
func (c *Client) Subscriptions() []domain.StreamKey {
	c.subsMu.RLock()
	keys := make([]domain.StreamKey, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	c.subsMu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// State returns the current connection state.
func (c *Client) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether the client is connected and authenticated.
func (c *Client) IsReady() bool {
	return c.State() == domain.ConnStateConnected
}

// Stats returns a snapshot for the status endpoint.
func (c *Client) Stats() domain.UpstreamStats {
	c.mu.Lock()
	stats := domain.UpstreamStats{
		State:            c.state,
		URL:              c.url,
		ReconnectAttempt: c.attempt,
		ConnectedSince:   c.connectedSince,
	}
	c.mu.Unlock()

	if pong := c.lastPong.Load(); pong > 0 {
		stats.LastPongAt = time.UnixMilli(pong)
	}

	c.subsMu.RLock()
	stats.Subscriptions = len(c.subs)
	c.subsMu.RUnlock()

	return stats
}

func (c *Client) setState(next domain.ConnState) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	fn := c.onStateChange
	c.mu.Unlock()

	c.logger.Debug("upstream state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))

	if fn != nil {
		go fn(prev, next)
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// dropConn closes conn and clears it from the client if it is still the
// active connection.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.authWait = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// send writes one frame. gorilla permits a single concurrent writer, so
// all data writes funnel through here.
func (c *Client) send(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// readLoop consumes frames from one connection until it fails. Closing
// epoch stops the heartbeat goroutine tied to the same connection.
func (c *Client) readLoop(conn *websocket.Conn, epoch chan struct{}) {
	defer close(epoch)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.handleMessage(conn, raw)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	if c.shuttingDown.Load() {
		return
	}

	c.mu.Lock()
	current := c.conn == conn
	authCh := c.authWait
	c.mu.Unlock()

	if !current {
		return
	}

	// A failure during the auth wait unblocks Connect instead of
	// triggering the reconnect loop; Connect owns the error path there.
	if authCh != nil {
		select {
		case authCh <- authOutcome{ok: false, reason: fmt.Sprintf("connection closed: %v", err)}:
		default:
		}
		return
	}

	c.scheduleReconnect(err)
}

func (c *Client) handleMessage(conn *websocket.Conn, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		c.logger.Warn("dropping malformed upstream frame", zap.Error(err))
		c.metrics.UpstreamFrameDropped()
		return
	}

	switch env.Type {
	case TypeAuthSuccess:
		c.deliverAuthOutcome(authOutcome{ok: true})

	case TypeAuthFailure, TypeAuthError:
		result, err := DecodeAuthResult(env.Data)
		if err != nil {
			c.deliverAuthOutcome(authOutcome{ok: false, reason: "malformed auth-failure"})
			return
		}
		c.deliverAuthOutcome(authOutcome{ok: false, reason: result.FailureReason()})

	case TypePong:
		c.lastPong.Store(time.Now().UnixMilli())

	case TypePing:
		frame, err := EncodePong()
		if err == nil {
			_ = c.send(conn, frame)
		}

	case TypeStreamData:
		chunk, err := DecodeStreamData(env.Data)
		if err != nil {
			c.logger.Warn("dropping stream-data", zap.Error(err))
			c.metrics.UpstreamFrameDropped()
			return
		}
		c.handler.HandleAudio(c.lifeCtx, chunk)

	case TypeStreamEnd:
		key, err := DecodeStreamEnd(env.Data)
		if err != nil {
			c.logger.Warn("dropping stream-end", zap.Error(err))
			c.metrics.UpstreamFrameDropped()
			return
		}
		// The producer is gone; forget the subscription so a reconnect
		// does not replay it.
		c.subsMu.Lock()
		delete(c.subs, key)
		c.subsMu.Unlock()
		c.handler.HandleStreamEnd(c.lifeCtx, key)

	default:
		c.logger.Debug("ignoring unknown upstream message", zap.String("type", env.Type))
	}
}

func (c *Client) deliverAuthOutcome(outcome authOutcome) {
	c.mu.Lock()
	authCh := c.authWait
	c.mu.Unlock()

	if authCh == nil {
		c.logger.Debug("auth result outside auth wait, ignoring")
		return
	}
	select {
	case authCh <- outcome:
	default:
	}
}

// heartbeatLoop pings the SFU on the configured interval. Two missed
// intervals without a pong mean the peer is dead and a reconnect starts.
func (c *Client) heartbeatLoop(conn *websocket.Conn, epoch <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lastPong := time.UnixMilli(c.lastPong.Load())
			if time.Since(lastPong) > 2*c.pingInterval {
				c.scheduleReconnect(fmt.Errorf("no pong in %s", 2*c.pingInterval))
				return
			}

			frame, err := EncodePing()
			if err != nil {
				return
			}
			if err := c.send(conn, frame); err != nil {
				// Broken pipe; the read loop notices and reconnects.
				return
			}

		case <-epoch:
			return
		}
	}
}

// scheduleReconnect starts the reconnect loop unless one is already
// running or the client is shutting down.
func (c *Client) scheduleReconnect(cause error) {
	if c.shuttingDown.Load() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop(cause)
}

func (c *Client) reconnectLoop(cause error) {
	defer c.reconnecting.Store(false)

	c.logger.Warn("upstream connection lost", zap.Error(cause))

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	c.setState(domain.ConnStateReconnecting)

	for {
		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()

		delay := c.policy.DelayFor(attempt)
		c.logger.Info("scheduling reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		if err := backoff.Sleep(c.lifeCtx, delay); err != nil {
			return
		}
		if c.shuttingDown.Load() {
			return
		}

		err := c.connect(c.lifeCtx)
		if err == nil {
			c.logger.Info("upstream connection restored", zap.Int("attempts", attempt))
			return
		}

		c.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if c.policy.Exhausted(attempt) {
			c.setState(domain.ConnStateDisconnected)
			c.reportFatal(fmt.Errorf("%w after %d attempts: %v",
				domain.ErrReconnectExhausted, attempt, err))
			return
		}
	}
}

// reportFatal notifies at most once per connected epoch that reconnection
// gave up. A successful auth arms the next report.
func (c *Client) reportFatal(err error) {
	c.mu.Lock()
	already := c.fatalReported
	c.fatalReported = true
	fn := c.onFatal
	c.mu.Unlock()

	if already {
		return
	}

	c.logger.Error("upstream reconnection exhausted, waiting for external intervention",
		zap.Error(err))
	if fn != nil {
		go fn(err)
	}
}

// replaySubscriptions re-sends subscribe frames for the retained set on a
// freshly authenticated connection.
func (c *Client) replaySubscriptions(conn *websocket.Conn) {
	keys := c.Subscriptions()
	if len(keys) == 0 {
		return
	}

	for _, key := range keys {
		frame, err := EncodeSubscribe(key)
		if err != nil {
			continue
		}
		if err := c.send(conn, frame); err != nil {
			c.logger.Warn("failed to replay subscription",
				zap.String("stream", key.String()),
				zap.Error(err))
			return
		}
	}

	c.logger.Info("replayed subscriptions", zap.Int("count", len(keys)))
}
