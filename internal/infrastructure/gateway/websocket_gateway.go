package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxrelay/internal/core/domain"
	"voxrelay/internal/core/ports"
	"voxrelay/internal/infrastructure/bus"
	"voxrelay/pkg/config"
	"voxrelay/pkg/utils"
)

const (
	// writeTimeout bounds a single frame write to a downstream session.
	writeTimeout = 10 * time.Second

	// Close codes sent to downstream sessions.
	closeHeartbeatTimeout = 4000
	closeSlowConsumer     = 4001

	// Literal heartbeat frames exchanged with downstream clients.
	pingText = "ping"
	pongText = "pong"
)

// Session close reasons reported to the metrics sink.
const (
	reasonClientClosed     = "client-closed"
	reasonHeartbeatTimeout = "heartbeat-timeout"
	reasonSlowConsumer     = "slow-consumer"
	reasonShutdown         = "shutdown"
	reasonReadError        = "read-error"
	reasonWriteError       = "write-error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// connLimiter hands out one rate limiter per client IP so a single host
// cannot churn through connection slots.
type connLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newConnLimiter(perMinute int) *connLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &connLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *connLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter.Allow()
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// session is one downstream consumer attached to the event bus. The writer
// goroutine owns every write to the connection, including heartbeat probes;
// the reader only stamps activity and requests pong replies through the
// pong channel.
type session struct {
	id       string
	clientID string
	room     domain.RoomID
	conn     *websocket.Conn
	sub      *bus.Subscription

	pong     chan struct{}
	readErrs chan error
	stop     chan struct{}

	lastActivity atomic.Int64
	delivered    int64
}

// touch records that the peer just sent a frame.
func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
}

// idleFor reports how long the peer has been silent.
func (s *session) idleFor() time.Duration {
	return time.Since(time.UnixMilli(s.lastActivity.Load()))
}

// WebSocketGateway upgrades downstream consumers to WebSocket sessions and
// streams relay events to them from the event bus. Sessions that stop
// reading or stop sending heartbeats are disconnected rather than allowed
// to stall delivery for everyone else.
type WebSocketGateway struct {
	cfg     *config.Config
	bus     *bus.EventBus
	metrics ports.MetricsSink
	logger  *zap.Logger
	limiter *connLimiter

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	wg sync.WaitGroup
}

// NewWebSocketGateway creates a gateway serving sessions from eventBus.
func NewWebSocketGateway(cfg *config.Config, eventBus *bus.EventBus, metrics ports.MetricsSink, logger *zap.Logger) *WebSocketGateway {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &WebSocketGateway{
		cfg:      cfg,
		bus:      eventBus,
		metrics:  metrics,
		logger:   logger,
		limiter:  newConnLimiter(cfg.Gateway.ConnectionsPerMinute),
		sessions: make(map[string]*session),
	}
}

// HandleSession upgrades an HTTP request to a downstream WebSocket session.
// The room query parameter is required; peerId and producerId narrow the
// subscription to a single stream, and clientId labels the session in logs.
func (g *WebSocketGateway) HandleSession(c *gin.Context) {
	room := domain.RoomID(c.Query("room"))
	if room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room query parameter is required"})
		return
	}
	peer := domain.PeerID(c.Query("peerId"))
	producer := domain.ProducerID(c.Query("producerId"))
	clientID := c.Query("clientId")

	if !g.limiter.allow(clientIP(c.Request)) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "connection rate limit exceeded"})
		return
	}

	g.mu.RLock()
	closed, active := g.closed, len(g.sessions)
	g.mu.RUnlock()
	if closed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway is shutting down"})
		return
	}
	if active >= g.cfg.Gateway.MaxSessions {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session limit reached"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		id:       utils.GenerateSessionID(),
		clientID: clientID,
		room:     room,
		conn:     conn,
		pong:     make(chan struct{}, 1),
		readErrs: make(chan error, 1),
		stop:     make(chan struct{}),
	}
	sess.touch()

	// Re-check capacity under the write lock: another session may have won
	// the slot between the pre-upgrade check and now.
	g.mu.Lock()
	if g.closed || len(g.sessions) >= g.cfg.Gateway.MaxSessions {
		g.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session limit reached")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	sess.sub = g.bus.Subscribe(room, peer, producer, g.cfg.Gateway.SendQueueSize)
	g.sessions[sess.id] = sess
	g.wg.Add(1)
	g.mu.Unlock()

	g.metrics.SessionOpened()
	g.logger.Info("session connected",
		zap.String("session_id", sess.id),
		zap.String("room_id", string(room)),
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	go g.readLoop(sess)
	g.writeLoop(sess)
}

// readLoop consumes inbound frames. Every frame stamps the session as alive
// and resets the read deadline; a literal ping additionally asks the writer
// to reply with a pong. The deadline sits at twice the heartbeat interval,
// matching the point where the writer gives up on a silent peer.
func (g *WebSocketGateway) readLoop(sess *session) {
	sess.conn.SetReadLimit(g.cfg.Gateway.MaxMessageSizeBytes)

	idle := 2 * g.cfg.Gateway.HeartbeatInterval
	_ = sess.conn.SetReadDeadline(time.Now().Add(idle))

	for {
		msgType, payload, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case sess.readErrs <- err:
			default:
			}
			return
		}

		sess.touch()
		_ = sess.conn.SetReadDeadline(time.Now().Add(idle))

		if msgType == websocket.TextMessage && string(payload) == pingText {
			select {
			case sess.pong <- struct{}{}:
			default:
			}
		}
	}
}

// writeLoop multiplexes bus events, heartbeat probes, pong replies,
// overflow signals and shutdown onto the connection. It runs on the HTTP
// handler goroutine and returns when the session is over.
func (g *WebSocketGateway) writeLoop(sess *session) {
	reason := reasonClientClosed
	defer func() {
		g.teardown(sess, reason)
	}()

	heartbeat := time.NewTicker(g.cfg.Gateway.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-sess.sub.Events():
			if !ok {
				reason = reasonShutdown
				g.sendClose(sess, websocket.CloseNormalClosure, "relay shutting down")
				return
			}
			if err := g.writeJSON(sess, event); err != nil {
				reason = reasonWriteError
				return
			}
			sess.delivered++

		case <-sess.sub.Overflow():
			reason = reasonSlowConsumer
			g.logger.Warn("session falling behind, disconnecting",
				zap.String("session_id", sess.id),
				zap.Int64("dropped", sess.sub.Dropped()))
			g.sendClose(sess, closeSlowConsumer, "event buffer overflow")
			return

		case <-sess.pong:
			if err := g.writeText(sess, pongText); err != nil {
				reason = reasonWriteError
				return
			}

		case <-heartbeat.C:
			if sess.idleFor() > 2*g.cfg.Gateway.HeartbeatInterval {
				reason = reasonHeartbeatTimeout
				g.sendClose(sess, closeHeartbeatTimeout, "heartbeat timeout")
				return
			}
			if err := g.writeText(sess, pingText); err != nil {
				reason = reasonWriteError
				return
			}

		case err := <-sess.readErrs:
			switch {
			case isTimeout(err):
				reason = reasonHeartbeatTimeout
				g.sendClose(sess, closeHeartbeatTimeout, "heartbeat timeout")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				reason = reasonClientClosed
			default:
				reason = reasonReadError
			}
			return

		case <-sess.stop:
			reason = reasonShutdown
			g.sendClose(sess, websocket.CloseNormalClosure, "relay shutting down")
			return
		}
	}
}

func (g *WebSocketGateway) writeJSON(sess *session, v any) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sess.conn.WriteJSON(v)
}

func (g *WebSocketGateway) writeText(sess *session, text string) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return sess.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (g *WebSocketGateway) sendClose(sess *session, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = sess.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

// teardown runs exactly once per session, on the writer goroutine.
func (g *WebSocketGateway) teardown(sess *session, reason string) {
	g.mu.Lock()
	delete(g.sessions, sess.id)
	g.mu.Unlock()

	g.bus.Unsubscribe(sess.sub)
	sess.conn.Close()

	g.metrics.SessionClosed(reason)
	g.logger.Info("session closed",
		zap.String("session_id", sess.id),
		zap.String("room_id", string(sess.room)),
		zap.String("reason", reason),
		zap.Int64("delivered", sess.delivered),
		zap.Int64("dropped", sess.sub.Dropped()))
	g.wg.Done()
}

// SessionCount returns the number of active downstream sessions.
func (g *WebSocketGateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Shutdown closes every active session with a normal close frame and waits
// for their goroutines to finish. New connections are rejected from the
// moment it is called.
func (g *WebSocketGateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	active := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		active = append(active, sess)
	}
	g.mu.Unlock()

	for _, sess := range active {
		close(sess.stop)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Stragglers did not finish the close handshake in time; drop them.
		for _, sess := range active {
			sess.conn.Close()
		}
		return ctx.Err()
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
