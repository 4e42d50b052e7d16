package chatclient

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by Send while the socket is down.
var ErrNotConnected = errors.New("chatclient: realtime not connected")

type RealtimeConfig struct {
	Token                string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 retries forever
	HeartbeatInterval    time.Duration
	Logger               zerolog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// Realtime is the client end of the chat WebSocket. It redials with
// exponential backoff when the connection drops and signals every successful
// redial on Reconnects. Missed events are not replayed.
type Realtime struct {
	wsURL  string
	config RealtimeConfig
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
	recon  *reconnector

	events     chan models.Event
	reconnects chan struct{}
}

// NewRealtime prepares a client for the server at baseURL (http or https).
func NewRealtime(baseURL string, config RealtimeConfig) *Realtime {
	config.defaults()

	wsURL := strings.TrimRight(baseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/api/v1/ws?token=" + url.QueryEscape(config.Token)

	return &Realtime{
		wsURL:  wsURL,
		config: config,
		logger: config.Logger,
		recon: &reconnector{
			baseDelay:   config.ReconnectBaseDelay,
			maxDelay:    config.ReconnectMaxDelay,
			maxAttempts: config.MaxReconnectAttempts,
		},
		events:     make(chan models.Event, 64),
		reconnects: make(chan struct{}, 1),
	}
}

func (r *Realtime) Events() <-chan models.Event {
	return r.events
}

func (r *Realtime) Reconnects() <-chan struct{} {
	return r.reconnects
}

// Connect dials the server and waits for its connected event. The connection
// and its reconnect attempts live until ctx is done or Close is called.
func (r *Realtime) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrNotConnected
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	conn, err := r.dial(ctx)
	if err != nil {
		cancel()
		return err
	}

	if !r.attach(conn) {
		cancel()
		return ErrNotConnected
	}
	go r.run(loopCtx, conn)
	return nil
}

func (r *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, r.wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "websocket dial")
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, errors.Wrap(err, "read connected event")
	}

	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil || event.Type != models.EventConnected {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, errors.Errorf("expected %q event, got %q", models.EventConnected, event.Type)
	}
	return conn, nil
}

// attach makes conn the active connection unless Close has already run.
func (r *Realtime) attach(conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return false
	}
	r.conn = conn
	r.recon.reset()
	return true
}

func (r *Realtime) run(ctx context.Context, conn *websocket.Conn) {
	for {
		heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
		go r.heartbeat(heartbeatCtx, conn)
		err := r.readLoop(ctx, conn)
		stopHeartbeat()

		r.mu.Lock()
		r.conn = nil
		closed := r.closed
		r.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		r.logger.Warn().Err(err).Msg("realtime connection lost")

		conn = r.redial(ctx)
		if conn == nil || !r.attach(conn) {
			return
		}

		select {
		case r.reconnects <- struct{}{}:
		default:
		}
	}
}

func (r *Realtime) redial(ctx context.Context) *websocket.Conn {
	for r.recon.shouldReconnect() {
		delay := r.recon.nextDelay()
		r.logger.Info().Int("attempt", r.recon.attempt).Dur("delay", delay).Msg("realtime reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := r.dial(ctx)
		if err == nil {
			return conn
		}
		r.logger.Warn().Err(err).Msg("realtime redial failed")
	}
	return nil
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			r.logger.Debug().Err(err).Msg("skipping malformed realtime event")
			continue
		}

		select {
		case r.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Realtime) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, r.config.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (r *Realtime) Send(ctx context.Context, cmd models.Command) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "marshal command")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close shuts the connection down and stops reconnecting.
func (r *Realtime) Close() error {
	r.mu.Lock()
	r.closed = true
	conn := r.conn
	r.conn = nil
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}
