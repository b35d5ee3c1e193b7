package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"koma/internal/core/domain"
	"koma/pkg/config"
	"koma/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

var errInvalidURL = errors.New("invalid signal url")

type ClientConfig struct {
	URL          string
	ID           domain.ParticipantID
	Backoff      time.Duration
	OutboxLimit  int // 0 keeps everything
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	MaxMessage   int64
	Header       http.Header
}

// NewClientConfig builds the client settings for participant id.
func NewClientConfig(cfg *config.Config, id domain.ParticipantID) ClientConfig {
	return ClientConfig{
		URL:          cfg.Client.SignalURL,
		ID:           id,
		Backoff:      cfg.Client.ReconnectBackoff,
		OutboxLimit:  cfg.Client.OutboxLimit,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		MaxMessage:   cfg.Signal.MaxMessageSizeBytes,
	}
}

// Client is a reconnecting hub connection. Envelopes sent while disconnected
// wait in an ordered outbox and are written once the link is back, before the
// held rooms are joined again.
type Client struct {
	cfg    ClientConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger

	mu        sync.Mutex
	outbox    []domain.Envelope
	rooms     []domain.RoomID
	subs      map[int]chan domain.Envelope
	nextSub   int
	connected bool
	stopped   bool

	wake      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1500 * time.Millisecond
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With("participant_id", cfg.ID),
		subs:   make(map[int]chan domain.Envelope),
		wake:   make(chan struct{}, 1),
		ready:  make(chan struct{}),
	}
}

func (c *Client) Self() domain.ParticipantID {
	return c.cfg.ID
}

// Ready is closed once the first connection has flushed the outbox and
// joined the held rooms.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until the first connection or until ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("signaling not ready: %w", ctx.Err())
	}
}

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send queues env for delivery. Envelopes without an author are stamped with
// the client id so the hub relays them verbatim.
func (c *Client) Send(_ context.Context, env domain.Envelope) error {
	if env.From == "" {
		env.From = c.cfg.ID
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return domain.ErrSessionClosed
	}
	c.outbox = append(c.outbox, env)
	if limit := c.cfg.OutboxLimit; limit > 0 && len(c.outbox) > limit {
		dropped := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.logger.Warnw("outbox full, dropping oldest envelope",
			"type", dropped.Type,
			"room", dropped.Room,
		)
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// Join records the room as held and asks the hub to join it. While
// disconnected only the record is kept; every held room is joined on connect.
func (c *Client) Join(ctx context.Context, room domain.RoomID) error {
	c.mu.Lock()
	held := false
	for _, r := range c.rooms {
		if r == room {
			held = true
			break
		}
	}
	if !held {
		c.rooms = append(c.rooms, room)
	}
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.Send(ctx, domain.NewEnvelope(domain.TypeJoin, room))
}

// Leave stops holding the room and tells the hub.
func (c *Client) Leave(ctx context.Context, room domain.RoomID) error {
	c.mu.Lock()
	for i, r := range c.rooms {
		if r == room {
			c.rooms = append(c.rooms[:i], c.rooms[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return c.Send(ctx, domain.NewEnvelope(domain.TypeBye, room))
}

// Subscribe returns a stream of inbound envelopes. A subscriber that falls
// behind loses envelopes rather than stalling the others.
func (c *Client) Subscribe() (<-chan domain.Envelope, func()) {
	ch := make(chan domain.Envelope, subscriberBuffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.stopped {
		close(ch)
	} else {
		c.subs[id] = ch
	}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
			c.mu.Unlock()
		})
	}
}

// Run keeps a connection to the hub until ctx is cancelled, redialing after a
// fixed backoff whenever the link drops.
func (c *Client) Run(ctx context.Context) error {
	defer c.stop()

	backoff := retry.Fixed(c.cfg.Backoff)
	backoff.NonRetryableErrors = []error{errInvalidURL}
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Infow("signaling reconnect scheduled",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	for {
		conn, err := retry.RetryWithResult(ctx, backoff, func() (*websocket.Conn, error) {
			return c.dial(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warnw("signaling connection lost", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Backoff):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("%w: %q", errInvalidURL, c.cfg.URL)
	}
	q := u.Query()
	q.Set("id", string(c.cfg.ID))
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), c.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// serve owns conn until it fails. Reads run on their own goroutine; all writes
// happen here.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	if c.cfg.MaxMessage > 0 {
		conn.SetReadLimit(c.cfg.MaxMessage)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn)
	}()

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Infow("signaling connected", "url", c.cfg.URL)

	if err := c.flush(conn); err != nil {
		return err
	}
	if err := c.rejoin(conn); err != nil {
		return err
	}
	c.readyOnce.Do(func() { close(c.ready) })

	for {
		select {
		case <-ctx.Done():
			c.goodbye(conn)
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-c.wake:
			if err := c.flush(conn); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		env, err := domain.ParseEnvelope(data)
		if err != nil {
			c.logger.Debugw("dropping malformed frame", "error", err)
			continue
		}
		c.publish(env)
	}
}

// flush writes queued envelopes in order. An envelope leaves the outbox only
// once its write succeeded.
func (c *Client) flush(conn *websocket.Conn) error {
	for {
		c.mu.Lock()
		if len(c.outbox) == 0 {
			c.mu.Unlock()
			return nil
		}
		env := c.outbox[0]
		c.outbox = c.outbox[1:]
		c.mu.Unlock()

		if err := c.write(conn, env); err != nil {
			c.mu.Lock()
			c.outbox = append([]domain.Envelope{env}, c.outbox...)
			c.mu.Unlock()
			return err
		}
	}
}

func (c *Client) rejoin(conn *websocket.Conn) error {
	c.mu.Lock()
	rooms := append([]domain.RoomID(nil), c.rooms...)
	c.mu.Unlock()

	for _, room := range rooms {
		env := domain.NewEnvelope(domain.TypeJoin, room)
		env.From = c.cfg.ID
		if err := c.write(conn, env); err != nil {
			return err
		}
	}
	return nil
}

// goodbye leaves every room and closes the socket cleanly.
func (c *Client) goodbye(conn *websocket.Conn) {
	env := domain.NewEnvelope(domain.TypeBye, "")
	env.From = c.cfg.ID
	if err := c.write(conn, env); err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
}

func (c *Client) write(conn *websocket.Conn, env domain.Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(env)
}

func (c *Client) publish(env domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- env:
		default:
			c.logger.Warnw("subscriber lagging, dropping envelope", "type", env.Type)
		}
	}
}

func (c *Client) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
