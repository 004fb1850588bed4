// Package ws implements channel.Factory on top of gorilla/websocket with
// STOMP framing, the transport the library backend exposes at /ws.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MrEthical07/lmsauth/channel"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const writeWait = 5 * time.Second

// A broker that promised heart-beats may miss one before the connection is
// considered lost.
const heartBeatGrace = 2

// Config describes the broker endpoint.
type Config struct {
	// URL is the ws:// or wss:// endpoint. Spring's SockJS endpoints accept
	// raw WebSocket clients at "<endpoint>/websocket".
	URL string
	// ReconnectDelay is the fixed wait after a lost or failed connection.
	ReconnectDelay time.Duration
	// Subscriptions are destinations subscribed to after every CONNECTED.
	Subscriptions []string
	// Host overrides the STOMP host header (default: URL host).
	Host string
	// HandshakeTimeout bounds the WebSocket upgrade and the wait for CONNECTED.
	HandshakeTimeout time.Duration
	// HeartBeat is offered for both directions (default 10s). Negative
	// disables heart-beating, and with it dead-peer detection.
	HeartBeat time.Duration
}

// Option customizes a Dialer.
type Option func(*Dialer)

// WithClock injects the clock used for reconnect delays and outgoing
// heart-beats. Read deadlines stay on the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(d *Dialer) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the logger used for connection lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithWebsocketDialer replaces the underlying websocket dialer (TLS config, proxies).
func WithWebsocketDialer(wd *websocket.Dialer) Option {
	return func(d *Dialer) {
		if wd != nil {
			d.dialer = wd
		}
	}
}

// Dialer opens STOMP-over-WebSocket notification channels.
type Dialer struct {
	config Config
	host   string
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger *slog.Logger
}

var _ channel.Factory = (*Dialer)(nil)

// NewDialer validates cfg and returns a Dialer.
func NewDialer(cfg Config, opts ...Option) (*Dialer, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid channel url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("channel url must use ws or wss, got %q", u.Scheme)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = channel.DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.HeartBeat == 0 {
		cfg.HeartBeat = channel.DefaultHeartBeat
	}

	d := &Dialer{
		config: cfg,
		host:   cfg.Host,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	if d.host == "" {
		d.host = u.Hostname()
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dialer == nil {
		d.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	d.logger = d.logger.With("component", "notification_channel")
	return d, nil
}

// Open starts a background connect loop for token and returns immediately.
func (d *Dialer) Open(token string, hooks channel.Hooks) (channel.Channel, error) {
	if token == "" {
		return nil, errors.New("notification channel requires a token")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:     uuid.NewString(),
		dialer: d,
		token:  token,
		hooks:  hooks,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run()
	return c, nil
}

type conn struct {
	id     string
	dialer *Dialer
	token  string
	hooks  channel.Hooks

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *conn) ID() string { return c.id }

func (c *conn) Done() <-chan struct{} { return c.done }

// Close stops the loop and drops the socket. It does not wait for the loop
// goroutine; use Done for that.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		ws := c.ws
		c.ws = nil
		c.mu.Unlock()

		if ws != nil {
			_ = c.send(ws, frame.New(frame.DISCONNECT))
			_ = ws.Close()
		}
	})
	return nil
}

func (c *conn) run() {
	defer close(c.done)
	log := c.dialer.logger.With("channel_id", c.id)

	for attempt := 1; ; attempt++ {
		connected, err := c.session(log)
		if c.ctx.Err() != nil {
			log.Debug("notification channel stopped")
			return
		}
		if connected {
			c.hooks.Disconnect(err)
		}
		log.Warn("notification channel disconnected",
			"attempt", attempt,
			"error", err,
			"retry_in", c.dialer.config.ReconnectDelay,
		)

		select {
		case <-c.ctx.Done():
			return
		case <-c.dialer.clock.After(c.dialer.config.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to loss. connected reports whether
// the broker acknowledged CONNECT before the loss.
func (c *conn) session(log *slog.Logger) (connected bool, err error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ws, resp, err := c.dialer.dialer.DialContext(c.ctx, c.dialer.config.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	if !c.attach(ws) {
		_ = ws.Close()
		return false, channel.ErrClosed
	}
	defer c.detach(ws)

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, c.dialer.host,
		frame.HeartBeat, heartBeatValue(c.dialer.config.HeartBeat),
		"Authorization", "Bearer "+c.token,
	)
	if err := c.send(ws, connect); err != nil {
		return false, fmt.Errorf("send CONNECT: %w", err)
	}

	// Until CONNECTED the handshake timeout bounds every read; afterwards the
	// broker's negotiated heart-beat does.
	readTimeout := c.dialer.config.HandshakeTimeout
	stopBeats := func() {}
	defer func() { stopBeats() }()

	for {
		setReadTimeout(ws, readTimeout)
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !connected {
				return false, fmt.Errorf("awaiting CONNECTED: %w", err)
			}
			return true, fmt.Errorf("read: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			c.hooks.Error(fmt.Errorf("%w: %v", channel.ErrProtocol, err))
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				if connected {
					continue
				}
				connected = true
				outgoing, incoming, err := negotiateHeartBeat(c.dialer.config.HeartBeat, f.Header.Get(frame.HeartBeat))
				if err != nil {
					c.hooks.Error(fmt.Errorf("%w: %v", channel.ErrProtocol, err))
				}
				readTimeout = heartBeatGrace * incoming
				if outgoing > 0 {
					done := make(chan struct{})
					stopBeats = func() { close(done) }
					go c.heartBeat(ws, outgoing, done)
				}

				for i, dest := range c.dialer.config.Subscriptions {
					sub := frame.New(frame.SUBSCRIBE,
						frame.Id, fmt.Sprintf("sub-%d", i),
						frame.Destination, dest,
						frame.Ack, "auto",
					)
					if err := c.send(ws, sub); err != nil {
						return connected, fmt.Errorf("send SUBSCRIBE: %w", err)
					}
				}
				log.Info("notification channel connected", "send_heartbeat", outgoing, "expect_heartbeat", incoming)
				c.hooks.Connect()
			case frame.MESSAGE:
				headers := headerMap(f)
				c.hooks.Message(channel.Message{
					Destination: headers[frame.Destination],
					ContentType: headers[frame.ContentType],
					Headers:     headers,
					Body:        f.Body,
				})
			case frame.ERROR:
				msg := f.Header.Get(frame.Message)
				log.Error("broker reported error", "message", msg)
				c.hooks.Error(fmt.Errorf("%w: %s", channel.ErrProtocol, msg))
			case frame.RECEIPT:
			default:
				c.hooks.Error(fmt.Errorf("%w: unexpected frame %s", channel.ErrProtocol, f.Command))
			}
		}
	}
}

// heartBeat writes an EOL every interval until done closes or a write fails.
func (c *conn) heartBeat(ws *websocket.Conn, every time.Duration, done <-chan struct{}) {
	ticker := c.dialer.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.write(ws, heartBeatEOL); err != nil {
				return
			}
		}
	}
}

func setReadTimeout(ws *websocket.Conn, d time.Duration) {
	if d <= 0 {
		_ = ws.SetReadDeadline(time.Time{})
		return
	}
	_ = ws.SetReadDeadline(time.Now().Add(d))
}

func (c *conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	c.ws = ws
	return true
}

func (c *conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *conn) send(ws *websocket.Conn, f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return c.write(ws, data)
}

func (c *conn) write(ws *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}
