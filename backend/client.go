package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/lmsauth/middleware"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Config controls the client. Zero durations and counts take the defaults
// from DefaultConfig.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// LoginRate and LoginBurst bound login attempts per process.
	LoginRate  rate.Limit
	LoginBurst int

	Breaker BreakerConfig
}

// BreakerConfig maps onto gobreaker.Settings.
type BreakerConfig struct {
	// MaxRequests is how many probes pass while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counts; 0 never resets.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		LoginRate:  rate.Every(10 * time.Second),
		LoginBurst: 5,
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.LoginRate <= 0 {
		c.LoginRate = d.LoginRate
	}
	if c.LoginBurst <= 0 {
		c.LoginBurst = d.LoginBurst
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = d.Breaker.MaxRequests
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = d.Breaker.Timeout
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = d.Breaker.ConsecutiveFailures
	}
	return c
}

// Client talks to the library backend. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	source  middleware.SessionSource
	public  *http.Client
	authed  *http.Client
	breaker *gobreaker.CircuitBreaker
	logins  *rate.Limiter
	logger  *slog.Logger
}

type Option func(*options)

type options struct {
	transport http.RoundTripper
	logger    *slog.Logger
}

// WithTransport replaces the underlying RoundTripper, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a Client. source supplies the bearer token for authenticated
// endpoints; *lmsauth.Manager satisfies it.
func New(cfg Config, source middleware.SessionSource, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("backend base URL must be http(s)://host, got %q", cfg.BaseURL)
	}

	o := options{transport: http.DefaultTransport, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "backend")

	c := &Client{
		base:   base,
		source: source,
		public: &http.Client{Transport: o.transport, Timeout: cfg.Timeout},
		authed: &http.Client{
			Transport: &middleware.Transport{Source: source, Base: o.transport},
			Timeout:   cfg.Timeout,
		},
		logins: rate.NewLimiter(cfg.LoginRate, cfg.LoginBurst),
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "library-backend",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return !serverFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// BreakerState exposes the circuit breaker state for status pages.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type request struct {
	method string
	path   string
	query  url.Values
	authed bool

	body        io.Reader
	contentType string
}

func jsonRequest(method, path string, authed bool, payload any) (request, error) {
	r := request{method: method, path: path, authed: authed}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return r, fmt.Errorf("encode request: %w", err)
		}
		r.body = bytes.NewReader(data)
		r.contentType = "application/json"
	}
	return r, nil
}

// do sends r through the breaker and decodes a JSON answer into out when out
// is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, r, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	client := c.public
	if r.authed {
		client = c.authed
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, middleware.ErrNoSession) {
			return middleware.ErrNoSession
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		c.logger.Debug("backend request failed", "method", r.method, "path", r.path, "status", resp.StatusCode)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, authed bool, query url.Values, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, query: query, authed: authed}, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, authed bool, payload, out any) error {
	r, err := jsonRequest(method, path, authed, payload)
	if err != nil {
		return err
	}
	return c.do(ctx, r, out)
}
