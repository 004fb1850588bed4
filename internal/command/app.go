package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/backend"
	"github.com/MrEthical07/lmsauth/channel"
	"github.com/MrEthical07/lmsauth/internal/logging"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const envKey = "lmsctl.env"

// env is the per-invocation state shared by every command.
type env struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	factory   channel.Factory
	clock     clockwork.Clock
	transport http.RoundTripper
}

// Option adjusts the App, mostly so tests can swap the network edges.
type Option func(*env)

// WithOutput sends command output to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(e *env) { e.out = w }
}

// WithChannelFactory replaces the websocket dialer.
func WithChannelFactory(f channel.Factory) Option {
	return func(e *env) { e.factory = f }
}

func WithClock(c clockwork.Clock) Option {
	return func(e *env) { e.clock = c }
}

// WithTransport replaces the RoundTripper used for the backend.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *env) { e.transport = rt }
}

// flagKeys maps global flags onto config keys. Only flags the user set
// override the file and environment.
var flagKeys = map[string]string{
	"backend":    "backend.url",
	"storage":    "storage.driver",
	"badger-dir": "storage.badger_dir",
	"redis-addr": "storage.redis_addr",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// App creates the lmsctl application.
func App(opts ...Option) *cli.App {
	e := &env{out: os.Stdout}
	for _, opt := range opts {
		opt(e)
	}

	return &cli.App{
		Name:    "lmsctl",
		Usage:   "Library management client: session, notifications and catalogue",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			listenCommand(),
			resetPasswordCommand(),
			booksCommand(),
			finesCommand(),
			serveCommand(),
		},
		Metadata: map[string]any{envKey: e},
		Before: func(c *cli.Context) error {
			overrides := map[string]any{}
			for flag, key := range flagKeys {
				if c.IsSet(flag) {
					overrides[key] = c.String(flag)
				}
			}
			cfg, err := loadConfig(c.String("config"), overrides)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = logging.Init(cfg.Log.Level, cfg.Log.Format, c.App.ErrWriter)
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"LMSCTL_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "library backend base URL (e.g. https://lms.example.com)",
		},
		&cli.StringFlag{
			Name:  "storage",
			Usage: "credential storage: badger, redis or memory",
		},
		&cli.StringFlag{
			Name:  "badger-dir",
			Usage: "directory for the badger credential store",
		},
		&cli.StringFlag{
			Name:  "redis-addr",
			Usage: "redis address for the redis credential store",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "text or json",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table or json",
			Value:   "table",
		},
	}
}

func envFrom(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

// openManager builds the session manager for one command. The returned
// cleanup closes the manager and whatever storage it opened.
func openManager(c *cli.Context, withChannel bool) (*lmsauth.Manager, func(), error) {
	e := envFrom(c)
	mcfg, err := e.cfg.ManagerConfig(withChannel)
	if err != nil {
		return nil, nil, err
	}
	logLint(e.logger, mcfg.Lint())

	closers := []func() error{}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				e.logger.Debug("cleanup failed", "error", err)
			}
		}
	}

	b := lmsauth.New().WithConfig(mcfg).WithLogger(e.logger)
	if mcfg.Storage.Driver == lmsauth.StorageRedis {
		rdb := redis.NewClient(&redis.Options{Addr: e.cfg.Storage.RedisAddr})
		closers = append(closers, rdb.Close)
		b.WithRedis(rdb)
	}
	if mcfg.Audit.Enabled {
		w, closeAudit, err := auditWriter(e.cfg.Audit.File, c.App.ErrWriter)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, closeAudit)
		b.WithAuditSink(lmsauth.NewJSONWriterSink(w))
	}
	if withChannel && e.factory != nil {
		b.WithChannelFactory(e.factory)
	}
	if e.clock != nil {
		b.WithClock(e.clock)
	}

	m, err := b.BuildContext(c.Context)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, m.Close)
	return m, cleanup, nil
}

func auditWriter(path string, stderr io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stderr, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit file: %w", err)
	}
	return f, f.Close, nil
}

func logLint(logger *slog.Logger, warnings lmsauth.LintResult) {
	for _, w := range warnings {
		level := slog.LevelDebug
		switch w.Severity {
		case lmsauth.LintHigh:
			level = slog.LevelWarn
		case lmsauth.LintWarn:
			level = slog.LevelInfo
		}
		logger.Log(context.Background(), level, "config lint", "code", w.Code, "severity", w.Severity.String(), "detail", w.Message)
	}
}

// backendClient builds the REST client. source may be nil for public calls.
func backendClient(c *cli.Context, source *lmsauth.Manager) (*backend.Client, error) {
	return backendClientFor(envFrom(c), source)
}

func backendClientFor(e *env, source *lmsauth.Manager) (*backend.Client, error) {
	opts := []backend.Option{backend.WithLogger(e.logger)}
	if e.transport != nil {
		opts = append(opts, backend.WithTransport(e.transport))
	}
	if source == nil {
		// A nil *Manager would be a non-nil SessionSource.
		return backend.New(e.cfg.BackendConfig(), nil, opts...)
	}
	return backend.New(e.cfg.BackendConfig(), source, opts...)
}
