package command

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/backend"
	"github.com/MrEthical07/lmsauth/metrics/export/prometheus"
	"github.com/MrEthical07/lmsauth/middleware"
	"github.com/sony/gobreaker"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Keep the session live and expose a local status API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (default from serve.addr)",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	e := envFrom(c)
	m, cleanup, err := openManager(c, true)
	if err != nil {
		return err
	}
	defer cleanup()

	client, err := backendClient(c, m)
	if err != nil {
		return err
	}

	addr := e.cfg.Serve.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           statusHandler(m, client),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	e.logger.Info("status API listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusView struct {
	Principal string                `json:"principal"`
	Role      string                `json:"role"`
	ExpiresAt time.Time             `json:"expiresAt"`
	Channel   lmsauth.ChannelStatus `json:"channel"`
}

// statusHandler serves GET /session and POST /logout for the signed-in
// user, GET /healthz and GET /metrics for anyone who can reach the listener.
func statusHandler(m *lmsauth.Manager, client *backend.Client) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /session", middleware.RequireSession(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := middleware.SessionFromContext(r.Context())
		writeJSON(w, http.StatusOK, statusView{
			Principal: s.Principal,
			Role:      string(s.Role),
			ExpiresAt: s.ExpiresAt.UTC(),
			Channel:   m.Channel(),
		})
	})))

	mux.Handle("POST /logout", middleware.RequireBearer(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.Logout(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := client.BreakerState()
		code := http.StatusOK
		if state == gobreaker.StateOpen {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"signedIn": m.Session().Valid(),
			"channel":  m.Channel(),
			"backend":  state.String(),
		})
	})

	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(m).Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
