package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/channel"
	"github.com/MrEthical07/lmsauth/channel/channeltest"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

func signToken(t *testing.T, sub, role string) string {
	t.Helper()
	claims := gojwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return token
}

// fakeBackend answers the handful of endpoints the commands use.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Username, Password, Role string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			http.Error(w, "Bad credentials", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"jwt":  signToken(t, req.Username, req.Role),
			"role": req.Role,
		})
	})
	mux.HandleFunc("GET /api/user/my-books", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "title": "Dune", "dueDate": "2000-01-01"},
			{"id": 2, "title": "Emma", "dueDate": "2999-01-01"},
		})
	})
	mux.HandleFunc("GET /api/user/my-fines", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "bookTitle": "Dune", "reason": "late", "amount": 10, "status": "UNPAID"},
			{"id": 2, "bookTitle": "Emma", "reason": "damaged", "amount": 2.5, "status": "UNPAID"},
		})
	})
	mux.HandleFunc("GET /api/public/books/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 7, "isbn": "978-1", "title": r.URL.Query().Get("query"), "author": "Herbert", "totalCopies": 3, "availableCopies": 1},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type cliHarness struct {
	t       *testing.T
	backend *httptest.Server
	dir     string
	out     *syncBuffer
	factory *channeltest.Factory
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	t.Setenv("LMSCTL_CONFIG", "")
	return &cliHarness{
		t:       t,
		backend: fakeBackend(t),
		dir:     t.TempDir(),
		out:     &syncBuffer{},
		factory: channeltest.NewFactory(),
	}
}

func (h *cliHarness) run(ctx context.Context, args ...string) error {
	app := App(WithOutput(h.out), WithChannelFactory(h.factory))
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	full := append([]string{"lmsctl", "--backend", h.backend.URL, "--storage", "badger", "--badger-dir", h.dir}, args...)
	return app.RunContext(ctx, full)
}

func exitCode(err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newCLIHarness(t)
	ctx := context.Background()

	require.NoError(t, h.run(ctx, "login", "-u", "alice", "-p", "secret"))
	assert.Contains(t, h.out.String(), "signed in as alice (MEMBER)")

	h.out.Reset()
	require.NoError(t, h.run(ctx, "-o", "json", "whoami"))
	var view sessionView
	require.NoError(t, json.Unmarshal([]byte(h.out.String()), &view))
	assert.Equal(t, "alice", view.Principal)
	assert.Equal(t, "MEMBER", view.Role)

	h.out.Reset()
	require.NoError(t, h.run(ctx, "logout"))
	assert.Contains(t, h.out.String(), "signed out")

	err := h.run(ctx, "whoami")
	assert.Equal(t, 2, exitCode(err))
}

func TestLoginAsLibrarian(t *testing.T) {
	h := newCLIHarness(t)
	require.NoError(t, h.run(context.Background(), "login", "-u", "bob", "-p", "secret", "--role", "librarian"))
	assert.Contains(t, h.out.String(), "signed in as bob (LIBRARIAN)")
}

func TestLoginRejectedKeepsSignedOut(t *testing.T) {
	h := newCLIHarness(t)
	ctx := context.Background()

	err := h.run(ctx, "login", "-u", "alice", "-p", "wrong")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, err.Error(), "invalid credentials")

	assert.Equal(t, 2, exitCode(h.run(ctx, "whoami")))
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	h := newCLIHarness(t)
	app := App(WithOutput(h.out))
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader("secret\n")
	args := []string{"lmsctl", "--backend", h.backend.URL, "--storage", "memory", "login", "-u", "alice"}
	require.NoError(t, app.Run(args))
	assert.Contains(t, h.out.String(), "signed in as alice")
}

func TestBooksMine(t *testing.T) {
	h := newCLIHarness(t)
	ctx := context.Background()

	assert.Equal(t, 2, exitCode(h.run(ctx, "books", "mine")))

	require.NoError(t, h.run(ctx, "login", "-u", "alice", "-p", "secret"))
	h.out.Reset()
	require.NoError(t, h.run(ctx, "books", "mine"))

	out := h.out.String()
	assert.Contains(t, out, "Dune")
	assert.Contains(t, out, "OVERDUE")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Emma") {
			assert.NotContains(t, line, "OVERDUE")
		}
	}
}

func TestFinesMineShowsTotal(t *testing.T) {
	h := newCLIHarness(t)
	ctx := context.Background()
	require.NoError(t, h.run(ctx, "login", "-u", "alice", "-p", "secret"))

	h.out.Reset()
	require.NoError(t, h.run(ctx, "fines", "mine"))
	assert.Contains(t, h.out.String(), "12.50")
}

func TestBooksSearchIsPublic(t *testing.T) {
	h := newCLIHarness(t)
	require.NoError(t, h.run(context.Background(), "books", "search", "dune", "messiah"))
	assert.Contains(t, h.out.String(), "dune messiah")
	assert.Contains(t, h.out.String(), "1/3")
}

func TestListenPrintsNotificationsUntilCancelled(t *testing.T) {
	h := newCLIHarness(t)
	require.NoError(t, h.run(context.Background(), "login", "-u", "alice", "-p", "secret"))
	h.out.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.run(ctx, "listen") }()

	require.Eventually(t, func() bool { return h.factory.Last() != nil }, 5*time.Second, 10*time.Millisecond)
	ch := h.factory.Last()
	ch.Connect()
	ch.Deliver(channel.Message{Destination: "/user/queue/notifications", Body: []byte("Dune is due tomorrow\n")})

	require.Eventually(t, func() bool {
		return strings.Contains(h.out.String(), "Dune is due tomorrow")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return after cancel")
	}
	assert.True(t, ch.Closed(), "closing the manager must close the channel")
}

func TestListenRequiresSession(t *testing.T) {
	h := newCLIHarness(t)
	assert.Equal(t, 2, exitCode(h.run(context.Background(), "listen")))
	assert.Empty(t, h.factory.Opened())
}

func TestStatusHandler(t *testing.T) {
	h := newCLIHarness(t)
	m, err := lmsauth.New().
		WithConfig(func() lmsauth.Config {
			cfg := lmsauth.DefaultConfig()
			cfg.Channel.Enabled = false
			return cfg
		}()).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	e := &env{
		cfg:    Config{Backend: BackendConfig{URL: h.backend.URL}},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	client, err := backendClientFor(e, m)
	require.NoError(t, err)

	srv := httptest.NewServer(statusHandler(m, client))
	t.Cleanup(srv.Close)

	get := func(path, bearer string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, get("/session", "").StatusCode)

	token := signToken(t, "carol", "")
	require.NoError(t, m.Login(context.Background(), token, lmsauth.RoleLibrarian))

	resp := get("/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view statusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "carol", view.Principal)
	assert.Equal(t, "LIBRARIAN", view.Role)

	health := get("/healthz", "")
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metrics := get("/metrics", "")
	body, _ := io.ReadAll(metrics.Body)
	assert.Contains(t, string(body), "lmsauth_login_success_total 1")

	post := func(bearer string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/logout", nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusUnauthorized, post("someone-else"))
	assert.True(t, m.Session().Valid())
	assert.Equal(t, http.StatusNoContent, post(token))
	assert.False(t, m.Session().Valid())
	assert.Equal(t, http.StatusUnauthorized, get("/session", "").StatusCode)
}
