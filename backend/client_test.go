package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/middleware"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type sessionSource struct {
	mu sync.Mutex
	s  lmsauth.Session
}

func (f *sessionSource) Session() lmsauth.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *sessionSource) set(s lmsauth.Session) {
	f.mu.Lock()
	f.s = s
	f.mu.Unlock()
}

func signedIn(role lmsauth.Role) *sessionSource {
	return &sessionSource{s: lmsauth.Session{Token: "tok", Role: role, Principal: "bob", ExpiresAt: time.Now().Add(time.Hour)}}
}

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
	ctype  string
}

type fakeAPI struct {
	t      *testing.T
	server *httptest.Server
	mu     sync.Mutex
	calls  []recorded
	routes map[string]http.HandlerFunc
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{t: t, routes: map[string]http.HandlerFunc{}}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.calls = append(api.calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   body,
			ctype:  r.Header.Get("Content-Type"),
		})
		h, ok := api.routes[r.Method+" "+r.URL.Path]
		api.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("[]"))
			return
		}
		h(w, r)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *fakeAPI) handle(route string, h http.HandlerFunc) {
	a.mu.Lock()
	a.routes[route] = h
	a.mu.Unlock()
}

func (a *fakeAPI) last() recorded {
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(a.t, a.calls)
	return a.calls[len(a.calls)-1]
}

func (a *fakeAPI) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func jsonReply(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func statusReply(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func newTestClient(t *testing.T, api *fakeAPI, source middleware.SessionSource, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = api.server.URL
	cfg.LoginRate = rate.Inf
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, source)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://lms", "lms.example.com", "http://"} {
		_, err := New(Config{BaseURL: raw}, nil)
		assert.Error(t, err, raw)
	}
}

func TestLoginSendsWireRoleAndReturnsToken(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("POST /api/auth/login", jsonReply(map[string]string{"jwt": "tok-alice", "role": "user"}))
	c := newTestClient(t, api, nil, nil)

	res, err := c.Login(context.Background(), "alice", "secret", lmsauth.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, LoginResult{Token: "tok-alice", Role: lmsauth.RoleMember}, res)

	var sent map[string]string
	require.NoError(t, json.Unmarshal(api.last().body, &sent))
	assert.Equal(t, map[string]string{"username": "alice", "password": "secret", "role": "USER"}, sent)
	assert.Empty(t, api.last().auth, "login must not carry a bearer token")
}

func TestLoginRoleMismatch(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("POST /api/auth/login", jsonReply(map[string]string{"jwt": "tok", "role": "USER"}))
	c := newTestClient(t, api, nil, nil)

	_, err := c.Login(context.Background(), "alice", "secret", lmsauth.RoleLibrarian)
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestLoginNon2xxIsInvalidCredentials(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("POST /api/auth/login", statusReply(http.StatusUnauthorized, "Bad credentials"))
	c := newTestClient(t, api, nil, nil)

	_, err := c.Login(context.Background(), "alice", "wrong", lmsauth.RoleMember)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Bad credentials", apiErr.Message)
}

func TestLoginRejectsUnknownRoleLocally(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api, nil, nil)

	_, err := c.Login(context.Background(), "alice", "secret", lmsauth.Role("ADMIN"))
	assert.ErrorIs(t, err, lmsauth.ErrInvalidRole)
	assert.Zero(t, api.count())
}

func TestLoginRateLimited(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("POST /api/auth/login", statusReply(http.StatusUnauthorized, ""))
	c := newTestClient(t, api, nil, func(cfg *Config) {
		cfg.LoginRate = rate.Every(time.Hour)
		cfg.LoginBurst = 2
	})

	for i := 0; i < 2; i++ {
		_, err := c.Login(context.Background(), "alice", "wrong", lmsauth.RoleMember)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := c.Login(context.Background(), "alice", "wrong", lmsauth.RoleMember)
	assert.ErrorIs(t, err, ErrLoginRateLimited)
	assert.Equal(t, 2, api.count(), "throttled attempt must not reach the server")
}

func TestAuthenticatedCallWithoutSessionNeverDials(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api, &sessionSource{}, nil)

	_, err := c.MyBooks(context.Background())
	assert.ErrorIs(t, err, middleware.ErrNoSession)
	_, err = c.Notifications(context.Background())
	assert.ErrorIs(t, err, middleware.ErrNoSession)
	assert.Zero(t, api.count())
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState())
}

func TestAuthenticatedCallsCarryBearer(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("GET /api/user/my-books", jsonReply([]Loan{{ID: 1, Title: "Dune", DueDate: "2025-05-01"}}))
	c := newTestClient(t, api, signedIn(lmsauth.RoleMember), nil)

	loans, err := c.MyBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "Dune", loans[0].Name())
	assert.True(t, loans[0].Overdue(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Bearer tok", api.last().auth)
}

func TestNotificationPathsDependOnRole(t *testing.T) {
	api := newFakeAPI(t)
	source := signedIn(lmsauth.RoleMember)
	c := newTestClient(t, api, source, nil)
	ctx := context.Background()

	_, err := c.Notifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/api/user/my-notifications", api.last().path)

	source.set(lmsauth.Session{Token: "tok2", Role: lmsauth.RoleLibrarian, Principal: "bob"})
	require.NoError(t, c.MarkNotificationsRead(ctx))
	assert.Equal(t, "/api/admin/my-notifications/mark-read", api.last().path)
	assert.Equal(t, "Bearer tok2", api.last().auth)
}

func TestSearchBooksUsesQuery(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("GET /api/public/books/search", jsonReply([]Book{{ID: 7, Title: "Go in Action", AvailableCopies: 2}}))
	c := newTestClient(t, api, nil, nil)

	books, err := c.SearchBooks(context.Background(), "go & more")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "query=go+%26+more", api.last().query)

	_, err = c.SearchBooks(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/api/public/books/all", api.last().path)
}

func TestLibrarianRequests(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("GET /api/admin/stats", jsonReply(Stats{TotalMembers: 3, TotalFinesAmount: 12.5}))
	c := newTestClient(t, api, signedIn(lmsauth.RoleLibrarian), nil)
	ctx := context.Background()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMembers)

	require.NoError(t, c.PayFine(ctx, 42))
	assert.Equal(t, "/api/admin/fines/pay", api.last().path)
	assert.Equal(t, "fineId=42", api.last().query)

	require.NoError(t, c.DeleteMember(ctx, 9))
	assert.Equal(t, http.MethodDelete, api.last().method)
	assert.Equal(t, "/api/admin/users/delete/9", api.last().path)

	require.NoError(t, c.UpdateMember(ctx, 9, Member{Name: "Carol"}))
	assert.Equal(t, http.MethodPut, api.last().method)

	require.NoError(t, c.IssueBook(ctx, IssueRequest{ISBN: "978-0", Username: "alice"}))
	assert.JSONEq(t, `{"isbn":"978-0","username":"alice"}`, string(api.last().body))
}

func TestAddBookIsMultipart(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("POST /api/admin/books/add", statusReply(http.StatusCreated, ""))
	c := newTestClient(t, api, signedIn(lmsauth.RoleLibrarian), nil)

	err := c.AddBook(context.Background(), NewBook{ISBN: "1", Title: "Dune", TotalCopies: 2}, "dune.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)

	last := api.last()
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(last.body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", last.ctype)
	require.NoError(t, req.ParseMultipartForm(1<<20))

	var meta NewBook
	require.NoError(t, json.Unmarshal([]byte(req.FormValue("book")), &meta))
	assert.Equal(t, "Dune", meta.Title)
	assert.Equal(t, 2, meta.TotalCopies)

	f, hdr, err := req.FormFile("file")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "dune.png", hdr.Filename)
	assert.Equal(t, "PNGDATA", string(data))
}

func TestAPIErrorCarriesBody(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("POST /api/user/request-borrow", statusReply(http.StatusConflict, "Already requested"))
	c := newTestClient(t, api, signedIn(lmsauth.RoleMember), nil)

	err := c.RequestBorrow(context.Background(), 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Contains(t, err.Error(), "Already requested")
	assert.JSONEq(t, `{"bookId":5}`, string(api.last().body))
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	api := newFakeAPI(t)
	var fail atomic.Bool
	api.handle("GET /api/public/books/latest", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, api, nil, func(cfg *Config) {
		cfg.Breaker.ConsecutiveFailures = 3
		cfg.Breaker.Timeout = time.Hour
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.LatestBooks(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState(), "4xx must not trip the breaker")

	fail.Store(true)
	for i := 0; i < 3; i++ {
		_, _ = c.LatestBooks(ctx)
	}
	require.Equal(t, gobreaker.StateOpen, c.BreakerState())

	before := api.count()
	_, err := c.LatestBooks(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, api.count(), "open breaker must fail fast")
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestClient(t, api, nil, nil)
	api.server.Close()

	_, err := c.LatestBooks(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
}

func TestTotalFines(t *testing.T) {
	assert.InDelta(t, 17.5, TotalFines([]Fine{{Amount: 10}, {Amount: 7.5}}), 1e-9)
}
