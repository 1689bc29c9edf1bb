package port_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/chapter/app"
	"github.com/aelexs/nextchapter/internal/chapter/port"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/domain/domaintest"
	"github.com/aelexs/nextchapter/internal/realtime"
	"github.com/aelexs/nextchapter/internal/realtime/realtimetest"
)

var tokyo = mustLoadLocation("Asia/Tokyo")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

var (
	testStart = time.Date(2025, 6, 30, 0, 0, 0, 0, tokyo)
	countdown = time.Date(2025, 7, 20, 0, 0, 0, 0, tokyo)
	together  = time.Date(2024, 7, 20, 0, 0, 0, 0, tokyo)
)

// manualTicker fires only when the test sends on ch.
type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type fixture struct {
	server *httptest.Server
	clock  *domaintest.FakeClock
	docs   *realtimetest.Documents
	ticker *manualTicker
}

type fixtureOptions struct {
	limiter app.AttemptLimiter
	hops    int
}

type fixtureOption func(*fixtureOptions)

func withLimiter(l app.AttemptLimiter) fixtureOption {
	return func(o *fixtureOptions) { o.limiter = l }
}

func withTrustedProxyHops(n int) fixtureOption {
	return func(o *fixtureOptions) { o.hops = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	o := fixtureOptions{limiter: allowAll{}}
	for _, opt := range opts {
		opt(&o)
	}

	clock := domaintest.NewFakeClock(testStart)
	store, docs, _ := realtimetest.NewStore(clock, realtime.WithResyncInterval(0))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ticker := &manualTicker{ch: make(chan time.Time)}

	keyStore, err := auth.GenerateStaticKeyStore("test-key")
	require.NoError(t, err)

	security := app.NewSecurityService(app.SecurityServiceConfig{
		DB:      store,
		Limiter: o.limiter,
		Minter: auth.NewMinter(auth.MinterConfig{
			KeyStore: keyStore,
			TTL:      time.Hour,
			Issuer:   "nextchapter",
			Audience: "nextchapter-boards",
			Clock:    clock,
		}),
		Validator: auth.NewValidator(auth.ValidatorConfig{
			KeyStore: keyStore,
			Issuer:   "nextchapter",
			Audience: "nextchapter-boards",
			Clock:    clock,
		}),
		Clock:      clock,
		Logger:     logger,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, security.Initialize(context.Background()))

	h := port.NewHandler(port.HandlerConfig{
		Timeline: app.NewTimeline(app.TimelineConfig{
			Clock:     clock,
			Location:  tokyo,
			Countdown: countdown,
			Together:  together,
			NewTicker: func(time.Duration) app.Ticker { return ticker },
		}),
		Notes:            app.NewNotesService(app.NotesServiceConfig{DB: store, Clock: clock, Location: tokyo, Logger: logger}),
		Bucket:           app.NewBucketService(app.BucketServiceConfig{DB: store, Clock: clock, Location: tokyo, Logger: logger}),
		Security:         security,
		Clock:            clock,
		Logger:           logger,
		TrustedProxyHops: o.hops,
	})

	r := mux.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, clock: clock, docs: docs, ticker: ticker}
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string) (bool, error) { return true, nil }
func (allowAll) Reset(context.Context, string) error         { return nil }

// recordingLimiter allows everything and remembers the last client charged.
type recordingLimiter struct {
	mu     sync.Mutex
	client string
}

func (l *recordingLimiter) Allow(_ context.Context, client string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client = client
	return true, nil
}

func (l *recordingLimiter) Reset(context.Context, string) error { return nil }

func (l *recordingLimiter) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// do sends a JSON request and returns the response with its body read.
func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	return f.doWithHeader(t, method, path, token, body, nil)
}

func (f *fixture) doWithHeader(t *testing.T, method, path, token string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// login verifies the default PIN and returns the session token.
func (f *fixture) login(t *testing.T) string {
	t.Helper()

	resp, body := f.do(t, http.MethodPost, "/api/v1/pin/verify", "", map[string]string{"pin": domain.DefaultPIN})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &session))
	require.NotEmpty(t, session.Token)
	return session.Token
}

func decodeJSON[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}
