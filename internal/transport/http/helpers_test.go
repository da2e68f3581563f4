package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/proxichat/internal/auth"
	"github.com/vovakirdan/proxichat/internal/config"
	"github.com/vovakirdan/proxichat/internal/core"
	"github.com/vovakirdan/proxichat/internal/metrics"
	"github.com/vovakirdan/proxichat/internal/store/sqlite"
)

type testUser struct {
	ID    int64
	Name  string
	Token string
}

type testEnv struct {
	ts       *httptest.Server
	store    *sqlite.SQLiteStore
	auth     *auth.Service
	registry *core.Registry
	jwt      *auth.JWTConfig
	cfg      config.Config
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.DatabasePath = ":memory:"
	cfg.JWTSecret = "test-secret"
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

// newTestEnv wires the full HTTP stack on an in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testConfig()
	disabledLogger := zerolog.Nop()

	st, err := sqlite.New(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	m := metrics.New()
	resolver := auth.NewResolver(jwtConfig, st, &disabledLogger, m)
	registry := core.NewRegistry(&disabledLogger, m)
	chats := core.NewService(core.Deps{
		Resolver:  resolver,
		Authority: core.NewAuthority(st, &disabledLogger),
		Messages:  st,
		Registry:  registry,
		Pool:      core.NewPool(cfg.WorkerPoolSize, cfg.StoreTimeout),
		Metrics:   m,
		Logger:    &disabledLogger,
	}, core.Options{
		SessionBuffer:      cfg.SessionBuffer,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	authService := auth.NewService(st, jwtConfig)

	server := NewServer(Deps{
		Chats:    chats,
		Auth:     authService,
		Resolver: resolver,
		Store:    st,
		Metrics:  m,
	}, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(registry.Close)

	return &testEnv{ts: ts, store: st, auth: authService, registry: registry, jwt: jwtConfig, cfg: cfg}
}

func (e *testEnv) register(t *testing.T, name string) testUser {
	t.Helper()

	sess, err := e.auth.Register(context.Background(), name, "password123")
	require.NoError(t, err)
	return testUser{ID: sess.UserID, Name: sess.Name, Token: sess.Token}
}

func (e *testEnv) createChat(t *testing.T, users ...testUser) string {
	t.Helper()

	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	chat, err := e.store.CreateChat(context.Background(), ids)
	require.NoError(t, err)
	return chat.ID
}

func (e *testEnv) wsURL(chatID, token string) string {
	u := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws/chats/" + chatID + "/"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, chatID, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL(chatID, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// dialStatus attempts a handshake expected to be refused and returns the HTTP status.
func (e *testEnv) dialStatus(t *testing.T, ctx context.Context, url string) int {
	t.Helper()

	conn, resp, err := websocket.Dial(ctx, url, nil)
	if conn != nil {
		_ = conn.CloseNow()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	return resp.StatusCode
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	return string(data)
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}
