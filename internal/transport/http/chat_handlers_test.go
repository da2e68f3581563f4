package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/register", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reg := decode[AuthResponse](t, resp)
	require.NotEmpty(t, reg.Token)
	require.Equal(t, "alice", reg.Username)

	resp = env.do(t, http.MethodPost, "/api/register", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/register", "", `{"username":"al"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/login", "", `{"username":"alice","password":"password123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[AuthResponse](t, resp)
	require.Equal(t, reg.UserID, login.UserID)

	resp = env.do(t, http.MethodPost, "/api/login", "", `{"username":"alice","password":"wrong-password"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/chats", "/api/chats/abc/messages"} {
		resp := env.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)

		resp = env.do(t, http.MethodGet, path, "garbage", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestPoke(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	resp := env.do(t, http.MethodPost, "/api/chats/poke", bob.Token, fmt.Sprintf(`{"target_id":%d}`, alice.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[PokeResponse](t, resp)
	require.True(t, first.Created)
	require.NotEmpty(t, first.ChatID)
	require.Equal(t, "bob poked alice", first.Message)

	// Either side poking again lands in the same chat.
	resp = env.do(t, http.MethodPost, "/api/chats/poke", alice.Token, fmt.Sprintf(`{"target_id":%d}`, bob.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[PokeResponse](t, resp)
	require.False(t, second.Created)
	require.Equal(t, first.ChatID, second.ChatID)

	resp = env.do(t, http.MethodPost, "/api/chats/poke", alice.Token, `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/chats/poke", alice.Token, fmt.Sprintf(`{"target_id":%d}`, alice.ID))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/chats/poke", alice.Token, `{"target_id":9999}`)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListChatsAndHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")
	ctx := context.Background()

	older := env.createChat(t, alice, carol)
	newer := env.createChat(t, alice, bob)

	_, err := env.store.AppendMessage(ctx, older, carol.ID, "hey alice")
	require.NoError(t, err)
	for i := range 3 {
		_, err := env.store.AppendMessage(ctx, newer, bob.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	resp := env.do(t, http.MethodGet, "/api/chats", alice.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chats := decode[[]ChatResponse](t, resp)
	require.Len(t, chats, 2)
	require.Equal(t, newer, chats[0].ID)
	require.Equal(t, "m2", chats[0].LastMessage)
	require.True(t, chats[0].Unread)
	require.Len(t, chats[0].Participants, 2)
	require.Equal(t, older, chats[1].ID)

	resp = env.do(t, http.MethodGet, "/api/chats/"+newer+"/messages?limit=2", alice.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[[]MessageResponse](t, resp)
	require.Len(t, page, 2)
	require.Equal(t, "m2", page[0].Message)
	require.Equal(t, "m1", page[1].Message)
	require.Equal(t, "bob", page[0].SenderUsername)
	require.Equal(t, fmt.Sprint(bob.ID), page[0].Sender)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%s/messages?before=%d", newer, page[1].ID), alice.Token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rest := decode[[]MessageResponse](t, resp)
	require.Len(t, rest, 1)
	require.Equal(t, "m0", rest[0].Message)

	// Reading the history cleared alice's unread flag.
	resp = env.do(t, http.MethodGet, "/api/chats", alice.Token, "")
	chats = decode[[]ChatResponse](t, resp)
	require.False(t, chats[0].Unread)

	resp = env.do(t, http.MethodGet, "/api/chats/"+newer+"/messages", carol.Token, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/chats/NOPE/messages", alice.Token, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/chats/"+newer+"/messages?limit=x", alice.Token, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	_ = env.dialStatus(t, ctx, env.wsURL("0000", ""))

	resp := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `proxichat_connections_refused_total{reason="authentication_failure"} 1`)
}
