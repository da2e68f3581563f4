package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/proxichat/internal/auth"
	"github.com/vovakirdan/proxichat/internal/core"
	"github.com/vovakirdan/proxichat/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestWebSocketBroadcastBetweenParticipants(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, chatID, alice.Token)
	connB := env.dial(t, ctx, chatID, bob.Token)
	require.Eventually(t, func() bool { return env.registry.Members(chatID) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, wsjson.Write(ctx, connA, map[string]any{"message": "hi", "messageId": "x1"}))

	want := fmt.Sprintf(`{"message":"hi","sender":"%d","sender_username":"alice","messageId":"x1"}`, alice.ID)
	require.JSONEq(t, want, readFrame(t, ctx, connA))

	var got proto.Outbound
	require.NoError(t, wsjson.Read(ctx, connB, &got))
	require.Equal(t, "hi", got.Message)
	require.Equal(t, fmt.Sprint(alice.ID), got.Sender)
	require.Equal(t, "alice", got.SenderUsername)
	require.JSONEq(t, `"x1"`, string(got.MessageID))

	msgs, err := env.store.ListMessages(ctx, chatID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Body)
	require.Equal(t, alice.ID, msgs[0].SenderID)
}

func TestWebSocketSessionStaysJoinedAfterHandshake(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	env.dial(t, ctx, chatID, alice.Token)
	require.Eventually(t, func() bool { return env.registry.Members(chatID) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return env.registry.Members(chatID) != 1 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestWebSocketTrailingSlashIsOptional(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := env.wsURL(chatID, "")
	url = url[:len(url)-1] + "?token=" + alice.Token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	writeFrame(t, ctx, conn, `{"message":"no slash"}`)
	require.JSONEq(t, fmt.Sprintf(`{"message":"no slash","sender":"%d","sender_username":"alice"}`, alice.ID), readFrame(t, ctx, conn))
}

func TestWebSocketRefusals(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	charlie := env.register(t, "charlie")
	chatID := env.createChat(t, alice, bob)

	expired, err := auth.GenerateToken(&auth.JWTConfig{
		Secret:   env.jwt.Secret,
		Issuer:   env.jwt.Issuer,
		Audience: env.jwt.Audience,
		TTL:      -time.Minute,
	}, alice.ID, alice.Name)
	require.NoError(t, err)

	forged, err := auth.GenerateToken(&auth.JWTConfig{
		Secret:   []byte("not-the-server-secret"),
		Issuer:   env.jwt.Issuer,
		Audience: env.jwt.Audience,
		TTL:      time.Hour,
	}, alice.ID, alice.Name)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := []struct {
		name   string
		url    string
		status int
	}{
		{"no token", env.wsURL(chatID, ""), http.StatusForbidden},
		{"garbage token", env.wsURL(chatID, "garbage"), http.StatusForbidden},
		{"expired token", env.wsURL(chatID, expired), http.StatusForbidden},
		{"forged token", env.wsURL(chatID, forged), http.StatusForbidden},
		{"not a participant", env.wsURL(chatID, charlie.Token), http.StatusForbidden},
		{"unknown chat", env.wsURL("00000000-0000-4000-8000-000000000000", alice.Token), http.StatusForbidden},
		{"bad chat id", env.wsURL("NOT-A-CHAT", alice.Token), http.StatusNotFound},
		{"nested path", env.wsURL(chatID+"/extra", alice.Token), http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.status, env.dialStatus(t, ctx, tc.url))
		})
	}
	require.Equal(t, 0, env.registry.Members(chatID))
}

func TestWebSocketInvalidFramesAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, chatID, alice.Token)
	connB := env.dial(t, ctx, chatID, bob.Token)

	writeFrame(t, ctx, connA, `{"message":""}`)
	writeFrame(t, ctx, connA, `not json`)
	require.NoError(t, connA.Write(ctx, websocket.MessageBinary, []byte(`{"message":"binary"}`)))
	writeFrame(t, ctx, connA, `{"message":"   "}`)
	writeFrame(t, ctx, connA, `{"message":"real"}`)

	// Whitespace is a real message; the dropped frames never reach bob.
	require.JSONEq(t, fmt.Sprintf(`{"message":"   ","sender":"%d","sender_username":"alice"}`, alice.ID), readFrame(t, ctx, connB))
	require.JSONEq(t, fmt.Sprintf(`{"message":"real","sender":"%d","sender_username":"alice"}`, alice.ID), readFrame(t, ctx, connB))

	msgs, err := env.store.ListMessages(ctx, chatID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestWebSocketDisconnectLeavesChat(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx, chatID, alice.Token)
	connB := env.dial(t, ctx, chatID, bob.Token)
	require.Eventually(t, func() bool { return env.registry.Members(chatID) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, connA.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return env.registry.Members(chatID) == 1 }, 2*time.Second, 10*time.Millisecond)

	writeFrame(t, ctx, connB, `{"message":"still here"}`)
	require.JSONEq(t, fmt.Sprintf(`{"message":"still here","sender":"%d","sender_username":"bob"}`, bob.ID), readFrame(t, ctx, connB))
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, chatID, alice.Token)
	big := make([]byte, env.cfg.MaxMessageBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_ = conn.Write(ctx, websocket.MessageText, big)

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return env.registry.Members(chatID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	chatID := env.createChat(t, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, chatID, alice.Token)
	require.Eventually(t, func() bool { return env.registry.Members(chatID) == 1 }, 2*time.Second, 10*time.Millisecond)

	env.registry.Close()

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.Equal(t, http.StatusServiceUnavailable, env.dialStatus(t, ctx, env.wsURL(chatID, bob.Token)))
}

func TestCloseStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want websocket.StatusCode
	}{
		{"clean", nil, websocket.StatusNormalClosure},
		{"eof", io.EOF, websocket.StatusNormalClosure},
		{"shutdown", core.ErrShutdown, websocket.StatusGoingAway},
		{"shutdown before serve", fmt.Errorf("serve: %w", core.ErrShutdown), websocket.StatusGoingAway},
		{"slow consumer", fmt.Errorf("%w: outbound queue full", core.ErrDelivery), websocket.StatusTryAgainLater},
		{"unexpected", errors.New("boom"), websocket.StatusInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := closeStatus(tc.err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestChatIDFromPath(t *testing.T) {
	id, ok := chatIDFromPath("/ws/chats/ab-12/")
	require.True(t, ok)
	require.Equal(t, "ab-12", id)

	id, ok = chatIDFromPath("/ws/chats/ab-12")
	require.True(t, ok)
	require.Equal(t, "ab-12", id)

	for _, path := range []string{"/ws/chats/", "/ws/chats/AB/", "/ws/chats/ab/cd/", "/api/chats/ab/"} {
		_, ok := chatIDFromPath(path)
		require.False(t, ok, path)
	}
}
