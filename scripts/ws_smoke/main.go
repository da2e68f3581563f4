package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/proxichat/internal/proto"
)

// ws_smoke sends one message to a chat and waits for its broadcast echo.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8080", "server base address")
	chat := flag.String("chat", "", "chat id")
	token := flag.String("token", os.Getenv("PROXICHAT_TOKEN"), "access token (or PROXICHAT_TOKEN)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	addr := strings.TrimRight(*base, "/") + "/ws/chats/" + url.PathEscape(*chat) + "/?token=" + url.QueryEscape(*token)
	conn, resp, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	messageID, err := json.Marshal("smoke-" + uuid.NewString())
	if err != nil {
		return fmt.Errorf("marshal message id: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Message: *text, MessageID: messageID}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	start := time.Now()
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received: sender=%s (%s) message=%q messageId=%s\n",
			outbound.Sender, outbound.SenderUsername, outbound.Message, outbound.MessageID)

		if bytes.Equal(outbound.MessageID, messageID) {
			fmt.Printf("Echo received after %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		}
	}
}
