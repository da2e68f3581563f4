package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/proxichat/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("addr", "ws://localhost:8080", "server base address")
	chat := flag.String("chat", "", "chat id to connect to")
	token := flag.String("token", os.Getenv("PROXICHAT_TOKEN"), "access token (or PROXICHAT_TOKEN)")
	flag.Parse()

	if *chat == "" || *token == "" {
		return errors.New("-chat and -token are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
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

	fmt.Printf("Connected to chat %s\n", *chat)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		name := outbound.SenderUsername
		if name == "" {
			name = outbound.Sender
		}
		if len(outbound.MessageID) > 0 {
			fmt.Printf("%s: %s (id %s)\n", name, outbound.Message, outbound.MessageID)
			continue
		}
		fmt.Printf("%s: %s\n", name, outbound.Message)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			seq++
			in := proto.Inbound{Message: text, MessageID: []byte(strconv.Quote("cli-" + strconv.Itoa(seq)))}
			if err := wsjson.Write(ctx, conn, in); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
