package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/config"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/identity"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/types"
	"github.com/awehttam/walkie-talkie-html5-sub000/pkg/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		ListenHost:             "127.0.0.1",
		ListenPort:             0,
		PTTLockoutEnabled:      true,
		AnonymousModeEnabled:   true,
		MessageHistoryMaxCount: 10,
		MessageHistoryMaxAgeMs: 300000,
		HistoryDBPath:          filepath.Join(t.TempDir(), "history.db"),
		ScreenNameMinLen:       2,
		ScreenNameMaxLen:       20,
	}
}

// newTestServer builds a Server with an ephemeral history db and starts its
// coordinator plus an httptest listener.
func newTestServer(t *testing.T, verifier identity.Verifier) (*Server, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := NewServer(testConfig(t), verifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.coord.Run(ctx)
	}()

	ts := httptest.NewServer(s.router)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		_ = s.store.Close()
	})
	return s, ts
}

func TestHooksGatedByConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := testConfig(t)
	cfg.PluginsEnabled = true
	s, err := NewServer(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	if s.Hooks() == nil {
		t.Fatalf("expected hook engine when plugins are enabled")
	}
	_ = s.store.Close()

	cfg = testConfig(t)
	cfg.PluginsEnabled = false
	s, err = NewServer(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	if s.Hooks() != nil {
		t.Fatalf("expected nil hook engine when plugins are disabled")
	}
	_ = s.store.Close()
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialClient(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("write %s failed: %v", msg.Type, err)
	}
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) types.ServerMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", wantType)
		}
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		var msg types.ServerMessage
		err := wsjson.Read(ctx, conn, &msg)
		cancel()
		if err != nil {
			t.Fatalf("read failed while waiting for %s: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

// identifyAndJoin runs the set_screen_name + join_channel handshake.
func identifyAndJoin(t *testing.T, conn *websocket.Conn, name, channel string) {
	t.Helper()
	readUntil(t, conn, protocol.TypeAuthRequired)
	writeMsg(t, conn, types.ClientMessage{Type: protocol.TypeSetScreenName, ScreenName: name})
	readUntil(t, conn, protocol.TypeScreenNameSet)
	writeMsg(t, conn, types.ClientMessage{Type: protocol.TypeJoinChannel, Channel: channel})
	readUntil(t, conn, protocol.TypeChannelJoined)
}
