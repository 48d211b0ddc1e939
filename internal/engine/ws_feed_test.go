package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"arb-edge/internal/storage/memory"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeed_StoresValidRecords(t *testing.T) {
	endpoint := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"id":"feed-1","chainId":1,
			"baseToken":"0x1111111111111111111111111111111111111111",
			"quoteToken":"0x2222222222222222222222222222222222222222",
			"estProfitUsd":5.5,"ts":1000
		}`))
		// Keep the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	store := memory.NewOpportunityStore()
	feed := NewFeed(endpoint, store, nil, nil, nil)
	defer feed.Close()

	require.Eventually(t, func() bool {
		_, err := store.GetByID(context.Background(), "feed-1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_SkipsInvalidRecords(t *testing.T) {
	endpoint := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"","chainId":0}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{
			"id":"good","chainId":1,
			"baseToken":"0x1111111111111111111111111111111111111111",
			"quoteToken":"0x2222222222222222222222222222222222222222",
			"ts":1000
		}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	store := memory.NewOpportunityStore()
	feed := NewFeed(endpoint, store, nil, nil, nil)
	defer feed.Close()

	require.Eventually(t, func() bool {
		_, err := store.GetByID(context.Background(), "good")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Only the valid record landed.
	list, err := store.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestFeed_ReconnectsAfterServerDrop(t *testing.T) {
	connects := make(chan struct{}, 8)
	endpoint := wsServer(t, func(conn *websocket.Conn) {
		connects <- struct{}{}
		// Drop immediately; the feed should dial again.
	})

	cfg := DefaultFeedConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond

	feed := NewFeed(endpoint, memory.NewOpportunityStore(), &cfg, nil, nil)
	defer feed.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected reconnect %d", i+1)
		}
	}
}

func TestFeed_CloseIsIdempotent(t *testing.T) {
	endpoint := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed := NewFeed(endpoint, memory.NewOpportunityStore(), nil, nil, nil)
	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())
}
