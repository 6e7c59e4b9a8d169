package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteagent/byte/internal/log"
	"github.com/byteagent/byte/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConn_DialSendReceive(t *testing.T) {
	tokenCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCh <- r.URL.Query().Get("token")
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var req protocol.Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		data, err := protocol.Encode(protocol.Answer("pong: " + req.Message))
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, data)

		// Hold the connection open until the client's close handshake.
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	d := &WebSocketDialer{Endpoint: wsURL(srv), Token: "tok-1", Logger: log.NewNop()}
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	// The bearer credential travels as a query parameter.
	assert.Equal(t, "tok-1", <-tokenCh)

	require.NoError(t, conn.Send(protocol.Request{
		Message:  "ping",
		ThreadID: protocol.ThreadNew,
		Mode:     protocol.ModeSimple,
	}))

	select {
	case rec := <-conn.Records():
		ev, err := protocol.Decode(rec)
		require.NoError(t, err)
		assert.Equal(t, protocol.EventAnswer, ev.Type)
		assert.Equal(t, "pong: ping", ev.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no record arrived")
	}
}

func TestWebSocketConn_CloseUnblocksSaturatedReader(t *testing.T) {
	writerDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(writerDone)
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		data, err := protocol.Encode(protocol.Answer("x"))
		if err != nil {
			return
		}
		// Overflow the client's record buffer so its reader goroutine
		// ends up parked on the channel send, not on the socket read.
		for range recordBuffer + 32 {
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &WebSocketDialer{Endpoint: wsURL(srv), Token: "tok", Logger: log.NewNop()}
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)

	<-writerDone
	require.NoError(t, conn.Close())

	// With nothing draining, Records must still close: the reader exits
	// through the done signal instead of waiting for a buffer slot. The
	// package's leak check would catch a reader that stays parked.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Records():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("records channel did not close after Close")
		}
	}
}
