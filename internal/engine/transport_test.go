package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/amarcoder01/typemaster-race/api"
	ws "github.com/amarcoder01/typemaster-race/internal/websocket"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsRecorder upgrades inbound connections and records every text
// frame it reads, across server restarts.
type wsRecorder struct {
	upgrader gws.Upgrader
	msgs     chan []byte
}

func newWSRecorder() *wsRecorder {
	return &wsRecorder{
		upgrader: gws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		msgs: make(chan []byte, 64),
	}
}

func (r *wsRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	go func() {
		defer conn.Close()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			r.msgs <- b
		}
	}()
}

func (r *wsRecorder) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-r.msgs:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a server-side message")
		return nil
	}
}

// serveOn starts an HTTP server on addr and returns its shutdown func.
func serveOn(t *testing.T, addr string, handler http.Handler) func() {
	t.Helper()
	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(l) //nolint:errcheck
	return func() { srv.Close() }
}

// reserveAddr grabs a free localhost address and releases it so the
// test controls when something listens there.
func reserveAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func chatMsg(content string) api.Request[any] {
	return api.Request[any]{
		Type: api.RequestTypeChat,
		Data: api.ChatRequestData{Content: content},
	}
}

func decodeChat(t *testing.T, b []byte) string {
	t.Helper()
	var req api.Request[api.ChatRequestData]
	require.NoError(t, json.Unmarshal(b, &req))
	return req.Data.Content
}

func waitState(t *testing.T, tr *Transport, want TransportState) TransportUpdate {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case up := <-tr.States():
			if up.State == want {
				return up
			}
		case <-deadline:
			t.Fatalf("timed out waiting for transport state %v", want)
		}
	}
}

func TestTransportQueuesBeforeConnect(t *testing.T) {
	rec := newWSRecorder()
	addr := reserveAddr(t)
	stop := serveOn(t, addr, rec)
	defer stop()

	tr := NewTransport(TransportConfig{URL: "ws://" + addr + "/"})
	defer tr.Close()

	// Sends while idle land on the queue, in order.
	require.NoError(t, tr.Send(chatMsg("A")))
	require.NoError(t, tr.Send(chatMsg("B")))

	tr.Connect()
	waitState(t, tr, TransportOpen)

	assert.Equal(t, "A", decodeChat(t, rec.next(t)))
	assert.Equal(t, "B", decodeChat(t, rec.next(t)))
}

func TestTransportQueueFIFOAcrossReconnect(t *testing.T) {
	rec := newWSRecorder()
	addr := reserveAddr(t)
	stop := serveOn(t, addr, rec)

	tr := NewTransport(TransportConfig{
		URL:                  "ws://" + addr + "/",
		MaxReconnectAttempts: 20,
		BackoffBase:          20 * time.Millisecond,
		BackoffCap:           50 * time.Millisecond,
	})
	defer tr.Close()

	tr.Connect()
	waitState(t, tr, TransportOpen)

	require.NoError(t, tr.Send(chatMsg("pre")))
	assert.Equal(t, "pre", decodeChat(t, rec.next(t)))

	// Tear the whole server down: the transport must start retrying.
	stop()
	waitState(t, tr, TransportReconnecting)

	require.NoError(t, tr.Send(chatMsg("A")))
	require.NoError(t, tr.Send(chatMsg("B")))

	// Bring the server back on the same address; the queue flushes in
	// the original order on reconnect.
	stop = serveOn(t, addr, rec)
	defer stop()

	assert.Equal(t, "A", decodeChat(t, rec.next(t)))
	assert.Equal(t, "B", decodeChat(t, rec.next(t)))
}

func TestTransportStopsAfterMaxAttempts(t *testing.T) {
	rec := newWSRecorder()
	addr := reserveAddr(t) // nothing listens here yet

	tr := NewTransport(TransportConfig{
		URL:                  "ws://" + addr + "/",
		MaxReconnectAttempts: 3,
		BackoffBase:          10 * time.Millisecond,
	})
	defer tr.Close()

	require.NoError(t, tr.Send(chatMsg("queued")))

	tr.Connect()
	up := waitState(t, tr, TransportFailed)
	assert.Equal(t, 3, up.Attempt)

	// Parked: no further attempts without a manual retry.
	select {
	case extra := <-tr.States():
		t.Fatalf("unexpected state after failure: %v", extra.State)
	case <-time.After(100 * time.Millisecond):
	}

	stop := serveOn(t, addr, rec)
	defer stop()

	tr.Retry()
	waitState(t, tr, TransportOpen)

	// The queued message survived the failure window.
	assert.Equal(t, "queued", decodeChat(t, rec.next(t)))
}

func TestTransportNormalClosureDoesNotReconnect(t *testing.T) {
	upgrader := gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	addr := reserveAddr(t)
	stop := serveOn(t, addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		// Clean shutdown: close handshake, then drop the conn.
		_ = conn.WriteMessage(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, "done"))
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	}))
	defer stop()

	tr := NewTransport(TransportConfig{
		URL:         "ws://" + addr + "/",
		BackoffBase: 10 * time.Millisecond,
	})
	defer tr.Close()

	tr.Connect()
	waitState(t, tr, TransportOpen)
	waitState(t, tr, TransportClosed)

	// The inbound channel closes with the transport.
	select {
	case _, ok := <-tr.Messages():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("inbound channel did not close")
	}
}

func TestTransportCloseDuringDialDropsLateConn(t *testing.T) {
	rec := newWSRecorder()
	addr := reserveAddr(t)
	stop := serveOn(t, addr, rec)
	defer stop()

	tr := NewTransport(TransportConfig{URL: "ws://" + addr + "/"})
	tr.Close()

	// A dial already in flight when Close ran can still succeed; the
	// late conn must be discarded, never installed and read forever.
	conn, resp, err := gws.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	resp.Body.Close()

	tr.open(ws.NewConn(conn))

	tr.mu.Lock()
	installed := tr.conn
	tr.mu.Unlock()
	assert.Nil(t, installed)

	// Our side closed the conn instead of keeping it hanging.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestTransportHandshakePrecedesQueue(t *testing.T) {
	rec := newWSRecorder()
	addr := reserveAddr(t)
	stop := serveOn(t, addr, rec)
	defer stop()

	tr := NewTransport(TransportConfig{
		URL: "ws://" + addr + "/",
		Handshake: func() any {
			return chatMsg("handshake")
		},
	})
	defer tr.Close()

	require.NoError(t, tr.Send(chatMsg("queued")))
	tr.Connect()

	assert.Equal(t, "handshake", decodeChat(t, rec.next(t)))
	assert.Equal(t, "queued", decodeChat(t, rec.next(t)))
}
