package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer upgrades every request and hands the server side to handle.
func pushServer(t *testing.T, handle func(write func(ws.OpCode, []byte) error, read func() ([]byte, ws.OpCode, error))) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var upgrades atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		upgrades.Add(1)
		handle(
			func(op ws.OpCode, p []byte) error { return wsutil.WriteServerMessage(conn, op, p) },
			func() ([]byte, ws.OpCode, error) { return wsutil.ReadClientData(conn) },
		)
	}))
	t.Cleanup(srv.Close)
	return srv, &upgrades
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialer_ReadWrite(t *testing.T) {
	got := make(chan string, 1)
	srv, _ := pushServer(t, func(write func(ws.OpCode, []byte) error, read func() ([]byte, ws.OpCode, error)) {
		_ = write(ws.OpPing, []byte("hb"))
		_ = write(ws.OpText, []byte(`{"event":"alarm.created"}`))
		_ = write(ws.OpBinary, []byte{0x01, 0x02})
		data, _, err := read()
		if err == nil {
			got <- string(data)
		}
		_ = write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "restart"))
		_, _, _ = read()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := WSDialer{WriteTimeout: time.Second}.Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	f, err := conn.Read()
	require.NoError(t, err)
	assert.True(t, f.Text)
	assert.Equal(t, `{"event":"alarm.created"}`, string(f.Data))

	f, err = conn.Read()
	require.NoError(t, err)
	assert.False(t, f.Text)
	assert.Equal(t, []byte{0x01, 0x02}, f.Data)

	require.NoError(t, conn.Write([]byte(`{"type":"ack"}`)))
	select {
	case s := <-got:
		assert.Equal(t, `{"type":"ack"}`, s)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	_, err = conn.Read()
	require.ErrorIs(t, err, ErrClosedByPeer)
	assert.Contains(t, err.Error(), "restart")

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestWSDialer_EmptyCloseFrameGetsEmptyReply(t *testing.T) {
	reply := make(chan ws.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = ws.WriteFrame(conn, ws.NewCloseFrame(nil))
		for {
			f, err := ws.ReadFrame(conn)
			if err != nil {
				return
			}
			if f.Header.OpCode == ws.OpClose {
				reply <- f.Header
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := WSDialer{WriteTimeout: time.Second}.Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read()
	require.ErrorIs(t, err, ErrClosedByPeer)

	select {
	case h := <-reply:
		assert.Zero(t, h.Length, "reply to a code-less close must carry no status code")
	case <-time.After(2 * time.Second):
		t.Fatal("no close reply received")
	}
}

func TestCloseReply(t *testing.T) {
	assert.Empty(t, closeReply(ws.StatusNoStatusRcvd))
	assert.Equal(t, ws.NewCloseFrameBody(ws.StatusGoingAway, ""), closeReply(ws.StatusGoingAway))
}

func TestWSDialer_RefusedEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := WSDialer{}.Dial(ctx, url)
	require.Error(t, err)
}

func TestManager_OverWebSocket(t *testing.T) {
	received := make(chan string, 4)
	srv, upgrades := pushServer(t, func(write func(ws.OpCode, []byte) error, read func() ([]byte, ws.OpCode, error)) {
		_ = write(ws.OpText, []byte("welcome"))
		_ = write(ws.OpText, []byte(`{"event":"alarm.created","data":{"id":"a1"}}`))
		data, _, err := read()
		if err != nil {
			return
		}
		received <- string(data)
		// Drop the client; the manager should dial again.
	})

	cfg := DefaultConfig(wsURL(srv))
	cfg.PingInterval = 0
	m := New[event](cfg, WithLogger(zerolog.Nop()), WithBackoff(func(int) time.Duration { return 5 * time.Millisecond }))
	defer m.Close()

	events := make(chan event, 8)
	m.OnEvent(func(e event) {
		select {
		case events <- e:
		default:
		}
	})
	require.NoError(t, m.Start(context.Background()))

	select {
	case e := <-events:
		assert.Equal(t, "alarm.created", e.Event)
		assert.JSONEq(t, `{"id":"a1"}`, string(e.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no event decoded")
	}

	require.Eventually(t, m.IsConnected, time.Second, time.Millisecond)
	require.NoError(t, m.Send(map[string]string{"type": "ack"}))
	select {
	case s := <-received:
		assert.JSONEq(t, `{"type":"ack"}`, s)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the ack")
	}

	require.Eventually(t, func() bool { return upgrades.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Close())
	assert.Equal(t, Disconnected, m.Status())
}
