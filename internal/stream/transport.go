package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrClosedByPeer is returned by Conn.Read when the server sent a close frame.
var ErrClosedByPeer = errors.New("stream: connection closed by peer")

// Frame is one inbound data message.
type Frame struct {
	Text bool // false for binary frames
	Data []byte
}

// Conn is an established persistent connection.
type Conn interface {
	// Read blocks until the next data frame arrives or the connection fails.
	Read() (Frame, error)
	// Write sends one text frame.
	Write(data []byte) error
	// Ping sends a protocol-level keepalive.
	Ping() error
	// Close releases the connection. Calling it more than once is safe.
	Close() error
}

// Dialer opens connections to a stream endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials WebSocket endpoints with gobwas/ws.
type WSDialer struct {
	WriteTimeout time.Duration // per-frame write deadline; 0 disables it
}

// Dial performs the WebSocket handshake against url.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", url, err)
	}

	c := &wsConn{
		conn:         conn,
		reader:       conn,
		writeTimeout: d.WriteTimeout,
	}
	if br != nil {
		// The handshake reader may already hold the first frames.
		c.reader = io.MultiReader(br, conn)
	}
	return c, nil
}

// wsConn adapts a client-side gobwas connection to Conn. The write mutex
// serializes application frames with pong and close replies from the reader.
type wsConn struct {
	conn         net.Conn
	reader       io.Reader
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) Read() (Frame, error) {
	for {
		msgs, err := wsutil.ReadServerMessage(c.reader, nil)
		if err != nil {
			return Frame{}, err
		}
		for _, m := range msgs {
			switch m.OpCode {
			case ws.OpText:
				return Frame{Text: true, Data: m.Payload}, nil
			case ws.OpBinary:
				return Frame{Text: false, Data: m.Payload}, nil
			case ws.OpPing:
				if err := c.write(ws.OpPong, m.Payload); err != nil {
					return Frame{}, err
				}
			case ws.OpClose:
				code, reason := ws.ParseCloseFrameData(m.Payload)
				_ = c.write(ws.OpClose, closeReply(code))
				return Frame{}, fmt.Errorf("%w: code=%d reason=%q", ErrClosedByPeer, code, reason)
			}
		}
	}
}

// closeReply echoes the peer's close code. 1005 only means the peer sent no
// code and must not appear on the wire, so it is answered with an empty body.
func closeReply(code ws.StatusCode) []byte {
	if code == ws.StatusNoStatusRcvd {
		return nil
	}
	return ws.NewCloseFrameBody(code, "")
}

func (c *wsConn) Write(data []byte) error {
	return c.write(ws.OpText, data)
}

func (c *wsConn) Ping() error {
	return c.write(ws.OpPing, nil)
}

func (c *wsConn) write(op ws.OpCode, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteClientMessage(c.conn, op, payload)
}

// Close sends a normal-closure frame and closes the socket, once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
