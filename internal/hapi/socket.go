package hapi

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Socket is one inbound event-stream connection. Reads block until the next
// frame arrives, the peer closes, or ctx is cancelled.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	Close() error
}

// StreamDialer opens the persistent event stream for one session. The stream
// is authenticated with a query token, so the dialer consults the credential
// provider on every dial and a reconnect automatically picks up a renewed
// token.
type StreamDialer interface {
	DialEvents(ctx context.Context, sessionID string) (Socket, error)
}

// DialEvents implements StreamDialer on the API client.
func (c *Client) DialEvents(ctx context.Context, sessionID string) (Socket, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("token", token)
	wsURL := toWebsocketURL(c.baseURL) + "/api/events?" + q.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: c.dialClient})
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *wsSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// FakeSocket is a scripted Socket for tests.
type FakeSocket struct {
	readCh chan string
	closed chan struct{}
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{
		readCh: make(chan string, 16),
		closed: make(chan struct{}),
	}
}

// EmitText queues a frame for the next ReadText call.
func (f *FakeSocket) EmitText(text string) {
	select {
	case f.readCh <- text:
	case <-f.closed:
	}
}

// Fail ends the stream: subsequent reads return io.EOF.
func (f *FakeSocket) Fail() {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text := <-f.readCh:
		return text, nil
	case <-f.closed:
		// Drain frames queued before the failure.
		select {
		case text := <-f.readCh:
			return text, nil
		default:
		}
		return "", io.EOF
	}
}

func (f *FakeSocket) Close() error {
	f.Fail()
	return nil
}
