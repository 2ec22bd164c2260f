package signaling

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocketTransport reaches a relay server over WebSocket, one connection
// per subscribed topic. Publishing requires an open subscription on the topic.
type WebSocketTransport struct {
	BaseURL string      // e.g. "ws://localhost:8080"
	Header  http.Header // sent with every handshake
	Dialer  *websocket.Dialer

	mu    sync.Mutex
	conns map[string][]*wsConn
}

type wsConn struct {
	t       *WebSocketTransport
	topic   string
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	stopped chan struct{}
}

func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{
		BaseURL: baseURL,
		Dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		conns:   make(map[string][]*wsConn),
	}
}

func (t *WebSocketTransport) endpoint(topic string) string {
	return strings.TrimRight(t.BaseURL, "/") + "/ws/signal/" + url.PathEscape(topic)
}

func (t *WebSocketTransport) Subscribe(ctx context.Context, topic string, deliver func([]byte)) (Subscription, error) {
	conn, _, err := t.Dialer.DialContext(ctx, t.endpoint(topic), t.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{t: t, topic: topic, conn: conn, stopped: make(chan struct{})}

	t.mu.Lock()
	if t.conns == nil {
		t.conns = make(map[string][]*wsConn)
	}
	t.conns[topic] = append(t.conns[topic], c)
	t.mu.Unlock()

	go c.readLoop(deliver)
	closeOnDone(ctx, c, c.stopped)
	return c, nil
}

func (t *WebSocketTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	var c *wsConn
	if conns := t.conns[topic]; len(conns) > 0 {
		c = conns[0]
	}
	t.mu.Unlock()

	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	return c.write(ctx, payload)
}

func (c *wsConn) write(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) readLoop(deliver func([]byte)) {
	defer c.Close()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopped:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("Signaling read error on %s: %v", c.topic, err)
				}
			}
			return
		}
		deliver(message)
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stopped)

		c.t.mu.Lock()
		conns := c.t.conns[c.topic]
		for i, other := range conns {
			if other == c {
				c.t.conns[c.topic] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(c.t.conns[c.topic]) == 0 {
			delete(c.t.conns, c.topic)
		}
		c.t.mu.Unlock()

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
