package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/liveclass/internal/middleware"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one WebSocket connection relaying a signaling channel
type Client struct {
	ID        string
	UserID    string // from the JWT; stamped as "from" on everything relayed
	TeacherID string // the only user allowed to send offers and slides
	Channel   string
	Conn      *websocket.Conn
	Send      chan []byte

	transport signaling.Transport
	retention *signaling.Retention
}

// HandleSignaling relays a live class's signaling channel over WebSocket.
// It runs behind JWTAuth. Frames from the client are validated and stamped
// with the authenticated user before they reach the channel; offers and
// slide changes are accepted from the class's teacher only. Every payload on
// the channel, including the client's own, is written back.
func HandleSignaling(transport signaling.Transport, retainer signaling.Retainer) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Param("channel")

		live, err := liveChannel(channel)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Class is not live"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			UserID:    c.GetString(middleware.UserIDKey),
			TeacherID: live.TeacherID,
			Channel:   channel,
			Conn:      conn,
			Send:      make(chan []byte, 256),
			transport: transport,
			retention: signaling.NewRetention(retainer, channel),
		}

		ctx, cancel := context.WithCancel(context.Background())
		sub, err := transport.Subscribe(ctx, channel, client.enqueue)
		if err != nil {
			log.Printf("Failed to subscribe %s: %v", channel, err)
			cancel()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "channel unavailable"))
			conn.Close()
			return
		}

		// Late joiners get the retained offer before live traffic.
		replay, err := client.retention.Replay(ctx)
		if err != nil {
			log.Printf("Failed to read retained signals on %s: %v", channel, err)
		}
		for _, payload := range replay {
			client.enqueue(payload)
		}

		log.Printf("Client %s (%s) joined %s", client.ID, client.UserID, channel)

		go client.writePump(ctx)
		go client.readPump(ctx, func() {
			sub.Close()
			cancel()
		})
	}
}

func (c *Client) enqueue(payload []byte) {
	select {
	case c.Send <- payload:
	default:
		log.Printf("Failed to send message to client %s, buffer full", c.ID)
	}
}

func (c *Client) readPump(ctx context.Context, leave func()) {
	defer func() {
		leave()
		c.Conn.Close()
		log.Printf("Client %s left %s", c.ID, c.Channel)
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		env, err := models.Decode(message)
		if err != nil {
			log.Printf("Rejected signal from client %s: %v", c.ID, err)
			continue
		}
		if !c.mayRelay(env.Message) {
			log.Printf("Rejected %s from %s: only the teacher of %s may send it", env.Message.Type(), c.UserID, c.Channel)
			continue
		}

		payload, err := models.Encode(c.UserID, env.Message)
		if err != nil {
			log.Printf("Failed to encode signal from client %s: %v", c.ID, err)
			continue
		}
		if err := c.retention.Observe(ctx, env.Message, payload); err != nil {
			log.Printf("Failed to retain %s on %s: %v", env.Message.Type(), c.Channel, err)
		}
		if err := c.transport.Publish(ctx, c.Channel, payload); err != nil {
			log.Printf("Failed to publish %s on %s: %v", env.Message.Type(), c.Channel, err)
		}
	}
}

// mayRelay reports whether the client's user may send msg on the channel.
func (c *Client) mayRelay(msg models.Message) bool {
	switch msg.(type) {
	case models.Offer, models.Slide:
		return c.UserID == c.TeacherID
	}
	return true
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
