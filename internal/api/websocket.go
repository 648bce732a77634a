package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/signalhound/signalhound/internal/fanout"
)

const (
	// writeWait bounds one write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a silent peer stays connected.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientMessage is what a subscriber may send. A subscribe message replaces
// the filter; an unsubscribe message halts delivery until the next subscribe.
type clientMessage struct {
	Type    string        `json:"type"`
	Filters fanout.Filter `json:"filters"`
}

// handleWebSocket upgrades the connection and bridges it to a hub
// subscriber. The initial filter accepts everything; the client narrows it
// with subscribe messages.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "event feed not running"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := s.hub.Subscribe(fanout.Filter{})

	go writePump(conn, sub)
	go readPump(conn, sub)
}

// readPump consumes filter updates until the peer goes away, then drops the
// subscription.
func readPump(conn *websocket.Conn, sub *fanout.Subscriber) {
	defer func() {
		sub.Close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed client message")
			continue
		}

		switch msg.Type {
		case "subscribe":
			sub.SetFilter(msg.Filters)
		case "unsubscribe":
			sub.Pause()
		default:
			log.Debug().Str("type", msg.Type).Msg("Unknown client message type")
		}
	}
}

// writePump drains the subscriber queue onto the socket and keeps the
// connection alive with pings. A closed queue means the hub dropped us.
func writePump(conn *websocket.Conn, sub *fanout.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.Out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
