package devserver

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// clientMessage is a message from a reload client
type clientMessage struct {
	Type string `json:"type"`
}

func (s *Server) handleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(s.handleConnection)(c)
}

// handleConnection registers the client with the hub, answers heartbeats
// and sends one of its own every ping interval until the client goes away.
func (s *Server) handleConnection(c *websocket.Conn) {
	id := uuid.New().String()
	cl := s.hub.addClient(id, c)
	defer s.hub.RemoveClient(id)

	interval := s.cfg.DevServer.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := cl.sendJSON(Notification{Type: TypeHeartbeat, Time: time.Now()}); err != nil {
					log.Debug().Err(err).Str("client_id", id).Msg("Heartbeat failed")
					return
				}
			}
		}
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client_id", id).Msg("Reload client error")
			}
			return
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == TypeHeartbeat {
			_ = cl.sendJSON(Notification{Type: TypeHeartbeat, Time: time.Now()})
		}
	}
}
