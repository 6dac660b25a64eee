package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const wsWriteTimeout = 10 * time.Second

// stream upgrades to a WebSocket and forwards session events. The
// optional ?device= query narrows the stream to one device.
func (s *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.IncWSConnections()
		defer s.metrics.DecWSConnections()
	}

	deviceID := c.Query("device")
	events, unsubscribe := s.coordinator.Subscribe(deviceID)
	defer unsubscribe()

	// Reads only serve to detect the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	welcome := map[string]string{"type": "connected"}
	if deviceID != "" {
		welcome["device_id"] = deviceID
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(welcome); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		}
	}
}
