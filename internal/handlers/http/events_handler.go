package http

import (
	"net/http"
	"time"

	"viewmux/internal/core/domain"
	"viewmux/internal/infrastructure/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// EventsHandler streams session lifecycle events to websocket clients.
// An optional viewer_id query parameter narrows the feed to one viewer.
type EventsHandler struct {
	hub    *events.Hub
	logger *zap.SugaredLogger

	pingInterval time.Duration
	writeTimeout time.Duration
}

func NewEventsHandler(hub *events.Hub, logger *zap.SugaredLogger) *EventsHandler {
	return &EventsHandler{
		hub:          hub,
		logger:       logger,
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

func (h *EventsHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/api/v1/events", h.HandleWebSocket)
}

func (h *EventsHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	viewerFilter := domain.ViewerID(c.Query("viewer_id"))

	ch, unsub := h.hub.Subscribe()
	defer unsub()

	// Drain client frames so pong handling and close frames work.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if viewerFilter != "" && evt.ViewerID != viewerFilter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debugw("websocket write failed", "error", err)
				return
			}
		}
	}
}
