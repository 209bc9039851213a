package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ressKim-io/leafscan/internal/usecase"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StateMessage is pushed to the page on every state transition
type StateMessage struct {
	Type      string              `json:"type"`
	View      *usecase.ViewOutput `json:"view"`
	Timestamp int64               `json:"timestamp"`
}

// StateSocketHandler streams session state over a websocket
type StateSocketHandler struct {
	uploadUC usecase.UploadUsecase
	cookie   SessionCookie
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStateSocketHandler creates a new state socket handler
func NewStateSocketHandler(uploadUC usecase.UploadUsecase, cookie SessionCookie, logger *zap.Logger) *StateSocketHandler {
	return &StateSocketHandler{
		uploadUC: uploadUC,
		cookie:   cookie,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
	}
}

// Serve handles GET /ws
func (h *StateSocketHandler) Serve(c *gin.Context) {
	sessionID, err := c.Cookie(h.cookie.Name)
	if err != nil || sessionID == "" {
		HandleUsecaseError(c, usecase.ErrSessionNotFound)
		return
	}

	updates, stop, err := h.uploadUC.Watch(c.Request.Context(), sessionID)
	if err != nil {
		HandleUsecaseError(c, err)
		return
	}
	defer stop()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Warn("Websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("State socket connected", zap.String("session_id", sessionID))

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case view, ok := <-updates:
			if !ok {
				return
			}
			msg := StateMessage{Type: "state", View: view, Timestamp: time.Now().UnixMilli()}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("State socket write failed", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.logger.Debug("State socket disconnected", zap.String("session_id", sessionID))
			return
		}
	}
}

// readLoop drains client frames so control messages are processed and
// reports when the peer goes away.
func (h *StateSocketHandler) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("State socket read error", zap.Error(err))
			}
			return
		}
	}
}
