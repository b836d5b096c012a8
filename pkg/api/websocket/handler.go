package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriber replays a run's events and tails new ones
type Subscriber interface {
	Subscribe(ctx context.Context, runID string, afterSeq int64) (<-chan domain.RunEvent, error)
}

// Handler handles WebSocket connections
type Handler struct {
	runs   Subscriber
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(runs Subscriber, logger *zap.Logger) *Handler {
	return &Handler{
		runs:   runs,
		logger: logger,
	}
}

// HandleRunStream streams a run's events as JSON text messages, starting
// after the optional ?after= sequence number. The connection is closed
// normally once the run's log is complete.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	var after int64
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "INVALID_REQUEST", "message": "after must be a non-negative integer"}})
			return
		}
		after = n
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.runs.Subscribe(ctx, runID, after)
	if err != nil {
		if domain.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
			return
		}
		h.logger.Error("failed to subscribe", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "INTERNAL_ERROR", "message": "internal error"}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.Int64("after", after),
		zap.String("client", c.ClientIP()))

	// the client only sends control frames; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range events {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Warn("failed to write event",
					zap.String("run_id", runID),
					zap.Error(err))
			}
			return
		}
	}

	if ctx.Err() == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run event log complete"),
			time.Now().Add(writeWait))
	}
}
