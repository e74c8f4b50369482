package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/JVHBO/vibefid-voice/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	// Fallback re-poll period when no pub/sub wakeup arrives. The push is a
	// latency optimization; correctness rests on polling the mailbox.
	repollInterval = 5 * time.Second
)

// SubscribeSignals upgrades to a WebSocket and pushes the recipient's
// unprocessed mailbox whenever new signals arrive. Each frame is the full
// ordered batch from a fresh poll, so the subscriber applies messages in
// creation order and acknowledges them out of band.
func SubscribeSignals(signals *store.SignalStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		recipient := c.Query("address")
		if recipient == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "err", err)
			return
		}

		ctx := c.Request.Context()
		sub := signals.Subscribe(ctx, recipient)
		defer sub.Close()
		defer conn.Close()

		// Reader: pong handling and close detection only; subscribers do
		// not send application data on this socket.
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				conn.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		push := func() bool {
			msgs, err := signals.Poll(ctx, recipient, roomID)
			if err != nil {
				slog.Warn("subscriber poll failed", "recipient", recipient, "room", roomID, "err", err)
				return true
			}
			if len(msgs) == 0 {
				return true
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msgs); err != nil {
				slog.Warn("subscriber push failed", "recipient", recipient, "err", err)
				return false
			}
			return true
		}

		// Initial drain so a late subscriber sees pending signals at once.
		if !push() {
			return
		}

		pingTicker := time.NewTicker(pingInterval)
		repollTicker := time.NewTicker(repollInterval)
		defer pingTicker.Stop()
		defer repollTicker.Stop()

		wakeups := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-wakeups:
				if !ok {
					return
				}
				if !push() {
					return
				}
			case <-repollTicker.C:
				if !push() {
					return
				}
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
