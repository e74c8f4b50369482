// Package handlers exposes the voice subsystem's RPC surface over gin:
// the signaling relay, the presence registry, and the WebSocket push
// channel for inbound signals.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JVHBO/vibefid-voice/internal/models"
	"github.com/JVHBO/vibefid-voice/internal/store"
)

// SendSignal relays one offer/answer/ice-candidate message to a recipient's
// mailbox.
func SendSignal(signals *store.SignalStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SendSignalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal type"})
			return
		}

		msg, err := signals.Send(c.Request.Context(), req.RoomID, req.Sender, req.Recipient, req.Type, req.Data)
		if err != nil {
			slog.Error("send signal failed", "room", req.RoomID, "type", req.Type, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store signal"})
			return
		}

		c.JSON(http.StatusOK, models.SendSignalResponse{Success: true, ID: msg.ID})
	}
}

// GetSignals returns every unprocessed message for (recipient, roomId) in
// creation order.
func GetSignals(signals *store.SignalStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		recipient := c.Query("recipient")
		roomID := c.Query("roomId")
		if recipient == "" || roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "recipient and roomId are required"})
			return
		}

		msgs, err := signals.Poll(c.Request.Context(), recipient, roomID)
		if err != nil {
			slog.Error("poll signals failed", "recipient", recipient, "room", roomID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read signals"})
			return
		}
		if msgs == nil {
			msgs = []models.SignalingMessage{}
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// MarkSignalsProcessed flips processed=true on a batch of signal ids.
// Per-id failures are skipped, not fatal.
func MarkSignalsProcessed(signals *store.SignalStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.MarkProcessedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count := signals.Acknowledge(c.Request.Context(), req.IDs)
		c.JSON(http.StatusOK, models.MarkProcessedResponse{Success: true, ProcessedCount: count})
	}
}
