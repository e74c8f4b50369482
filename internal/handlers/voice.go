package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JVHBO/vibefid-voice/internal/models"
	"github.com/JVHBO/vibefid-voice/internal/store"
)

// JoinVoiceChannel registers an identity as present in a room's voice
// channel. Bot/CPU identities are rejected with blocked=true.
func JoinVoiceChannel(presence *store.PresenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		var req models.JoinChannelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := presence.Join(c.Request.Context(), roomID, req.Address, req.Username)
		if err != nil {
			slog.Error("voice join failed", "room", roomID, "address", req.Address, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join voice channel"})
			return
		}
		if resp.Blocked {
			c.JSON(http.StatusOK, resp)
			return
		}

		slog.Info("voice join", "room", roomID, "address", req.Address, "username", req.Username)
		c.JSON(http.StatusOK, resp)
	}
}

// LeaveVoiceChannel removes every presence record for the address, across
// all rooms.
func LeaveVoiceChannel(presence *store.PresenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		var req models.LeaveChannelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		deleted, err := presence.Leave(c.Request.Context(), roomID, req.Address)
		if err != nil {
			slog.Error("voice leave failed", "room", roomID, "address", req.Address, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave voice channel"})
			return
		}

		c.JSON(http.StatusOK, models.LeaveChannelResponse{Success: true, DeletedCount: deleted})
	}
}

// GetVoiceParticipants lists who is currently in a room's voice channel.
func GetVoiceParticipants(presence *store.PresenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		participants, err := presence.List(c.Request.Context(), roomID)
		if err != nil {
			slog.Error("list participants failed", "room", roomID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list participants"})
			return
		}
		if participants == nil {
			participants = []models.VoiceParticipant{}
		}
		c.JSON(http.StatusOK, participants)
	}
}

// ClearVoiceRoom wipes all presence records for a room. Called by the room
// layer on teardown; requires authentication.
func ClearVoiceRoom(presence *store.PresenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		removed, err := presence.ClearRoom(c.Request.Context(), roomID)
		if err != nil {
			slog.Error("clear room failed", "room", roomID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear room"})
			return
		}

		slog.Info("voice room cleared", "room", roomID, "removed", removed)
		c.JSON(http.StatusOK, gin.H{"success": true, "deletedCount": removed})
	}
}
