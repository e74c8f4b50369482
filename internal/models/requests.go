package models

import "encoding/json"

// SendSignalRequest is the request body for POST /api/voice/signals
type SendSignalRequest struct {
	RoomID    string          `json:"roomId" binding:"required"`
	Sender    string          `json:"sender" binding:"required"`
	Recipient string          `json:"recipient" binding:"required"`
	Type      SignalType      `json:"type" binding:"required"`
	Data      json.RawMessage `json:"data" binding:"required"`
}

// SendSignalResponse acknowledges a relayed signal
type SendSignalResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

// MarkProcessedRequest is the request body for POST /api/voice/signals/processed
type MarkProcessedRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// MarkProcessedResponse reports how many signals were actually flipped
type MarkProcessedResponse struct {
	Success        bool `json:"success"`
	ProcessedCount int  `json:"processedCount"`
}

// JoinChannelRequest is the request body for joining a voice channel
type JoinChannelRequest struct {
	Address  string `json:"address" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// JoinChannelResponse is the response for joining a voice channel
type JoinChannelResponse struct {
	Success bool   `json:"success"`
	Blocked bool   `json:"blocked,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// LeaveChannelRequest is the request body for leaving a voice channel
type LeaveChannelRequest struct {
	Address string `json:"address" binding:"required"`
}

// LeaveChannelResponse reports how many presence records were removed
type LeaveChannelResponse struct {
	Success      bool `json:"success"`
	DeletedCount int  `json:"deletedCount"`
}
