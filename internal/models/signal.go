package models

import "encoding/json"

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeICECandidate SignalType = "ice-candidate"
)

// Valid reports whether t is one of the three relayable signal types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeICECandidate:
		return true
	}
	return false
}

// SignalingMessage is one store-and-forward mailbox entry. The relay never
// inspects Data; it is an opaque SDP or ICE blob produced by the sender's
// peer connection and consumed by the recipient's.
type SignalingMessage struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Type      SignalType      `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix ms
	Processed bool            `json:"processed"`
}
