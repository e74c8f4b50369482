package voice

import (
	"context"
	"encoding/json"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

// Signaler is the store-and-forward relay as seen by a client. The contract
// is transport-agnostic: Poll must return unprocessed messages in creation
// order, and a push channel may replace polling without changing the peer
// manager or the pump.
type Signaler interface {
	// Send relays one message. For offers and answers the returned error is
	// load-bearing; ICE candidate callers may treat it as best effort.
	Send(ctx context.Context, roomID, sender, recipient string, typ models.SignalType, data json.RawMessage) error
	// Poll returns all unprocessed messages for (recipient, roomID),
	// ordered by non-decreasing creation time.
	Poll(ctx context.Context, recipient, roomID string) ([]models.SignalingMessage, error)
	// Acknowledge flips processed on the given ids, best effort.
	Acknowledge(ctx context.Context, ids []string) (int, error)
}

// Roster is the presence registry as seen by a client.
type Roster interface {
	JoinChannel(ctx context.Context, roomID, address, username string) (*models.JoinChannelResponse, error)
	LeaveChannel(ctx context.Context, roomID, address string) (int, error)
	Participants(ctx context.Context, roomID string) ([]models.VoiceParticipant, error)
}
