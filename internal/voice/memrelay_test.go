package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

// memRelay is an in-memory stand-in for the backend: same send/poll/
// acknowledge contract, same presence semantics, no network.
type memRelay struct {
	mu           sync.Mutex
	msgs         []*models.SignalingMessage
	seq          int
	participants map[string]models.VoiceParticipant
	failTypes    map[models.SignalType]bool
}

func newMemRelay() *memRelay {
	return &memRelay{
		participants: make(map[string]models.VoiceParticipant),
		failTypes:    make(map[models.SignalType]bool),
	}
}

func (m *memRelay) Send(ctx context.Context, roomID, sender, recipient string, typ models.SignalType, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTypes[typ] {
		return fmt.Errorf("relay down for %s", typ)
	}
	m.seq++
	m.msgs = append(m.msgs, &models.SignalingMessage{
		ID:        fmt.Sprintf("m%d", m.seq),
		RoomID:    roomID,
		Sender:    strings.ToLower(sender),
		Recipient: strings.ToLower(recipient),
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

func (m *memRelay) Poll(ctx context.Context, recipient, roomID string) ([]models.SignalingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient = strings.ToLower(recipient)
	var out []models.SignalingMessage
	for _, msg := range m.msgs {
		if !msg.Processed && msg.Recipient == recipient && msg.RoomID == roomID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memRelay) Acknowledge(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, id := range ids {
		for _, msg := range m.msgs {
			if msg.ID == id && !msg.Processed {
				msg.Processed = true
				count++
			}
		}
	}
	return count, nil
}

func (m *memRelay) JoinChannel(ctx context.Context, roomID, address, username string) (*models.JoinChannelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	address = strings.ToLower(address)
	lower := strings.ToLower(username)
	if strings.HasPrefix(address, "cpu") || strings.HasPrefix(lower, "cpu") {
		return &models.JoinChannelResponse{Blocked: true, Reason: "synthetic identities cannot join voice"}, nil
	}
	m.participants[address] = models.VoiceParticipant{
		RoomID: roomID, Address: address, Username: username, JoinedAt: time.Now().UnixMilli(),
	}
	return &models.JoinChannelResponse{Success: true}, nil
}

func (m *memRelay) LeaveChannel(ctx context.Context, roomID, address string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	address = strings.ToLower(address)
	if _, ok := m.participants[address]; !ok {
		return 0, nil
	}
	delete(m.participants, address)
	return 1, nil
}

func (m *memRelay) Participants(ctx context.Context, roomID string) ([]models.VoiceParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VoiceParticipant
	for _, p := range m.participants {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	return out, nil
}

// sawType reports whether any message of the given type was ever addressed
// to recipient, processed or not.
func (m *memRelay) sawType(recipient string, typ models.SignalType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.Recipient == recipient && msg.Type == typ {
			return true
		}
	}
	return false
}

// pendingOfType returns unprocessed messages of one type addressed to
// recipient, for assertions.
func (m *memRelay) pendingOfType(recipient string, typ models.SignalType) []models.SignalingMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SignalingMessage
	for _, msg := range m.msgs {
		if !msg.Processed && msg.Recipient == recipient && msg.Type == typ {
			out = append(out, *msg)
		}
	}
	return out
}
