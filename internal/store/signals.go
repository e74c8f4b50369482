// Package store implements the Redis-backed signaling relay and voice
// presence registry. Both are plain key/value layouts: no transactional
// coordination beyond single-key atomic operations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

const (
	signalKeyPrefix    = "signal:msg:"
	mailboxKeyPrefix   = "signal:box:"
	mailboxRegistryKey = "signal:boxes"
	signalSeqKey       = "signal:seq"
	notifyKeyPrefix    = "signal:notify:"
)

// SignalStore is a durable point-to-point mailbox for connection-setup
// messages. Messages are indexed per (recipient, room) in a sorted set keyed
// by a global sequence number, so a recipient drains its mailbox in exact
// creation order; SDP negotiation breaks if an answer is applied before its
// offer.
type SignalStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSignalStore returns a store whose messages expire after ttl,
// processed or not.
func NewSignalStore(rdb *redis.Client, ttl time.Duration) *SignalStore {
	return &SignalStore{rdb: rdb, ttl: ttl}
}

func mailboxKey(recipient, roomID string) string {
	return mailboxKeyPrefix + recipient + ":" + roomID
}

// Send inserts one message addressed to recipient. There is no idempotency
// guarantee: duplicate sends create duplicate messages. ICE candidate
// duplication is harmless; offer/answer callers must not send the same
// negotiation step twice.
func (s *SignalStore) Send(ctx context.Context, roomID, sender, recipient string, typ models.SignalType, data json.RawMessage) (*models.SignalingMessage, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid signal type %q", typ)
	}

	msg := &models.SignalingMessage{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Sender:    strings.ToLower(sender),
		Recipient: strings.ToLower(recipient),
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal signal: %w", err)
	}

	// Global sequence number as the mailbox score: creation order survives
	// even when two messages land in the same millisecond.
	seq, err := s.rdb.Incr(ctx, signalSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate signal sequence: %w", err)
	}

	box := mailboxKey(msg.Recipient, roomID)
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, signalKeyPrefix+msg.ID, payload, s.ttl)
	pipe.ZAdd(ctx, box, redis.Z{Score: float64(seq), Member: msg.ID})
	pipe.SAdd(ctx, mailboxRegistryKey, box)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store signal: %w", err)
	}

	// Wake any push subscriber for this recipient. Best effort: pollers
	// see the message regardless.
	if err := s.rdb.Publish(ctx, notifyKeyPrefix+msg.Recipient, roomID).Err(); err != nil {
		slog.Warn("signal notify publish failed", "recipient", msg.Recipient, "err", err)
	}

	return msg, nil
}

// Poll returns every unprocessed message for (recipient, roomID) in creation
// order. Expired messages still referenced by the mailbox are pruned as a
// side effect.
func (s *SignalStore) Poll(ctx context.Context, recipient, roomID string) ([]models.SignalingMessage, error) {
	recipient = strings.ToLower(recipient)
	box := mailboxKey(recipient, roomID)

	ids, err := s.rdb.ZRange(ctx, box, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = signalKeyPrefix + id
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}

	var out []models.SignalingMessage
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Message expired under TTL; drop the dangling index entry.
			s.rdb.ZRem(ctx, box, ids[i])
			continue
		}
		var msg models.SignalingMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			slog.Warn("dropping undecodable signal", "id", ids[i], "err", err)
			s.rdb.ZRem(ctx, box, ids[i])
			continue
		}
		if msg.Processed {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Acknowledge flips processed=true on each id, best effort: a failure on one
// id is logged and skipped, never fatal to the batch. Returns the number of
// messages actually flipped.
func (s *SignalStore) Acknowledge(ctx context.Context, ids []string) int {
	count := 0
	for _, id := range ids {
		key := signalKeyPrefix + id
		raw, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			slog.Warn("acknowledge: signal not found", "id", id, "err", err)
			continue
		}
		var msg models.SignalingMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			slog.Warn("acknowledge: undecodable signal", "id", id, "err", err)
			continue
		}
		msg.Processed = true
		payload, err := json.Marshal(&msg)
		if err != nil {
			slog.Warn("acknowledge: marshal failed", "id", id, "err", err)
			continue
		}
		if err := s.rdb.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
			slog.Warn("acknowledge: write failed", "id", id, "err", err)
			continue
		}
		count++
	}
	return count
}

// Sweep deletes every message older than the store TTL, processed or not,
// so mailboxes of peers that never came back do not accumulate. Returns the
// number of messages removed.
func (s *SignalStore) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl).UnixMilli()

	boxes, err := s.rdb.SMembers(ctx, mailboxRegistryKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list mailboxes: %w", err)
	}

	removed := 0
	for _, box := range boxes {
		ids, err := s.rdb.ZRange(ctx, box, 0, -1).Result()
		if err != nil {
			slog.Warn("sweep: read mailbox failed", "mailbox", box, "err", err)
			continue
		}
		for _, id := range ids {
			key := signalKeyPrefix + id
			raw, err := s.rdb.Get(ctx, key).Result()
			if err == nil {
				var msg models.SignalingMessage
				if json.Unmarshal([]byte(raw), &msg) == nil && msg.Timestamp > cutoff {
					continue
				}
			}
			// Older than TTL, already expired, or unreadable: delete.
			s.rdb.Del(ctx, key)
			s.rdb.ZRem(ctx, box, id)
			removed++
		}
		if n, err := s.rdb.ZCard(ctx, box).Result(); err == nil && n == 0 {
			s.rdb.SRem(ctx, mailboxRegistryKey, box)
		}
	}
	return removed, nil
}

// Subscribe returns a pub/sub subscription that fires whenever a new message
// is stored for recipient. Used by the push delivery path; the payload is the
// room id, but subscribers are expected to re-poll rather than trust it.
func (s *SignalStore) Subscribe(ctx context.Context, recipient string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, notifyKeyPrefix+strings.ToLower(recipient))
}
