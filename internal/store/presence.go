package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

const (
	addrKeyPrefix   = "voice:addr:"
	roomKeyPrefix   = "voice:room:"
	roomRegistryKey = "voice:rooms"
)

// PresenceStore is the authoritative "who is in voice" registry. The record
// is keyed by address, which makes the one-session-per-identity invariant
// structural: a second join overwrites the key instead of racing a purge
// against an insert. Room sets are secondary indexes and may briefly lag;
// readers reconcile against the address key.
type PresenceStore struct {
	rdb         *redis.Client
	maxAge      time.Duration
	botPrefixes []string
}

// NewPresenceStore returns a registry that sweeps records older than maxAge
// and rejects identities matching any of botPrefixes.
func NewPresenceStore(rdb *redis.Client, maxAge time.Duration, botPrefixes []string) *PresenceStore {
	prefixes := make([]string, 0, len(botPrefixes))
	for _, p := range botPrefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &PresenceStore{rdb: rdb, maxAge: maxAge, botPrefixes: prefixes}
}

// IsBot reports whether the identity looks like an automated opponent.
// CPU opponents share the room participant list with humans but must never
// hold a voice seat.
func (p *PresenceStore) IsBot(address, username string) bool {
	address = strings.ToLower(address)
	username = strings.ToLower(username)
	for _, prefix := range p.botPrefixes {
		if strings.HasPrefix(address, prefix) || strings.HasPrefix(username, prefix) {
			return true
		}
	}
	return false
}

// Join registers (roomID, address) as in voice. Synthetic identities are
// rejected with blocked=true and no state change. A prior record for the
// address in any room is removed first: an identity is in at most one voice
// session at a time.
func (p *PresenceStore) Join(ctx context.Context, roomID, address, username string) (*models.JoinChannelResponse, error) {
	address = strings.ToLower(address)
	if p.IsBot(address, username) {
		return &models.JoinChannelResponse{Blocked: true, Reason: "synthetic identities cannot join voice"}, nil
	}

	if _, err := p.purge(ctx, address); err != nil {
		return nil, err
	}

	part := models.VoiceParticipant{
		RoomID:   roomID,
		Address:  address,
		Username: username,
		JoinedAt: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(&part)
	if err != nil {
		return nil, fmt.Errorf("marshal participant: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, addrKeyPrefix+address, payload, 0)
	pipe.SAdd(ctx, roomKeyPrefix+roomID, address)
	pipe.SAdd(ctx, roomRegistryKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store participant: %w", err)
	}

	return &models.JoinChannelResponse{Success: true}, nil
}

// Leave removes the participant record for address wherever it lives, not
// only in roomID, which also cleans up after a previous ungraceful
// disconnect. Returns the number of records deleted.
func (p *PresenceStore) Leave(ctx context.Context, roomID, address string) (int, error) {
	deleted, err := p.purge(ctx, strings.ToLower(address))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("voice leave", "room", roomID, "address", strings.ToLower(address))
	}
	return deleted, nil
}

// List returns the current participants of a room. Stale index entries
// (expired records, or addresses that moved to another room) are dropped
// from the set as a side effect.
func (p *PresenceStore) List(ctx context.Context, roomID string) ([]models.VoiceParticipant, error) {
	roomKey := roomKeyPrefix + roomID
	addrs, err := p.rdb.SMembers(ctx, roomKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read room members: %w", err)
	}

	var out []models.VoiceParticipant
	for _, addr := range addrs {
		part, err := p.get(ctx, addr)
		if err != nil || part == nil || part.RoomID != roomID {
			p.rdb.SRem(ctx, roomKey, addr)
			continue
		}
		out = append(out, *part)
	}
	return out, nil
}

// SweepStale deletes participant records older than the configured max age.
// Covers crashed clients that never called leave. Returns the number removed.
func (p *PresenceStore) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-p.maxAge).UnixMilli()

	rooms, err := p.rdb.SMembers(ctx, roomRegistryKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	removed := 0
	for _, roomID := range rooms {
		roomKey := roomKeyPrefix + roomID
		addrs, err := p.rdb.SMembers(ctx, roomKey).Result()
		if err != nil {
			slog.Warn("sweep: read room failed", "room", roomID, "err", err)
			continue
		}
		for _, addr := range addrs {
			part, err := p.get(ctx, addr)
			if err != nil {
				continue
			}
			if part == nil {
				p.rdb.SRem(ctx, roomKey, addr)
				continue
			}
			if part.JoinedAt < cutoff {
				p.rdb.Del(ctx, addrKeyPrefix+addr)
				p.rdb.SRem(ctx, roomKey, addr)
				removed++
			}
		}
		if n, err := p.rdb.SCard(ctx, roomKey).Result(); err == nil && n == 0 {
			p.rdb.SRem(ctx, roomRegistryKey, roomID)
		}
	}
	return removed, nil
}

// ClearRoom removes every participant record for a room. Room teardown hook.
func (p *PresenceStore) ClearRoom(ctx context.Context, roomID string) (int, error) {
	roomKey := roomKeyPrefix + roomID
	addrs, err := p.rdb.SMembers(ctx, roomKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read room members: %w", err)
	}

	removed := 0
	for _, addr := range addrs {
		part, err := p.get(ctx, addr)
		if err != nil {
			continue
		}
		// Only delete records that still point at this room; an address
		// that re-joined elsewhere belongs to that session now.
		if part != nil && part.RoomID == roomID {
			p.rdb.Del(ctx, addrKeyPrefix+addr)
			removed++
		}
	}
	p.rdb.Del(ctx, roomKey)
	p.rdb.SRem(ctx, roomRegistryKey, roomID)
	return removed, nil
}

func (p *PresenceStore) get(ctx context.Context, address string) (*models.VoiceParticipant, error) {
	raw, err := p.rdb.Get(ctx, addrKeyPrefix+address).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var part models.VoiceParticipant
	if err := json.Unmarshal([]byte(raw), &part); err != nil {
		return nil, err
	}
	return &part, nil
}

// purge removes the record for address and its room-set index entry.
func (p *PresenceStore) purge(ctx context.Context, address string) (int, error) {
	part, err := p.get(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("read participant: %w", err)
	}
	if part == nil {
		return 0, nil
	}
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, addrKeyPrefix+address)
	pipe.SRem(ctx, roomKeyPrefix+part.RoomID, address)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("purge participant: %w", err)
	}
	return 1, nil
}
