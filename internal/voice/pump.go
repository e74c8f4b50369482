package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

// SignalPump drains the relay mailbox for the local identity and applies
// each message to the peer manager, strictly sequentially: SDP negotiation
// is order-sensitive, so no two messages are ever applied concurrently,
// regardless of sender. A failure applying one message is logged, the rest
// of the batch still runs, and the whole batch is acknowledged in one call,
// so a malformed message is dropped rather than retried forever.
type SignalPump struct {
	signaler Signaler
	apply    func(ctx context.Context, msg models.SignalingMessage) error
	self     string
	roomID   string
	interval time.Duration
	wake     chan struct{}
}

// NewSignalPump polls every interval; Wake forces an immediate drain
// (driven by the push subscriber).
func NewSignalPump(signaler Signaler, self, roomID string, interval time.Duration, apply func(ctx context.Context, msg models.SignalingMessage) error) *SignalPump {
	if interval <= 0 {
		interval = time.Second
	}
	return &SignalPump{
		signaler: signaler,
		apply:    apply,
		self:     self,
		roomID:   roomID,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Wake requests an immediate drain. Non-blocking; coalesces with a pending
// wakeup.
func (p *SignalPump) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drains until ctx is cancelled.
func (p *SignalPump) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// Drain polls once and applies the batch in order. Returns the number of
// messages applied without error.
func (p *SignalPump) Drain(ctx context.Context) int {
	msgs, err := p.signaler.Poll(ctx, p.self, p.roomID)
	if err != nil {
		slog.Warn("signal poll failed", "room", p.roomID, "err", err)
		return 0
	}
	if len(msgs) == 0 {
		return 0
	}

	applied := 0
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		if err := p.apply(ctx, msg); err != nil {
			slog.Warn("signal apply failed", "type", msg.Type, "sender", msg.Sender, "err", err)
			continue
		}
		applied++
	}

	if _, err := p.signaler.Acknowledge(ctx, ids); err != nil {
		slog.Warn("signal acknowledge failed", "room", p.roomID, "err", err)
	}
	return applied
}
