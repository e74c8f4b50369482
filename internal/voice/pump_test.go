package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

func TestDrainAppliesInOrderAndAcksWholeBatch(t *testing.T) {
	ctx := context.Background()
	relay := newMemRelay()

	relay.Send(ctx, "room1", "0xbbb", "0xaaa", models.SignalTypeOffer, json.RawMessage(`{"n":1}`))
	relay.Send(ctx, "room1", "0xbbb", "0xaaa", models.SignalTypeICECandidate, json.RawMessage(`{"n":2}`))
	relay.Send(ctx, "room1", "0xccc", "0xaaa", models.SignalTypeOffer, json.RawMessage(`{"n":3}`))

	var applied []int
	pump := NewSignalPump(relay, "0xaaa", "room1", 0, func(ctx context.Context, msg models.SignalingMessage) error {
		var body struct{ N int }
		json.Unmarshal(msg.Data, &body)
		applied = append(applied, body.N)
		return nil
	})

	if n := pump.Drain(ctx); n != 3 {
		t.Fatalf("applied %d, want 3", n)
	}
	for i, n := range applied {
		if n != i+1 {
			t.Fatalf("application order broken: %v", applied)
		}
	}

	remaining, _ := relay.Poll(ctx, "0xaaa", "room1")
	if len(remaining) != 0 {
		t.Fatalf("batch not fully acknowledged: %d left", len(remaining))
	}
}

func TestDrainAcksFailedMessages(t *testing.T) {
	ctx := context.Background()
	relay := newMemRelay()

	relay.Send(ctx, "room1", "0xbbb", "0xaaa", models.SignalTypeOffer, json.RawMessage(`{"bad":true}`))
	relay.Send(ctx, "room1", "0xbbb", "0xaaa", models.SignalTypeAnswer, json.RawMessage(`{}`))

	applied := 0
	pump := NewSignalPump(relay, "0xaaa", "room1", 0, func(ctx context.Context, msg models.SignalingMessage) error {
		if msg.Type == models.SignalTypeOffer {
			return fmt.Errorf("malformed offer")
		}
		applied++
		return nil
	})

	if n := pump.Drain(ctx); n != 1 {
		t.Fatalf("applied %d, want 1", n)
	}
	if applied != 1 {
		t.Fatalf("good message not applied")
	}

	// The poisoned message must be acknowledged too, so it is dropped
	// rather than retried forever.
	remaining, _ := relay.Poll(ctx, "0xaaa", "room1")
	if len(remaining) != 0 {
		t.Fatalf("failed message still pending: %d left", len(remaining))
	}
}

func TestDrainEmptyMailbox(t *testing.T) {
	pump := NewSignalPump(newMemRelay(), "0xaaa", "room1", 0, func(ctx context.Context, msg models.SignalingMessage) error {
		t.Fatal("apply called with empty mailbox")
		return nil
	})
	if n := pump.Drain(context.Background()); n != 0 {
		t.Fatalf("applied %d, want 0", n)
	}
}
