package voice

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

func newTestTrack(t *testing.T) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: 2},
		"audio", "test",
	)
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	return track
}

func newTestManager(t *testing.T, relay *memRelay, self string) *PeerManager {
	t.Helper()
	pm := NewPeerManager(PeerManagerConfig{
		Self:       self,
		RoomID:     "room1",
		Signaler:   relay,
		Mixer:      NewMixer(nil),
		LocalTrack: newTestTrack(t),
	})
	t.Cleanup(pm.CloseAll)
	return pm
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenIdempotent(t *testing.T) {
	ctx := context.Background()
	pm := newTestManager(t, newMemRelay(), "0xbbb")

	link1, err := pm.Open(ctx, "0xaaa", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	link2, err := pm.Open(ctx, "0xaaa", true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if link1 != link2 {
		t.Fatal("duplicate open created a second connection")
	}
}

func TestInitiatorRelaysOffer(t *testing.T) {
	ctx := context.Background()
	relay := newMemRelay()
	pm := newTestManager(t, relay, "0xbbb")

	if _, err := pm.Open(ctx, "0xaaa", true); err != nil {
		t.Fatalf("open: %v", err)
	}

	offers := relay.pendingOfType("0xaaa", models.SignalTypeOffer)
	if len(offers) != 1 {
		t.Fatalf("relay holds %d offers for 0xaaa, want 1", len(offers))
	}
	if offers[0].Sender != "0xbbb" {
		t.Fatalf("offer sender = %s", offers[0].Sender)
	}
}

func TestAnswerWithoutConnectionIsAnomalous(t *testing.T) {
	pm := newTestManager(t, newMemRelay(), "0xbbb")

	err := pm.Apply(context.Background(), models.SignalingMessage{
		Sender: "0xzzz",
		Type:   models.SignalTypeAnswer,
		Data:   []byte(`{"type":"answer","sdp":""}`),
	})
	if err == nil {
		t.Fatal("expected error for answer with no open connection")
	}
}

func TestEarlyCandidateQueuedAndFlushed(t *testing.T) {
	ctx := context.Background()
	relay := newMemRelay()
	pmB := newTestManager(t, relay, "0xbbb")
	pmA := newTestManager(t, relay, "0xaaa")

	// B initiates; its offer and trickled candidates land in A's mailbox.
	if _, err := pmB.Open(ctx, "0xaaa", true); err != nil {
		t.Fatalf("open initiator: %v", err)
	}
	waitFor(t, 5*time.Second, "a trickled candidate", func() bool {
		return len(relay.pendingOfType("0xaaa", models.SignalTypeICECandidate)) > 0
	})

	// A has an open connection but no remote description yet.
	link, err := pmA.Open(ctx, "0xbbb", false)
	if err != nil {
		t.Fatalf("open non-initiator: %v", err)
	}

	// Candidate delivered ahead of the offer must be queued, not applied.
	cand := relay.pendingOfType("0xaaa", models.SignalTypeICECandidate)[0]
	if err := pmA.Apply(ctx, cand); err != nil {
		t.Fatalf("apply early candidate: %v", err)
	}
	link.mu.Lock()
	queued := len(link.pending)
	link.mu.Unlock()
	if queued != 1 {
		t.Fatalf("pending queue length = %d, want 1", queued)
	}

	// The offer flushes the queue and produces an answer.
	offer := relay.pendingOfType("0xaaa", models.SignalTypeOffer)[0]
	if err := pmA.Apply(ctx, offer); err != nil {
		t.Fatalf("apply offer: %v", err)
	}

	link.mu.Lock()
	queued = len(link.pending)
	descSet := link.remoteDescSet
	link.mu.Unlock()
	if queued != 0 || !descSet {
		t.Fatalf("after offer: pending=%d descSet=%v", queued, descSet)
	}
	if len(relay.pendingOfType("0xbbb", models.SignalTypeAnswer)) != 1 {
		t.Fatal("no answer relayed back to the initiator")
	}
}

func TestOfferRelayFailureIsEscalated(t *testing.T) {
	ctx := context.Background()
	relay := newMemRelay()
	relay.failTypes[models.SignalTypeOffer] = true
	pm := newTestManager(t, relay, "0xbbb")

	if _, err := pm.Open(ctx, "0xaaa", true); err == nil {
		t.Fatal("offer relay failure must be returned, not swallowed")
	}
	if pm.Has("0xaaa") {
		t.Fatal("failed initiator link should be torn down")
	}
}
