package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/JVHBO/vibefid-voice/internal/models"
)

// PeerLink is the client-local state for one remote participant: the
// connection itself plus the queue of ICE candidates that arrived before the
// remote description was set. Owned exclusively by this session's manager;
// destroyed on disconnect, failure, or leave.
type PeerLink struct {
	remote string
	pc     *webrtc.PeerConnection

	mu            sync.Mutex
	pending       []webrtc.ICECandidateInit
	remoteDescSet bool
}

// PeerManager owns one direct connection per remote participant and runs the
// negotiation state machine against the signaling relay.
type PeerManager struct {
	self     string
	roomID   string
	signaler Signaler
	mixer    *Mixer
	track    webrtc.TrackLocal
	stun     []string

	onLinkUp   func(remote string)
	onLinkDown func(remote string)

	mu    sync.Mutex
	links map[string]*PeerLink
}

// PeerManagerConfig collects the collaborators a manager needs.
type PeerManagerConfig struct {
	Self       string
	RoomID     string
	Signaler   Signaler
	Mixer      *Mixer
	LocalTrack webrtc.TrackLocal
	STUN       []string
	OnLinkUp   func(remote string)
	OnLinkDown func(remote string)
}

func NewPeerManager(cfg PeerManagerConfig) *PeerManager {
	return &PeerManager{
		self:       cfg.Self,
		roomID:     cfg.RoomID,
		signaler:   cfg.Signaler,
		mixer:      cfg.Mixer,
		track:      cfg.LocalTrack,
		stun:       cfg.STUN,
		onLinkUp:   cfg.OnLinkUp,
		onLinkDown: cfg.OnLinkDown,
		links:      make(map[string]*PeerLink),
	}
}

// Open returns the link for remote, creating it if needed. Idempotent:
// duplicate join triggers get the existing link unchanged. When isInitiator
// is set on a new link, the offer is created, applied locally, and relayed
// before Open returns; an offer that cannot be relayed is a hard error.
func (pm *PeerManager) Open(ctx context.Context, remote string, isInitiator bool) (*PeerLink, error) {
	pm.mu.Lock()
	if link, ok := pm.links[remote]; ok {
		pm.mu.Unlock()
		return link, nil
	}
	pm.mu.Unlock()

	pc, err := pm.newPeerConnection(remote)
	if err != nil {
		return nil, fmt.Errorf("create peer connection for %s: %w", remote, err)
	}

	link := &PeerLink{remote: remote, pc: pc}

	pm.mu.Lock()
	if existing, ok := pm.links[remote]; ok {
		// Lost a race with another open for the same remote.
		pm.mu.Unlock()
		pc.Close()
		return existing, nil
	}
	pm.links[remote] = link
	pm.mu.Unlock()

	if isInitiator {
		if err := pm.sendOffer(ctx, link); err != nil {
			pm.teardown(remote)
			return nil, err
		}
	}
	return link, nil
}

func (pm *PeerManager) newPeerConnection(remote string) (*webrtc.PeerConnection, error) {
	var cfg webrtc.Configuration
	if len(pm.stun) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: pm.stun}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	if pm.track != nil {
		if _, err := pc.AddTrack(pm.track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach local track: %w", err)
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		pm.mixer.BindTrack(remote, track)
	})

	// Trickle ICE: every local candidate is relayed immediately. A lost
	// candidate only narrows the path choices, so failures are not fatal.
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := pm.signaler.Send(context.Background(), pm.roomID, pm.self, remote, models.SignalTypeICECandidate, data); err != nil {
			slog.Warn("ice candidate relay failed", "remote", remote, "err", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			slog.Info("peer link up", "remote", remote)
			if pm.onLinkUp != nil {
				pm.onLinkUp(remote)
			}
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			// No in-place retry: the link is discarded and the only
			// recovery path is a fresh join cycle.
			slog.Warn("peer link lost", "remote", remote, "state", state.String())
			go pm.teardown(remote)
		}
	})

	return pc, nil
}

func (pm *PeerManager) sendOffer(ctx context.Context, link *PeerLink) error {
	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", link.remote, err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer for %s: %w", link.remote, err)
	}
	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer for %s: %w", link.remote, err)
	}
	if err := pm.signaler.Send(ctx, pm.roomID, pm.self, link.remote, models.SignalTypeOffer, data); err != nil {
		return fmt.Errorf("relay offer to %s: %w", link.remote, err)
	}
	return nil
}

// Apply dispatches one inbound signaling message. Called by the pump,
// strictly one message at a time.
func (pm *PeerManager) Apply(ctx context.Context, msg models.SignalingMessage) error {
	switch msg.Type {
	case models.SignalTypeOffer:
		return pm.handleOffer(ctx, msg.Sender, msg.Data)
	case models.SignalTypeAnswer:
		return pm.handleAnswer(msg.Sender, msg.Data)
	case models.SignalTypeICECandidate:
		return pm.handleCandidate(msg.Sender, msg.Data)
	default:
		return fmt.Errorf("unknown signal type %q from %s", msg.Type, msg.Sender)
	}
}

// handleOffer opens a non-initiator link on demand, applies the remote
// offer, and relays the answer back. An answer that cannot be relayed is
// escalated to the caller.
func (pm *PeerManager) handleOffer(ctx context.Context, sender string, data json.RawMessage) error {
	link, err := pm.Open(ctx, sender, false)
	if err != nil {
		return err
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return fmt.Errorf("decode offer from %s: %w", sender, err)
	}
	if err := pm.setRemoteDescription(link, offer); err != nil {
		return fmt.Errorf("apply offer from %s: %w", sender, err)
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", sender, err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer for %s: %w", sender, err)
	}
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer for %s: %w", sender, err)
	}
	if err := pm.signaler.Send(ctx, pm.roomID, pm.self, sender, models.SignalTypeAnswer, payload); err != nil {
		return fmt.Errorf("relay answer to %s: %w", sender, err)
	}
	return nil
}

func (pm *PeerManager) handleAnswer(sender string, data json.RawMessage) error {
	link := pm.link(sender)
	if link == nil {
		// Anomalous: an answer implies we sent an offer first.
		return fmt.Errorf("answer from %s with no open connection", sender)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return fmt.Errorf("decode answer from %s: %w", sender, err)
	}
	if err := pm.setRemoteDescription(link, answer); err != nil {
		return fmt.Errorf("apply answer from %s: %w", sender, err)
	}
	return nil
}

// handleCandidate applies a remote ICE candidate. A candidate can outrun
// the offer/answer that establishes the remote description; such candidates
// are queued per peer and flushed right after the description is set.
func (pm *PeerManager) handleCandidate(sender string, data json.RawMessage) error {
	link := pm.link(sender)
	if link == nil {
		return fmt.Errorf("ice candidate from %s with no open connection", sender)
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &init); err != nil {
		return fmt.Errorf("decode candidate from %s: %w", sender, err)
	}

	link.mu.Lock()
	if !link.remoteDescSet {
		link.pending = append(link.pending, init)
		link.mu.Unlock()
		return nil
	}
	link.mu.Unlock()

	if err := link.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate from %s: %w", sender, err)
	}
	return nil
}

// setRemoteDescription applies the description and flushes any candidates
// queued while it was missing.
func (pm *PeerManager) setRemoteDescription(link *PeerLink, desc webrtc.SessionDescription) error {
	if err := link.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	link.mu.Lock()
	pending := link.pending
	link.pending = nil
	link.remoteDescSet = true
	link.mu.Unlock()

	for _, init := range pending {
		if err := link.pc.AddICECandidate(init); err != nil {
			slog.Warn("flush queued candidate failed", "remote", link.remote, "err", err)
		}
	}
	return nil
}

// Link returns the open link for remote, or nil.
func (pm *PeerManager) link(remote string) *PeerLink {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.links[remote]
}

// Has reports whether a link exists for remote.
func (pm *PeerManager) Has(remote string) bool {
	return pm.link(remote) != nil
}

// teardown closes one link and releases its audio sink. Other links are
// untouched: per-peer failure degrades just that peer.
func (pm *PeerManager) teardown(remote string) {
	pm.mu.Lock()
	link, ok := pm.links[remote]
	if ok {
		delete(pm.links, remote)
	}
	pm.mu.Unlock()
	if !ok {
		return
	}

	link.pc.Close()
	pm.mixer.Release(remote)
	if pm.onLinkDown != nil {
		pm.onLinkDown(remote)
	}
}

// CloseAll closes every connection, releases every audio sink, and clears
// the link map.
func (pm *PeerManager) CloseAll() {
	pm.mu.Lock()
	links := pm.links
	pm.links = make(map[string]*PeerLink)
	pm.mu.Unlock()

	for remote, link := range links {
		link.pc.Close()
		pm.mixer.Release(remote)
	}
}
