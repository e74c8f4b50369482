package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Participant is an (address, username) pair supplied by the room layer.
// Both are opaque; the session only lowercases addresses.
type Participant struct {
	Address  string
	Username string
}

// UserState is the reactive per-user view consumed by the UI.
type UserState struct {
	Address   string
	Username  string
	Speaking  bool
	MutedByMe bool
	Volume    int
}

// State is a point-in-time snapshot of the session for the UI layer.
type State struct {
	IsConnected bool
	IsMuted     bool
	InChannel   bool
	Users       []UserState
	Err         string
}

// SessionConfig wires a session to its collaborators. Signaler/Roster are
// usually one RelayClient; tests substitute in-memory fakes.
type SessionConfig struct {
	RoomID   string
	Address  string
	Username string

	Signaler   Signaler
	Roster     Roster
	Device     CaptureDevice
	Authorizer HostAuthorizer
	Playback   PlaybackSink

	STUN         []string
	PollInterval time.Duration
	// PushURL, when set, is the backend base URL used to open the
	// WebSocket wakeup subscription alongside polling.
	PushURL string
}

// Session is one client's membership in a room's voice channel. It owns the
// local media stream, every peer link, and every audio sink for the lifetime
// of the join; it is constructed on join and torn down on leave, never
// shared across sessions.
type Session struct {
	cfg     SessionConfig
	self    string
	media   *MediaController
	mixer   *Mixer
	peers   *PeerManager
	pump    *SignalPump
	cancel  context.CancelFunc
	stopped sync.WaitGroup

	mu        sync.Mutex
	inChannel bool
	roster    map[string]string // address -> username
	linkUp    map[string]bool
	errMsg    string
}

// NewSession builds a session; no I/O happens until JoinChannel.
func NewSession(cfg SessionConfig) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Session{
		cfg:    cfg,
		self:   strings.ToLower(cfg.Address),
		media:  NewMediaController(cfg.Device, cfg.Authorizer),
		mixer:  NewMixer(cfg.Playback),
		roster: make(map[string]string),
		linkUp: make(map[string]bool),
	}
}

// JoinChannel acquires the microphone, registers presence, opens a link
// toward every participant this side initiates for, and starts the signal
// pump. Join-time failures populate the visible error and leave no session
// state behind.
func (s *Session) JoinChannel(ctx context.Context, participants []Participant) error {
	s.mu.Lock()
	if s.inChannel {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.media.Acquire(ctx); err != nil {
		s.setError(userMessage(err))
		return err
	}

	resp, err := s.cfg.Roster.JoinChannel(ctx, s.cfg.RoomID, s.self, s.cfg.Username)
	if err != nil {
		s.media.Release()
		s.setError("could not join voice channel")
		return err
	}
	if resp.Blocked {
		s.media.Release()
		s.setError(resp.Reason)
		return fmt.Errorf("voice join blocked: %s", resp.Reason)
	}

	s.peers = NewPeerManager(PeerManagerConfig{
		Self:       s.self,
		RoomID:     s.cfg.RoomID,
		Signaler:   s.cfg.Signaler,
		Mixer:      s.mixer,
		LocalTrack: s.media.Track(),
		STUN:       s.cfg.STUN,
		OnLinkUp:   s.markLinkUp,
		OnLinkDown: s.markLinkDown,
	})
	s.pump = NewSignalPump(s.cfg.Signaler, s.self, s.cfg.RoomID, s.cfg.PollInterval, s.peers.Apply)

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.inChannel = true
	s.errMsg = ""
	s.cancel = cancel
	for _, p := range participants {
		addr := strings.ToLower(p.Address)
		if addr == s.self {
			continue
		}
		s.roster[addr] = p.Username
	}
	remotes := make([]string, 0, len(s.roster))
	for addr := range s.roster {
		remotes = append(remotes, addr)
	}
	s.mu.Unlock()

	// Exactly one side of each pair initiates; the other opens its
	// connection when the offer arrives through the pump.
	for _, remote := range remotes {
		if !ShouldInitiate(s.self, remote) {
			continue
		}
		if _, err := s.peers.Open(ctx, remote, true); err != nil {
			// One unreachable peer degrades that link only.
			slog.Warn("initiating peer link failed", "remote", remote, "err", err)
		}
	}

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		s.pump.Run(runCtx)
	}()

	if s.cfg.PushURL != "" {
		sub := NewSubscriber(s.cfg.PushURL, s.cfg.RoomID, s.self, s.pump.Wake)
		s.stopped.Add(1)
		go func() {
			defer s.stopped.Done()
			sub.Run(runCtx)
		}()
	}

	return nil
}

// LeaveChannel tears everything down: pump, peer links, audio sinks,
// presence record, microphone. Safe to call when not in a channel.
func (s *Session) LeaveChannel(ctx context.Context) error {
	s.mu.Lock()
	if !s.inChannel {
		s.mu.Unlock()
		return nil
	}
	s.inChannel = false
	cancel := s.cancel
	s.cancel = nil
	s.roster = make(map[string]string)
	s.linkUp = make(map[string]bool)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.stopped.Wait()

	s.peers.CloseAll()
	s.media.Release()

	if _, err := s.cfg.Roster.LeaveChannel(ctx, s.cfg.RoomID, s.self); err != nil {
		// The presence sweep will reap the record eventually.
		slog.Warn("presence leave failed", "room", s.cfg.RoomID, "err", err)
		return err
	}
	return nil
}

// ToggleMute flips the outbound mute flag and returns the new state. Cheap:
// no renegotiation, no track stop.
func (s *Session) ToggleMute() bool {
	return s.media.ToggleMute()
}

// ToggleUserMute flips the local-only mute for one remote user.
func (s *Session) ToggleUserMute(address string) bool {
	return s.mixer.ToggleUserMute(strings.ToLower(address))
}

// SetUserVolume stores a 0..100 volume preference for one remote user.
func (s *Session) SetUserVolume(address string, volume int) {
	s.mixer.SetUserVolume(strings.ToLower(address), volume)
}

// State snapshots the session for rendering.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]UserState, 0, len(s.roster))
	for addr, username := range s.roster {
		volume, muted, speaking := s.mixer.UserState(addr)
		users = append(users, UserState{
			Address:   addr,
			Username:  username,
			Speaking:  speaking,
			MutedByMe: muted,
			Volume:    volume,
		})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Address < users[j].Address })

	connected := false
	for _, up := range s.linkUp {
		if up {
			connected = true
			break
		}
	}
	// Alone in the channel still counts as connected: there is nobody to
	// hold a link with.
	if s.inChannel && len(s.roster) == 0 {
		connected = true
	}

	return State{
		IsConnected: connected,
		IsMuted:     s.media.Muted(),
		InChannel:   s.inChannel,
		Users:       users,
		Err:         s.errMsg,
	}
}

func (s *Session) markLinkUp(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkUp[remote] = true
}

// markLinkDown drops the peer from the visible list: mid-session per-peer
// failure is silent, the rest of the mesh stays up.
func (s *Session) markLinkDown(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.linkUp, remote)
	delete(s.roster, remote)
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
}

// userMessage maps the acquire failure taxonomy to the short strings the UI
// shows.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "microphone permission denied"
	case errors.Is(err, ErrEnvironmentUnsupported):
		return "voice chat is not available here"
	default:
		return "could not start voice"
	}
}
