package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"
)

// PlaybackSink receives decoded, gain-adjusted PCM for one remote user.
// The embedder supplies a device-backed sink; headless clients discard.
type PlaybackSink interface {
	Play(address string, pcm []int16)
}

// Speaking detection: per-frame mean absolute amplitude against a fixed
// threshold, with hangover frames so the indicator does not flicker between
// words. Advisory UI state only; never gates audio output.
const (
	speakingThreshold = 1200
	hangoverFrames    = 15 // ~300ms at 20ms frames
)

// userPref is a remote user's local-only mute/volume preference. Prefs are
// kept for the whole session, so a user whose link is torn down and
// re-established comes back with the same settings, and unmuting restores
// the exact stored volume rather than the default.
type userPref struct {
	volume int
	muted  bool
}

type sink struct {
	cancel   context.CancelFunc
	speaking bool
	hangover int
}

// Mixer binds one audio sink per remote address, applies local-only
// mute/volume, and runs speaking detection on the decoded stream.
type Mixer struct {
	out PlaybackSink

	mu    sync.Mutex
	sinks map[string]*sink
	prefs map[string]*userPref
}

// NewMixer wires decoded remote audio into out.
func NewMixer(out PlaybackSink) *Mixer {
	if out == nil {
		out = DiscardSink{}
	}
	return &Mixer{
		out:   out,
		sinks: make(map[string]*sink),
		prefs: make(map[string]*userPref),
	}
}

// BindTrack starts consuming a remote audio track for address, replacing
// any previous sink for that address. Stored mute/volume preferences apply
// immediately.
func (m *Mixer) BindTrack(address string, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	decoder, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		slog.Warn("opus decoder init failed", "address", address, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if old, ok := m.sinks[address]; ok {
		old.cancel()
	}
	m.sinks[address] = &sink{cancel: cancel}
	if _, ok := m.prefs[address]; !ok {
		m.prefs[address] = &userPref{volume: 100}
	}
	m.mu.Unlock()

	go m.consume(ctx, address, track, decoder)
}

func (m *Mixer) consume(ctx context.Context, address string, track *webrtc.TrackRemote, decoder *opus.Decoder) {
	defer m.setSpeaking(address, false)

	pcm := make([]int16, FrameSize*6)
	for ctx.Err() == nil {
		var pkt *rtp.Packet
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			slog.Warn("opus decode failed", "address", address, "err", err)
			continue
		}
		if n <= 0 {
			continue
		}
		frame := pcm[:n*Channels]
		m.updateSpeaking(address, frameLevel(frame))
		m.out.Play(address, applyGain(frame, m.effectiveVolume(address)))
	}
}

// SetUserMute is local-only: it changes what this client hears, never what
// the remote peer sends. Unmute restores the stored volume preference.
func (m *Mixer) SetUserMute(address string, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pref(address).muted = muted
}

// ToggleUserMute flips the local mute for address and returns the new state.
func (m *Mixer) ToggleUserMute(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pref(address)
	p.muted = !p.muted
	return p.muted
}

// SetUserVolume clamps to 0..100 and persists the preference even while the
// user is muted.
func (m *Mixer) SetUserVolume(address string, volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pref(address).volume = volume
}

// UserState returns (volume, mutedByMe, speaking) for address. Volume is
// the stored preference, not the currently applied gain.
func (m *Mixer) UserState(address string) (int, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pref(address)
	speaking := false
	if s, ok := m.sinks[address]; ok {
		speaking = s.speaking
	}
	return p.volume, p.muted, speaking
}

// Release stops the sink for address. Preferences are kept.
func (m *Mixer) Release(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sinks[address]; ok {
		s.cancel()
		delete(m.sinks, address)
	}
}

// ReleaseAll stops every sink.
func (m *Mixer) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, s := range m.sinks {
		s.cancel()
		delete(m.sinks, addr)
	}
}

// pref returns the preference entry for address, creating the default
// (volume 100, unmuted) on first touch. Caller holds m.mu.
func (m *Mixer) pref(address string) *userPref {
	p, ok := m.prefs[address]
	if !ok {
		p = &userPref{volume: 100}
		m.prefs[address] = p
	}
	return p
}

func (m *Mixer) effectiveVolume(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pref(address)
	if p.muted {
		return 0
	}
	return p.volume
}

func (m *Mixer) updateSpeaking(address string, level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sinks[address]
	if !ok {
		return
	}
	if level >= speakingThreshold {
		s.speaking = true
		s.hangover = hangoverFrames
		return
	}
	if s.hangover > 0 {
		s.hangover--
		return
	}
	s.speaking = false
}

func (m *Mixer) setSpeaking(address string, speaking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sinks[address]; ok {
		s.speaking = speaking
	}
}

// frameLevel is the mean absolute amplitude of a PCM frame.
func frameLevel(pcm []int16) int {
	if len(pcm) == 0 {
		return 0
	}
	var sum int64
	for _, s := range pcm {
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return int(sum / int64(len(pcm)))
}

// applyGain scales a PCM frame by volume (0..100). Full volume returns the
// frame unchanged.
func applyGain(pcm []int16, volume int) []int16 {
	if volume >= 100 {
		return pcm
	}
	out := make([]int16, len(pcm))
	if volume <= 0 {
		return out
	}
	for i, s := range pcm {
		out[i] = int16(int(s) * volume / 100)
	}
	return out
}
