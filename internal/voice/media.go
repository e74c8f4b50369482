package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// Audio format shared by capture and playback: 48kHz mono, 20ms frames.
const (
	SampleRate    = 48000
	Channels      = 1
	FrameDuration = 20 * time.Millisecond
	FrameSize     = SampleRate / 1000 * 20 // samples per frame
)

// Acquire failure taxonomy. The two cases get distinct user-facing
// messages: a denial is actionable by the user, an unsupported environment
// is not.
var (
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrEnvironmentUnsupported = errors.New("voice is not supported in this environment")
)

// CaptureDevice yields 20ms mono PCM frames from some audio source. The
// production device wraps the platform's capture API and should enable
// echo cancellation, noise suppression, and automatic gain where the
// platform supports them; tests and the CLI use synthetic devices. Open
// returning ErrPermissionDenied is surfaced to the user as a denial; any
// other failure reads as an unsupported environment.
type CaptureDevice interface {
	Open(ctx context.Context) (<-chan []int16, error)
	Close() error
}

// HostAuthorizer is an optional host-level permission grant, present when
// running inside an embedding context that brokers microphone access. The
// probe is best effort: if it fails or times out, the standard device flow
// is assumed to work on its own.
type HostAuthorizer interface {
	RequestAccess(ctx context.Context) error
}

const hostProbeTimeout = time.Second

// MediaController owns the local audio stream for the lifetime of a voice
// session: one capture device, one opus encoder, one outbound track shared
// by every peer connection. Only the controller may stop the stream.
type MediaController struct {
	device     CaptureDevice
	authorizer HostAuthorizer

	track   *webrtc.TrackLocalStaticSample
	encoder *opus.Encoder
	muted   atomic.Bool
	active  atomic.Bool
	cancel  context.CancelFunc
}

// NewMediaController wraps a capture device. authorizer may be nil.
func NewMediaController(device CaptureDevice, authorizer HostAuthorizer) *MediaController {
	return &MediaController{device: device, authorizer: authorizer}
}

// Acquire opens the capture device and starts feeding the outbound track.
// In an embedding context the host grant is probed first with a short
// timeout; failure there falls through to the standard flow. Returns
// ErrPermissionDenied or ErrEnvironmentUnsupported on failure.
func (m *MediaController) Acquire(ctx context.Context) error {
	if m.active.Load() {
		return nil
	}

	if m.authorizer != nil {
		probeCtx, cancel := context.WithTimeout(ctx, hostProbeTimeout)
		if err := m.authorizer.RequestAccess(probeCtx); err != nil {
			slog.Debug("host permission probe unavailable, using standard flow", "err", err)
		}
		cancel()
	}

	frames, err := m.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return ErrPermissionDenied
		}
		return fmt.Errorf("%w: %v", ErrEnvironmentUnsupported, err)
	}

	encoder, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		m.device.Close()
		return fmt.Errorf("%w: opus encoder: %v", ErrEnvironmentUnsupported, err)
	}
	encoder.SetBitrate(64000)

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: SampleRate, Channels: 2},
		"audio", "vibefid-voice",
	)
	if err != nil {
		m.device.Close()
		return fmt.Errorf("%w: local track: %v", ErrEnvironmentUnsupported, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.encoder = encoder
	m.track = track
	m.cancel = cancel
	m.active.Store(true)

	go m.pumpFrames(loopCtx, frames)
	return nil
}

// pumpFrames encodes captured PCM into the outbound track. Muted frames are
// skipped, not stopped: the capture device keeps running so unmute is
// instant and requires no renegotiation.
func (m *MediaController) pumpFrames(ctx context.Context, frames <-chan []int16) {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-frames:
			if !ok {
				return
			}
			if m.muted.Load() {
				continue
			}
			n, err := m.encoder.Encode(pcm, buf)
			if err != nil {
				slog.Warn("opus encode failed", "err", err)
				continue
			}
			sample := media.Sample{Data: append([]byte(nil), buf[:n]...), Duration: FrameDuration}
			if err := m.track.WriteSample(sample); err != nil {
				slog.Warn("write local sample failed", "err", err)
			}
		}
	}
}

// Track returns the shared outbound audio track. Nil before Acquire.
func (m *MediaController) Track() *webrtc.TrackLocalStaticSample { return m.track }

// ToggleMute flips the outbound enabled flag and returns the new muted
// state. The hardware handle stays alive.
func (m *MediaController) ToggleMute() bool {
	muted := !m.muted.Load()
	m.muted.Store(muted)
	return muted
}

// Muted reports the current self-mute state.
func (m *MediaController) Muted() bool { return m.muted.Load() }

// Active reports whether the stream is currently acquired.
func (m *MediaController) Active() bool { return m.active.Load() }

// Release stops the encode loop and the capture device. Idempotent.
func (m *MediaController) Release() {
	if !m.active.Swap(false) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.device.Close(); err != nil {
		slog.Warn("capture device close failed", "err", err)
	}
	m.muted.Store(false)
}
