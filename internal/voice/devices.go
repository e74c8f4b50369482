package voice

import (
	"context"
	"math"
	"time"
)

// ToneCaptureDevice is a synthetic capture source producing a steady sine
// tone. Used by the CLI client and by tests; it exercises the whole encode
// path without touching real hardware.
type ToneCaptureDevice struct {
	// Frequency of the tone in Hz. Zero produces silence.
	Frequency float64
	// Amplitude in int16 range (0..32767).
	Amplitude float64

	cancel context.CancelFunc
}

func (d *ToneCaptureDevice) Open(ctx context.Context) (<-chan []int16, error) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	out := make(chan []int16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(FrameDuration)
		defer ticker.Stop()

		var phase float64
		step := 2 * math.Pi * d.Frequency / SampleRate
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := make([]int16, FrameSize)
				if d.Frequency > 0 {
					for i := range frame {
						frame[i] = int16(d.Amplitude * math.Sin(phase))
						phase += step
					}
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (d *ToneCaptureDevice) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// DiscardSink drops decoded audio. Stands in for a real playback device
// where none is wired up (headless clients, tests).
type DiscardSink struct{}

func (DiscardSink) Play(address string, pcm []int16) {}
