// ABOUTME: Tests for format negotiation
// ABOUTME: Covers exact matches, closest matches and unconvertible formats
package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/capturekit/capture-go/pkg/audio"
)

// formatDevice is a Device stub that only answers format queries.
type formatDevice struct {
	support FormatSupport
	closest audio.Format
	err     error
}

func (d *formatDevice) ID() string { return "stub" }
func (d *formatDevice) Activate() error { return nil }
func (d *formatDevice) State() (DeviceState, error) { return DeviceActive, nil }
func (d *formatDevice) IsFormatSupported(f audio.Format) (FormatSupport, audio.Format, error) {
	if d.err != nil {
		return FormatUnsupported, audio.Format{}, d.err
	}
	if d.support == FormatSupported {
		return FormatSupported, f, nil
	}
	return d.support, d.closest, nil
}
func (d *formatDevice) Initialize(audio.Format, time.Duration) error { return nil }
func (d *formatDevice) BufferSizeFrames() (int, error) { return 0, nil }
func (d *formatDevice) ReadySignal() <-chan struct{} { return nil }
func (d *formatDevice) NextPacketSizeFrames() (int, error) { return 0, nil }
func (d *formatDevice) GetBuffer() ([]byte, int, BufferFlags, uint64, time.Time, error) {
	return nil, 0, 0, 0, time.Time{}, ErrBufferEmpty
}
func (d *formatDevice) ReleaseBuffer(int) error { return nil }
func (d *formatDevice) Start() error { return nil }
func (d *formatDevice) Stop() error { return nil }
func (d *formatDevice) Volume() (float64, error) { return 1.0, nil }
func (d *formatDevice) SetVolume(float64) error { return nil }
func (d *formatDevice) Mute() (bool, error) { return false, nil }
func (d *formatDevice) SetMute(bool) error { return nil }
func (d *formatDevice) Close() error { return nil }

func requestedFormat() audio.Format {
	return audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16, Layout: audio.LayoutStereo}
}

func TestNegotiateExactMatch(t *testing.T) {
	dev := &formatDevice{support: FormatSupported}
	req := requestedFormat()

	got, err := Negotiate(dev, req)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if got.NeedsConversion {
		t.Error("NeedsConversion = true for exact match")
	}
	if got.Format != req {
		t.Errorf("Format = %v, want %v", got.Format, req)
	}
}

func TestNegotiateDeterministic(t *testing.T) {
	dev := &formatDevice{
		support: FormatClosestMatch,
		closest: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16},
	}
	req := requestedFormat()

	first, err := Negotiate(dev, req)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := Negotiate(dev, req)
		if err != nil {
			t.Fatalf("Negotiate (repeat %d): %v", i, err)
		}
		if again != first {
			t.Fatalf("Negotiate not deterministic: %v vs %v", again, first)
		}
	}
}

func TestNegotiateClosestMatch(t *testing.T) {
	tests := []struct {
		name       string
		closest    audio.Format
		wantFormat audio.Format
		wantErr    bool
	}{
		{
			name:       "different rate",
			closest:    audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16},
			wantFormat: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16, Layout: audio.LayoutStereo},
		},
		{
			name:       "mono engine format",
			closest:    audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 16},
			wantFormat: audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono},
		},
		{
			name: "zero bit depth keeps requested depth",
			// Engines exposing float formats report no PCM depth.
			closest:    audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 0},
			wantFormat: audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16, Layout: audio.LayoutStereo},
		},
		{
			name:    "rate below converter range",
			closest: audio.Format{SampleRate: 2000, Channels: 2, BitDepth: 16},
			wantErr: true,
		},
		{
			name:    "rate above converter range",
			closest: audio.Format{SampleRate: 800000, Channels: 2, BitDepth: 16},
			wantErr: true,
		},
		{
			name:    "unsupported bit depth",
			closest: audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 24},
			wantErr: true,
		},
		{
			name:    "unguessable channel layout",
			closest: audio.Format{SampleRate: 48000, Channels: 0, BitDepth: 16},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &formatDevice{support: FormatClosestMatch, closest: tt.closest}
			got, err := Negotiate(dev, requestedFormat())
			if tt.wantErr {
				if !errors.Is(err, ErrFormatNotSupported) {
					t.Fatalf("err = %v, want ErrFormatNotSupported", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Negotiate: %v", err)
			}
			if !got.NeedsConversion {
				t.Error("NeedsConversion = false for closest match")
			}
			if got.Format != tt.wantFormat {
				t.Errorf("Format = %v, want %v", got.Format, tt.wantFormat)
			}
		})
	}
}

func TestNegotiateUnsupported(t *testing.T) {
	dev := &formatDevice{support: FormatUnsupported}
	if _, err := Negotiate(dev, requestedFormat()); !errors.Is(err, ErrFormatNotSupported) {
		t.Fatalf("err = %v, want ErrFormatNotSupported", err)
	}
}

func TestNegotiateQueryError(t *testing.T) {
	queryErr := errors.New("endpoint gone")
	dev := &formatDevice{err: queryErr}
	if _, err := Negotiate(dev, requestedFormat()); !errors.Is(err, queryErr) {
		t.Fatalf("err = %v, want wrapped query error", err)
	}
}
