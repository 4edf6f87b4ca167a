// ABOUTME: Device backend contract for the capture engine
// ABOUTME: Defines the behavioral interface any audio backend must satisfy
package capture

import (
	"errors"
	"time"

	"github.com/capturekit/capture-go/pkg/audio"
)

// DeviceState reports whether the endpoint behind a Device is usable.
type DeviceState int

const (
	DeviceActive DeviceState = iota
	DeviceDisabled
	DeviceNotPresent
	DeviceUnplugged
)

func (s DeviceState) String() string {
	switch s {
	case DeviceActive:
		return "active"
	case DeviceDisabled:
		return "disabled"
	case DeviceNotPresent:
		return "not present"
	case DeviceUnplugged:
		return "unplugged"
	}
	return "unknown"
}

// FormatSupport is the device's answer to IsFormatSupported.
type FormatSupport int

const (
	FormatSupported FormatSupport = iota
	FormatClosestMatch
	FormatUnsupported
)

// BufferFlags qualify one hardware packet returned by GetBuffer.
type BufferFlags uint32

const (
	// FlagDataDiscontinuity means the packet is not correlated with the
	// previous packet's device position.
	FlagDataDiscontinuity BufferFlags = 1 << iota
	// FlagSilent means the packet should be treated as silence; its data
	// must not be read.
	FlagSilent
	// FlagTimestampError means the packet's capture timestamp is unreliable.
	FlagTimestampError
)

// Sentinel errors a Device may return. The engine recovers locally from
// ErrBufferEmpty and ErrOutOfOrder; the rest are fatal to Open().
var (
	ErrBufferEmpty        = errors.New("capture: no data in device buffer")
	ErrOutOfOrder         = errors.New("capture: previous buffer still acquired")
	ErrDeviceInUse        = errors.New("capture: device is in use")
	ErrPermissionDenied   = errors.New("capture: permission denied")
	ErrNoDevice           = errors.New("capture: no such device")
	ErrFormatNotSupported = errors.New("capture: format not supported")
)

// Device is the behavioral contract between the engine and an audio backend.
// Any backend (WASAPI, ALSA, CoreAudio, miniaudio, a test fake) that
// satisfies it can serve as a drop-in capture endpoint.
//
// Thread model: Activate, State, IsFormatSupported, Initialize,
// BufferSizeFrames and Close are called from the owning goroutine while the
// stream is not started. NextPacketSizeFrames, GetBuffer and ReleaseBuffer
// are called only from the capture goroutine. Volume, SetVolume, Mute and
// SetMute must be safe to call from either.
type Device interface {
	// ID returns a stable identifier for the endpoint.
	ID() string

	// Activate acquires the underlying engine client. Must be called
	// before any other method.
	Activate() error

	// State reports whether the endpoint is present and enabled.
	State() (DeviceState, error)

	// IsFormatSupported asks the device whether it can produce the given
	// format. When the answer is FormatClosestMatch, the returned format
	// is the nearest one the device can produce. A closest match with
	// BitDepth 0 signals a non-PCM (typically float) engine format.
	IsFormatSupported(f audio.Format) (FormatSupport, audio.Format, error)

	// Initialize configures the device for event-driven capture in the
	// given format with at least bufferDuration of endpoint buffering.
	Initialize(f audio.Format, bufferDuration time.Duration) error

	// BufferSizeFrames returns the endpoint buffer length negotiated by
	// Initialize.
	BufferSizeFrames() (int, error)

	// ReadySignal returns the channel signalled each time the device has
	// captured data ready to be read. The backend closes the channel only
	// on unrecoverable failure.
	ReadySignal() <-chan struct{}

	// NextPacketSizeFrames returns the size of the next hardware packet,
	// or 0 when the endpoint buffer is drained.
	NextPacketSizeFrames() (int, error)

	// GetBuffer acquires the next hardware packet. The data slice is only
	// valid until the matching ReleaseBuffer call. devicePosition is the
	// monotonically increasing stream position of the packet's first
	// frame. captureTime is the hardware timestamp of that frame; it must
	// be ignored when flags carries FlagTimestampError.
	GetBuffer() (data []byte, frames int, flags BufferFlags, devicePosition uint64, captureTime time.Time, err error)

	// ReleaseBuffer returns the acquired packet to the device.
	ReleaseBuffer(frames int) error

	// Start begins streaming between the endpoint and the engine.
	Start() error

	// Stop halts streaming. The ready signal stays valid for a re-Start.
	Stop() error

	// Volume returns the session master volume in [0.0, 1.0].
	Volume() (float64, error)

	// SetVolume sets the session master volume. The effective resolution
	// is device dependent; read back via Volume for the applied value.
	SetVolume(v float64) error

	// Mute reports the session mute state.
	Mute() (bool, error)

	// SetMute sets the session mute state.
	SetMute(m bool) error

	// Close releases the engine client and all acquired interfaces.
	Close() error
}

// Consumer receives capture data and errors. Both methods are invoked on the
// capture goroutine; OnData must return within a few milliseconds and must
// copy the packet if it retains it.
type Consumer interface {
	OnData(p *audio.Packet, captureTime time.Time, volume float64)
	OnError()
}

// Diagnostics receives human-readable session log lines and histogram
// samples (open results, glitch counts, timestamp errors).
type Diagnostics interface {
	LogMessage(msg string)
	Report(name string, value int64)
}

// Histogram names emitted by the engine.
const (
	HistogramOpenResult          = "capture.open_result"
	HistogramGlitches            = "capture.glitches"
	HistogramDiscontinuities     = "capture.discontinuities"
	HistogramTimestampErrors     = "capture.timestamp_errors"
	HistogramVolumeStartsAtZero  = "capture.volume_starts_at_zero"
	HistogramRawProcessing       = "capture.raw_processing_supported"
)

type nopDiagnostics struct{}

func (nopDiagnostics) LogMessage(string)    {}
func (nopDiagnostics) Report(string, int64) {}
