// ABOUTME: Capture stream lifecycle orchestration (Open/Start/Stop/Close)
// ABOUTME: Owns the device handle, negotiated format, converter, FIFO and stats
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capturekit/capture-go/internal/agc"
	"github.com/capturekit/capture-go/internal/capability"
	"github.com/capturekit/capture-go/pkg/audio"
)

// OpenOutcome is the stable, outward-facing result of Open().
type OpenOutcome int

const (
	OpenSuccess OpenOutcome = iota
	OpenAlreadyOpen
	OpenFailedSystemPermissions
	OpenFailedInUse
	OpenFailed
)

func (o OpenOutcome) String() string {
	switch o {
	case OpenSuccess:
		return "success"
	case OpenAlreadyOpen:
		return "already open"
	case OpenFailedSystemPermissions:
		return "no permission"
	case OpenFailedInUse:
		return "device busy"
	case OpenFailed:
		return "failed"
	}
	return "unknown"
}

// openResult is the fine-grained internal result reported to diagnostics.
type openResult int

const (
	resultOK openResult = iota
	resultActivationFailed
	resultNoState
	resultDeviceNotActive
	resultFormatNotSupported
	resultInitFailed
	resultGetBufferSizeFailed
	resultNoReadySignal
	resultNoAudioVolume
	resultLoopbackInitFailed
	resultOKWithResampling
)

func (r openResult) String() string {
	switch r {
	case resultOK:
		return "OK"
	case resultActivationFailed:
		return "ACTIVATION_FAILED"
	case resultNoState:
		return "NO_STATE"
	case resultDeviceNotActive:
		return "DEVICE_NOT_ACTIVE"
	case resultFormatNotSupported:
		return "FORMAT_NOT_SUPPORTED"
	case resultInitFailed:
		return "INIT_FAILED"
	case resultGetBufferSizeFailed:
		return "GET_BUFFER_SIZE_FAILED"
	case resultNoReadySignal:
		return "NO_READY_SIGNAL"
	case resultNoAudioVolume:
		return "NO_AUDIO_VOLUME"
	case resultLoopbackInitFailed:
		return "LOOPBACK_INIT_FAILED"
	case resultOKWithResampling:
		return "OK_WITH_RESAMPLING"
	}
	return "UNKNOWN"
}

// StreamState is the lifecycle position of a Stream.
type StreamState int

const (
	StateCreated StreamState = iota
	StateOpened
	StateStarted
	StateStopped
	StateClosed
)

// Options configures a Stream beyond the requested format.
type Options struct {
	// Logger for structured engine logs. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// Diagnostics receives session log lines and histogram samples.
	// Defaults to a no-op sink.
	Diagnostics Diagnostics

	// PacketFrames is the fixed size of delivered packets in frames.
	// Defaults to 10ms worth of the requested sample rate.
	PacketFrames int

	// BufferDuration is the endpoint buffer length requested from the
	// device. A generous buffer reduces the risk of glitches without
	// adding latency on properly implemented drivers. Defaults to 100ms.
	BufferDuration time.Duration

	// Loopback captures a render endpoint instead of a capture endpoint.
	Loopback *LoopbackOptions

	// OnRelease is invoked after Close(), when the stream may be
	// destroyed by its owning manager.
	OnRelease func(*Stream)
}

// Stream is the capture engine orchestrator. It owns the device handle, the
// negotiated format, the sample converter, the packet FIFO and the glitch
// tracker, and exposes volume and mute control.
//
// All lifecycle methods must be called from one owning goroutine. The
// capture goroutine spawned by Start borrows the stream's resources until
// Stop joins it.
type Stream struct {
	id     uuid.UUID
	logger zerolog.Logger
	diag   Diagnostics

	dev      Device
	loopback *loopbackEngine

	// requested is the fixed output format; negotiated is what the device
	// produces, which may differ when conversion is active.
	requested  audio.Format
	negotiated audio.Format

	// Input-side packet sizing. Adjusted when a converter is set up.
	packetFrames    int
	packetBytes     int
	frameBytes      int
	outPacketFrames int
	bufferDuration  time.Duration

	converter *SampleConverter
	fifo      *PacketFifo
	tracker   *GlitchTracker
	agcCache  *agc.VolumeCache

	opened  bool
	started bool
	closed  bool

	openResult             openResult
	rawProcessingSupported bool
	volumeStartsAtZero     bool

	sink      Consumer
	stopC     chan struct{}
	done      chan struct{}
	readyC    <-chan struct{}
	errorOnce *sync.Once

	deviceBufferFrames int

	recordStart                time.Time
	lastCapture                time.Time
	lastDevicePosition         uint64
	expectedNextDevicePosition uint64
	acquiredFrames             int
	minTsDiff                  time.Duration
	maxTsDiff                  time.Duration

	onRelease func(*Stream)
}

// NewStream validates the requested format and builds an unopened stream
// around the given device. Only mono, stereo and discrete layouts with at
// most two channels are accepted by this engine.
func NewStream(dev Device, requested audio.Format, opts Options) (*Stream, error) {
	if dev == nil {
		return nil, errors.New("capture: nil device")
	}
	if requested.Channels < 1 || requested.Channels > 2 {
		return nil, fmt.Errorf("capture: unsupported channel count %d", requested.Channels)
	}
	switch requested.Layout {
	case audio.LayoutMono, audio.LayoutStereo, audio.LayoutDiscrete:
	default:
		return nil, fmt.Errorf("capture: unsupported channel layout %s", requested.Layout)
	}
	switch requested.BitDepth {
	case 8, 16, 32:
	default:
		return nil, fmt.Errorf("capture: unsupported bit depth %d", requested.BitDepth)
	}
	if requested.SampleRate < minSampleRate || requested.SampleRate > maxSampleRate {
		return nil, fmt.Errorf("capture: sample rate %d out of range", requested.SampleRate)
	}

	packetFrames := opts.PacketFrames
	if packetFrames <= 0 {
		packetFrames = audio.DurationToFrames(10*time.Millisecond, requested.SampleRate)
	}
	bufferDuration := opts.BufferDuration
	if bufferDuration <= 0 {
		bufferDuration = 100 * time.Millisecond
	}
	diag := opts.Diagnostics
	if diag == nil {
		diag = nopDiagnostics{}
	}

	id := uuid.New()
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("stream_id", id.String()).Str("device", dev.ID()).Logger()
	}

	s := &Stream{
		id:              id,
		logger:          logger,
		diag:            diag,
		dev:             dev,
		requested:       requested,
		negotiated:      requested,
		packetFrames:    packetFrames,
		packetBytes:     packetFrames * requested.FrameSize(),
		frameBytes:      requested.FrameSize(),
		outPacketFrames: packetFrames,
		bufferDuration:  bufferDuration,
		tracker:         NewGlitchTracker(diag),
		agcCache:        agc.NewVolumeCache(),
		onRelease:       opts.OnRelease,
	}
	if opts.Loopback != nil {
		s.loopback = newLoopbackEngine(*opts.Loopback)
	}

	s.logger.Debug().
		Stringer("format", requested).
		Int("packet_frames", packetFrames).
		Dur("buffer_duration", bufferDuration).
		Msg("capture stream created")
	return s, nil
}

// ID returns the stream's instance identifier.
func (s *Stream) ID() uuid.UUID { return s.id }

// State reports the current lifecycle position.
func (s *Stream) State() StreamState {
	switch {
	case s.closed:
		return StateClosed
	case s.started:
		return StateStarted
	case s.opened:
		return StateOpened
	}
	return StateCreated
}

// RequestedFormat returns the immutable format the consumer asked for.
func (s *Stream) RequestedFormat() audio.Format { return s.requested }

// NegotiatedFormat returns the device-side format. Only meaningful once
// Open has succeeded.
func (s *Stream) NegotiatedFormat() audio.Format { return s.negotiated }

// NeedsConversion reports whether delivered packets pass through the sample
// converter.
func (s *Stream) NeedsConversion() bool { return s.converter != nil }

// GlitchStats returns and resets the session's accumulated quality
// statistics.
func (s *Stream) GlitchStats() GlitchStats {
	return s.tracker.GetLongTermStatsAndReset()
}

// Open activates the device, negotiates the capture format, configures
// conversion if the device could not match the request, and prepares the
// event-driven capture path. Calling Open on an already open stream returns
// OpenAlreadyOpen with no side effects.
func (s *Stream) Open() OpenOutcome {
	s.logger.Info().Bool("opened", s.opened).Msg("open")
	if s.opened {
		return OpenAlreadyOpen
	}
	if s.closed {
		return OpenFailed
	}
	s.openResult = resultOK

	if err := s.dev.Activate(); err != nil {
		s.openResult = resultActivationFailed
		return s.failOpen(err)
	}

	state, err := s.dev.State()
	if err != nil {
		s.openResult = resultNoState
		return s.failOpen(err)
	}
	if state != DeviceActive {
		s.openResult = resultDeviceNotActive
		return s.failOpen(fmt.Errorf("device state %s: %w", state, ErrPermissionDenied))
	}

	// Raw processing support is a per-device property cached process-wide;
	// backends populate the cache during activation.
	s.rawProcessingSupported = capability.RawProcessing().IsSupported(s.dev.ID())

	negotiated, err := Negotiate(s.dev, s.requested)
	if err != nil {
		s.openResult = resultFormatNotSupported
		return s.failOpen(err)
	}
	s.negotiated = negotiated.Format
	if negotiated.NeedsConversion {
		s.setupConverter()
	}

	if err := s.dev.Initialize(s.negotiated, s.bufferDuration); err != nil {
		s.openResult = resultInitFailed
		return s.failOpen(err)
	}

	frames, err := s.dev.BufferSizeFrames()
	if err != nil {
		s.openResult = resultGetBufferSizeFailed
		return s.failOpen(err)
	}
	s.deviceBufferFrames = frames

	if s.loopback != nil {
		if err := s.loopback.initialize(s.negotiated, s.bufferDuration); err != nil {
			s.openResult = resultLoopbackInitFailed
			return s.failOpen(err)
		}
		s.readyC = s.loopback.readySignal()
	} else {
		s.readyC = s.dev.ReadySignal()
	}
	if s.readyC == nil {
		s.openResult = resultNoReadySignal
		return s.failOpen(errors.New("backend provided no ready signal"))
	}

	if _, err := s.dev.Volume(); err != nil {
		s.openResult = resultNoAudioVolume
		return s.failOpen(err)
	}

	if s.converter != nil {
		s.openResult = resultOKWithResampling
	}
	s.reportOpenResult(nil)
	s.opened = true
	return OpenSuccess
}

// setupConverter builds the sample converter and re-derives the input-side
// packet sizing from the negotiated format.
func (s *Stream) setupConverter() {
	s.converter = newSampleConverter(s.negotiated, s.requested, s.outPacketFrames, func() []byte {
		if s.fifo == nil {
			return nil
		}
		return s.fifo.Consume()
	})

	s.frameBytes = s.negotiated.FrameSize()
	s.packetFrames = s.converter.InputBlockFrames()
	s.packetBytes = s.packetFrames * s.frameBytes

	s.logger.Warn().
		Stringer("from", s.negotiated).
		Stringer("to", s.requested).
		Bool("imperfect_ratio", s.converter.Imperfect()).
		Msg("captured audio will be converted")
}

// failOpen reports the failure and maps the device error onto the stable
// outward-facing outcome set.
func (s *Stream) failOpen(err error) OpenOutcome {
	s.reportOpenResult(err)
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return OpenFailedSystemPermissions
	case errors.Is(err, ErrDeviceInUse):
		return OpenFailedInUse
	default:
		return OpenFailed
	}
}

func (s *Stream) reportOpenResult(err error) {
	s.diag.Report(HistogramOpenResult, int64(s.openResult))
	if s.openResult == resultOK || s.openResult == resultOKWithResampling {
		return
	}
	s.diag.LogMessage(fmt.Sprintf(
		"open failed: result=%s, err=%v, input_format=[%s], output_format=[%s]",
		s.openResult, err, s.negotiated, s.requested))
	s.logger.Error().Err(err).Stringer("result", s.openResult).Msg("open failed")
}

// Start registers the consumer callback and spawns the capture goroutine.
// No-op if the stream is not opened or is already started.
func (s *Stream) Start(callback Consumer) {
	s.logger.Info().Bool("opened", s.opened).Bool("started", s.started).Msg("start")
	if !s.opened || s.started || callback == nil {
		return
	}

	// A session that starts at zero volume is a known symptom of "no
	// audio" bugs; record it for the histogram emitted in Stop().
	if v := s.GetVolume(); v == 0.0 {
		s.logger.Warn().Msg("input audio session starts at zero volume")
		s.volumeStartsAtZero = true
	} else {
		s.agcCache.Store(v)
	}

	if s.loopback != nil {
		s.loopback.muteOnStart(s.logger)
	}

	s.sink = callback
	s.errorOnce = new(sync.Once)
	s.stopC = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()

	err := s.dev.Start()
	if err != nil {
		s.logger.Error().Err(err).Msg("device start failed")
	}
	if err == nil && s.loopback != nil {
		if lerr := s.loopback.start(); lerr != nil {
			s.logger.Error().Err(lerr).Msg("loopback start failed")
			err = lerr
		}
	}

	if err != nil {
		close(s.stopC)
		<-s.done
		s.sink = nil
		return
	}
	s.started = true
}

// Stop signals the capture goroutine, joins it, and flushes short-term
// glitch counters. After Stop returns, no further OnData or OnError calls
// occur. No-op if not started.
func (s *Stream) Stop() {
	s.logger.Info().Bool("started", s.started).Msg("stop")
	if !s.started {
		return
	}

	if s.loopback != nil {
		s.loopback.unmuteOnStop(s.logger)
	}

	close(s.stopC)
	if err := s.dev.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("device stop failed")
	}
	if s.loopback != nil {
		if err := s.loopback.stop(); err != nil {
			s.logger.Error().Err(err).Msg("loopback stop failed")
		}
	}
	<-s.done

	s.tracker.Flush()

	s.diag.Report(HistogramVolumeStartsAtZero, boolToInt64(s.volumeStartsAtZero))
	s.volumeStartsAtZero = false

	if s.maxTsDiff >= s.minTsDiff {
		s.logger.Info().
			Dur("min_timestamp_diff", s.minTsDiff).
			Dur("max_timestamp_diff", s.maxTsDiff).
			Msg("capture timestamp deltas")
	}

	s.started = false
	s.sink = nil
}

// Close stops capture if needed, reports final glitch statistics, releases
// the device, and notifies the owning manager. Valid to call without a
// prior Open.
func (s *Stream) Close() {
	s.logger.Info().Msg("close")
	if s.closed {
		return
	}
	s.Stop()

	s.diag.Report(HistogramRawProcessing, boolToInt64(s.rawProcessingSupported))
	s.tracker.report()
	s.lastDevicePosition = 0
	s.expectedNextDevicePosition = 0

	s.converter = nil
	if s.loopback != nil {
		s.loopback.close(s.logger)
	}
	if s.opened || s.dev != nil {
		if err := s.dev.Close(); err != nil {
			s.logger.Error().Err(err).Msg("device close failed")
		}
	}

	s.opened = false
	s.closed = true

	if s.onRelease != nil {
		s.onRelease(s)
	}
}

// SetVolume sets the session master volume, clamped to [0.0, 1.0]. Writes
// are only meaningful when the stream is opened.
func (s *Stream) SetVolume(v float64) {
	if v < 0.0 {
		v = 0.0
	} else if v > 1.0 {
		v = 1.0
	}
	if !s.opened {
		return
	}
	if err := s.dev.SetVolume(v); err != nil {
		s.logger.Error().Err(err).Msg("set volume failed")
		return
	}
	// The device's volume resolution is not infinite; re-query instead of
	// assuming the requested value was applied verbatim.
	if applied, err := s.dev.Volume(); err == nil {
		s.agcCache.Store(applied)
	}
}

// GetVolume returns the session master volume, or 0.0 before Open.
func (s *Stream) GetVolume() float64 {
	if !s.opened {
		return 0.0
	}
	v, err := s.dev.Volume()
	if err != nil {
		s.logger.Error().Err(err).Msg("get volume failed")
		return 0.0
	}
	return v
}

// MaxVolume returns the top of the effective volume range, which is always
// 1.0 for an opened stream and 0.0 before Open.
func (s *Stream) MaxVolume() float64 {
	if !s.opened {
		return 0.0
	}
	return 1.0
}

// IsMuted queries the device mute state. Returns false before Open.
func (s *Stream) IsMuted() bool {
	if !s.opened {
		return false
	}
	m, err := s.dev.Mute()
	if err != nil {
		s.logger.Error().Err(err).Msg("get mute failed")
		return false
	}
	return m
}

// SetAutomaticGainControl enables or disables the AGC volume hook. The AGC
// algorithm itself runs outside this engine; the engine only maintains the
// cached volume value handed to the consumer with each packet.
func (s *Stream) SetAutomaticGainControl(enabled bool) {
	s.agcCache.SetEnabled(enabled)
}

// GetAutomaticGainControl reports whether the AGC hook is enabled.
func (s *Stream) GetAutomaticGainControl() bool {
	return s.agcCache.Enabled()
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
