// ABOUTME: Scriptable in-memory capture device for tests
// ABOUTME: Queues packets, fires ready signals and injects device faults
package fake

import (
	"sync"
	"time"

	"github.com/capturekit/capture-go/internal/capability"
	"github.com/capturekit/capture-go/pkg/audio"
	"github.com/capturekit/capture-go/pkg/capture"
)

// packet is one queued device buffer.
type packet struct {
	data        []byte
	frames      int
	flags       capture.BufferFlags
	position    uint64
	captureTime time.Time
}

// Device is a scriptable capture device. Tests queue packets and fire ready
// signals; the capture goroutine drains them through the standard Device
// interface. All methods are safe for concurrent use.
type Device struct {
	mu sync.Mutex

	id    string
	state capture.DeviceState

	// Fault injection.
	activateErr   error
	initErr       error
	startErr      error
	outOfOrder    bool
	rawProcessing bool

	// Format negotiation script. When exact is true every format is
	// supported as requested; otherwise closest is offered.
	exact   bool
	closest audio.Format

	initialized  audio.Format
	bufferFrames int
	readyC       chan struct{}
	queue        []packet
	held         bool

	volume  float64
	muted   bool
	started bool
	closed  bool

	starts        int
	stops         int
	releaseFrames []int
}

// Option configures a fake device.
type Option func(*Device)

// WithActivateError makes Activate fail with err.
func WithActivateError(err error) Option {
	return func(d *Device) { d.activateErr = err }
}

// WithInitError makes Initialize fail with err.
func WithInitError(err error) Option {
	return func(d *Device) { d.initErr = err }
}

// WithStartError makes Start fail with err.
func WithStartError(err error) Option {
	return func(d *Device) { d.startErr = err }
}

// WithState overrides the reported device state.
func WithState(state capture.DeviceState) Option {
	return func(d *Device) { d.state = state }
}

// WithClosestFormat makes format negotiation offer closest instead of the
// requested format.
func WithClosestFormat(closest audio.Format) Option {
	return func(d *Device) {
		d.exact = false
		d.closest = closest
	}
}

// WithBufferFrames sets the endpoint buffer size reported after Initialize.
func WithBufferFrames(frames int) Option {
	return func(d *Device) { d.bufferFrames = frames }
}

// WithRawProcessing marks the device as supporting raw capture; recorded in
// the shared capability cache during Activate, like a real backend.
func WithRawProcessing() Option {
	return func(d *Device) { d.rawProcessing = true }
}

// NewDevice builds a fake device that accepts any format exactly and has a
// 100ms endpoint buffer at 48kHz unless configured otherwise.
func NewDevice(id string, opts ...Option) *Device {
	d := &Device{
		id:           id,
		state:        capture.DeviceActive,
		exact:        true,
		bufferFrames: 4800,
		readyC:       make(chan struct{}, 64),
		volume:       1.0,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// QueuePacket appends one device buffer for the capture loop to drain.
func (d *Device) QueuePacket(data []byte, frames int, flags capture.BufferFlags, position uint64, captureTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, packet{
		data:        data,
		frames:      frames,
		flags:       flags,
		position:    position,
		captureTime: captureTime,
	})
}

// SignalReady wakes the capture goroutine once.
func (d *Device) SignalReady() {
	select {
	case d.readyC <- struct{}{}:
	default:
	}
}

// FailSignal closes the ready channel, simulating an unrecoverable wait
// failure in the backend.
func (d *Device) FailSignal() {
	close(d.readyC)
}

// InjectOutOfOrder makes the next GetBuffer fail as if a prior release was
// lost. The next GetBuffer clears the condition.
func (d *Device) InjectOutOfOrder() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outOfOrder = true
}

// Starts reports how many times Start was called.
func (d *Device) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

// Stops reports how many times Stop was called.
func (d *Device) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ReleaseCalls returns the frame counts passed to ReleaseBuffer, in order.
func (d *Device) ReleaseCalls() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.releaseFrames))
	copy(out, d.releaseFrames)
	return out
}

// PendingPackets reports how many queued buffers remain undrained.
func (d *Device) PendingPackets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Device) ID() string { return d.id }

func (d *Device) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activateErr != nil {
		return d.activateErr
	}
	capability.RawProcessing().UpdateCache(d.id, d.rawProcessing)
	return nil
}

func (d *Device) State() (capture.DeviceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, nil
}

func (d *Device) IsFormatSupported(f audio.Format) (capture.FormatSupport, audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exact {
		return capture.FormatSupported, f, nil
	}
	return capture.FormatClosestMatch, d.closest, nil
}

func (d *Device) Initialize(f audio.Format, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initErr != nil {
		return d.initErr
	}
	d.initialized = f
	return nil
}

func (d *Device) BufferSizeFrames() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bufferFrames, nil
}

func (d *Device) ReadySignal() <-chan struct{} {
	return d.readyC
}

func (d *Device) NextPacketSizeFrames() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return 0, nil
	}
	return d.queue[0].frames, nil
}

func (d *Device) GetBuffer() ([]byte, int, capture.BufferFlags, uint64, time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outOfOrder || d.held {
		d.outOfOrder = false
		return nil, 0, 0, 0, time.Time{}, capture.ErrOutOfOrder
	}
	if len(d.queue) == 0 {
		return nil, 0, 0, 0, time.Time{}, capture.ErrBufferEmpty
	}
	p := d.queue[0]
	d.held = true
	return p.data, p.frames, p.flags, p.position, p.captureTime, nil
}

func (d *Device) ReleaseBuffer(frames int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseFrames = append(d.releaseFrames, frames)
	if d.held {
		d.held = false
		d.queue = d.queue[1:]
	}
	return nil
}

func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.starts++
	d.started = true
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.started = false
	return nil
}

func (d *Device) Volume() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume, nil
}

func (d *Device) SetVolume(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
	return nil
}

func (d *Device) Mute() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted, nil
}

func (d *Device) SetMute(m bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = m
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
