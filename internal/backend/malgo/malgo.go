// ABOUTME: Miniaudio-backed capture device via gen2brain/malgo
// ABOUTME: Adapts malgo's push callbacks to the engine's pull-based Device interface
package malgo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/capturekit/capture-go/internal/capability"
	"github.com/capturekit/capture-go/pkg/audio"
	"github.com/capturekit/capture-go/pkg/capture"
)

// queue depth in packets before the backend starts dropping. Dropped audio
// is surfaced as a discontinuity flag on the next delivered buffer.
const pendingLimit = 64

// Backend owns the miniaudio context shared by all devices.
type Backend struct {
	ctx *malgo.AllocatedContext
}

// NewBackend initializes the miniaudio context.
func NewBackend() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// Close tears down the miniaudio context. All devices must be closed first.
func (b *Backend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// DeviceInfo names one enumerable capture or render endpoint.
type DeviceInfo struct {
	Name      string
	IsDefault bool

	id malgo.DeviceID
}

// ListCaptureDevices enumerates capture endpoints.
func (b *Backend) ListCaptureDevices() ([]DeviceInfo, error) {
	return b.list(malgo.Capture)
}

// ListPlaybackDevices enumerates render endpoints, usable as loopback
// sources.
func (b *Backend) ListPlaybackDevices() ([]DeviceInfo, error) {
	return b.list(malgo.Playback)
}

func (b *Backend) list(kind malgo.DeviceType) ([]DeviceInfo, error) {
	infos, err := b.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("malgo: enumerate devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			id:        info.ID,
		})
	}
	return out, nil
}

// OpenCapture returns an unactivated capture device. An empty name selects
// the default endpoint.
func (b *Backend) OpenCapture(name string) (*Device, error) {
	return b.open(name, malgo.Capture)
}

// OpenLoopback returns a device that captures the default render endpoint's
// output.
func (b *Backend) OpenLoopback(name string) (*Device, error) {
	return b.open(name, malgo.Loopback)
}

func (b *Backend) open(name string, kind malgo.DeviceType) (*Device, error) {
	d := &Device{
		backend: b,
		name:    name,
		kind:    kind,
		readyC:  make(chan struct{}, pendingLimit),
		volume:  1.0,
	}
	if name != "" {
		listKind := kind
		if kind == malgo.Loopback {
			listKind = malgo.Playback
		}
		infos, err := b.list(listKind)
		if err != nil {
			return nil, err
		}
		found := false
		for _, info := range infos {
			if info.Name == name {
				d.id = info.id
				d.haveID = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("malgo: device %q: %w", name, capture.ErrNoDevice)
		}
	}
	return d, nil
}

// pending is one callback's worth of captured audio.
type pending struct {
	data        []byte
	frames      int
	flags       capture.BufferFlags
	position    uint64
	captureTime time.Time
}

// Device adapts one miniaudio capture (or loopback) device to the engine's
// Device interface. Miniaudio pushes data from its own audio thread; the
// callback queues buffers here and the engine's capture goroutine drains
// them through NextPacketSizeFrames/GetBuffer/ReleaseBuffer.
type Device struct {
	backend *Backend
	name    string
	kind    malgo.DeviceType
	id      malgo.DeviceID
	haveID  bool

	mu     sync.Mutex
	dev    *malgo.Device
	format audio.Format

	readyC chan struct{}
	queue  []pending
	held   bool

	// Running frame count, used as the device position.
	positionFrames uint64
	dropped        bool

	volume float64
	muted  bool
	closed bool
}

func (d *Device) ID() string {
	if d.name != "" {
		return d.name
	}
	if d.kind == malgo.Loopback {
		return "default-loopback"
	}
	return "default-capture"
}

// Activate records capability information. Miniaudio has no raw capture
// probe, so raw processing support is always reported unsupported.
func (d *Device) Activate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("malgo: device closed")
	}
	capability.RawProcessing().UpdateCache(d.ID(), false)
	return nil
}

func (d *Device) State() (capture.DeviceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return capture.DeviceNotPresent, nil
	}
	return capture.DeviceActive, nil
}

// IsFormatSupported maps the requested format onto miniaudio's sample
// formats. Miniaudio converts internally, so any rate and channel count in
// range is accepted; only unsupported bit depths force a closest match.
func (d *Device) IsFormatSupported(f audio.Format) (capture.FormatSupport, audio.Format, error) {
	if _, err := sampleFormat(f.BitDepth); err != nil {
		closest := f
		closest.BitDepth = 16
		return capture.FormatClosestMatch, closest, nil
	}
	return capture.FormatSupported, f, nil
}

func sampleFormat(bitDepth int) (malgo.FormatType, error) {
	switch bitDepth {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	case 32:
		return malgo.FormatS32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("malgo: no sample format for %d bits", bitDepth)
}

func (d *Device) Initialize(f audio.Format, bufferDuration time.Duration) error {
	sf, err := sampleFormat(f.BitDepth)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(d.kind)
	deviceConfig.Capture.Format = sf
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 10
	if d.haveID {
		deviceConfig.Capture.DeviceID = d.id.Pointer()
	}

	frameSize := f.FrameSize()
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			d.pushFromCallback(input, int(frameCount), frameSize)
		},
	}

	dev, err := malgo.InitDevice(d.backend.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("malgo: init device: %w", err)
	}

	d.mu.Lock()
	d.dev = dev
	d.format = f
	d.mu.Unlock()
	return nil
}

// pushFromCallback runs on miniaudio's audio thread. It must never block:
// when the engine falls behind, audio is dropped and the gap is flagged as
// a discontinuity on the next buffer.
func (d *Device) pushFromCallback(input []byte, frames, frameSize int) {
	if frames == 0 {
		return
	}

	d.mu.Lock()
	if len(d.queue) >= pendingLimit {
		d.positionFrames += uint64(frames)
		d.dropped = true
		d.mu.Unlock()
		return
	}

	data := make([]byte, frames*frameSize)
	copy(data, input)

	var flags capture.BufferFlags
	if d.dropped {
		flags |= capture.FlagDataDiscontinuity
		d.dropped = false
	}
	d.queue = append(d.queue, pending{
		data:        data,
		frames:      frames,
		flags:       flags,
		position:    d.positionFrames,
		captureTime: time.Now(),
	})
	d.positionFrames += uint64(frames)
	d.mu.Unlock()

	select {
	case d.readyC <- struct{}{}:
	default:
	}
}

// BufferSizeFrames reports the effective endpoint buffer, which for the
// queued-callback model is the queue's total capacity.
func (d *Device) BufferSizeFrames() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.format.SampleRate == 0 {
		return 0, errors.New("malgo: device not initialized")
	}
	return audio.DurationToFrames(10*time.Millisecond, d.format.SampleRate) * 2, nil
}

func (d *Device) ReadySignal() <-chan struct{} { return d.readyC }

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
	if d.held {
		return nil, 0, 0, 0, time.Time{}, capture.ErrOutOfOrder
	}
	if len(d.queue) == 0 {
		return nil, 0, 0, 0, time.Time{}, capture.ErrBufferEmpty
	}
	p := d.queue[0]
	d.held = true
	return p.data, p.frames, p.flags, p.position, p.captureTime, nil
}

func (d *Device) ReleaseBuffer(_ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		d.held = false
		d.queue = d.queue[1:]
	}
	return nil
}

func (d *Device) Start() error {
	d.mu.Lock()
	dev := d.dev
	d.mu.Unlock()
	if dev == nil {
		return errors.New("malgo: device not initialized")
	}
	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo: start: %w", err)
	}
	return nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	dev := d.dev
	d.mu.Unlock()
	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop: %w", err)
	}
	return nil
}

// Volume and mute are soft controls; miniaudio exposes no session volume
// for capture endpoints, so the values are tracked here and applied by the
// consumer if desired.
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
	dev := d.dev
	d.dev = nil
	d.closed = true
	d.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
	return nil
}
