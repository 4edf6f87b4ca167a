//go:build portaudio

// ABOUTME: PortAudio-backed capture device behind the portaudio build tag
// ABOUTME: Blocking stream reads feed the engine's pull-based Device interface
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/capturekit/capture-go/internal/capability"
	"github.com/capturekit/capture-go/pkg/audio"
	"github.com/capturekit/capture-go/pkg/capture"
)

const pendingLimit = 64

// Backend owns the PortAudio library lifetime.
type Backend struct{}

func NewBackend() (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{}, nil
}

func (b *Backend) Close() error {
	return portaudio.Terminate()
}

// DeviceInfo names one input endpoint.
type DeviceInfo struct {
	Name      string
	IsDefault bool
}

// ListCaptureDevices enumerates input-capable endpoints.
func (b *Backend) ListCaptureDevices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, DeviceInfo{
				Name:      d.Name,
				IsDefault: def != nil && d.Name == def.Name,
			})
		}
	}
	return out, nil
}

// OpenCapture returns an unactivated capture device. An empty name selects
// the default input endpoint.
func (b *Backend) OpenCapture(name string) (*Device, error) {
	return &Device{
		name:   name,
		readyC: make(chan struct{}, pendingLimit),
		volume: 1.0,
	}, nil
}

type pending struct {
	data        []byte
	frames      int
	flags       capture.BufferFlags
	position    uint64
	captureTime time.Time
}

// Device adapts a PortAudio input stream to the engine's Device interface.
// A reader goroutine started by Start performs blocking reads and queues
// buffers; the engine's capture goroutine drains them.
type Device struct {
	name string
	info *portaudio.DeviceInfo

	mu     sync.Mutex
	stream *portaudio.Stream
	format audio.Format
	buf    []int16

	readyC  chan struct{}
	queue   []pending
	held    bool
	stopC   chan struct{}
	readerW sync.WaitGroup

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
	return "default-capture"
}

func (d *Device) Activate() error {
	var info *portaudio.DeviceInfo
	var err error
	if d.name == "" {
		info, err = portaudio.DefaultInputDevice()
		if err != nil {
			return fmt.Errorf("portaudio: default input device: %w", err)
		}
	} else {
		devices, derr := portaudio.Devices()
		if derr != nil {
			return fmt.Errorf("portaudio: enumerate devices: %w", derr)
		}
		for _, cand := range devices {
			if cand.Name == d.name {
				info = cand
				break
			}
		}
		if info == nil {
			return fmt.Errorf("portaudio: device %q: %w", d.name, capture.ErrNoDevice)
		}
	}

	d.mu.Lock()
	d.info = info
	d.mu.Unlock()
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

// IsFormatSupported limits capture to 16-bit PCM within the device's
// channel budget; everything else is offered as a closest match.
func (d *Device) IsFormatSupported(f audio.Format) (capture.FormatSupport, audio.Format, error) {
	d.mu.Lock()
	info := d.info
	d.mu.Unlock()
	if info == nil {
		return capture.FormatUnsupported, audio.Format{}, errors.New("portaudio: device not activated")
	}

	closest := f
	exact := true
	if f.BitDepth != 16 {
		closest.BitDepth = 16
		exact = false
	}
	if f.Channels > info.MaxInputChannels {
		closest.Channels = info.MaxInputChannels
		closest.Layout = audio.GuessLayout(closest.Channels)
		exact = false
	}
	if exact {
		return capture.FormatSupported, f, nil
	}
	return capture.FormatClosestMatch, closest, nil
}

func (d *Device) Initialize(f audio.Format, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.info == nil {
		return errors.New("portaudio: device not activated")
	}

	frames := audio.DurationToFrames(10*time.Millisecond, f.SampleRate)
	d.buf = make([]int16, frames*f.Channels)

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: f.Channels,
			Latency:  d.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: frames,
	}, d.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	d.stream = stream
	d.format = f
	return nil
}

func (d *Device) BufferSizeFrames() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.format.SampleRate == 0 {
		return 0, errors.New("portaudio: device not initialized")
	}
	return len(d.buf) / d.format.Channels * 2, nil
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
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return errors.New("portaudio: device not initialized")
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start: %w", err)
	}

	d.stopC = make(chan struct{})
	d.readerW.Add(1)
	go d.readLoop(stream)
	return nil
}

// readLoop performs blocking reads and queues the results. PortAudio has no
// event signal, so this goroutine plays the role of the device's samples
// ready event.
func (d *Device) readLoop(stream *portaudio.Stream) {
	defer d.readerW.Done()
	for {
		select {
		case <-d.stopC:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			return
		}
		d.queueBuffer()
		select {
		case d.readyC <- struct{}{}:
		default:
		}
	}
}

func (d *Device) queueBuffer() {
	d.mu.Lock()
	defer d.mu.Unlock()

	frames := len(d.buf) / d.format.Channels
	if len(d.queue) >= pendingLimit {
		d.positionFrames += uint64(frames)
		d.dropped = true
		return
	}

	data := make([]byte, len(d.buf)*2)
	for i, s := range d.buf {
		data[2*i] = byte(uint16(s))
		data[2*i+1] = byte(uint16(s) >> 8)
	}

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
}

func (d *Device) Stop() error {
	d.mu.Lock()
	stream := d.stream
	stopC := d.stopC
	d.mu.Unlock()
	if stopC != nil {
		close(stopC)
	}
	if stream == nil {
		return nil
	}
	err := stream.Stop()
	d.readerW.Wait()
	if err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
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
	stream := d.stream
	d.stream = nil
	d.closed = true
	d.mu.Unlock()
	if stream != nil {
		return stream.Close()
	}
	return nil
}
