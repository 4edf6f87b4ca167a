// ABOUTME: Live monitor playback of captured audio through oto
// ABOUTME: A capture consumer feeding a persistent pipe-backed player
package monitor

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/capturekit/capture-go/pkg/audio"
)

// Monitor plays delivered packets back on the default output device so the
// operator can hear what is being captured. Only 16-bit capture formats are
// supported; oto plays 16-bit signed PCM.
//
// Implements the capture Consumer interface. OnData must not block the
// capture goroutine for long, so the pipe write happens on a dedicated
// playback goroutine fed through a drop-oldest channel.
type Monitor struct {
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	packets chan []byte
	done    chan struct{}

	mu     sync.Mutex
	failed bool
	closed bool
}

// New opens the default playback device for the given capture format.
func New(format audio.Format) (*Monitor, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("monitor: only 16-bit playback supported, got %d", format.BitDepth)
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("monitor: create oto context: %w", err)
	}

	select {
	case <-readyChan:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("monitor: audio output not ready")
	}

	m := &Monitor{
		otoCtx:  ctx,
		packets: make(chan []byte, 32),
		done:    make(chan struct{}),
	}
	m.pipeReader, m.pipeWriter = io.Pipe()
	m.player = ctx.NewPlayer(m.pipeReader)
	m.player.Play()

	go m.playLoop()
	return m, nil
}

func (m *Monitor) playLoop() {
	defer close(m.done)
	for data := range m.packets {
		if _, err := m.pipeWriter.Write(data); err != nil {
			return
		}
	}
}

// OnData queues one packet for playback. When playback falls behind, the
// oldest queued packet is dropped; the monitor path prefers staying live
// over playing everything.
func (m *Monitor) OnData(pkt *audio.Packet, _ time.Time, _ float64) {
	m.mu.Lock()
	if m.closed || m.failed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	data := make([]byte, len(pkt.Data))
	copy(data, pkt.Data)
	for {
		select {
		case m.packets <- data:
			return
		default:
			select {
			case <-m.packets:
			default:
			}
		}
	}
}

// OnError stops accepting packets; playback drains what is queued.
func (m *Monitor) OnError() {
	m.mu.Lock()
	m.failed = true
	m.mu.Unlock()
}

// Close stops playback and releases the output device.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.packets)
	m.pipeWriter.Close()
	<-m.done
	return m.player.Close()
}
