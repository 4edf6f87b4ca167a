// ABOUTME: WAV file sink for captured packets
// ABOUTME: Implements the capture consumer interface over go-audio's encoder
package recorder

import (
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/capturekit/capture-go/pkg/audio"
)

// Recorder writes delivered packets to a WAV file. It satisfies the capture
// package's Consumer interface; OnData is called from the capture goroutine
// and must not block on anything slower than local file IO.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	format  audio.Format
	ints    []int
	frames  int
	failed  error
	closed  bool
}

// New creates the output file and a WAV encoder for the given format.
// Only 8, 16 and 32 bit integer PCM formats are supported.
func New(path string, format audio.Format) (*Recorder, error) {
	switch format.BitDepth {
	case 8, 16, 32:
	default:
		return nil, fmt.Errorf("recorder: unsupported bit depth %d", format.BitDepth)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	return &Recorder{file: f, enc: enc, format: format}, nil
}

// OnData appends one packet to the file. Packets arriving after Close or
// after a write failure are dropped.
func (r *Recorder) OnData(pkt *audio.Packet, _ time.Time, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.failed != nil {
		return
	}

	samples := pkt.Frames * pkt.Format.Channels
	if cap(r.ints) < samples {
		r.ints = make([]int, samples)
	}
	ints := r.ints[:samples]
	decodePCM(ints, pkt.Data, pkt.Format.BitDepth)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: pkt.Format.Channels,
			SampleRate:  pkt.Format.SampleRate,
		},
		Data:           ints,
		SourceBitDepth: pkt.Format.BitDepth,
	}
	if err := r.enc.Write(buf); err != nil {
		r.failed = err
		return
	}
	r.frames += pkt.Frames
}

// OnError marks the recorder failed; the file keeps whatever was written.
func (r *Recorder) OnError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = fmt.Errorf("recorder: capture stream reported an error")
	}
}

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Err returns the first write failure, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("recorder: finalize wav: %w", err)
	}
	return r.file.Close()
}

// decodePCM expands little-endian PCM bytes into ints for the encoder.
// 8-bit WAV audio is unsigned; wider depths are signed.
func decodePCM(dst []int, src []byte, bitDepth int) {
	switch bitDepth {
	case 8:
		for i := range dst {
			dst[i] = int(src[i])
		}
	case 16:
		for i := range dst {
			dst[i] = int(int16(uint16(src[2*i]) | uint16(src[2*i+1])<<8))
		}
	case 32:
		for i := range dst {
			dst[i] = int(int32(uint32(src[4*i]) | uint32(src[4*i+1])<<8 |
				uint32(src[4*i+2])<<16 | uint32(src[4*i+3])<<24))
		}
	}
}
