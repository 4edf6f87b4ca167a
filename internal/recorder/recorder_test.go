// ABOUTME: Tests for the WAV recorder sink
// ABOUTME: Writes packets and decodes the file back to verify contents
package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/capturekit/capture-go/pkg/audio"
)

func testFormat() audio.Format {
	return audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono}
}

func TestRecorderWritesDecodableWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	format := testFormat()

	r, err := New(path, format)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// One packet with a recognizable ramp.
	frames := 4
	data := make([]byte, frames*format.FrameSize())
	want := []int16{100, 200, -300, 400}
	for i, v := range want {
		data[2*i] = byte(uint16(v))
		data[2*i+1] = byte(uint16(v) >> 8)
	}
	pkt := &audio.Packet{Data: data, Frames: frames, Format: format}
	r.OnData(pkt, time.Now(), 0.0)

	if got := r.Frames(); got != frames {
		t.Errorf("Frames = %d, want %d", got, frames)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Format.SampleRate != format.SampleRate || buf.Format.NumChannels != format.Channels {
		t.Errorf("decoded format = %d Hz %d ch, want %d Hz %d ch",
			buf.Format.SampleRate, buf.Format.NumChannels, format.SampleRate, format.Channels)
	}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(want))
	}
	for i, v := range want {
		if buf.Data[i] != int(v) {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], v)
		}
	}
}

func TestRecorderDropsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	format := testFormat()

	r, err := New(path, format)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pkt := &audio.Packet{Data: make([]byte, 4*format.FrameSize()), Frames: 4, Format: format}
	r.OnData(pkt, time.Now(), 0.0)

	if got := r.Frames(); got != 0 {
		t.Errorf("Frames after Close = %d, want 0", got)
	}
}

func TestRecorderOnErrorStopsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	format := testFormat()

	r, err := New(path, format)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	r.OnError()
	pkt := &audio.Packet{Data: make([]byte, 4*format.FrameSize()), Frames: 4, Format: format}
	r.OnData(pkt, time.Now(), 0.0)

	if r.Err() == nil {
		t.Error("Err() = nil after OnError")
	}
	if got := r.Frames(); got != 0 {
		t.Errorf("Frames after OnError = %d, want 0", got)
	}
}

func TestRecorderRejectsUnsupportedDepth(t *testing.T) {
	format := audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 24, Layout: audio.LayoutMono}
	if _, err := New(filepath.Join(t.TempDir(), "out.wav"), format); err == nil {
		t.Error("New with 24-bit format succeeded, want error")
	}
}
