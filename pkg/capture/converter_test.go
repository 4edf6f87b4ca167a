// ABOUTME: Tests for the pull-based sample converter
// ABOUTME: Covers priming, block sizing, channel mixing and rate conversion
package capture

import (
	"testing"

	"github.com/capturekit/capture-go/pkg/audio"
)

func stereo48k() audio.Format {
	return audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16, Layout: audio.LayoutStereo}
}

func mono48k() audio.Format {
	return audio.Format{SampleRate: 48000, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono}
}

// blockQueue is a scripted FIFO stand-in.
type blockQueue struct {
	blocks [][]byte
}

func (q *blockQueue) pull() []byte {
	if len(q.blocks) == 0 {
		return nil
	}
	b := q.blocks[0]
	q.blocks = q.blocks[1:]
	return b
}

func TestConverterBlockSizing(t *testing.T) {
	tests := []struct {
		name            string
		inRate          int
		outRate         int
		packetFrames    int
		wantBlockFrames int
		wantImperfect   bool
	}{
		{"same rate", 48000, 48000, 480, 480, false},
		{"44.1k to 48k", 44100, 48000, 480, 441, false},
		{"22.05k to 48k", 22050, 48000, 480, 220, true},
		{"96k to 48k", 96000, 48000, 480, 960, false},
		{"8k to 48k", 8000, 48000, 480, 80, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := audio.Format{SampleRate: tt.inRate, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono}
			out := audio.Format{SampleRate: tt.outRate, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono}
			c := newSampleConverter(in, out, tt.packetFrames, (&blockQueue{}).pull)

			if got := c.InputBlockFrames(); got != tt.wantBlockFrames {
				t.Errorf("InputBlockFrames = %d, want %d", got, tt.wantBlockFrames)
			}
			if got := c.Imperfect(); got != tt.wantImperfect {
				t.Errorf("Imperfect = %v, want %v", got, tt.wantImperfect)
			}
		})
	}
}

func TestConverterPrimedWithSilence(t *testing.T) {
	out := mono48k()
	c := newSampleConverter(mono48k(), out, 480, (&blockQueue{}).pull)

	// The first packet must succeed before any input exists, and must be
	// silent.
	var pkt audio.Packet
	if !c.Convert(&pkt) {
		t.Fatal("first Convert failed on a primed converter")
	}
	if pkt.Frames != 480 || pkt.Format != out {
		t.Errorf("packet = %d frames %v, want 480 frames %v", pkt.Frames, pkt.Format, out)
	}
	for i, b := range pkt.Data {
		if b != 0 {
			t.Fatalf("primed packet byte %d = %#x, want silence", i, b)
		}
	}

	// The priming packet is spent; with no input the converter is not
	// ready.
	if c.Convert(&pkt) {
		t.Error("Convert succeeded with no input after the primed packet")
	}
}

func TestConverterPassthroughData(t *testing.T) {
	out := mono48k()
	q := &blockQueue{}
	c := newSampleConverter(mono48k(), out, 4, q.pull)

	block := make([]byte, 4*2)
	want := []int16{1000, -1000, 2000, -2000}
	for i, v := range want {
		block[2*i] = byte(uint16(v))
		block[2*i+1] = byte(uint16(v) >> 8)
	}
	q.blocks = append(q.blocks, block)

	var pkt audio.Packet
	c.Convert(&pkt) // primed silence

	if !c.Convert(&pkt) {
		t.Fatal("Convert failed with one block queued")
	}
	for i, v := range want {
		got := int16(uint16(pkt.Data[2*i]) | uint16(pkt.Data[2*i+1])<<8)
		// One LSB of tolerance for the float round trip.
		if diff := int(got) - int(v); diff < -1 || diff > 1 {
			t.Errorf("sample %d = %d, want %d", i, got, v)
		}
	}
}

func TestConverterMonoToStereo(t *testing.T) {
	in := mono48k()
	out := stereo48k()
	q := &blockQueue{}
	c := newSampleConverter(in, out, 4, q.pull)

	block := make([]byte, 4*2)
	for i, v := range []int16{100, 200, 300, 400} {
		block[2*i] = byte(uint16(v))
		block[2*i+1] = byte(uint16(v) >> 8)
	}
	q.blocks = append(q.blocks, block)

	var pkt audio.Packet
	c.Convert(&pkt) // primed silence
	if !c.Convert(&pkt) {
		t.Fatal("Convert failed with one block queued")
	}

	for frame := 0; frame < 4; frame++ {
		left := int16(uint16(pkt.Data[4*frame]) | uint16(pkt.Data[4*frame+1])<<8)
		right := int16(uint16(pkt.Data[4*frame+2]) | uint16(pkt.Data[4*frame+3])<<8)
		if left != right {
			t.Errorf("frame %d: left %d != right %d after mono upmix", frame, left, right)
		}
	}
}

func TestConverterHighRatioConservesFrames(t *testing.T) {
	in := audio.Format{SampleRate: 3000, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono}
	out := mono48k()
	q := &blockQueue{}
	c := newSampleConverter(in, out, 480, q.pull)

	if got := c.InputBlockFrames(); got != 30 {
		t.Fatalf("InputBlockFrames = %d, want 30", got)
	}

	const blocks = 20
	for i := 0; i < blocks; i++ {
		q.blocks = append(q.blocks, make([]byte, 30*2))
	}

	// 600 input frames at a 16x ratio are 9600 output frames, 20 packets.
	// Resampler latency may hold back the tail, but a high ratio must not
	// silently truncate the input.
	var pkt audio.Packet
	packets := 0
	for c.Convert(&pkt) {
		packets++
	}
	if packets < 18 {
		t.Errorf("converted %d packets from %d input blocks, want at least 18", packets, blocks)
	}
}

func TestConverterResamples(t *testing.T) {
	in := audio.Format{SampleRate: 24000, Channels: 1, BitDepth: 16, Layout: audio.LayoutMono}
	out := mono48k()
	q := &blockQueue{}
	c := newSampleConverter(in, out, 480, q.pull)

	if got := c.InputBlockFrames(); got != 240 {
		t.Fatalf("InputBlockFrames = %d, want 240", got)
	}

	// Queue plenty of silent input so resampler latency cannot starve a
	// full output packet.
	for i := 0; i < 10; i++ {
		q.blocks = append(q.blocks, make([]byte, 240*2))
	}

	var pkt audio.Packet
	if !c.Convert(&pkt) {
		t.Fatal("primed Convert failed")
	}
	if !c.Convert(&pkt) {
		t.Fatal("Convert failed with 10 input blocks queued")
	}
	if pkt.Frames != 480 {
		t.Errorf("packet frames = %d, want 480", pkt.Frames)
	}
}
