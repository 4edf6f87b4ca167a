// ABOUTME: Pull-based sample converter between device and requested formats
// ABOUTME: Resamples and mixes FIFO blocks into fixed-size output packets
package capture

import (
	"math"

	"github.com/capturekit/capture-go/pkg/audio"
	"github.com/oov/audio/resampler"
)

const resampleQuality = 10

// SampleConverter turns blocks of device-format audio into packets of the
// requested format. It is pull-based: Convert drains its source (the FIFO)
// only when enough input is buffered to fill a whole output packet, and
// reports "not ready" otherwise so the capture loop can defer to the next
// device wake. Construction primes the converter with one packet of silence
// so the first delivery never reads uninitialized memory.
//
// Only fixed-point PCM is handled; float device formats must be negotiated
// away before the converter is built.
type SampleConverter struct {
	in  audio.Format
	out audio.Format

	// Frames pulled from the FIFO per source block. Chosen so one source
	// block converts to roughly one output packet.
	inBlockFrames   int
	outPacketFrames int
	imperfect       bool

	pull func() []byte

	rs *resampler.Resampler

	// staged holds converted, interleaved output-format samples waiting
	// to be emitted.
	staged []float32

	inFloat   []float32
	mixed     []float32
	planarIn  [][]float32
	planarOut [][]float32
	outBytes  []byte
}

// newSampleConverter computes the source block size for the given output
// packet size and builds the conversion pipeline. pull returns one FIFO
// block of input-format audio, or nil when none is complete yet.
func newSampleConverter(in, out audio.Format, outPacketFrames int, pull func() []byte) *SampleConverter {
	// One source block should convert to one output packet: scale the
	// packet size by the ratio of the two sample rates.
	bufferRatio := float64(out.SampleRate) / float64(outPacketFrames)
	newFramesPerBuffer := float64(in.SampleRate) / bufferRatio

	c := &SampleConverter{
		in:              in,
		out:             out,
		inBlockFrames:   int(newFramesPerBuffer),
		outPacketFrames: outPacketFrames,
		imperfect:       math.Trunc(newFramesPerBuffer) != newFramesPerBuffer,
		pull:            pull,
	}

	if in.SampleRate != out.SampleRate {
		c.rs = resampler.New(out.Channels, in.SampleRate, out.SampleRate, resampleQuality)
	}

	maxFrames := c.inBlockFrames + 1
	// Upsampling expands each block by the rate ratio, which can reach
	// 256x across the negotiable range. Size the per-channel scratch so a
	// whole resampled block always fits, plus filter headroom.
	outFramesPerBlock := maxFrames
	if out.SampleRate > in.SampleRate {
		ratio := (out.SampleRate + in.SampleRate - 1) / in.SampleRate
		outFramesPerBlock = (ratio + 1) * maxFrames
	}
	c.inFloat = make([]float32, maxFrames*in.Channels)
	c.mixed = make([]float32, maxFrames*out.Channels)
	c.planarIn = make([][]float32, out.Channels)
	c.planarOut = make([][]float32, out.Channels)
	for ch := 0; ch < out.Channels; ch++ {
		c.planarIn[ch] = make([]float32, maxFrames)
		c.planarOut[ch] = make([]float32, outFramesPerBlock+64)
	}
	c.outBytes = make([]byte, outPacketFrames*out.FrameSize())

	c.PrimeWithSilence()
	return c
}

// PrimeWithSilence stages one output packet of silence so the first Convert
// succeeds before any real data has arrived.
func (c *SampleConverter) PrimeWithSilence() {
	c.staged = make([]float32, 0, 4*c.outPacketFrames*c.out.Channels)
	c.staged = append(c.staged, make([]float32, c.outPacketFrames*c.out.Channels)...)
}

// InputBlockFrames returns the number of input frames consumed per source
// block.
func (c *SampleConverter) InputBlockFrames() int {
	return c.inBlockFrames
}

// Imperfect reports whether the rate ratio is fractional. When true the
// caller must keep an extra FIFO slot and must not convert until at least
// two full source blocks are queued, or the converter may underrun.
func (c *SampleConverter) Imperfect() bool {
	return c.imperfect
}

// Convert fills dst with one output packet. Returns false when not enough
// input is buffered; the caller should retry after the next device wake.
// Never blocks.
func (c *SampleConverter) Convert(dst *audio.Packet) bool {
	need := c.outPacketFrames * c.out.Channels
	for len(c.staged) < need {
		block := c.pull()
		if block == nil {
			return false
		}
		c.process(block)
	}

	audio.Float32ToPCM(c.outBytes, c.staged[:need], c.out.BitDepth)
	n := copy(c.staged, c.staged[need:])
	c.staged = c.staged[:n]

	dst.Data = c.outBytes
	dst.Frames = c.outPacketFrames
	dst.Format = c.out
	return true
}

// process converts one input block and appends the result to the staging
// buffer: decode to float, mix channels, then resample if the rates differ.
func (c *SampleConverter) process(block []byte) {
	frames := len(block) / c.in.FrameSize()
	samples := audio.PCMToFloat32(c.inFloat[:frames*c.in.Channels], block, c.in.BitDepth)
	mixed := c.mixChannels(c.inFloat[:samples])

	if c.rs == nil {
		c.staged = append(c.staged, mixed...)
		return
	}

	mixedFrames := len(mixed) / c.out.Channels
	for ch := 0; ch < c.out.Channels; ch++ {
		for i := 0; i < mixedFrames; i++ {
			c.planarIn[ch][i] = mixed[i*c.out.Channels+ch]
		}
	}

	written := 0
	for ch := 0; ch < c.out.Channels; ch++ {
		w := c.resampleChannel(ch, c.planarIn[ch][:mixedFrames])
		if ch == 0 || w < written {
			written = w
		}
	}
	for i := 0; i < written; i++ {
		for ch := 0; ch < c.out.Channels; ch++ {
			c.staged = append(c.staged, c.planarOut[ch][i])
		}
	}
}

// resampleChannel pushes a whole planar block through the resampler,
// looping until all input is consumed. Returns frames written.
func (c *SampleConverter) resampleChannel(ch int, in []float32) int {
	out := c.planarOut[ch]
	written := 0
	for off := 0; off < len(in); {
		r, w := c.rs.ProcessFloat32(ch, in[off:], out[written:])
		if r == 0 && w == 0 {
			break
		}
		off += r
		written += w
	}
	return written
}

// mixChannels converts between mono and stereo interleaving. Same channel
// count passes through untouched.
func (c *SampleConverter) mixChannels(in []float32) []float32 {
	switch {
	case c.in.Channels == c.out.Channels:
		return in
	case c.in.Channels == 1 && c.out.Channels == 2:
		frames := len(in)
		out := c.mixed[:2*frames]
		for i, v := range in {
			out[2*i] = v
			out[2*i+1] = v
		}
		return out
	case c.in.Channels == 2 && c.out.Channels == 1:
		frames := len(in) / 2
		out := c.mixed[:frames]
		for i := 0; i < frames; i++ {
			out[i] = (in[2*i] + in[2*i+1]) / 2
		}
		return out
	}
	return in
}
