// ABOUTME: Audio type definitions for the capture engine
// ABOUTME: Defines PCM formats, channel layouts, packets and frame/duration math
package audio

import (
	"fmt"
	"time"
)

// ChannelLayout describes how interleaved channels should be interpreted.
type ChannelLayout int

const (
	LayoutUnsupported ChannelLayout = iota
	LayoutMono
	LayoutStereo
	// LayoutDiscrete carries channels with no positional meaning.
	LayoutDiscrete
)

func (l ChannelLayout) String() string {
	switch l {
	case LayoutMono:
		return "mono"
	case LayoutStereo:
		return "stereo"
	case LayoutDiscrete:
		return "discrete"
	}
	return "unsupported"
}

// GuessLayout maps a channel count to a layout. Only mono and stereo can be
// guessed; anything else is unsupported.
func GuessLayout(channels int) ChannelLayout {
	switch channels {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	}
	return LayoutUnsupported
}

// Format describes a fixed-point PCM stream. BitDepth is bits per sample:
// 8 (unsigned), 16 or 32 (signed little-endian).
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Layout     ChannelLayout
}

// FrameSize returns the number of bytes in one interleaved frame.
func (f Format) FrameSize() int {
	return (f.BitDepth / 8) * f.Channels
}

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit/%s", f.SampleRate, f.Channels, f.BitDepth, f.Layout)
}

// Packet is one fixed-size block of interleaved PCM samples delivered to the
// consumer callback. The backing Data slice is reused between deliveries, so
// a consumer that retains audio beyond the callback must copy it.
type Packet struct {
	Data   []byte
	Frames int
	Format Format
}

// Duration returns the wall-clock span covered by the packet.
func (p *Packet) Duration() time.Duration {
	return FramesToDuration(p.Frames, p.Format.SampleRate)
}

// FramesToDuration converts a frame count at the given rate to a duration.
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(sampleRate))
}

// DurationToFrames converts a duration at the given rate to a frame count.
func DurationToFrames(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// PCMToFloat32 decodes interleaved fixed-point samples into float32 values in
// [-1, 1). Returns the number of samples decoded. 8-bit PCM is unsigned, as
// in WAV files; 16-bit and 32-bit are signed little-endian.
func PCMToFloat32(dst []float32, src []byte, bitDepth int) int {
	switch bitDepth {
	case 8, 16, 32:
	default:
		return 0
	}
	bytesPer := bitDepth / 8
	n := len(src) / bytesPer
	if n > len(dst) {
		n = len(dst)
	}
	switch bitDepth {
	case 8:
		for i := 0; i < n; i++ {
			dst[i] = (float32(src[i]) - 128.0) / 128.0
		}
	case 16:
		for i := 0; i < n; i++ {
			v := int16(uint16(src[2*i]) | uint16(src[2*i+1])<<8)
			dst[i] = float32(v) / 32768.0
		}
	case 32:
		for i := 0; i < n; i++ {
			v := int32(uint32(src[4*i]) | uint32(src[4*i+1])<<8 |
				uint32(src[4*i+2])<<16 | uint32(src[4*i+3])<<24)
			dst[i] = float32(v) / 2147483648.0
		}
	default:
		return 0
	}
	return n
}

// Float32ToPCM encodes float32 samples into interleaved fixed-point PCM,
// clamping out-of-range values. Returns the number of samples encoded.
func Float32ToPCM(dst []byte, src []float32, bitDepth int) int {
	switch bitDepth {
	case 8, 16, 32:
	default:
		return 0
	}
	bytesPer := bitDepth / 8
	n := len(dst) / bytesPer
	if n > len(src) {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		s := src[i]
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		switch bitDepth {
		case 8:
			v := int32(s*128.0) + 128
			if v > 255 {
				v = 255
			}
			dst[i] = byte(v)
		case 16:
			v := int32(s * 32767.0)
			dst[2*i] = byte(v)
			dst[2*i+1] = byte(v >> 8)
		case 32:
			v := int64(float64(s) * 2147483647.0)
			dst[4*i] = byte(v)
			dst[4*i+1] = byte(v >> 8)
			dst[4*i+2] = byte(v >> 16)
			dst[4*i+3] = byte(v >> 24)
		default:
			return 0
		}
	}
	return n
}
