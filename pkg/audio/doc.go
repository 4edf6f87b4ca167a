// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Packet types and PCM sample conversion functions
// Package audio provides fundamental audio types and utilities for the
// capture engine.
//
// This package defines core types used throughout the capture library:
//   - Format: Describes a PCM stream (sample rate, channels, bit depth, layout)
//   - Packet: A fixed-size block of interleaved PCM samples
//
// It also provides utilities for converting between PCM bit depths and
// float32 samples, and for converting frame counts to durations:
//
//	format := audio.Format{
//	    SampleRate: 48000,
//	    Channels:   1,
//	    BitDepth:   16,
//	    Layout:     audio.LayoutMono,
//	}
//
//	d := audio.FramesToDuration(480, format.SampleRate) // 10ms
package audio
