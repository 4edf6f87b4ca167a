// ABOUTME: Format negotiation between requested and device-native formats
// ABOUTME: Decides whether capture runs natively or through sample conversion
package capture

import (
	"fmt"

	"github.com/capturekit/capture-go/pkg/audio"
)

// Sample rates the converter can work with. Matches the limits of the
// resampler rather than any particular device.
const (
	minSampleRate = 3000
	maxSampleRate = 768000
)

// NegotiatedFormat is the outcome of format negotiation: the format the
// device engine will actually produce, and whether the engine must convert
// it into the requested format before delivery.
type NegotiatedFormat struct {
	Format          audio.Format
	NeedsConversion bool
}

// Negotiate asks the device for the closest supported format and decides
// whether conversion is required. It has no side effects on the device or
// stream; negotiating the same request against the same device capabilities
// always yields the same result.
//
// Returns ErrFormatNotSupported when the device rejects the request and its
// closest match cannot be converted from.
func Negotiate(dev Device, requested audio.Format) (NegotiatedFormat, error) {
	support, closest, err := dev.IsFormatSupported(requested)
	if err != nil {
		return NegotiatedFormat{}, fmt.Errorf("format query failed: %w", err)
	}

	switch support {
	case FormatSupported:
		return NegotiatedFormat{Format: requested}, nil
	case FormatClosestMatch:
		// A zero bit depth marks a non-PCM engine format (typically
		// float). We still request fixed-point PCM at the original depth
		// and let the device convert.
		if closest.BitDepth == 0 {
			closest.BitDepth = requested.BitDepth
		}
		closest.Layout = audio.GuessLayout(closest.Channels)
		if !convertible(closest) {
			return NegotiatedFormat{}, fmt.Errorf("closest match %s: %w", closest, ErrFormatNotSupported)
		}
		return NegotiatedFormat{Format: closest, NeedsConversion: true}, nil
	}
	return NegotiatedFormat{}, ErrFormatNotSupported
}

// convertible reports whether the sample converter can take this device
// format as input.
func convertible(f audio.Format) bool {
	if f.SampleRate < minSampleRate || f.SampleRate > maxSampleRate {
		return false
	}
	switch f.BitDepth {
	case 8, 16, 32:
	default:
		return false
	}
	return f.Layout != audio.LayoutUnsupported
}
