// ABOUTME: Tests for the capture loop's device position tracking
// ABOUTME: Covers chunk continuation, gap accounting and the flush cadence
package capture

import (
	"testing"

	"github.com/capturekit/capture-go/pkg/audio"
)

func positionTestStream(t *testing.T, diag Diagnostics) *Stream {
	t.Helper()
	s, err := NewStream(&formatDevice{support: FormatSupported}, requestedFormat(), Options{
		Diagnostics:  diag,
		PacketFrames: 480,
	})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	return s
}

func TestTrackPositionContinuation(t *testing.T) {
	s := positionTestStream(t, nil)

	// A chunk split across two buffers re-reports its position; the second
	// buffer extends the expectation instead of resetting it.
	s.trackPosition(0, 480, 0, 48000)
	s.trackPosition(480, 480, 0, 48000)
	s.trackPosition(480, 480, 0, 48000)
	s.trackPosition(1440, 480, 0, 48000)

	if stats := s.tracker.GetLongTermStatsAndReset(); stats.GlitchCount != 0 {
		t.Fatalf("GlitchCount = %d after continuation, want 0", stats.GlitchCount)
	}

	// A genuine jump past the accumulated expectation is still a glitch.
	s.trackPosition(2400, 480, 0, 48000)

	stats := s.tracker.GetLongTermStatsAndReset()
	if stats.GlitchCount != 1 {
		t.Errorf("GlitchCount = %d after position jump, want 1", stats.GlitchCount)
	}
	if want := audio.FramesToDuration(480, 48000); stats.TotalGlitchDuration != want {
		t.Errorf("TotalGlitchDuration = %v, want %v", stats.TotalGlitchDuration, want)
	}
}

func TestTrackPositionFlushCadence(t *testing.T) {
	diag := newRecordingDiag()
	s := positionTestStream(t, diag)

	// Buffers delivered before the device position starts moving still
	// count toward the periodic flush, with no discontinuities observed.
	for i := 0; i < callbacksPerLogPeriod; i++ {
		s.trackPosition(0, 480, FlagDataDiscontinuity, 48000)
	}

	flushed := diag.samples[HistogramDiscontinuities]
	if len(flushed) != 1 || flushed[0] != 0 {
		t.Fatalf("flushed samples = %v, want one sample of 0", flushed)
	}
}
