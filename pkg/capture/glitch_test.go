// ABOUTME: Tests for the glitch tracker
// ABOUTME: Covers accumulation, periodic flushes and long-term reset
package capture

import (
	"testing"
	"time"
)

// recordingDiag captures everything the tracker reports.
type recordingDiag struct {
	messages []string
	samples  map[string][]int64
}

func newRecordingDiag() *recordingDiag {
	return &recordingDiag{samples: make(map[string][]int64)}
}

func (d *recordingDiag) LogMessage(msg string) {
	d.messages = append(d.messages, msg)
}

func (d *recordingDiag) Report(name string, sample int64) {
	d.samples[name] = append(d.samples[name], sample)
}

func TestGlitchTrackerUpdateStats(t *testing.T) {
	g := NewGlitchTracker(nil)

	g.UpdateStats(10 * time.Millisecond)
	g.UpdateStats(0) // positions lined up, not a glitch
	g.UpdateStats(-5 * time.Millisecond)
	g.UpdateStats(30 * time.Millisecond)
	g.UpdateStats(20 * time.Millisecond)

	stats := g.GetLongTermStatsAndReset()
	if stats.GlitchCount != 3 {
		t.Errorf("GlitchCount = %d, want 3", stats.GlitchCount)
	}
	if want := 60 * time.Millisecond; stats.TotalGlitchDuration != want {
		t.Errorf("TotalGlitchDuration = %v, want %v", stats.TotalGlitchDuration, want)
	}
	if want := 30 * time.Millisecond; stats.LargestGlitchDuration != want {
		t.Errorf("LargestGlitchDuration = %v, want %v", stats.LargestGlitchDuration, want)
	}
}

func TestGlitchTrackerDiscontinuityCounts(t *testing.T) {
	g := NewGlitchTracker(nil)

	g.Log(true)
	g.Log(false)
	g.Log(true)

	stats := g.GetLongTermStatsAndReset()
	if stats.DiscontinuityCount != 2 {
		t.Errorf("DiscontinuityCount = %d, want 2", stats.DiscontinuityCount)
	}
}

func TestGlitchTrackerPeriodicFlush(t *testing.T) {
	diag := newRecordingDiag()
	g := NewGlitchTracker(diag)

	// One flush period of callbacks with 7 discontinuities spread in.
	for i := 0; i < 1000; i++ {
		g.Log(i%143 == 0)
	}

	flushed := diag.samples[HistogramDiscontinuities]
	if len(flushed) != 1 {
		t.Fatalf("flushed %d samples over one period, want 1", len(flushed))
	}
	if flushed[0] != 7 {
		t.Errorf("flushed sample = %d, want 7", flushed[0])
	}

	// The short-term counter reset; the long-term one did not.
	g.Log(true)
	stats := g.GetLongTermStatsAndReset()
	if stats.DiscontinuityCount != 8 {
		t.Errorf("DiscontinuityCount = %d, want 8", stats.DiscontinuityCount)
	}
}

func TestGlitchTrackerFlush(t *testing.T) {
	diag := newRecordingDiag()
	g := NewGlitchTracker(diag)

	g.Log(true)
	g.Flush()

	flushed := diag.samples[HistogramDiscontinuities]
	if len(flushed) != 1 || flushed[0] != 1 {
		t.Fatalf("Flush reported %v, want one sample of 1", flushed)
	}

	// Nothing pending, nothing reported.
	g.Flush()
	if got := len(diag.samples[HistogramDiscontinuities]); got != 1 {
		t.Errorf("second Flush added a sample: %d total", got)
	}
}

func TestGlitchTrackerTimestampErrors(t *testing.T) {
	g := NewGlitchTracker(nil)

	g.RecordTimestampError(3 * time.Second)
	g.RecordTimestampError(9 * time.Second)

	stats := g.GetLongTermStatsAndReset()
	if stats.TimestampErrorCount != 2 {
		t.Errorf("TimestampErrorCount = %d, want 2", stats.TimestampErrorCount)
	}
	if want := 3 * time.Second; stats.TimeUntilFirstTimestampError != want {
		t.Errorf("TimeUntilFirstTimestampError = %v, want %v", stats.TimeUntilFirstTimestampError, want)
	}
}

func TestGlitchTrackerReset(t *testing.T) {
	g := NewGlitchTracker(nil)

	g.Log(true)
	g.UpdateStats(10 * time.Millisecond)
	g.RecordTimestampError(time.Second)
	g.GetLongTermStatsAndReset()

	stats := g.GetLongTermStatsAndReset()
	if stats != (GlitchStats{}) {
		t.Errorf("stats after reset = %+v, want zero value", stats)
	}
}

func TestGlitchTrackerReportSummary(t *testing.T) {
	diag := newRecordingDiag()
	g := NewGlitchTracker(diag)

	g.UpdateStats(10 * time.Millisecond)
	g.RecordTimestampError(time.Second)
	g.report()

	if len(diag.messages) != 2 {
		t.Fatalf("report emitted %d messages, want 2", len(diag.messages))
	}
	if got := diag.samples[HistogramGlitches]; len(got) != 1 || got[0] != 1 {
		t.Errorf("glitch histogram = %v, want [1]", got)
	}
	if got := diag.samples[HistogramTimestampErrors]; len(got) != 1 || got[0] != 1 {
		t.Errorf("timestamp error histogram = %v, want [1]", got)
	}
}
