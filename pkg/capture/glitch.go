// ABOUTME: Glitch and discontinuity statistics for a capture session
// ABOUTME: Accumulates short-term and long-term counters off the real-time path
package capture

import (
	"fmt"
	"time"
)

// callbacksPerLogPeriod is how many drained packets pass between short-term
// flushes. At typical 10ms packets this spans roughly 10 seconds.
const callbacksPerLogPeriod = 1000

// GlitchStats is the cumulative quality record of one open/close session.
type GlitchStats struct {
	GlitchCount           int
	TotalGlitchDuration   time.Duration
	LargestGlitchDuration time.Duration

	DiscontinuityCount  int
	TimestampErrorCount int
	// Time from stream start until the first unreliable hardware
	// timestamp was observed. Zero if none occurred.
	TimeUntilFirstTimestampError time.Duration
}

// GlitchTracker accumulates data-quality statistics during capture. All
// methods are called from the capture goroutine only; reporting happens
// through the diagnostics sink, never by blocking the caller.
type GlitchTracker struct {
	diag Diagnostics

	callbackCount           int
	shortTermDiscontinuity  int
	longTermDiscontinuity   int

	glitchCount   int
	totalGlitch   time.Duration
	largestGlitch time.Duration

	timestampErrors    int
	timeToFirstTsError time.Duration
}

// NewGlitchTracker creates a tracker reporting through diag.
func NewGlitchTracker(diag Diagnostics) *GlitchTracker {
	if diag == nil {
		diag = nopDiagnostics{}
	}
	return &GlitchTracker{diag: diag}
}

// Log records one drained hardware packet and whether the device flagged a
// data discontinuity for it. Every callbacksPerLogPeriod calls the
// short-term discontinuity count is flushed to the diagnostics sink and
// reset; the long-term count keeps accumulating until
// GetLongTermStatsAndReset.
func (g *GlitchTracker) Log(observedDiscontinuity bool) {
	g.callbackCount++
	if observedDiscontinuity {
		g.shortTermDiscontinuity++
		g.longTermDiscontinuity++
	}

	if g.callbackCount%callbacksPerLogPeriod != 0 {
		return
	}

	g.diag.Report(HistogramDiscontinuities, int64(g.shortTermDiscontinuity))
	g.shortTermDiscontinuity = 0
}

// UpdateStats records the outcome of one device-position comparison. A zero
// duration means the positions lined up; a positive duration is audio lost
// to a glitch.
func (g *GlitchTracker) UpdateStats(glitchDuration time.Duration) {
	if glitchDuration <= 0 {
		return
	}
	g.glitchCount++
	g.totalGlitch += glitchDuration
	if glitchDuration > g.largestGlitch {
		g.largestGlitch = glitchDuration
	}
}

// RecordTimestampError counts one unreliable hardware timestamp. sinceStart
// is the time elapsed since the capture session began; the first occurrence
// is kept for diagnostics.
func (g *GlitchTracker) RecordTimestampError(sinceStart time.Duration) {
	if g.timestampErrors == 0 {
		g.timeToFirstTsError = sinceStart
	}
	g.timestampErrors++
}

// Flush pushes the short-term discontinuity counter to the diagnostics sink
// without waiting for the periodic flush. Called when capture stops.
func (g *GlitchTracker) Flush() {
	if g.shortTermDiscontinuity > 0 {
		g.diag.Report(HistogramDiscontinuities, int64(g.shortTermDiscontinuity))
		g.shortTermDiscontinuity = 0
	}
}

// GetLongTermStatsAndReset returns the session statistics and zeroes every
// counter, short-term and long-term alike.
func (g *GlitchTracker) GetLongTermStatsAndReset() GlitchStats {
	stats := GlitchStats{
		GlitchCount:                  g.glitchCount,
		TotalGlitchDuration:          g.totalGlitch,
		LargestGlitchDuration:        g.largestGlitch,
		DiscontinuityCount:           g.longTermDiscontinuity,
		TimestampErrorCount:          g.timestampErrors,
		TimeUntilFirstTimestampError: g.timeToFirstTsError,
	}

	g.callbackCount = 0
	g.shortTermDiscontinuity = 0
	g.longTermDiscontinuity = 0
	g.glitchCount = 0
	g.totalGlitch = 0
	g.largestGlitch = 0
	g.timestampErrors = 0
	g.timeToFirstTsError = 0

	return stats
}

// report emits the end-of-session summary through the diagnostics sink and
// resets all counters.
func (g *GlitchTracker) report() GlitchStats {
	stats := g.GetLongTermStatsAndReset()
	g.diag.LogMessage(fmt.Sprintf(
		"capture session: glitches=%d, lost=%v, largest=%v, discontinuities=%d, timestamp_errors=%d",
		stats.GlitchCount, stats.TotalGlitchDuration, stats.LargestGlitchDuration,
		stats.DiscontinuityCount, stats.TimestampErrorCount))
	if stats.TimestampErrorCount > 0 {
		g.diag.LogMessage(fmt.Sprintf(
			"capture session: first timestamp error after %v", stats.TimeUntilFirstTimestampError))
	}
	g.diag.Report(HistogramGlitches, int64(stats.GlitchCount))
	g.diag.Report(HistogramTimestampErrors, int64(stats.TimestampErrorCount))
	return stats
}
