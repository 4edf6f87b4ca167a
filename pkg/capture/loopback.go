// ABOUTME: Loopback (system audio) capture support composed onto a Stream
// ABOUTME: Manages the auxiliary render device and optional mute-while-capturing
package capture

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/capturekit/capture-go/pkg/audio"
)

// LoopbackOptions configures capture of a render endpoint's output instead
// of a microphone.
type LoopbackOptions struct {
	// Render is the playback device whose output is captured. Loopback
	// capture devices do not emit ready signals on their own; the engine
	// drives capture from this device's signal instead.
	Render Device

	// MuteSystemAudio silences the render endpoint for the duration of
	// the capture session. The captured signal is unaffected.
	MuteSystemAudio bool
}

// loopbackEngine runs the auxiliary render device in lockstep with the
// stream's capture device. The render side produces no data the stream
// reads; it exists to pace the capture side and, optionally, to mute
// playback while recording.
type loopbackEngine struct {
	render Device
	mute   bool

	muteDone bool
}

func newLoopbackEngine(opts LoopbackOptions) *loopbackEngine {
	return &loopbackEngine{
		render: opts.Render,
		mute:   opts.MuteSystemAudio,
	}
}

func (l *loopbackEngine) initialize(format audio.Format, bufferDuration time.Duration) error {
	if l.render == nil {
		return errors.New("loopback capture requires a render device")
	}
	if err := l.render.Activate(); err != nil {
		return err
	}
	return l.render.Initialize(format, bufferDuration)
}

func (l *loopbackEngine) readySignal() <-chan struct{} {
	if l.render == nil {
		return nil
	}
	return l.render.ReadySignal()
}

func (l *loopbackEngine) start() error {
	return l.render.Start()
}

func (l *loopbackEngine) stop() error {
	return l.render.Stop()
}

// muteOnStart mutes the render endpoint if requested and the endpoint is
// not already muted. Tracks whether this engine owns the mute so stop only
// unmutes what it muted.
func (l *loopbackEngine) muteOnStart(logger zerolog.Logger) {
	if !l.mute || l.muteDone {
		return
	}
	muted, err := l.render.Mute()
	if err != nil {
		logger.Error().Err(err).Msg("query render mute failed")
		return
	}
	if muted {
		return
	}
	if err := l.render.SetMute(true); err != nil {
		logger.Error().Err(err).Msg("mute render endpoint failed")
		return
	}
	l.muteDone = true
}

func (l *loopbackEngine) unmuteOnStop(logger zerolog.Logger) {
	if !l.muteDone {
		return
	}
	if err := l.render.SetMute(false); err != nil {
		logger.Error().Err(err).Msg("unmute render endpoint failed")
	}
	l.muteDone = false
}

func (l *loopbackEngine) close(logger zerolog.Logger) {
	if l.render == nil {
		return
	}
	l.unmuteOnStop(logger)
	if err := l.render.Close(); err != nil {
		logger.Error().Err(err).Msg("render device close failed")
	}
}
