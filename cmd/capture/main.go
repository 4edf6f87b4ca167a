// ABOUTME: Entry point for the audio capture tool
// ABOUTME: Parses CLI flags, opens a capture stream and records to WAV
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/capturekit/capture-go/internal/backend/malgo"
	"github.com/capturekit/capture-go/internal/config"
	"github.com/capturekit/capture-go/internal/diagnostics"
	"github.com/capturekit/capture-go/internal/logging"
	"github.com/capturekit/capture-go/internal/monitor"
	"github.com/capturekit/capture-go/internal/recorder"
	"github.com/capturekit/capture-go/internal/version"
	"github.com/capturekit/capture-go/pkg/audio"
	"github.com/capturekit/capture-go/pkg/capture"
)

var (
	configPath  = flag.String("config", "", "Path to config file")
	deviceName  = flag.String("device", "", "Capture device name (default: system default)")
	listDevices = flag.Bool("list-devices", false, "List capture and playback devices, then exit")
	loopback    = flag.Bool("loopback", false, "Capture system audio output instead of a microphone")
	sampleRate  = flag.Int("rate", 0, "Sample rate in Hz")
	channels    = flag.Int("channels", 0, "Channel count (1 or 2)")
	bitDepth    = flag.Int("bits", 0, "Bits per sample (8, 16 or 32)")
	duration    = flag.Duration("duration", 0, "Stop after this long (default: run until interrupted)")
	output      = flag.String("output", "", "Output WAV file path")
	monitorOut  = flag.Bool("monitor", false, "Play captured audio on the default output")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile     = flag.String("log-file", "", "Log file path")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// multiConsumer fans one delivery out to several sinks.
type multiConsumer []capture.Consumer

func (m multiConsumer) OnData(pkt *audio.Packet, captureTime time.Time, volume float64) {
	for _, c := range m {
		c.OnData(pkt, captureTime, volume)
	}
}

func (m multiConsumer) OnError() {
	for _, c := range m {
		c.OnError()
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	logger := logging.New(cfg.LogLevel, cfg.LogFile)

	backend, err := malgo.NewBackend()
	if err != nil {
		logger.Fatal().Err(err).Msg("audio backend init failed")
	}
	defer backend.Close()

	if *listDevices {
		printDevices(backend)
		return
	}

	var dev *malgo.Device
	if cfg.Loopback {
		dev, err = backend.OpenLoopback(cfg.Device)
	} else {
		dev, err = backend.OpenCapture(cfg.Device)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("open device failed")
	}

	requested := audio.Format{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BitDepth:   cfg.BitDepth,
		Layout:     audio.GuessLayout(cfg.Channels),
	}

	registry := diagnostics.NewRegistry()
	stream, err := capture.NewStream(dev, requested, capture.Options{
		Logger:         &logger,
		Diagnostics:    diagnostics.NewSink(logger, registry),
		PacketFrames:   audio.DurationToFrames(cfg.PacketDuration, cfg.SampleRate),
		BufferDuration: cfg.BufferDuration,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create stream failed")
	}

	if outcome := stream.Open(); outcome != capture.OpenSuccess {
		logger.Fatal().Stringer("outcome", outcome).Msg("open stream failed")
	}
	logger.Info().
		Stringer("requested", stream.RequestedFormat()).
		Stringer("negotiated", stream.NegotiatedFormat()).
		Bool("conversion", stream.NeedsConversion()).
		Msg("stream opened")

	rec, err := recorder.New(cfg.OutputPath, stream.RequestedFormat())
	if err != nil {
		logger.Fatal().Err(err).Msg("create recorder failed")
	}

	status := &sessionStatus{
		device:   dev.ID(),
		format:   requested.String(),
		loopback: cfg.Loopback,
	}
	sinks := multiConsumer{rec, &levelMeter{status: status}}

	var mon *monitor.Monitor
	if *monitorOut {
		mon, err = monitor.New(stream.RequestedFormat())
		if err != nil {
			logger.Fatal().Err(err).Msg("open monitor output failed")
		}
		sinks = append(sinks, mon)
	}

	stream.Start(sinks)

	quitChan := make(chan struct{}, 1)
	done := make(chan struct{})
	go watchDiscontinuities(registry, status, done)
	runUntilDone(status, quitChan)
	close(done)

	stream.Stop()
	stats := stream.GlitchStats()
	stream.Close()
	if mon != nil {
		mon.Close()
	}
	if err := rec.Close(); err != nil {
		logger.Error().Err(err).Msg("finalize recording failed")
	}

	logger.Info().
		Int("frames", rec.Frames()).
		Str("output", cfg.OutputPath).
		Int("glitches", stats.GlitchCount).
		Dur("audio_lost", stats.TotalGlitchDuration).
		Int("discontinuities", stats.DiscontinuityCount).
		Int("timestamp_errors", stats.TimestampErrorCount).
		Msg("capture finished")
}

// applyFlags overrides config values with explicitly set flags.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device = *deviceName
		case "loopback":
			cfg.Loopback = *loopback
		case "rate":
			cfg.SampleRate = *sampleRate
		case "channels":
			cfg.Channels = *channels
		case "bits":
			cfg.BitDepth = *bitDepth
		case "output":
			cfg.OutputPath = *output
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
}

func printDevices(backend *malgo.Backend) {
	captureDevs, err := backend.ListCaptureDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "enumerate capture devices: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Capture devices:")
	for _, d := range captureDevs {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, d.Name)
	}

	playbackDevs, err := backend.ListPlaybackDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "enumerate playback devices: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Playback devices (loopback sources):")
	for _, d := range playbackDevs {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, d.Name)
	}
}

// watchDiscontinuities mirrors flushed discontinuity counts into the TUI
// status until the session ends.
func watchDiscontinuities(registry *diagnostics.Registry, status *sessionStatus, quit <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			var total int64
			for _, s := range registry.Samples(capture.HistogramDiscontinuities) {
				total += s
			}
			status.mu.Lock()
			status.discontinuities = int(total)
			status.mu.Unlock()
		}
	}
}

// runUntilDone blocks until the user quits, a signal arrives, or the
// configured duration elapses.
func runUntilDone(status *sessionStatus, quitChan chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	if *noTUI {
		select {
		case <-sigChan:
		case <-timeout:
		}
		return
	}

	p := tea.NewProgram(newTUIModel(status, quitChan), tea.WithAltScreen())
	go func() {
		select {
		case <-sigChan:
		case <-timeout:
		case <-quitChan:
		}
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui: %v\n", err)
	}
}
