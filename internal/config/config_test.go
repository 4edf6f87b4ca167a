// ABOUTME: Tests for CLI configuration loading
// ABOUTME: Covers defaults, config file values and missing files
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Errorf("Channels = %d, want 2", cfg.Channels)
	}
	if cfg.BitDepth != 16 {
		t.Errorf("BitDepth = %d, want 16", cfg.BitDepth)
	}
	if cfg.PacketDuration != 10*time.Millisecond {
		t.Errorf("PacketDuration = %v, want 10ms", cfg.PacketDuration)
	}
	if cfg.BufferDuration != 100*time.Millisecond {
		t.Errorf("BufferDuration = %v, want 100ms", cfg.BufferDuration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-file.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want default 48000", cfg.SampleRate)
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	path := filepath.Join(t.TempDir(), "capture.yaml")
	content := "sample_rate: 44100\nchannels: 1\nloopback: true\noutput: session.wav\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.Channels != 1 {
		t.Errorf("Channels = %d, want 1", cfg.Channels)
	}
	if !cfg.Loopback {
		t.Error("Loopback = false, want true")
	}
	if cfg.OutputPath != "session.wav" {
		t.Errorf("OutputPath = %q, want session.wav", cfg.OutputPath)
	}
	// Unset keys keep defaults.
	if cfg.BitDepth != 16 {
		t.Errorf("BitDepth = %d, want default 16", cfg.BitDepth)
	}
}
