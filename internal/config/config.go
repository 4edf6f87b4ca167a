// ABOUTME: Viper-backed configuration for the capture CLI
// ABOUTME: Defaults, optional config file and typed accessors
package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime settings of the capture tool.
type Config struct {
	LogLevel string
	LogFile  string

	Device         string
	Loopback       bool
	MuteOnLoopback bool

	SampleRate     int
	Channels       int
	BitDepth       int
	PacketDuration time.Duration
	BufferDuration time.Duration

	OutputPath string
}

func setDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("device", "")
	viper.SetDefault("loopback", false)
	viper.SetDefault("mute_on_loopback", false)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("channels", 2)
	viper.SetDefault("bit_depth", 16)
	viper.SetDefault("packet_ms", 10)
	viper.SetDefault("buffer_ms", 100)
	viper.SetDefault("output", "capture.wav")
}

// Load reads the named config file if it exists and returns the merged
// settings. A missing file is not an error; defaults apply.
func Load(configFilePath string) (*Config, error) {
	setDefaults()

	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			_, notFound := err.(viper.ConfigFileNotFoundError)
			if !notFound && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	return &Config{
		LogLevel:       viper.GetString("loglevel"),
		LogFile:        viper.GetString("logfile"),
		Device:         viper.GetString("device"),
		Loopback:       viper.GetBool("loopback"),
		MuteOnLoopback: viper.GetBool("mute_on_loopback"),
		SampleRate:     viper.GetInt("sample_rate"),
		Channels:       viper.GetInt("channels"),
		BitDepth:       viper.GetInt("bit_depth"),
		PacketDuration: time.Duration(viper.GetInt("packet_ms")) * time.Millisecond,
		BufferDuration: time.Duration(viper.GetInt("buffer_ms")) * time.Millisecond,
		OutputPath:     viper.GetString("output"),
	}, nil
}
