package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/blip"
)

// daemonConfig is the on-disk configuration for the blipd gateway:
// listen address plus the same tuning knobs blip.Config exposes.
type daemonConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	DefaultFrameSize  int           `yaml:"default_frame_size"`
	BigFrameSize      int           `yaml:"big_frame_size"`
	MaxSendSize       int           `yaml:"max_send_size"`
	AckThreshold      int           `yaml:"ack_threshold"`
	MaxPropertiesSize int           `yaml:"max_properties_size"`
	CompressionLevel  int           `yaml:"compression_level"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

func defaultDaemonConfig() daemonConfig {
	cfg := blip.DefaultConfig()
	return daemonConfig{
		ListenAddr:        ":4984",
		LogLevel:          "info",
		DefaultFrameSize:  cfg.DefaultFrameSize,
		BigFrameSize:      cfg.BigFrameSize,
		MaxSendSize:       cfg.MaxSendSize,
		AckThreshold:      cfg.AckThreshold,
		MaxPropertiesSize: cfg.MaxPropertiesSize,
		CompressionLevel:  cfg.CompressionLevel,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

// loadDaemonConfig reads path as YAML over defaultDaemonConfig, so a
// config file only needs to set the fields it wants to override.
func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (d daemonConfig) blipConfig() blip.Config {
	return blip.Config{
		DefaultFrameSize:  d.DefaultFrameSize,
		BigFrameSize:      d.BigFrameSize,
		MaxSendSize:       d.MaxSendSize,
		AckThreshold:      d.AckThreshold,
		MaxPropertiesSize: d.MaxPropertiesSize,
		CompressionLevel:  d.CompressionLevel,
		ReadTimeout:       d.ReadTimeout,
		WriteTimeout:      d.WriteTimeout,
	}
}
