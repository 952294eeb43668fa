// Package config loads the TOML configuration files for the broker
// and peer binaries.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Broker is the broker's on-disk configuration.
type Broker struct {
	ListenAddr     string `toml:"listen_addr"`
	SweepInterval  string `toml:"sweep_interval"`
	LivenessWindow string `toml:"liveness_window"`
	MetricsAddr    string `toml:"metrics_addr"`
	LogLevel       string `toml:"log_level"`
}

// SweepIntervalDuration parses SweepInterval, defaulting to 5s.
func (b *Broker) SweepIntervalDuration() time.Duration {
	return parseDurationOrDefault(b.SweepInterval, 5*time.Second)
}

// LivenessWindowDuration parses LivenessWindow, defaulting to 15s.
func (b *Broker) LivenessWindowDuration() time.Duration {
	return parseDurationOrDefault(b.LivenessWindow, 15*time.Second)
}

// Peer is the peer's on-disk configuration.
type Peer struct {
	ID                string `toml:"id"`
	BrokerAddr        string `toml:"broker_addr"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	AckWindow         string `toml:"ack_window"`
	MaxRetries        int    `toml:"max_retries"`
	PaceDelay         string `toml:"pace_delay"`
	ReceivedFilesDir  string `toml:"received_files_dir"`
	MetricsAddr       string `toml:"metrics_addr"`
	LogLevel          string `toml:"log_level"`
	StorePath         string `toml:"store_path"`
}

// StorePassphraseEnvVar is the environment variable foxrelay-peer reads
// the transcript store's passphrase from. It is deliberately kept out
// of the TOML file so a config file can be shared or committed without
// leaking the key.
const StorePassphraseEnvVar = "FOXRELAY_STORE_PASSPHRASE"

// HeartbeatIntervalDuration parses HeartbeatInterval, defaulting to 5s.
func (p *Peer) HeartbeatIntervalDuration() time.Duration {
	return parseDurationOrDefault(p.HeartbeatInterval, 5*time.Second)
}

// AckWindowDuration parses AckWindow, defaulting to 50ms.
func (p *Peer) AckWindowDuration() time.Duration {
	return parseDurationOrDefault(p.AckWindow, 50*time.Millisecond)
}

// PaceDelayDuration parses PaceDelay, defaulting to 10ms.
func (p *Peer) PaceDelayDuration() time.Duration {
	return parseDurationOrDefault(p.PaceDelay, 10*time.Millisecond)
}

// MaxRetriesOrDefault returns MaxRetries, defaulting to 5 when unset.
func (p *Peer) MaxRetriesOrDefault() int {
	if p.MaxRetries <= 0 {
		return 5
	}
	return p.MaxRetries
}

// ReceivedFilesDirOrDefault returns ReceivedFilesDir, defaulting to
// "received_files".
func (p *Peer) ReceivedFilesDirOrDefault() string {
	if p.ReceivedFilesDir == "" {
		return "received_files"
	}
	return p.ReceivedFilesDir
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// LoadBroker decodes a Broker config from a TOML file.
func LoadBroker(path string) (*Broker, error) {
	cfg := &Broker{}
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPeer decodes a Peer config from a TOML file.
func LoadPeer(path string) (*Peer, error) {
	cfg := &Peer{}
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
