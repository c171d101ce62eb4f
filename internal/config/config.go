package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.pigeon/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server Server `toml:"server"`
	Auth   Auth   `toml:"auth"`
	Socket Socket `toml:"socket"`
	Tuning Tuning `toml:"tuning"`
}

// Server holds the two endpoints: the push socket and the HTTP API.
type Server struct {
	WSURL  string `toml:"ws_url"`
	APIURL string `toml:"api_url"`
}

// Auth carries the bearer token and the local identity used for
// optimistic message echoes.
type Auth struct {
	Token    string `toml:"token"`
	UserID   string `toml:"user_id"`
	Nickname string `toml:"nickname"`
	Avatar   string `toml:"avatar"`
}

// Socket selects the websocket backend implementation.
type Socket struct {
	Backend string `toml:"backend"` // "gorilla" or "coder"
}

// Tuning exposes the timing knobs. Zero values fall back to defaults.
type Tuning struct {
	HeartbeatIntervalSec int `toml:"heartbeat_interval_sec"`
	QueuePassDelayMS     int `toml:"queue_pass_delay_ms"`
	RevealRunes          int `toml:"reveal_runes"`
	RevealEveryMS        int `toml:"reveal_every_ms"`
	QuietWindowMS        int `toml:"quiet_window_ms"`
}

// HeartbeatInterval returns the configured interval or zero if unset.
func (t Tuning) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalSec) * time.Second
}

// QueuePassDelay returns the configured pass delay or zero if unset.
func (t Tuning) QueuePassDelay() time.Duration {
	return time.Duration(t.QueuePassDelayMS) * time.Millisecond
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
