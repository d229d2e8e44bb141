package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chirp/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// UserID is the id of the signed-in user. Authentication itself happens
	// elsewhere; the daemon only needs to know who it is acting for.
	UserID string `toml:"user_id"`

	Notifications Notifications `toml:"notifications"`
	Retry         Retry         `toml:"retry"`
	Analysis      Analysis      `toml:"analysis"`
	Diagnostics   Diagnostics   `toml:"diagnostics"`
}

// Notifications holds user notification preferences.
type Notifications struct {
	Enabled         bool       `toml:"enabled"`
	DirectMessages  bool       `toml:"direct_messages"`
	GroupChats      bool       `toml:"group_chats"`
	ForegroundOnly  bool       `toml:"foreground_only"`
	QuietHours      QuietHours `toml:"quiet_hours"`
	KeywordOverride bool       `toml:"keyword_override"`
	Keywords        []string   `toml:"keywords"`
	SoundName       string     `toml:"sound"`
}

// QuietHours is a daily window during which notifications are suppressed.
// Start > End describes an overnight window (e.g. 22:00 -> 08:00).
type QuietHours struct {
	Enabled  bool   `toml:"enabled"`
	Start    string `toml:"start"` // HH:MM
	End      string `toml:"end"`   // HH:MM
	Timezone string `toml:"timezone"`
}

// Retry tunes the pipeline retry queue.
type Retry struct {
	BaseDelayMS int     `toml:"base_delay_ms"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxRetries  int     `toml:"max_retries"`
	ThrottleMS  int     `toml:"throttle_ms"`
}

// Analysis configures the external message analysis endpoint.
type Analysis struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	APIKey    string `toml:"api_key"`
	TimeoutMS int    `toml:"timeout_ms"`
	// ContextSize is how many preceding chat messages are sent alongside
	// the analyzed message.
	ContextSize int `toml:"context_size"`
}

// Diagnostics configures the localhost debug/metrics listener.
type Diagnostics struct {
	ListenAddr string `toml:"listen_addr"`
}

// Default returns a config with sensible defaults applied.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Notifications: Notifications{
			Enabled:        true,
			DirectMessages: true,
			GroupChats:     true,
			QuietHours: QuietHours{
				Start:    "22:00",
				End:      "08:00",
				Timezone: "Local",
			},
		},
		Retry: Retry{
			BaseDelayMS: 500,
			MaxDelayMS:  30000,
			Multiplier:  2,
			MaxRetries:  3,
			ThrottleMS:  2000,
		},
		Analysis: Analysis{
			TimeoutMS:   10000,
			ContextSize: 10,
		},
		Diagnostics: Diagnostics{
			ListenAddr: "127.0.0.1:7431",
		},
	}
}

// Load reads config from the given path. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
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

// AnalysisTimeout returns the analysis request timeout as a duration.
func (c *Config) AnalysisTimeout() time.Duration {
	if c.Analysis.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Analysis.TimeoutMS) * time.Millisecond
}
