package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete flowgazer configuration
type Config struct {
	Identity Identity `yaml:"identity"`
	Relay    Relay    `yaml:"relay"`
	Timeline Timeline `yaml:"timeline"`
	Profiles Profiles `yaml:"profiles"`
	Denylist Denylist `yaml:"denylist"`
	Session  Session  `yaml:"session"`
	Logging  Logging  `yaml:"logging"`
}

// Identity contains the local user's Nostr identity.
// Login is either an npub / NIP-05 address (read-only) or, for signing,
// an nsec taken from the FLOWGAZER_NSEC environment variable.
type Identity struct {
	Login string `yaml:"login"`
	Nsec  string `yaml:"-"`
}

// Relay contains the active relay and connection policy
type Relay struct {
	URL              string `yaml:"url"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

// ConnectTimeout returns the connect timeout as a duration
func (r *Relay) ConnectTimeout() time.Duration {
	if r.ConnectTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.ConnectTimeoutMs) * time.Millisecond
}

// Timeline contains timeline bootstrap and pagination tuning
type Timeline struct {
	AnchorLimit         int  `yaml:"anchor_limit"`          // primary-kind events fetched by the anchor phase
	AnchorTimeoutMs     int  `yaml:"anchor_timeout_ms"`     // anchor phase deadline
	PageSize            int  `yaml:"page_size"`             // load-more step 1 page size
	EoseTimeoutMs       int  `yaml:"eose_timeout_ms"`       // safety deadline for bounded fetches
	ReactionBaseline    int  `yaml:"reaction_baseline"`     // likes-tab window depth (nth most recent reaction)
	PrimaryFloorDepth   int  `yaml:"primary_floor_depth"`   // nth most recent note anchoring secondary kinds
	MaxNoteLength       int  `yaml:"max_note_length"`       // notes longer than this are hidden
	RenderDelayMs       int  `yaml:"render_delay_ms"`       // debounce for scheduled renders
	ShowChannelMessages bool `yaml:"show_channel_messages"` // kind 42 visibility default
}

// AnchorTimeout returns the anchor phase deadline as a duration
func (t *Timeline) AnchorTimeout() time.Duration {
	if t.AnchorTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.AnchorTimeoutMs) * time.Millisecond
}

// EoseTimeout returns the bounded-fetch deadline as a duration
func (t *Timeline) EoseTimeout() time.Duration {
	if t.EoseTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.EoseTimeoutMs) * time.Millisecond
}

// RenderDelay returns the scheduled-render debounce as a duration
func (t *Timeline) RenderDelay() time.Duration {
	if t.RenderDelayMs <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(t.RenderDelayMs) * time.Millisecond
}

// Profiles contains profile batch-fetch tuning
type Profiles struct {
	BatchDelayMs int `yaml:"batch_delay_ms"` // debounce before a queued batch is flushed
	MaxBatchSize int `yaml:"max_batch_size"` // authors per batch subscription
}

// BatchDelay returns the flush debounce as a duration
func (p *Profiles) BatchDelay() time.Duration {
	if p.BatchDelayMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.BatchDelayMs) * time.Millisecond
}

// Denylist contains the forbidden-word list source
type Denylist struct {
	URL            string `yaml:"url"`
	FetchTimeoutMs int    `yaml:"fetch_timeout_ms"`
}

// FetchTimeout returns the denylist fetch deadline as a duration
func (d *Denylist) FetchTimeout() time.Duration {
	if d.FetchTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.FetchTimeoutMs) * time.Millisecond
}

// Session contains the persisted session store location
type Session struct {
	Path string `yaml:"path"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Identity.Nsec = os.Getenv("FLOWGAZER_NSEC")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with the built-in defaults
func Default() *Config {
	return &Config{
		Relay: Relay{
			URL:              "wss://nos.lol/",
			ConnectTimeoutMs: 10000,
		},
		Timeline: Timeline{
			AnchorLimit:       150,
			AnchorTimeoutMs:   10000,
			PageSize:          50,
			EoseTimeoutMs:     30000,
			ReactionBaseline:  50,
			PrimaryFloorDepth: 150,
			MaxNoteLength:     190,
			RenderDelayMs:     300,
		},
		Profiles: Profiles{
			BatchDelayMs: 500,
			MaxBatchSize: 100,
		},
		Session: Session{
			Path: "flowgazer.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if !strings.HasPrefix(c.Relay.URL, "wss://") && !strings.HasPrefix(c.Relay.URL, "ws://") {
		return fmt.Errorf("relay.url must be a websocket URL, got %q", c.Relay.URL)
	}
	if c.Timeline.AnchorLimit <= 0 {
		return fmt.Errorf("timeline.anchor_limit must be positive")
	}
	if c.Timeline.PageSize <= 0 {
		return fmt.Errorf("timeline.page_size must be positive")
	}
	if c.Timeline.ReactionBaseline <= 0 {
		return fmt.Errorf("timeline.reaction_baseline must be positive")
	}
	if c.Timeline.PrimaryFloorDepth <= 0 {
		return fmt.Errorf("timeline.primary_floor_depth must be positive")
	}
	if c.Profiles.MaxBatchSize <= 0 {
		return fmt.Errorf("profiles.max_batch_size must be positive")
	}
	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}
