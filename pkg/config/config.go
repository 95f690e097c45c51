package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is presented on direct-download requests so the endpoint
// sees the same client family as the driven browser session.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124 Safari/537.36"

// AppConfig holds the persisted application configuration. Values resolved
// interactively or from flags are written back so the next run starts from
// the previous answers.
type AppConfig struct {
	CollectionURL string `yaml:"collection_url,omitempty"`
	DownloadsDir  string `yaml:"downloads_dir,omitempty"`
	InstallDir    string `yaml:"install_dir,omitempty"`
	CDPURL        string `yaml:"cdp_url,omitempty"`
	LogDir        string `yaml:"log_dir,omitempty"`
	StateDir      string `yaml:"state_dir,omitempty"` // Run history DB location
	UserAgent     string `yaml:"user_agent,omitempty"`

	MaxMods         int   `yaml:"max_mods,omitempty"`         // 0 = no cap
	VerifyDownloads *bool `yaml:"verify_downloads,omitempty"` // nil = enabled
	SkipInstall     bool  `yaml:"skip_install,omitempty"`

	ClickTimeout      time.Duration `yaml:"click_timeout,omitempty"`       // Per click-search step
	DelayBetweenItems time.Duration `yaml:"delay_between_items,omitempty"` // Inter-item pacing
	DownloadTimeout   time.Duration `yaml:"download_timeout,omitempty"`    // Per-item completion wait
	NavigationTimeout time.Duration `yaml:"navigation_timeout,omitempty"`  // Per navigation attempt
	CollectionTimeout time.Duration `yaml:"collection_timeout,omitempty"`  // Collection page load
	SettleWait        time.Duration `yaml:"settle_wait,omitempty"`         // Post-scroll interception window

	// BrowserCandidates is the ordered list of browser executables tried when
	// the CDP endpoint is down. Injected here rather than hardcoded so the
	// launcher stays testable without the host OS.
	BrowserCandidates []string `yaml:"browser_candidates,omitempty"`

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the direct-download HTTP client.
type HTTPClientConfig struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`               // Download-URL resolution timeout
	TransferTimeout     time.Duration `yaml:"transfer_timeout,omitempty"`      // Archive transfer timeout
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`        // Max total idle connections
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// VerifyEnabled resolves the tri-state verification toggle (nil = on).
func (c *AppConfig) VerifyEnabled() bool {
	return c.VerifyDownloads == nil || *c.VerifyDownloads
}

// Load reads the YAML config at path. A missing file yields a zero config
// and no error; a malformed file is reported.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config back to path, creating parent directories.
func (c *AppConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
