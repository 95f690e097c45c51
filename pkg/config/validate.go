package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nexus-batch/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// CDPURL
	if c.CDPURL == "" {
		c.CDPURL = "http://127.0.0.1:9222"
	}

	// DownloadsDir
	if c.DownloadsDir == "" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return warnings, fmt.Errorf("%w: downloads_dir is empty and home directory is unknown: %v",
				utils.ErrConfigValidation, homeErr)
		}
		c.DownloadsDir = filepath.Join(home, "Downloads")
		warnings = append(warnings, fmt.Sprintf("downloads_dir is empty, defaulting to %s", c.DownloadsDir))
	}

	// LogDir
	if c.LogDir == "" {
		c.LogDir = "logs"
	}

	// StateDir
	if c.StateDir == "" {
		c.StateDir = "state"
	}

	// UserAgent
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// MaxMods
	if c.MaxMods < 0 {
		warnings = append(warnings, "max_mods cannot be negative, treating as unlimited")
		c.MaxMods = 0
	}

	// Click timeout has a 1s floor: a zero search window can never observe a
	// rendered control.
	if c.ClickTimeout < time.Second {
		if c.ClickTimeout != 0 {
			warnings = append(warnings, "click_timeout below 1s, raising to 1s")
			c.ClickTimeout = time.Second
		} else {
			c.ClickTimeout = 12 * time.Second
		}
	}

	// DelayBetweenItems
	if c.DelayBetweenItems < 0 {
		warnings = append(warnings, "delay_between_items cannot be negative, setting to 0")
		c.DelayBetweenItems = 0
	} else if c.DelayBetweenItems == 0 {
		c.DelayBetweenItems = 1500 * time.Millisecond
	}

	// Download timeout floor mirrors the click floor: completion detection
	// needs at least a few polling rounds.
	if c.DownloadTimeout < 5*time.Second {
		if c.DownloadTimeout != 0 {
			warnings = append(warnings, "download_timeout below 5s, raising to 5s")
			c.DownloadTimeout = 5 * time.Second
		} else {
			c.DownloadTimeout = 45 * time.Second
		}
	}

	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.CollectionTimeout <= 0 {
		c.CollectionTimeout = 90 * time.Second
	}
	if c.SettleWait <= 0 {
		c.SettleWait = 12 * time.Second
	}

	// HTTP client settings
	if c.HTTPClientSettings.Timeout <= 0 {
		c.HTTPClientSettings.Timeout = 60 * time.Second
	}
	if c.HTTPClientSettings.TransferTimeout <= 0 {
		c.HTTPClientSettings.TransferTimeout = 180 * time.Second
	}
	if c.HTTPClientSettings.MaxIdleConns <= 0 {
		c.HTTPClientSettings.MaxIdleConns = 10
	}
	if c.HTTPClientSettings.MaxIdleConnsPerHost <= 0 {
		c.HTTPClientSettings.MaxIdleConnsPerHost = 4
	}
	if c.HTTPClientSettings.IdleConnTimeout <= 0 {
		c.HTTPClientSettings.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTPClientSettings.TLSHandshakeTimeout <= 0 {
		c.HTTPClientSettings.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClientSettings.DialerTimeout <= 0 {
		c.HTTPClientSettings.DialerTimeout = 30 * time.Second
	}
	if c.HTTPClientSettings.DialerKeepAlive <= 0 {
		c.HTTPClientSettings.DialerKeepAlive = 30 * time.Second
	}

	return warnings, nil
}
