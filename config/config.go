package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TomlDevice is a device entry of the roster seed
type TomlDevice struct {
	Name string `toml:"name"`
	Ip   string `toml:"ip"`
	Mac  string `toml:"mac"`
}

// TomlChannel is a feed subscription of the roster seed
type TomlChannel struct {
	Name string `toml:"name"`
	Url  string `toml:"url"`
}

// TomlConfig represents the top-level roster seed file
type TomlConfig struct {
	Devices  []TomlDevice  `toml:"devices"`
	Channels []TomlChannel `toml:"channels"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	meta, err := toml.Decode(string(data), &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("error parsing config file: unknown key %q", undecoded[0].String())
	}

	for i, device := range config.Devices {
		if device.Name == "" || device.Ip == "" || device.Mac == "" {
			return nil, fmt.Errorf("device #%d: name, ip and mac are required", i+1)
		}
	}
	for i, channel := range config.Channels {
		if channel.Name == "" || channel.Url == "" {
			return nil, fmt.Errorf("channel #%d: name and url are required", i+1)
		}
	}

	return &config, nil
}

const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

// ParseInterval reads a tick interval. A bare integer is a number of
// seconds, anything else must be a Go duration such as "90s" or "5m".
func ParseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("interval is required")
	}

	var interval time.Duration
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds > maxIntervalSeconds {
			return 0, fmt.Errorf("interval %q is too large", raw)
		}
		interval = time.Duration(seconds) * time.Second
	} else {
		interval, err = time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: want seconds or a duration like 30s", raw)
		}
	}

	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %q", raw)
	}
	return interval, nil
}
