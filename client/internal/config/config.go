// Package config loads and generates the resolver settings file. The file
// format mirrors the upstream Alfis TOML schema so existing configs keep
// working on mobile.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Settings is the on-disk configuration.
type Settings struct {
	Origin      string   `toml:"origin"`
	KeyFiles    []string `toml:"key_files"`
	CheckBlocks int      `toml:"check_blocks"`
	Net         Net      `toml:"net"`
	DNS         DNS      `toml:"dns"`
	Mining      Mining   `toml:"mining"`
}

// Net holds the p2p settings.
type Net struct {
	Peers         []string `toml:"peers"`
	Listen        string   `toml:"listen"`
	Public        bool     `toml:"public"`
	YggdrasilOnly bool     `toml:"yggdrasil_only"`
}

// DNS holds the resolver settings.
type DNS struct {
	Listen     string   `toml:"listen"`
	Threads    int      `toml:"threads"`
	Forwarders []string `toml:"forwarders"`
	Bootstraps []string `toml:"bootstraps"`
}

// Mining holds the miner settings, disabled on mobile.
type Mining struct {
	Threads int  `toml:"threads"`
	Lower   bool `toml:"lower"`
}

// defaultConfig is written verbatim when no usable config exists. Values are
// tuned for mobile: reduced block checking, restricted listen mode, DoH
// forwarder with plain fallback, mining off.
const defaultConfig = `# Alfis Android Configuration
# The hash of first block in a chain to know with which nodes to work
origin = "0000001D2A77D63477172678502E51DE7F346061FF7EB188A2445ECA3FC0780E"
# Key files (empty for mobile)
key_files = []
# Reduced block checking for mobile
check_blocks = 4

# Network settings
[net]
# Bootstrap nodes
peers = ["peer-v4.alfis.name:4244", "peer-v6.alfis.name:4244"]
# Listen address (Android may restrict this)
listen = "127.0.0.1:42440"
# Mobile devices shouldn't be public peers
public = false
yggdrasil_only = true

# DNS resolver options
[dns]
# Listen on localhost IPv6 (non-privileged port)
listen = "[::1]:5353"
# Increased threads for better performance
threads = 8
# Use DoH when available, fallback to regular DNS
forwarders = ["https://dns.adguard.com/dns-query", "8.8.8.8:53"]
bootstraps = ["8.8.8.8:53", "1.1.1.1:53"]

# Mining disabled on mobile
[mining]
threads = 0
lower = true
`

// Load reads and parses the settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var settings Settings
	if err := toml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &settings, nil
}

// GenerateDefault writes the default configuration, overwriting any existing
// file at path.
func GenerateDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// LoadOrGenerate loads the settings, generating and persisting the default
// configuration on load failure and retrying the load exactly once.
func LoadOrGenerate(path string) (*Settings, error) {
	settings, err := Load(path)
	if err == nil {
		return settings, nil
	}

	log.Warnf("failed to load settings from %s, generating default config: %v", path, err)
	if genErr := GenerateDefault(path); genErr != nil {
		return nil, fmt.Errorf("generate default config: %w", genErr)
	}

	settings, err = Load(path)
	if err != nil {
		return nil, fmt.Errorf("load generated settings: %w", err)
	}
	return settings, nil
}
