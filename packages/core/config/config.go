package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the snare configuration. Include takes a preset name or
// a URL regexp. A Rate of 0 leaves body fetches unlimited.
type Config struct {
	ContentDir         string        `yaml:"contentDir,omitempty"`
	Database           string        `yaml:"database,omitempty"`
	FileOnly           *bool         `yaml:"fileOnly,omitempty"`
	Include            string        `yaml:"include,omitempty"`
	IDFormat           string        `yaml:"idFormat,omitempty"`
	Workers            int           `yaml:"workers,omitempty"`
	Rate               float64       `yaml:"rate,omitempty"`
	MaxExtensionLength int           `yaml:"maxExtensionLength,omitempty"`
	MetricsAddr        string        `yaml:"metricsAddr,omitempty"`
	Browser            BrowserConfig `yaml:"browser,omitempty"`
	Verbose            *bool         `yaml:"verbose,omitempty"`
	NoColor            *bool         `yaml:"noColor,omitempty"`
}

// BrowserConfig holds browser launch settings. RemoteFlags controls whether
// the chrome-launcher default flags are fetched from FlagsURL.
type BrowserConfig struct {
	Bin          string   `yaml:"bin,omitempty"`
	ControlURL   string   `yaml:"controlURL,omitempty"`
	Headless     *bool    `yaml:"headless,omitempty"`
	Devtools     *bool    `yaml:"devtools,omitempty"`
	Incognito    *bool    `yaml:"incognito,omitempty"`
	Stealth      *bool    `yaml:"stealth,omitempty"`
	AdBlock      *bool    `yaml:"adBlock,omitempty"`
	WindowWidth  int      `yaml:"windowWidth,omitempty"`
	WindowHeight int      `yaml:"windowHeight,omitempty"`
	Flags        []string `yaml:"flags,omitempty"`
	RemoteFlags  *bool    `yaml:"remoteFlags,omitempty"`
	FlagsURL     string   `yaml:"flagsURL,omitempty"`
}

// boolPtr returns a pointer to a bool value
func boolPtr(b bool) *bool {
	return &b
}

// BoolPtr is exported version of boolPtr for external use
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFileOnly returns the file-only setting, defaulting to false
func (c *Config) GetFileOnly() bool {
	return getBool(c.FileOnly, false)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetHeadless returns the headless setting, defaulting to false
func (b *BrowserConfig) GetHeadless() bool {
	return getBool(b.Headless, false)
}

// GetDevtools returns the devtools setting, defaulting to true
func (b *BrowserConfig) GetDevtools() bool {
	return getBool(b.Devtools, true)
}

// GetIncognito returns the incognito setting, defaulting to true
func (b *BrowserConfig) GetIncognito() bool {
	return getBool(b.Incognito, true)
}

// GetStealth returns the stealth setting, defaulting to true
func (b *BrowserConfig) GetStealth() bool {
	return getBool(b.Stealth, true)
}

// GetAdBlock returns the ad-block setting, defaulting to true
func (b *BrowserConfig) GetAdBlock() bool {
	return getBool(b.AdBlock, true)
}

// GetRemoteFlags returns whether launcher default flags are fetched, defaulting to true
func (b *BrowserConfig) GetRemoteFlags() bool {
	return getBool(b.RemoteFlags, true)
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".snare.yaml",
	"snare.yaml",
	".snare.yml",
	".snarerc",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}

	// Search for config file in current directory
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fileConfig Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return DefaultConfig().Merge(&fileConfig), nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.ContentDir != "" {
		result.ContentDir = other.ContentDir
	}
	if other.Database != "" {
		result.Database = other.Database
	}
	if other.Include != "" {
		result.Include = other.Include
	}
	if other.IDFormat != "" {
		result.IDFormat = other.IDFormat
	}
	if other.Workers > 0 {
		result.Workers = other.Workers
	}
	if other.Rate > 0 {
		result.Rate = other.Rate
	}
	if other.MaxExtensionLength > 0 {
		result.MaxExtensionLength = other.MaxExtensionLength
	}
	if other.MetricsAddr != "" {
		result.MetricsAddr = other.MetricsAddr
	}

	// Boolean flags - only override if explicitly set in other config
	if other.FileOnly != nil {
		result.FileOnly = other.FileOnly
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	result.Browser = c.Browser.merge(other.Browser)

	return &result
}

func (b BrowserConfig) merge(other BrowserConfig) BrowserConfig {
	if other.Bin != "" {
		b.Bin = other.Bin
	}
	if other.ControlURL != "" {
		b.ControlURL = other.ControlURL
	}
	if other.FlagsURL != "" {
		b.FlagsURL = other.FlagsURL
	}
	if other.WindowWidth > 0 {
		b.WindowWidth = other.WindowWidth
	}
	if other.WindowHeight > 0 {
		b.WindowHeight = other.WindowHeight
	}
	if other.Headless != nil {
		b.Headless = other.Headless
	}
	if other.Devtools != nil {
		b.Devtools = other.Devtools
	}
	if other.Incognito != nil {
		b.Incognito = other.Incognito
	}
	if other.Stealth != nil {
		b.Stealth = other.Stealth
	}
	if other.AdBlock != nil {
		b.AdBlock = other.AdBlock
	}
	if other.RemoteFlags != nil {
		b.RemoteFlags = other.RemoteFlags
	}

	// Extra flags accumulate
	if len(other.Flags) > 0 {
		b.Flags = append(append([]string(nil), b.Flags...), other.Flags...)
	}

	return b
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
