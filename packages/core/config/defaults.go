package config

import "github.com/abdul-hamid-achik/snare/packages/browser"

const (
	// DefaultContentDir is where response bodies are written
	DefaultContentDir = "./output/responses"
	// DefaultDatabase is the metadata store location
	DefaultDatabase = "./output/responses.sqlite3"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	b := browser.DefaultConfig()
	return &Config{
		ContentDir:         DefaultContentDir,
		Database:           DefaultDatabase,
		FileOnly:           boolPtr(false),
		Include:            "everything",
		IDFormat:           "timestamp",
		Workers:            8,
		Rate:               0,
		MaxExtensionLength: 10,
		Browser: BrowserConfig{
			Headless:     boolPtr(b.Headless),
			Devtools:     boolPtr(b.Devtools),
			Incognito:    boolPtr(b.Incognito),
			Stealth:      boolPtr(b.Stealth),
			AdBlock:      boolPtr(b.AdBlock),
			WindowWidth:  b.WindowWidth,
			WindowHeight: b.WindowHeight,
			RemoteFlags:  boolPtr(true),
			FlagsURL:     browser.DefaultFlagsURL,
		},
		Verbose: boolPtr(false),
		NoColor: boolPtr(false),
	}
}
