package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for reportharvest.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"    yaml:"site"`
	Fetcher FetcherConfig `mapstructure:"fetcher" yaml:"fetcher"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// SiteConfig describes the single site being harvested.
type SiteConfig struct {
	IndexURL         string   `mapstructure:"index_url"          yaml:"index_url"`
	AllowedPrefix    string   `mapstructure:"allowed_prefix"     yaml:"allowed_prefix"`
	LinkXPath        string   `mapstructure:"link_xpath"         yaml:"link_xpath"`
	BanSignature     string   `mapstructure:"ban_signature"      yaml:"ban_signature"`
	OffDomainMarkers []string `mapstructure:"off_domain_markers" yaml:"off_domain_markers"`
}

// FetcherConfig controls how pages are retrieved.
type FetcherConfig struct {
	Type        string        `mapstructure:"type"          yaml:"type"` // browser, http
	PageTimeout time.Duration `mapstructure:"page_timeout"  yaml:"page_timeout"`
	Headless    bool          `mapstructure:"headless"      yaml:"headless"`
	Stealth     bool          `mapstructure:"stealth"       yaml:"stealth"`
	BrowserBin  string        `mapstructure:"browser_bin"   yaml:"browser_bin"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent   string        `mapstructure:"user_agent"    yaml:"user_agent"`
	MaxBodySize int64         `mapstructure:"max_body_size" yaml:"max_body_size"`
}

// StorageConfig controls the link set, the report table and optional mirrors.
type StorageConfig struct {
	LinksFile   string      `mapstructure:"links_file"   yaml:"links_file"`
	ReportsFile string      `mapstructure:"reports_file" yaml:"reports_file"`
	BatchSize   int         `mapstructure:"batch_size"   yaml:"batch_size"`
	Mongo       MongoConfig `mapstructure:"mongo"        yaml:"mongo"`
	SQLitePath  string      `mapstructure:"sqlite_path"  yaml:"sqlite_path"`

	// SQLiteMirror also upserts every flushed batch into SQLitePath.
	SQLiteMirror bool `mapstructure:"sqlite_mirror" yaml:"sqlite_mirror"`
}

// MongoConfig enables mirroring every flushed batch into a MongoDB collection.
type MongoConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns the configuration the harvester runs with when nothing
// is overridden.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			IndexURL:      "https://www.erowid.org/experiences/exp.cgi?ShowViews=0&Cellar=0&Start=0&Max=39877",
			AllowedPrefix: "https://www.erowid.org",
			LinkXPath:     "//a[contains(@href, 'exp.php?ID=')]",
			BanSignature:  "403 Forbidden: Your IP Address Has Been Blocked",
			OffDomainMarkers: []string{
				"reset.me",
				"wordpress.com",
			},
		},
		Fetcher: FetcherConfig{
			Type:        "browser",
			PageTimeout: 15 * time.Second,
			Headless:    true,
			Stealth:     true,
			MaxBodySize: 10 * 1024 * 1024, // 10MB
			UserAgent:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		},
		Storage: StorageConfig{
			LinksFile:   "erowid_links.txt",
			ReportsFile: "Erowid_Trip_Reports.csv",
			BatchSize:   100,
			Mongo: MongoConfig{
				Database:   "reportharvest",
				Collection: "reports",
			},
			SQLitePath: "reports.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
