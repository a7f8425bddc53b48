package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/podarchive/podarchive/pkg/fs"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Podcast is the configuration of one archived feed.
type Podcast struct {
	// URL is the upstream feed URL
	URL string `toml:"url"`
	// NameOneWord is the slug used as directory and RSS path component
	NameOneWord string `toml:"name_one_word"`
	// NewName overrides the feed title; empty adopts the upstream title
	NewName string `toml:"new_name"`
	// Description overrides the feed description
	Description string `toml:"description"`
	// ContactEmail overrides itunes:owner/email; empty adopts upstream
	ContactEmail string `toml:"contact_email"`
	// Live controls whether the upstream is fetched; when false the last
	// persisted feed keeps being served
	Live bool `toml:"live"`
}

// WebPage configures the rendered pages.
type WebPage struct {
	Title       string `toml:"title"`
	Description string `toml:"description"`
	Contact     string `toml:"contact"`
}

// App is the application-level configuration.
type App struct {
	// InetPath is the public origin of the archiver, with trailing slash
	InetPath string `toml:"inet_path"`
	// StorageBackend is "local" or "s3"
	StorageBackend string `toml:"storage_backend"`
	// WebPage customizes the rendered pages
	WebPage WebPage `toml:"web_page"`
	// S3 is used when StorageBackend is "s3"
	S3 fs.S3Config `toml:"s3"`
}

// Log is the optional logging configuration.
type Log struct {
	// Level is one of trace, debug, info, warn, error
	Level string `toml:"level"`
	// Path to write the log to instead of stdout
	Path string `toml:"path"`
	// MaxSize is the maximum size of the log file in MB before rotation
	MaxSize int `toml:"max_size"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `toml:"max_backups"`
	// MaxAge is the maximum number of days to keep rotated logs for
	MaxAge int `toml:"max_age"`
	// Compress rotated files
	Compress bool `toml:"compress"`
}

// Server is the web server configuration.
type Server struct {
	// Port to listen on
	Port int `toml:"port"`
	// BindAddress, "*" binds all addresses
	BindAddress string `toml:"bind_address"`
}

type Config struct {
	App      App        `toml:"app"`
	Podcasts []*Podcast `toml:"podcasts"`
	Log      Log        `toml:"logging"`
	Server   Server     `toml:"server"`
}

// LoadConfig loads TOML configuration from a file path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}

	config := Config{}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal toml")
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.InetPath != "" && !strings.HasSuffix(c.App.InetPath, "/") {
		c.App.InetPath += "/"
	}

	if c.App.S3.CDNDomain != "" && !strings.HasSuffix(c.App.S3.CDNDomain, "/") {
		c.App.S3.CDNDomain += "/"
	}

	if c.App.StorageBackend == "" {
		c.App.StorageBackend = BackendLocal
	}

	if c.App.WebPage.Title == "" {
		c.App.WebPage.Title = "Podcast Archive"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Log.Path != "" {
		if c.Log.MaxSize == 0 {
			c.Log.MaxSize = 50
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 7
		}
		if c.Log.MaxAge == 0 {
			c.Log.MaxAge = 30
		}
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

func (c *Config) validate() error {
	var result *multierror.Error

	if c.App.InetPath == "" {
		result = multierror.Append(result, errors.New("app.inet_path is required"))
	} else if !strings.HasPrefix(c.App.InetPath, "http://") && !strings.HasPrefix(c.App.InetPath, "https://") {
		result = multierror.Append(result, errors.Errorf("app.inet_path must be a URL: %q", c.App.InetPath))
	}

	switch c.App.StorageBackend {
	case BackendLocal:
	case BackendS3:
		if c.App.S3.Bucket == "" {
			result = multierror.Append(result, errors.New("app.s3.bucket is required for the s3 backend"))
		}
		if c.App.S3.CDNDomain == "" {
			result = multierror.Append(result, errors.New("app.s3.cdn_domain is required for the s3 backend"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown storage backend %q", c.App.StorageBackend))
	}

	if len(c.Podcasts) == 0 {
		result = multierror.Append(result, errors.New("at least one podcast must be configured"))
	}

	seen := map[string]bool{}
	for _, podcast := range c.Podcasts {
		if podcast.URL == "" {
			result = multierror.Append(result, errors.Errorf("podcast url is required (%q)", podcast.NameOneWord))
		}
		if podcast.NameOneWord == "" {
			result = multierror.Append(result, errors.New("podcast name_one_word is required"))
			continue
		}
		if !nameRegexp.MatchString(podcast.NameOneWord) {
			result = multierror.Append(result, errors.Errorf("podcast name_one_word %q must match %s", podcast.NameOneWord, nameRegexp))
		}
		if seen[podcast.NameOneWord] {
			result = multierror.Append(result, errors.Errorf("duplicate podcast name_one_word %q", podcast.NameOneWord))
		}
		seen[podcast.NameOneWord] = true
	}

	return result.ErrorOrNil()
}
