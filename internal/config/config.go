// Package config loads and validates crawler configuration via Viper.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/report-archive-crawler/internal/httpclient"
	"github.com/JakeFAU/report-archive-crawler/internal/logging"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  logging.Config `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Sites    SitesConfig    `mapstructure:"sites"`
	Investor InvestorConfig `mapstructure:"investor"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CacheConfig selects and tunes the fetch cache backend.
type CacheConfig struct {
	Backend         string         `mapstructure:"backend"`
	Dir             string         `mapstructure:"dir"`
	MaxAge          time.Duration  `mapstructure:"max_age"`
	MinCompressSize int            `mapstructure:"min_compress_size"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the shared Postgres cache backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// HTTPConfig configures the HTTP session.
type HTTPConfig struct {
	UserAgent          string        `mapstructure:"user_agent"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxBodyBytes       int           `mapstructure:"max_body_bytes"`
	CookieFile         string        `mapstructure:"cookie_file"`
	// Cookies keep their exact names; see readCookies.
	Cookies        map[string]string `mapstructure:"-"`
	Proxy          ProxyConfig       `mapstructure:"proxy"`
	TLSFingerprint string            `mapstructure:"tls_fingerprint"`
}

// ProxyConfig describes an optional upstream proxy.
type ProxyConfig struct {
	Protocol string `mapstructure:"protocol"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Enabled reports whether a proxy host was configured.
func (p ProxyConfig) Enabled() bool {
	return strings.TrimSpace(p.Host) != ""
}

// CrawlerConfig governs prefetching.
type CrawlerConfig struct {
	Workers int `mapstructure:"workers"`
}

// SitesConfig holds the base URLs of the two report directories.
type SitesConfig struct {
	Annual         SiteConfig `mapstructure:"annual"`
	Responsibility SiteConfig `mapstructure:"responsibility"`
}

// SiteConfig describes one report directory.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// InvestorConfig configures the investor-profile API and its term enumeration.
type InvestorConfig struct {
	APIURL        string `mapstructure:"api_url"`
	Origin        string `mapstructure:"origin"`
	Platform      string `mapstructure:"platform"`
	Authorization string `mapstructure:"authorization"`
	PerPage       int    `mapstructure:"per_page"`
	MaxTermLength int    `mapstructure:"max_term_length"`
	StorageDir    string `mapstructure:"storage_dir"`
}

// SinkConfig selects where extracted records are written.
type SinkConfig struct {
	Backends []string     `mapstructure:"backends"`
	Dir      string       `mapstructure:"dir"`
	GCS      GCSConfig    `mapstructure:"gcs"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
}

// GCSConfig names the bucket used by the gcs sink.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPORTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, eris.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, eris.Wrap(err, "unmarshal config")
	}
	if path != "" {
		cookies, err := readCookies(path, v.IsSet("http.cookies"))
		if err != nil {
			return Config{}, err
		}
		cfg.HTTP.Cookies = cookies
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// readCookies decodes http.cookies straight from the config file. Viper folds
// keys to lower case and splits them on dots, which would turn JSESSIONID into
// jsessionid and ASP.NET_SessionId into a nested map.
func readCookies(path string, isSet bool) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		if isSet {
			return nil, eris.Errorf("http.cookies needs a YAML or JSON config file, got %s", path)
		}
		return nil, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return nil, eris.Wrap(err, "read config")
	}
	var doc struct {
		HTTP struct {
			Cookies map[string]string `yaml:"cookies"`
		} `yaml:"http"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "parse http.cookies")
	}
	return doc.HTTP.Cookies, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.dir", "./__cache__")
	v.SetDefault("cache.max_age", "72h")
	v.SetDefault("cache.min_compress_size", 300)
	v.SetDefault("cache.postgres.table", "fetch_cache")
	v.SetDefault("cache.postgres.max_conns", 8)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.cookie_file", "./storage/cookies.json")
	v.SetDefault("http.proxy.protocol", "http")
	v.SetDefault("http.tls_fingerprint", httpclient.FingerprintChrome)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("sites.annual.base_url", "https://www.annualreports.com")
	v.SetDefault("sites.responsibility.base_url", "https://www.responsibilityreports.com")
	v.SetDefault("investor.api_url", "https://companyhub.issuerdirect.com/api/company/profile")
	v.SetDefault("investor.origin", "https://www.investornetwork.com")
	v.SetDefault("investor.platform", "103")
	v.SetDefault("investor.authorization", "Bearer XXXanonymousXXX")
	v.SetDefault("investor.per_page", 25)
	v.SetDefault("investor.max_term_length", 3)
	v.SetDefault("investor.storage_dir", "./storage/investor_network")
	v.SetDefault("sink.backends", []string{"local"})
	v.SetDefault("sink.dir", "./storage")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// DefaultUserAgent is a desktop Chrome user agent; the directory sites reject obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case "sqlite", "local":
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return eris.New("cache.dir must be set")
		}
	case "postgres":
		if c.Cache.Postgres.DSN == "" {
			return eris.New("cache.postgres.dsn must be set when cache.backend is postgres")
		}
	case "memory":
	default:
		return eris.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.MaxAge <= 0 {
		return eris.New("cache.max_age must be > 0")
	}
	if c.Cache.MinCompressSize < 0 {
		return eris.New("cache.min_compress_size must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return eris.New("http.timeout must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return eris.New("http.max_body_bytes must be >= 0")
	}
	if _, _, err := httpclient.ParseFingerprint(c.HTTP.TLSFingerprint); err != nil {
		return eris.Wrap(err, "http.tls_fingerprint")
	}
	if c.HTTP.Proxy.Enabled() && c.HTTP.Proxy.Port <= 0 {
		return eris.New("http.proxy.port must be > 0 when a proxy host is set")
	}
	if c.Crawler.Workers <= 0 {
		return eris.New("crawler.workers must be > 0")
	}
	for name, raw := range map[string]string{
		"sites.annual.base_url":         c.Sites.Annual.BaseURL,
		"sites.responsibility.base_url": c.Sites.Responsibility.BaseURL,
		"investor.api_url":              c.Investor.APIURL,
	} {
		if err := requireAbsoluteURL(name, raw); err != nil {
			return err
		}
	}
	if c.Investor.MaxTermLength <= 0 {
		return eris.New("investor.max_term_length must be > 0")
	}
	if c.Investor.PerPage <= 0 {
		return eris.New("investor.per_page must be > 0")
	}
	for _, backend := range c.Sink.Backends {
		switch backend {
		case "local":
			if strings.TrimSpace(c.Sink.Dir) == "" {
				return eris.New("sink.dir must be set for the local sink")
			}
		case "gcs":
			if c.Sink.GCS.Bucket == "" {
				return eris.New("sink.gcs.bucket must be set for the gcs sink")
			}
		case "pubsub":
			if c.Sink.PubSub.ProjectID == "" || c.Sink.PubSub.Topic == "" {
				return eris.New("sink.pubsub.project_id and sink.pubsub.topic must be set for the pubsub sink")
			}
		case "memory":
		default:
			return eris.Errorf("unknown sink backend %q", backend)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return eris.New("metrics.addr must be set when metrics are enabled")
	}
	return nil
}

func requireAbsoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return eris.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}
