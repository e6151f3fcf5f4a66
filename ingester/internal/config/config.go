package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval    = 5 * time.Minute
	DefaultCycleTimeout      = 2 * time.Minute
	DefaultFallbackFile      = "../data/sample_metrics.txt"
	DefaultStatusCommand     = "cephadm shell ceph mgr dump -f json"
	DefaultSSHPort           = 22
	DefaultSSHTimeout        = 10 * time.Second
	DefaultMetricsPort       = 9283
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsTimeout    = 10 * time.Second
	DefaultTableConcurrency  = 4
	DefaultReportTTL         = 30 * time.Minute
	DefaultBroadcastInterval = 5 * time.Second
	DefaultAPIKeyHeader      = "X-API-Key"
)

// Host key policies for the SSH session.
const (
	HostKeyKnownHosts = "known_hosts"
	HostKeyInsecure   = "insecure"
)

// Storage drivers and load modes.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ModeReplace = "replace"
	ModeAppend  = "append"
)

// Config is the top-level ingester configuration.
type Config struct {
	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// ScrapeInterval controls how often every cluster is ingested.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// CycleTimeout bounds one cluster's locate→fetch→parse→load cycle.
	CycleTimeout time.Duration `yaml:"cycle_timeout"`

	// FallbackFile is read instead of a live endpoint when no cluster is configured.
	FallbackFile string `yaml:"fallback_file"`

	Clusters []Cluster     `yaml:"clusters"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Storage  StorageConfig `yaml:"storage"`
	Server   ServerConfig  `yaml:"server"`
}

// Cluster is one Ceph cluster reachable over SSH.
type Cluster struct {
	// ID is a unique, human-readable identifier used in logs and reports.
	ID string `yaml:"id"`

	// Endpoint is the SSH entry point (host or host:port).
	Endpoint string `yaml:"endpoint"`

	SSH SSHConfig `yaml:"ssh"`

	// StatusCommand is run on the entry point; its stdout must be the JSON
	// manager dump.
	StatusCommand string `yaml:"status_command"`
}

// Address returns Endpoint with the default SSH port applied when missing.
func (c Cluster) Address() string {
	if _, _, err := net.SplitHostPort(c.Endpoint); err == nil {
		return c.Endpoint
	}
	return net.JoinHostPort(c.Endpoint, strconv.Itoa(DefaultSSHPort))
}

// SSHConfig holds the remote session credentials and trust policy.
type SSHConfig struct {
	Username string `yaml:"username"`

	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`

	// PrivateKeyFile is an optional PEM key used in addition to the password.
	PrivateKeyFile string `yaml:"private_key_file"`

	// HostKeyPolicy is known_hosts or insecure. It has no default.
	HostKeyPolicy string `yaml:"host_key_policy"`

	// KnownHostsFile is used when HostKeyPolicy is known_hosts.
	KnownHostsFile string `yaml:"known_hosts_file"`

	Timeout time.Duration `yaml:"timeout"`
}

// Password returns the SSH password resolved from the environment.
func (s SSHConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// MetricsConfig describes the manager's exposition endpoint.
type MetricsConfig struct {
	Port    int           `yaml:"port"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects and addresses the relational store.
type StorageConfig struct {
	// Driver is postgres or sqlite.
	Driver string `yaml:"driver"`

	// Mode is replace (drop and recreate each table every cycle) or append.
	Mode string `yaml:"mode"`

	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"sslmode"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`

	// TableConcurrency bounds how many tables of one cycle load in parallel.
	TableConcurrency int `yaml:"table_concurrency"`
}

// Password returns the database password resolved from the environment.
func (s StorageConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// DSN returns the connection string for the configured driver.
func (s StorageConfig) DSN() string {
	if s.Driver == DriverSQLite {
		return "file:" + s.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(s.User, s.Password()),
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	if s.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(s.SSLMode)
	}
	return u.String()
}

// ServerConfig configures the status API. An empty Listen disables it.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	ReportTTL         time.Duration `yaml:"report_ttl"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	Auth              APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig configures status API authentication.
type APIAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header carrying the key.
	Header string `yaml:"header"`

	// KeyEnv names the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a APIAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults, including the
// POSTGRES_* environment fallbacks for storage.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fill(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		LogLevel:       "info",
		ScrapeInterval: DefaultScrapeInterval,
		CycleTimeout:   DefaultCycleTimeout,
		FallbackFile:   DefaultFallbackFile,
		Metrics: MetricsConfig{
			Port:    DefaultMetricsPort,
			Path:    DefaultMetricsPath,
			Timeout: DefaultMetricsTimeout,
		},
		Storage: StorageConfig{
			Driver:           DriverPostgres,
			Mode:             ModeReplace,
			Host:             envOr("POSTGRES_HOST", "localhost"),
			Port:             envIntOr("POSTGRES_PORT", 5432),
			User:             envOr("POSTGRES_USER", "postgres"),
			PasswordEnv:      "POSTGRES_PASSWORD",
			Database:         envOr("POSTGRES_DB", "postgres"),
			TableConcurrency: DefaultTableConcurrency,
		},
		Server: ServerConfig{
			ReportTTL:         DefaultReportTTL,
			BroadcastInterval: DefaultBroadcastInterval,
			Auth:              APIAuthConfig{Mode: "none", Header: DefaultAPIKeyHeader},
		},
	}
}

// fill applies per-cluster defaults that depend on list entries.
func fill(cfg *Config) {
	for i := range cfg.Clusters {
		c := &cfg.Clusters[i]
		if c.StatusCommand == "" {
			c.StatusCommand = DefaultStatusCommand
		}
		if c.SSH.Timeout == 0 {
			c.SSH.Timeout = DefaultSSHTimeout
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", cfg.LogLevel)
	}
	if cfg.ScrapeInterval <= 0 {
		return fmt.Errorf("scrape_interval must be positive")
	}
	if cfg.CycleTimeout <= 0 {
		return fmt.Errorf("cycle_timeout must be positive")
	}
	if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d out of range", cfg.Metrics.Port)
	}
	if cfg.Metrics.Timeout <= 0 {
		return fmt.Errorf("metrics.timeout must be positive")
	}

	seen := make(map[string]bool, len(cfg.Clusters))
	for i, c := range cfg.Clusters {
		if c.ID == "" {
			return fmt.Errorf("clusters[%d]: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("clusters[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
		if c.Endpoint == "" {
			return fmt.Errorf("clusters[%d] %q: endpoint is required", i, c.ID)
		}
		if c.SSH.Username == "" {
			return fmt.Errorf("clusters[%d] %q: ssh.username is required", i, c.ID)
		}
		switch c.SSH.HostKeyPolicy {
		case HostKeyInsecure:
		case HostKeyKnownHosts:
			if c.SSH.KnownHostsFile == "" {
				return fmt.Errorf("clusters[%d] %q: ssh.known_hosts_file is required for policy %q", i, c.ID, HostKeyKnownHosts)
			}
		case "":
			return fmt.Errorf("clusters[%d] %q: ssh.host_key_policy is required (known_hosts | insecure)", i, c.ID)
		default:
			return fmt.Errorf("clusters[%d] %q: unknown ssh.host_key_policy %q", i, c.ID, c.SSH.HostKeyPolicy)
		}
	}

	switch cfg.Storage.Driver {
	case DriverPostgres:
		if cfg.Storage.Host == "" || cfg.Storage.Database == "" {
			return fmt.Errorf("storage: host and database are required for postgres")
		}
	case DriverSQLite:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", cfg.Storage.Driver)
	}
	switch cfg.Storage.Mode {
	case ModeReplace, ModeAppend:
	default:
		return fmt.Errorf("storage: unknown mode %q", cfg.Storage.Mode)
	}
	if cfg.Storage.TableConcurrency <= 0 {
		return fmt.Errorf("storage.table_concurrency must be positive")
	}

	if cfg.Server.Listen != "" {
		if cfg.Server.ReportTTL <= 0 {
			return fmt.Errorf("server.report_ttl must be positive")
		}
		if cfg.Server.BroadcastInterval <= 0 {
			return fmt.Errorf("server.broadcast_interval must be positive")
		}
		switch cfg.Server.Auth.Mode {
		case "apikey", "none", "":
		default:
			return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
