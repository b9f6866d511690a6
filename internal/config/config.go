/*
Package config handles YAML configuration loading, environment variable
overlay, validation, and CLI flag merging for mboitata.

Configuration is resolved in this order (highest priority first):
 1. CLI flags (explicitly passed)
 2. Environment variables
 3. Config file values
 4. Built-in defaults

Environment variables (MBOITATA_PORT, MBOITATA_OUTPUT, MBOITATA_CERTS,
MB_ALLOWLIST) sit between the config file and CLI flags so an operator can
override a checked-in config without touching it, while a flag passed on
the command line always wins.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for mboitata.
type Config struct {
	// Port is the proxy listener's TCP port.
	Port int `yaml:"port"`
	// Output is the artifact root: captured bodies, findings, and
	// exploded source-map sources are written under here.
	Output string `yaml:"output"`
	// CertsDir is the directory holding ca-cert.pem/ca-key.pem, generated
	// on first run if absent.
	CertsDir string `yaml:"certs_dir"`
	// AllowList is the set of host substrings captured responses are
	// scoped to; empty means every host is in scope.
	AllowList []string `yaml:"allow_list"`
	// URLs are the seed URLs handed to the headless navigator. The --urls
	// flag accepts "-" to read newline-delimited URLs from stdin; that
	// expansion happens before the values land here, and a "-" in the
	// config file is kept as a literal entry.
	URLs []string `yaml:"urls"`
	// Pretty is reserved for future pretty-printed output formatting.
	Pretty bool `yaml:"pretty"`

	LogDir  string `yaml:"log_dir"`
	Verbose bool   `yaml:"verbose"`

	// ManagementPrefix is the path prefix the CA cert / heartbeat /
	// telemetry / websocket endpoints are served under, on the same
	// listener as the proxy itself.
	ManagementPrefix string `yaml:"management_prefix"`
	// ManagementAddr, if set, additionally serves the same dashboard
	// handler on its own listener (so operators don't have to route
	// dashboard traffic through the MITM proxy port).
	ManagementAddr string `yaml:"management_addr"`

	// MaxBodyBytes caps how much of an upstream response body is
	// buffered for capture. Zero means unbounded, which is the
	// default "fully buffer with no cap" behavior (see SPEC_FULL §9).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	ConnectTimeout         Duration `yaml:"connect_timeout"`
	ShutdownTimeout        Duration `yaml:"shutdown_timeout"`
	TelemetryFlushInterval Duration `yaml:"telemetry_flush_interval"`

	// DashboardUser and DashboardPassword gate the dashboard endpoints
	// with HTTP Basic Auth when both are set; either left empty disables
	// auth entirely.
	DashboardUser     string `yaml:"dashboard_user"`
	DashboardPassword string `yaml:"dashboard_password"`
}

// Default returns a Config populated with built-in defaults, matching
// the documented flag defaults.
func Default() Config {
	return Config{
		Port:                   8085,
		Output:                 "output",
		CertsDir:               "certs",
		ManagementPrefix:       "/mb",
		ConnectTimeout:         Duration{10 * time.Second},
		ShutdownTimeout:        Duration{5 * time.Second},
		TelemetryFlushInterval: Duration{60 * time.Second},
	}
}

// Load reads a config file from disk and parses it. If path is empty, it
// searches for mboitata.yml or mboitata.yaml in the working directory. A
// missing optional file (path == "" and nothing discovered) is not an
// error: Load returns the defaults.
func Load(path string) (Config, string, error) {
	cfg := Default()

	if path == "" {
		path = discover()
		if path == "" {
			return cfg, "", nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, path, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, path, nil
}

func discover() string {
	for _, name := range []string{"mboitata.yml", "mboitata.yaml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// ApplyEnv overlays the recognized environment variables onto
// cfg. Only variables that are actually set override the current value,
// so this is safe to call after Load and before Merge.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MBOITATA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("MBOITATA_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("MBOITATA_CERTS"); v != "" {
		c.CertsDir = v
	}
	if v := os.Getenv("MB_ALLOWLIST"); v != "" {
		c.AllowList = splitCSV(v)
	}
}

// CLIOverrides holds values from CLI flags that should override config
// file and environment values. A nil pointer / empty slice means the
// flag was not explicitly set.
type CLIOverrides struct {
	Port             *int
	Output           *string
	CertsDir         *string
	AllowList        []string
	URLs             []string
	Pretty           *bool
	LogDir           *string
	Verbose          *bool
	ManagementPrefix *string
	ManagementAddr   *string
	MaxBodyBytes     *int64
	DashboardUser    *string
	DashboardPass    *string
}

// Merge applies CLI flag overrides to a loaded config. Only explicitly
// set flags override config file / environment values.
func (c *Config) Merge(o CLIOverrides) {
	if o.Port != nil {
		c.Port = *o.Port
	}
	if o.Output != nil {
		c.Output = *o.Output
	}
	if o.CertsDir != nil {
		c.CertsDir = *o.CertsDir
	}
	if len(o.AllowList) > 0 {
		c.AllowList = o.AllowList
	}
	if len(o.URLs) > 0 {
		c.URLs = o.URLs
	}
	if o.Pretty != nil {
		c.Pretty = *o.Pretty
	}
	if o.LogDir != nil {
		c.LogDir = *o.LogDir
	}
	if o.Verbose != nil {
		c.Verbose = *o.Verbose
	}
	if o.ManagementPrefix != nil {
		c.ManagementPrefix = *o.ManagementPrefix
	}
	if o.ManagementAddr != nil {
		c.ManagementAddr = *o.ManagementAddr
	}
	if o.MaxBodyBytes != nil {
		c.MaxBodyBytes = *o.MaxBodyBytes
	}
	if o.DashboardUser != nil {
		c.DashboardUser = *o.DashboardUser
	}
	if o.DashboardPass != nil {
		c.DashboardPassword = *o.DashboardPass
	}
}

// Validate checks the config for invalid values and returns an error
// describing all problems found.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port: must be between 1 and 65535, got %d", c.Port))
	}
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, "output: must not be empty")
	}
	if strings.TrimSpace(c.CertsDir) == "" {
		errs = append(errs, "certs_dir: must not be empty")
	}
	if !strings.HasPrefix(c.ManagementPrefix, "/") {
		errs = append(errs, fmt.Sprintf("management_prefix: must start with /, got %q", c.ManagementPrefix))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Sprintf("max_body_bytes: must be >= 0, got %d", c.MaxBodyBytes))
	}
	if c.ConnectTimeout.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("connect_timeout: must be positive, got %s", c.ConnectTimeout))
	}
	if c.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("shutdown_timeout: must be positive, got %s", c.ShutdownTimeout))
	}
	if c.TelemetryFlushInterval.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("telemetry_flush_interval: must be positive, got %s", c.TelemetryFlushInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Redacted returns a copy of the config with the dashboard password
// masked, for safe logging or display.
func (c *Config) Redacted() Config {
	r := *c
	if r.DashboardPassword != "" {
		r.DashboardPassword = "********"
	}
	return r
}

// Dump serializes the config to YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
