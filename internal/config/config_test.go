package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8085, cfg.Port)
	assert.Equal(t, "output", cfg.Output)
	assert.Equal(t, "certs", cfg.CertsDir)
	assert.Empty(t, cfg.AllowList)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "/mb", cfg.ManagementPrefix)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration)
	assert.Equal(t, 60*time.Second, cfg.TelemetryFlushInterval.Duration)
	assert.Zero(t, cfg.MaxBodyBytes)
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", input: `"5s"`, want: 5 * time.Second},
		{name: "minutes", input: `"1m"`, want: time.Minute},
		{name: "compound", input: `"2m30s"`, want: 2*time.Minute + 30*time.Second},
		{name: "milliseconds", input: `"500ms"`, want: 500 * time.Millisecond},
		{name: "invalid", input: `"bogus"`, wantErr: true},
		{name: "number", input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := yaml.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration)
		})
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	d := Duration{5 * time.Second}
	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, "5s\n", string(out))
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "test.yml")
	content := `
port: 9090
output: /tmp/out
certs_dir: /tmp/certs
allow_list:
  - example.com
verbose: true
connect_timeout: "30s"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, loaded, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, cfgPath, loaded)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/out", cfg.Output)
	assert.Equal(t, "/tmp/certs", cfg.CertsDir)
	assert.Equal(t, []string{"example.com"}, cfg.AllowList)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout.Duration)
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "partial.yml")
	content := `
port: 3000
verbose: true
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, _, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.True(t, cfg.Verbose)

	// Defaults preserved for unspecified fields.
	assert.Equal(t, "output", cfg.Output)
	assert.Equal(t, "certs", cfg.CertsDir)
	assert.Equal(t, "/mb", cfg.ManagementPrefix)
}

func TestLoad_AutoDiscover(t *testing.T) {
	dir := t.TempDir()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	require.NoError(t, os.Chdir(dir))

	require.NoError(t, os.WriteFile("mboitata.yml", []byte(`port: 4000`), 0o600))

	cfg, loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mboitata.yml", loaded)
	assert.Equal(t, 4000, cfg.Port)
}

func TestLoad_AutoDiscoverYAMLExtension(t *testing.T) {
	dir := t.TempDir()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	require.NoError(t, os.Chdir(dir))

	require.NoError(t, os.WriteFile("mboitata.yaml", []byte(`port: 5000`), 0o600))

	cfg, loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mboitata.yaml", loaded)
	assert.Equal(t, 5000, cfg.Port)
}

func TestLoad_NoConfigFile(t *testing.T) {
	dir := t.TempDir()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	require.NoError(t, os.Chdir(dir))

	cfg, loaded, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	_, _, err := Load("/nonexistent/mboitata.yml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("port: [invalid"), 0o600))

	_, _, err := Load(cfgPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MBOITATA_PORT", "9999")
	t.Setenv("MBOITATA_OUTPUT", "/env/out")
	t.Setenv("MBOITATA_CERTS", "/env/certs")
	t.Setenv("MB_ALLOWLIST", "a.com, b.com")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/env/out", cfg.Output)
	assert.Equal(t, "/env/certs", cfg.CertsDir)
	assert.Equal(t, []string{"a.com", "b.com"}, cfg.AllowList)
}

func TestApplyEnv_Unset(t *testing.T) {
	cfg := Default()
	original := Default()
	cfg.ApplyEnv()
	assert.Equal(t, original, cfg)
}

func TestMerge(t *testing.T) {
	cfg := Default()

	port := 9999
	verbose := true

	cfg.Merge(CLIOverrides{
		Port:      &port,
		Verbose:   &verbose,
		AllowList: []string{"example.com"},
	})

	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, []string{"example.com"}, cfg.AllowList)

	// Unset overrides should not change anything.
	assert.Equal(t, "output", cfg.Output)
	assert.Equal(t, "certs", cfg.CertsDir)
}

func TestMerge_DashboardAuth(t *testing.T) {
	cfg := Default()

	user := "admin"
	pass := "hunter2"

	cfg.Merge(CLIOverrides{
		DashboardUser: &user,
		DashboardPass: &pass,
	})

	assert.Equal(t, "admin", cfg.DashboardUser)
	assert.Equal(t, "hunter2", cfg.DashboardPassword)
}

func TestRedacted_MasksPassword(t *testing.T) {
	cfg := Default()
	cfg.DashboardUser = "admin"
	cfg.DashboardPassword = "hunter2"

	r := cfg.Redacted()
	assert.Equal(t, "admin", r.DashboardUser)
	assert.Equal(t, "********", r.DashboardPassword)
	assert.Equal(t, "hunter2", cfg.DashboardPassword, "original config must be unaffected")
}

func TestRedacted_EmptyPasswordUnchanged(t *testing.T) {
	cfg := Default()
	r := cfg.Redacted()
	assert.Empty(t, r.DashboardPassword)
}

func TestMerge_EmptyOverrides(t *testing.T) {
	cfg := Default()
	original := Default()
	cfg.Merge(CLIOverrides{})
	assert.Equal(t, original, cfg)
}

func TestValidate_Valid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 99999
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "port:")
}

func TestValidate_EmptyOutput(t *testing.T) {
	cfg := Default()
	cfg.Output = "   "
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output:")
}

func TestValidate_NegativeDuration(t *testing.T) {
	cfg := Default()
	cfg.ShutdownTimeout = Duration{-1 * time.Second}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown_timeout:")
}

func TestValidate_BadPathPrefix(t *testing.T) {
	cfg := Default()
	cfg.ManagementPrefix = "no-slash"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "management_prefix:")
}

func TestValidate_NegativeMaxBodyBytes(t *testing.T) {
	cfg := Default()
	cfg.MaxBodyBytes = -1
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_body_bytes:")
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Port = -1
	cfg.ShutdownTimeout = Duration{-1 * time.Second}
	cfg.ManagementPrefix = "bad"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "port:")
	assert.Contains(t, err.Error(), "shutdown_timeout:")
	assert.Contains(t, err.Error(), "management_prefix:")
}

func TestDump(t *testing.T) {
	cfg := Default()
	cfg.AllowList = []string{"example.com"}

	out, err := cfg.Dump()
	require.NoError(t, err)

	var parsed Config
	require.NoError(t, yaml.Unmarshal(out, &parsed))
	assert.Equal(t, cfg.Port, parsed.Port)
	assert.Equal(t, cfg.AllowList, parsed.AllowList)
	assert.Equal(t, cfg.ConnectTimeout.Duration, parsed.ConnectTimeout.Duration)
}

func TestHostsFromURLs(t *testing.T) {
	hosts := HostsFromURLs([]string{
		"https://example.com/app.js",
		"https://example.com/other.js",
		"https://api.example.com/v1",
		"not a url",
	})
	assert.Equal(t, []string{"example.com", "api.example.com"}, hosts)
}

func TestMergeAllowList(t *testing.T) {
	got := MergeAllowList([]string{"explicit.com"}, []string{"https://seeded.com/x", "https://explicit.com/y"})
	assert.Equal(t, []string{"explicit.com", "seeded.com"}, got)
}
