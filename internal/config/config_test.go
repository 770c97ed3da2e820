package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dnm_memory.db", cfg.Store.DatabaseURL)
	assert.True(t, cfg.Store.Cache)
	assert.Equal(t, 3, cfg.Store.RetryAttempts)
	assert.Equal(t, 5, cfg.Store.CircuitThreshold)
	assert.Equal(t, int32(4), cfg.Store.Pool.MaxConns)
	assert.InDelta(t, 50, cfg.Match.Threshold, 0.001)
	assert.Zero(t, cfg.Match.AutoDNMThreshold)
	assert.True(t, cfg.Route.EmailForcesDNM)
	assert.Equal(t, 100, cfg.Extract.MaxNameLength)
	assert.Equal(t, "pdftotext", cfg.PDF.PdfToTextPath)
	assert.Equal(t, 1, cfg.Roster.SkipRows)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Server.SessionTTLMins)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.False(t, cfg.Monitoring.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/dnm
log:
  level: debug
  format: console
match:
  threshold: 60
  auto_dnm_threshold: 95
extract:
  start_markers: ["(555) 010-0000"]
  end_marker: "Total Due"
  skip_phrases: ["Remit To"]
roster:
  sheet: DNM
  column: 2
pipeline:
  workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/dnm", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 60, cfg.Match.Threshold, 0.001)
	assert.InDelta(t, 95, cfg.Match.AutoDNMThreshold, 0.001)
	assert.Equal(t, []string{"(555) 010-0000"}, cfg.Extract.StartMarkers)
	assert.Equal(t, "Total Due", cfg.Extract.EndMarker)
	assert.Equal(t, []string{"Remit To"}, cfg.Extract.SkipPhrases)
	assert.Equal(t, "DNM", cfg.Roster.Sheet)
	assert.Equal(t, 2, cfg.Roster.Column)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NoError(t, cfg.Validate("process"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DNM_STORE_DRIVER", "memory")
	t.Setenv("DNM_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DNM_SERVER_PORT", "3000")
	t.Setenv("DNM_MATCH_THRESHOLD", "70")
	t.Setenv("DNM_ROUTE_EMAIL_FORCES_DNM", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 70, cfg.Match.Threshold, 0.001)
	assert.False(t, cfg.Route.EmailForcesDNM)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "dnm_memory.db"
	cfg.Match.Threshold = 50
	cfg.Pipeline.Workers = 4
	cfg.PDF.PdfToTextPath = "pdftotext"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"process", "serve", "memory"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "oracle"

	err := cfg.Validate("memory")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store.driver")
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("memory")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	cfg.Store.Driver = "memory"
	assert.NoError(t, cfg.Validate("memory"))
}

func TestValidate_Thresholds(t *testing.T) {
	cfg := validDefaults()

	cfg.Match.Threshold = 120
	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "match.threshold")

	cfg.Match.Threshold = 50
	cfg.Match.AutoDNMThreshold = 40
	err = cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "auto_dnm_threshold")

	cfg.Match.AutoDNMThreshold = 95
	assert.NoError(t, cfg.Validate("process"))
}

func TestValidate_WorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.Workers = 0
	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.workers")

	cfg.Pipeline.Workers = 65
	assert.Error(t, cfg.Validate("process"))

	cfg.Pipeline.Workers = 64
	assert.NoError(t, cfg.Validate("process"))
}

func TestValidate_ProcessNeedsPdftotext(t *testing.T) {
	cfg := validDefaults()
	cfg.PDF.PdfToTextPath = ""

	err := cfg.Validate("process")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pdf.pdftotext_path")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateServe_NegativeSessionTTL(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.SessionTTLMins = -1

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.session_ttl_mins")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
