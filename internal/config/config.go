package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/dnm-router/internal/extract"
	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/route"
)

// Config holds the full application configuration.
type Config struct {
	Store      memory.Config    `yaml:"store" mapstructure:"store"`
	Match      MatchConfig      `yaml:"match" mapstructure:"match"`
	Route      route.Config     `yaml:"route" mapstructure:"route"`
	Extract    extract.Config   `yaml:"extract" mapstructure:"extract"`
	PDF        PDFConfig        `yaml:"pdf" mapstructure:"pdf"`
	Roster     RosterConfig     `yaml:"roster" mapstructure:"roster"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// MatchConfig configures roster similarity.
type MatchConfig struct {
	// Threshold is the minimum similarity score (0-100) for a candidate.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// AutoDNMThreshold confirms candidates at or above it without a question.
	// 0 disables.
	AutoDNMThreshold float64 `yaml:"auto_dnm_threshold" mapstructure:"auto_dnm_threshold"`
}

// PDFConfig configures page text extraction.
type PDFConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RosterConfig configures roster loading from a workbook.
type RosterConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`
	Column   int    `yaml:"column" mapstructure:"column"`
	SkipRows int    `yaml:"skip_rows" mapstructure:"skip_rows"`
}

// PipelineConfig configures the statement fan-out.
type PipelineConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// SessionTTLMins evicts review sessions idle for longer. 0 disables.
	SessionTTLMins int `yaml:"session_ttl_mins" mapstructure:"session_ttl_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// PendingQuestionsThreshold alerts when open sessions hold more pending
	// questions than this. 0 disables.
	PendingQuestionsThreshold int `yaml:"pending_questions_threshold" mapstructure:"pending_questions_threshold"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DNM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", memory.DriverSQLite)
	v.SetDefault("store.database_url", "dnm_memory.db")
	v.SetDefault("store.cache", true)
	v.SetDefault("store.pool.max_conns", 4)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("store.retry_attempts", 3)
	v.SetDefault("store.retry_backoff_ms", 25)
	v.SetDefault("store.retry_max_backoff_ms", 1000)
	v.SetDefault("store.circuit_threshold", 5)
	v.SetDefault("store.circuit_reset_secs", 10)
	v.SetDefault("match.threshold", 50)
	v.SetDefault("match.auto_dnm_threshold", 0)
	v.SetDefault("route.email_forces_dnm", true)
	v.SetDefault("extract.max_name_length", 100)
	v.SetDefault("extract.start_markers", []string{})
	v.SetDefault("extract.end_marker", "")
	v.SetDefault("extract.skip_phrases", []string{})
	v.SetDefault("pdf.pdftotext_path", "pdftotext")
	v.SetDefault("pdf.timeout_secs", 120)
	v.SetDefault("roster.column", 0)
	v.SetDefault("roster.skip_rows", 1)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.session_ttl_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.pending_questions_threshold", 500)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given mode depends on.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.Store.Driver {
	case memory.DriverMemory, memory.DriverSQLite, memory.DriverPostgres:
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver != memory.DriverMemory && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	if c.Match.Threshold < 0 || c.Match.Threshold > 100 {
		return eris.Errorf("config: match.threshold must be within [0, 100], got %v", c.Match.Threshold)
	}
	if c.Match.AutoDNMThreshold < 0 || c.Match.AutoDNMThreshold > 100 {
		return eris.Errorf("config: match.auto_dnm_threshold must be within [0, 100], got %v", c.Match.AutoDNMThreshold)
	}
	if c.Match.AutoDNMThreshold > 0 && c.Match.AutoDNMThreshold < c.Match.Threshold {
		return eris.New("config: match.auto_dnm_threshold must not be below match.threshold")
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
		return eris.Errorf("config: pipeline.workers must be within [1, 64], got %d", c.Pipeline.Workers)
	}

	switch mode {
	case "process":
		if c.PDF.PdfToTextPath == "" {
			missing = append(missing, "pdf.pdftotext_path")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return eris.Errorf("config: server.port must be within [1, 65535], got %d", c.Server.Port)
		}
		if c.Server.SessionTTLMins < 0 {
			return eris.Errorf("config: server.session_ttl_mins must be >= 0, got %d", c.Server.SessionTTLMins)
		}
	case "memory":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required fields for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
