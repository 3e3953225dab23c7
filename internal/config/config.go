package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	ERP      ERPConfig      `yaml:"erp"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	PLC      PLCConfig      `yaml:"plc"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Signal   SignalConfig   `yaml:"signal"`
	Evidence EvidenceConfig `yaml:"evidence"`
	Report   ReportConfig   `yaml:"report"`
	Ops      OpsConfig      `yaml:"ops"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Development bool   `yaml:"development"` // console encoder instead of JSON
}

// DatabaseConfig holds connection settings for the verdict journal.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// ERPConfig holds settings for the order-data bridge.
type ERPConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig holds cache refresh settings.
type LedgerConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxAge          time.Duration `yaml:"max_age"` // older snapshots decide INDETERMINATE
}

// ScannerConfig holds settings for the label reader feed.
type ScannerConfig struct {
	Addr           string        `yaml:"addr"`
	Separator      string        `yaml:"separator"`     // field separator inside the raw code
	NoReadToken    string        `yaml:"no_read_token"` // sentinel the reader sends on decode failure
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// PLCConfig holds settings for the line controller tag gateway.
type PLCConfig struct {
	Addr         string        `yaml:"addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	TriggerTag   string        `yaml:"trigger_tag"`
	OkTag        string        `yaml:"ok_tag"`
	NokTag       string        `yaml:"nok_tag"`
	ReviewTag    string        `yaml:"review_tag"`
	AckTag       string        `yaml:"ack_tag"`
}

// IngestConfig holds trigger/read correlation settings.
type IngestConfig struct {
	Window     time.Duration `yaml:"window"`     // read must arrive within this after a trigger
	Pipelining bool          `yaml:"pipelining"` // allow overlapping windows
	QueueSize  int           `yaml:"queue_size"` // ordered event channel depth
}

// SignalConfig holds actuator signaling settings.
type SignalConfig struct {
	AckDeadline time.Duration `yaml:"ack_deadline"` // from verdict creation to acknowledged output
	AckPoll     time.Duration `yaml:"ack_poll"`
}

// EvidenceConfig holds photo spool and upload settings.
type EvidenceConfig struct {
	SpoolDir       string        `yaml:"spool_dir"`
	DBPath         string        `yaml:"db_path"`
	BaseURL        string        `yaml:"base_url"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Debounce       time.Duration `yaml:"debounce"`
}

// ReportConfig holds central reporting settings.
type ReportConfig struct {
	BaseURL        string        `yaml:"base_url"`
	PlantCode      string        `yaml:"plant_code"`
	Timeout        time.Duration `yaml:"timeout"`
	Interval       time.Duration `yaml:"interval"` // outbox scan period
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	WrapperEnabled bool          `yaml:"wrapper_enabled"`
}

// OpsConfig holds the operational HTTP endpoint settings.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration. Values mirror the line's
// commissioning settings; anything can be overridden by file or env.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		ERP: ERPConfig{
			Timeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			RefreshInterval: 15 * time.Second,
			MaxAge:          60 * time.Second,
		},
		Scanner: ScannerConfig{
			Separator:      ";",
			NoReadToken:    "NOREAD",
			ReconnectDelay: 2 * time.Second,
		},
		PLC: PLCConfig{
			PollInterval: 200 * time.Millisecond,
			CallTimeout:  500 * time.Millisecond,
			TriggerTag:   "PaletPosition",
			OkTag:        "LabelOk",
			NokTag:       "LabelNotOk",
			ReviewTag:    "LabelReview",
			AckTag:       "SignalAck",
		},
		Ingest: IngestConfig{
			Window:    2 * time.Second,
			QueueSize: 64,
		},
		Signal: SignalConfig{
			AckDeadline: 2 * time.Second,
			AckPoll:     50 * time.Millisecond,
		},
		Evidence: EvidenceConfig{
			SpoolDir:       "/var/lib/pvpedge/spool",
			DBPath:         "/var/lib/pvpedge/evidence.db",
			Workers:        2,
			QueueSize:      128,
			UploadTimeout:  15 * time.Second,
			MaxAttempts:    4,
			InitialBackoff: time.Second,
			Debounce:       200 * time.Millisecond,
		},
		Report: ReportConfig{
			PlantCode:      "PL02",
			Timeout:        10 * time.Second,
			Interval:       5 * time.Second,
			BatchSize:      20,
			MaxAttempts:    4,
			InitialBackoff: time.Second,
			WrapperEnabled: true,
		},
		Ops: OpsConfig{Addr: ":9470"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.ERP.BaseURL = getEnv("ERP_BASE_URL", c.ERP.BaseURL)
	c.ERP.Timeout = getEnvAsDuration("ERP_TIMEOUT", c.ERP.Timeout)
	c.Ledger.RefreshInterval = getEnvAsDuration("LEDGER_REFRESH_INTERVAL", c.Ledger.RefreshInterval)
	c.Ledger.MaxAge = getEnvAsDuration("LEDGER_MAX_AGE", c.Ledger.MaxAge)
	c.Scanner.Addr = getEnv("SCANNER_ADDR", c.Scanner.Addr)
	c.PLC.Addr = getEnv("PLC_ADDR", c.PLC.Addr)
	c.PLC.PollInterval = getEnvAsDuration("PLC_POLL_INTERVAL", c.PLC.PollInterval)
	c.Ingest.Window = getEnvAsDuration("CORRELATION_WINDOW", c.Ingest.Window)
	c.Ingest.Pipelining = getEnvAsBool("CORRELATION_PIPELINING", c.Ingest.Pipelining)
	c.Signal.AckDeadline = getEnvAsDuration("SIGNAL_ACK_DEADLINE", c.Signal.AckDeadline)
	c.Evidence.SpoolDir = getEnv("EVIDENCE_SPOOL_DIR", c.Evidence.SpoolDir)
	c.Evidence.DBPath = getEnv("EVIDENCE_DB_PATH", c.Evidence.DBPath)
	c.Evidence.BaseURL = getEnv("EVIDENCE_BASE_URL", c.Evidence.BaseURL)
	c.Evidence.Workers = getEnvAsInt("EVIDENCE_WORKERS", c.Evidence.Workers)
	c.Report.BaseURL = getEnv("REPORT_BASE_URL", c.Report.BaseURL)
	c.Report.PlantCode = getEnv("REPORT_PLANT_CODE", c.Report.PlantCode)
	c.Ops.Addr = getEnv("OPS_ADDR", c.Ops.Addr)
}

// Validate checks the effective configuration before the daemon starts.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn (DB_URL) is required")
	}
	if c.ERP.BaseURL == "" {
		return errors.New("erp.base_url (ERP_BASE_URL) is required")
	}
	if c.Scanner.Addr == "" {
		return errors.New("scanner.addr (SCANNER_ADDR) is required")
	}
	if c.PLC.Addr == "" {
		return errors.New("plc.addr (PLC_ADDR) is required")
	}
	if c.Report.BaseURL == "" {
		c.Report.BaseURL = c.ERP.BaseURL
	}
	if c.Evidence.BaseURL == "" {
		c.Evidence.BaseURL = c.Report.BaseURL
	}
	if c.Ingest.Window <= 0 {
		return errors.New("ingest.window must be positive")
	}
	if c.Ledger.RefreshInterval <= 0 {
		return errors.New("ledger.refresh_interval must be positive")
	}
	if c.Ledger.MaxAge <= c.Ledger.RefreshInterval {
		return fmt.Errorf("ledger.max_age (%s) must exceed ledger.refresh_interval (%s)",
			c.Ledger.MaxAge, c.Ledger.RefreshInterval)
	}
	if c.Signal.AckDeadline <= 0 {
		return errors.New("signal.ack_deadline must be positive")
	}
	if c.Report.MaxAttempts < 1 {
		return errors.New("report.max_attempts must be at least 1")
	}
	if c.Evidence.MaxAttempts < 1 {
		return errors.New("evidence.max_attempts must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
