package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// EmailConfig holds the IMAP mailbox credentials. Server may carry an
// explicit port; 993 (implicit TLS) is assumed otherwise.
type EmailConfig struct {
	Server   string `toml:"server"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// DatabaseConfig holds the relational store credentials and the target table.
type DatabaseConfig struct {
	Server   string `toml:"server"`
	Name     string `toml:"name"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Table    string `toml:"table"`
}

// PathsConfig roots the archive directory tree and the ledger file.
type PathsConfig struct {
	BaseDir string `toml:"base_dir"`
}

// SchedulerConfig controls the polling cadence.
type SchedulerConfig struct {
	PollInterval string `toml:"poll_interval"`
}

// PipelineConfig carries processing policy knobs.
//
// RecordFailures decides whether a message whose every attachment failed is
// still marked processed. True matches the historical behavior (a poison
// message is never retried); false leaves it unrecorded so the next cycle
// picks it up again.
type PipelineConfig struct {
	RecordFailures *bool `toml:"record_failures"`
}

// Config is the whole configuration value, constructed once at startup and
// passed by ownership into the scheduler and its collaborators.
type Config struct {
	LogLevel  string          `toml:"log_level"`
	Email     EmailConfig     `toml:"email"`
	Database  DatabaseConfig  `toml:"database"`
	Paths     PathsConfig     `toml:"paths"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
}

// RegisterFlags attaches the CLI flags shared by all commands.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "config.toml", "Path to the TOML configuration file")
	flags.String("log-level", "", "Logging level: debug, info, warn, error (overrides config file)")
}

// LoadConfig reads the TOML file named by the --config flag and applies flag
// overrides.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile decodes a TOML configuration file. Unknown keys are warned about
// and ignored rather than rejected.
func LoadFile(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Config{}
	metadata, err := toml.Decode(string(content), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, key := range metadata.Undecoded() {
		log.Printf("WARNING: config %s: unknown key %q ignored", path, key)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Email.Server == "" {
		return fmt.Errorf("email.server is required")
	}
	if cfg.Email.Username == "" {
		return fmt.Errorf("email.username is required")
	}
	if cfg.Email.Password == "" {
		return fmt.Errorf("email.password is required")
	}
	if cfg.Database.Server == "" {
		return fmt.Errorf("database.server is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if cfg.Database.Table == "" {
		return fmt.Errorf("database.table is required")
	}
	if cfg.Paths.BaseDir == "" {
		return fmt.Errorf("paths.base_dir is required")
	}
	if _, err := cfg.PollInterval(); err != nil {
		return fmt.Errorf("scheduler.poll_interval: %w", err)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", cfg.LogLevel)
	}

	return nil
}

// PollInterval parses the scheduler cadence, defaulting to five minutes.
func (c Config) PollInterval() (time.Duration, error) {
	if strings.TrimSpace(c.Scheduler.PollInterval) == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Scheduler.PollInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// RecordFailures reports the poison-message policy, defaulting to true.
func (c Config) RecordFailures() bool {
	if c.Pipeline.RecordFailures == nil {
		return true
	}
	return *c.Pipeline.RecordFailures
}

// BaseDir returns the cleaned archive root.
func (c Config) BaseDir() string {
	return filepath.Clean(c.Paths.BaseDir)
}

// LogDir returns the directory run logs are written to.
func (c Config) LogDir() string {
	return filepath.Join(c.BaseDir(), "logs")
}

// LedgerPath returns the location of the processed-ids file.
func (c Config) LedgerPath() string {
	return filepath.Join(c.BaseDir(), "processed_ids.txt")
}
