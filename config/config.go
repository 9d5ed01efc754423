package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Config captures everything a pipeline cycle needs. Values come from
// envDefault tags, then a .env file, then the environment, then flags that
// were set explicitly.
type Config struct {
	IMAPHost           string `env:"IMAP_HOST"`
	IMAPPort           int    `env:"IMAP_PORT" envDefault:"993"`
	IMAPUser           string `env:"IMAP_USER"`
	IMAPPass           string `env:"IMAP_PASS"`
	UseTLS             bool   `env:"IMAP_TLS" envDefault:"true"`
	InsecureSkipVerify bool   `env:"IMAP_INSECURE_SKIP_VERIFY" envDefault:"false"`
	SourceMailbox      string `env:"IMAP_MAILBOX" envDefault:"INBOX"`

	SuccessMailbox string `env:"MAILBOX_SUCCESS" envDefault:"processed"`
	FailureMailbox string `env:"MAILBOX_FAILURE" envDefault:"failed"`

	ScratchDir     string   `env:"SCRATCH_DIR" envDefault:"scratch"`
	BuilderCommand string   `env:"BUILDER_COMMAND"`
	BuilderArgs    []string `env:"BUILDER_ARGS" envSeparator:" "`

	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
	MessageTimeout time.Duration `env:"MESSAGE_TIMEOUT" envDefault:"0s"`
	ValidateDirect bool          `env:"VALIDATE_DIRECT" envDefault:"false"`

	StateDir string `env:"STATE_DIR"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"LOG_DIR"`

	MboxSource    string `env:"MBOX_SOURCE"`
	MboxOutputDir string `env:"MBOX_OUTPUT_DIR"`

	IncludeFrom    []string `env:"INCLUDE_FROM"`
	IncludeSubject []string `env:"INCLUDE_SUBJECT"`
	ExcludeFrom    []string `env:"EXCLUDE_FROM"`
	ExcludeSubject []string `env:"EXCLUDE_SUBJECT"`
}

// RegisterFlags attaches all CLI flags to the provided command. Defaults
// mirror the envDefault tags; a flag only wins when set explicitly.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("imap-host", "", "IMAP server hostname (IMAP_HOST)")
	flags.Int("imap-port", 993, "IMAP server port (IMAP_PORT)")
	flags.String("imap-user", "", "IMAP username (IMAP_USER)")
	flags.String("imap-pass", "", "IMAP password (IMAP_PASS)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection (IMAP_TLS)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification, not recommended (IMAP_INSECURE_SKIP_VERIFY)")
	flags.String("mailbox", "INBOX", "Mailbox scanned for billing mail (IMAP_MAILBOX)")
	flags.String("success-mailbox", "processed", "Mailbox receiving successfully processed mail (MAILBOX_SUCCESS)")
	flags.String("failure-mailbox", "failed", "Mailbox receiving mail that failed processing (MAILBOX_FAILURE)")
	flags.String("scratch-dir", "scratch", "Root for per-cycle temporary workspaces (SCRATCH_DIR)")
	flags.String("builder", "", "Document builder executable, called with json, xml and pdf paths (BUILDER_COMMAND)")
	flags.StringArray("builder-arg", nil, "Extra argument placed before the paths, repeatable (BUILDER_ARGS)")
	flags.Duration("interval", 5*time.Minute, "Time between cycles (POLL_INTERVAL)")
	flags.Duration("message-timeout", 0, "Upper bound for processing one message, 0 disables (MESSAGE_TIMEOUT)")
	flags.Bool("validate-direct", false, "Run the billing extractor on direct xml/pdf pairs before building (VALIDATE_DIRECT)")
	flags.String("state-dir", "", "Directory for pending-route state (STATE_DIR)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error (LOG_LEVEL)")
	flags.String("log-dir", "", "Optional directory for a copy of the log (LOG_DIR)")
	flags.String("mbox-source", "", "Read messages from this mbox file instead of IMAP (MBOX_SOURCE)")
	flags.String("mbox-output-dir", "", "Directory for outcome mbox files when --mbox-source is set (MBOX_OUTPUT_DIR)")
	flags.StringArray("include-from", nil, "Regex allow-list applied to the sender (mutually exclusive with exclude flags)")
	flags.StringArray("include-subject", nil, "Regex allow-list applied to the subject (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-from", nil, "Regex block-list applied to the sender (mutually exclusive with include flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list applied to the subject (mutually exclusive with include flags)")
}

// LoadConfig resolves the configuration for cmd and validates it.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return Config{}, err
	}

	if err := applyFlags(cmd, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	if cfg.MboxSource != "" && cfg.MboxOutputDir == "" {
		cfg.MboxOutputDir = filepath.Dir(cfg.MboxSource)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)
	cfg.ScratchDir = filepath.Clean(cfg.ScratchDir)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func fromEnv() (Config, error) {
	// A missing .env file is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *Config) error {
	flags := cmd.Flags()
	var errs []error

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	duration := func(name string, dst *time.Duration) {
		if flags.Changed(name) {
			v, err := flags.GetDuration(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if flags.Changed(name) {
			v, err := flags.GetStringArray(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("imap-host", &cfg.IMAPHost)
	integer("imap-port", &cfg.IMAPPort)
	str("imap-user", &cfg.IMAPUser)
	str("imap-pass", &cfg.IMAPPass)
	boolean("use-tls", &cfg.UseTLS)
	boolean("insecure-skip-verify", &cfg.InsecureSkipVerify)
	str("mailbox", &cfg.SourceMailbox)
	str("success-mailbox", &cfg.SuccessMailbox)
	str("failure-mailbox", &cfg.FailureMailbox)
	str("scratch-dir", &cfg.ScratchDir)
	str("builder", &cfg.BuilderCommand)
	list("builder-arg", &cfg.BuilderArgs)
	duration("interval", &cfg.PollInterval)
	duration("message-timeout", &cfg.MessageTimeout)
	boolean("validate-direct", &cfg.ValidateDirect)
	str("state-dir", &cfg.StateDir)
	str("log-level", &cfg.LogLevel)
	str("log-dir", &cfg.LogDir)
	str("mbox-source", &cfg.MboxSource)
	str("mbox-output-dir", &cfg.MboxOutputDir)
	list("include-from", &cfg.IncludeFrom)
	list("include-subject", &cfg.IncludeSubject)
	list("exclude-from", &cfg.ExcludeFrom)
	list("exclude-subject", &cfg.ExcludeSubject)

	return errors.Join(errs...)
}

func validateConfig(cfg Config) error {
	if cfg.MboxSource == "" {
		if cfg.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required unless --mbox-source is set")
		}
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}
	if cfg.SourceMailbox == "" {
		return fmt.Errorf("--mailbox must not be empty")
	}
	if cfg.SuccessMailbox == "" || cfg.FailureMailbox == "" {
		return fmt.Errorf("--success-mailbox and --failure-mailbox must not be empty")
	}
	if cfg.SuccessMailbox == cfg.SourceMailbox || cfg.FailureMailbox == cfg.SourceMailbox {
		return fmt.Errorf("outcome mailboxes must differ from the scanned mailbox %q", cfg.SourceMailbox)
	}
	if cfg.BuilderCommand == "" {
		return fmt.Errorf("--builder is required")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if cfg.MessageTimeout < 0 {
		return fmt.Errorf("--message-timeout must not be negative")
	}
	includeActive := len(cfg.IncludeFrom) > 0 || len(cfg.IncludeSubject) > 0
	excludeActive := len(cfg.ExcludeFrom) > 0 || len(cfg.ExcludeSubject) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".invoice-ingest", "state"), nil
}
