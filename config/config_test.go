package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func baseEnv(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("IMAP_USER", "facturas@example.com")
	t.Setenv("IMAP_PASS", "secret")
	t.Setenv("BUILDER_COMMAND", "/usr/local/bin/build-invoice")
	t.Setenv("STATE_DIR", t.TempDir())
}

func TestLoadConfig_Defaults(t *testing.T) {
	baseEnv(t)

	cfg, err := LoadConfig(newCommand(t))
	require.NoError(t, err)

	assert.Equal(t, 993, cfg.IMAPPort)
	assert.True(t, cfg.UseTLS)
	assert.Equal(t, "INBOX", cfg.SourceMailbox)
	assert.Equal(t, "processed", cfg.SuccessMailbox)
	assert.Equal(t, "failed", cfg.FailureMailbox)
	assert.Equal(t, "scratch", cfg.ScratchDir)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Zero(t, cfg.MessageTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_EnvValues(t *testing.T) {
	baseEnv(t)
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("BUILDER_ARGS", "--format pdf")
	t.Setenv("EXCLUDE_FROM", "a@x,b@x")
	t.Setenv("LOG_LEVEL", "WARNING")

	cfg, err := LoadConfig(newCommand(t))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"--format", "pdf"}, cfg.BuilderArgs)
	assert.Equal(t, []string{"a@x", "b@x"}, cfg.ExcludeFrom)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	baseEnv(t)
	t.Setenv("MAILBOX_SUCCESS", "from-env")

	cmd := newCommand(t,
		"--success-mailbox", "from-flag",
		"--interval", "1m",
		"--validate-direct",
		"--builder-arg", "-q",
	)
	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.SuccessMailbox)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.True(t, cfg.ValidateDirect)
	assert.Equal(t, []string{"-q"}, cfg.BuilderArgs)
	assert.Equal(t, "imap.example.com", cfg.IMAPHost, "unset flags keep env values")
}

func TestLoadConfig_MboxSourceWithoutIMAP(t *testing.T) {
	t.Setenv("BUILDER_COMMAND", "build")
	t.Setenv("STATE_DIR", t.TempDir())

	cfg, err := LoadConfig(newCommand(t, "--mbox-source", "/data/export/inbox.mbox"))
	require.NoError(t, err)
	assert.Equal(t, "/data/export", cfg.MboxOutputDir)
}

func TestValidateConfig(t *testing.T) {
	valid := Config{
		IMAPHost:       "imap.example.com",
		IMAPPort:       993,
		IMAPUser:       "u",
		IMAPPass:       "p",
		SourceMailbox:  "INBOX",
		SuccessMailbox: "processed",
		FailureMailbox: "failed",
		BuilderCommand: "build",
		PollInterval:   time.Minute,
		LogLevel:       "info",
	}
	require.NoError(t, validateConfig(valid))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.IMAPHost = "" }},
		{"missing password", func(c *Config) { c.IMAPPass = "" }},
		{"bad port", func(c *Config) { c.IMAPPort = 70000 }},
		{"missing builder", func(c *Config) { c.BuilderCommand = "" }},
		{"outcome equals source", func(c *Config) { c.FailureMailbox = "INBOX" }},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative timeout", func(c *Config) { c.MessageTimeout = -time.Second }},
		{"include and exclude", func(c *Config) {
			c.IncludeFrom = []string{"a"}
			c.ExcludeSubject = []string{"b"}
		}},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}
