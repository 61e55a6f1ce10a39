package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/ranya-engine/internal/config"
	"github.com/harun/ranya-engine/internal/logger"
)

const version = "0.2.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ranya",
	Short: "Ranya - agent execution engine",
	Long: `Ranya runs AI agents: it resolves the agent bound to a session, streams
model output with automatic failover across a model chain, executes tool calls,
compacts long transcripts and spawns depth-bounded sub-agents.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ranya/engine.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads and validates the config named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadAndValidate(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to stderr so
// stdout carries only run output.
func newLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	l, err := logger.New(logger.Config{
		Level:      cfg.Level,
		File:       cfg.File,
		Console:    cfg.Console,
		Pretty:     true,
		Redaction:  cfg.Redaction,
		MaxSizeMB:  cfg.MaxSize,
		MaxAgeDays: cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// bootstrap loads config, logging and the engine for a command
func bootstrap() (*engine, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	l, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	e, err := newEngine(cfg, l.Zerolog())
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	return e, l, nil
}
