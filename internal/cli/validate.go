package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/ranya-engine/internal/config"
	"github.com/harun/ranya-engine/pkg/resolver"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig(cmd.OutOrStdout(), cfgFile)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validateConfig reports every problem instead of stopping at the first
func validateConfig(w io.Writer, path string) error {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	var problems []error
	if err := cfg.Validate(); err != nil {
		problems = append(problems, err)
	}
	problems = append(problems, config.NewValidator().ValidateConfig(cfg)...)
	if _, err := resolver.New(cfg); err != nil {
		problems = append(problems, err)
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(w, "✗ %v\n", p)
		}
		return errors.Join(problems...)
	}

	fmt.Fprintf(w, "✓ %s: %d agents, %d bindings\n", loader.GetConfigPath(), len(cfg.Agents), len(cfg.Bindings))
	return nil
}
