package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/ranya-engine/internal/config"
	"github.com/harun/ranya-engine/pkg/llm"
	"github.com/harun/ranya-engine/pkg/resolver"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <session-key>",
	Short: "Show the agent and model chain for a session key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return describeSession(cmd.OutOrStdout(), cfg, args[0], resolveJSON)
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return listAgents(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(agentsCmd)
}

// resolution is the printable answer of resolve
type resolution struct {
	SessionKey string          `json:"session_key"`
	Scope      resolver.Scope  `json:"scope"`
	Agent      string          `json:"agent"`
	Chain      []resolvedModel `json:"chain"`
	MaxDepth   int             `json:"max_subagent_depth"`
	ToolAllow  []string        `json:"tool_allow,omitempty"`
	ToolDeny   []string        `json:"tool_deny,omitempty"`
}

type resolvedModel struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"context_window"`
}

func describeSession(w io.Writer, cfg *config.Config, key string, asJSON bool) error {
	res, err := resolver.New(cfg)
	if err != nil {
		return err
	}
	identity, err := res.Resolve(key)
	if err != nil {
		return err
	}
	chain, err := res.ModelChain(identity)
	if err != nil {
		return err
	}

	out := resolution{
		SessionKey: key,
		Scope:      resolver.ParseScope(key),
		Agent:      identity.ID,
		MaxDepth:   identity.MaxSubagentDepth,
		ToolAllow:  identity.ToolAllow,
		ToolDeny:   identity.ToolDeny,
	}
	router := buildRouter(cfg)
	for _, m := range chain {
		out.Chain = append(out.Chain, resolvedModel{
			ID:            m,
			Provider:      providerFor(router, m),
			ContextWindow: res.ContextWindow(m),
		})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "session:  %s\n", out.SessionKey)
	fmt.Fprintf(w, "agent:    %s\n", out.Agent)
	fmt.Fprintf(w, "depth:    %d\n", out.MaxDepth)
	fmt.Fprintln(w, "chain:")
	for i, m := range out.Chain {
		fmt.Fprintf(w, "  %d. %s (%s, %d tokens)\n", i+1, m.ID, m.Provider, m.ContextWindow)
	}
	if len(out.ToolAllow) > 0 || len(out.ToolDeny) > 0 {
		fmt.Fprintf(w, "tools:    allow=[%s] deny=[%s]\n", strings.Join(out.ToolAllow, ","), strings.Join(out.ToolDeny, ","))
	}
	return nil
}

// providerFor names the provider serving model, or "no provider" when no
// api key is configured for it
func providerFor(router *llm.Router, model string) string {
	p, err := router.For(model)
	if err != nil {
		return "no provider"
	}
	return p.Name()
}

func listAgents(w io.Writer, cfg *config.Config) error {
	res, err := resolver.New(cfg)
	if err != nil {
		return err
	}
	for _, a := range res.Agents() {
		marker := " "
		if a.ID == cfg.DefaultAgent {
			marker = "*"
		}
		chain, err := res.ModelChain(a)
		if err != nil {
			fmt.Fprintf(w, "%s %-16s %v\n", marker, a.ID, err)
			continue
		}
		fmt.Fprintf(w, "%s %-16s %s\n", marker, a.ID, strings.Join(chain, " → "))
	}
	return nil
}
