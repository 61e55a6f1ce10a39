package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/ranya-engine/pkg/agent"
)

var runOpts struct {
	session string
	agentID string
	model   string
	json    bool
	usage   bool
	timeout time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one prompt against a session",
	Long: `Run one prompt through the agent resolved for --session and stream its
events. Interrupt once to abort the run cooperatively.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.session, "session", "s", "cli:dm:local", "session key")
	runCmd.Flags().StringVar(&runOpts.agentID, "agent", "", "pin an agent instead of resolving one")
	runCmd.Flags().StringVar(&runOpts.model, "model", "", "use only this model")
	runCmd.Flags().BoolVar(&runOpts.json, "json", false, "print events as JSON lines")
	runCmd.Flags().BoolVar(&runOpts.usage, "usage", false, "print token usage per model call")
	runCmd.Flags().DurationVar(&runOpts.timeout, "timeout", 0, "abort the run after this long")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, l, err := bootstrap()
	if err != nil {
		return err
	}
	defer l.Close()
	if err := e.start(cfgFile, false); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.close(ctx)
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if runOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runOpts.timeout)
		defer cancel()
	}

	result, err := runOnce(ctx, e.runner, agent.RunParams{
		SessionKey: runOpts.session,
		Prompt:     strings.Join(args, " "),
		AgentID:    runOpts.agentID,
		Model:      runOpts.model,
	}, newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), runOpts.json, runOpts.usage))
	if err != nil {
		return err
	}

	if !runOpts.json {
		u := e.runner.SessionUsage(runOpts.session)
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s via %s, %d tool calls, %d tokens]\n",
			result.AgentID, result.Model, len(result.ToolCalls), u.TotalTokens)
	}
	return result.Err
}

// runOnce starts a run, prints its events until Complete and returns the
// result. The first interrupt aborts the run.
func runOnce(ctx context.Context, runner *agent.Runner, params agent.RunParams, p *printer) (agent.AgentRunResult, error) {
	run, err := runner.Start(ctx, params)
	if err != nil {
		return agent.AgentRunResult{}, err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return run.Wait(), nil
			}
			p.print(ev)
		case <-sigs:
			runner.Abort(params.SessionKey)
		}
	}
}
