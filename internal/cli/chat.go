package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/ranya-engine/pkg/agent"
	"github.com/harun/ranya-engine/pkg/llm"
)

var chatOpts struct {
	session string
	agentID string
	watch   bool
	usage   bool
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive session. Each line is one run; the transcript is
carried between runs. With --watch, edits to the config file take effect
from the next run. Type /reset to clear the transcript and /quit to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatOpts.session, "session", "s", "cli:dm:local", "session key")
	chatCmd.Flags().StringVar(&chatOpts.agentID, "agent", "", "pin an agent instead of resolving one")
	chatCmd.Flags().BoolVar(&chatOpts.watch, "watch", true, "reload the config file when it changes")
	chatCmd.Flags().BoolVar(&chatOpts.usage, "usage", false, "print token usage per model call")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	e, l, err := bootstrap()
	if err != nil {
		return err
	}
	defer l.Close()
	if err := e.start(cfgFile, chatOpts.watch); err != nil {
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
	out := cmd.OutOrStdout()
	p := newPrinter(out, cmd.ErrOrStderr(), false, chatOpts.usage)

	var transcript llm.Transcript
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			transcript = nil
			e.runner.ResetSessionUsage(chatOpts.session)
			fmt.Fprintln(out, "transcript cleared")
			continue
		case "/usage":
			u := e.runner.SessionUsage(chatOpts.session)
			fmt.Fprintf(out, "%d requests, %d in, %d out\n", u.Requests, u.InputTokens, u.OutputTokens)
			continue
		case "/subagents":
			printSubagents(cmd, e)
			continue
		}

		result, err := runOnce(ctx, e.runner, agent.RunParams{
			SessionKey: chatOpts.session,
			Prompt:     line,
			Transcript: transcript,
			AgentID:    chatOpts.agentID,
		}, p)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		// Aborted and failed runs keep their partial history
		if len(result.Transcript) > 0 {
			transcript = result.Transcript
		}
	}
}

func printSubagents(cmd *cobra.Command, e *engine) {
	records := e.spawner.Registry().Descendants(chatOpts.session)
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no subagents")
		return
	}
	for _, r := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s depth=%d agent=%s task=%q\n",
			r.ChildSessionKey, r.Status, r.Depth, r.AgentID, clip(r.Task, 60))
	}
}
