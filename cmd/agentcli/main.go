// Command agentcli is a thin front-end over pkg/agentcore: it consumes
// only Subscribe, Run, Reset, ListSessions, and GetHistory, exactly the
// surface the runtime opens up to CLI/HTTP collaborators.
package main

import (
	"fmt"
	"os"

	"github.com/kestrelrun/agentcore/internal/logger"
	"github.com/kestrelrun/agentcore/pkg/agentcore"
	"github.com/kestrelrun/agentcore/pkg/eventstream"
	"github.com/spf13/cobra"
)

var (
	agentID      string
	sessionDir   string
	workspaceDir string
	llmProvider  string
	model        string
	apiKey       string
	temperature  float64
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:     "agentcli",
	Short:   "agentcli drives an agentcore.Agent from the command line",
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logger.DefaultConfig()
		cfg.Level = logLevel
		_, err := logger.New(cfg)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&agentID, "agent-id", "cli-agent", "agent identity used to derive session keys")
	rootCmd.PersistentFlags().StringVar(&sessionDir, "session-dir", "./sessions", "directory holding session transcripts")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace", ".", "workspace directory (bootstrap files, skills)")
	rootCmd.PersistentFlags().StringVar(&llmProvider, "provider", "anthropic", "LLM provider (anthropic, openai, gemini)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "claude-sonnet-4", "model name")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AGENTCLI_API_KEY"), "LLM provider API key")
	rootCmd.PersistentFlags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, resetCmd, sessionsCmd, historyCmd)
}

func newAgent() (*agentcore.Agent, error) {
	return agentcore.New(agentcore.Config{
		AgentID:      agentID,
		SessionDir:   sessionDir,
		WorkspaceDir: workspaceDir,
		Provider:     llmProvider,
		Model:        model,
		APIKey:       apiKey,
		Temperature:  temperature,
		Features: agentcore.FeatureFlags{
			EnableSkills: true,
		},
	})
}

var runCmd = &cobra.Command{
	Use:   "run <session> <message>",
	Short: "Send one message to a session and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newAgent()
		if err != nil {
			return err
		}
		session, message := args[0], joinArgs(args[1:])

		unsubscribe := agent.Subscribe(func(_ string, ev eventstream.Event) {
			if ev.Type == eventstream.EventMessageDelta {
				fmt.Print(ev.Delta)
			}
		})
		defer unsubscribe()

		result, err := agent.Run(cmd.Context(), session, message)
		fmt.Println()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n[turns=%d tool_calls=%d]\n", result.Turns, result.ToolCalls)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <session>",
	Short: "Clear a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newAgent()
		if err != nil {
			return err
		}
		return agent.Reset(cmd.Context(), args[0])
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known session keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newAgent()
		if err != nil {
			return err
		}
		keys, err := agent.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "Print a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := newAgent()
		if err != nil {
			return err
		}
		history, err := agent.GetHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, msg := range history {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", msg.Role, msg.JoinText())
		}
		return nil
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
