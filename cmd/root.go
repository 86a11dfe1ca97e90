// Package cmd implements the command line interface of the agent.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/samuelfneumann/gamelearn/config"
	"github.com/samuelfneumann/gamelearn/logging"
)

// NewRootCommand returns the root command with every subcommand added
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gamelearn",
		Short: "gamelearn trains a deep Q-learning agent to play a game",
		Long: `gamelearn trains a deep Q-learning agent to play a game which
talks to it over a WebSocket. The agent either waits for games to connect
(serve, eval) or connects to a game itself (connect). The sim command plays
an in-process platformer game without a browser.`,
		SilenceUsage: true,
	}

	// Persistent flags (available to all commands)
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "YAML configuration file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.Int("episodes", 0, "Total episode budget, overriding the configuration")

	root.AddCommand(newServeCommand(), newEvalCommand(),
		newConnectCommand(), newSimCommand())
	return root
}

// Execute adds all child commands to the root command and runs it
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the configuration named by the command's flags, applies
// the flag overrides, and builds the logger
func load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		c.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		c.Log.Format = format
	}
	if episodes, _ := cmd.Flags().GetInt("episodes"); episodes > 0 {
		c.Episodes = episodes
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger, err := logging.NewWriter(cmd.ErrOrStderr(), c.Log.Level,
		c.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return c, logger, nil
}
