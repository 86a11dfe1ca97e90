package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/samuelfneumann/gamelearn/action"
	"github.com/samuelfneumann/gamelearn/transport"
)

func newConnectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Train the agent on a game it connects to",
		Long: `Connects to a game listening for WebSocket connections and plays it
until the episode budget is used up or the game disconnects.`,
		RunE: runConnect,
	}
	cmd.Flags().String("url", "", "URL of the game, overriding the configuration")
	cmd.Flags().String("start-command", string(action.Start),
		"Command which begins each episode (Reset, Start)")
	cmd.Flags().Bool("eval", false, "Play greedily without learning")
	return cmd
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := load(cmd)
	if err != nil {
		return err
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Client.URL = url
	}
	start, _ := cmd.Flags().GetString("start-command")
	if cfg.StartCommand, err = action.ParseControl(start); err != nil {
		return err
	}
	eval, _ := cmd.Flags().GetBool("eval")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, eval, logger)
	if err != nil {
		return err
	}

	conn, err := transport.Dial(ctx, cfg.Client.URL, cfg.ResponseTimeout)
	if err != nil {
		a.close(ctx)
		return err
	}
	defer conn.Close()
	logger.Info("connected to game", "url", cfg.Client.URL)

	playErr := a.play(ctx, uuid.New().String(), conn)
	if err := a.close(ctx); err != nil {
		logger.Error("could not save model", "error", err)
	}
	if transport.IsFailure(playErr) || errors.Is(playErr, context.Canceled) {
		logger.Info("game disconnected", "error", playErr)
		return nil
	}
	return playErr
}
