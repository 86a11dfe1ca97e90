package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samuelfneumann/gamelearn/transport"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Train the agent on games which connect to it",
		Long: `Starts a WebSocket server which games connect to. Every connection
runs its own session, and all sessions train the same agent. The model is
checkpointed after each learning cycle and when the server stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, false)
		},
	}
	cmd.Flags().String("addr", "", "Address to listen on, overriding the configuration")
	return cmd
}

func newEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Play greedily with the checkpointed model",
		Long: `Starts a WebSocket server like serve, but the agent never explores,
never learns, and paces its actions so that they can be watched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, true)
		},
	}
	cmd.Flags().String("addr", "", "Address to listen on, overriding the configuration")
	return cmd
}

// runServer serves games until interrupted or, if the episode budget
// is global, until the budget is used up
func runServer(cmd *cobra.Command, eval bool) error {
	cfg, logger, err := load(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, eval, logger)
	if err != nil {
		return err
	}

	server := transport.NewServer(transport.ServerConfig{
		Path:            cfg.Server.Path,
		ResponseTimeout: cfg.ResponseTimeout,
	}, a.serveHandler(cancel), a.registry, a.health, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg.Server.Addr)
	})
	runErr := g.Wait()

	if err := a.close(ctx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
