package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samuelfneumann/gamelearn/environment"
	"github.com/samuelfneumann/gamelearn/session"
	"github.com/samuelfneumann/gamelearn/tracker"
	"github.com/samuelfneumann/gamelearn/utils/progressbar"
)

func newSimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Train the agent on in-process platformer games",
		Long: `Plays simulated platformer games in-process, one session per game,
until the episode budget is used up. The state of the platformer is a
10x10 grid, so state_shape must have 100 elements.`,
		RunE: runSim,
	}
	cmd.Flags().Int("games", 1, "Number of games played concurrently")
	cmd.Flags().Bool("eval", false, "Play greedily without learning")
	cmd.Flags().String("returns", "", "File to save the return of each episode to")
	cmd.Flags().Bool("progress", false, "Print a progress bar of the episode budget")
	return cmd
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, logger, err := load(cmd)
	if err != nil {
		return err
	}
	games, _ := cmd.Flags().GetInt("games")
	if games < 1 {
		return fmt.Errorf("sim: at least one game is required")
	}
	if size := environment.GridSize * environment.GridSize; cfg.StateSize() != size {
		return fmt.Errorf("sim: state shape %v does not match the "+
			"platformer\n\twant(%v)\n\thave(%v)", cfg.StateShape, size,
			cfg.StateSize())
	}
	eval, _ := cmd.Flags().GetBool("eval")
	returnsFile, _ := cmd.Flags().GetString("returns")
	showProgress, _ := cmd.Flags().GetBool("progress")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, eval, logger)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		total := cfg.Episodes
		if cfg.EpisodeScope == session.PerConnection {
			total *= games
		}
		bar = progressbar.NewProgressBar(cmd.OutOrStdout(), 40, total)
	}

	returns := make([]*tracker.Return, games)
	lengths := make([]*tracker.EpisodeLength, games)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < games; i++ {
		returns[i] = tracker.NewReturn()
		lengths[i] = tracker.NewEpisodeLength()
		trackers := []tracker.Tracker{returns[i], lengths[i]}
		if bar != nil {
			trackers = append(trackers, bar)
		}
		game := environment.NewPlatformer(cfg.Seed + uint64(i))
		i := i

		g.Go(func() error {
			defer game.Close()
			return a.play(gctx, fmt.Sprintf("sim-%d", i), game, trackers...)
		})
	}
	simErr := g.Wait()
	if bar != nil {
		bar.Close()
	}

	if err := a.close(ctx); err != nil {
		logger.Error("could not save model", "error", err)
	}
	if errors.Is(simErr, context.Canceled) {
		logger.Info("simulation interrupted")
	} else if simErr != nil {
		return simErr
	}

	var all []float64
	var steps int
	for i := range returns {
		all = append(all, returns[i].Returns()...)
		for _, l := range lengths[i].Lengths() {
			steps += l
		}
	}
	logger.Info("simulation finished", "episodes", len(all), "steps", steps)

	if returnsFile == "" {
		return nil
	}
	return saveReturns(returnsFile, all)
}

// saveReturns saves the return of each episode to path
func saveReturns(path string, returns []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	defer f.Close()

	if err := tracker.SaveReturns(f, returns); err != nil {
		return fmt.Errorf("sim: could not save returns: %w", err)
	}
	return nil
}
