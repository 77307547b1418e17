package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"noob2root-bot/internal/app"
	"noob2root-bot/internal/config"
)

// NewChallengeCmd groups the daily challenge commands.
func NewChallengeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Inspect or rotate the daily challenge",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Draw a new daily challenge now, resetting everyone's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), *configPath, func(ctx context.Context, t *app.ChallengeTracker) error {
				state, err := t.Rotate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (+%d points)\n", state.Date, state.Current.Task, state.Current.Points)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current daily challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), *configPath, func(ctx context.Context, t *app.ChallengeTracker) error {
				state, err := t.Current(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if state.Current == nil {
					fmt.Fprintln(out, "no challenge set")
					return nil
				}
				fmt.Fprintf(out, "%s: %s (+%d points), %d participants\n", state.Date, state.Current.Task, state.Current.Points, len(state.Progress))
				return nil
			})
		},
	})
	return cmd
}

// withTracker builds a tracker without a chat surface, so rotations made
// from the command line are not announced.
func withTracker(ctx context.Context, configPath string, fn func(context.Context, *app.ChallengeTracker) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ledger := app.NewLedger(st.docs, nil, st.leaderboard, logger.Named("ledger"))
	tracker := app.NewChallengeTracker(st.docs, ledger, nil, app.ChallengeTrackerConfig{
		ClaimOnce: cfg.Challenge.ClaimOnce,
	}, logger.Named("challenge"), nil)
	if err := fn(ctx, tracker); err != nil {
		logger.Error("challenge command failed", zap.Error(err))
		return err
	}
	return nil
}
