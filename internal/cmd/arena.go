package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arenawatch/arenawatch/internal/config"
	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/store"
	"github.com/arenawatch/arenawatch/internal/observability"
	"github.com/arenawatch/arenawatch/internal/output"
)

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch every configured entity once and show the results",
	Long: `Run one forced fetch cycle against every configured entity and print the
merged records. Fetch gates persisted by a running server are honored, so
recently fetched entities show their cached snapshot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArena(cmd, "status", func(ctx context.Context, rt *arena, sink *outputSink, render output.Formatter) error {
			report := rt.aggregator.Refresh(ctx, true)
			observability.ComponentLogger().Debug("Fetch cycle complete",
				zap.Int("entities", report.Entities),
				zap.Int("usable", report.Usable),
				zap.Bool("success", report.Success))

			rendered, err := render.FormatEntities(rt.aggregator.Entities())
			if err != nil {
				return err
			}
			return writeRendered(sink, rendered)
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping <entity>",
	Short: "Probe a single entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArena(cmd, "ping", func(ctx context.Context, rt *arena, sink *outputSink, render output.Formatter) error {
			record, err := rt.aggregator.Ping(ctx, args[0])
			if err != nil {
				return err
			}
			rendered, err := render.FormatEntities([]core.EntityRecord{record})
			if err != nil {
				return err
			}
			return writeRendered(sink, rendered)
		})
	},
}

var challengeCmd = &cobra.Command{
	Use:   "challenge <challenger> <opponent>",
	Short: "Run a challenge between two entities and record the result",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArena(cmd, "challenge", func(ctx context.Context, rt *arena, sink *outputSink, render output.Formatter) error {
			match, err := rt.aggregator.Challenge(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			// Persist the score deltas before printing.
			if err := rt.aggregator.Flush(ctx); err != nil {
				return fmt.Errorf("flush scores: %w", err)
			}
			rendered, err := render.FormatHistory([]core.MatchRecord{match})
			if err != nil {
				return err
			}
			return writeRendered(sink, rendered)
		})
	},
}

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Show persisted score aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, "scores", func(ctx context.Context, db *store.Store, sink *outputSink, render output.Formatter) error {
			scores, err := db.ListScores(ctx)
			if err != nil {
				return err
			}
			rendered, err := render.FormatScores(scores)
			if err != nil {
				return err
			}
			return writeRendered(sink, rendered)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded challenges, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return errors.New("--limit must be positive")
		}
		return withStore(cmd, "history", func(ctx context.Context, db *store.Store, sink *outputSink, render output.Formatter) error {
			matches, err := db.ListMatches(ctx, historyLimit)
			if err != nil {
				return err
			}
			rendered, err := render.FormatHistory(matches)
			if err != nil {
				return err
			}
			return writeRendered(sink, rendered)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, pingCmd, challengeCmd, scoresCmd, historyCmd} {
		addOutputFlags(c)
		rootCmd.AddCommand(c)
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of challenges to show")
}

// withStore resolves output flags, loads config and opens the store for the
// duration of fn.
func withStore(cmd *cobra.Command, name string, fn func(context.Context, *store.Store, *outputSink, output.Formatter) error) error {
	formatter, _, sink, err := resolveOutput(cmd, name)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	return fn(ctx, db, sink, formatter)
}

// withArena is withStore plus the fetch pipeline. Pending score updates are
// flushed before the store closes.
func withArena(cmd *cobra.Command, name string, fn func(context.Context, *arena, *outputSink, output.Formatter) error) error {
	return withStore(cmd, name, func(ctx context.Context, db *store.Store, sink *outputSink, formatter output.Formatter) error {
		var logger observability.Logger
		if observability.CLILogger != nil {
			logger = observability.CLILogger
		}
		rt, err := newArena(ctx, config.GetConfig(), db, logger)
		if err != nil {
			return err
		}
		runErr := fn(ctx, rt, sink, formatter)
		if err := rt.close(ctx); err != nil && runErr == nil {
			runErr = fmt.Errorf("flush scores: %w", err)
		}
		return runErr
	})
}
