package cmd

import (
	"github.com/spf13/cobra"
)

var rateLimitEventsLimit int

var rateLimitEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent gate decisions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, _, sink, err := resolveOutput(cmd, "rate-limit.events")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		events, err := db.ListRateLimitEvents(ctx, rateLimitEventsLimit)
		if err != nil {
			return err
		}

		rendered, err := formatter.FormatRateLimitEvents(events)
		if err != nil {
			return err
		}
		return writeRendered(sink, rendered)
	},
}

func init() {
	rateLimitEventsCmd.Flags().IntVar(&rateLimitEventsLimit, "limit", 20, "Maximum number of events (1-100)")
	addOutputFlags(rateLimitEventsCmd)
}
