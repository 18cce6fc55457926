package cmd

import (
	"github.com/spf13/cobra"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored gate state",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := rateLimitQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if query.EntityID == "" && query.Kind == "" {
			query.All = true
		}

		formatter, _, sink, err := resolveOutput(cmd, "rate-limit.list")
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

		entries, err := db.ListRateLimits(ctx, query)
		if err != nil {
			return err
		}

		rendered, err := formatter.FormatRateLimits(entries)
		if err != nil {
			return err
		}
		return writeRendered(sink, rendered)
	},
}

func init() {
	addRateLimitQueryFlags(rateLimitListCmd, "List")
	addOutputFlags(rateLimitListCmd)
}
