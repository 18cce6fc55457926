package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/arenawatch/arenawatch/internal/output"
)

var (
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
	rateLimitResetEvents bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored gate state",
	Long: `Delete stored gate state so the next fetch for the matched entities is
allowed immediately. At least one of --all, --entity or --kind is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := rateLimitQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		_, format, sink, err := resolveOutput(cmd, "rate-limit.reset")
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

		matched, err := db.CountRateLimits(ctx, query)
		if err != nil {
			return err
		}

		if rateLimitResetDryRun {
			return writeRateLimitResetResult(format, sink.writer, matched, 0, true)
		}

		deleted, err := db.ResetRateLimits(ctx, query)
		if err != nil {
			return err
		}
		if rateLimitResetEvents {
			if err := db.ClearRateLimitEvents(ctx); err != nil {
				return err
			}
		}

		return writeRateLimitResetResult(format, sink.writer, matched, deleted, false)
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Rate Limit Reset", ""}
	if dryRun {
		lines = append(lines, fmt.Sprintf("Would delete %d gate entr(ies)", matched))
	} else {
		lines = append(lines, fmt.Sprintf("Deleted %d/%d gate entr(ies)", deleted, matched))
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}

func init() {
	addRateLimitQueryFlags(rateLimitResetCmd, "Reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetEvents, "events", false, "Also clear the gate decision log")
	addOutputFlags(rateLimitResetCmd)
}
