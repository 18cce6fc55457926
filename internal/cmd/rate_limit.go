package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/arenawatch/arenawatch/internal/core/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset persisted fetch gates",
}

// rateLimitQueryFromFlags builds a query from the --all, --entity and --kind
// flags of cmd.
func rateLimitQueryFromFlags(cmd *cobra.Command) (store.RateLimitQuery, error) {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return store.RateLimitQuery{}, err
	}
	entity, err := cmd.Flags().GetString("entity")
	if err != nil {
		return store.RateLimitQuery{}, err
	}
	kind, err := cmd.Flags().GetString("kind")
	if err != nil {
		return store.RateLimitQuery{}, err
	}
	return store.RateLimitQuery{
		All:      all,
		EntityID: strings.TrimSpace(entity),
		Kind:     strings.ToLower(strings.TrimSpace(kind)),
	}, nil
}

func addRateLimitQueryFlags(cmd *cobra.Command, verb string) {
	cmd.Flags().Bool("all", false, verb+" every gate")
	cmd.Flags().String("entity", "", verb+" gates of one entity")
	cmd.Flags().String("kind", "", verb+" gates of one fetch kind (bulk|single)")
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rateLimitCmd.AddCommand(rateLimitEventsCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
