package output

import (
	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/core/store"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatEntities(records []core.EntityRecord) (string, error) {
	return "## Entities\n\n" + render(entityTable(records), true), nil
}

func (f *MarkdownFormatter) FormatScores(scores []core.ScoreAggregate) (string, error) {
	return "## Scores\n\n" + render(scoreTable(scores), true), nil
}

func (f *MarkdownFormatter) FormatHistory(matches []core.MatchRecord) (string, error) {
	return "## Match history\n\n" + render(historyTable(matches), true), nil
}

func (f *MarkdownFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	return "## Rate limits\n\n" + render(rateLimitTable(entries), true), nil
}

func (f *MarkdownFormatter) FormatRateLimitEvents(events []core.RateLimitEvent) (string, error) {
	return "## Rate limit events\n\n" + render(eventTable(events), true), nil
}

func (f *MarkdownFormatter) FormatRefreshStatus(status refresh.Status) (string, error) {
	return "## Refresh\n\n" + render(refreshTable(status), true), nil
}
