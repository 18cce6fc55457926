package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/arenawatch/arenawatch/internal/core"
	"github.com/arenawatch/arenawatch/internal/core/refresh"
	"github.com/arenawatch/arenawatch/internal/core/store"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func (f *TableFormatter) FormatEntities(records []core.EntityRecord) (string, error) {
	return render(entityTable(records), false), nil
}

func (f *TableFormatter) FormatScores(scores []core.ScoreAggregate) (string, error) {
	return render(scoreTable(scores), false), nil
}

func (f *TableFormatter) FormatHistory(matches []core.MatchRecord) (string, error) {
	return render(historyTable(matches), false), nil
}

func (f *TableFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	return render(rateLimitTable(entries), false), nil
}

func (f *TableFormatter) FormatRateLimitEvents(events []core.RateLimitEvent) (string, error) {
	return render(eventTable(events), false), nil
}

func (f *TableFormatter) FormatRefreshStatus(status refresh.Status) (string, error) {
	return render(refreshTable(status), false), nil
}

// tableData is shared by the table and markdown renderers.
type tableData struct {
	header table.Row
	rows   []table.Row
	footer table.Row
}

func render(data tableData, markdown bool) string {
	t := table.NewWriter()
	t.AppendHeader(data.header)
	t.AppendRows(data.rows)
	if data.footer != nil {
		t.AppendFooter(data.footer)
	}
	if markdown {
		return t.RenderMarkdown()
	}
	t.SetStyle(table.StyleRounded)
	return t.Render()
}

func entityTable(records []core.EntityRecord) tableData {
	data := tableData{header: table.Row{"Entity", "Name", "State", "Latency", "Last Seen", "Notes"}}
	usable := 0
	for _, r := range records {
		if r.Usable() {
			usable++
		}
		data.rows = append(data.rows, table.Row{
			r.EntityID,
			r.Name,
			r.State().String(),
			formatLatency(r.LatencyMs),
			formatTimePtr(r.LastSeen),
			r.Error,
		})
	}
	data.footer = table.Row{"", "", fmt.Sprintf("%d/%d usable", usable, len(records)), "", "", ""}
	return data
}

func scoreTable(scores []core.ScoreAggregate) tableData {
	data := tableData{header: table.Row{"Entity", "Wins", "Losses", "Challenges", "Avg Latency"}}
	for _, s := range scores {
		data.rows = append(data.rows, table.Row{
			s.EntityID,
			s.Wins,
			s.Losses,
			s.Challenges,
			fmt.Sprintf("%.1fms", s.AvgLatencyMs),
		})
	}
	return data
}

func historyTable(matches []core.MatchRecord) tableData {
	data := tableData{header: table.Row{"Played", "Challenger", "Opponent", "Winner", "Duration"}}
	for _, m := range matches {
		data.rows = append(data.rows, table.Row{
			formatTime(m.PlayedAt),
			m.Challenger,
			m.Opponent,
			m.Winner,
			fmt.Sprintf("%dms", m.DurationMs),
		})
	}
	return data
}

func rateLimitTable(entries []store.RateLimitEntry) tableData {
	data := tableData{header: table.Row{"Entity", "Kind", "Last Allowed"}}
	for _, entry := range entries {
		data.rows = append(data.rows, table.Row{
			entry.Key.EntityID,
			string(entry.Key.Kind),
			formatTime(entry.State.LastAllowedAt),
		})
	}
	return data
}

func eventTable(events []core.RateLimitEvent) tableData {
	data := tableData{header: table.Row{"At", "Entity", "Kind", "Action"}}
	for _, e := range events {
		data.rows = append(data.rows, table.Row{
			formatTime(e.At),
			e.EntityID,
			string(e.Kind),
			string(e.Action),
		})
	}
	return data
}

func refreshTable(status refresh.Status) tableData {
	data := tableData{header: table.Row{"Topic", "Base", "Effective", "Backoff", "Subscribers", "Armed", "Last Refresh"}}
	for _, t := range status.Topics {
		data.rows = append(data.rows, table.Row{
			t.Topic,
			(time.Duration(t.BaseIntervalMs) * time.Millisecond).String(),
			(time.Duration(t.EffectiveIntervalMs) * time.Millisecond).String(),
			fmt.Sprintf("x%d", t.BackoffFactor),
			t.SubscriberCount,
			t.Active,
			formatTimePtr(t.LastRefresh),
		})
	}
	state := "disabled"
	if status.Enabled {
		state = "enabled"
	}
	data.footer = table.Row{"", "", "", "", "", state, ""}
	return data
}

func formatLatency(latency *int) string {
	if latency == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *latency)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

func formatTimePtr(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return formatTime(*value)
}
