package output

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/marketgate/marketgate/internal/core"
	"github.com/marketgate/marketgate/internal/core/engine"
	"github.com/marketgate/marketgate/internal/scheduler"
)

var resultHeader = table.Row{"Vendor", "Identifier", "Category", "Source", "Price", "Change", "Volume", "As Of", "Notes"}

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatResults renders one row per result.
func (f *TableFormatter) FormatResults(results []FetchResult) (string, error) {
	t := resultTable(results)
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatResults renders one row per result.
func (f *MarkdownFormatter) FormatResults(results []FetchResult) (string, error) {
	return resultTable(results).RenderMarkdown(), nil
}

func resultTable(results []FetchResult) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(resultHeader)

	failed := 0
	for _, item := range results {
		t.AppendRow(resultRow(item))
		if !item.Result.Success {
			failed++
		}
	}
	if len(results) > 0 {
		t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", fmt.Sprintf("%d/%d ok", len(results)-failed, len(results))})
	}
	return t
}

func resultRow(item FetchResult) table.Row {
	req := item.Request
	res := item.Result
	if !res.Success {
		return table.Row{req.Vendor, req.Identifier, string(req.Category), "-", "-", "-", "-", "-", failureNote(res.Failure)}
	}

	data := res.Data
	if data == nil {
		data = &core.MarketDataResult{}
	}
	source, _ := res.Metadata[core.MetaSource].(string)
	price := data.Price
	notes := ""
	if data.Category == core.CategorySeries || len(data.Points) > 0 {
		notes = fmt.Sprintf("%d points", len(data.Points))
		if price == nil && len(data.Points) > 0 {
			price = data.Points[len(data.Points)-1].Close
		}
	}
	if data.Currency != nil {
		notes = strings.TrimSpace(notes + " " + *data.Currency)
	}

	return table.Row{
		req.Vendor,
		req.Identifier,
		string(req.Category),
		dash(source),
		number(price),
		number(data.Change),
		number(data.Volume),
		timestamp(data.SourceTime),
		notes,
	}
}

func failureNote(failure *core.Failure) string {
	if failure == nil {
		return "failed"
	}
	note := fmt.Sprintf("%s: %s", failure.Kind, failure.Error)
	if failure.RetryAfter != nil {
		note += " (retry after " + failure.RetryAfter.UTC().Format(time.RFC3339) + ")"
	}
	return note
}

// VendorTable renders the configured vendors, their limits and endpoints.
func VendorTable(vendors []core.VendorConfig) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Vendor", "Base URL", "Per Minute", "Per Hour", "Per Day", "Endpoints", "API Key"})

	for _, vendor := range vendors {
		limits := vendor.Limits()
		names := make([]string, 0, len(vendor.Endpoints))
		for name, endpoint := range vendor.Endpoints {
			names = append(names, fmt.Sprintf("%s (%s)", name, endpoint.Category))
		}
		sort.Strings(names)

		key := "no"
		if vendor.APIKey != "" {
			key = "yes"
		}
		t.AppendRow(table.Row{
			vendor.Name,
			vendor.BaseURL,
			limit(limits.PerMinute),
			limit(limits.PerHour),
			limit(limits.PerDay),
			strings.Join(names, ", "),
			key,
		})
	}
	return t.Render()
}

// GateTable renders gate snapshots, one row per window with a ceiling.
func GateTable(snapshots []engine.GateSnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Vendor", "Window", "Used", "Limit", "Resets At"})

	for _, snapshot := range snapshots {
		rows := 0
		for _, window := range snapshot.Windows {
			if window.Limit == 0 {
				continue
			}
			t.AppendRow(table.Row{
				snapshot.Vendor,
				string(window.Granularity),
				window.Count,
				window.Limit,
				window.End.UTC().Format(time.RFC3339),
			})
			rows++
		}
		if rows == 0 {
			t.AppendRow(table.Row{snapshot.Vendor, "-", "-", "unlimited", "-"})
		}
	}
	return t.Render()
}

// PrefetchTable renders one row per warmed vendor.
func PrefetchTable(summaries []scheduler.Summary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Vendor", "Identifiers", "Live", "Cached", "Failed", "Elapsed"})

	var total, live, cached, failed int
	for _, s := range summaries {
		t.AppendRow(table.Row{s.Vendor, s.Total, s.Live, s.Cached, s.Failed, s.Elapsed.Round(time.Millisecond).String()})
		total += s.Total
		live += s.Live
		cached += s.Cached
		failed += s.Failed
	}
	t.AppendFooter(table.Row{"Total", total, live, cached, failed, ""})
	return t.Render()
}

func number(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func timestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func limit(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
