// Package render writes run results to the terminal.
package render

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fleek-network/latency-measure/internal/aggregate"
	"github.com/fleek-network/latency-measure/internal/collect"
	"github.com/fleek-network/latency-measure/internal/measure"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	borderStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Results prints one table per worker: a column per sample index and a
// row per measured URL, each cell the sample's primary latency.
func Results(w io.Writer, run *collect.Run) {
	for _, res := range run.Results {
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Results for worker %s", res.Worker)))
		if res.Err != nil {
			fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("  %v (%d/%d samples)", res.Err, len(res.Target), run.Times)))
		}
		if len(res.Target) == 0 && len(res.Comparison) == 0 {
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, workerTable(run, res))
		fmt.Fprintln(w)
	}
}

func workerTable(run *collect.Run, res collect.WorkerResult) string {
	header := make([]string, 0, run.Times+1)
	header = append(header, "")
	for i := 1; i <= run.Times; i++ {
		header = append(header, strconv.Itoa(i))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(header...).
		Row(seriesRow(run.Target.URL, res.Target, run.Times)...)

	if run.Comparison != nil {
		t = t.Row(seriesRow(run.Comparison.URL, res.Comparison, run.Times)...)
	}
	return t.Render()
}

// seriesRow fills missing trailing samples with a dash so partial series
// still line up with the header.
func seriesRow(label string, series []measure.Response, times int) []string {
	row := make([]string, 0, times+1)
	row = append(row, label)
	for i := 0; i < times; i++ {
		if i < len(series) {
			row = append(row, Millis(series[i].PrimaryLatency()))
		} else {
			row = append(row, "-")
		}
	}
	return row
}

// Average prints the averaged latency for one measured URL.
func Average(w io.Writer, label string, avg measure.Response) {
	fmt.Fprintf(w, "URL: %s\n", label)
	fmt.Fprintf(w, "Average: %s\n", Millis(avg.PrimaryLatency()))
}

// Distribution prints the latency spread across a series of samples.
func Distribution(w io.Writer, label string, sum aggregate.Summary) {
	if sum.Count == 0 {
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Distribution for %s (%d samples)", label, sum.Count)))
	stats := []struct {
		name  string
		value time.Duration
	}{
		{"min", sum.Min},
		{"mean", sum.Mean},
		{"p50", sum.P50},
		{"p90", sum.P90},
		{"p95", sum.P95},
		{"p99", sum.P99},
		{"max", sum.Max},
	}
	for _, s := range stats {
		fmt.Fprintf(w, "  %-5s %s\n", s.name, millisPrecise(s.value))
	}
}

// Millis renders a duration as whole milliseconds, the unit used in
// result tables.
func Millis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func millisPrecise(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

// Progress renders one updating status line during a run.
type Progress struct {
	w io.Writer
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

func (p *Progress) Update(done, total int) {
	fmt.Fprintf(p.w, "\r\033[K%d/%d samples", done, total)
}

// Finish clears the status line.
func (p *Progress) Finish() {
	fmt.Fprint(p.w, "\r\033[K")
}
