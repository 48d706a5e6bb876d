// Package tui renders terminal output for the taxiflow CLI.
// Plain streaming output: styled lines, tables and a download bar.
package tui

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FFCC00")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	danger  = lipgloss.Color("#FF3333")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	dangerStyle  = lipgloss.NewStyle().Foreground(danger).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintHeader prints the banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  TAXIFLOW")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  NYC taxi trip sample and hourly summary"))
	fmt.Fprintln(w)
}

// RunReport is what the CLI prints after a pipeline run.
type RunReport struct {
	RunID        string
	Engine       string
	InputPath    string
	InputSize    int64
	OutputDir    string
	RowsRead     int64
	RowsRejected int64
	SampleSize   int
	HourCount    int
	Duration     time.Duration
}

// PrintRunReport prints results after a run.
func PrintRunReport(w io.Writer, r *RunReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ ARTIFACTS PUBLISHED"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Input:"), titleStyle.Render(r.InputPath),
		mutedStyle.Render("("+formatBytes(r.InputSize)+")"))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Output:"), codeStyle.Render(r.OutputDir))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Engine:"), titleStyle.Render(r.Engine))
	fmt.Fprintf(w, "  %s %s", mutedStyle.Render("Rows:"), titleStyle.Render(formatNumber(r.RowsRead)))
	if r.RowsRejected > 0 {
		fmt.Fprintf(w, " %s", accentStyle.Render(fmt.Sprintf("(%s with unusable fields)", formatNumber(r.RowsRejected))))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %d rows, %d hours\n", mutedStyle.Render("Artifacts:"), r.SampleSize, r.HourCount)

	if r.Duration > 0 {
		throughput := float64(r.RowsRead) / r.Duration.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(r.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s rows/sec)", formatNumber(int64(throughput)))))
	}
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Run:"), mutedStyle.Render(r.RunID))
	fmt.Fprintln(w)
}

// PrintError prints a failure line.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, dangerStyle.Render("  ✗ ")+err.Error())
}

// PrintNotice prints a muted informational line.
func PrintNotice(w io.Writer, msg string) {
	fmt.Fprintln(w, mutedStyle.Render("  "+msg))
}

// DownloadBar creates a byte progress bar on stderr. total may be -1.
func DownloadBar(total int64, label string) io.Writer {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("  "+label),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// RenderSummary renders the hourly summary as a table.
func RenderSummary(rows []model.HourlySummary) string {
	tw := newTable("Hour", "Avg distance", "Avg amount", "Trips")
	var trips int64
	for _, r := range rows {
		tw.AppendRow(table.Row{
			fmt.Sprintf("%02d:00", r.PickupHour),
			strconv.FormatFloat(r.AvgDistance, 'f', 2, 64),
			strconv.FormatFloat(r.AvgAmount, 'f', 2, 64),
			r.TotalTrips,
		})
		trips += r.TotalTrips
	}
	tw.AppendFooter(table.Row{"", "", "Total", trips})
	alignRight(tw, 2, 3, 4)
	return tw.Render()
}

// RenderRuns renders ledger entries, newest first.
func RenderRuns(runs []model.RunRecord) string {
	tw := newTable("Run", "Started", "Status", "Engine", "Rows", "Hours", "Duration", "Error")
	for _, r := range runs {
		status := string(r.Status)
		switch r.Status {
		case model.RunSucceeded:
			status = successStyle.Render(status)
		case model.RunFailed:
			status = dangerStyle.Render(status)
		}
		dur := "-"
		if r.EndedAt != nil {
			dur = formatDuration(r.Duration())
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		tw.AppendRow(table.Row{
			id,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			status,
			r.Engine,
			r.RowsRead,
			r.HourCount,
			dur,
			r.ErrorCode,
		})
	}
	alignRight(tw, 5, 6, 7)
	return tw.Render()
}

// RenderInspection renders the header, the resolved required columns and
// the types DuckDB infers for the input.
func RenderInspection(in *schema.Inspection) string {
	required := make(map[string]string)
	if in.Binding != nil {
		for i, col := range in.Binding.Schema.Columns {
			required[in.Binding.Source[i]] = col.Name
		}
	}

	tw := newTable("#", "Column", "Inferred type", "Required as")
	for i, col := range in.Columns {
		tw.AppendRow(table.Row{i + 1, col.Name, col.Type, required[col.Name]})
	}
	for _, name := range in.Missing {
		tw.AppendRow(table.Row{"-", name, "", dangerStyle.Render("missing")})
	}
	tw.AppendFooter(table.Row{"", "rows", in.RowCount, ""})
	alignRight(tw, 1)
	return tw.Render()
}

func newTable(headers ...string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	return tw
}

func alignRight(tw table.Writer, columns ...int) {
	cfgs := make([]table.ColumnConfig, 0, len(columns))
	for _, n := range columns {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(cfgs)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
