// Package cli holds the output formatting shared by the ops verbs:
// JSON for scripting, tabwriter tables for humans, and an interactive
// queue browser for TTYs.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"outreach-control/internal/experiment"
	"outreach-control/internal/killswitch"
	"outreach-control/internal/queue"
)

// OutputFormatter handles different output formats
type OutputFormatter struct {
	format string
	quiet  bool
	out    io.Writer
}

// NewOutputFormatter creates a new output formatter
func NewOutputFormatter(format string, quiet bool) *OutputFormatter {
	return &OutputFormatter{
		format: format,
		quiet:  quiet,
		out:    os.Stdout,
	}
}

// SetOutput redirects output, used by tests
func (f *OutputFormatter) SetOutput(w io.Writer) { f.out = w }

// JSON reports whether machine output was requested
func (f *OutputFormatter) JSON() bool { return f.format == "json" }

// PrintJSON encodes any value as indented JSON
func (f *OutputFormatter) PrintJSON(v any) error {
	enc := json.NewEncoder(f.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintJobs prints a list of send jobs
func (f *OutputFormatter) PrintJobs(jobs []*queue.SendJob) error {
	if f.quiet {
		for _, job := range jobs {
			fmt.Fprintln(f.out, job.JobID)
		}
		return nil
	}

	switch f.format {
	case "json":
		return f.PrintJSON(jobs)
	case "table":
		return f.printJobsTable(jobs)
	default:
		return fmt.Errorf("unsupported format: %s", f.format)
	}
}

// PrintKillSwitch prints the runtime kill switch state
func (f *OutputFormatter) PrintKillSwitch(state *killswitch.State) error {
	if f.format == "json" {
		return f.PrintJSON(state)
	}

	if state.Enabled {
		fmt.Fprintf(f.out, "Sending STOPPED\n")
		fmt.Fprintf(f.out, "Reason: %s\n", state.Reason)
		fmt.Fprintf(f.out, "Set by: %s\n", state.SetBy)
		if !state.SetAt.IsZero() {
			fmt.Fprintf(f.out, "Since:  %s\n", state.SetAt.Format(time.RFC3339))
		}
	} else {
		fmt.Fprintln(f.out, "Sending enabled (runtime kill switch off)")
	}
	return nil
}

// PrintQueueStats prints queue statistics
func (f *OutputFormatter) PrintQueueStats(stats *queue.Stats) error {
	if f.format == "json" {
		return f.PrintJSON(stats)
	}

	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range []queue.JobStatus{
		queue.StatusQueued,
		queue.StatusInProgress,
		queue.StatusSent,
		queue.StatusFailed,
		queue.StatusCancelled,
		queue.StatusDeadLetter,
	} {
		fmt.Fprintf(w, "%s\t%d\n", string(status), stats.ByStatus[status])
	}
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	fmt.Fprintf(w, "sent today\t%d\n", stats.SentToday)
	return nil
}

// PrintMetrics prints an experiment metrics report
func (f *OutputFormatter) PrintMetrics(m *experiment.Metrics) error {
	if f.format == "json" {
		return f.PrintJSON(m)
	}

	fmt.Fprintf(f.out, "Total sent:    %d\n", m.TotalSent)
	fmt.Fprintf(f.out, "Total replies: %d\n", m.TotalReplies)
	if m.ReplyRate != nil {
		fmt.Fprintf(f.out, "Reply rate:    %.2f%%\n", *m.ReplyRate*100)
	} else {
		fmt.Fprintln(f.out, "Reply rate:    n/a")
	}
	fmt.Fprintf(f.out, "Days running:  %d\n", m.DaysSinceStart)
	if m.DaysSinceLastReply >= 0 {
		fmt.Fprintf(f.out, "Days since last reply: %d\n", m.DaysSinceLastReply)
	}

	if len(m.Variants) > 0 {
		fmt.Fprintln(f.out)
		w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "VARIANT\tSENT\tREPLIES\tRATE")
		for _, stats := range m.Variants {
			rate := "n/a"
			if stats.ReplyRate != nil {
				rate = fmt.Sprintf("%.2f%%", *stats.ReplyRate*100)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", stats.Variant, stats.Sent, stats.Replies, rate)
		}
	}
	return nil
}

// PrintSafety prints a safety evaluation
func (f *OutputFormatter) PrintSafety(result *experiment.SafetyResult) error {
	if f.format == "json" {
		return f.PrintJSON(result)
	}

	fmt.Fprintf(f.out, "Action: %s\n", string(result.Action))
	for _, reason := range result.Reasons {
		fmt.Fprintf(f.out, "  - %s\n", reason)
	}
	return nil
}

// PrintSuccess prints a success message
func (f *OutputFormatter) PrintSuccess(message string) {
	if !f.quiet && f.format != "json" {
		fmt.Fprintf(f.out, "✓ %s\n", message)
	}
}

// PrintError prints an error message
func (f *OutputFormatter) PrintError(err error) {
	if !f.quiet {
		fmt.Fprintf(os.Stderr, "✗ Error: %v\n", err)
	}
}

// PrintInfo prints an informational message
func (f *OutputFormatter) PrintInfo(message string) {
	if !f.quiet && f.format != "json" {
		fmt.Fprintf(f.out, "ℹ %s\n", message)
	}
}

func (f *OutputFormatter) printJobsTable(jobs []*queue.SendJob) error {
	if len(jobs) == 0 {
		fmt.Fprintln(f.out, "No jobs found.")
		return nil
	}

	w := tabwriter.NewWriter(f.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "JOB\tSTATUS\tATTEMPTS\tDOMAIN\tVARIANT\tLAST ERROR\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			job.JobID,
			string(job.Status),
			job.Attempts,
			truncate(job.ToDomain, 24),
			job.ABVariant,
			string(job.LastErrorCode),
			job.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// ParseFormat normalises the --json flag and --format value
func ParseFormat(jsonFlag bool, format string) string {
	if jsonFlag {
		return "json"
	}
	if strings.TrimSpace(format) == "" {
		return "table"
	}
	return format
}
