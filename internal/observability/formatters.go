// Package observability provides formatted terminal output for the one-shot
// run command.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/apply-autopilot/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxOutcomesToShow bounds the outcome table
	maxOutcomesToShow = 20
)

// Printer writes run progress and results for humans.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, clip(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintEvent writes one run log line.
//
//nolint:errcheck
func (p *Printer) PrintEvent(ev types.LogEvent) {
	fmt.Fprintf(p.out, "%s %s %s\n", ev.Timestamp.Format("15:04:05"), levelMark(ev.Level), ev.Message)
}

// PrintSummary outputs the final counters of a run.
func (p *Printer) PrintSummary(state types.RunState, summary types.RunSummary, runErr string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "State:       %s\n", state)
	fmt.Fprintf(&sb, "Pages:       %d\n", summary.PagesVisited)
	fmt.Fprintf(&sb, "Listings:    %d\n", summary.Listings)
	fmt.Fprintf(&sb, "Applied:     %d\n", summary.Applied)
	fmt.Fprintf(&sb, "Skipped:     %d\n", summary.Skipped)
	fmt.Fprintf(&sb, "Duplicates:  %d\n", summary.Duplicates)
	fmt.Fprintf(&sb, "Persisted:   %d", summary.Persisted)
	switch {
	case summary.Cancelled:
		sb.WriteString("\n\nStopped on request.")
	case summary.StoppedEarly:
		sb.WriteString("\n\nStopped before the page limit.")
	}
	if runErr != "" {
		fmt.Fprintf(&sb, "\n\nError: %s", runErr)
	}
	p.printBox("RUN SUMMARY", sb.String())
}

// PrintOutcomes outputs one line per examined listing, newest last.
func (p *Printer) PrintOutcomes(outcomes []types.JobOutcome) {
	if len(outcomes) == 0 {
		p.printBox("OUTCOMES", "No listings were examined.")
		return
	}

	var sb strings.Builder
	count := min(len(outcomes), maxOutcomesToShow)
	for i := 0; i < count; i++ {
		o := outcomes[i]
		title := o.Metadata.Title
		if title == "" {
			title = o.ListingURL
		}
		fmt.Fprintf(&sb, "p%d #%d %-7s %s\n", o.PageNumber, o.IndexOnPage, o.Status, title)
		if o.Reason != "" {
			fmt.Fprintf(&sb, "        %s (score %d)\n", o.Reason, o.MatchScore)
		}
	}
	if len(outcomes) > maxOutcomesToShow {
		fmt.Fprintf(&sb, "... and %d more\n", len(outcomes)-maxOutcomesToShow)
	}
	p.printBox("OUTCOMES", strings.TrimSuffix(sb.String(), "\n"))
}

func levelMark(level types.LogLevel) string {
	switch level {
	case types.LevelSuccess:
		return "[ok]  "
	case types.LevelWarning:
		return "[warn]"
	case types.LevelError:
		return "[err] "
	default:
		return "[info]"
	}
}

// clip shortens s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
