package observability

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonathan/apply-autopilot/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSummary(types.RunStateCompleted, types.RunSummary{
		PagesVisited: 2,
		Listings:     3,
		Applied:      1,
		Skipped:      1,
		Duplicates:   1,
		Persisted:    2,
		StoppedEarly: true,
	}, "")
	output := buf.String()

	assert.Contains(t, output, "RUN SUMMARY")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "Duplicates:  1")
	assert.Contains(t, output, "Stopped before the page limit.")
	assert.NotContains(t, output, "Error:")
}

func TestPrintSummary_Failed(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintSummary(types.RunStateFailed, types.RunSummary{}, "authentication failed")

	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), "Error: authentication failed")
}

func TestPrintOutcomes(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintOutcomes([]types.JobOutcome{
		{PageNumber: 1, IndexOnPage: 0, Status: types.StatusApplied, Metadata: types.JobMetadata{Title: "Java Developer"}},
		{PageNumber: 1, IndexOnPage: 1, Status: types.StatusSkipped, Reason: types.ReasonPoorMatch, MatchScore: 2, ListingURL: "https://portal.example.com/job/2"},
	})
	output := buf.String()

	assert.Contains(t, output, "OUTCOMES")
	assert.Contains(t, output, "Java Developer")
	assert.Contains(t, output, "https://portal.example.com/job/2")
	assert.Contains(t, output, "poor_match (score 2)")
}

func TestPrintOutcomes_Truncates(t *testing.T) {
	var buf bytes.Buffer
	outcomes := make([]types.JobOutcome, 25)
	for i := range outcomes {
		outcomes[i] = types.JobOutcome{PageNumber: 1, IndexOnPage: i, Status: types.StatusSkipped, Metadata: types.JobMetadata{Title: fmt.Sprintf("Job %d", i)}}
	}
	NewPrinter(&buf).PrintOutcomes(outcomes)

	assert.Contains(t, buf.String(), "... and 5 more")
	assert.NotContains(t, buf.String(), "Job 24")
}

func TestPrintOutcomes_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintOutcomes(nil)
	assert.Contains(t, buf.String(), "No listings were examined.")
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintEvent(types.LogEvent{
		Seq:       3,
		Timestamp: time.Date(2026, 10, 19, 9, 30, 5, 0, time.UTC),
		Level:     types.LevelWarning,
		Message:   "No listings on page 2",
	})
	assert.Equal(t, "09:30:05 [warn] No listings on page 2\n", buf.String())
}

func TestPrintBox_ClipsLongLines(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).printBox("T", strings.Repeat("é", 100))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
	assert.Contains(t, buf.String(), "...")
}
