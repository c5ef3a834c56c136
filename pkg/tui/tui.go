// Package tui renders CLI output: outcome summaries and row progress.
// Simple streaming output, no full-screen TUI.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/tabflow/tabflow/pkg/pipeline"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// NewRowBar returns a progress bar counting loaded rows. Row totals are
// unknown up front (objects are streamed), so the bar runs in spinner mode.
func NewRowBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// PrintOutcome renders one invocation outcome.
func PrintOutcome(out pipeline.Outcome) {
	fmt.Println()
	switch out.Status {
	case pipeline.StatusLoaded:
		if out.BatchesFailed > 0 {
			fmt.Println(accentStyle.Render("  ◐ PARTIAL ") + titleStyle.Render(out.Key))
		} else {
			fmt.Println(successStyle.Render("  ✓ LOADED ") + titleStyle.Render(out.Key))
		}
	case pipeline.StatusSkipped:
		fmt.Println(mutedStyle.Render("  - skipped " + out.Key + " (" + out.Reason + ")"))
		return
	case pipeline.StatusEmpty:
		fmt.Println(mutedStyle.Render("  - empty " + out.Key + " (" + out.Reason + ")"))
		return
	default:
		fmt.Println(accentStyle.Render("  ✗ FAILED ") + titleStyle.Render(out.Key))
		if out.Err != nil {
			fmt.Println(mutedStyle.Render("    " + out.Err.Error()))
		}
	}

	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Table:"), titleStyle.Render(out.Schema+"."+out.Table))
	fmt.Printf("  %s %d read, %d written\n", mutedStyle.Render("Rows:"), out.RowsRead, out.RowsWritten)
	fmt.Printf("  %s %d attempted, %d failed\n", mutedStyle.Render("Batches:"), out.BatchesAttempted, out.BatchesFailed)
	fmt.Printf("  %s %s\n", mutedStyle.Render("Took:"), out.Duration.Round(time.Millisecond).String())

	for _, be := range out.BatchErrors {
		fmt.Println(accentStyle.Render(fmt.Sprintf("    ✗ batch %d (rows %d-%d): %v", be.Batch, be.FirstRow, be.LastRow, be.Err)))
	}
}

// PrintSummary renders the totals across a multi-record delivery.
func PrintSummary(outcomes []pipeline.Outcome) {
	if len(outcomes) <= 1 {
		return
	}

	var read, written int64
	var failed int
	for _, out := range outcomes {
		read += out.RowsRead
		written += out.RowsWritten
		if out.Failed() {
			failed++
		}
	}

	fmt.Println()
	fmt.Println(mutedStyle.Render("  ═════════════════════════════════════"))
	fmt.Printf("  %s %d objects, %d rows read, %d rows written\n",
		titleStyle.Render("Total:"), len(outcomes), read, written)
	if failed > 0 {
		fmt.Println(accentStyle.Render(fmt.Sprintf("  %d object(s) failed", failed)))
	}
}
