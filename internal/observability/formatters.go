// Package observability provides formatted terminal output for the operator CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 20
)

// Printer handles formatted output for the CLI.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		line = truncate(line, boxWidth-4)
		pad := boxWidth - 4 - utf8.RuneCountInString(line)
		fmt.Fprintf(p.out, "│ %s%s │\n", line, strings.Repeat(" ", pad))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// StepGlyph is the one-character marker for a step status.
func StepGlyph(s types.StepStatus) string {
	switch s {
	case types.StepSuccess:
		return "✓"
	case types.StepFailed:
		return "✗"
	case types.StepRunning:
		return "▶"
	case types.StepSkipped:
		return "-"
	default:
		return "·"
	}
}

// PrintRun outputs a run with one line per step.
func (p *Printer) PrintRun(run *types.Run) {
	if run == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Lead:     %s\n", run.LeadID)
	fmt.Fprintf(&sb, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(&sb, "Status:   %s\n", run.Status)
	fmt.Fprintf(&sb, "Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.StartedAt != nil && run.CompletedAt != nil {
		fmt.Fprintf(&sb, "Duration: %s\n", run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond))
	}
	if run.ErrorSummary != "" {
		fmt.Fprintf(&sb, "Error:    %s\n", run.ErrorSummary)
	}
	sb.WriteString("\n")

	for i, st := range run.Steps {
		fmt.Fprintf(&sb, "%s %2d %-26s %-8s", StepGlyph(st.Status), i+1, st.Name, st.Status)
		if st.Attempts > 1 {
			fmt.Fprintf(&sb, " x%d", st.Attempts)
		}
		if st.Error != "" {
			fmt.Fprintf(&sb, " %s", st.Error)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nArtifacts: %d", len(run.Artifacts))

	p.printBox("RUN "+run.ID, sb.String())
}

// PrintRuns outputs a table of runs.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRuns(runs []*types.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No runs.")
		return
	}

	fmt.Fprintf(p.out, "%-36s  %-10s  %-4s  %-5s  %s\n", "ID", "STATUS", "MODE", "STEPS", "CREATED")
	count := min(len(runs), maxItemsToShow)
	for _, run := range runs[:count] {
		done := 0
		for _, st := range run.Steps {
			if st.Status.Settled() {
				done++
			}
		}
		fmt.Fprintf(p.out, "%-36s  %-10s  %-4s  %2d/%-2d  %s\n",
			run.ID, run.Status, run.Mode, done, len(run.Steps), run.CreatedAt.Format(time.RFC3339))
	}
	if len(runs) > count {
		fmt.Fprintf(p.out, "... and %d more\n", len(runs)-count)
	}
}

// PrintLeads outputs the lead list, best score first as stored.
func (p *Printer) PrintLeads(leads []types.Lead) {
	if len(leads) == 0 {
		p.printBox("LEADS", "No leads.")
		return
	}

	var sb strings.Builder
	locked := 0
	for i, l := range leads {
		marker := " "
		if l.Locked {
			marker = "*"
			locked++
		}
		if i < maxItemsToShow {
			fmt.Fprintf(&sb, "%s %-20s %5.1f  %s", marker, truncate(l.ID, 20), l.Score, l.BusinessName)
			if l.Status != "" {
				fmt.Fprintf(&sb, " [%s]", l.Status)
			}
			sb.WriteString("\n")
		}
	}
	if len(leads) > maxItemsToShow {
		fmt.Fprintf(&sb, "... and %d more\n", len(leads)-maxItemsToShow)
	}
	fmt.Fprintf(&sb, "\nTotal: %d  Locked: %d", len(leads), locked)

	p.printBox("LEADS", sb.String())
}

// Watcher prints step transitions of a single run as they are persisted. It
// implements store.Listener.
type Watcher struct {
	printer *Printer
	runID   string

	mu   sync.Mutex
	seen map[string]types.StepStatus
	done chan struct{}
	once sync.Once
}

// NewWatcher creates a Watcher for runID.
func (p *Printer) NewWatcher(runID string) *Watcher {
	return &Watcher{
		printer: p,
		runID:   runID,
		seen:    make(map[string]types.StepStatus),
		done:    make(chan struct{}),
	}
}

// Done is closed once the run reaches a terminal status.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// LeadsChanged implements store.Listener.
func (w *Watcher) LeadsChanged([]types.Lead) {}

// RunChanged implements store.Listener.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (w *Watcher) RunChanged(run *types.Run) {
	if run.ID != w.runID {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, st := range run.Steps {
		if w.seen[st.Name] == st.Status || st.Status == types.StepPending {
			continue
		}
		w.seen[st.Name] = st.Status
		line := fmt.Sprintf("%s %-26s %s", StepGlyph(st.Status), st.Name, st.Status)
		if st.Error != "" {
			line += ": " + st.Error
		}
		fmt.Fprintln(w.printer.out, line)
	}

	if run.Status.Terminal() {
		w.once.Do(func() {
			fmt.Fprintf(w.printer.out, "run %s %s\n", run.ID, run.Status)
			close(w.done)
		})
	}
}
