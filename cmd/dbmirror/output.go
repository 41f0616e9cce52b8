package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/dbmirror/pkg/dbmirror/differ"
	"github.com/jamesainslie/dbmirror/pkg/dbmirror/syncer"
)

// Color palette for terminal output.
var (
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#28A745")
	warningColor = lipgloss.Color("#FFC107")
	dangerColor  = lipgloss.Color("#DC3545")
	mutedColor   = lipgloss.Color("#666666")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	dangerStyle  = lipgloss.NewStyle().Foreground(dangerColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	// labelStyle pads outcome labels into a column.
	labelStyle = lipgloss.NewStyle().Width(16)
)

func outcomeStyle(o syncer.Outcome) lipgloss.Style {
	if o == syncer.OutcomeInstalled {
		return successStyle
	}
	return dangerStyle
}

// printReport writes a per-artifact summary of a sync run.
func printReport(w io.Writer, r *syncer.Report) {
	fmt.Fprintln(w, titleStyle.Render("Sync "+shortID(r.RunID)), mutedStyle.Render(r.Remote))

	for _, a := range r.Artifacts {
		label := labelStyle.Render(outcomeStyle(a.Outcome).Render(string(a.Outcome)))
		line := label + a.Name
		switch {
		case a.Err != nil:
			line += mutedStyle.Render(": " + a.Err.Error())
		case !a.Downloaded:
			line += mutedStyle.Render(" (already staged)")
		default:
			line += mutedStyle.Render(" " + humanize.Bytes(uint64(a.Bytes)))
		}
		fmt.Fprintln(w, "  "+line)
	}

	summary := fmt.Sprintf("%d pending, %d up to date, %d installed",
		r.Pending, r.UpToDate, r.Count(syncer.OutcomeInstalled))
	if n := r.Failed(); n > 0 {
		summary += ", " + dangerStyle.Render(fmt.Sprintf("%d failed", n))
	}
	summary += fmt.Sprintf(", %s transferred in %s",
		humanize.Bytes(uint64(r.Bytes)), r.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(w, summary)
}

// printPlan writes what the next sync would do.
func printPlan(w io.Writer, remoteName string, plan differ.Plan) {
	fmt.Fprintln(w, titleStyle.Render("Status"), mutedStyle.Render(remoteName))

	section := func(title string, style lipgloss.Style, names []string) {
		if len(names) == 0 {
			return
		}
		fmt.Fprintf(w, "%s (%d)\n", style.Render(title), len(names))
		for _, name := range names {
			fmt.Fprintln(w, "  "+name)
		}
	}
	section("Pending", warningStyle, plan.Pending)
	section("Not published", mutedStyle, plan.Orphaned)

	fmt.Fprintf(w, "%d of %d up to date\n", len(plan.UpToDate), plan.Total())
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
