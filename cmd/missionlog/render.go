package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kalambet/missionlog/internal/blog"
	"github.com/kalambet/missionlog/internal/draft"
	"github.com/kalambet/missionlog/internal/effects"
	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/projection"
	"github.com/kalambet/missionlog/internal/tracker"
)

const (
	xpBarWidth    = 20
	gridRowLength = 10
	chartWidth    = 30
)

var cellGlyphs = map[projection.CellStatus]string{
	projection.CellDone:     "■",
	projection.CellPreDone:  "◩",
	projection.CellPostDone: "◪",
	projection.CellActive:   "◆",
	projection.CellMissed:   "×",
	projection.CellUpcoming: "·",
}

var cellColors = map[projection.CellStatus]color.Attribute{
	projection.CellDone:     color.FgGreen,
	projection.CellPreDone:  color.FgCyan,
	projection.CellPostDone: color.FgYellow,
	projection.CellActive:   color.FgMagenta,
	projection.CellMissed:   color.FgRed,
	projection.CellUpcoming: color.FgHiBlack,
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderSummary prints the one-line level/XP summary.
func renderSummary(w io.Writer, st tracker.State) {
	v := st.View
	filled := v.XPPercent * xpBarWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", xpBarWidth-filled)
	fmt.Fprintf(w, "%s  %d XP  %s %d%%  streak %d (x%.1f)\n",
		colorize(color.Bold, fmt.Sprintf("LVL %d %s", v.Level, v.LevelName)),
		v.Stats.TotalXP, bar, v.XPPercent, v.Stats.Streak, v.StreakMultiplier)
}

// renderDashboard prints the summary, the day grid, the recent XP chart and
// the active day's tasks.
func renderDashboard(w io.Writer, st tracker.State) {
	v := st.View
	renderSummary(w, st)
	fmt.Fprintf(w, "Days %d/%d finalized (%d%%)\n\n", v.Completion.Done, v.Completion.Total, v.Completion.Percent)

	for i, c := range v.Grid {
		fmt.Fprint(w, colorize(cellColors[c.Status], cellGlyphs[c.Status]))
		if (i+1)%gridRowLength == 0 || i == len(v.Grid)-1 {
			fmt.Fprintln(w)
		} else {
			fmt.Fprint(w, " ")
		}
	}
	fmt.Fprintln(w)

	renderBars(w, v.Bars)

	if d := v.ActiveDay; d != nil {
		fmt.Fprintf(w, "\nToday: day %d, %s (id %d)\n", d.DayNumber, d.Title, d.ID)
		renderTasks(w, d.Tasks)
	}
}

func renderBars(w io.Writer, bars []projection.Bar) {
	peak := 0
	for _, b := range bars {
		peak = max(peak, b.XP)
	}
	for _, b := range bars {
		n := 0
		if peak > 0 {
			n = b.XP * chartWidth / peak
		}
		line := fmt.Sprintf("%-4s %s %d", b.Label, strings.Repeat("▇", n), b.XP)
		if b.Today {
			line = colorize(color.FgGreen, line)
		}
		fmt.Fprintln(w, line)
	}
}

func renderTasks(w io.Writer, tasks []progress.Task) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Task", "Difficulty", "XP", "Done"})
	for _, task := range tasks {
		t.AppendRow(table.Row{task.ID, task.Title, task.Difficulty, task.XPValue, check(task.IsCompleted)})
	}
	t.Render()
}

func renderDay(w io.Writer, d progress.Day) {
	fmt.Fprintf(w, "Day %d: %s [%s]\n", d.DayNumber, d.Title, d.Status)
	if d.Date != "" {
		fmt.Fprintf(w, "  Date:    %s\n", d.Date)
	}
	fmt.Fprintf(w, "  Reward:  %d XP (x%.2f), earned %d\n", d.XPReward, d.XPModifier, d.XPEarned)
	if d.BlogSlug != "" {
		fmt.Fprintf(w, "  Journal: %s\n", d.BlogSlug)
	}
	if d.Notes != "" {
		fmt.Fprintf(w, "  Notes:   %s\n", d.Notes)
	}
	fmt.Fprintln(w)
	renderTasks(w, d.Tasks)

	if len(d.KnowledgeChecks) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"ID", "Question", "Answer"})
		for _, kc := range d.KnowledgeChecks {
			t.AppendRow(table.Row{kc.ID, kc.Question, orDash(kc.AnswerNotes)})
		}
		t.Render()
	}
}

// renderEntries lists entries; buffered marks those with unsaved local edits.
func renderEntries(w io.Writer, entries []blog.Entry, buffered map[string]bool) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Slug", "Title", "Status", "Mood", "Day", "Updated", "Local"})
	for _, e := range entries {
		day := "-"
		if e.DayNumber != nil {
			day = fmt.Sprint(*e.DayNumber)
		}
		updated := "-"
		if e.UpdatedAt != nil {
			updated = e.UpdatedAt.Local().Format(time.DateTime)
		}
		local := ""
		if buffered[draft.BufferKey(e.Slug, e.Day)] {
			local = "unsaved"
		}
		t.AppendRow(table.Row{e.Slug, e.Title, e.Status, e.Mood, day, updated, local})
	}
	t.Render()
}

// renderOutcome reports what a mutation earned, then the refreshed summary.
func renderOutcome(w io.Writer, out tracker.Outcome) {
	for _, ev := range out.Events {
		switch ev.Kind {
		case effects.KindXPPop:
			printSuccess("+%d XP", ev.Amount)
		case effects.KindLevelUp:
			printStep("%s Level %d, %s", ev.Title, ev.Level, projection.LevelName(ev.Level))
		}
	}
	if len(out.Events) == 0 {
		printStep("No XP gained")
	}
	if pw := out.Result.PerfectWeek; pw != nil && *pw {
		printSuccess("Perfect week!")
	}
	if out.Result.Message != "" {
		printStatus("Server", "%s", out.Result.Message)
	}

	if out.State.Stale {
		if out.State.Err != nil {
			printWarning("Could not refresh progress: %s", describe(out.State.Err))
		}
		return
	}
	renderSummary(w, out.State)
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return ""
}
