package projection

import (
	"testing"
	"time"

	"github.com/kalambet/missionlog/internal/progress"
)

func TestXPPercent(t *testing.T) {
	tests := []struct {
		name       string
		in, needed int
		want       int
	}{
		{"half", 250, 500, 50},
		{"floors", 333, 1000, 33},
		{"zero needed", 10, 0, 0},
		{"negative needed", 10, -5, 0},
		{"negative progress", -20, 100, 0},
		{"overflow", 900, 500, 100},
		{"exact", 500, 500, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := XPPercent(tt.in, tt.needed); got != tt.want {
				t.Errorf("XPPercent(%d, %d) = %d, want %d", tt.in, tt.needed, got, tt.want)
			}
		})
	}
}

func TestLevelName(t *testing.T) {
	tests := map[int]string{
		-1: "LEGEND", 0: "LEGEND", 1: "ROOKIE", 2: "LEARNER", 5: "ENGINEER", 9: "PRINCIPAL", 10: "LEGEND", 11: "LEGEND", 42: "LEGEND",
	}
	for level, want := range tests {
		if got := LevelName(level); got != want {
			t.Errorf("LevelName(%d) = %q, want %q", level, got, want)
		}
	}
}

func TestStreakMultiplier(t *testing.T) {
	tests := map[int]float64{0: 1.0, 3: 1.3, 10: 2.0, 25: 2.0, -1: 1.0}
	for streak, want := range tests {
		got := StreakMultiplier(streak)
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("StreakMultiplier(%d) = %v, want %v", streak, got, want)
		}
	}
}

func TestDayGrid(t *testing.T) {
	days := []progress.Day{
		{ID: 101, DayNumber: 1, Status: progress.StatusCompleted, XPEarned: 100, BlogSlug: "day-1"},
		{ID: 102, DayNumber: 2, Status: progress.StatusPreCompleted},
		{ID: 103, DayNumber: 3, Status: progress.StatusPostCompleted},
		{ID: 104, DayNumber: 4, Status: progress.StatusActive, Title: "Channels"},
		{ID: 105, DayNumber: 5, Status: progress.StatusMissed},
		{ID: 106, DayNumber: 6, Status: "weird"},
		{ID: 199, DayNumber: 99, Status: progress.StatusCompleted},
	}
	grid := DayGrid(days, 10)
	if len(grid) != 10 {
		t.Fatalf("len = %d", len(grid))
	}
	want := []CellStatus{CellDone, CellPreDone, CellPostDone, CellActive, CellMissed, CellUpcoming, CellUpcoming}
	for i, w := range want {
		if grid[i].Status != w {
			t.Errorf("cell %d status = %q, want %q", i+1, grid[i].Status, w)
		}
	}
	if grid[0].DayID != 101 || grid[0].XP != 100 || !grid[0].HasEntry {
		t.Errorf("cell 1 = %+v", grid[0])
	}
	if grid[3].Title != "Channels" {
		t.Errorf("cell 4 title = %q", grid[3].Title)
	}
	if grid[6].DayID != 0 || grid[6].Number != 7 {
		t.Errorf("cell 7 = %+v, want empty slot", grid[6])
	}
}

func TestWeekProgress(t *testing.T) {
	days := []progress.Day{
		{Status: progress.StatusCompleted},
		{Status: progress.StatusPostCompleted},
		{Status: progress.StatusActive},
	}
	got := WeekProgress(days)
	if got.Done != 2 || got.Total != 3 || got.Percent != 67 {
		t.Errorf("WeekProgress = %+v", got)
	}
	if p := WeekProgress(nil); p.Percent != 0 || p.Total != 0 {
		t.Errorf("empty = %+v", p)
	}
}

func TestProject(t *testing.T) {
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	days := []progress.Day{
		{ID: 1, DayNumber: 1, Status: progress.StatusCompleted},
		{ID: 2, DayNumber: 2, Status: progress.StatusActive},
	}
	stats := progress.Stats{
		Level: 3, XPInCurrent: 400, XPNeeded: 1000, Streak: 4,
		DailyXP: []progress.DailyXP{
			{Date: "2026-03-03", DayName: "TUE", XP: 100},
			{Date: "2026-03-04", DayName: "WED", XP: 25},
		},
	}
	v := Project(days, stats, 0, now)

	if len(v.Grid) != DefaultGridDays {
		t.Errorf("grid len = %d", len(v.Grid))
	}
	if v.LevelName != "BUILDER" || v.XPPercent != 40 {
		t.Errorf("level = %q, pct = %d", v.LevelName, v.XPPercent)
	}
	if v.ActiveDay == nil || v.ActiveDay.ID != 2 {
		t.Errorf("active = %+v", v.ActiveDay)
	}
	if len(v.Bars) != 2 || v.Bars[0].Today || !v.Bars[1].Today {
		t.Errorf("bars = %+v", v.Bars)
	}
	if v.Completion.Done != 1 {
		t.Errorf("completion = %+v", v.Completion)
	}
}
