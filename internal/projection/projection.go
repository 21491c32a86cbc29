// Package projection derives presentation state from the last fetched days
// and stats. It has no authority over the data; re-run it after every
// refetch.
package projection

import (
	"math"
	"time"

	"github.com/kalambet/missionlog/internal/progress"
)

// DefaultGridDays is the length of the journey grid.
const DefaultGridDays = 60

// CellStatus is the grid classification of a day.
type CellStatus string

const (
	CellDone     CellStatus = "done"
	CellPreDone  CellStatus = "pre-done"
	CellPostDone CellStatus = "post-done"
	CellActive   CellStatus = "active"
	CellMissed   CellStatus = "missed"
	CellUpcoming CellStatus = "upcoming"
)

// Cell is one slot of the day grid. DayID is zero when the backend has no day
// with that number.
type Cell struct {
	Number   int
	DayID    int
	Status   CellStatus
	XP       int
	Title    string
	HasEntry bool
}

var levelNames = []string{
	"ROOKIE", "LEARNER", "BUILDER", "HACKER", "ENGINEER",
	"CRAFTSMAN", "SPECIALIST", "ARCHITECT", "PRINCIPAL", "LEGEND",
}

// LevelName returns the tier label for level. Any level outside 1..10 gets
// the top tier.
func LevelName(level int) string {
	if level < 1 || level > len(levelNames) {
		return levelNames[len(levelNames)-1]
	}
	return levelNames[level-1]
}

// Classify maps a day status to its grid cell status.
func Classify(s progress.DayStatus) CellStatus {
	switch s {
	case progress.StatusCompleted:
		return CellDone
	case progress.StatusPreCompleted:
		return CellPreDone
	case progress.StatusPostCompleted:
		return CellPostDone
	case progress.StatusActive:
		return CellActive
	case progress.StatusMissed:
		return CellMissed
	}
	return CellUpcoming
}

// DayGrid lays days out into cells 1..length by day number. Days outside the
// range are ignored; if two days share a number the first wins.
func DayGrid(days []progress.Day, length int) []Cell {
	if length <= 0 {
		return nil
	}
	byNumber := make(map[int]progress.Day, len(days))
	for _, d := range days {
		if _, dup := byNumber[d.DayNumber]; !dup {
			byNumber[d.DayNumber] = d
		}
	}

	cells := make([]Cell, length)
	for i := range cells {
		n := i + 1
		c := Cell{Number: n, Status: CellUpcoming}
		if d, ok := byNumber[n]; ok {
			c.DayID = d.ID
			c.Status = Classify(d.Status)
			c.XP = d.XPEarned
			c.Title = d.Title
			c.HasEntry = d.BlogSlug != ""
		}
		cells[i] = c
	}
	return cells
}

// XPPercent is floor(100*inCurrent/needed) clamped to [0, 100]. A
// non-positive needed yields 0.
func XPPercent(inCurrent, needed int) int {
	if needed <= 0 {
		return 0
	}
	pct := int(math.Floor(100 * float64(inCurrent) / float64(needed)))
	return max(0, min(pct, 100))
}

// StreakMultiplier is the XP bonus factor for a streak, capped at 2.
func StreakMultiplier(streak int) float64 {
	if streak < 0 {
		streak = 0
	}
	return math.Min(1+0.1*float64(streak), 2.0)
}

// Progress counts finalized days.
type Progress struct {
	Done    int
	Total   int
	Percent int
}

// WeekProgress counts the finalized days among days, with a rounded
// percentage.
func WeekProgress(days []progress.Day) Progress {
	p := Progress{Total: len(days)}
	for _, d := range days {
		if d.Status.Finalized() {
			p.Done++
		}
	}
	if p.Total > 0 {
		p.Percent = int(math.Round(100 * float64(p.Done) / float64(p.Total)))
	}
	return p
}

// Bar is one column of the recent-XP chart.
type Bar struct {
	Label string
	XP    int
	Today bool
}

// DailyBars turns the stats' daily XP series into chart bars, marking the
// entry whose date equals today's calendar date.
func DailyBars(series []progress.DailyXP, today time.Time) []Bar {
	todayStr := today.Format(time.DateOnly)
	bars := make([]Bar, len(series))
	for i, d := range series {
		bars[i] = Bar{Label: d.DayName, XP: d.XP, Today: d.Date == todayStr}
	}
	return bars
}

// View bundles everything the dashboard shows.
type View struct {
	Stats            progress.Stats
	Level            int
	LevelName        string
	XPPercent        int
	StreakMultiplier float64
	Grid             []Cell
	Bars             []Bar
	ActiveDay        *progress.Day
	Completion       Progress
}

// Project derives a View. length <= 0 uses DefaultGridDays.
func Project(days []progress.Day, stats progress.Stats, length int, now time.Time) View {
	if length <= 0 {
		length = DefaultGridDays
	}
	v := View{
		Stats:            stats,
		Level:            stats.Level,
		LevelName:        LevelName(stats.Level),
		XPPercent:        XPPercent(stats.XPInCurrent, stats.XPNeeded),
		StreakMultiplier: StreakMultiplier(stats.Streak),
		Grid:             DayGrid(days, length),
		Bars:             DailyBars(stats.DailyXP, now),
		Completion:       WeekProgress(days),
	}
	for i := range days {
		if days[i].Status == progress.StatusActive {
			d := days[i]
			v.ActiveDay = &d
			break
		}
	}
	return v
}
