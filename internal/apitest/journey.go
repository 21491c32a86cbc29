package apitest

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missionlog/internal/progress"
)

// Seeded identifiers. Day ids deliberately differ from day numbers.
const (
	WeekID         = 1
	DayCompletedID = 11 // day 1, completed two days ago
	DayMissedID    = 12 // day 2, yesterday, missed
	DayActiveID    = 13 // day 3, today
	DayNextID      = 14 // day 4, tomorrow

	// TaskHardID is the active day's 50 XP task. Completing it from the
	// seeded 450 XP crosses into level 2.
	TaskHardID = 103
	TaskEasyID = 104

	CheckActiveID = 502
)

const (
	dateLayout      = "2006-01-02"
	dayReward       = 100
	perfectWeekXP   = 500
	checkAnswerXP   = 15
	publishXP       = 50
	defaultPageSize = 10
)

func (s *Server) seed() {
	s.user = progress.User{
		ID:       1,
		Username: Username,
		Email:    "ada@example.com",
		Profile: progress.Profile{
			DisplayName:   "Ada",
			AvatarEmoji:   "🚀",
			JourneyTitle:  "60 days of systems",
			IsPublic:      true,
			TotalXP:       450,
			CurrentLevel:  1,
			CurrentStreak: 1,
			LongestStreak: 3,
		},
	}
	s.weeks = []progress.Week{{ID: WeekID, WeekNumber: 1, Title: "Foundations", Theme: "data structures", ColorAccent: "#00ff9c"}}

	titles := []string{"Arrays and hashing", "Two pointers", "Caching", "Trees", "Graphs", "Heaps", "Review"}
	today := truncateDay(s.today)
	for i, title := range titles {
		id := DayCompletedID + i
		d := &progress.Day{
			ID:         id,
			Week:       WeekID,
			DayNumber:  i + 1,
			Date:       today.AddDate(0, 0, i-2).Format(dateLayout),
			Title:      title,
			Status:     progress.StatusUpcoming,
			XPModifier: 1,
			XPReward:   dayReward,
		}
		switch id {
		case DayCompletedID:
			at := today.AddDate(0, 0, -2)
			d.Status, d.CompletionType, d.XPEarned, d.CompletedAt = progress.StatusCompleted, "normal", dayReward, &at
		case DayMissedID:
			d.Status = progress.StatusMissed
		case DayActiveID:
			d.Status = progress.StatusActive
		}
		s.days[id] = d
		s.dayIDs = append(s.dayIDs, id)
	}

	s.nextTaskID = 100
	s.addTaskLocked(DayCompletedID, "Two sum", progress.DifficultyEasy).IsCompleted = true
	s.addTaskLocked(DayCompletedID, "Group anagrams", progress.DifficultyMedium).IsCompleted = true
	s.addTaskLocked(DayActiveID, "Implement LRU cache", progress.DifficultyHard)
	s.addTaskLocked(DayActiveID, "Read chapter 3", progress.DifficultyEasy)
	s.addTaskLocked(DayNextID, "Invert a tree", progress.DifficultyMedium)

	s.nextCheckID = 500
	kc := s.addCheckLocked(DayCompletedID, "Why is hashing O(1) on average?")
	kc.IsAnswered, kc.AnswerNotes = true, "Uniform distribution over buckets."
	s.addCheckLocked(DayActiveID, "When does LRU beat LFU?")
}

func (s *Server) addTaskLocked(dayID int, title string, diff progress.Difficulty) *progress.Task {
	s.nextTaskID++
	t := &progress.Task{
		ID:         s.nextTaskID,
		Day:        dayID,
		Title:      title,
		Difficulty: diff,
		XPValue:    diff.XPValue(),
		Order:      s.nextTaskID,
	}
	s.tasks[t.ID] = t
	return t
}

func (s *Server) addCheckLocked(dayID int, question string) *progress.KnowledgeCheck {
	s.nextCheckID++
	kc := &progress.KnowledgeCheck{ID: s.nextCheckID, Day: dayID, Question: question, Order: s.nextCheckID}
	s.checks[kc.ID] = kc
	return kc
}

// dayViewLocked assembles a Day with its tasks, checks and journal slug.
func (s *Server) dayViewLocked(d *progress.Day) progress.Day {
	out := *d
	out.Tasks = []progress.Task{}
	for _, t := range s.tasks {
		if t.Day == d.ID {
			out.Tasks = append(out.Tasks, *t)
		}
	}
	slices.SortFunc(out.Tasks, func(a, b progress.Task) int { return a.Order - b.Order })

	out.KnowledgeChecks = []progress.KnowledgeCheck{}
	for _, kc := range s.checks {
		if kc.Day == d.ID {
			out.KnowledgeChecks = append(out.KnowledgeChecks, *kc)
		}
	}
	slices.SortFunc(out.KnowledgeChecks, func(a, b progress.KnowledgeCheck) int { return a.Order - b.Order })

	for _, slug := range s.order {
		if e := s.entries[slug]; e.Day != nil && *e.Day == d.ID {
			out.BlogSlug = slug
			break
		}
	}
	return out
}

// awardLocked adds XP and reports whether the level went up.
func (s *Server) awardLocked(xp int) (leveledUp bool, level int) {
	p := &s.user.Profile
	old := p.CurrentLevel
	p.TotalXP += xp
	p.CurrentLevel, _, _ = calculateLevel(p.TotalXP)
	return p.CurrentLevel > old, p.CurrentLevel
}

func (s *Server) touchStreakLocked() {
	p := &s.user.Profile
	p.CurrentStreak++
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
}

func (s *Server) lookupDay(w http.ResponseWriter, r *http.Request) (*progress.Day, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	d, ok := s.days[id]
	if err != nil || !ok {
		httpError(w, http.StatusNotFound, "not_found", "No Day matches the given query.")
		return nil, false
	}
	return d, true
}

func (s *Server) handleListWeeks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	weeks := make([]progress.Week, len(s.weeks))
	for i, wk := range s.weeks {
		wk.Days = []progress.Day{}
		for _, id := range s.dayIDs {
			if d := s.days[id]; d.Week == wk.ID {
				wk.Days = append(wk.Days, s.dayViewLocked(d))
			}
		}
		weeks[i] = wk
	}
	writePage(w, r, weeks)
}

func (s *Server) handleListDays(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	days := make([]progress.Day, 0, len(s.dayIDs))
	for _, id := range s.dayIDs {
		days = append(days, s.dayViewLocked(s.days[id]))
	}
	writePage(w, r, days)
}

func (s *Server) handleGetDay(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookupDay(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.dayViewLocked(d))
}

func (s *Server) handlePatchDay(w http.ResponseWriter, r *http.Request) {
	var patch progress.DayPatch
	if !decode(w, r, &patch) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookupDay(w, r)
	if !ok {
		return
	}
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Notes != nil {
		d.Notes = *patch.Notes
	}
	writeJSON(w, http.StatusOK, s.dayViewLocked(d))
}

func (s *Server) handleCompleteDay(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookupDay(w, r)
	if !ok {
		return
	}
	if d.Status.Finalized() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Day already finalized"})
		return
	}

	now := time.Now()
	d.Status, d.CompletionType, d.CompletedAt = progress.StatusCompleted, "normal", &now
	d.XPEarned = d.XPReward
	s.touchStreakLocked()
	leveledUp, level := s.awardLocked(d.XPEarned)

	perfect := false
	for i := range s.weeks {
		wk := &s.weeks[i]
		if wk.ID != d.Week || wk.BonusAwarded {
			continue
		}
		total, done := 0, 0
		for _, other := range s.days {
			if other.Week == wk.ID {
				total++
				if other.Status.Finalized() {
					done++
				}
			}
		}
		if total == 7 && done == 7 {
			perfect = true
			wk.BonusAwarded = true
			if up, lvl := s.awardLocked(perfectWeekXP); up {
				leveledUp, level = true, lvl
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"day":             s.dayViewLocked(d),
		"leveled_up":      leveledUp,
		"new_level":       level,
		"xp_earned_total": d.XPEarned,
		"perfect_week":    perfect,
	})
}

// handleFlexComplete finalizes tomorrow (pre) or yesterday (post) at the
// given modifier. The response is the bare day.
func (s *Server) handleFlexComplete(status progress.DayStatus, modifier float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		d, ok := s.lookupDay(w, r)
		if !ok {
			return
		}
		if d.Status.Finalized() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Day is already finalized.")
			return
		}

		today := truncateDay(s.today)
		kind := "pre"
		want := today.AddDate(0, 0, 1)
		if status == progress.StatusPostCompleted {
			kind = "post"
			want = today.AddDate(0, 0, -1)
		}
		if kind == "pre" {
			if cur := s.dayOnLocked(today); cur != nil {
				view := s.dayViewLocked(cur)
				if n := len(view.Tasks); n > 0 && float64(len(view.CompletedTasks()))/float64(n) < 0.5 {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "Complete at least 50%% of today's tasks before pre-completing tomorrow.")
					return
				}
			}
		}
		if d.Date != want.Format(dateLayout) {
			which := "next"
			if kind == "post" {
				which = "previous"
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Can only %s-complete the %s day.", kind, which)
			return
		}

		now := time.Now()
		d.Status, d.CompletionType, d.XPModifier, d.CompletedAt = status, kind, modifier, &now
		d.XPEarned = int(float64(d.XPReward) * modifier)
		s.awardLocked(d.XPEarned)
		writeJSON(w, http.StatusOK, s.dayViewLocked(d))
	}
}

func (s *Server) dayOnLocked(date time.Time) *progress.Day {
	want := date.Format(dateLayout)
	for _, id := range s.dayIDs {
		if s.days[id].Date == want {
			return s.days[id]
		}
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.user.Profile
	level, inCurrent, needed := calculateLevel(p.TotalXP)

	done := 0
	for _, d := range s.days {
		if d.Status.Finalized() {
			done++
		}
	}
	pct := 0
	if len(s.days) > 0 {
		pct = done * 100 / len(s.days)
	}

	today := truncateDay(s.today)
	series := make([]progress.DailyXP, 0, 7)
	for i := 6; i >= 0; i-- {
		date := today.AddDate(0, 0, -i)
		xp := 0
		if d := s.dayOnLocked(date); d != nil {
			xp = d.XPEarned
		}
		series = append(series, progress.DailyXP{Date: date.Format(dateLayout), DayName: upper3(date.Weekday()), XP: xp})
	}

	writeJSON(w, http.StatusOK, progress.Stats{
		TotalXP:         p.TotalXP,
		Level:           level,
		XPInCurrent:     inCurrent,
		XPNeeded:        needed,
		Streak:          p.CurrentStreak,
		DaysCompleted:   done,
		TotalDays:       len(s.days),
		PercentComplete: pct,
		DailyXP:         series,
	})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day         int                 `json:"day"`
		Title       string              `json:"title"`
		Description string              `json:"description"`
		Difficulty  progress.Difficulty `json:"difficulty"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.days[body.Day]
	switch {
	case !ok:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "Invalid pk %q - object does not exist.", strconv.Itoa(body.Day))
		return
	case body.Title == "":
		httpError(w, http.StatusBadRequest, "invalid_request_error", "This field may not be blank.")
		return
	case d.Status.Finalized():
		httpError(w, http.StatusBadRequest, "invalid_request_error", "Cannot implicitly add tasks to a finalized day.")
		return
	}
	if body.Difficulty == "" {
		body.Difficulty = progress.DifficultyMedium
	}
	t := s.addTaskLocked(d.ID, body.Title, body.Difficulty)
	t.Description = body.Description
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	if s.days[t.Day].Status.Finalized() {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "Cannot delete tasks on a finalized day.")
		return
	}
	delete(s.tasks, t.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	if t.IsCompleted {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "Task protocol already executed. Cannot be un-done.")
		return
	}
	if s.days[t.Day].Status.Finalized() {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "Cannot modify tasks on a finalized day.")
		return
	}
	now := time.Now()
	t.IsCompleted, t.CompletedAt = true, &now
	leveledUp, level := s.awardLocked(t.XPValue)
	writeJSON(w, http.StatusOK, map[string]any{
		"task":       t,
		"leveled_up": leveledUp,
		"new_level":  level,
		"xp_gained":  t.XPValue,
	})
}

func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) (*progress.Task, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	t, ok := s.tasks[id]
	if err != nil || !ok {
		httpError(w, http.StatusNotFound, "not_found", "No Task matches the given query.")
		return nil, false
	}
	return t, true
}

func (s *Server) handleCreateCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Day      int    `json:"day"`
		Question string `json:"question"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.days[body.Day]; !ok || body.Question == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "day and question are required")
		return
	}
	writeJSON(w, http.StatusCreated, s.addCheckLocked(body.Day, body.Question))
}

func (s *Server) handlePatchCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AnswerNotes *string `json:"answer_notes"`
		IsAnswered  *bool   `json:"is_answered"`
		Question    *string `json:"question"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kc, ok := s.lookupCheck(w, r)
	if !ok {
		return
	}
	was := kc.IsAnswered
	if body.AnswerNotes != nil {
		kc.AnswerNotes = *body.AnswerNotes
	}
	if body.Question != nil {
		kc.Question = *body.Question
	}
	if body.IsAnswered != nil {
		kc.IsAnswered = *body.IsAnswered
	}
	// Finalized days keep the notes but award nothing.
	if kc.IsAnswered && !was && !s.days[kc.Day].Status.Finalized() {
		s.awardLocked(checkAnswerXP)
	}
	writeJSON(w, http.StatusOK, kc)
}

func (s *Server) handleDeleteCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kc, ok := s.lookupCheck(w, r)
	if !ok {
		return
	}
	delete(s.checks, kc.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookupCheck(w http.ResponseWriter, r *http.Request) (*progress.KnowledgeCheck, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	kc, ok := s.checks[id]
	if err != nil || !ok {
		httpError(w, http.StatusNotFound, "not_found", "No KnowledgeCheck matches the given query.")
		return nil, false
	}
	return kc, true
}

// writePage renders items in the paginated envelope, honoring page_size.
func writePage[T any](w http.ResponseWriter, r *http.Request, items []T) {
	size := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 {
		size = v
	}
	page := items
	var next any
	if len(page) > size {
		page = page[:size]
		next = r.URL.Path + "?page=2&page_size=" + strconv.Itoa(size)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(items),
		"next":     next,
		"previous": nil,
		"results":  page,
	})
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func upper3(d time.Weekday) string {
	return strings.ToUpper(d.String()[:3])
}
