package progress

import (
	"encoding/json"
	"time"
)

// DayStatus is the lifecycle state of a Day as reported by the backend.
type DayStatus string

const (
	StatusUpcoming      DayStatus = "upcoming"
	StatusActive        DayStatus = "active"
	StatusCompleted     DayStatus = "completed"
	StatusPreCompleted  DayStatus = "pre_completed"
	StatusPostCompleted DayStatus = "post_completed"
	StatusMissed        DayStatus = "missed"
)

// Finalized reports whether the day can no longer be mutated.
func (s DayStatus) Finalized() bool {
	switch s {
	case StatusCompleted, StatusPreCompleted, StatusPostCompleted:
		return true
	}
	return false
}

// Difficulty of a task. The backend derives xp_value from it.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyBoss   Difficulty = "boss"
)

// XPValue is the XP the backend awards for a task of this difficulty.
func (d Difficulty) XPValue() int {
	switch d {
	case DifficultyEasy:
		return 10
	case DifficultyHard:
		return 50
	case DifficultyBoss:
		return 100
	default:
		return 25
	}
}

type Task struct {
	ID          int        `json:"id"`
	Day         int        `json:"day"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	Difficulty  Difficulty `json:"difficulty"`
	XPValue     int        `json:"xp_value"`
	Order       int        `json:"order"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type KnowledgeCheck struct {
	ID          int    `json:"id"`
	Day         int    `json:"day"`
	Question    string `json:"question"`
	IsAnswered  bool   `json:"is_answered"`
	AnswerNotes string `json:"answer_notes"`
	Order       int    `json:"order"`
}

type Day struct {
	ID              int              `json:"id"`
	Week            int              `json:"week"`
	DayNumber       int              `json:"day_number"`
	Date            string           `json:"date,omitempty"`
	Title           string           `json:"title"`
	Status          DayStatus        `json:"status"`
	CompletionType  string           `json:"completion_type,omitempty"`
	XPModifier      float64          `json:"xp_modifier"`
	XPReward        int              `json:"xp_reward"`
	XPEarned        int              `json:"xp_earned"`
	Notes           string           `json:"notes"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Tasks           []Task           `json:"tasks"`
	KnowledgeChecks []KnowledgeCheck `json:"knowledge_checks"`
	BlogSlug        string           `json:"blog_slug,omitempty"`
}

// CompletedTasks returns the tasks already completed, in order.
func (d Day) CompletedTasks() []Task {
	var out []Task
	for _, t := range d.Tasks {
		if t.IsCompleted {
			out = append(out, t)
		}
	}
	return out
}

// AnsweredChecks returns the knowledge checks that carry an answer.
func (d Day) AnsweredChecks() []KnowledgeCheck {
	var out []KnowledgeCheck
	for _, kc := range d.KnowledgeChecks {
		if kc.IsAnswered {
			out = append(out, kc)
		}
	}
	return out
}

type Week struct {
	ID           int    `json:"id"`
	WeekNumber   int    `json:"week_number"`
	Title        string `json:"title"`
	Theme        string `json:"theme,omitempty"`
	ColorAccent  string `json:"color_accent,omitempty"`
	BonusAwarded bool   `json:"bonus_awarded"`
	Days         []Day  `json:"days"`
}

type DailyXP struct {
	Date    string `json:"date"`
	DayName string `json:"day_name"`
	XP      int    `json:"xp"`
}

type Stats struct {
	TotalXP         int       `json:"total_xp"`
	Level           int       `json:"level"`
	XPInCurrent     int       `json:"xp_in_current"`
	XPNeeded        int       `json:"xp_needed"`
	Streak          int       `json:"streak"`
	DaysCompleted   int       `json:"days_completed"`
	TotalDays       int       `json:"total_days"`
	PercentComplete int       `json:"percent_complete"`
	DailyXP         []DailyXP `json:"daily_xp"`
}

type Profile struct {
	DisplayName      string `json:"display_name"`
	AvatarEmoji      string `json:"avatar_emoji,omitempty"`
	Bio              string `json:"bio,omitempty"`
	GithubURL        string `json:"github_url,omitempty"`
	LinkedinURL      string `json:"linkedin_url,omitempty"`
	ResumeURL        string `json:"resume_url,omitempty"`
	LeetcodeURL      string `json:"leetcode_url,omitempty"`
	JourneyTitle     string `json:"journey_title,omitempty"`
	JourneyStartDate string `json:"journey_start_date,omitempty"`
	IsPublic         bool   `json:"is_public"`
	TotalXP          int    `json:"total_xp"`
	CurrentLevel     int    `json:"current_level"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
}

type User struct {
	ID       int     `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email,omitempty"`
	Profile  Profile `json:"profile"`
}

// ProfilePatch holds the writable profile fields; nil fields are left alone.
type ProfilePatch struct {
	DisplayName  *string `json:"display_name,omitempty"`
	AvatarEmoji  *string `json:"avatar_emoji,omitempty"`
	Bio          *string `json:"bio,omitempty"`
	GithubURL    *string `json:"github_url,omitempty"`
	LinkedinURL  *string `json:"linkedin_url,omitempty"`
	JourneyTitle *string `json:"journey_title,omitempty"`
	IsPublic     *bool   `json:"is_public,omitempty"`
}

// DayPatch holds the writable day fields.
type DayPatch struct {
	Title *string `json:"title,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

// NewTask is the body for creating a task.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Difficulty  Difficulty `json:"difficulty,omitempty"`
}

// MutationResult is the server-computed delta returned by task and day
// mutations. It is consumed once and discarded.
type MutationResult struct {
	XPGained    int
	LeveledUp   bool
	NewLevel    *int
	PerfectWeek *bool
	Day         *Day
	Task        *Task
	Message     string
}

// UnmarshalJSON accepts the shapes the backend uses for mutations: the toggle
// body ({task, xp_gained, ...}), the complete body ({day, xp_earned_total,
// perfect_week, ...}) and a bare Day (pre/post-complete).
func (r *MutationResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		XPGained      *int            `json:"xp_gained"`
		XPEarnedTotal *int            `json:"xp_earned_total"`
		LeveledUp     bool            `json:"leveled_up"`
		NewLevel      *int            `json:"new_level"`
		PerfectWeek   *bool           `json:"perfect_week"`
		Day           json.RawMessage `json:"day"`
		Task          *Task           `json:"task"`
		Message       string          `json:"message"`
		DayNumber     *int            `json:"day_number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = MutationResult{
		LeveledUp:   raw.LeveledUp,
		NewLevel:    raw.NewLevel,
		PerfectWeek: raw.PerfectWeek,
		Task:        raw.Task,
		Message:     raw.Message,
	}
	switch {
	case raw.XPGained != nil:
		r.XPGained = *raw.XPGained
	case raw.XPEarnedTotal != nil:
		r.XPGained = *raw.XPEarnedTotal
	}

	if raw.DayNumber != nil {
		var d Day
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		r.Day = &d
		return nil
	}
	// In a bare Day body "day" is absent; in a Task body it is the numeric id.
	if len(raw.Day) > 0 && raw.Day[0] == '{' {
		var d Day
		if err := json.Unmarshal(raw.Day, &d); err != nil {
			return err
		}
		r.Day = &d
	}
	return nil
}
