package draft

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/missionlog/internal/blog"
	"github.com/kalambet/missionlog/internal/progress"
)

// Draft is the local, not yet persisted state of a journal entry.
type Draft struct {
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	Mood      string      `json:"mood"`
	Tags      []string    `json:"tags"`
	GithubURL string      `json:"github_url"`
	Links     []blog.Link `json:"external_links"`
	Day       *int        `json:"day"`
}

func (d Draft) clone() Draft {
	d.Tags = slices.Clone(d.Tags)
	d.Links = slices.Clone(d.Links)
	if d.Day != nil {
		day := *d.Day
		d.Day = &day
	}
	return d
}

func (d Draft) input() blog.Input {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	links := d.Links
	if links == nil {
		links = []blog.Link{}
	}
	return blog.Input{
		Title:         d.Title,
		Content:       d.Content,
		Mood:          d.Mood,
		Tags:          tags,
		GithubURL:     d.GithubURL,
		ExternalLinks: links,
		Day:           d.Day,
	}
}

func fromEntry(e blog.Entry) Draft {
	d := Draft{
		Title:     e.Title,
		Content:   e.Content,
		Mood:      e.Mood,
		Tags:      slices.Clone(e.Tags),
		GithubURL: e.GithubURL,
		Links:     slices.Clone(e.ExternalLinks),
		Day:       e.Day,
	}
	if d.Mood == "" {
		d.Mood = blog.DefaultMood
	}
	return d
}

// DayTemplate builds the initial mission log for a day from its completed
// tasks and answered knowledge checks.
func DayTemplate(day progress.Day) Draft {
	var b strings.Builder
	fmt.Fprintf(&b, "## Mission Log: Day %d\n\n### Objective\n%s\n\n### Topics Covered\n", day.DayNumber, day.Title)
	if done := day.CompletedTasks(); len(done) > 0 {
		for _, t := range done {
			fmt.Fprintf(&b, "- **%s**: [notes]\n", t.Title)
		}
		b.WriteString("- [anything else worth recording]\n")
	}

	b.WriteString("\n### Knowledge Checks\n")
	if answered := day.AnsweredChecks(); len(answered) > 0 {
		for _, kc := range answered {
			notes := kc.AnswerNotes
			if strings.TrimSpace(notes) == "" {
				notes = "_No notes._"
			}
			fmt.Fprintf(&b, "#### %s\n%s\n\n", kc.Question, notes)
		}
	} else {
		b.WriteString("*No knowledge checks answered today.*\n")
	}
	b.WriteString("\n### Practice Problem\n- **Problem:** [name]\n- **Approach:** [complexity]\n\n### Key Takeaways\n\n")

	id := day.ID
	return Draft{
		Title:   fmt.Sprintf("Day %d // %s", day.DayNumber, day.Title),
		Content: b.String(),
		Mood:    blog.DefaultMood,
		Tags:    []string{"engineering", fmt.Sprintf("day%d", day.DayNumber)},
		Links:   []blog.Link{},
		Day:     &id,
	}
}

// BlankTemplate is the starting point for an entry not tied to a day.
func BlankTemplate(now time.Time) Draft {
	return Draft{
		Title: "LOG_ENTRY_" + now.Format("2006_01_02"),
		Content: "## Mission Log\n\n- What did I build today?\n- What broke, and how did I fix it?\n- What did I learn?\n\n" +
			"### Practice Problem\n- [name / link]\n\n### Key Takeaways\n",
		Mood:  blog.DefaultMood,
		Tags:  []string{},
		Links: []blog.Link{},
	}
}
