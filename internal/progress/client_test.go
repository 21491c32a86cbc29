package progress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/missionlog/internal/credentials"
	"github.com/kalambet/missionlog/internal/transport"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
}

// newTestServer serves canned JSON bodies keyed by "METHOD /path" and records
// every request it sees.
func newTestServer(t *testing.T, routes map[string]string) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			json.Unmarshal(data, &rec.body)
		}
		reqs = append(reqs, rec)

		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	store := credentials.NewMemoryStore()
	store.Set(credentials.AccessTokenKey, "tok")
	return NewClient(transport.New(srv.URL, store)), &reqs
}

func TestToggleTask(t *testing.T) {
	c, reqs := newTestServer(t, map[string]string{
		"PATCH /journey/tasks/3/toggle/": `{"task":{"id":3,"day":7,"title":"T1","is_completed":true,"xp_value":25},"leveled_up":false,"new_level":1,"xp_gained":25}`,
	})

	res, err := c.ToggleTask(context.Background(), 3)
	if err != nil {
		t.Fatalf("ToggleTask: %v", err)
	}
	if res.XPGained != 25 || res.LeveledUp {
		t.Errorf("result = %+v, want xp 25 without level up", res)
	}
	if res.Task == nil || !res.Task.IsCompleted || res.Task.Day != 7 {
		t.Errorf("task = %+v", res.Task)
	}
	if res.Day != nil {
		t.Errorf("Day = %+v, want nil", res.Day)
	}
	if (*reqs)[0].method != http.MethodPatch {
		t.Errorf("method = %s", (*reqs)[0].method)
	}
}

func TestCompleteDayShapes(t *testing.T) {
	c, _ := newTestServer(t, map[string]string{
		"PATCH /journey/days/7/complete/":      `{"day":{"id":7,"day_number":7,"status":"completed","xp_earned":100},"leveled_up":true,"new_level":2,"xp_earned_total":100,"perfect_week":false}`,
		"PATCH /journey/days/8/pre-complete/":  `{"id":8,"day_number":8,"status":"pre_completed","xp_earned":100}`,
		"PATCH /journey/days/6/post-complete/": `{"id":6,"day_number":6,"status":"post_completed","xp_earned":75}`,
		"PATCH /journey/days/5/complete/":      `{"message":"Day already finalized"}`,
	})
	ctx := context.Background()

	res, err := c.CompleteDay(ctx, 7)
	if err != nil {
		t.Fatalf("CompleteDay: %v", err)
	}
	if res.XPGained != 100 || !res.LeveledUp || res.NewLevel == nil || *res.NewLevel != 2 {
		t.Errorf("complete result = %+v", res)
	}
	if res.PerfectWeek == nil || *res.PerfectWeek {
		t.Errorf("PerfectWeek = %v, want false", res.PerfectWeek)
	}
	if res.Day == nil || res.Day.Status != StatusCompleted {
		t.Errorf("Day = %+v", res.Day)
	}

	res, err = c.PreCompleteDay(ctx, 8)
	if err != nil {
		t.Fatalf("PreCompleteDay: %v", err)
	}
	if res.Day == nil || res.Day.ID != 8 || res.Day.Status != StatusPreCompleted {
		t.Errorf("pre-complete Day = %+v", res.Day)
	}
	if res.XPGained != 0 || res.LeveledUp {
		t.Errorf("pre-complete should carry no delta, got %+v", res)
	}

	res, err = c.PostCompleteDay(ctx, 6)
	if err != nil {
		t.Fatalf("PostCompleteDay: %v", err)
	}
	if res.Day == nil || res.Day.XPEarned != 75 {
		t.Errorf("post-complete Day = %+v", res.Day)
	}

	res, err = c.CompleteDay(ctx, 5)
	if err != nil {
		t.Fatalf("CompleteDay(finalized): %v", err)
	}
	if res.Message != "Day already finalized" || res.Day != nil {
		t.Errorf("finalized result = %+v", res)
	}
}

func TestPatchKnowledgeCheckAnsweredFlag(t *testing.T) {
	tests := []struct {
		notes string
		want  bool
	}{
		{"goroutines leak when...", true},
		{"   ", false},
		{"", false},
	}
	for _, tt := range tests {
		c, reqs := newTestServer(t, map[string]string{
			"PATCH /journey/knowledge-checks/4/": `{"id":4}`,
		})
		if _, err := c.PatchKnowledgeCheck(context.Background(), 4, tt.notes); err != nil {
			t.Fatalf("PatchKnowledgeCheck: %v", err)
		}
		body := (*reqs)[0].body
		if body["is_answered"] != tt.want {
			t.Errorf("notes %q: is_answered = %v, want %v", tt.notes, body["is_answered"], tt.want)
		}
		if body["answer_notes"] != tt.notes {
			t.Errorf("answer_notes = %v", body["answer_notes"])
		}
	}
}

func TestCreateTaskDefaultsDifficulty(t *testing.T) {
	c, reqs := newTestServer(t, map[string]string{
		"POST /journey/tasks/": `{"id":11,"day":7,"title":"Read","difficulty":"medium","xp_value":25}`,
	})
	task, err := c.CreateTask(context.Background(), 7, NewTask{Title: "Read"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.ID != 11 {
		t.Errorf("ID = %d", task.ID)
	}
	body := (*reqs)[0].body
	if body["difficulty"] != "medium" || body["xp_value"] != float64(25) || body["day"] != float64(7) {
		t.Errorf("body = %v", body)
	}
}

func TestListAcceptsArrayAndEnvelope(t *testing.T) {
	c, reqs := newTestServer(t, map[string]string{
		"GET /journey/days/":  `[{"id":1,"day_number":1},{"id":2,"day_number":2}]`,
		"GET /journey/weeks/": `{"count":1,"next":null,"results":[{"id":1,"week_number":1,"days":[{"id":1}]}]}`,
	})
	ctx := context.Background()

	days, err := c.ListDays(ctx, 100)
	if err != nil {
		t.Fatalf("ListDays: %v", err)
	}
	if len(days) != 2 || days[1].DayNumber != 2 {
		t.Errorf("days = %+v", days)
	}
	if (*reqs)[0].query != "page_size=100" {
		t.Errorf("query = %q", (*reqs)[0].query)
	}

	weeks, err := c.ListWeeks(ctx, 0)
	if err != nil {
		t.Fatalf("ListWeeks: %v", err)
	}
	if len(weeks) != 1 || len(weeks[0].Days) != 1 {
		t.Errorf("weeks = %+v", weeks)
	}
	if (*reqs)[1].query != "" {
		t.Errorf("query = %q, want empty", (*reqs)[1].query)
	}
}

func TestErrorsPropagateUnchanged(t *testing.T) {
	c, _ := newTestServer(t, nil)
	_, err := c.GetDay(context.Background(), 99)
	if !transport.IsNotFound(err) {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestUpdateMeWrapsProfile(t *testing.T) {
	c, reqs := newTestServer(t, map[string]string{
		"PATCH /auth/me/": `{"id":1,"username":"ada","profile":{"display_name":"Ada"}}`,
	})
	name := "Ada"
	u, err := c.UpdateMe(context.Background(), ProfilePatch{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateMe: %v", err)
	}
	if u.Profile.DisplayName != "Ada" {
		t.Errorf("display name = %q", u.Profile.DisplayName)
	}
	profile, ok := (*reqs)[0].body["profile"].(map[string]any)
	if !ok || profile["display_name"] != "Ada" {
		t.Errorf("body = %v", (*reqs)[0].body)
	}
	if _, present := profile["bio"]; present {
		t.Error("unset fields must be omitted")
	}
}

func TestDifficultyXPValue(t *testing.T) {
	tests := map[Difficulty]int{
		DifficultyEasy: 10, DifficultyMedium: 25, DifficultyHard: 50, DifficultyBoss: 100, "": 25,
	}
	for d, want := range tests {
		if got := d.XPValue(); got != want {
			t.Errorf("%q.XPValue() = %d, want %d", d, got, want)
		}
	}
}
