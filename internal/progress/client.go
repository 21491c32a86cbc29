// Package progress provides typed operations over the journey and account
// resources of the tracker backend.
package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kalambet/missionlog/internal/transport"
)

// Doer is the subset of transport.Client used here.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// Client issues progress mutations and reads. Errors from the transport are
// returned unchanged.
type Client struct {
	t Doer
}

func NewClient(t Doer) *Client {
	return &Client{t: t}
}

func (c *Client) ToggleTask(ctx context.Context, id int) (MutationResult, error) {
	return c.mutate(ctx, fmt.Sprintf("/journey/tasks/%d/toggle/", id))
}

func (c *Client) CompleteDay(ctx context.Context, id int) (MutationResult, error) {
	return c.mutate(ctx, fmt.Sprintf("/journey/days/%d/complete/", id))
}

func (c *Client) PreCompleteDay(ctx context.Context, id int) (MutationResult, error) {
	return c.mutate(ctx, fmt.Sprintf("/journey/days/%d/pre-complete/", id))
}

func (c *Client) PostCompleteDay(ctx context.Context, id int) (MutationResult, error) {
	return c.mutate(ctx, fmt.Sprintf("/journey/days/%d/post-complete/", id))
}

func (c *Client) mutate(ctx context.Context, path string) (MutationResult, error) {
	var res MutationResult
	err := c.t.Do(ctx, transport.Request{Method: http.MethodPatch, Path: path}, &res)
	return res, err
}

// PatchKnowledgeCheck stores the answer notes. The check counts as answered
// iff the notes are non-blank.
func (c *Client) PatchKnowledgeCheck(ctx context.Context, id int, notes string) (KnowledgeCheck, error) {
	var kc KnowledgeCheck
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/journey/knowledge-checks/%d/", id),
		Body: map[string]any{
			"answer_notes": notes,
			"is_answered":  strings.TrimSpace(notes) != "",
		},
	}, &kc)
	return kc, err
}

func (c *Client) CreateKnowledgeCheck(ctx context.Context, dayID int, question string) (KnowledgeCheck, error) {
	var kc KnowledgeCheck
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/journey/knowledge-checks/",
		Body:   map[string]any{"day": dayID, "question": question},
	}, &kc)
	return kc, err
}

func (c *Client) DeleteKnowledgeCheck(ctx context.Context, id int) error {
	return c.t.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/journey/knowledge-checks/%d/", id),
	}, nil)
}

func (c *Client) CreateTask(ctx context.Context, dayID int, t NewTask) (Task, error) {
	if t.Difficulty == "" {
		t.Difficulty = DifficultyMedium
	}
	var task Task
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/journey/tasks/",
		Body: map[string]any{
			"day":         dayID,
			"title":       t.Title,
			"description": t.Description,
			"difficulty":  t.Difficulty,
			"xp_value":    t.Difficulty.XPValue(),
		},
	}, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, id int) error {
	return c.t.Do(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/journey/tasks/%d/", id),
	}, nil)
}

func (c *Client) GetDay(ctx context.Context, id int) (Day, error) {
	var d Day
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: fmt.Sprintf("/journey/days/%d/", id)}, &d)
	return d, err
}

func (c *Client) UpdateDay(ctx context.Context, id int, p DayPatch) (Day, error) {
	var d Day
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/journey/days/%d/", id),
		Body:   p,
	}, &d)
	return d, err
}

// ListDays returns days in server order. pageSize <= 0 omits the parameter.
func (c *Client) ListDays(ctx context.Context, pageSize int) ([]Day, error) {
	var days []Day
	err := c.list(ctx, "/journey/days/", pageSize, &days)
	return days, err
}

func (c *Client) ListWeeks(ctx context.Context, pageSize int) ([]Week, error) {
	var weeks []Week
	err := c.list(ctx, "/journey/weeks/", pageSize, &weeks)
	return weeks, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/journey/stats/"}, &s)
	return s, err
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/auth/me/"}, &u)
	return u, err
}

func (c *Client) UpdateMe(ctx context.Context, p ProfilePatch) (User, error) {
	var u User
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   "/auth/me/",
		Body:   map[string]any{"profile": p},
	}, &u)
	return u, err
}

func (c *Client) list(ctx context.Context, path string, pageSize int, out any) error {
	var q url.Values
	if pageSize > 0 {
		q = url.Values{"page_size": {strconv.Itoa(pageSize)}}
	}
	var raw json.RawMessage
	if err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: path, Query: q}, &raw); err != nil {
		return err
	}
	return DecodeList(raw, out)
}

// DecodeList decodes either a bare JSON array or a paginated
// {"results": [...]} envelope into out.
func DecodeList(raw json.RawMessage, out any) error {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '{' {
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("decoding page: %w", err)
		}
		if len(page.Results) == 0 {
			return nil
		}
		data = page.Results
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding list: %w", err)
	}
	return nil
}
