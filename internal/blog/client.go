// Package blog reads and writes journal entries.
package blog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/transport"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Moods accepted by the editor, in display order.
var Moods = []string{"focused", "grinding", "breakthrough", "tough", "relaxed"}

// DefaultMood is used for new entries.
const DefaultMood = "focused"

// ValidMood reports whether m is one of Moods.
func ValidMood(m string) bool {
	for _, v := range Moods {
		if v == m {
			return true
		}
	}
	return false
}

type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Entry struct {
	ID            int        `json:"id"`
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Status        Status     `json:"status"`
	Mood          string     `json:"mood"`
	Tags          []string   `json:"tags"`
	GithubURL     string     `json:"github_url,omitempty"`
	ExternalLinks []Link     `json:"external_links"`
	Day           *int       `json:"day"`
	DayNumber     *int       `json:"day_number,omitempty"`
	Views         int        `json:"views"`
	IsPublic      bool       `json:"is_public"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Input returns the writable subset of e.
func (e Entry) Input() Input {
	return Input{
		Title:         e.Title,
		Content:       e.Content,
		Mood:          e.Mood,
		Tags:          e.Tags,
		GithubURL:     e.GithubURL,
		ExternalLinks: e.ExternalLinks,
		Day:           e.Day,
	}
}

// Input is the body sent on create and update.
type Input struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Mood          string   `json:"mood"`
	Tags          []string `json:"tags"`
	GithubURL     string   `json:"github_url"`
	ExternalLinks []Link   `json:"external_links"`
	Day           *int     `json:"day"`
}

type Client struct {
	t progress.Doer
}

func NewClient(t progress.Doer) *Client {
	return &Client{t: t}
}

// List returns the caller's entries (drafts included) and public published
// entries. pageSize <= 0 omits the parameter.
func (c *Client) List(ctx context.Context, pageSize int) ([]Entry, error) {
	var q url.Values
	if pageSize > 0 {
		q = url.Values{"page_size": {strconv.Itoa(pageSize)}}
	}
	var raw json.RawMessage
	if err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/blog/entries/", Query: q}, &raw); err != nil {
		return nil, err
	}
	var entries []Entry
	if err := progress.DecodeList(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) Get(ctx context.Context, slug string) (Entry, error) {
	var e Entry
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: entryPath(slug)}, &e)
	return e, err
}

func (c *Client) Create(ctx context.Context, in Input) (Entry, error) {
	var e Entry
	err := c.t.Do(ctx, transport.Request{Method: http.MethodPost, Path: "/blog/entries/", Body: in}, &e)
	if err == nil && e.Slug == "" {
		return e, fmt.Errorf("create entry: response has no slug")
	}
	return e, err
}

func (c *Client) Patch(ctx context.Context, slug string, in Input) (Entry, error) {
	var e Entry
	err := c.t.Do(ctx, transport.Request{Method: http.MethodPatch, Path: entryPath(slug), Body: in}, &e)
	return e, err
}

// Publish promotes the entry to published. Publishing an already published
// entry is a no-op on the server.
func (c *Client) Publish(ctx context.Context, slug string) (Entry, error) {
	var e Entry
	err := c.t.Do(ctx, transport.Request{Method: http.MethodPost, Path: entryPath(slug) + "publish/"}, &e)
	return e, err
}

func entryPath(slug string) string {
	return "/blog/entries/" + url.PathEscape(slug) + "/"
}
