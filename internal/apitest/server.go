// Package apitest runs an in-memory tracker backend for tests. It speaks the
// same HTTP contract as the real service: opaque bearer tokens with refresh,
// journey days/tasks/knowledge checks with XP and levels, and journal
// entries with publish.
package apitest

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missionlog/internal/blog"
	"github.com/kalambet/missionlog/internal/progress"
)

// Default credentials of the seeded user.
const (
	Username = "ada"
	Password = "lovelace"
)

// xpPerLevel is the cumulative XP needed to reach each level.
var xpPerLevel = []int{0, 500, 1200, 2200, 3500, 5000, 7000, 9500, 12500, 16000, 20000}

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

// Server is the fake backend. All exported methods are safe for concurrent
// use.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	access        map[string]bool
	refresh       map[string]bool
	rotateRefresh bool
	failRefresh   bool
	refreshDelay  time.Duration
	requests      []Request

	user    progress.User
	weeks   []progress.Week
	days    map[int]*progress.Day
	dayIDs  []int
	tasks   map[int]*progress.Task
	checks  map[int]*progress.KnowledgeCheck
	entries map[string]*blog.Entry
	order   []string

	nextTaskID  int
	nextCheckID int
	nextEntryID int
	today       time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithRotatingRefresh makes every refresh also return a new refresh token.
func WithRotatingRefresh() Option {
	return func(s *Server) { s.rotateRefresh = true }
}

// WithToday fixes the server's notion of today. Day 3 is dated today.
func WithToday(t time.Time) Option {
	return func(s *Server) { s.today = t }
}

// NewServer starts a seeded backend and closes it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		access:  make(map[string]bool),
		refresh: make(map[string]bool),
		days:    make(map[int]*progress.Day),
		tasks:   make(map[int]*progress.Task),
		checks:  make(map[int]*progress.KnowledgeCheck),
		entries: make(map[string]*blog.Entry),
		today:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seed()
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/auth/login/", s.handleLogin)
	r.Post("/auth/refresh/", s.handleRefresh)
	r.Post("/auth/logout/", s.handleLogout)

	// Public reads; a valid token widens the view to the user's drafts.
	r.Get("/blog/entries/", s.handleListEntries)
	r.Get("/blog/entries/{slug}/", s.handleGetEntry)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/auth/me/", s.handleGetMe)
		r.Patch("/auth/me/", s.handlePatchMe)

		r.Get("/journey/weeks/", s.handleListWeeks)
		r.Get("/journey/days/", s.handleListDays)
		r.Get("/journey/days/{id}/", s.handleGetDay)
		r.Patch("/journey/days/{id}/", s.handlePatchDay)
		r.Patch("/journey/days/{id}/complete/", s.handleCompleteDay)
		r.Patch("/journey/days/{id}/pre-complete/", s.handleFlexComplete(progress.StatusPreCompleted, 1.0))
		r.Patch("/journey/days/{id}/post-complete/", s.handleFlexComplete(progress.StatusPostCompleted, 0.75))
		r.Get("/journey/stats/", s.handleStats)

		r.Post("/journey/tasks/", s.handleCreateTask)
		r.Delete("/journey/tasks/{id}/", s.handleDeleteTask)
		r.Patch("/journey/tasks/{id}/toggle/", s.handleToggleTask)

		r.Post("/journey/knowledge-checks/", s.handleCreateCheck)
		r.Patch("/journey/knowledge-checks/{id}/", s.handlePatchCheck)
		r.Delete("/journey/knowledge-checks/{id}/", s.handleDeleteCheck)

		r.Post("/blog/entries/", s.handleCreateEntry)
		r.Patch("/blog/entries/{slug}/", s.handlePatchEntry)
		r.Post("/blog/entries/{slug}/publish/", s.handlePublishEntry)
	})
	return r
}

// --- controls ---

// IssueTokens mints a valid token pair without going through login.
func (s *Server) IssueTokens() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, refresh = newToken("acc"), newToken("ref")
	s.access[access] = true
	s.refresh[refresh] = true
	return access, refresh
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.access)
}

// FailRefresh makes the refresh endpoint reject every token while set.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRefresh = fail
}

// SetRefreshDelay delays refresh responses, to widen concurrency windows.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// Requests returns a copy of every recorded request.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Day returns a copy of a day as currently stored.
func (s *Server) Day(id int) (progress.Day, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.days[id]
	if !ok {
		return progress.Day{}, false
	}
	return s.dayViewLocked(d), true
}

// Entry returns a copy of a journal entry.
func (s *Server) Entry(slug string) (blog.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[slug]
	if !ok {
		return blog.Entry{}, false
	}
	return *e, true
}

// AddEntry stores an entry directly, bypassing the API.
func (s *Server) AddEntry(e blog.Entry) blog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEntryID++
	e.ID = s.nextEntryID
	if e.Slug == "" {
		e.Slug = slugify(e.Title, e.ID)
	}
	if e.Status == "" {
		e.Status = blog.StatusDraft
	}
	s.entries[e.Slug] = &e
	s.order = append(s.order, e.Slug)
	return e
}

// SetTotalXP overrides the user's XP and recomputes the level.
func (s *Server) SetTotalXP(xp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.Profile.TotalXP = xp
	s.user.Profile.CurrentLevel, _, _ = calculateLevel(xp)
}

// --- middleware ---

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := Request{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			data, err := io.ReadAll(r.Body)
			if err == nil && len(data) > 0 {
				json.Unmarshal(data, &rec.Body)
			}
			r.Body = io.NopCloser(bytes.NewReader(data))
		}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		s.mu.Lock()
		ok := strings.HasPrefix(auth, prefix) && s.access[auth[len(prefix):]]
		s.mu.Unlock()
		if !ok {
			httpError(w, http.StatusUnauthorized, "authentication_error", "Given token not valid for any token type")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct{ Username, Password string }
	if !decode(w, r, &body) {
		return
	}
	if body.Username != Username || body.Password != Password {
		httpError(w, http.StatusUnauthorized, "authentication_error", "No active account found with the given credentials")
		return
	}
	access, refresh := s.IssueTokens()
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct{ Refresh string }
	if !decode(w, r, &body) {
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRefresh || !s.refresh[body.Refresh] {
		httpError(w, http.StatusUnauthorized, "authentication_error", "Token is invalid or expired")
		return
	}
	access := newToken("acc")
	s.access[access] = true
	resp := map[string]string{"access": access}
	if s.rotateRefresh {
		delete(s.refresh, body.Refresh)
		next := newToken("ref")
		s.refresh[next] = true
		resp["refresh"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct{ Refresh string }
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	delete(s.refresh, body.Refresh)
	s.mu.Unlock()
	w.WriteHeader(http.StatusResetContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.user)
}

func (s *Server) handlePatchMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profile progress.ProfilePatch `json:"profile"`
	}
	if !decode(w, r, &body) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.user.Profile
	if v := body.Profile.DisplayName; v != nil {
		p.DisplayName = *v
	}
	if v := body.Profile.AvatarEmoji; v != nil {
		p.AvatarEmoji = *v
	}
	if v := body.Profile.Bio; v != nil {
		p.Bio = *v
	}
	if v := body.Profile.GithubURL; v != nil {
		p.GithubURL = *v
	}
	if v := body.Profile.LinkedinURL; v != nil {
		p.LinkedinURL = *v
	}
	if v := body.Profile.JourneyTitle; v != nil {
		p.JourneyTitle = *v
	}
	if v := body.Profile.IsPublic; v != nil {
		p.IsPublic = *v
	}
	writeJSON(w, http.StatusOK, s.user)
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func newToken(prefix string) string {
	b := make([]byte, 12)
	rand.Read(b)
	return prefix + "." + hex.EncodeToString(b)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string, id int) string {
	base := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if base == "" {
		base = "entry"
	}
	return fmt.Sprintf("%s-%d", base, id)
}

// calculateLevel returns (level, xp into the level, xp the level spans).
// Past the table every level spans 4000 XP.
func calculateLevel(totalXP int) (level, inCurrent, needed int) {
	level = 1
	for i := 1; i < len(xpPerLevel); i++ {
		if totalXP < xpPerLevel[i] {
			break
		}
		level = i + 1
	}
	if level < len(xpPerLevel) {
		base := xpPerLevel[level-1]
		return level, totalXP - base, xpPerLevel[level] - base
	}
	extra := totalXP - xpPerLevel[len(xpPerLevel)-1]
	return 10 + extra/4000, extra % 4000, 4000
}
