package apitest

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/missionlog/internal/blog"
)

// authenticated reports whether r carries a valid access token. A present
// but invalid token is rejected even on public endpoints.
func (s *Server) authenticated(w http.ResponseWriter, r *http.Request) (ok, rejected bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false, false
	}
	s.mu.Lock()
	valid := strings.HasPrefix(auth, "Bearer ") && s.access[strings.TrimPrefix(auth, "Bearer ")]
	s.mu.Unlock()
	if !valid {
		httpError(w, http.StatusUnauthorized, "authentication_error", "Given token not valid for any token type")
		return false, true
	}
	return true, false
}

func visible(e *blog.Entry, authed bool) bool {
	return authed || (e.IsPublic && e.Status == blog.StatusPublished)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	authed, rejected := s.authenticated(w, r)
	if rejected {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []blog.Entry{}
	for _, slug := range slices.Backward(s.order) {
		if e := s.entries[slug]; visible(e, authed) {
			out = append(out, *e)
		}
	}
	writePage(w, r, out)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	authed, rejected := s.authenticated(w, r)
	if rejected {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chi.URLParam(r, "slug")]
	if !ok || !visible(e, authed) {
		httpError(w, http.StatusNotFound, "not_found", "No BlogEntry matches the given query.")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var in blog.Input
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "title: This field may not be blank.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.Day != nil {
		if _, ok := s.days[*in.Day]; !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "day: object does not exist.")
			return
		}
	}

	s.nextEntryID++
	now := time.Now()
	e := &blog.Entry{
		ID:       s.nextEntryID,
		Slug:     slugify(in.Title, s.nextEntryID),
		Status:   blog.StatusDraft,
		IsPublic: true,
	}
	applyInput(e, in)
	e.UpdatedAt = &now
	s.linkDayLocked(e)
	s.entries[e.Slug] = e
	s.order = append(s.order, e.Slug)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handlePatchEntry(w http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if !decode(w, r, &fields) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chi.URLParam(r, "slug")]
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "No BlogEntry matches the given query.")
		return
	}

	// Partial update: only fields present in the body change.
	in := e.Input()
	data, _ := json.Marshal(in)
	var merged map[string]json.RawMessage
	json.Unmarshal(data, &merged)
	for k, v := range fields {
		merged[k] = v
	}
	data, _ = json.Marshal(merged)
	if err := json.Unmarshal(data, &in); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid entry: %v", err)
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "title: This field may not be blank.")
		return
	}

	now := time.Now()
	applyInput(e, in)
	e.UpdatedAt = &now
	s.linkDayLocked(e)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handlePublishEntry(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chi.URLParam(r, "slug")]
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "No BlogEntry matches the given query.")
		return
	}
	if e.Status != blog.StatusPublished {
		now := time.Now()
		e.Status, e.PublishedAt = blog.StatusPublished, &now
		s.awardLocked(publishXP)
	}
	writeJSON(w, http.StatusOK, e)
}

func applyInput(e *blog.Entry, in blog.Input) {
	e.Title = in.Title
	e.Content = in.Content
	e.Mood = in.Mood
	if e.Mood == "" {
		e.Mood = blog.DefaultMood
	}
	e.Tags = in.Tags
	if e.Tags == nil {
		e.Tags = []string{}
	}
	e.GithubURL = in.GithubURL
	e.ExternalLinks = in.ExternalLinks
	if e.ExternalLinks == nil {
		e.ExternalLinks = []blog.Link{}
	}
	e.Day = in.Day
}

func (s *Server) linkDayLocked(e *blog.Entry) {
	e.DayNumber = nil
	if e.Day == nil {
		return
	}
	if d, ok := s.days[*e.Day]; ok {
		n := d.DayNumber
		e.DayNumber = &n
	}
}
