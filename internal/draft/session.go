// Package draft reconciles a locally edited journal entry with its server
// identity: debounced autosave, create-once then patch, duplicate avoidance
// on publish.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/missionlog/internal/blog"
	"github.com/kalambet/missionlog/internal/clock"
	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/storage"
)

// DefaultAutosaveDelay is the quiet period before an autosave fires.
const DefaultAutosaveDelay = 3 * time.Second

// listPageSize bounds the lookup for an existing entry of the same day.
const listPageSize = 100

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateEditing
	StateSaving
	StatePublishing
	StatePublished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	case StatePublishing:
		return "publishing"
	case StatePublished:
		return "published"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrPublishInProgress = errors.New("publish already in progress")
	ErrPublished         = errors.New("entry already published")
	ErrClosed            = errors.New("editing session closed")
	ErrNotEditing        = errors.New("editing session not ready")
)

// ValidationError reports malformed local input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Entries is the journal entry resource. Implemented by blog.Client.
type Entries interface {
	List(ctx context.Context, pageSize int) ([]blog.Entry, error)
	Get(ctx context.Context, slug string) (blog.Entry, error)
	Create(ctx context.Context, in blog.Input) (blog.Entry, error)
	Patch(ctx context.Context, slug string, in blog.Input) (blog.Entry, error)
	Publish(ctx context.Context, slug string) (blog.Entry, error)
}

// Days fetches a day for template synthesis. Implemented by progress.Client.
type Days interface {
	GetDay(ctx context.Context, id int) (progress.Day, error)
}

// Buffer keeps unsaved edits across process restarts. Implemented by
// storage.Store.
type Buffer interface {
	PutDraft(key, sessionID string, v any) error
	GetDraft(key string, v any) error
	DeleteDraft(key string) error
}

// Target selects what an editing session opens. An empty Slug (or "new")
// with a DayID starts from the day template; neither starts blank.
type Target struct {
	Slug  string
	DayID int
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	SessionID string
	Draft     Draft
	Slug      string
	State     State
	LastSaved time.Time
	LastError error
}

type buffered struct {
	Slug  string `json:"slug,omitempty"`
	Draft Draft  `json:"draft"`
}

// Session is one editing session of one journal entry. Writes against the
// entry are serialized; at most one create is issued per session.
type Session struct {
	id      string
	entries Entries
	days    Days
	buffer  Buffer
	clock   clock.Clock
	delay   time.Duration
	logger  *slog.Logger

	// bgCtx scopes timer-fired saves; Close cancels it.
	bgCtx    context.Context
	bgCancel context.CancelFunc

	// saveMu serializes every write to the entry resource.
	saveMu sync.Mutex

	mu        sync.Mutex
	state     State
	draft     Draft
	slug      string
	lastSaved time.Time
	lastErr   error
	timer     clock.Timer
	timerSeq  uint64 // identifies the timer in s.timer
	gen       uint64
	bufKeys   map[string]struct{}
}

type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithDelay sets the autosave quiet period. Non-positive keeps the default.
func WithDelay(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.delay = d
		}
	}
}

func WithBuffer(b Buffer) Option {
	return func(s *Session) { s.buffer = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates an Uninitialized session. Call Open before editing.
func New(entries Entries, days Days, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		entries: entries,
		days:    days,
		clock:   clock.Real(),
		delay:   DefaultAutosaveDelay,
		logger:  slog.Default(),
		bufKeys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("draft_session", s.id)
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	return s
}

// ID identifies the session in logs and draft buffers.
func (s *Session) ID() string { return s.id }

// Open loads the initial content and identity for target, then moves to
// Editing. On failure the session returns to Uninitialized and Open may be
// retried.
func (s *Session) Open(ctx context.Context, target Target) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("open: session is %s", st)
	}
	s.state = StateLoading
	s.mu.Unlock()

	d, slug, loaded, err := s.load(ctx, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	if err != nil {
		s.state = StateUninitialized
		return err
	}
	s.draft = d
	s.slug = slug
	s.state = StateEditing
	if loaded {
		s.lastSaved = s.clock.Now()
	}

	if s.buffer != nil {
		key := BufferKey(slug, d.Day)
		var buf buffered
		switch err := s.buffer.GetDraft(key, &buf); {
		case err == nil:
			s.logger.Info("restoring unsaved draft", "key", key)
			s.draft = buf.Draft
			if s.slug == "" {
				s.slug = buf.Slug
			}
			s.bufKeys[key] = struct{}{}
			s.gen++
			s.scheduleLocked()
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("reading draft buffer", "key", key, "error", err)
		}
	}
	return nil
}

func (s *Session) load(ctx context.Context, target Target) (d Draft, slug string, loaded bool, err error) {
	switch {
	case target.Slug != "" && target.Slug != "new":
		e, err := s.entries.Get(ctx, target.Slug)
		if err != nil {
			return Draft{}, "", false, fmt.Errorf("loading entry %q: %w", target.Slug, err)
		}
		return fromEntry(e), e.Slug, true, nil
	case target.DayID > 0:
		day, err := s.days.GetDay(ctx, target.DayID)
		if err != nil {
			return Draft{}, "", false, fmt.Errorf("loading day %d: %w", target.DayID, err)
		}
		if day.BlogSlug != "" {
			// The day already has an entry; edit what was written, not the template.
			e, err := s.entries.Get(ctx, day.BlogSlug)
			if err != nil {
				return Draft{}, "", false, fmt.Errorf("loading entry %q for day %d: %w", day.BlogSlug, target.DayID, err)
			}
			d := fromEntry(e)
			if d.Day == nil {
				d.Day = &target.DayID
			}
			return d, e.Slug, true, nil
		}
		d := DayTemplate(day)
		d.Day = &target.DayID
		return d, "", false, nil
	default:
		return BlankTemplate(s.clock.Now()), "", false, nil
	}
}

// --- edits ---

func (s *Session) SetTitle(title string) error {
	return s.edit(func(d *Draft) bool { d.Title = title; return true })
}

func (s *Session) SetContent(content string) error {
	return s.edit(func(d *Draft) bool { d.Content = content; return true })
}

func (s *Session) SetMood(mood string) error {
	if !blog.ValidMood(mood) {
		return &ValidationError{Field: "mood", Message: fmt.Sprintf("unknown mood %q (want one of %s)", mood, strings.Join(blog.Moods, ", "))}
	}
	return s.edit(func(d *Draft) bool { d.Mood = mood; return true })
}

func (s *Session) SetGithubURL(u string) error {
	return s.edit(func(d *Draft) bool { d.GithubURL = strings.TrimSpace(u); return true })
}

// AddTag appends a trimmed tag unless it is blank or already present.
func (s *Session) AddTag(tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	return s.edit(func(d *Draft) bool {
		for _, t := range d.Tags {
			if t == tag {
				return false
			}
		}
		d.Tags = append(d.Tags, tag)
		return true
	})
}

func (s *Session) RemoveTag(tag string) error {
	return s.edit(func(d *Draft) bool {
		for i, t := range d.Tags {
			if t == tag {
				d.Tags = append(d.Tags[:i:i], d.Tags[i+1:]...)
				return true
			}
		}
		return false
	})
}

// AddLink appends a link. Both title and url are required; duplicates are
// allowed.
func (s *Session) AddLink(title, url string) error {
	title, url = strings.TrimSpace(title), strings.TrimSpace(url)
	if title == "" || url == "" {
		return &ValidationError{Field: "external_links", Message: "link needs both a title and a url"}
	}
	return s.edit(func(d *Draft) bool {
		d.Links = append(d.Links, blog.Link{Title: title, URL: url})
		return true
	})
}

func (s *Session) RemoveLink(index int) error {
	var outOfRange bool
	err := s.edit(func(d *Draft) bool {
		if index < 0 || index >= len(d.Links) {
			outOfRange = true
			return false
		}
		d.Links = append(d.Links[:index:index], d.Links[index+1:]...)
		return true
	})
	if err == nil && outOfRange {
		return &ValidationError{Field: "external_links", Message: fmt.Sprintf("no link at index %d", index)}
	}
	return err
}

// edit applies fn to the draft. When fn reports a change the debounce timer
// restarts and the draft is buffered locally.
func (s *Session) edit(fn func(*Draft) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateEditing, StateSaving:
	case StatePublishing:
		return ErrPublishInProgress
	case StatePublished:
		return ErrPublished
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotEditing
	}

	if !fn(&s.draft) {
		return nil
	}
	s.gen++
	s.scheduleLocked()
	s.bufferLocked()
	return nil
}

// scheduleLocked restarts the single-slot debounce timer. Nothing is
// scheduled while the title is blank.
func (s *Session) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if strings.TrimSpace(s.draft.Title) == "" {
		return
	}
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(s.delay, func() { s.onTimer(seq) })
}

func (s *Session) bufferLocked() {
	if s.buffer == nil {
		return
	}
	key := BufferKey(s.slug, s.draft.Day)
	if err := s.buffer.PutDraft(key, s.id, buffered{Slug: s.slug, Draft: s.draft}); err != nil {
		s.logger.Warn("buffering draft", "key", key, "error", err)
		return
	}
	s.bufKeys[key] = struct{}{}
}

// onTimer runs the autosave for timer seq. A timer that fired while a newer
// edit was rescheduling is stale and leaves the newer one in place.
func (s *Session) onTimer(seq uint64) {
	s.mu.Lock()
	if s.timer == nil || s.timerSeq != seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	if err := s.save(s.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("autosave failed", "error", err)
	}
}

// Save writes the draft now, cancelling any pending autosave. It is the
// manual retry after a failed autosave.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	blank := strings.TrimSpace(s.draft.Title) == ""
	s.mu.Unlock()
	if blank {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	return s.save(ctx)
}

// save upserts the draft: patch when the identity is known, otherwise create
// and adopt the returned slug.
func (s *Session) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateEditing:
	case StatePublishing, StatePublished, StateClosed:
		// The publish path writes the latest content itself.
		s.mu.Unlock()
		return nil
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("save: session is %s", st)
	}
	s.state = StateSaving
	d := s.draft.clone()
	slug := s.slug
	gen := s.gen
	s.mu.Unlock()

	var (
		e   blog.Entry
		err error
	)
	if slug != "" {
		e, err = s.entries.Patch(ctx, slug, d.input())
	} else {
		e, err = s.entries.Create(ctx, d.input())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSaving {
		s.state = StateEditing
	}
	if err != nil {
		s.lastErr = err
		return fmt.Errorf("saving draft: %w", err)
	}
	if slug == "" {
		s.slug = e.Slug
		s.logger.Info("draft created", "slug", e.Slug)
	} else {
		s.logger.Debug("draft saved", "slug", slug)
	}
	s.lastSaved = s.clock.Now()
	s.lastErr = nil
	if s.gen == gen {
		s.clearBufferLocked()
	}
	return nil
}

// Publish resolves the entry's identity, writes the current content and
// promotes it to published. A draft without a known slug first adopts an
// existing entry of the same day, and is created only if there is none.
func (s *Session) Publish(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateEditing, StateSaving:
	case StatePublishing:
		s.mu.Unlock()
		return ErrPublishInProgress
	case StatePublished:
		s.mu.Unlock()
		return ErrPublished
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	default:
		s.mu.Unlock()
		return ErrNotEditing
	}
	if strings.TrimSpace(s.draft.Title) == "" {
		s.mu.Unlock()
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(s.draft.Content) == "" {
		s.mu.Unlock()
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	s.state = StatePublishing
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	// Wait out an in-flight autosave; it may assign the identity.
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	d := s.draft.clone()
	slug := s.slug
	s.mu.Unlock()

	slug, err := s.resolve(ctx, d, slug)
	if slug != "" {
		s.mu.Lock()
		s.slug = slug
		s.mu.Unlock()
	}
	if err == nil {
		_, err = s.entries.Publish(ctx, slug)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.state == StatePublishing {
			s.state = StateEditing
		}
		s.lastErr = err
		return fmt.Errorf("publishing: %w", err)
	}
	if s.state == StatePublishing {
		s.state = StatePublished
	}
	s.lastSaved = s.clock.Now()
	s.lastErr = nil
	s.clearBufferLocked()
	s.logger.Info("entry published", "slug", slug)
	return nil
}

// resolve returns the identity to publish under and writes d to it. The
// returned slug is set even when the final write fails, so a retry does not
// create a duplicate.
func (s *Session) resolve(ctx context.Context, d Draft, slug string) (string, error) {
	in := d.input()
	if slug != "" {
		_, err := s.entries.Patch(ctx, slug, in)
		return slug, err
	}

	if d.Day != nil {
		existing, err := s.entries.List(ctx, listPageSize)
		if err != nil {
			return "", fmt.Errorf("looking up existing entry: %w", err)
		}
		for _, e := range existing {
			if e.Day != nil && *e.Day == *d.Day && e.Slug != "" {
				s.logger.Info("adopting existing entry for day", "slug", e.Slug, "day", *d.Day)
				_, err := s.entries.Patch(ctx, e.Slug, in)
				return e.Slug, err
			}
		}
	}

	e, err := s.entries.Create(ctx, in)
	if err != nil {
		return "", err
	}
	return e.Slug, nil
}

// Close cancels the pending autosave. No save fires afterwards. Unsaved
// edits stay in the draft buffer, if one is configured.
func (s *Session) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.state != StatePublished {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.bgCancel()
}

// Pending reports whether an autosave is scheduled.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID: s.id,
		Draft:     s.draft.clone(),
		Slug:      s.slug,
		State:     s.state,
		LastSaved: s.lastSaved,
		LastError: s.lastErr,
	}
}

func (s *Session) clearBufferLocked() {
	if s.buffer == nil {
		return
	}
	for key := range s.bufKeys {
		if err := s.buffer.DeleteDraft(key); err != nil {
			s.logger.Warn("clearing draft buffer", "key", key, "error", err)
			continue
		}
		delete(s.bufKeys, key)
	}
}

// BufferKey is the draft buffer key for an entry. The day reference wins
// since it survives the slug being assigned on first save.
func BufferKey(slug string, day *int) string {
	switch {
	case day != nil:
		return "day:" + strconv.Itoa(*day)
	case slug != "":
		return "slug:" + slug
	default:
		return "blank"
	}
}
