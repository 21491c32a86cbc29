// Package tracker applies progress mutations and keeps the projected
// dashboard in step with the server: every mutation is followed by a refetch
// of days and stats, and its result is turned into feedback effects.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/missionlog/internal/clock"
	"github.com/kalambet/missionlog/internal/effects"
	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/projection"
	"github.com/kalambet/missionlog/internal/storage"
)

// dayPageSize covers the whole journey in one page.
const dayPageSize = 100

// DefaultInterval is the refetch period of Run when none is given.
const DefaultInterval = 30 * time.Second

// Activity kinds recorded in the cache.
const (
	KindToggleTask      = "toggle_task"
	KindCompleteDay     = "complete_day"
	KindPreCompleteDay  = "pre_complete_day"
	KindPostCompleteDay = "post_complete_day"
)

// Progress is the subset of the progress client the tracker drives.
type Progress interface {
	ToggleTask(ctx context.Context, id int) (progress.MutationResult, error)
	CompleteDay(ctx context.Context, id int) (progress.MutationResult, error)
	PreCompleteDay(ctx context.Context, id int) (progress.MutationResult, error)
	PostCompleteDay(ctx context.Context, id int) (progress.MutationResult, error)
	ListDays(ctx context.Context, pageSize int) ([]progress.Day, error)
	Stats(ctx context.Context) (progress.Stats, error)
}

// Effects receives mutation results.
type Effects interface {
	OnMutationResult(res progress.MutationResult, origin effects.Point) []effects.Event
}

// Cache persists the last fetched state and the activity log.
type Cache interface {
	SaveSnapshot(key string, v any, fetchedAt time.Time) error
	LoadSnapshot(key string, v any) (time.Time, error)
	RecordActivity(a storage.Activity) error
}

// State is the current projection and how fresh it is. Stale is set when
// the most recent refetch failed; View then holds the last good projection.
type State struct {
	View      projection.View
	FetchedAt time.Time
	Stale     bool
	Err       error
}

// Outcome is what a mutation produced.
type Outcome struct {
	Result progress.MutationResult
	Events []effects.Event
	State  State
}

type Tracker struct {
	client   Progress
	effects  Effects
	cache    Cache
	clock    clock.Clock
	gridDays int
	observer func(State)
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

type Option func(*Tracker)

func WithEffects(e Effects) Option {
	return func(t *Tracker) { t.effects = e }
}

func WithCache(c Cache) Option {
	return func(t *Tracker) { t.cache = c }
}

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithGridDays sets the length of the day grid. Non-positive values use the
// projection default.
func WithGridDays(n int) Option {
	return func(t *Tracker) { t.gridDays = n }
}

// WithObserver registers fn to be called after every refresh attempt.
func WithObserver(fn func(State)) Option {
	return func(t *Tracker) { t.observer = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func New(client Progress, opts ...Option) *Tracker {
	t := &Tracker{
		client: client,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// View returns the current state.
func (t *Tracker) View() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) ToggleTask(ctx context.Context, taskID int, origin effects.Point) (Outcome, error) {
	return t.mutate(ctx, KindToggleTask, taskID, origin, t.client.ToggleTask)
}

func (t *Tracker) CompleteDay(ctx context.Context, dayID int, origin effects.Point) (Outcome, error) {
	return t.mutate(ctx, KindCompleteDay, dayID, origin, t.client.CompleteDay)
}

func (t *Tracker) PreCompleteDay(ctx context.Context, dayID int, origin effects.Point) (Outcome, error) {
	return t.mutate(ctx, KindPreCompleteDay, dayID, origin, t.client.PreCompleteDay)
}

func (t *Tracker) PostCompleteDay(ctx context.Context, dayID int, origin effects.Point) (Outcome, error) {
	return t.mutate(ctx, KindPostCompleteDay, dayID, origin, t.client.PostCompleteDay)
}

type mutation func(ctx context.Context, id int) (progress.MutationResult, error)

// mutate runs one mutation. Its error is returned unchanged. Once the
// server has accepted the mutation, a failed refetch only marks the state
// stale.
func (t *Tracker) mutate(ctx context.Context, kind string, id int, origin effects.Point, fn mutation) (Outcome, error) {
	res, err := fn(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Result: res}
	if t.effects != nil {
		out.Events = t.effects.OnMutationResult(res, origin)
	}
	t.record(kind, id, res)

	state, err := t.Refresh(ctx)
	if err != nil {
		t.logger.Warn("refetch after mutation failed", "kind", kind, "id", id, "error", err)
	}
	out.State = state
	return out, nil
}

func (t *Tracker) record(kind string, id int, res progress.MutationResult) {
	if t.cache == nil {
		return
	}
	err := t.cache.RecordActivity(storage.Activity{
		ID:        uuid.NewString(),
		CreatedAt: t.clock.Now(),
		Kind:      kind,
		TargetID:  id,
		XPGained:  res.XPGained,
		LeveledUp: res.LeveledUp,
		NewLevel:  res.NewLevel,
	})
	if err != nil {
		t.logger.Warn("recording activity failed", "kind", kind, "error", err)
	}
}

// Refresh refetches days and stats concurrently and recomputes the view.
// On failure the previous view is kept and marked stale.
func (t *Tracker) Refresh(ctx context.Context) (State, error) {
	var (
		days  []progress.Day
		stats progress.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := t.client.ListDays(gctx, dayPageSize)
		if err != nil {
			return fmt.Errorf("fetching days: %w", err)
		}
		days = d
		return nil
	})
	g.Go(func() error {
		s, err := t.client.Stats(gctx)
		if err != nil {
			return fmt.Errorf("fetching stats: %w", err)
		}
		stats = s
		return nil
	})

	if err := g.Wait(); err != nil {
		t.mu.Lock()
		t.state.Stale = true
		t.state.Err = err
		state := t.state
		t.mu.Unlock()
		t.notify(state)
		return state, err
	}

	now := t.clock.Now()
	state := State{View: projection.Project(days, stats, t.gridDays, now), FetchedAt: now}
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	if t.cache != nil {
		if err := t.cache.SaveSnapshot(storage.SnapshotDays, days, now); err != nil {
			t.logger.Warn("caching days failed", "error", err)
		}
		if err := t.cache.SaveSnapshot(storage.SnapshotStats, stats, now); err != nil {
			t.logger.Warn("caching stats failed", "error", err)
		}
	}
	t.notify(state)
	return state, nil
}

func (t *Tracker) notify(s State) {
	if t.observer != nil {
		t.observer(s)
	}
}

// LoadCached projects the last cached snapshot without touching the
// network. The result is always marked stale. It returns storage.ErrNotFound
// when nothing has been cached yet.
func (t *Tracker) LoadCached() (State, error) {
	if t.cache == nil {
		return State{}, storage.ErrNotFound
	}
	var days []progress.Day
	fetchedAt, err := t.cache.LoadSnapshot(storage.SnapshotDays, &days)
	if err != nil {
		return State{}, err
	}
	var stats progress.Stats
	if _, err := t.cache.LoadSnapshot(storage.SnapshotStats, &stats); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return State{}, err
	}
	return State{
		View:      projection.Project(days, stats, t.gridDays, t.clock.Now()),
		FetchedAt: fetchedAt,
		Stale:     true,
	}, nil
}

// Run refreshes every interval until ctx is cancelled. Failures are logged
// and the loop keeps going.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("refresh failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
