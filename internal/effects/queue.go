// Package effects turns mutation results into short-lived feedback events
// (XP pops and level-ups). Events are kept in creation order and expire on
// their own, independently of one another.
package effects

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/missionlog/internal/clock"
	"github.com/kalambet/missionlog/internal/progress"
)

const (
	DefaultXPPopLifetime   = time.Second
	DefaultLevelUpLifetime = 4 * time.Second
	DefaultLevelUpTitle    = "Level Up!"
)

type Kind int

const (
	KindXPPop Kind = iota + 1
	KindLevelUp
)

func (k Kind) String() string {
	switch k {
	case KindXPPop:
		return "xp_pop"
	case KindLevelUp:
		return "level_up"
	}
	return "unknown"
}

// Point anchors an XP pop, usually where the triggering action happened.
type Point struct {
	X, Y float64
}

// Event is one live effect. Amount and Origin are set for XP pops; Level and
// Title for level-ups.
type Event struct {
	ID        uint64
	Kind      Kind
	Amount    int
	Origin    Point
	Level     int
	Title     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type ChangeType int

const (
	Added ChangeType = iota + 1
	Removed
)

// Change is delivered to subscribers. Expired distinguishes a lifetime end
// from a manual dismiss.
type Change struct {
	Type    ChangeType
	Event   Event
	Expired bool
}

// Queue holds live effect events.
type Queue struct {
	clock         clock.Clock
	xpLifetime    time.Duration
	levelLifetime time.Duration
	levelTitle    func(level int) string
	logger        *slog.Logger

	mu     sync.Mutex
	nextID uint64
	live   []Event
	timers map[uint64]clock.Timer
	subs   map[int]func(Change)
	subID  int
	closed bool
}

type Option func(*Queue)

func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLifetimes overrides the display lifetimes. Non-positive values keep the
// defaults.
func WithLifetimes(xpPop, levelUp time.Duration) Option {
	return func(q *Queue) {
		if xpPop > 0 {
			q.xpLifetime = xpPop
		}
		if levelUp > 0 {
			q.levelLifetime = levelUp
		}
	}
}

// WithLevelTitle sets how a level-up event is titled.
func WithLevelTitle(fn func(level int) string) Option {
	return func(q *Queue) { q.levelTitle = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		clock:         clock.Real(),
		xpLifetime:    DefaultXPPopLifetime,
		levelLifetime: DefaultLevelUpLifetime,
		levelTitle:    func(int) string { return DefaultLevelUpTitle },
		logger:        slog.Default(),
		timers:        make(map[uint64]clock.Timer),
		subs:          make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// OnMutationResult enqueues the effects a result calls for: an XP pop when XP
// was gained, then a level-up when the level changed. It returns the new
// events in creation order. There is no debounce; every call enqueues.
func (q *Queue) OnMutationResult(res progress.MutationResult, origin Point) []Event {
	var created []Event
	if res.XPGained > 0 {
		if ev, ok := q.enqueue(Event{Kind: KindXPPop, Amount: res.XPGained, Origin: origin}, q.xpLifetime); ok {
			created = append(created, ev)
		}
	}
	if res.LeveledUp {
		level := 0
		if res.NewLevel != nil {
			level = *res.NewLevel
		}
		ev := Event{Kind: KindLevelUp, Level: level, Title: q.levelTitle(level)}
		if ev, ok := q.enqueue(ev, q.levelLifetime); ok {
			created = append(created, ev)
		}
	}
	return created
}

func (q *Queue) enqueue(ev Event, lifetime time.Duration) (Event, bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Event{}, false
	}
	q.nextID++
	ev.ID = q.nextID
	ev.CreatedAt = q.clock.Now()
	ev.ExpiresAt = ev.CreatedAt.Add(lifetime)
	q.live = append(q.live, ev)

	id := ev.ID
	q.timers[id] = q.clock.AfterFunc(lifetime, func() { q.remove(id, true) })
	fns := q.subscribersLocked()
	q.mu.Unlock()

	q.logger.Debug("effect enqueued", "id", ev.ID, "kind", ev.Kind, "amount", ev.Amount, "level", ev.Level)
	notify(fns, Change{Type: Added, Event: ev})
	return ev, true
}

// Dismiss removes a live event before its lifetime ends. It reports whether
// the event was live.
func (q *Queue) Dismiss(id uint64) bool {
	return q.remove(id, false)
}

func (q *Queue) remove(id uint64, expired bool) bool {
	q.mu.Lock()
	idx := -1
	for i, ev := range q.live {
		if ev.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	ev := q.live[idx]
	q.live = append(q.live[:idx], q.live[idx+1:]...)
	if t, ok := q.timers[id]; ok {
		if !expired {
			t.Stop()
		}
		delete(q.timers, id)
	}
	fns := q.subscribersLocked()
	q.mu.Unlock()

	notify(fns, Change{Type: Removed, Event: ev, Expired: expired})
	return true
}

// Live returns a snapshot of the live events in creation order.
func (q *Queue) Live() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.live))
	copy(out, q.live)
	return out
}

// Subscribe registers fn for Added and Removed changes. Callbacks run on the
// goroutine that caused the change, after the queue lock is released.
func (q *Queue) Subscribe(fn func(Change)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.subID
	q.subID++
	q.subs[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// Close stops every pending expiry timer and drops live events, sending
// subscribers a Removed change for each in creation order. Later results are
// ignored.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	dropped := q.live
	q.live = nil
	fns := q.subscribersLocked()
	q.mu.Unlock()

	for _, ev := range dropped {
		notify(fns, Change{Type: Removed, Event: ev})
	}
}

func (q *Queue) subscribersLocked() []func(Change) {
	fns := make([]func(Change), 0, len(q.subs))
	for _, fn := range q.subs {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(Change), c Change) {
	for _, fn := range fns {
		fn(c)
	}
}
