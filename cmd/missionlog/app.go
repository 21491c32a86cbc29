package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/missionlog/internal/blog"
	"github.com/kalambet/missionlog/internal/config"
	"github.com/kalambet/missionlog/internal/credentials"
	"github.com/kalambet/missionlog/internal/draft"
	"github.com/kalambet/missionlog/internal/effects"
	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/session"
	"github.com/kalambet/missionlog/internal/storage"
	"github.com/kalambet/missionlog/internal/tracker"
	"github.com/kalambet/missionlog/internal/transport"
)

var errNotLoggedIn = errors.New("not logged in, run `missionlog login`")

// app is the dependency graph shared by the commands of one invocation.
type app struct {
	cfg       config.Config
	durations config.Durations
	tokens    credentials.Store
	session   *session.Context
	transport *transport.Client
	progress  *progress.Client
	blog      *blog.Client
	store     *storage.Store
	effects   *effects.Queue
	tracker   *tracker.Tracker

	unsubscribe func()
}

// newApp loads config and opens local state. Tests replace it with a
// builder pointed at a fake backend.
var newApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	var tokens credentials.Store
	if ephemeral {
		tokens = credentials.NewMemoryStore()
	} else {
		ds, err := credentials.OpenDisk(filepath.Join(cfg.Storage.DataDir, "credentials"))
		if err != nil {
			return nil, fmt.Errorf("opening credential store: %w", err)
		}
		tokens = ds
	}
	return buildApp(cfg, tokens, cfg.Storage.DataDir)
}

// buildApp wires the clients over tokens. dataDir ":memory:" keeps the
// snapshot cache and draft buffer in memory.
func buildApp(cfg config.Config, tokens credentials.Store, dataDir string) (*app, error) {
	a := &app{cfg: cfg, durations: cfg.Durations(), tokens: tokens}

	a.session = session.New(tokens)
	if _, err := a.session.Initialize(); err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	a.unsubscribe = a.session.Subscribe(func(ev session.Event) {
		if ev.State == session.StateAnonymous && errors.Is(ev.Reason, transport.ErrSessionExpired) {
			printWarning("Your session has expired. Log in again with `missionlog login`.")
		}
	})

	a.transport = transport.New(cfg.API.BaseURL, tokens,
		transport.WithHTTPClient(&http.Client{Timeout: a.durations.APITimeout}),
		transport.WithInvalidator(a.session),
	)
	a.progress = progress.NewClient(a.transport)
	a.blog = blog.NewClient(a.transport)

	store, err := storage.Open(dataDir)
	if err != nil {
		a.unsubscribe()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store

	a.effects = effects.NewQueue(effects.WithLifetimes(a.durations.XPPopLifetime, a.durations.LevelUpLifetime))
	a.tracker = a.newTracker()
	return a, nil
}

func (a *app) newTracker(opts ...tracker.Option) *tracker.Tracker {
	opts = append([]tracker.Option{
		tracker.WithEffects(a.effects),
		tracker.WithCache(a.store),
		tracker.WithGridDays(a.cfg.Projection.GridDays),
	}, opts...)
	return tracker.New(a.progress, opts...)
}

func (a *app) newDraft() *draft.Session {
	return draft.New(a.blog, a.progress,
		draft.WithDelay(a.durations.AutosaveDelay),
		draft.WithBuffer(a.store),
	)
}

func (a *app) requireLogin() error {
	if a.session.State() != session.StateAuthenticated {
		return errNotLoggedIn
	}
	return nil
}

func (a *app) close() {
	a.unsubscribe()
	a.effects.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(run func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return run(cmd.Context(), cmd, args, a)
	}
}

// authed is withApp for commands that need a logged-in session.
func authed(run func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		if err := a.requireLogin(); err != nil {
			return err
		}
		return run(ctx, cmd, args, a)
	})
}

func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
