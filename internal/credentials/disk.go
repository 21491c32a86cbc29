package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/peterbourgon/diskv/v3"
)

// DiskStore persists credentials as one file per key under a directory.
// Every process of the same user sees the same tokens; nothing coordinates
// concurrent writers.
type DiskStore struct {
	d        *diskv.Diskv
	basePath string
}

// OpenDisk creates (if needed) dir and returns a DiskStore rooted there.
func OpenDisk(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	return &DiskStore{
		d: diskv.New(diskv.Options{
			BasePath:  dir,
			Transform: func(string) []string { return []string{} },
			// No read cache: another process may rewrite a token at any time.
			CacheSizeMax: 0,
			PathPerm:     0o700,
			FilePerm:     0o600,
		}),
		basePath: dir,
	}, nil
}

func (s *DiskStore) Get(key string) (string, bool, error) {
	val, err := s.d.Read(key)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	return string(val), true, nil
}

func (s *DiskStore) Set(key, val string) error {
	if err := s.d.Write(key, []byte(val)); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (s *DiskStore) Clear(key string) error {
	err := s.d.Erase(key)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("erasing %s: %w", key, err)
	}
	return nil
}

// Change reports that a credential key was written or removed, possibly by
// another process.
type Change struct {
	Key     string
	Removed bool
}

// Watch streams changes to stored keys until ctx is cancelled. The channel is
// closed when ctx is done or the watcher fails.
func (s *DiskStore) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(s.basePath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", s.basePath, err)
	}

	var closeOnce sync.Once
	closeWatcher := func() {
		closeOnce.Do(func() {
			if err := watcher.Close(); err != nil {
				slog.Warn("closing credential watcher", "error", err)
			}
		})
	}

	out := make(chan Change, 8)
	go func() {
		defer close(out)
		defer closeWatcher()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				key := filepath.Base(ev.Name)
				if key != AccessTokenKey && key != RefreshTokenKey {
					continue
				}
				var ch Change
				switch {
				case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
					ch = Change{Key: key, Removed: true}
				case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
					ch = Change{Key: key}
				default:
					continue
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("credential watcher error", "error", err)
			}
		}
	}()
	return out, nil
}
