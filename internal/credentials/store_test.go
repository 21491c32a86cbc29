package credentials

import (
	"context"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	disk, err := OpenDisk(t.TempDir())
	if err != nil {
		t.Fatalf("OpenDisk: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"disk":   disk,
	}
}

func TestStore_GetSetClear(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(AccessTokenKey); err != nil || ok {
				t.Fatalf("Get on empty store = ok %v, err %v; want absent", ok, err)
			}

			if err := s.Set(AccessTokenKey, "abc"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			v, ok, err := s.Get(AccessTokenKey)
			if err != nil || !ok || v != "abc" {
				t.Fatalf("Get = (%q, %v, %v), want (abc, true, nil)", v, ok, err)
			}

			if err := s.Clear(AccessTokenKey); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, ok, _ := s.Get(AccessTokenKey); ok {
				t.Error("key still present after Clear")
			}

			// Clearing an absent key is not an error.
			if err := s.Clear(AccessTokenKey); err != nil {
				t.Errorf("Clear on absent key: %v", err)
			}
		})
	}
}

func TestTokens_SaveAndClearTogether(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := SaveTokens(s, "acc", "ref"); err != nil {
				t.Fatalf("SaveTokens: %v", err)
			}
			a, r, err := Tokens(s)
			if err != nil {
				t.Fatalf("Tokens: %v", err)
			}
			if a != "acc" || r != "ref" {
				t.Errorf("Tokens = (%q, %q), want (acc, ref)", a, r)
			}

			if err := ClearTokens(s); err != nil {
				t.Fatalf("ClearTokens: %v", err)
			}
			a, r, _ = Tokens(s)
			if a != "" || r != "" {
				t.Errorf("after ClearTokens: (%q, %q), want both empty", a, r)
			}
		})
	}
}

func TestDiskStore_SharedBetweenInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := OpenDisk(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s1.Set(RefreshTokenKey, "shared"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s2.Get(RefreshTokenKey)
	if err != nil || !ok || v != "shared" {
		t.Fatalf("second instance Get = (%q, %v, %v), want shared", v, ok, err)
	}

	if err := s2.Set(RefreshTokenKey, "rotated"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := s1.Get(RefreshTokenKey); v != "rotated" {
		t.Errorf("first instance sees %q, want rotated", v)
	}
}

func TestDiskStore_Watch(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDisk(dir)
	if err != nil {
		t.Fatal(err)
	}
	other, err := OpenDisk(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := other.Set(AccessTokenKey, "from-elsewhere"); err != nil {
		t.Fatal(err)
	}

	select {
	case ch := <-changes:
		if ch.Key != AccessTokenKey || ch.Removed {
			t.Errorf("change = %+v, want write of %s", ch, AccessTokenKey)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	cancel()
	for range changes {
	}
}
