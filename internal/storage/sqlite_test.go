package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReopenKeepsSchema(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.SaveSnapshot(SnapshotStats, statsFixture{Level: 5}, time.Now()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	v1, err := s1.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	v2, _ := s2.SchemaVersion()
	if v1 != v2 {
		t.Errorf("schema version changed on reopen: %d -> %d", v1, v2)
	}
	var got statsFixture
	if _, err := s2.LoadSnapshot(SnapshotStats, &got); err != nil || got.Level != 5 {
		t.Errorf("snapshot after reopen = %+v, %v", got, err)
	}
}

func TestSchemaVersionIsLatestMigration(t *testing.T) {
	s := openTestStore(t)

	all, err := migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(all); i++ {
		if all[i].version <= all[i-1].version {
			t.Fatalf("migrations out of order: %+v", all)
		}
	}

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if want := all[len(all)-1].version; v != want {
		t.Errorf("SchemaVersion = %d, want %d", v, want)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_activity_created"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

type statsFixture struct {
	Level   int `json:"level"`
	TotalXP int `json:"total_xp"`
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	fetched := time.Date(2026, 2, 3, 4, 5, 6, 7000, time.UTC)

	if err := s.SaveSnapshot(SnapshotStats, statsFixture{Level: 2, TotalXP: 700}, fetched); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(SnapshotStats, statsFixture{Level: 3, TotalXP: 1300}, fetched.Add(time.Minute)); err != nil {
		t.Fatalf("SaveSnapshot (replace): %v", err)
	}

	var got statsFixture
	at, err := s.LoadSnapshot(SnapshotStats, &got)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Level != 3 || got.TotalXP != 1300 {
		t.Errorf("snapshot = %+v", got)
	}
	if !at.Equal(fetched.Add(time.Minute)) {
		t.Errorf("fetchedAt = %v", at)
	}
}

func TestLoadSnapshotNotFound(t *testing.T) {
	s := openTestStore(t)
	var v any
	if _, err := s.LoadSnapshot("nope", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDraftBuffer(t *testing.T) {
	s := openTestStore(t)
	type draft struct{ Title string }

	if err := s.PutDraft("day:7", "sess-1", draft{Title: "first"}); err != nil {
		t.Fatalf("PutDraft: %v", err)
	}
	if err := s.PutDraft("day:7", "sess-2", draft{Title: "second"}); err != nil {
		t.Fatalf("PutDraft (replace): %v", err)
	}
	if err := s.PutDraft("slug:go-notes", "sess-3", draft{Title: "other"}); err != nil {
		t.Fatalf("PutDraft: %v", err)
	}

	var d draft
	if err := s.GetDraft("day:7", &d); err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.Title != "second" {
		t.Errorf("Title = %q, want second", d.Title)
	}

	keys, err := s.DraftKeys()
	if err != nil {
		t.Fatalf("DraftKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v", keys)
	}

	if err := s.DeleteDraft("day:7"); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if err := s.DeleteDraft("day:7"); err != nil {
		t.Errorf("second DeleteDraft: %v", err)
	}
	if err := s.GetDraft("day:7", &d); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDraft after delete err = %v", err)
	}
}

func TestRecentActivity(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	level := 4

	records := []Activity{
		{ID: "a1", CreatedAt: base, Kind: "toggle_task", TargetID: 3, XPGained: 25},
		{ID: "a2", CreatedAt: base.Add(500 * time.Millisecond), Kind: "toggle_task", TargetID: 4, XPGained: 75},
		{ID: "a3", CreatedAt: base.Add(time.Second), Kind: "complete_day", TargetID: 7, XPGained: 100, LeveledUp: true, NewLevel: &level},
	}
	for _, a := range records {
		if err := s.RecordActivity(a); err != nil {
			t.Fatalf("RecordActivity(%s): %v", a.ID, err)
		}
	}

	got, err := s.RecentActivity(2)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a3" || got[1].ID != "a2" {
		t.Fatalf("got %+v", got)
	}
	if !got[0].LeveledUp || got[0].NewLevel == nil || *got[0].NewLevel != 4 {
		t.Errorf("a3 = %+v", got[0])
	}
	if got[1].NewLevel != nil {
		t.Errorf("a2 NewLevel = %v, want nil", *got[1].NewLevel)
	}
	if !got[1].CreatedAt.Equal(records[1].CreatedAt) {
		t.Errorf("CreatedAt = %v", got[1].CreatedAt)
	}
}
