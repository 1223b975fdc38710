package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:      filepath.Join(t.TempDir(), "state.db"),
		MarkerTTL: time.Hour,
		MediaTTL:  10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreMarkers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.Marker(ctx, "dana"); err != nil || ok {
		t.Fatalf("expected no marker, got ok=%v err=%v", ok, err)
	}

	if err := s.SetMarker(ctx, "dana", "10:01"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetMarker(ctx, "dana", "10:02"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	m, ok, err := s.Marker(ctx, "dana")
	if err != nil || !ok {
		t.Fatalf("expected marker, got ok=%v err=%v", ok, err)
	}
	if m != "10:02" {
		t.Errorf("expected 10:02, got %q", m)
	}
}

func TestStoreForwarded(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ok, err := s.Forwarded(ctx, "dana:abc")
	if err != nil || ok {
		t.Fatalf("expected not forwarded, got ok=%v err=%v", ok, err)
	}
	for i := 0; i < 2; i++ {
		if err := s.MarkForwarded(ctx, "dana:abc", "dana"); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
	}
	ok, err = s.Forwarded(ctx, "dana:abc")
	if err != nil || !ok {
		t.Fatalf("expected forwarded, got ok=%v err=%v", ok, err)
	}

	_, media, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if media != 1 {
		t.Errorf("expected 1 media row, got %d", media)
	}
}

func TestStoreEvictExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.SetMarker(ctx, "old", "1"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkForwarded(ctx, "old:media", "old"); err != nil {
		t.Fatal(err)
	}

	// 30 minutes later: media expired, marker not.
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	if err := s.SetMarker(ctx, "fresh", "2"); err != nil {
		t.Fatal(err)
	}
	n, err := s.EvictExpired(ctx)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row evicted, got %d", n)
	}
	if ok, _ := s.Forwarded(ctx, "old:media"); ok {
		t.Error("expected media id to be evicted")
	}
	if _, ok, _ := s.Marker(ctx, "old"); !ok {
		t.Error("expected marker to survive")
	}

	// Two hours later: the first marker is past its TTL.
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := s.EvictExpired(ctx); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, ok, _ := s.Marker(ctx, "old"); ok {
		t.Error("expected old marker to be evicted")
	}
}

func TestStoreReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkForwarded(ctx, "m1", "dana"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if ok, err := s.Forwarded(ctx, "m1"); err != nil || !ok {
		t.Errorf("expected media id to survive reopen, got ok=%v err=%v", ok, err)
	}
}
