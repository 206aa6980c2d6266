package logging

import "testing"

func TestRingBufferEviction(t *testing.T) {
	l := NewLogger(3, LevelDebug)

	l.Log(LevelInfo, CatSystem, "one", nil)
	l.Log(LevelInfo, CatSystem, "two", nil)
	l.Log(LevelInfo, CatSystem, "three", nil)
	l.Log(LevelInfo, CatSystem, "four", nil)

	entries := l.GetEntries(10, nil, nil)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Newest first, oldest evicted
	if entries[0].Message != "four" || entries[2].Message != "two" {
		t.Errorf("unexpected order: %q ... %q", entries[0].Message, entries[2].Message)
	}

	stats := l.Stats()
	if stats.Total != 3 || stats.Capacity != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Dropped != 1 {
		t.Errorf("expected 1 dropped entry, got %d", stats.Dropped)
	}
}

func TestMinLevelFiltersAtWrite(t *testing.T) {
	l := NewLogger(10, LevelWarn)

	l.Log(LevelDebug, CatSystem, "debug", nil)
	l.Log(LevelInfo, CatSystem, "info", nil)
	l.Log(LevelError, CatSystem, "error", nil)

	entries := l.GetEntries(10, nil, nil)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "error" {
		t.Errorf("unexpected entry %q", entries[0].Message)
	}
}

func TestGetEntriesFilters(t *testing.T) {
	l := NewLogger(10, LevelDebug)

	l.Log(LevelDebug, CatDevice, "probe", nil)
	l.Log(LevelInfo, CatSession, "unlocked", nil)
	l.Log(LevelWarn, CatSession, "relist failed", nil)
	l.Log(LevelError, CatHTTP, "panic", nil)

	warn := LevelWarn
	entries := l.GetEntries(10, &warn, nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at warn+, got %d", len(entries))
	}

	cat := CatSession
	entries = l.GetEntries(10, nil, &cat)
	if len(entries) != 2 {
		t.Fatalf("expected 2 session entries, got %d", len(entries))
	}

	entries = l.GetEntries(10, &warn, &cat)
	if len(entries) != 1 || entries[0].Message != "relist failed" {
		t.Fatalf("combined filter failed: %+v", entries)
	}

	entries = l.GetEntries(1, nil, nil)
	if len(entries) != 1 || entries[0].Message != "panic" {
		t.Fatalf("limit must keep the newest entry, got %+v", entries)
	}
}

func TestClear(t *testing.T) {
	l := NewLogger(5, LevelDebug)
	l.Log(LevelInfo, CatSystem, "one", nil)
	l.Clear()

	if len(l.GetEntries(10, nil, nil)) != 0 {
		t.Error("expected no entries after clear")
	}
	if l.Stats().Total != 0 {
		t.Error("expected zeroed stats after clear")
	}
}

func TestLevelJSON(t *testing.T) {
	b, err := LevelWarn.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(b) != `"warn"` {
		t.Errorf("unexpected encoding %s", b)
	}
}
