package place

import (
	"reflect"
	"testing"
	"time"
)

func TestSplitListTrimsAndDropsEmpties(t *testing.T) {
	policy := DefaultPolicy()
	got := policy.Apply("tags", "a, b ,, c", nil, Now())
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply(tags) = %#v, want %#v", got, want)
	}
}

func TestSplitListPassesSequencesThrough(t *testing.T) {
	policy := DefaultPolicy()
	existing := []any{"beach", "food"}
	if got := policy.Apply("tags", existing, nil, Now()); !reflect.DeepEqual(got, existing) {
		t.Fatalf("Apply(tags, []any) = %#v", got)
	}
	typed := []string{"beach"}
	if got := policy.Apply("tags", typed, nil, Now()); !reflect.DeepEqual(got, typed) {
		t.Fatalf("Apply(tags, []string) = %#v", got)
	}
}

func TestSplitListNonStringNonSequenceBecomesEmpty(t *testing.T) {
	policy := DefaultPolicy()
	got := policy.Apply("tags", 42, nil, Now())
	list, ok := got.([]string)
	if !ok || len(list) != 0 {
		t.Fatalf("Apply(tags, 42) = %#v, want empty []string", got)
	}
}

func TestAppendNoteOnEmptyField(t *testing.T) {
	policy := DefaultPolicy()
	now := FromTime(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	got := policy.Apply("editorNotes", "verified opening hours", "", now)
	want := "[2026-03-14] verified opening hours"
	if got != want {
		t.Fatalf("Apply(editorNotes) = %q, want %q", got, want)
	}
}

func TestAppendNoteConcatenatesWithBlankLine(t *testing.T) {
	policy := DefaultPolicy()
	now := FromTime(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	got := policy.Apply("editorNotes", "second", "[2026-03-14] first", now)
	want := "[2026-03-14] first\n\n[2026-03-15] second"
	if got != want {
		t.Fatalf("Apply(editorNotes) = %q, want %q", got, want)
	}
}

func TestAppendNoteTreatsWhitespaceAsEmpty(t *testing.T) {
	policy := DefaultPolicy()
	now := FromTime(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	got := policy.Apply("editorNotes", "note", "   ", now)
	if got != "[2026-03-14] note" {
		t.Fatalf("Apply(editorNotes) = %q", got)
	}
}

func TestUnlistedPathUsesIdentity(t *testing.T) {
	policy := DefaultPolicy()
	if got := policy.Apply("summary", "plain text", "old", Now()); got != "plain text" {
		t.Fatalf("Apply(summary) = %v, want pass-through", got)
	}
}
