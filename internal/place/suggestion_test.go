package place

import (
	"errors"
	"testing"

	"wayfare/api/internal/fieldpath"
)

func TestAddSuggestionStartsPending(t *testing.T) {
	p := New("plc-1")
	s, err := p.AddSuggestion("summary", "Marta", "A quieter take on the old town.")
	if err != nil {
		t.Fatalf("AddSuggestion() error = %v", err)
	}
	if s.Status != StatusPending {
		t.Fatalf("status = %q, want pending", s.Status)
	}
	if s.ID == "" {
		t.Fatal("expected a fresh suggestion id")
	}
	if s.CreatedAt.IsZero() {
		t.Fatal("expected a creation timestamp")
	}
}

func TestAddSuggestionRejectsInvalidPath(t *testing.T) {
	p := New("plc-1")
	if _, err := p.AddSuggestion("...", "Marta", "x"); !errors.Is(err, fieldpath.ErrInvalidPath) {
		t.Fatalf("AddSuggestion() error = %v, want ErrInvalidPath", err)
	}
	if len(p.Suggestions) != 0 {
		t.Fatalf("suggestions = %v, want empty", p.Suggestions)
	}
}

func TestAddSuggestionAllowsDuplicatesOnSamePath(t *testing.T) {
	p := New("plc-1")
	for i := 0; i < 3; i++ {
		if _, err := p.AddSuggestion("summary", "Marta", "same idea"); err != nil {
			t.Fatalf("AddSuggestion() error = %v", err)
		}
	}
	if got := len(p.ListSuggestions("summary")); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
}

func TestListSuggestionsKeepsInsertionOrder(t *testing.T) {
	p := New("plc-1")
	first, _ := p.AddSuggestion("summary", "Marta", "first")
	second, _ := p.AddSuggestion("summary", "Jonas", "second")

	list := p.ListSuggestions("summary")
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("order = %v", list)
	}
}

func TestListSuggestionsEmptyIsNotNil(t *testing.T) {
	p := New("plc-1")
	if list := p.ListSuggestions("summary"); list == nil {
		t.Fatal("expected empty slice, got nil")
	}
}

func TestHasPendingTracksEveryMutation(t *testing.T) {
	p := New("plc-1")
	if p.HasPending("summary") {
		t.Fatal("fresh place should have no pending suggestions")
	}
	s, _ := p.AddSuggestion("summary", "Marta", "new text")
	if !p.HasPending("summary") {
		t.Fatal("expected pending after add")
	}
	if _, err := p.Resolve(DefaultPolicy(), "summary", s.ID, ResolutionRejected, "Admin"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.HasPending("summary") {
		t.Fatal("expected no pending after rejection")
	}
}

func TestSuggestionKeysSurviveResolution(t *testing.T) {
	p := New("plc-1")
	s, _ := p.AddSuggestion("summary", "Marta", "new text")
	if _, err := p.Resolve(DefaultPolicy(), "summary", s.ID, ResolutionAccepted, "Admin"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := p.Suggestions["summary"]; !ok {
		t.Fatal("suggestion key was dropped; keys must never be deleted")
	}
}
