package place

import (
	"github.com/google/uuid"

	"wayfare/api/internal/fieldpath"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Suggestion is a proposed edit to a single field path. It is created
// pending and transitions exactly once to accepted or rejected.
type Suggestion struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`
	Status    Status    `json:"status"`
}

// AddSuggestion appends a pending suggestion for path. The path is validated
// up front so malformed addresses are rejected at creation time rather than
// silently no-oping at resolution. Multiple pending suggestions may coexist
// on the same path; there is no deduplication.
func (p *Place) AddSuggestion(path, author, content string) (Suggestion, error) {
	if _, err := fieldpath.Parse(path); err != nil {
		return Suggestion{}, err
	}
	p.EnsureCollections()
	suggestion := Suggestion{
		ID:        uuid.NewString(),
		Author:    author,
		Content:   content,
		CreatedAt: Now(),
		Status:    StatusPending,
	}
	p.Suggestions[path] = append(p.Suggestions[path], suggestion)
	p.Touch()
	return suggestion, nil
}

// ListSuggestions returns the suggestions for path in insertion order.
// Never nil.
func (p *Place) ListSuggestions(path string) []Suggestion {
	list := p.Suggestions[path]
	if list == nil {
		return []Suggestion{}
	}
	return list
}

// HasPending reports whether any suggestion at path is still pending.
// Recomputed on every read, never cached.
func (p *Place) HasPending(path string) bool {
	for _, s := range p.Suggestions[path] {
		if s.Status == StatusPending {
			return true
		}
	}
	return false
}
