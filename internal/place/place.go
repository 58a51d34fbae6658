// Package place implements the collaborative field suggestion and resolution
// engine for travel-location records. A Place is a semi-structured document
// whose individual fields can be annotated with proposed edits; accepting a
// proposal merges it back through a type-aware patch and appends an immutable
// audit entry. Everything here is a pure in-memory transformation; persistence
// is the caller's concern.
package place

// Place is the record being collaboratively authored. Doc holds the
// semi-structured travel-location fields (scalars, arrays, nested objects);
// Suggestions maps field paths to their proposal lists; EditHistory is the
// append-only log of accepted changes. A Place is owned, mutable working
// state for a single editing session; there is no internal locking.
type Place struct {
	ID          string                  `json:"id"`
	Doc         map[string]any          `json:"doc"`
	Suggestions map[string][]Suggestion `json:"suggestions"`
	EditHistory []EditLogEntry          `json:"editHistory"`
	CreatedAt   Timestamp               `json:"createdAt"`
	UpdatedAt   Timestamp               `json:"updatedAt"`
}

func New(id string) *Place {
	now := Now()
	return &Place{
		ID:          id,
		Doc:         map[string]any{},
		Suggestions: map[string][]Suggestion{},
		EditHistory: []EditLogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// EnsureCollections backfills the suggestion and history collections so they
// are always present as empty rather than absent. Suggestion keys, once
// created, are never deleted; only their lists grow.
func (p *Place) EnsureCollections() {
	if p.Doc == nil {
		p.Doc = map[string]any{}
	}
	if p.Suggestions == nil {
		p.Suggestions = map[string][]Suggestion{}
	}
	if p.EditHistory == nil {
		p.EditHistory = []EditLogEntry{}
	}
}

func (p *Place) Touch() {
	p.UpdatedAt = Now()
}

// PendingCount counts pending suggestions across every path.
func (p *Place) PendingCount() int {
	total := 0
	for _, list := range p.Suggestions {
		for _, s := range list {
			if s.Status == StatusPending {
				total++
			}
		}
	}
	return total
}

// deepCopy clones JSON-shaped values so a snapshot cannot be retroactively
// altered by later mutations of the live document.
func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	default:
		return v
	}
}
