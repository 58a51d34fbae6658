package place

import "wayfare/api/internal/fieldpath"

// Resolution is the terminal outcome applied to a suggestion.
type Resolution string

const (
	ResolutionAccepted Resolution = "accepted"
	ResolutionRejected Resolution = "rejected"
)

// EditLogEntry records one accepted change: where it landed, what was there
// before, what replaced it, who accepted it and when, and which suggestion
// produced it. Entries are immutable once appended; ordering is insertion
// order, oldest first. CommitHash is filled in by the caller when the place
// archive records the change, before the entry is persisted.
type EditLogEntry struct {
	FieldPath     string    `json:"fieldPath"`
	PreviousValue any       `json:"previousValue"`
	NewValue      any       `json:"newValue"`
	AcceptedBy    string    `json:"acceptedBy"`
	AcceptedAt    Timestamp `json:"acceptedAt"`
	SuggestionID  string    `json:"suggestionId"`
	CommitHash    string    `json:"commitHash,omitempty"`
}

// Resolve applies resolution to the suggestion with suggestionID at path.
//
// A missing suggestion id is a deliberate no-op, not an error: batch
// resolution flows must survive ids that were already pruned elsewhere.
// A suggestion that has already left the pending state is likewise left
// untouched, so accepting the same id twice cannot re-apply a
// non-idempotent transform such as the append-note rule. Both no-op cases
// return (nil, nil).
//
// On rejection only the status flips. On acceptance the previous value is
// captured from a deep snapshot taken before mutation, the resolution
// policy coerces the content, the document is patched in place, an
// EditLogEntry is appended, and UpdatedAt advances. The returned pointer
// addresses the appended entry so the caller can stamp CommitHash before
// persisting. Resolve performs no I/O.
func (p *Place) Resolve(policy Policy, path, suggestionID string, resolution Resolution, actor string) (*EditLogEntry, error) {
	p.EnsureCollections()

	idx := -1
	for i, s := range p.Suggestions[path] {
		if s.ID == suggestionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	if p.Suggestions[path][idx].Status != StatusPending {
		return nil, nil
	}

	status := StatusRejected
	if resolution == ResolutionAccepted {
		status = StatusAccepted
	}
	p.Suggestions[path][idx].Status = status
	if resolution != ResolutionAccepted {
		return nil, nil
	}

	keys, err := fieldpath.Parse(path)
	if err != nil {
		return nil, err
	}

	snapshot := deepCopy(p.Doc).(map[string]any)
	previous, _ := fieldpath.Get(snapshot, keys)

	now := Now()
	newValue := policy.Apply(path, p.Suggestions[path][idx].Content, previous, now)
	if err := fieldpath.Set(p.Doc, keys, newValue); err != nil {
		return nil, err
	}

	p.EditHistory = append(p.EditHistory, EditLogEntry{
		FieldPath:     path,
		PreviousValue: previous,
		NewValue:      deepCopy(newValue),
		AcceptedBy:    actor,
		AcceptedAt:    now,
		SuggestionID:  suggestionID,
	})
	p.UpdatedAt = now
	return &p.EditHistory[len(p.EditHistory)-1], nil
}
