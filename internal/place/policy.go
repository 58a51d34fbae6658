package place

import (
	"fmt"
	"strings"
)

// Transform identifies the rule used to coerce accepted suggestion content
// into the value merged at a field path.
type Transform int

const (
	// TransformIdentity stores the content string as-is.
	TransformIdentity Transform = iota
	// TransformSplitList splits comma-separated content into a trimmed,
	// empty-free list of strings.
	TransformSplitList
	// TransformAppendNote appends a date-stamped block to any existing text
	// instead of replacing it. Not idempotent on its own; Resolve guards
	// against re-application.
	TransformAppendNote
)

// Policy maps exact field paths to non-default transforms. Lookup is by
// exact string, not pattern: a field needing special merge behavior gets
// one entry per concrete path. Paths not listed use TransformIdentity.
type Policy map[string]Transform

// DefaultPolicy covers the two place fields with special merge rules.
func DefaultPolicy() Policy {
	return Policy{
		"tags":        TransformSplitList,
		"editorNotes": TransformAppendNote,
	}
}

// Apply converts raw accepted content into the value to merge at path.
// existing is the current value at that path; only the append-note rule
// reads it.
func (p Policy) Apply(path string, raw any, existing any, now Timestamp) any {
	switch p[path] {
	case TransformSplitList:
		return splitList(raw)
	case TransformAppendNote:
		return appendNote(raw, existing, now)
	default:
		return raw
	}
}

func splitList(raw any) any {
	switch v := raw.(type) {
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			out = append(out, trimmed)
		}
		return out
	case []string:
		return v
	case []any:
		return v
	default:
		return []string{}
	}
}

func appendNote(raw any, existing any, now Timestamp) any {
	content, _ := raw.(string)
	appendix := fmt.Sprintf("[%s] %s", now.Time().Format("2006-01-02"), content)
	if prior, ok := existing.(string); ok && strings.TrimSpace(prior) != "" {
		return prior + "\n\n" + appendix
	}
	return appendix
}
