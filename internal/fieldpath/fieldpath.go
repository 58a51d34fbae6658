// Package fieldpath addresses locations inside a semi-structured document
// using dot-and-bracket path strings such as "comments[2].content".
package fieldpath

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidPath  = errors.New("invalid field path")
	ErrPathConflict = errors.New("path traverses a non-container value")
)

// Key is one step of a parsed path: an object member or an array index.
// Callers switch on IsIndex instead of re-parsing the segment.
type Key struct {
	Field   string
	Index   int
	IsIndex bool
}

func (k Key) String() string {
	if k.IsIndex {
		return strconv.Itoa(k.Index)
	}
	return k.Field
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// Parse splits a path into keys after rewriting "[n]" segments to ".n".
// Empty segments are skipped; the only failure mode is a path that yields
// no keys at all.
func Parse(path string) ([]Key, error) {
	normalized := bracketIndex.ReplaceAllString(path, ".$1")
	parts := strings.Split(normalized, ".")
	keys := make([]Key, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if n, err := strconv.ParseUint(part, 10, 31); err == nil {
			keys = append(keys, Key{Index: int(n), IsIndex: true})
			continue
		}
		keys = append(keys, Key{Field: part})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return keys, nil
}

// Get walks keys from root and reports whether a value was found. Missing
// or unindexable intermediates yield (nil, false); Get never errors.
func Get(root any, keys []Key) (any, bool) {
	current := root
	for _, key := range keys {
		switch container := current.(type) {
		case map[string]any:
			value, ok := container[key.String()]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			if !key.IsIndex || key.Index >= len(container) {
				return nil, false
			}
			current = container[key.Index]
		default:
			return nil, false
		}
	}
	return current, true
}

// GetPath is Get over an unparsed path string. Parse failures report not-found.
func GetPath(root any, path string) (any, bool) {
	keys, err := Parse(path)
	if err != nil {
		return nil, false
	}
	return Get(root, keys)
}

// Set assigns value at keys under root, mutating root in place. Each missing
// or nil intermediate becomes a slice when the key that follows it is an
// array index, otherwise a map. Indexing past the end of a slice extends it,
// padding the gap with nils. Traversing through a value that is neither map
// nor slice fails with ErrPathConflict.
func Set(root map[string]any, keys []Key, value any) error {
	if len(keys) == 0 {
		return ErrInvalidPath
	}
	_, err := setIn(root, keys, value)
	return err
}

// SetPath is Set over an unparsed path string.
func SetPath(root map[string]any, path string, value any) error {
	keys, err := Parse(path)
	if err != nil {
		return err
	}
	return Set(root, keys, value)
}

// setIn returns the container it was handed, reallocated when a slice had
// to grow, so the caller can write it back into the parent.
func setIn(container any, keys []Key, value any) (any, error) {
	key := keys[0]
	switch c := container.(type) {
	case map[string]any:
		name := key.String()
		if len(keys) == 1 {
			c[name] = value
			return c, nil
		}
		child := c[name]
		if child == nil {
			child = emptyContainer(keys[1])
		}
		updated, err := setIn(child, keys[1:], value)
		if err != nil {
			return nil, err
		}
		c[name] = updated
		return c, nil
	case []any:
		if !key.IsIndex {
			return nil, fmt.Errorf("%w: field %q addresses an array", ErrPathConflict, key.Field)
		}
		for len(c) <= key.Index {
			c = append(c, nil)
		}
		if len(keys) == 1 {
			c[key.Index] = value
			return c, nil
		}
		child := c[key.Index]
		if child == nil {
			child = emptyContainer(keys[1])
		}
		updated, err := setIn(child, keys[1:], value)
		if err != nil {
			return nil, err
		}
		c[key.Index] = updated
		return c, nil
	default:
		return nil, fmt.Errorf("%w: key %q lands on %T", ErrPathConflict, key.String(), container)
	}
}

func emptyContainer(next Key) any {
	if next.IsIndex {
		return []any{}
	}
	return map[string]any{}
}
