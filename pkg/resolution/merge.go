// Package resolution implements the decision engine that turns match results
// into matched, created or no-match outcomes, and the attribute merge policy
// applied when an observation lands on an existing entity.
package resolution

import (
	"fmt"
)

// MergeAttributes folds an observation's attributes into an existing entity's
// attributes and reports whether anything changed. The policy is additive:
//
//   - a key the entity lacks, or holds an empty value for, adopts the
//     observed value
//   - when both sides hold lists the result is their union, existing
//     elements first, observed elements appended in order, duplicates dropped
//   - in every other case the existing value wins
//
// The inputs are not modified; the returned map is always a fresh copy.
func MergeAttributes(existing, observed map[string]any) (map[string]any, bool) {
	merged := make(map[string]any, len(existing)+len(observed))
	for key, value := range existing {
		merged[key] = value
	}

	changed := false
	for key, value := range observed {
		current, present := merged[key]
		if !present || isEmptyValue(current) {
			merged[key] = value
			changed = true
			continue
		}

		currentList, currentIsList := current.([]any)
		observedList, observedIsList := value.([]any)
		if currentIsList && observedIsList {
			union, added := unionLists(currentList, observedList)
			merged[key] = union
			if added {
				changed = true
			}
		}
		// scalar conflict: existing value wins
	}

	return merged, changed
}

// unionLists appends the elements of b that are not already in a, preserving
// first-seen order, and reports whether b contributed anything. Elements are
// compared by their string rendering so mixed numeric encodings of the same
// value do not duplicate.
func unionLists(a, b []any) ([]any, bool) {
	seen := make(map[string]struct{}, len(a)+len(b))
	union := make([]any, 0, len(a)+len(b))

	for _, item := range a {
		key := fmt.Sprintf("%v", item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		union = append(union, item)
	}

	added := false
	for _, item := range b {
		key := fmt.Sprintf("%v", item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		union = append(union, item)
		added = true
	}

	return union, added
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case bool:
		return !v
	case float64:
		return v == 0
	case int:
		return v == 0
	}
	return false
}
