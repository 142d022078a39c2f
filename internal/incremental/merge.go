package incremental

import "github.com/samber/lo"

// MergeResult describes how a fetched window was folded into a stored sequence.
type MergeResult[T any] struct {
	// Rows is stored[:Boundary] followed by the window.
	Rows []T
	// Boundary is the stored position of the oldest window item that was
	// already stored, or 0 when the window shares nothing with stored.
	Boundary int
	// Missing lists ids from stored[Boundary:] that the window no longer contains.
	Missing []string
	// Added lists window ids that were not in stored[Boundary:].
	Added []string
}

// Replaced reports whether the replaced tail changed membership.
func (r MergeResult[T]) Replaced() bool {
	return len(r.Missing) > 0 || len(r.Added) > 0
}

// Merge folds window (oldest to newest) into stored (oldest to newest).
// Everything before the boundary is kept untouched and everything from the
// boundary on is replaced by window. Items of the old tail absent from the
// window are reported in Missing, never resurrected.
func Merge[T any](stored, window []T, key func(T) string) MergeResult[T] {
	positions := make(map[string]int, len(stored))
	for i, item := range stored {
		if k := key(item); k != "" {
			if _, seen := positions[k]; !seen {
				positions[k] = i
			}
		}
	}

	boundary := 0
	for _, item := range window {
		if pos, ok := positions[key(item)]; ok {
			boundary = pos
			break
		}
	}

	rows := make([]T, 0, boundary+len(window))
	rows = append(rows, stored[:boundary]...)
	rows = append(rows, window...)

	tailKeys := lo.Compact(lo.Map(stored[boundary:], func(item T, _ int) string { return key(item) }))
	windowKeys := lo.Compact(lo.Map(window, func(item T, _ int) string { return key(item) }))
	missing, added := lo.Difference(tailKeys, windowKeys)

	return MergeResult[T]{
		Rows:     rows,
		Boundary: boundary,
		Missing:  missing,
		Added:    added,
	}
}

// MergeIDs is Merge over plain id sequences.
func MergeIDs(stored, window []string) MergeResult[string] {
	return Merge(stored, window, func(id string) string { return id })
}
