package memories

import (
	"errors"
	"sort"
)

// ErrUnknownMemory indicates a reorder intent naming an entry that is not
// part of the current snapshot.
var ErrUnknownMemory = errors.New("memories: unknown memory in reorder intent")

// OrderAssignment binds one memory to its new display position. A bulk
// commit persists a set of assignments atomically.
type OrderAssignment struct {
	MemoryID string
	Order    int64
}

// ApplyMove computes the sequence resulting from a drag gesture: the moved
// entry leaves its source position and is reinserted at targetPosition, with
// every other entry keeping its relative order. The target is clamped into
// range; moving an entry onto itself returns the snapshot unchanged. The
// input slice is never mutated.
func ApplyMove(snapshot []Memory, movedID MemoryID, targetPosition int) ([]Memory, error) {
	source := -1
	for i, entry := range snapshot {
		if entry.MemoryID == movedID.String() {
			source = i
			break
		}
	}
	if source < 0 {
		return nil, ErrUnknownMemory
	}

	target := targetPosition
	if target < 0 {
		target = 0
	}
	if target > len(snapshot)-1 {
		target = len(snapshot) - 1
	}

	sequence := make([]Memory, len(snapshot))
	copy(sequence, snapshot)
	if source == target {
		return sequence, nil
	}

	moved := sequence[source]
	sequence = append(sequence[:source], sequence[source+1:]...)
	sequence = append(sequence[:target], append([]Memory{moved}, sequence[target:]...)...)
	return sequence, nil
}

// DenseAssignments maps the sequence onto order values 0..N-1, returning
// only the entries whose stored order differs from the computed one. An
// already-dense sequence yields no assignments, which makes both backfill
// and commit idempotent.
func DenseAssignments(sequence []Memory) []OrderAssignment {
	assignments := make([]OrderAssignment, 0, len(sequence))
	for i, entry := range sequence {
		position := int64(i)
		if entry.Order != nil && *entry.Order == position {
			continue
		}
		assignments = append(assignments, OrderAssignment{MemoryID: entry.MemoryID, Order: position})
	}
	return assignments
}

// NeedsBackfill reports whether any entry of the snapshot lacks an order
// value.
func NeedsBackfill(snapshot []Memory) bool {
	for _, entry := range snapshot {
		if entry.Order == nil {
			return true
		}
	}
	return false
}

// WithAssignments returns a copy of the sequence with the given assignments
// applied in place of the stored order values.
func WithAssignments(sequence []Memory, assignments []OrderAssignment) []Memory {
	byID := make(map[string]int64, len(assignments))
	for _, assignment := range assignments {
		byID[assignment.MemoryID] = assignment.Order
	}
	updated := make([]Memory, len(sequence))
	copy(updated, sequence)
	for i := range updated {
		if order, ok := byID[updated[i].MemoryID]; ok {
			value := order
			updated[i].Order = &value
		}
	}
	return updated
}

// SortSnapshot sorts by display order ascending with unordered entries last,
// breaking ties by creation time. The sort is stable so entries without any
// distinguishing key keep their arrival order.
func SortSnapshot(snapshot []Memory) {
	sort.SliceStable(snapshot, func(i, j int) bool {
		left, right := snapshot[i], snapshot[j]
		switch {
		case left.Order != nil && right.Order != nil:
			if *left.Order != *right.Order {
				return *left.Order < *right.Order
			}
			return left.CreatedAtMillis < right.CreatedAtMillis
		case left.Order != nil:
			return true
		case right.Order != nil:
			return false
		default:
			return left.CreatedAtMillis < right.CreatedAtMillis
		}
	})
}

// SortSnapshotByTakenAt sorts by capture date ascending. RFC 3339 strings
// compare correctly as text; entries without a capture date sort last and
// keep their arrival order.
func SortSnapshotByTakenAt(snapshot []Memory) {
	sort.SliceStable(snapshot, func(i, j int) bool {
		left, right := snapshot[i], snapshot[j]
		switch {
		case left.TakenAt != "" && right.TakenAt != "":
			return left.TakenAt < right.TakenAt
		case left.TakenAt != "":
			return true
		default:
			return false
		}
	})
}
