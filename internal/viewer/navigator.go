// Package viewer implements index-based navigation over an already-loaded
// ordered sequence of memories. The navigator holds a single bounded index;
// every transition is pure, synchronous, and a no-op at the boundary.
package viewer

// Navigator tracks the current position within a sequence of known length.
// The zero value is an empty navigator.
type Navigator struct {
	index  int
	length int
}

// New returns a navigator over a sequence of the given length, positioned at
// the hint clamped into [0, length-1]. A non-positive length yields the empty
// state.
func New(length, hint int) Navigator {
	nav := Navigator{}
	nav.Reload(length, hint)
	return nav
}

// Reload replaces the underlying sequence length, repositioning at the
// clamped hint. Callers pass hint 0 when the reload carries no deep-link
// position.
func (n *Navigator) Reload(length, hint int) {
	if length <= 0 {
		n.length = 0
		n.index = 0
		return
	}
	n.length = length
	n.index = clamp(hint, 0, length-1)
}

// Empty reports whether the navigator has no entries to show.
func (n *Navigator) Empty() bool {
	return n.length == 0
}

// Len returns the length of the loaded sequence.
func (n *Navigator) Len() int {
	return n.length
}

// Current returns the current index. The boolean is false in the empty
// state, where no index is valid.
func (n *Navigator) Current() (int, bool) {
	if n.length == 0 {
		return 0, false
	}
	return n.index, true
}

// Next advances by one entry, staying put at the last index.
func (n *Navigator) Next() {
	if n.length == 0 {
		return
	}
	n.index = clamp(n.index+1, 0, n.length-1)
}

// Prev steps back by one entry, staying put at index zero.
func (n *Navigator) Prev() {
	if n.length == 0 {
		return
	}
	n.index = clamp(n.index-1, 0, n.length-1)
}

// JumpTo moves directly to the requested index, clamped into range.
func (n *Navigator) JumpTo(i int) {
	if n.length == 0 {
		return
	}
	n.index = clamp(i, 0, n.length-1)
}

// Peek returns the index immediately after the current one, used to
// opportunistically prefetch the following image. The boolean is false when
// no following entry exists.
func (n *Navigator) Peek() (int, bool) {
	if n.length == 0 || n.index+1 >= n.length {
		return 0, false
	}
	return n.index + 1, true
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
