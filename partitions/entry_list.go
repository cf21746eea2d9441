package partitions

import "github.com/notargets/DGBalance/mesh"

// invalidIndex terminates element lists and marks missing child nodes
const invalidIndex = -1

// Entry links one element into exactly one ElemList at a time
type Entry struct {
	Elem       mesh.ElementID
	Prev, Next int
}

// EntryArena is the shared pool of entries of one bisection run. Entries
// are never removed individually; Clear drops all of them at once.
type EntryArena struct {
	entries []Entry
}

func (a *EntryArena) Reserve(n int) {
	if cap(a.entries) < n {
		entries := make([]Entry, len(a.entries), n)
		copy(entries, a.entries)
		a.entries = entries
	}
}

// Add appends an unlinked entry and returns its index
func (a *EntryArena) Add(e mesh.ElementID) int {
	a.entries = append(a.entries, Entry{Elem: e, Prev: invalidIndex, Next: invalidIndex})
	return len(a.entries) - 1
}

func (a *EntryArena) Len() int { return len(a.entries) }

func (a *EntryArena) Clear() { a.entries = a.entries[:0] }

// ElemList is a doubly linked view over entries of an EntryArena. Several
// disjoint lists may share one arena. Adding an entry relinks it, so an
// entry always belongs to the list it was added to last.
type ElemList struct {
	arena       *EntryArena
	first, last int
	size        int
}

// NewElemList returns an empty list over arena
func NewElemList(arena *EntryArena) ElemList {
	return ElemList{arena: arena, first: invalidIndex, last: invalidIndex}
}

// Add appends entry i. The caller has to fetch Next(i) of the list the
// entry is currently linked into before adding it elsewhere.
func (l *ElemList) Add(i int) {
	entries := l.arena.entries
	entries[i].Prev = l.last
	entries[i].Next = invalidIndex
	if l.last == invalidIndex {
		l.first = i
	} else {
		entries[l.last].Next = i
	}
	l.last = i
	l.size++
}

func (l *ElemList) First() int { return l.first }

func (l *ElemList) Last() int { return l.last }

func (l *ElemList) Next(i int) int { return l.arena.entries[i].Next }

func (l *ElemList) Elem(i int) mesh.ElementID { return l.arena.entries[i].Elem }

func (l *ElemList) Size() int { return l.size }

func (l *ElemList) Empty() bool { return l.first == invalidIndex }

// Clear forgets all entries. The entries themselves stay in the arena.
func (l *ElemList) Clear() {
	l.first, l.last, l.size = invalidIndex, invalidIndex, 0
}

// Arena returns the arena the list links into
func (l *ElemList) Arena() *EntryArena { return l.arena }

// Elements returns the elements of the list in iteration order
func (l *ElemList) Elements() []mesh.ElementID {
	out := make([]mesh.ElementID, 0, l.size)
	for i := l.First(); i != invalidIndex; i = l.Next(i) {
		out = append(out, l.Elem(i))
	}
	return out
}
