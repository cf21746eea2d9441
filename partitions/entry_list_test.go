package partitions

import (
	"github.com/notargets/DGBalance/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestElemListAppendAndIterate(t *testing.T) {
	var arena EntryArena
	arena.Reserve(4)
	l := NewElemList(&arena)
	assert.True(t, l.Empty())
	assert.Equal(t, invalidIndex, l.First())

	for _, e := range []mesh.ElementID{7, 3, 9} {
		l.Add(arena.Add(e))
	}
	assert.False(t, l.Empty())
	assert.Equal(t, 3, l.Size())
	assert.Equal(t, []mesh.ElementID{7, 3, 9}, l.Elements())
	assert.Equal(t, mesh.ElementID(9), l.Elem(l.Last()))
	assert.Equal(t, 3, arena.Len())
}

func TestElemListRelink(t *testing.T) {
	var arena EntryArena
	src := NewElemList(&arena)
	for e := mesh.ElementID(0); e < 6; e++ {
		src.Add(arena.Add(e))
	}

	even, odd := NewElemList(&arena), NewElemList(&arena)
	for i := src.First(); i != invalidIndex; {
		next := src.Next(i)
		if src.Elem(i)%2 == 0 {
			even.Add(i)
		} else {
			odd.Add(i)
		}
		i = next
	}
	src.Clear()

	assert.True(t, src.Empty())
	assert.Equal(t, 0, src.Size())
	assert.Equal(t, []mesh.ElementID{0, 2, 4}, even.Elements())
	assert.Equal(t, []mesh.ElementID{1, 3, 5}, odd.Elements())
	// relinking never copies entries
	assert.Equal(t, 6, arena.Len())

	moveAll(&odd, &even)
	assert.True(t, odd.Empty())
	assert.Equal(t, []mesh.ElementID{0, 2, 4, 1, 3, 5}, even.Elements())
}

func TestEntryArenaClear(t *testing.T) {
	var arena EntryArena
	l := NewElemList(&arena)
	l.Add(arena.Add(1))
	arena.Clear()
	assert.Equal(t, 0, arena.Len())

	l = NewElemList(&arena)
	l.Add(arena.Add(5))
	require.Equal(t, 1, l.Size())
	assert.Equal(t, mesh.ElementID(5), l.Elem(l.First()))
}
