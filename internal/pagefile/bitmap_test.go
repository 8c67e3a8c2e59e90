package pagefile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/pagefile"
	"vmcore/internal/vmdefs"
)

func TestSlotZeroReservedAtInit(t *testing.T) {
	b := pagefile.NewBitmap(128)
	require.Equal(t, 1, b.Popcount())
	require.EqualValues(t, 127, b.EmptySlots())
	require.Panics(t, func() { b.Clear(0) })
}

func TestSetClearAssertions(t *testing.T) {
	b := pagefile.NewBitmap(128)
	b.Set(5)
	require.Panics(t, func() { b.Set(5) }, "double set must assert")
	b.Clear(5)
	require.Panics(t, func() { b.Clear(5) }, "double clear must assert")
}

func TestStashSlotsFillsTargetAndPopcountInvariant(t *testing.T) {
	b := pagefile.NewBitmap(256)
	var stash pagefile.Stash
	b.StashSlots(&stash, 10)
	require.GreaterOrEqual(t, stash.Len(), 10)
	require.Equal(t, int(b.NumSlots())-int(b.EmptySlots()), b.Popcount())

	seen := map[uint64]bool{}
	for stash.Len() > 0 {
		slot := stash.PopStashed()
		require.NotZero(t, slot, "slot 0 must never be handed out")
		require.False(t, seen[slot], "stash must not contain duplicate slots")
		seen[slot] = true
	}
}

func TestStashSlotsAdvancesLastCheckedRowAcrossCalls(t *testing.T) {
	b := pagefile.NewBitmap(256)
	var first, second pagefile.Stash
	b.StashSlots(&first, 64)
	b.StashSlots(&second, 64)

	firstSet := map[uint64]bool{}
	for first.Len() > 0 {
		firstSet[first.PopStashed()] = true
	}
	for second.Len() > 0 {
		slot := second.PopStashed()
		require.False(t, firstSet[slot], "fairness rotation should avoid immediately re-handing out the same row")
	}
}

func TestPopStashedEmptyPanics(t *testing.T) {
	var s pagefile.Stash
	require.Panics(t, func() { s.PopStashed() })
}

func TestPageFileBytesWindowAndSlotZeroForbidden(t *testing.T) {
	b := pagefile.NewBitmap(16)
	require.Panics(t, func() { b.PageFileBytes(0) })

	buf := b.PageFileBytes(3)
	require.Len(t, buf, vmdefs.PageSize)
	buf[0] = 0xAB
	require.Equal(t, byte(0xAB), b.PageFileBytes(3)[0], "window must alias the same backing buffer")
}
