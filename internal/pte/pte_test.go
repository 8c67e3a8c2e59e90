package pte_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/pte"
)

func TestZeroedIsInitialForm(t *testing.T) {
	var e pte.Entry
	require.Equal(t, pte.FormZeroed, e.Classify())
	_, ok := e.Frame()
	require.False(t, ok)
}

func TestValidTransitionOnDiskRoundTrip(t *testing.T) {
	var e pte.Entry

	e.SetValid(7)
	require.Equal(t, pte.FormValid, e.Classify())
	frame, ok := e.Frame()
	require.True(t, ok)
	require.EqualValues(t, 7, frame)

	e.SetTransition()
	require.Equal(t, pte.FormTransition, e.Classify())
	frame, ok = e.Frame()
	require.True(t, ok)
	require.EqualValues(t, 7, frame)

	e.SetOnDisk(42)
	require.Equal(t, pte.FormOnDisk, e.Classify())
	slot, ok := e.DiskSlot()
	require.True(t, ok)
	require.EqualValues(t, 42, slot)

	e.SetValid(9)
	require.Equal(t, pte.FormValid, e.Classify())
}

func TestIllegalTransitionsPanic(t *testing.T) {
	var e pte.Entry
	require.Panics(t, func() { e.SetTransition() }, "transition from zeroed is invalid")

	e.SetValid(1)
	require.Panics(t, func() { e.SetOnDisk(1) }, "on-disk requires transition, not valid")

	e.SetTransition()
	require.Panics(t, func() { e.SetValid(0) }, "frame number 0 is reserved")
	require.Panics(t, func() { e.SetOnDisk(0) }, "disk slot 0 is reserved")
}

func TestTableLookupBoundaries(t *testing.T) {
	const pages = 16
	tbl := pte.NewTable(0x1000, pages)

	idx, ok := tbl.Lookup(0x1000)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	lastVA := tbl.VA(pages - 1)
	idx, ok = tbl.Lookup(lastVA)
	require.True(t, ok)
	require.Equal(t, pages-1, idx)

	_, ok = tbl.Lookup(lastVA + 0x1000)
	require.False(t, ok, "one page beyond the span is out of range")

	_, ok = tbl.Lookup(0x0fff)
	require.False(t, ok, "below base_va is out of range")
}
