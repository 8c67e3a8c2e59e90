package pagelist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/pagelist"
	"vmcore/internal/pfn"
)

func lockedFrame(tbl *pfn.Table, id uint64) *pfn.Frame {
	f := tbl.Get(id)
	f.Lock.Acquire()
	return f
}

func TestInsertTailAndPopHeadFIFO(t *testing.T) {
	tbl := pfn.NewTable(4)
	l := pagelist.New()
	require.True(t, l.Empty())

	for id := uint64(1); id <= 3; id++ {
		f := lockedFrame(tbl, id)
		l.InsertTail(f)
		f.Lock.Release()
	}
	require.Equal(t, 3, l.Size())

	for id := uint64(1); id <= 3; id++ {
		got, ok := l.PopHead()
		require.True(t, ok)
		require.Equal(t, id, got.ID())
		got.Lock.Release()
	}
	require.True(t, l.Empty())
	_, ok := l.PopHead()
	require.False(t, ok)
}

func TestRemoveInMiddle(t *testing.T) {
	tbl := pfn.NewTable(4)
	l := pagelist.New()
	frames := make([]*pfn.Frame, 3)
	for i, id := range []uint64{1, 2, 3} {
		f := lockedFrame(tbl, id)
		l.InsertTail(f)
		frames[i] = f
	}
	frames[0].Lock.Release()
	frames[2].Lock.Release()
	// middle element is locked throughout, per the soft-fault contract.
	l.RemoveInMiddle(frames[1])
	frames[1].Lock.Release()
	require.Equal(t, 2, l.Size())

	remaining := []uint64{}
	for {
		got, ok := l.PopHead()
		if !ok {
			break
		}
		remaining = append(remaining, got.ID())
		got.Lock.Release()
	}
	require.Equal(t, []uint64{1, 3}, remaining)
}

func TestRemoveBatchFromHeadPartialAndFull(t *testing.T) {
	tbl := pfn.NewTable(8)
	l := pagelist.New()
	for id := uint64(1); id <= 5; id++ {
		f := lockedFrame(tbl, id)
		l.InsertTail(f)
		f.Lock.Release()
	}

	dst := make([]*pfn.Frame, 10)
	n := l.RemoveBatchFromHead(dst, 3, 0)
	require.Equal(t, 3, n)
	require.Equal(t, 2, l.Size())
	for i := 0; i < n; i++ {
		require.EqualValues(t, i+1, dst[i].ID())
		dst[i].Lock.Release()
	}

	n = l.RemoveBatchFromHead(dst, 10, 0)
	require.Equal(t, 2, n, "capped by remaining list contents, not requested capacity")
	for i := 0; i < n; i++ {
		dst[i].Lock.Release()
	}
	require.True(t, l.Empty())

	require.Equal(t, 0, l.RemoveBatchFromHead(dst, 5, 0), "empty list returns 0 and releases all locks")
}

func TestSpliceTailMovesEverythingAndEmptiesSource(t *testing.T) {
	tbl := pfn.NewTable(8)
	dst := pagelist.New()
	src := pagelist.New()

	for id := uint64(1); id <= 2; id++ {
		f := lockedFrame(tbl, id)
		dst.InsertTail(f)
		f.Lock.Release()
	}
	for id := uint64(3); id <= 5; id++ {
		f := lockedFrame(tbl, id)
		src.InsertTail(f)
		f.Lock.Release()
	}

	dst.SpliceTail(src)
	require.True(t, src.Empty())
	require.Equal(t, 5, dst.Size())

	var order []uint64
	for {
		got, ok := dst.PopHead()
		if !ok {
			break
		}
		order = append(order, got.ID())
		got.Lock.Release()
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, order)
}
