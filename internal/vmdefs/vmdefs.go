// Package vmdefs holds the small set of constants shared by every layer of
// the simulator (page geometry, payload widths) so that pte, pfn, pagefile,
// and frame don't need to import one another just to agree on PageSize.
package vmdefs

const (
	// PageShift is the base-2 exponent of PageSize.
	PageShift = 12
	// PageSize is the size in bytes of a single simulated page. Fixed per
	// spec.md's Non-goals (no page-size variation).
	PageSize = 1 << PageShift

	// PayloadBits is the width, in bits, of a PTE's frame-number/disk-slot
	// payload field (spec.md §3).
	PayloadBits = 40
	// PayloadMask masks the payload field of a 64-bit PTE word.
	PayloadMask = (uint64(1) << PayloadBits) - 1
)
