// Copyright 2026 The EOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frames

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danbrodsky/eos/pkg/memarch"
)

const testBase = memarch.Addr(0x80000000)

// newTestAllocator builds an allocator over the given number of heap
// frames, descriptor array included.
func newTestAllocator(t *testing.T, heapFrames uint64) *Allocator {
	t.Helper()
	a, err := New(testBase, heapFrames*memarch.PageSize)
	if err != nil {
		t.Fatalf("New(%#x, %d frames): %v", uint64(testBase), heapFrames, err)
	}
	return a
}

func TestNewRejectsBadGeometry(t *testing.T) {
	for _, tc := range []struct {
		name string
		base memarch.Addr
		size uint64
	}{
		{"unaligned base", testBase + 0x100, 8 * memarch.PageSize},
		{"zero size", testBase, 0},
		{"ragged size", testBase, memarch.PageSize + 1},
		{"descriptors only", testBase, memarch.PageSize},
	} {
		if _, err := New(tc.base, tc.size); err == nil {
			t.Errorf("%s: New(%#x, %#x) succeeded, wanted error", tc.name, uint64(tc.base), tc.size)
		}
	}
}

func TestLayout(t *testing.T) {
	a := newTestAllocator(t, 8)
	// 8 descriptor bytes round up to one full page.
	if got, want := a.AllocStart(), testBase+memarch.PageSize; got != want {
		t.Errorf("AllocStart: got %#x, wanted %#x", uint64(got), uint64(want))
	}
	if got, want := a.Frames(), uint64(8); got != want {
		t.Errorf("Frames: got %d, wanted %d", got, want)
	}
	if got, want := a.FreeFrames(), uint64(7); got != want {
		t.Errorf("FreeFrames: got %d, wanted %d", got, want)
	}
}

func TestFirstFitReuse(t *testing.T) {
	a := newTestAllocator(t, 8)

	var addrs [3]memarch.Addr
	for i := range addrs {
		addr, err := a.Alloc(1)
		if err != nil {
			t.Fatalf("Alloc(1) #%d: %v", i, err)
		}
		addrs[i] = addr
	}
	for i := 0; i < len(addrs); i++ {
		for j := i + 1; j < len(addrs); j++ {
			if addrs[i] == addrs[j] {
				t.Fatalf("Alloc returned %#x twice", uint64(addrs[i]))
			}
		}
	}

	if err := a.Dealloc(addrs[1]); err != nil {
		t.Fatalf("Dealloc(%#x): %v", uint64(addrs[1]), err)
	}
	addr, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc(1) after free: %v", err)
	}
	if addr != addrs[1] {
		t.Errorf("first-fit: got %#x, wanted freed slot %#x", uint64(addr), uint64(addrs[1]))
	}
}

func TestFirstFitSkipsShortRuns(t *testing.T) {
	a := newTestAllocator(t, 16)

	first, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc(1): %v", err)
	}
	second, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc(1): %v", err)
	}
	if err := a.Dealloc(first); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}

	// The single free frame at the bottom cannot satisfy a two-frame
	// run; the scan must land past the second allocation.
	addr, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("Alloc(2): %v", err)
	}
	if want := second + memarch.PageSize; addr != want {
		t.Errorf("Alloc(2): got %#x, wanted %#x", uint64(addr), uint64(want))
	}
}

func TestRoundTripRestoresDescriptors(t *testing.T) {
	a := newTestAllocator(t, 16)
	before := a.FreeFrames()

	for _, n := range []uint64{1, 2, 5} {
		addr, err := a.Alloc(n)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", n, err)
		}
		if err := a.Dealloc(addr); err != nil {
			t.Fatalf("Dealloc(%#x): %v", uint64(addr), err)
		}
		if got := a.FreeFrames(); got != before {
			t.Errorf("after Alloc(%d)/Dealloc round trip: %d free frames, wanted %d", n, got, before)
		}
		if runs := a.Runs(); len(runs) != 0 {
			t.Errorf("after round trip: %d live runs, wanted none", len(runs))
		}
	}
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a := newTestAllocator(t, 16)

	type span struct{ start, end memarch.Addr }
	var spans []span
	for _, n := range []uint64{3, 1, 4, 2} {
		addr, err := a.Alloc(n)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", n, err)
		}
		spans = append(spans, span{addr, addr + memarch.Addr(n*memarch.PageSize)})
	}
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				t.Errorf("allocations overlap: [%#x, %#x) and [%#x, %#x)",
					uint64(spans[i].start), uint64(spans[i].end),
					uint64(spans[j].start), uint64(spans[j].end))
			}
		}
	}
}

func TestZallocZeroFills(t *testing.T) {
	a := newTestAllocator(t, 8)

	// Dirty a run, free it, and take it back with Zalloc.
	addr, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("Alloc(2): %v", err)
	}
	b := a.Bytes(addr, 2*memarch.PageSize)
	for i := range b {
		b[i] = 0xa5
	}
	if err := a.Dealloc(addr); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}

	zaddr, err := a.Zalloc(2)
	if err != nil {
		t.Fatalf("Zalloc(2): %v", err)
	}
	if zaddr != addr {
		t.Fatalf("Zalloc: got %#x, wanted refilled run %#x", uint64(zaddr), uint64(addr))
	}
	for i, v := range a.Bytes(zaddr, 2*memarch.PageSize) {
		if v != 0 {
			t.Fatalf("Zalloc region byte %d is %#x, wanted zero", i, v)
		}
	}
}

func TestExhaustion(t *testing.T) {
	a := newTestAllocator(t, 8)
	free := a.FreeFrames()

	if _, err := a.Alloc(free + 1); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Alloc(%d): got %v, wanted ErrOutOfMemory", free+1, err)
	}
	if got := a.FreeFrames(); got != free {
		t.Errorf("failed Alloc changed state: %d free frames, wanted %d", got, free)
	}

	// Exact fit still works, and the very next request fails.
	if _, err := a.Alloc(free); err != nil {
		t.Fatalf("Alloc(%d): %v", free, err)
	}
	if _, err := a.Alloc(1); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("Alloc(1) on full heap: got %v, wanted ErrOutOfMemory", err)
	}
}

func TestDeallocOutOfRange(t *testing.T) {
	a := newTestAllocator(t, 8)
	for _, addr := range []memarch.Addr{
		0,
		testBase, // descriptor page, below AllocStart
		testBase + memarch.Addr(a.Size()),
	} {
		if err := a.Dealloc(addr); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Dealloc(%#x): got %v, wanted ErrOutOfRange", uint64(addr), err)
		}
	}
}

func TestDoubleFree(t *testing.T) {
	a := newTestAllocator(t, 8)
	addr, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("Alloc(2): %v", err)
	}
	if err := a.Dealloc(addr); err != nil {
		t.Fatalf("first Dealloc: %v", err)
	}
	if err := a.Dealloc(addr); !errors.Is(err, ErrDoubleFree) {
		t.Errorf("second Dealloc: got %v, wanted ErrDoubleFree", err)
	}
}

func TestRuns(t *testing.T) {
	a := newTestAllocator(t, 16)

	a1, err := a.Alloc(2)
	if err != nil {
		t.Fatalf("Alloc(2): %v", err)
	}
	a2, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc(1): %v", err)
	}
	a3, err := a.Alloc(3)
	if err != nil {
		t.Fatalf("Alloc(3): %v", err)
	}
	if err := a.Dealloc(a2); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}

	want := []Run{
		{Start: a1, End: a1 + 2*memarch.PageSize - 1, Pages: 2},
		{Start: a3, End: a3 + 3*memarch.PageSize - 1, Pages: 3},
	}
	if diff := cmp.Diff(want, a.Runs()); diff != "" {
		t.Errorf("Runs() mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReport(t *testing.T) {
	a := newTestAllocator(t, 8)
	if _, err := a.Alloc(2); err != nil {
		t.Fatalf("Alloc(2): %v", err)
	}

	var buf bytes.Buffer
	if err := a.WriteReport(&buf); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"PAGE ALLOCATION TABLE",
		"2 page(s)",
		"Allocated:     2 pages",
		"Free     :     5 pages",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestIndependentInstances(t *testing.T) {
	a := newTestAllocator(t, 8)
	b := newTestAllocator(t, 8)

	if _, err := a.Alloc(3); err != nil {
		t.Fatalf("Alloc(3): %v", err)
	}
	if got, want := b.FreeFrames(), uint64(7); got != want {
		t.Errorf("second allocator sees %d free frames, wanted %d", got, want)
	}
}
