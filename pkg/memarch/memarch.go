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

// Package memarch defines the machine memory parameters shared by the
// physical frame allocator and the Sv39 page table engine: the address
// type, page geometry, and access permissions.
package memarch

import "fmt"

const (
	// PageShift is the bit width of the in-page offset.
	PageShift = 12

	// PageSize is the machine page size in bytes.
	PageSize = 1 << PageShift

	// PageOffsetMask selects the in-page offset of an address.
	PageOffsetMask = PageSize - 1
)

// Addr represents a byte address, physical or virtual. The two are
// deliberately not distinguished by type: identity mapping and the
// frame allocator move values freely between the two roles.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page
// boundary.
func (v Addr) RoundDown() Addr {
	return v &^ Addr(PageOffsetMask)
}

// RoundUp returns the address rounded up to the nearest page boundary.
// ok is true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageOffsetMask).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is like RoundUp, but panics if rounding wraps. It is for
// use on addresses known to be far below the top of the address space.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("memarch.Addr(%#x).RoundUp() wraps", uint64(v)))
	}
	return addr
}

// PageOffset returns the offset of the address within its page.
func (v Addr) PageOffset() uint64 {
	return uint64(v) & PageOffsetMask
}

// IsPageAligned returns true if the address is a page boundary.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength returns v+length and whether the sum did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}
