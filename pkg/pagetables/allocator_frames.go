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

package pagetables

import (
	"unsafe"

	"github.com/danbrodsky/eos/pkg/frames"
	"github.com/danbrodsky/eos/pkg/memarch"
)

// FrameAllocator backs page tables with ordinary physical frames from
// a frames.Allocator. Table pages are accounted for uniformly with
// every other allocation: the frame allocator does not know or care
// that a frame holds a table.
//
// Tables are direct views of the heap bytes, so PhysicalFor and
// LookupTable are exact address arithmetic, not bookkeeping.
type FrameAllocator struct {
	frames *frames.Allocator
}

// NewFrameAllocator returns a FrameAllocator drawing from f.
func NewFrameAllocator(f *frames.Allocator) *FrameAllocator {
	return &FrameAllocator{frames: f}
}

// NewTable implements Allocator.NewTable. The frame arrives
// zero-filled from Zalloc, which is what makes every entry of a fresh
// table absent.
func (a *FrameAllocator) NewTable() (*PTEs, error) {
	addr, err := a.frames.Zalloc(1)
	if err != nil {
		return nil, err
	}
	return a.LookupTable(addr), nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *FrameAllocator) PhysicalFor(ptes *PTEs) memarch.Addr {
	heap := a.frames.Bytes(a.frames.Base(), 1)
	off := uintptr(unsafe.Pointer(ptes)) - uintptr(unsafe.Pointer(&heap[0]))
	return a.frames.Base() + memarch.Addr(off)
}

// LookupTable implements Allocator.LookupTable.
func (a *FrameAllocator) LookupTable(physical memarch.Addr) *PTEs {
	b := a.frames.Bytes(physical, memarch.PageSize)
	return (*PTEs)(unsafe.Pointer(&b[0]))
}

// FreeTable implements Allocator.FreeTable.
func (a *FrameAllocator) FreeTable(physical memarch.Addr) error {
	return a.frames.Dealloc(physical)
}
