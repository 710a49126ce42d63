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

// Package frames implements the boot-time physical page frame
// allocator.
//
// The allocator manages a contiguous heap region. The region's first
// bytes hold one descriptor per frame; usable frames begin at the next
// page boundary after the descriptor array:
//
//	[descriptor 0]
//	[descriptor 1]
//	...
//	[frame 0] <- AllocStart()
//	[frame 1] <- AllocStart() + PageSize
//	...
//	[end of heap]
//
// Allocation is first-fit over the descriptor array. A run of frames is
// recorded entirely in the descriptors: every frame of the run is
// marked taken and the final frame additionally carries the last mark,
// so Dealloc needs only the run's start address.
//
// An Allocator is not safe for concurrent use. It is built for the
// single-threaded boot path; later multi-hart callers must serialize
// externally.
package frames

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/danbrodsky/eos/pkg/bits"
	"github.com/danbrodsky/eos/pkg/memarch"
)

// Frame descriptor flag bits.
const (
	flagTaken = uint8(1) << 0
	flagLast  = uint8(1) << 1
)

var (
	// ErrOutOfMemory is returned by Alloc and Zalloc when no
	// sufficiently large run of free frames exists. It is recoverable:
	// the allocator state is unchanged.
	ErrOutOfMemory = errors.New("out of physical frames")

	// ErrOutOfRange is returned by Dealloc for an address outside the
	// managed frame range. The caller handed the allocator a pointer it
	// never produced; memory safety is already lost and boot code must
	// treat this as fatal.
	ErrOutOfRange = errors.New("address outside managed heap")

	// ErrDoubleFree is returned by Dealloc when the descriptor walk
	// reaches a free frame before one carrying the last mark. The run
	// was already freed or the descriptors are corrupt; boot code must
	// treat this as fatal.
	ErrDoubleFree = errors.New("possible double-free")
)

// Allocator hands out runs of physical page frames from a fixed heap
// region. The zero value is not usable; call New.
//
// The heap bytes themselves are owned by the Allocator (the host
// simulation of physical memory); Bytes exposes windows into them.
type Allocator struct {
	base       memarch.Addr
	size       uint64
	numFrames  uint64
	allocStart memarch.Addr

	// mem backs the whole heap region, descriptors included.
	// mem[0:numFrames] is the descriptor array; the frame at address
	// allocStart + i*PageSize lives at mem[allocStart-base+i*PageSize:].
	mem []byte
}

// New creates an allocator managing size bytes of physical memory
// starting at base. All descriptors start clear and the usable frame
// area begins at the first page boundary past the descriptor array.
//
// base must be page aligned and size a non-zero multiple of the page
// size large enough to hold the descriptor array plus at least one
// frame.
func New(base memarch.Addr, size uint64) (*Allocator, error) {
	if !base.IsPageAligned() {
		return nil, fmt.Errorf("heap base %#x is not page aligned", uint64(base))
	}
	if size == 0 || size%memarch.PageSize != 0 {
		return nil, fmt.Errorf("heap size %#x is not a non-zero multiple of the page size", size)
	}
	if _, ok := base.AddLength(size); !ok {
		return nil, fmt.Errorf("heap [%#x, +%#x) wraps the address space", uint64(base), size)
	}

	a := &Allocator{
		base:      base,
		size:      size,
		numFrames: size / memarch.PageSize,
		mem:       make([]byte, size),
	}

	// The descriptor array occupies the head of the region; frames
	// start at the next page boundary.
	a.allocStart = (base + memarch.Addr(a.numFrames)).MustRoundUp()
	if a.usableFrames() == 0 {
		return nil, fmt.Errorf("heap of %#x bytes leaves no usable frames after the descriptor array", size)
	}
	return a, nil
}

// usableFrames is the number of frames past the descriptor array.
func (a *Allocator) usableFrames() uint64 {
	return (uint64(a.base) + a.size - uint64(a.allocStart)) / memarch.PageSize
}

// Base returns the heap base address.
func (a *Allocator) Base() memarch.Addr { return a.base }

// Size returns the managed heap size in bytes.
func (a *Allocator) Size() uint64 { return a.size }

// Frames returns the total number of frames accounted for by the
// descriptor array.
func (a *Allocator) Frames() uint64 { return a.numFrames }

// AllocStart returns the address of the first usable frame. It is
// constant for the life of the Allocator.
func (a *Allocator) AllocStart() memarch.Addr { return a.allocStart }

// Contains returns true if addr falls inside the usable frame area.
func (a *Allocator) Contains(addr memarch.Addr) bool {
	return addr >= a.allocStart && addr < a.base+memarch.Addr(a.size)
}

// frameIndex returns the descriptor index owning addr. Contains must
// hold.
func (a *Allocator) frameIndex(addr memarch.Addr) uint64 {
	return uint64(addr-a.allocStart) / memarch.PageSize
}

// frameAddr is the inverse of frameIndex.
func (a *Allocator) frameAddr(index uint64) memarch.Addr {
	return a.allocStart + memarch.Addr(index*memarch.PageSize)
}

// descriptors returns the descriptor array at the head of the heap.
func (a *Allocator) descriptors() []byte {
	return a.mem[:a.numFrames]
}

// Alloc reserves a run of count contiguous frames and returns the
// address of the first. The scan is first-fit from the bottom of the
// heap. Returns ErrOutOfMemory if no run is free.
func (a *Allocator) Alloc(count uint64) (memarch.Addr, error) {
	if count == 0 {
		return 0, errors.New("zero-frame allocation")
	}
	desc := a.descriptors()
	usable := a.usableFrames()
	if count > usable {
		return 0, ErrOutOfMemory
	}
	for i := uint64(0); i <= usable-count; i++ {
		run := desc[i : i+count]
		free := true
		for _, d := range run {
			if bits.IsAnyOn8(d, flagTaken) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for j := range run {
			run[j] |= flagTaken
		}
		run[count-1] |= flagLast
		return a.frameAddr(i), nil
	}
	return 0, ErrOutOfMemory
}

// Zalloc is Alloc followed by zero-filling the entire run.
func (a *Allocator) Zalloc(count uint64) (memarch.Addr, error) {
	addr, err := a.Alloc(count)
	if err != nil {
		return 0, err
	}
	// Clear in machine words rather than bytes. Frame areas are page
	// aligned within mem, so the word view is aligned.
	b := a.Bytes(addr, count*memarch.PageSize)
	words := unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
	clear(words)
	return addr, nil
}

// Dealloc releases the run starting at addr, which must be the address
// previously returned by Alloc or Zalloc. Descriptors are cleared
// forward until the one carrying the last mark.
//
// Returns ErrOutOfRange if addr is outside the usable frame area and
// ErrDoubleFree if a free descriptor is reached before the last mark;
// both mean the caller's bookkeeping is corrupt and must halt boot.
func (a *Allocator) Dealloc(addr memarch.Addr) error {
	if !a.Contains(addr) {
		return fmt.Errorf("dealloc %#x: %w", uint64(addr), ErrOutOfRange)
	}
	desc := a.descriptors()
	i := a.frameIndex(addr)
	for ; i < a.usableFrames(); i++ {
		if !bits.IsAnyOn8(desc[i], flagTaken) {
			// Walked onto a free frame without seeing the last mark:
			// the run was never allocated or was already freed.
			return fmt.Errorf("dealloc %#x: %w", uint64(addr), ErrDoubleFree)
		}
		last := bits.IsAnyOn8(desc[i], flagLast)
		desc[i] = 0
		if last {
			return nil
		}
	}
	// Ran off the end of the descriptor array still inside a taken run.
	return fmt.Errorf("dealloc %#x: %w", uint64(addr), ErrDoubleFree)
}

// Bytes returns the heap bytes backing [addr, addr+length). It panics
// if the window falls outside the managed region; callers hold
// addresses produced by Alloc, so an out of range window is a bug.
func (a *Allocator) Bytes(addr memarch.Addr, length uint64) []byte {
	off := uint64(addr - a.base)
	if addr < a.base || off+length > a.size {
		panic(fmt.Sprintf("frames.Bytes(%#x, %#x): outside heap [%#x, +%#x)",
			uint64(addr), length, uint64(a.base), a.size))
	}
	return a.mem[off : off+length]
}

// FreeFrames returns the number of usable frames currently free.
func (a *Allocator) FreeFrames() uint64 {
	desc := a.descriptors()
	var free uint64
	for i := uint64(0); i < a.usableFrames(); i++ {
		if !bits.IsAnyOn8(desc[i], flagTaken) {
			free++
		}
	}
	return free
}
