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
	"fmt"

	"github.com/danbrodsky/eos/pkg/memarch"
)

// Allocator is used to provide page table frames.
type Allocator interface {
	// NewTable returns a new zero-filled table, one frame in size.
	NewTable() (*PTEs, error)

	// PhysicalFor gives the physical address of a table previously
	// returned by NewTable.
	PhysicalFor(ptes *PTEs) memarch.Addr

	// LookupTable returns the table at the given physical address. The
	// address must have come from NewTable via PhysicalFor or a branch
	// entry; anything else is a corrupt page table.
	LookupTable(physical memarch.Addr) *PTEs

	// FreeTable releases the table frame at the given physical
	// address.
	FreeTable(physical memarch.Addr) error
}

// RuntimeAllocator hands out tables from the Go heap under synthetic
// physical addresses. It exists so the walk logic can be exercised
// without standing up a physical heap; the boot path uses
// FrameAllocator instead.
type RuntimeAllocator struct {
	tables   map[memarch.Addr]*PTEs
	physical map[*PTEs]memarch.Addr
	next     memarch.Addr

	// freed counts FreeTable calls, for balance checks.
	freed int
}

// runtimeAllocatorBase keeps synthetic table addresses visually apart
// from the low addresses tests tend to map.
const runtimeAllocatorBase = memarch.Addr(0x40000000)

// NewRuntimeAllocator returns an empty RuntimeAllocator.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{
		tables:   make(map[memarch.Addr]*PTEs),
		physical: make(map[*PTEs]memarch.Addr),
		next:     runtimeAllocatorBase,
	}
}

// NewTable implements Allocator.NewTable.
func (r *RuntimeAllocator) NewTable() (*PTEs, error) {
	ptes := new(PTEs)
	addr := r.next
	r.next += memarch.PageSize
	r.tables[addr] = ptes
	r.physical[ptes] = addr
	return ptes, nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) memarch.Addr {
	addr, ok := r.physical[ptes]
	if !ok {
		panic("pagetables: PhysicalFor on unknown table")
	}
	return addr
}

// LookupTable implements Allocator.LookupTable.
func (r *RuntimeAllocator) LookupTable(physical memarch.Addr) *PTEs {
	ptes, ok := r.tables[physical]
	if !ok {
		panic(fmt.Sprintf("pagetables: no table at %#x", uint64(physical)))
	}
	return ptes
}

// FreeTable implements Allocator.FreeTable.
func (r *RuntimeAllocator) FreeTable(physical memarch.Addr) error {
	ptes, ok := r.tables[physical]
	if !ok {
		return fmt.Errorf("freeing unknown table at %#x", uint64(physical))
	}
	delete(r.tables, physical)
	delete(r.physical, ptes)
	r.freed++
	return nil
}

// LiveTables returns the number of tables allocated and not yet freed.
func (r *RuntimeAllocator) LiveTables() int {
	return len(r.tables)
}

// FreedTables returns the number of FreeTable calls so far.
func (r *RuntimeAllocator) FreedTables() int {
	return r.freed
}
