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

// Package pagetables provides a three-level Sv39 page table built on a
// pluggable physical table allocator.
//
// A PageTables instance owns its intermediate tables: Map allocates
// them on demand and Unmap returns them to the allocator. It does not
// own the frames behind leaf mappings, nor the root table's frame
// beyond the instance's own lifetime; both belong to the callers that
// requested them.
//
// PageTables is not safe for concurrent use.
package pagetables

import (
	"errors"
	"fmt"

	"github.com/danbrodsky/eos/pkg/memarch"
)

var (
	// ErrNoAccess is returned by Map when the options carry no access
	// bits. A leaf without read, write or execute is always a caller
	// bug; boot code must treat this as fatal.
	ErrNoAccess = errors.New("mapping with no access bits")

	// ErrLeafConflict is returned by Map when the walk would descend
	// through an existing superpage leaf. The caller must unmap the
	// superpage first.
	ErrLeafConflict = errors.New("walk reached a superpage leaf")

	// ErrAddressRange is returned for virtual addresses beyond the
	// 39-bit translated range.
	ErrAddressRange = errors.New("virtual address outside translated range")
)

// PageTables is a set of Sv39 page tables rooted at a single level-2
// table.
type PageTables struct {
	// Allocator is used to allocate and look up table pages. It must
	// not be changed after New.
	Allocator Allocator

	// root is the level-2 table.
	root *PTEs

	// rootPhysical is the frame backing root; this is the value an
	// address-space switch would program into satp.
	rootPhysical memarch.Addr
}

// New returns new PageTables with a freshly allocated root table.
func New(a Allocator) (*PageTables, error) {
	root, err := a.NewTable()
	if err != nil {
		return nil, fmt.Errorf("allocating root table: %w", err)
	}
	return &PageTables{
		Allocator:    a,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
	}, nil
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() memarch.Addr {
	return p.rootPhysical
}

// Map installs a leaf translating vaddr to paddr with the given
// options. level selects the leaf's table level: 0 maps a 4 KiB page,
// 1 a 2 MiB superpage, 2 a 1 GiB superpage. Intermediate tables are
// allocated zero-filled on demand and installed as branches.
//
// Mapping over an existing leaf at the target level silently replaces
// it; the caller owns any TLB shootdown that replacement requires.
func (p *PageTables) Map(vaddr, paddr memarch.Addr, opts MapOpts, level int) error {
	if !opts.AccessType.Any() {
		return fmt.Errorf("map %#x: %w", uint64(vaddr), ErrNoAccess)
	}
	if level < 0 || level >= numLevels {
		return fmt.Errorf("map %#x: invalid leaf level %d", uint64(vaddr), level)
	}
	if vaddr >= maxVirtual {
		return fmt.Errorf("map %#x: %w", uint64(vaddr), ErrAddressRange)
	}

	vpn := vpns(vaddr)
	entry := &p.root[vpn[numLevels-1]]
	for i := numLevels - 2; i >= level; i-- {
		if entry.Valid() && entry.Leaf() {
			return fmt.Errorf("map %#x: %w", uint64(vaddr), ErrLeafConflict)
		}
		if !entry.Valid() {
			table, err := p.Allocator.NewTable()
			if err != nil {
				return fmt.Errorf("map %#x: allocating level %d table: %w", uint64(vaddr), i, err)
			}
			entry.setPageTable(p.Allocator.PhysicalFor(table))
		}
		entry = &p.Allocator.LookupTable(entry.Address())[vpn[i]]
	}
	entry.Set(paddr, opts)
	return nil
}

// Lookup translates vaddr. The second return value is false when no
// mapping exists; that absence is the page fault signal. Leaves at any
// level translate: a superpage leaf contributes the virtual address
// bits its level leaves unmapped.
func (p *PageTables) Lookup(vaddr memarch.Addr) (memarch.Addr, bool) {
	if vaddr >= maxVirtual {
		return 0, false
	}
	vpn := vpns(vaddr)
	entry := p.root[vpn[numLevels-1]]
	for i := numLevels - 1; i >= 0; i-- {
		if !entry.Valid() {
			return 0, false
		}
		if entry.Leaf() {
			offMask := memarch.Addr(1)<<(memarch.PageShift+vpnBits*i) - 1
			return entry.Address()&^offMask | vaddr&offMask, true
		}
		if i == 0 {
			// Valid non-leaf at the bottom level is a reserved
			// encoding; the hardware faults on it.
			return 0, false
		}
		entry = p.Allocator.LookupTable(entry.Address())[vpn[i-1]]
	}
	return 0, false
}

// Unmap tears down the two table levels below the root, returning
// every intermediate table frame to the allocator and clearing the
// root's branch entries. Frames referenced by leaves are not freed:
// they belong to whoever mapped them. The root table itself survives
// and the instance may be reused.
func (p *PageTables) Unmap() error {
	for i := range p.root {
		entry := &p.root[i]
		if !entry.Valid() || entry.Leaf() {
			// Absent, or a 1 GiB leaf with nothing below it to free.
			// Leaf frames stay with their owners.
			continue
		}
		childPhys := entry.Address()
		child := p.Allocator.LookupTable(childPhys)
		for j := range child {
			grand := child[j]
			if grand.Valid() && !grand.Leaf() {
				if err := p.Allocator.FreeTable(grand.Address()); err != nil {
					return fmt.Errorf("unmap: freeing level 0 table: %w", err)
				}
			}
		}
		if err := p.Allocator.FreeTable(childPhys); err != nil {
			return fmt.Errorf("unmap: freeing level 1 table: %w", err)
		}
		entry.Clear()
	}
	return nil
}

// IdentityMapRange maps every page in [start, end) to itself at 4 KiB
// granularity: start is rounded down to a page boundary and end up.
// Boot uses this to make the kernel image and heap visible under
// virtual addressing.
func (p *PageTables) IdentityMapRange(start, end memarch.Addr, opts MapOpts) error {
	if end < start {
		return fmt.Errorf("id map [%#x, %#x): range is inverted", uint64(start), uint64(end))
	}
	last, ok := end.RoundUp()
	if !ok {
		return fmt.Errorf("id map [%#x, %#x): %w", uint64(start), uint64(end), ErrAddressRange)
	}
	for addr := start.RoundDown(); addr < last; addr += memarch.PageSize {
		if err := p.Map(addr, addr, opts, 0); err != nil {
			return err
		}
	}
	return nil
}
