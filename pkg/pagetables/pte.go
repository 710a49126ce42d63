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
	"github.com/danbrodsky/eos/pkg/bits"
	"github.com/danbrodsky/eos/pkg/memarch"
)

// Sv39 translation geometry.
const (
	// numLevels is the number of table levels. Level 2 is the root,
	// level 0 holds 4 KiB leaves.
	numLevels = 3

	// entriesPerTable is the number of entries in one table. One table
	// is exactly one page.
	entriesPerTable = 512

	// vpnBits is the width of one virtual page number field.
	vpnBits = 9

	// vpnMask selects one virtual page number field after shifting.
	vpnMask = entriesPerTable - 1

	// maxVirtual is the first virtual address beyond the 39-bit
	// translated range.
	maxVirtual = memarch.Addr(1) << (memarch.PageShift + numLevels*vpnBits)
)

// Entry flag bits, matching the hardware format exactly.
const (
	pteValid    = uint64(1) << 0
	pteRead     = uint64(1) << 1
	pteWrite    = uint64(1) << 2
	pteExecute  = uint64(1) << 3
	pteUser     = uint64(1) << 4
	pteGlobal   = uint64(1) << 5
	pteAccessed = uint64(1) << 6
	pteDirty    = uint64(1) << 7

	// pteAccessMask covers the bits whose presence makes an entry a
	// leaf.
	pteAccessMask = pteRead | pteWrite | pteExecute

	// pteFlagsMask covers all flag bits plus the two reserved-for-
	// software bits below the physical page number field.
	pteFlagsMask = uint64(1)<<10 - 1

	// ptePPNShift is the bit offset of the physical page number field.
	ptePPNShift = 10
)

// Physical page number field geometry: PPN[0] and PPN[1] are 9 bits,
// PPN[2] is 26 bits.
const (
	ppn0Shift = ptePPNShift
	ppn1Shift = ptePPNShift + vpnBits
	ppn2Shift = ptePPNShift + 2*vpnBits
	ppn2Mask  = uint64(1)<<26 - 1
)

// MapOpts are the options to Map.
type MapOpts struct {
	// AccessType defines the permission bits of the leaf. At least one
	// access must be set.
	AccessType memarch.AccessType

	// User marks the mapping accessible in user mode.
	User bool

	// Global marks the mapping present in all address spaces.
	Global bool
}

// PTE is a page table entry.
type PTE uint64

// PTEs is one full level of a page table: 512 entries occupying
// exactly one physical frame.
type PTEs [entriesPerTable]PTE

// Valid returns true iff this entry is present.
func (p PTE) Valid() bool {
	return bits.IsAnyOn64(uint64(p), pteValid)
}

// Leaf returns true iff this entry terminates translation. Any access
// bit makes an entry a leaf; a valid entry with no access bits is a
// branch to the next level.
func (p PTE) Leaf() bool {
	return bits.IsAnyOn64(uint64(p), pteAccessMask)
}

// Address extracts the physical address held in the entry's page
// number field. For a branch this is the next level table's frame; for
// a leaf it is the mapped physical page.
func (p PTE) Address() memarch.Addr {
	return memarch.Addr(uint64(p)>>ptePPNShift) << memarch.PageShift
}

// Opts returns the access options encoded in a leaf entry.
func (p PTE) Opts() MapOpts {
	return MapOpts{
		AccessType: memarch.AccessType{
			Read:    bits.IsAnyOn64(uint64(p), pteRead),
			Write:   bits.IsAnyOn64(uint64(p), pteWrite),
			Execute: bits.IsAnyOn64(uint64(p), pteExecute),
		},
		User:   bits.IsAnyOn64(uint64(p), pteUser),
		Global: bits.IsAnyOn64(uint64(p), pteGlobal),
	}
}

// Set installs a leaf translating to phys with the given options. The
// page number fields are assembled per component: PPN[0] and PPN[1]
// are 9 bits wide, PPN[2] takes the remaining 26 high bits.
func (p *PTE) Set(phys memarch.Addr, opts MapOpts) {
	pa := uint64(phys)
	v := (pa>>memarch.PageShift&vpnMask)<<ppn0Shift |
		(pa>>(memarch.PageShift+vpnBits)&vpnMask)<<ppn1Shift |
		(pa>>(memarch.PageShift+2*vpnBits)&ppn2Mask)<<ppn2Shift |
		pteValid
	if opts.AccessType.Read {
		v |= pteRead
	}
	if opts.AccessType.Write {
		v |= pteWrite
	}
	if opts.AccessType.Execute {
		v |= pteExecute
	}
	if opts.User {
		v |= pteUser
	}
	if opts.Global {
		v |= pteGlobal
	}
	*p = PTE(v)
}

// setPageTable installs a branch pointing at the next level table. No
// access bits are set; valid-without-access is the hardware branch
// encoding.
func (p *PTE) setPageTable(phys memarch.Addr) {
	*p = PTE(uint64(phys)>>memarch.PageShift<<ptePPNShift | pteValid)
}

// Clear resets the entry to the absent state.
func (p *PTE) Clear() {
	*p = 0
}

// vpns splits a virtual address into its per-level virtual page
// numbers: vpn[0] from bits [20:12], vpn[1] from [29:21], vpn[2] from
// [38:30].
func vpns(vaddr memarch.Addr) [numLevels]uint64 {
	va := uint64(vaddr)
	return [numLevels]uint64{
		va >> memarch.PageShift & vpnMask,
		va >> (memarch.PageShift + vpnBits) & vpnMask,
		va >> (memarch.PageShift + 2*vpnBits) & vpnMask,
	}
}
