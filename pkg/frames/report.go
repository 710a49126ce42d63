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
	"fmt"
	"io"

	"github.com/danbrodsky/eos/pkg/bits"
	"github.com/danbrodsky/eos/pkg/memarch"
)

// Run describes one live allocation: the frames from Start up to and
// including the frame carrying the last mark.
type Run struct {
	// Start is the address of the run's first frame.
	Start memarch.Addr

	// End is the address of the last byte of the run's final frame.
	End memarch.Addr

	// Pages is the number of frames in the run.
	Pages uint64
}

// Runs enumerates every live allocation in address order. It does not
// mutate allocator state.
func (a *Allocator) Runs() []Run {
	desc := a.descriptors()
	var runs []Run
	usable := a.usableFrames()
	for i := uint64(0); i < usable; i++ {
		if !bits.IsAnyOn8(desc[i], flagTaken) {
			continue
		}
		start := i
		for i < usable-1 && !bits.IsAnyOn8(desc[i], flagLast) {
			i++
		}
		runs = append(runs, Run{
			Start: a.frameAddr(start),
			End:   a.frameAddr(i) + memarch.PageSize - 1,
			Pages: i - start + 1,
		})
	}
	return runs
}

// WriteReport writes a human-readable allocation table to w: the
// descriptor and frame area bounds, one line per live run, and the
// used/free totals. This is the allocator's only use of the diagnostic
// output collaborator.
func (a *Allocator) WriteReport(w io.Writer) error {
	metaEnd := a.base + memarch.Addr(a.numFrames)
	allocEnd := a.base + memarch.Addr(a.size)
	if _, err := fmt.Fprintf(w, "\nPAGE ALLOCATION TABLE\nMETA: %#x -> %#x\nPHYS: %#x -> %#x\n",
		uint64(a.base), uint64(metaEnd), uint64(a.allocStart), uint64(allocEnd)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~\n"); err != nil {
		return err
	}
	var used uint64
	for _, r := range a.Runs() {
		used += r.Pages
		if _, err := fmt.Fprintf(w, "%#x => %#x: %3d page(s).\n",
			uint64(r.Start), uint64(r.End), r.Pages); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~\n"); err != nil {
		return err
	}
	total := a.usableFrames()
	_, err := fmt.Fprintf(w, "Allocated: %5d pages (%9d bytes).\nFree     : %5d pages (%9d bytes).\n\n",
		used, used*memarch.PageSize, total-used, (total-used)*memarch.PageSize)
	return err
}
