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

// Package boot sequences early kernel initialization: console bring-up,
// frame allocator setup, kernel page table construction, and the
// mapping checks that gate handoff to the rest of the kernel.
//
// Everything here runs on the single boot thread of control. Nothing
// in this package is safe for concurrent use.
package boot

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/danbrodsky/eos/pkg/frames"
	"github.com/danbrodsky/eos/pkg/memarch"
	"github.com/danbrodsky/eos/pkg/pagetables"
	"github.com/danbrodsky/eos/pkg/uart"
)

// Kernel holds the memory management state built during boot.
type Kernel struct {
	conf    *Config
	console *uart.Uart
	log     *logrus.Entry

	allocator *frames.Allocator
	tables    *pagetables.PageTables
}

// NewKernel prepares a kernel from the given machine layout. Console
// output is transmitted to sink.
func NewKernel(conf *Config, sink io.Writer) (*Kernel, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &Kernel{
		conf:    conf,
		console: uart.New(memarch.Addr(conf.UART.Base), sink),
		log:     logrus.WithField("component", "boot"),
	}, nil
}

// Allocator returns the frame allocator. Nil before Boot.
func (k *Kernel) Allocator() *frames.Allocator { return k.allocator }

// Tables returns the kernel page tables. Nil before Boot.
func (k *Kernel) Tables() *pagetables.PageTables { return k.tables }

// Console returns the diagnostic console.
func (k *Kernel) Console() *uart.Uart { return k.console }

// Boot runs the early initialization sequence. Any error is fatal to
// boot: the machine state cannot be trusted past a failed step, so the
// caller must halt rather than continue.
func (k *Kernel) Boot() error {
	k.console.Init()

	k.log.WithFields(logrus.Fields{
		"base": fmt.Sprintf("%#x", k.conf.Memory.Base),
		"size": fmt.Sprintf("%#x", k.conf.Memory.Size),
	}).Info("initializing frame allocator")
	allocator, err := frames.New(memarch.Addr(k.conf.Memory.Base), k.conf.Memory.Size)
	if err != nil {
		return fmt.Errorf("frame allocator: %w", err)
	}
	k.allocator = allocator

	tables, err := pagetables.New(pagetables.NewFrameAllocator(allocator))
	if err != nil {
		return fmt.Errorf("kernel page tables: %w", err)
	}
	k.tables = tables
	k.log.WithField("root", fmt.Sprintf("%#x", uint64(tables.RootPhysical()))).
		Info("kernel root table allocated")

	if err := k.mapKernel(); err != nil {
		return err
	}
	if err := k.verifyMappings(); err != nil {
		return err
	}

	if err := k.allocator.WriteReport(k.console); err != nil {
		return fmt.Errorf("writing allocation report: %w", err)
	}
	return nil
}

// mapKernel identity maps everything the kernel touches before paging
// is enabled: the configured image regions, the console's MMIO page,
// and the heap itself (descriptor array included, so the allocator
// keeps working once translation is on).
func (k *Kernel) mapKernel() error {
	for i := range k.conf.Regions {
		r := &k.conf.Regions[i]
		at, err := r.AccessType()
		if err != nil {
			return err
		}
		opts := pagetables.MapOpts{AccessType: at, User: r.User, Global: r.Global}
		k.log.WithFields(logrus.Fields{
			"region": r.Name,
			"start":  fmt.Sprintf("%#x", r.Start),
			"end":    fmt.Sprintf("%#x", r.End),
			"access": at.String(),
		}).Debug("identity mapping region")
		if err := k.tables.IdentityMapRange(memarch.Addr(r.Start), memarch.Addr(r.End), opts); err != nil {
			return fmt.Errorf("mapping region %q: %w", r.Name, err)
		}
	}

	uartPage := k.console.Base().RoundDown()
	if err := k.tables.IdentityMapRange(uartPage, uartPage+memarch.PageSize,
		pagetables.MapOpts{AccessType: memarch.ReadWrite}); err != nil {
		return fmt.Errorf("mapping console: %w", err)
	}

	heapStart := k.allocator.Base()
	heapEnd := heapStart + memarch.Addr(k.allocator.Size())
	if err := k.tables.IdentityMapRange(heapStart, heapEnd,
		pagetables.MapOpts{AccessType: memarch.ReadWrite}); err != nil {
		return fmt.Errorf("mapping heap: %w", err)
	}
	return nil
}

// verifyMappings spot-checks each mapped range through the walk before
// boot would hand the root table to the hardware. An identity mapping
// that fails to translate back to itself means the tables are corrupt.
func (k *Kernel) verifyMappings() error {
	check := func(name string, addr memarch.Addr) error {
		phys, ok := k.tables.Lookup(addr)
		if !ok {
			return fmt.Errorf("verify %s: %#x is not mapped", name, uint64(addr))
		}
		if phys != addr {
			return fmt.Errorf("verify %s: %#x translates to %#x, not itself",
				name, uint64(addr), uint64(phys))
		}
		return nil
	}
	for i := range k.conf.Regions {
		r := &k.conf.Regions[i]
		if err := check(r.Name, memarch.Addr(r.Start).RoundDown()); err != nil {
			return err
		}
		if err := check(r.Name, memarch.Addr(r.End-1).RoundDown()); err != nil {
			return err
		}
	}
	if err := check("console", k.console.Base().RoundDown()); err != nil {
		return err
	}
	if err := check("heap", k.allocator.AllocStart()); err != nil {
		return err
	}
	return nil
}
