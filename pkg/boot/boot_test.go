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

package boot

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/danbrodsky/eos/pkg/memarch"
	"github.com/danbrodsky/eos/pkg/pagetables"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const testConfig = `
[memory]
base = 0x80100000
size = 0x80000

[uart]
base = 0x10000000

[[region]]
name = "kernel_text"
start = 0x80000000
end = 0x80002000
access = "rx"
global = true

[[region]]
name = "kernel_data"
start = 0x80002000
end = 0x80004000
access = "rw"
`

func TestDecodeConfig(t *testing.T) {
	conf, err := DecodeConfig(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	want := &Config{
		Memory: MemoryConfig{Base: 0x80100000, Size: 0x80000},
		UART:   UARTConfig{Base: 0x10000000},
		Regions: []RegionConfig{
			{Name: "kernel_text", Start: 0x80000000, End: 0x80002000, Access: "rx", Global: true},
			{Name: "kernel_data", Start: 0x80002000, End: 0x80004000, Access: "rw"},
		},
	}
	if diff := cmp.Diff(want, conf); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	at, err := conf.Regions[0].AccessType()
	if err != nil {
		t.Fatalf("AccessType: %v", err)
	}
	if got, want := at, memarch.ReadExecute; got != want {
		t.Errorf("kernel_text access: got %v, wanted %v", got, want)
	}
}

func TestConfigValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"unaligned base", func(c *Config) { c.Memory.Base += 0x10 }},
		{"ragged size", func(c *Config) { c.Memory.Size += 1 }},
		{"zero size", func(c *Config) { c.Memory.Size = 0 }},
		{"nameless region", func(c *Config) { c.Regions[0].Name = "" }},
		{"inverted region", func(c *Config) { c.Regions[0].End = c.Regions[0].Start }},
		{"no access", func(c *Config) { c.Regions[0].Access = "" }},
		{"bad access flag", func(c *Config) { c.Regions[0].Access = "rq" }},
	} {
		conf, err := DecodeConfig(strings.NewReader(testConfig))
		if err != nil {
			t.Fatalf("%s: DecodeConfig: %v", tc.name, err)
		}
		tc.mutate(conf)
		if err := conf.Validate(); err == nil {
			t.Errorf("%s: Validate succeeded, wanted error", tc.name)
		}
	}
}

func bootTestKernel(t *testing.T) (*Kernel, *bytes.Buffer) {
	t.Helper()
	conf, err := DecodeConfig(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	var console bytes.Buffer
	k, err := NewKernel(conf, &console)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	if err := k.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	return k, &console
}

func TestBoot(t *testing.T) {
	k, console := bootTestKernel(t)

	out := console.String()
	if !strings.Contains(out, "PAGE ALLOCATION TABLE") {
		t.Errorf("console output missing allocation table:\n%s", out)
	}

	// Every configured region must identity translate.
	for _, vaddr := range []memarch.Addr{
		0x80000000, 0x80001000, 0x80002000, 0x80003000, // image regions
		0x10000000, // console MMIO page
		0x80100000, // heap descriptors
	} {
		phys, ok := k.Tables().Lookup(vaddr)
		if !ok {
			t.Errorf("Lookup(%#x): not mapped", uint64(vaddr))
			continue
		}
		if phys != vaddr {
			t.Errorf("Lookup(%#x): got %#x, wanted identity", uint64(vaddr), uint64(phys))
		}
	}

	// Nothing past the configured machine is mapped.
	if _, ok := k.Tables().Lookup(0x90000000); ok {
		t.Error("Lookup(0x90000000) succeeded, wanted absence")
	}
}

func TestBootAllocatorUsable(t *testing.T) {
	k, _ := bootTestKernel(t)

	// The allocator keeps serving after boot; fresh pages come back
	// zeroed and mappable.
	addr, err := k.Allocator().Zalloc(2)
	if err != nil {
		t.Fatalf("Zalloc after boot: %v", err)
	}
	if err := k.Tables().Map(0x1000000, addr, pagetables.MapOpts{AccessType: memarch.ReadWrite}, 0); err != nil {
		t.Fatalf("Map after boot: %v", err)
	}
	phys, ok := k.Tables().Lookup(0x1000000)
	if !ok || phys != addr {
		t.Fatalf("Lookup after boot: got (%#x, %v), wanted (%#x, true)", uint64(phys), ok, uint64(addr))
	}
}

func TestBootFailsOnTinyHeap(t *testing.T) {
	conf, err := DecodeConfig(strings.NewReader(testConfig))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	// One page cannot hold the descriptor array and any usable frame.
	conf.Memory.Size = memarch.PageSize
	k, err := NewKernel(conf, io.Discard)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	if err := k.Boot(); err == nil {
		t.Fatal("Boot succeeded with a one-page heap, wanted error")
	}
}
