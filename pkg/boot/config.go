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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danbrodsky/eos/pkg/memarch"
)

// Config is the machine layout the boot sequence consumes. On real
// hardware these values arrive from the linker script and device tree;
// here they are read from a TOML file.
type Config struct {
	Memory  MemoryConfig   `toml:"memory"`
	UART    UARTConfig     `toml:"uart"`
	Regions []RegionConfig `toml:"region"`
}

// MemoryConfig locates the managed heap.
type MemoryConfig struct {
	// Base is the physical address of the heap, page aligned.
	Base uint64 `toml:"base"`

	// Size is the heap length in bytes, a multiple of the page size.
	Size uint64 `toml:"size"`
}

// UARTConfig locates the console device.
type UARTConfig struct {
	// Base is the MMIO base of the NS16550A.
	Base uint64 `toml:"base"`
}

// RegionConfig names a byte range to identity map at boot, standing in
// for a linker-provided kernel image segment.
type RegionConfig struct {
	Name string `toml:"name"`

	// Start and End bound the range; End is exclusive. Both are
	// rounded to page boundaries by the mapper.
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`

	// Access is some combination of "r", "w" and "x".
	Access string `toml:"access"`

	User   bool `toml:"user"`
	Global bool `toml:"global"`
}

// AccessType parses the region's permission string.
func (r *RegionConfig) AccessType() (memarch.AccessType, error) {
	var at memarch.AccessType
	for _, c := range strings.ToLower(r.Access) {
		switch c {
		case 'r':
			at.Read = true
		case 'w':
			at.Write = true
		case 'x':
			at.Execute = true
		case '-':
			// Padding as produced by AccessType.String.
		default:
			return memarch.NoAccess, fmt.Errorf("region %q: unknown access flag %q", r.Name, c)
		}
	}
	return at, nil
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig reads and validates TOML config from r.
func DecodeConfig(r io.Reader) (*Config, error) {
	conf := new(Config)
	if _, err := toml.NewDecoder(r).Decode(conf); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks alignment and region sanity.
func (c *Config) Validate() error {
	if !memarch.Addr(c.Memory.Base).IsPageAligned() {
		return fmt.Errorf("memory base %#x is not page aligned", c.Memory.Base)
	}
	if c.Memory.Size == 0 || c.Memory.Size%memarch.PageSize != 0 {
		return fmt.Errorf("memory size %#x is not a non-zero multiple of the page size", c.Memory.Size)
	}
	for i := range c.Regions {
		r := &c.Regions[i]
		if r.Name == "" {
			return fmt.Errorf("region %d has no name", i)
		}
		if r.End <= r.Start {
			return fmt.Errorf("region %q: end %#x not past start %#x", r.Name, r.End, r.Start)
		}
		at, err := r.AccessType()
		if err != nil {
			return err
		}
		if !at.Any() {
			return fmt.Errorf("region %q: no access bits", r.Name)
		}
	}
	return nil
}
