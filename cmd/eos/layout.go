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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/danbrodsky/eos/pkg/boot"
	"github.com/danbrodsky/eos/pkg/frames"
	"github.com/danbrodsky/eos/pkg/memarch"
)

// layoutCmd implements subcommands.Command for the "layout" command.
type layoutCmd struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*layoutCmd) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*layoutCmd) Synopsis() string {
	return "print the memory layout a config produces, without booting"
}

// Usage implements subcommands.Command.Usage.
func (*layoutCmd) Usage() string {
	return `layout -config <file> - show the descriptor array bounds, first usable frame, and configured regions.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *layoutCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.config, "config", "", "machine layout config file (TOML)")
}

// Execute implements subcommands.Command.Execute.
func (l *layoutCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if l.config == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, err := boot.LoadConfig(l.config)
	if err != nil {
		logrus.WithError(err).Error("loading config")
		return subcommands.ExitFailure
	}
	a, err := frames.New(memarch.Addr(conf.Memory.Base), conf.Memory.Size)
	if err != nil {
		logrus.WithError(err).Error("computing layout")
		return subcommands.ExitFailure
	}

	fmt.Printf("heap:        %#x .. %#x (%d frames)\n",
		uint64(a.Base()), uint64(a.Base())+a.Size(), a.Frames())
	fmt.Printf("descriptors: %#x .. %#x\n",
		uint64(a.Base()), uint64(a.Base())+a.Frames())
	fmt.Printf("alloc start: %#x (%d usable frames)\n",
		uint64(a.AllocStart()), a.FreeFrames())
	fmt.Printf("uart:        %#x\n", conf.UART.Base)
	for i := range conf.Regions {
		r := &conf.Regions[i]
		at, err := r.AccessType()
		if err != nil {
			logrus.WithError(err).Error("bad region")
			return subcommands.ExitFailure
		}
		fmt.Printf("region %-16s %#x .. %#x %s\n", r.Name, r.Start, r.End, at)
	}
	if err := a.WriteReport(os.Stdout); err != nil {
		logrus.WithError(err).Error("writing report")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
