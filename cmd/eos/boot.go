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
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/danbrodsky/eos/pkg/boot"
)

// bootCmd implements subcommands.Command for the "boot" command.
type bootCmd struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*bootCmd) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*bootCmd) Synopsis() string {
	return "boot the memory core from a machine layout config"
}

// Usage implements subcommands.Command.Usage.
func (*bootCmd) Usage() string {
	return `boot -config <file> - initialize the frame allocator and kernel page tables, verify the mappings, and print the allocation table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *bootCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.config, "config", "", "machine layout config file (TOML)")
}

// Execute implements subcommands.Command.Execute.
func (b *bootCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if b.config == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, err := boot.LoadConfig(b.config)
	if err != nil {
		logrus.WithError(err).Error("loading config")
		return subcommands.ExitFailure
	}
	k, err := boot.NewKernel(conf, os.Stdout)
	if err != nil {
		logrus.WithError(err).Error("creating kernel")
		return subcommands.ExitFailure
	}
	if err := k.Boot(); err != nil {
		// Boot errors are the fatal class: the machine halts here.
		logrus.WithError(err).Error("boot failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
