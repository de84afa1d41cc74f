// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/huanglangwen/bitround-go/internal/ctr/ndc"
	"github.com/huanglangwen/bitround-go/internal/keepbits"
	"github.com/huanglangwen/bitround-go/internal/orchestrator"
)

func runBitRound(args []string) error {
	fs := flag.NewFlagSet("bit-round", flag.ExitOnError)
	complevel := fs.Int("complevel", 0, "deflate compression level 1-9; 0 disables compression")
	monotonic := fs.Bool("monotonic-bitinfo", false, "use the Monotonic keep-bits rule instead of TailFilteredCDF")
	// Flags may come before, between or after the positional operands.
	var pos []string
	for rest := args; ; {
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			break
		}
		pos = append(pos, fs.Arg(0))
		rest = fs.Args()[1:]
	}
	if len(pos) != 3 {
		return fmt.Errorf("usage: bit-round INFLEVEL IN.nc OUT.nc [--complevel=N] [--monotonic-bitinfo]")
	}

	var inflevel float64
	if _, err := fmt.Sscanf(pos[0], "%g", &inflevel); err != nil {
		return fmt.Errorf("invalid INFLEVEL %q: %w", pos[0], err)
	}

	r, err := ndc.Open(pos[1])
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := ndc.Create(pos[2])
	if err != nil {
		return err
	}

	rule := keepbits.TailFilteredCDF
	if *monotonic {
		rule = keepbits.Monotonic
	}

	_, err = orchestrator.Bitround(r, w, orchestrator.BitroundOptions{
		Inflevel:  inflevel,
		Complevel: *complevel,
		Rule:      rule,
	}, os.Stdout)
	return err
}
