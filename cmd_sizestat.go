// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/huanglangwen/bitround-go/internal/ctr/ndc"
	"github.com/huanglangwen/bitround-go/internal/orchestrator"
)

func runSizeStat(args []string) error {
	fs := flag.NewFlagSet("size-stat", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: size-stat IN.nc")
	}

	r, err := ndc.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = orchestrator.SizeStat(r, fs.Arg(0), os.Stdout)
	return err
}
