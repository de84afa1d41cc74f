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

func runBitAnalyze(args []string) error {
	fs := flag.NewFlagSet("bit-analyze", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: bit-analyze IN.nc")
	}

	r, err := ndc.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = orchestrator.Analyze(r, os.Stdout)
	return err
}
