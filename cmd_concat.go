// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"flag"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/huanglangwen/bitround-go/internal/ctr"
	"github.com/huanglangwen/bitround-go/internal/ctr/ndc"
	"github.com/huanglangwen/bitround-go/internal/orchestrator"
)

func runConcat(args []string) error {
	fs := flag.NewFlagSet("concat", flag.ExitOnError)
	verbose := fs.Bool("v", false, "enable per-dataset debug traces on stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 3 {
		return fmt.Errorf("usage: concat [-v] IN1 IN2 [...] OUT")
	}

	operands := fs.Args()
	outPath := operands[len(operands)-1]
	inPaths, err := expandInputs(operands[:len(operands)-1])
	if err != nil {
		return err
	}
	if len(inPaths) < 2 {
		return fmt.Errorf("concat: fewer than two input files after glob expansion")
	}

	var readers []ctr.Reader
	for _, p := range inPaths {
		r, err := ndc.Open(p)
		if err != nil {
			return err
		}
		defer r.Close()
		readers = append(readers, r)
	}

	w, err := ndc.Create(outPath)
	if err != nil {
		return err
	}

	argv := append([]string{"concat"}, args...)
	return orchestrator.Concat(readers, w, argv, *verbose)
}

// expandInputs expands any doublestar glob pattern among operands, in
// order, against the local filesystem; an operand with no glob metacharacter
// that names a literal file is passed through even if it doesn't yet exist
// (doublestar.FilepathGlob would silently drop it).
func expandInputs(operands []string) ([]string, error) {
	var out []string
	for _, op := range operands {
		if !doublestar.ValidatePattern(op) {
			out = append(out, op)
			continue
		}
		matches, err := doublestar.FilepathGlob(op)
		if err != nil {
			return nil, fmt.Errorf("concat: bad glob %q: %w", op, err)
		}
		if len(matches) == 0 {
			out = append(out, op)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}
