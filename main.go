// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "bit-round":
		err = runBitRound(os.Args[2:])
	case "bit-analyze":
		err = runBitAnalyze(os.Args[2:])
	case "size-stat":
		err = runSizeStat(os.Args[2:])
	case "concat":
		err = runConcat(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bitround-go <bit-round|bit-analyze|size-stat|concat> [flags] ...")
}
