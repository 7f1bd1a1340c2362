// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowdom builds control-flow graphs, dominator trees, and control
// dependence for instruction listings.
//
// Usage:
//
//	flowdom analyze cond.yaml
//	flowdom dot cond.yaml --view postdom | dot -Tsvg > postdom.svg
//	flowdom dominated cond.yaml --node 0 --post
//	flowdom deps cond.yaml --node 4
//	flowdom watch cond.yaml --view cdg
//	flowdom serve --config flowdom.yaml
//
// Listings are YAML:
//
//	name: conditional
//	instructions:
//	  - {offset: 0, kind: cond_jump, targets: [2, 3]}
//	  - {offset: 1, kind: jump, targets: [3]}
//	  - {offset: 2, kind: linear}
//	  - {offset: 3, kind: return}
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string) int {
	a := newApp(os.Stdout, os.Stderr)
	defer a.close()

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
