// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dominators computes dominator and post-dominator trees over
// program graphs, and the control dependence and dominance frontiers
// derived from them.
//
// Trees are built with the iterative Cooper-Harvey-Kennedy algorithm
// ("A Simple, Fast Dominance Algorithm", 2001). Post-dominance runs the
// same engine on the reversed graph, rooted at graph.RootIndex.
//
// # Thread Safety
//
// All computations read a frozen graph and are safe to run concurrently on
// the same graph. Returned trees are immutable.
package dominators

import "errors"

var (
	// ErrUnreachableNode is returned when a query names a node that is not
	// part of the tree, i.e. a node that is unreachable from the root.
	ErrUnreachableNode = errors.New("node is not in the dominator tree")

	// ErrGraphNotFrozen is returned when a computation is given a graph
	// that can still be mutated.
	ErrGraphNotFrozen = errors.New("graph must be frozen")

	// ErrWrongTreeKind is returned when a computation is given a tree of
	// the wrong kind, e.g. a dominator tree where a post-dominator tree is
	// required.
	ErrWrongTreeKind = errors.New("wrong dominator tree kind")
)
