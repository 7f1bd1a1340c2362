// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the generic directed program graph shared by the
// control-flow and dominance analyses.
//
// A ProgramGraph holds nodes identified by a signed integer index. Real basic
// blocks use the offset of their first instruction; two reserved sentinels
// (EntryIndex and RootIndex) are used for synthetic nodes and can never
// collide with a real offset.
//
// # Thread Safety
//
// ProgramGraph is NOT safe for concurrent use during building. It is designed
// for:
//   - Single-writer access during build phase (AddNode, AddEdge calls)
//   - Read-only access after Freeze() is called
//
// After Freeze(), the graph can be safely read from multiple goroutines.
//
// # Lifecycle
//
//  1. Create with New[T]()
//  2. Build with AddNode() and AddEdge() calls
//  3. Call Freeze() to finalize
//  4. Query with Node(), Successors(), Predecessors(), Reversed(), etc.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge or query references a node
	// index that does not exist in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node whose index is already
	// used by another node. It indicates a builder bug.
	ErrDuplicateNode = errors.New("duplicate node index")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrNoEntry is returned when a graph has no designated entry and does
	// not have exactly one node without predecessors.
	ErrNoEntry = errors.New("graph has no unique entry node")

	// ErrNoExit is returned when a graph has no designated exit and no node
	// without successors.
	ErrNoExit = errors.New("graph has no exit node")
)
