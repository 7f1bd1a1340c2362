// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dominators

import (
	"fmt"
	"sort"
)

func (t *Tree[T]) require(index int) error {
	if _, ok := t.idom[index]; !ok {
		return fmt.Errorf("%w: %d", ErrUnreachableNode, index)
	}
	return nil
}

// Contains reports whether the node is part of the tree.
func (t *Tree[T]) Contains(index int) bool {
	_, ok := t.idom[index]
	return ok
}

// ImmediateDominator returns the parent of a node in the tree. The root is
// its own immediate dominator.
//
// Errors:
//
//	ErrUnreachableNode - The node is not in the tree
func (t *Tree[T]) ImmediateDominator(index int) (int, error) {
	if err := t.require(index); err != nil {
		return 0, err
	}
	return t.idom[index], nil
}

// Depth returns the distance of a node from the root. The root has depth 0.
func (t *Tree[T]) Depth(index int) (int, error) {
	if err := t.require(index); err != nil {
		return 0, err
	}
	return t.depth[index], nil
}

// Children returns the nodes immediately dominated by index.
func (t *Tree[T]) Children(index int) ([]int, error) {
	if err := t.require(index); err != nil {
		return nil, err
	}
	return append([]int(nil), t.graph.SuccessorIndices(index)...), nil
}

// TransitiveSuccessors returns every node strictly dominated (or, for a
// post-dominator tree, strictly post-dominated) by index.
//
// Description:
//
//	Breadth-first walk over the child edges of the tree starting at index.
//	The node itself is not part of the result. An empty result means the
//	node dominates nothing; an absent node is an error instead.
//
// Outputs:
//
//   - []int: Indices in ascending order. Never nil on success.
//   - error: ErrUnreachableNode if index is not in the tree.
//
// Example:
//
//	below, err := pdt.TransitiveSuccessors(110)
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(subtree size log subtree size).
func (t *Tree[T]) TransitiveSuccessors(index int) ([]int, error) {
	if err := t.require(index); err != nil {
		return nil, err
	}

	result := make([]int, 0)
	queue := []int{index}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range t.graph.SuccessorIndices(current) {
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	sort.Ints(result)
	return result, nil
}

// Dominates reports whether a dominates b. Dominance is reflexive.
//
// Errors:
//
//	ErrUnreachableNode - Either node is not in the tree
//
// Complexity: O(depth(b)).
func (t *Tree[T]) Dominates(a, b int) (bool, error) {
	if err := t.require(a); err != nil {
		return false, err
	}
	if err := t.require(b); err != nil {
		return false, err
	}
	if t.depth[a] > t.depth[b] {
		return false, nil
	}

	current := b
	for t.depth[current] > t.depth[a] {
		current = t.idom[current]
	}
	return current == a, nil
}

// DominatorsOf returns the dominators of a node, starting with the node
// itself and ending with the root.
func (t *Tree[T]) DominatorsOf(index int) ([]int, error) {
	if err := t.require(index); err != nil {
		return nil, err
	}

	result := make([]int, 0, t.depth[index]+1)
	current := index
	for {
		result = append(result, current)
		if current == t.root {
			return result, nil
		}
		current = t.idom[current]
	}
}

// LowestCommonDominator returns the deepest node that dominates both a and
// b.
//
// Description:
//
//	Equalizes the depths of both nodes, then walks them up together until
//	they meet. LowestCommonDominator(a, a) is a.
//
// Errors:
//
//	ErrUnreachableNode - Either node is not in the tree
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(depth).
func (t *Tree[T]) LowestCommonDominator(a, b int) (int, error) {
	if err := t.require(a); err != nil {
		return 0, err
	}
	if err := t.require(b); err != nil {
		return 0, err
	}

	for t.depth[a] > t.depth[b] {
		a = t.idom[a]
	}
	for t.depth[b] > t.depth[a] {
		b = t.idom[b]
	}
	for a != b {
		a = t.idom[a]
		b = t.idom[b]
	}
	return a, nil
}

// LowestCommonDominatorMultiple folds LowestCommonDominator over indices.
// An empty input yields the root.
func (t *Tree[T]) LowestCommonDominatorMultiple(indices []int) (int, error) {
	if len(indices) == 0 {
		return t.root, nil
	}

	lcd := indices[0]
	if err := t.require(lcd); err != nil {
		return 0, err
	}
	for _, index := range indices[1:] {
		next, err := t.LowestCommonDominator(lcd, index)
		if err != nil {
			return 0, err
		}
		lcd = next
	}
	return lcd, nil
}

// MaxDepth returns the largest depth in the tree.
func (t *Tree[T]) MaxDepth() int {
	maxDepth := 0
	for _, d := range t.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth
}
