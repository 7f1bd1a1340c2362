// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bytecode

import (
	"fmt"
	"sort"
)

// Partition groups an instruction sequence into basic blocks.
//
// Description:
//
//	A block starts at the first instruction, at every jump target, at every
//	offset in extraTargets (e.g. exception handler entries declared by the
//	decoder), and right after any instruction that transfers control.
//	Each block gets its successor offsets: jump targets of its last
//	instruction followed by the fall-through block when control can fall
//	through. Falling through past the last instruction yields no successor.
//
// Inputs:
//
//   - instructions: Ordered by strictly increasing, non-negative offset.
//   - extraTargets: Additional block starts. Must be instruction offsets.
//
// Outputs:
//
//   - []*BasicBlock: Blocks in offset order. Never empty on success.
//   - error: Wraps ErrMalformedInput when the input cannot be partitioned.
//
// Example:
//
//	blocks, err := bytecode.Partition([]bytecode.Instruction{
//	    {Offset: 0, Kind: bytecode.OpCondJump, JumpTargets: []int{4}},
//	    {Offset: 2, Kind: bytecode.OpReturn},
//	    {Offset: 4, Kind: bytecode.OpReturn},
//	})
//	// blocks: [0 -> {4, 2}], [2], [4]
//
// Complexity: O(n log n) for n instructions.
func Partition(instructions []Instruction, extraTargets ...int) ([]*BasicBlock, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: empty instruction sequence", ErrMalformedInput)
	}

	// Map offset -> position for target resolution.
	position := make(map[int]int, len(instructions))
	for i, inst := range instructions {
		if inst.Offset < 0 {
			return nil, fmt.Errorf("%w: negative offset %d", ErrMalformedInput, inst.Offset)
		}
		if i > 0 && inst.Offset <= instructions[i-1].Offset {
			return nil, fmt.Errorf("%w: offset %d does not follow %d",
				ErrMalformedInput, inst.Offset, instructions[i-1].Offset)
		}
		position[inst.Offset] = i
	}

	// Pass 1: identify leaders.
	leaders := map[int]bool{0: true}
	for _, target := range extraTargets {
		pos, ok := position[target]
		if !ok {
			return nil, fmt.Errorf("%w: declared target %d is not an instruction offset",
				ErrMalformedInput, target)
		}
		leaders[pos] = true
	}
	for i, inst := range instructions {
		switch inst.Kind {
		case OpJump, OpCondJump:
			if len(inst.JumpTargets) == 0 {
				return nil, fmt.Errorf("%w: %s at offset %d has no jump target",
					ErrMalformedInput, inst.Kind, inst.Offset)
			}
		case OpLinear, OpReturn, OpRaise:
			if len(inst.JumpTargets) != 0 {
				return nil, fmt.Errorf("%w: %s at offset %d cannot have jump targets",
					ErrMalformedInput, inst.Kind, inst.Offset)
			}
		default:
			return nil, fmt.Errorf("%w: unknown op kind %d at offset %d",
				ErrMalformedInput, int(inst.Kind), inst.Offset)
		}

		for _, target := range inst.JumpTargets {
			pos, ok := position[target]
			if !ok {
				return nil, fmt.Errorf("%w: jump target %d of offset %d is not an instruction offset",
					ErrMalformedInput, target, inst.Offset)
			}
			leaders[pos] = true
		}
		if inst.Kind.TransfersControl() && i+1 < len(instructions) {
			leaders[i+1] = true
		}
	}

	sorted := make([]int, 0, len(leaders))
	for pos := range leaders {
		sorted = append(sorted, pos)
	}
	sort.Ints(sorted)

	// Pass 2: partition into blocks.
	blocks := make([]*BasicBlock, len(sorted))
	for i, start := range sorted {
		end := len(instructions)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = &BasicBlock{
			Index:        instructions[start].Offset,
			Instructions: instructions[start:end:end],
		}
	}

	// Pass 3: successors from each block's last instruction.
	for i, blk := range blocks {
		last := blk.Last()
		seen := make(map[int]bool, len(last.JumpTargets)+1)
		for _, target := range last.JumpTargets {
			if !seen[target] {
				seen[target] = true
				blk.Successors = append(blk.Successors, target)
			}
		}
		if last.Kind.FallsThrough() && i+1 < len(blocks) {
			next := blocks[i+1].Index
			if !seen[next] {
				blk.Successors = append(blk.Successors, next)
			}
		}
	}

	return blocks, nil
}
