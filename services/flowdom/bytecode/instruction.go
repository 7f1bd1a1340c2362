// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bytecode models the decoded instruction stream of a unit of code
// and partitions it into basic blocks.
//
// Only control-flow topology is modeled. An Instruction knows its offset,
// whether it can transfer control, and where it may jump; the concrete
// opcode semantics belong to the decoder that produced it.
package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedInput is returned when an instruction sequence cannot be
// partitioned, e.g. a jump target does not resolve to an instruction offset.
var ErrMalformedInput = errors.New("malformed instruction sequence")

// OpKind classifies an instruction by its effect on control flow.
type OpKind int

const (
	// OpLinear falls through to the next instruction.
	OpLinear OpKind = iota

	// OpJump transfers control unconditionally to its jump targets.
	OpJump

	// OpCondJump either jumps to its targets or falls through.
	OpCondJump

	// OpReturn leaves the unit of code.
	OpReturn

	// OpRaise leaves the unit of code abnormally.
	OpRaise
)

var opKindNames = map[OpKind]string{
	OpLinear:   "linear",
	OpJump:     "jump",
	OpCondJump: "cond_jump",
	OpReturn:   "return",
	OpRaise:    "raise",
}

// String returns the lower-case name of the kind.
func (k OpKind) String() string {
	if name, ok := opKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k OpKind) MarshalText() ([]byte, error) {
	if _, ok := opKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown op kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Matching is
// case-insensitive and accepts the upper-case decoder spelling (COND_JUMP).
func (k *OpKind) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, candidate := range opKindNames {
		if candidate == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown op kind %q", string(text))
}

// TransfersControl reports whether an instruction of this kind ends a basic
// block.
func (k OpKind) TransfersControl() bool {
	return k != OpLinear
}

// FallsThrough reports whether control may continue with the next
// instruction.
func (k OpKind) FallsThrough() bool {
	return k == OpLinear || k == OpCondJump
}

// Instruction is one decoded instruction.
type Instruction struct {
	// Offset is the position of the instruction in the code unit.
	Offset int `yaml:"offset" json:"offset" validate:"gte=0"`

	// Kind is the control-flow effect of the instruction.
	Kind OpKind `yaml:"kind" json:"kind"`

	// JumpTargets lists the offsets control may jump to. Only meaningful
	// for OpJump and OpCondJump.
	JumpTargets []int `yaml:"targets,omitempty" json:"targets,omitempty" validate:"dive,gte=0"`
}

// String renders the instruction for diagnostics.
func (i Instruction) String() string {
	if len(i.JumpTargets) == 0 {
		return fmt.Sprintf("%d:%s", i.Offset, i.Kind)
	}
	return fmt.Sprintf("%d:%s%v", i.Offset, i.Kind, i.JumpTargets)
}

// BasicBlock is a maximal straight-line run of instructions.
type BasicBlock struct {
	// Index is the offset of the first instruction.
	Index int

	// Instructions are the instructions of the block in order. Never empty.
	Instructions []Instruction

	// Successors lists the offsets of the blocks control may reach next,
	// without duplicates: jump targets first, then the fall-through block.
	Successors []int
}

// Last returns the final instruction of the block.
func (b *BasicBlock) Last() Instruction {
	return b.Instructions[len(b.Instructions)-1]
}

// IsExit reports whether control leaves the unit of code after this block.
func (b *BasicBlock) IsExit() bool {
	return len(b.Successors) == 0
}
