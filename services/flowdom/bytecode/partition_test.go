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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func blockIndices(blocks []*BasicBlock) []int {
	result := make([]int, 0, len(blocks))
	for _, b := range blocks {
		result = append(result, b.Index)
	}
	return result
}

func TestPartition_StraightLine(t *testing.T) {
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpLinear},
		{Offset: 2, Kind: OpLinear},
		{Offset: 4, Kind: OpReturn},
	})
	require.NoError(t, err)

	require.Len(t, blocks, 1)
	assert.Equal(t, 0, blocks[0].Index)
	assert.Len(t, blocks[0].Instructions, 3)
	assert.Empty(t, blocks[0].Successors)
	assert.True(t, blocks[0].IsExit())
	assert.Equal(t, OpReturn, blocks[0].Last().Kind)
}

func TestPartition_ConditionalJump(t *testing.T) {
	// if x: a else: b; return
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpLinear},
		{Offset: 2, Kind: OpCondJump, JumpTargets: []int{8}},
		{Offset: 4, Kind: OpLinear},
		{Offset: 6, Kind: OpJump, JumpTargets: []int{10}},
		{Offset: 8, Kind: OpLinear},
		{Offset: 10, Kind: OpReturn},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 4, 8, 10}, blockIndices(blocks))
	assert.Equal(t, []int{8, 4}, blocks[0].Successors)
	assert.Equal(t, []int{10}, blocks[1].Successors)
	assert.Equal(t, []int{10}, blocks[2].Successors)
	assert.Empty(t, blocks[3].Successors)
}

func TestPartition_TargetInsideRunForcesSplit(t *testing.T) {
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpLinear},
		{Offset: 2, Kind: OpLinear},
		{Offset: 4, Kind: OpLinear},
		{Offset: 6, Kind: OpCondJump, JumpTargets: []int{2}},
		{Offset: 8, Kind: OpReturn},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 8}, blockIndices(blocks))
	assert.Equal(t, []int{2}, blocks[0].Successors, "fall-through into split block")
	assert.Equal(t, []int{2, 8}, blocks[1].Successors)
}

func TestPartition_DeduplicatesSuccessors(t *testing.T) {
	// Branch target equals the fall-through block.
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpCondJump, JumpTargets: []int{2, 2}},
		{Offset: 2, Kind: OpReturn},
	})
	require.NoError(t, err)

	require.Len(t, blocks, 2)
	assert.Equal(t, []int{2}, blocks[0].Successors)
}

func TestPartition_RaiseEndsBlock(t *testing.T) {
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpRaise},
		{Offset: 2, Kind: OpReturn},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, blockIndices(blocks))
	assert.Empty(t, blocks[0].Successors)
}

func TestPartition_FallOffEnd(t *testing.T) {
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpCondJump, JumpTargets: []int{0}},
	})
	require.NoError(t, err)

	require.Len(t, blocks, 1)
	assert.Equal(t, []int{0}, blocks[0].Successors)
}

func TestPartition_ExtraTargets(t *testing.T) {
	blocks, err := Partition([]Instruction{
		{Offset: 0, Kind: OpLinear},
		{Offset: 2, Kind: OpReturn},
		{Offset: 4, Kind: OpLinear},
		{Offset: 6, Kind: OpRaise},
	}, 4)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 4}, blockIndices(blocks))
}

func TestPartition_Malformed(t *testing.T) {
	tests := []struct {
		name         string
		instructions []Instruction
		extra        []int
	}{
		{name: "empty"},
		{
			name: "unknown jump target",
			instructions: []Instruction{
				{Offset: 0, Kind: OpJump, JumpTargets: []int{3}},
				{Offset: 2, Kind: OpReturn},
			},
		},
		{
			name: "unknown extra target",
			instructions: []Instruction{
				{Offset: 0, Kind: OpReturn},
			},
			extra: []int{9},
		},
		{
			name: "jump without target",
			instructions: []Instruction{
				{Offset: 0, Kind: OpJump},
			},
		},
		{
			name: "return with target",
			instructions: []Instruction{
				{Offset: 0, Kind: OpReturn, JumpTargets: []int{0}},
			},
		},
		{
			name: "negative offset",
			instructions: []Instruction{
				{Offset: -2, Kind: OpReturn},
			},
		},
		{
			name: "unordered offsets",
			instructions: []Instruction{
				{Offset: 4, Kind: OpLinear},
				{Offset: 2, Kind: OpReturn},
			},
		},
		{
			name: "unknown kind",
			instructions: []Instruction{
				{Offset: 0, Kind: OpKind(99)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, err := Partition(tt.instructions, tt.extra...)
			assert.ErrorIs(t, err, ErrMalformedInput)
			assert.Nil(t, blocks)
		})
	}
}

func TestOpKind_Text(t *testing.T) {
	for kind, name := range opKindNames {
		text, err := kind.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(text))

		var parsed OpKind
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, kind, parsed)
	}

	var k OpKind
	require.NoError(t, k.UnmarshalText([]byte("COND_JUMP")))
	assert.Equal(t, OpCondJump, k)
	assert.Error(t, k.UnmarshalText([]byte("teleport")))

	_, err := OpKind(42).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "unknown", OpKind(42).String())
}

func TestInstruction_YAML(t *testing.T) {
	var instructions []Instruction
	err := yaml.Unmarshal([]byte(`
- {offset: 0, kind: COND_JUMP, targets: [4]}
- {offset: 2, kind: return}
- {offset: 4, kind: raise}
`), &instructions)
	require.NoError(t, err)

	require.Len(t, instructions, 3)
	assert.Equal(t, OpCondJump, instructions[0].Kind)
	assert.Equal(t, []int{4}, instructions[0].JumpTargets)
	assert.Equal(t, OpRaise, instructions[2].Kind)
	assert.Equal(t, "0:cond_jump[4]", instructions[0].String())
	assert.Equal(t, "2:return", instructions[1].String())
}
