package data

import (
	"github.com/gomlx/gomlx/types/tensors"
)

// Batch is a fixed-size group of dialogue examples materialized as aligned
// tensors. Utterance padding and turn padding are local to the batch: every
// utterance is padded to the longest utterance in this batch and every
// dialogue to the most turns in this batch, using the pad index.
type Batch struct {
	// Tokens holds token ids, shape (B, T, L): dialogues x turns x tokens.
	// Each utterance ends with the eos index before padding begins.
	Tokens [][][]int32
	// Roles holds role ids, shape (B, T). Padded turns carry PadRoleIndex.
	Roles [][]int32
	// Target holds the target turn of each dialogue, shape (B, L2), padded
	// like Tokens.
	Target [][]int32
	// TargetPos[i] is the index within Tokens[i] of the target turn.
	TargetPos []int32
	// ContextSize is B * T * L, the memory-bound proxy the iterator
	// filtered on.
	ContextSize int
}

// Dims returns (dialogues, turns, seq len) of the token tensor.
func (b *Batch) Dims() (bs, turns, seqLen int) {
	bs = len(b.Tokens)
	if bs == 0 {
		return 0, 0, 0
	}
	turns = len(b.Tokens[0])
	if turns == 0 {
		return bs, 0, 0
	}
	return bs, turns, len(b.Tokens[0][0])
}

// TargetLen returns the padded length of the target tensor.
func (b *Batch) TargetLen() int {
	if len(b.Target) == 0 {
		return 0
	}
	return len(b.Target[0])
}

// Tensors materializes the batch for the training runtime: inputs are
// [Tokens (B,T,L), Roles (B,T), Target (B,L2), TargetPos (B)], labels are
// [Target (B,L2)].
func (b *Batch) Tensors() (inputs, labels []*tensors.Tensor) {
	bs, turns, seqLen := b.Dims()

	flatTokens := make([]int32, 0, bs*turns*seqLen)
	for _, dialogue := range b.Tokens {
		for _, turn := range dialogue {
			flatTokens = append(flatTokens, turn...)
		}
	}
	flatRoles := make([]int32, 0, bs*turns)
	for _, roles := range b.Roles {
		flatRoles = append(flatRoles, roles...)
	}
	tgtLen := b.TargetLen()
	flatTarget := make([]int32, 0, bs*tgtLen)
	for _, tgt := range b.Target {
		flatTarget = append(flatTarget, tgt...)
	}

	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(flatTokens, bs, turns, seqLen),
		tensors.FromFlatDataAndDimensions(flatRoles, bs, turns),
		tensors.FromFlatDataAndDimensions(flatTarget, bs, tgtLen),
		tensors.FromFlatDataAndDimensions(b.TargetPos, bs),
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(flatTarget, bs, tgtLen),
	}
	return inputs, labels
}
