package models

import (
	"fmt"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Hierarchical encoder-decoder. The encoder half is shared by all three
// variants: a token-level GRU summarizes each utterance, a turn-level GRU
// consumes the utterance summaries (concatenated with a role one-hot) over
// the context turns only; turns at or after the target position are masked
// out of the state updates.

type encoderState struct {
	g *graph.Graph

	batch, turns int

	emb        *embedding
	uttEncoder *gruStack

	// ctxFinal is the context summary, (B, H).
	ctxFinal *graph.Node
	// turnStates are the context encoder outputs per turn, each (B, H).
	turnStates []*graph.Node
	// turnMask is 1 for real context turns, (B, T).
	turnMask *graph.Node
}

// encodeUtterance runs one id matrix (B, L) through the utterance encoder
// and returns its final state (B, H). Pad positions freeze the state.
func encodeUtterance(g *graph.Graph, emb *embedding, encoder *gruStack, ids *graph.Node, padIndex int) *graph.Node {
	seqLen := ids.Shape().Dimensions[1]
	xs := make([]*graph.Node, seqLen)
	masks := make([]*graph.Node, seqLen)
	for l := 0; l < seqLen; l++ {
		col := idStep(ids, l) // (B,)
		xs[l] = emb.lookup(g, col)
		masks[l] = graph.ExpandDims(notPadMask(g, col, padIndex), -1)
	}
	_, final := encoder.run(g, xs, masks)
	return final
}

func buildEncoder(ctx *context.Context, spec Spec, inputs []*graph.Node) *encoderState {
	tokens, roles, targetPos := inputs[0], inputs[1], inputs[3]
	g := tokens.Graph()
	hp := spec.HP

	dims := tokens.Shape().Dimensions
	batch, turns := dims[0], dims[1]

	enc := &encoderState{
		g:     g,
		batch: batch, turns: turns,
		emb:        newEmbedding(ctx.In("embedding"), spec.VocabSize, hp.EmbeddingSize),
		uttEncoder: newGRUStack(ctx.In("utterance_encoder"), hp.NumLayers, hp.EmbeddingSize, hp.HiddenSize),
	}

	// Turn features: utterance summary concatenated with a role one-hot,
	// one per turn. The turn mask keeps only real turns strictly before
	// the target.
	xs := make([]*graph.Node, turns)
	masks := make([]*graph.Node, turns)
	for t := 0; t < turns; t++ {
		turnIDs := idStep(tokens, t) // (B, L)
		summary := encodeUtterance(g, enc.emb, enc.uttEncoder, turnIDs, spec.PadIndex)

		role := idStep(roles, t) // (B,)
		xs[t] = graph.Concatenate([]*graph.Node{summary, oneHotF32(g, role, spec.NumRoles)}, -1)

		beforeTarget := graph.ConvertDType(
			graph.LessThan(graph.Scalar(g, dtypes.Int32, t), targetPos), dtypes.Float32)
		realTurn := notPadMask(g, role, PadRoleID)
		masks[t] = graph.ExpandDims(graph.Mul(beforeTarget, realTurn), -1) // (B, 1)
	}
	enc.turnMask = graph.Concatenate(masks, 1) // (B, T)

	ctxEncoder := newGRUStack(ctx.In("context_encoder"), hp.NumLayers,
		hp.HiddenSize+spec.NumRoles, hp.HiddenSize)
	enc.turnStates, enc.ctxFinal = ctxEncoder.run(g, xs, masks)
	return enc
}

// buildDecoder unrolls a teacher-forced GRU decoder over the target turn.
// cond (B, C) seeds the decoder state through per-layer projections and,
// when attend is false, is also fed at every step. With attend set, the
// per-step feed is a Bahdanau attention read over the context turn states.
// Returns logits (B, L2, V).
func buildDecoder(ctx *context.Context, spec Spec, enc *encoderState, target, cond *graph.Node, attend bool, attentionHidden int) *graph.Node {
	g := enc.g
	hp := spec.HP
	tgtLen := target.Shape().Dimensions[1]
	condDim := cond.Shape().Dimensions[1]

	// Teacher forcing: shift the target right, bos first.
	bos := graph.Add(
		graph.Zeros(g, shapes.Make(dtypes.Int32, enc.batch, 1)),
		graph.Scalar(g, dtypes.Int32, spec.BOSIndex))
	shifted := graph.Concatenate([]*graph.Node{
		bos,
		graph.Slice(target, graph.AxisRange(), graph.AxisRange(0, tgtLen-1)),
	}, 1)

	dec := newGRUStack(ctx.In("decoder"), hp.NumLayers, hp.EmbeddingSize+hp.HiddenSize, hp.HiddenSize)
	states := make([]*graph.Node, hp.NumLayers)
	for i := range states {
		init := newDense(ctx.In(fmt.Sprintf("decoder_init_%d", i)), condDim, hp.HiddenSize)
		states[i] = graph.Tanh(init.apply(g, cond))
	}

	var att *attentionHead
	if attend {
		att = newAttentionHead(ctx.In("attention"), hp.HiddenSize, attentionHidden)
	}
	feed := graph.Tanh(newDense(ctx.In("condition_projection"), condDim, hp.HiddenSize).apply(g, cond))

	out := newDense(ctx.In("output"), hp.HiddenSize, spec.VocabSize)
	logits := make([]*graph.Node, tgtLen)
	for t := 0; t < tgtLen; t++ {
		x := enc.emb.lookup(g, idStep(shifted, t)) // (B, E)
		step := feed
		if att != nil {
			step = att.read(g, states[len(states)-1], enc.turnStates, enc.turnMask)
		}
		x = graph.Concatenate([]*graph.Node{x, step}, -1)
		for i, cell := range dec.cells {
			states[i] = cell.step(g, x, states[i], nil)
			x = states[i]
		}
		logits[t] = graph.ExpandDims(out.apply(g, states[len(states)-1]), 1)
	}
	return graph.Concatenate(logits, 1) // (B, L2, V)
}

// PadRoleID mirrors the role index reserved for turn padding.
const PadRoleID = 0

// oneHotF32 expands int32 ids (...,) to one-hot vectors (..., depth).
func oneHotF32(g *graph.Graph, ids *graph.Node, depth int) *graph.Node {
	dims := append(append([]int{}, ids.Shape().Dimensions...), depth)
	iota := graph.Iota(g, shapes.Make(dtypes.Int32, dims...), len(dims)-1)
	return graph.ConvertDType(
		graph.Equal(graph.ExpandDims(ids, -1), iota), dtypes.Float32)
}

type hredVariant struct{}

func (hredVariant) Name() string { return "hred" }

func (hredVariant) BuildGraph(ctx *context.Context, spec Spec, inputs []*graph.Node) []*graph.Node {
	spec.HP = spec.HP.WithDefaults()
	enc := buildEncoder(ctx, spec, inputs)
	logits := buildDecoder(ctx, spec, enc, inputs[2], enc.ctxFinal, false, 0)
	return []*graph.Node{logits}
}

func (hredVariant) Loss(spec Spec) LossFunc {
	return MaskedCrossEntropy(spec.PadIndex)
}
