package models

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

// Bahdanau-style additive attention over the context encoder's turn states.
type attentionHead struct {
	score *dense // (2H) -> attHidden
	v     *dense // attHidden -> 1
}

func newAttentionHead(ctx *context.Context, hidden, attentionHidden int) *attentionHead {
	return &attentionHead{
		score: newDense(ctx.In("score"), 2*hidden, attentionHidden),
		v:     newDense(ctx.In("combine"), attentionHidden, 1),
	}
}

// read weights the turn states by their match against the decoder state h
// (B, H). turnMask zeroes out non-context turns. Returns (B, H).
func (a *attentionHead) read(g *graph.Graph, h *graph.Node, turnStates []*graph.Node, turnMask *graph.Node) *graph.Node {
	scores := make([]*graph.Node, len(turnStates))
	for j, s := range turnStates {
		e := a.v.apply(g, graph.Tanh(a.score.apply(g, graph.Concatenate([]*graph.Node{h, s}, -1))))
		scores[j] = e // (B, 1)
	}
	energy := graph.Concatenate(scores, 1) // (B, T)

	// Masked softmax: push non-context turns to -inf before normalizing.
	negInf := graph.MulScalar(graph.OneMinus(turnMask), -1e9)
	weights := graph.Softmax(graph.Add(energy, negInf), -1) // (B, T)

	stacked := make([]*graph.Node, len(turnStates))
	for j, s := range turnStates {
		stacked[j] = graph.ExpandDims(s, 1)
	}
	states := graph.Concatenate(stacked, 1) // (B, T, H)
	weighted := graph.Mul(states, graph.ExpandDims(weights, -1))
	return graph.ReduceSum(weighted, 1) // (B, H)
}

type attentionVariant struct {
	attentionHidden int
}

func (attentionVariant) Name() string { return "hred-attention" }

func (v attentionVariant) BuildGraph(ctx *context.Context, spec Spec, inputs []*graph.Node) []*graph.Node {
	spec.HP = spec.HP.WithDefaults()
	attHidden := v.attentionHidden
	if attHidden <= 0 {
		attHidden = spec.HP.AttentionHidden
	}
	enc := buildEncoder(ctx, spec, inputs)
	logits := buildDecoder(ctx, spec, enc, inputs[2], enc.ctxFinal, true, attHidden)
	return []*graph.Node{logits}
}

func (attentionVariant) Loss(spec Spec) LossFunc {
	return MaskedCrossEntropy(spec.PadIndex)
}
