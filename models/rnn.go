package models

import (
	"fmt"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// The recurrent pieces are written directly against graph ops: parameters
// are context variables fetched per step, so weights are shared across the
// unrolled sequence.
//
// Unrolling convention: the time axis is split on the integer id tensors
// only, before embedding. Slicing a float tensor would put a Pad op in the
// backward graph, which the pure-Go backend does not implement; integer
// inputs carry no gradient, so their slices stay out of it.

type dense struct {
	w, b *context.Variable
}

func newDense(ctx *context.Context, inDim, outDim int) *dense {
	return &dense{
		w: ctx.VariableWithShape("weights", shapes.Make(dtypes.Float32, inDim, outDim)),
		b: ctx.VariableWithShape("bias", shapes.Make(dtypes.Float32, outDim)),
	}
}

// apply computes x·W + b for x of shape (B, inDim). The bias is expanded to
// (1, outDim) so it broadcasts across the batch.
func (d *dense) apply(g *graph.Graph, x *graph.Node) *graph.Node {
	return graph.Add(
		graph.Dot(x, d.w.ValueGraph(g)),
		graph.ExpandDims(d.b.ValueGraph(g), 0))
}

type gruCell struct {
	update, reset, candidate *dense
	hidden                   int
}

func newGRUCell(ctx *context.Context, inDim, hidden int) *gruCell {
	return &gruCell{
		update:    newDense(ctx.In("update"), inDim+hidden, hidden),
		reset:     newDense(ctx.In("reset"), inDim+hidden, hidden),
		candidate: newDense(ctx.In("candidate"), inDim+hidden, hidden),
		hidden:    hidden,
	}
}

// step advances the cell: x (B, inDim), h (B, hidden). mask (B, 1) freezes
// the state where 0, so padded steps leave h untouched; nil means no mask.
func (c *gruCell) step(g *graph.Graph, x, h, mask *graph.Node) *graph.Node {
	xh := graph.Concatenate([]*graph.Node{x, h}, -1)
	z := graph.Sigmoid(c.update.apply(g, xh))
	r := graph.Sigmoid(c.reset.apply(g, xh))
	xrh := graph.Concatenate([]*graph.Node{x, graph.Mul(r, h)}, -1)
	cand := graph.Tanh(c.candidate.apply(g, xrh))
	hNew := graph.Add(graph.Mul(graph.OneMinus(z), h), graph.Mul(z, cand))
	if mask != nil {
		hNew = graph.Add(graph.Mul(mask, hNew), graph.Mul(graph.OneMinus(mask), h))
	}
	return hNew
}

// gruStack is numLayers stacked GRU cells; layer i>0 consumes layer i-1's
// state sequence.
type gruStack struct {
	cells []*gruCell
}

func newGRUStack(ctx *context.Context, numLayers, inDim, hidden int) *gruStack {
	cells := make([]*gruCell, numLayers)
	for i := range cells {
		d := inDim
		if i > 0 {
			d = hidden
		}
		cells[i] = newGRUCell(ctx.In(fmt.Sprintf("layer_%d", i)), d, hidden)
	}
	return &gruStack{cells: cells}
}

// run unrolls the stack over the per-step inputs xs, each (B, inDim), with
// optional per-step masks, each (B, 1) (nil means no masking). It returns
// the top layer's state at every step, each (B, hidden), and the final
// state (B, hidden).
func (s *gruStack) run(g *graph.Graph, xs, masks []*graph.Node) (outputs []*graph.Node, final *graph.Node) {
	return s.runFrom(g, xs, masks, nil)
}

// runFrom is run with explicit initial states, one per layer (nil means
// zeros).
func (s *gruStack) runFrom(g *graph.Graph, xs, masks []*graph.Node, h0 []*graph.Node) ([]*graph.Node, *graph.Node) {
	batch := xs[0].Shape().Dimensions[0]

	states := make([]*graph.Node, len(s.cells))
	for i := range states {
		if h0 != nil && h0[i] != nil {
			states[i] = h0[i]
		} else {
			states[i] = graph.Zeros(g, shapes.Make(dtypes.Float32, batch, s.cells[i].hidden))
		}
	}

	outputs := make([]*graph.Node, len(xs))
	for t, x := range xs {
		var m *graph.Node
		if masks != nil {
			m = masks[t]
		}
		for i, cell := range s.cells {
			states[i] = cell.step(g, x, states[i], m)
			x = states[i]
		}
		outputs[t] = states[len(states)-1]
	}
	return outputs, outputs[len(outputs)-1]
}

// idStep slices element t from axis 1 of an integer id tensor and drops
// that axis: (B, Steps, ...) -> (B, ...). Float tensors must not go through
// here (see the unrolling convention above).
func idStep(ids *graph.Node, t int) *graph.Node {
	specs := make([]graph.SliceAxisSpec, ids.Rank())
	for i := range specs {
		specs[i] = graph.AxisRange()
	}
	specs[1] = graph.AxisElem(t)
	sliced := graph.Slice(ids, specs...)
	dims := ids.Shape().Dimensions
	out := make([]int, 0, len(dims)-1)
	out = append(out, dims[0])
	out = append(out, dims[2:]...)
	return graph.Reshape(sliced, out...)
}

// embedding is a (vocab, dim) table with gather-based lookup.
type embedding struct {
	table *context.Variable
}

func newEmbedding(ctx *context.Context, vocabSize, dim int) *embedding {
	return &embedding{
		table: ctx.VariableWithShape("embeddings", shapes.Make(dtypes.Float32, vocabSize, dim)),
	}
}

// lookup maps int32 ids of any shape (...,) to vectors (..., dim).
func (e *embedding) lookup(g *graph.Graph, ids *graph.Node) *graph.Node {
	return graph.Gather(e.table.ValueGraph(g), graph.ExpandDims(ids, -1))
}

// notPadMask converts int32 ids into a float mask: 1 where the id differs
// from padIndex.
func notPadMask(g *graph.Graph, ids *graph.Node, padIndex int) *graph.Node {
	pad := graph.Scalar(g, dtypes.Int32, padIndex)
	return graph.ConvertDType(graph.NotEqual(ids, pad), dtypes.Float32)
}
