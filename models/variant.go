package models

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

// Spec carries the data-dependent constants a variant needs to build its
// graph: vocabulary geometry, reserved indices, role count, hyperparameters.
type Spec struct {
	VocabSize int
	NumRoles  int

	PadIndex int
	EOSIndex int
	BOSIndex int

	HP HParams
}

// LossFunc computes the training loss from the label and prediction nodes.
// Signature matches the training runtime's loss contract.
type LossFunc func(labels, predictions []*graph.Node) *graph.Node

// Variant pairs an architecture builder with its matching loss. The three
// implementations (Base, Attention, ConditionalVariational) differ only in
// the graph they build and the loss they select.
type Variant interface {
	// Name identifies the variant ("hred", "hred-attention", "cvae").
	Name() string
	// BuildGraph assembles the architecture. inputs are the iterator's
	// batch tensors: tokens (B,T,L), roles (B,T), target (B,L2),
	// target positions (B). It returns the prediction nodes the variant's
	// LossFunc expects, logits first.
	BuildGraph(ctx *context.Context, spec Spec, inputs []*graph.Node) []*graph.Node
	// Loss returns the loss matching the predictions of BuildGraph.
	Loss(spec Spec) LossFunc
}

// Base returns the plain hierarchical encoder-decoder variant.
func Base() Variant { return hredVariant{} }

// Attention returns the variant whose decoder attends over the context
// encoder states. attentionHidden <= 0 selects the default width.
func Attention(attentionHidden int) Variant {
	return attentionVariant{attentionHidden: attentionHidden}
}

// ConditionalVariational returns the CVAE variant. Non-positive dimensions
// select the defaults.
func ConditionalVariational(latentDim, bowHidden int) Variant {
	return cvaeVariant{latentDim: latentDim, bowHidden: bowHidden}
}
