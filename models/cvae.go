package models

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Conditional-variational variant: a latent variable sampled from a
// posterior over (context, target) at train time conditions the decoder; a
// prior over the context alone regularizes it. A bag-of-words head over the
// latent forces z to carry content (Zhao et al. style).
type cvaeVariant struct {
	latentDim int
	bowHidden int
}

func (cvaeVariant) Name() string { return "cvae" }

func (v cvaeVariant) BuildGraph(ctx *context.Context, spec Spec, inputs []*graph.Node) []*graph.Node {
	spec.HP = spec.HP.WithDefaults()
	latent := v.latentDim
	if latent <= 0 {
		latent = spec.HP.LatentDim
	}
	bowHidden := v.bowHidden
	if bowHidden <= 0 {
		bowHidden = spec.HP.BOWHidden
	}
	hp := spec.HP
	target := inputs[2]

	enc := buildEncoder(ctx, spec, inputs)
	g := enc.g

	// Target utterance summary through the shared utterance encoder.
	tgtEnc := encodeUtterance(g, enc.emb, enc.uttEncoder, target, spec.PadIndex) // (B, H)

	// Recognition (posterior) and prior networks, a mean and a log-variance
	// head each.
	qIn := graph.Concatenate([]*graph.Node{enc.ctxFinal, tgtEnc}, -1)
	muQ := newDense(ctx.In("posterior_mean"), 2*hp.HiddenSize, latent).apply(g, qIn)
	logvarQ := newDense(ctx.In("posterior_logvar"), 2*hp.HiddenSize, latent).apply(g, qIn)
	muP := newDense(ctx.In("prior_mean"), hp.HiddenSize, latent).apply(g, enc.ctxFinal)
	logvarP := newDense(ctx.In("prior_logvar"), hp.HiddenSize, latent).apply(g, enc.ctxFinal)

	// Reparameterized sample from the posterior.
	eps := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, enc.batch, latent))
	z := graph.Add(muQ, graph.Mul(graph.Exp(graph.MulScalar(logvarQ, 0.5)), eps))

	cond := graph.Concatenate([]*graph.Node{enc.ctxFinal, z}, -1) // (B, H+latent)

	// Bag-of-words head: predict the target's tokens order-free from z.
	bowH := graph.Tanh(newDense(ctx.In("bow_hidden"), hp.HiddenSize+latent, bowHidden).apply(g, cond))
	bowLogits := newDense(ctx.In("bow_output"), bowHidden, spec.VocabSize).apply(g, bowH)

	logits := buildDecoder(ctx, spec, enc, target, cond, false, 0)
	return []*graph.Node{logits, muQ, logvarQ, muP, logvarP, bowLogits}
}

func (cvaeVariant) Loss(spec Spec) LossFunc {
	return CVAELoss(spec.PadIndex)
}
