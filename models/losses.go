package models

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"
)

// MaskedCrossEntropy is the reconstruction loss for the plain and attention
// variants: token-level sparse cross-entropy over the target turn, with pad
// positions masked out of both the sum and the normalizer.
func MaskedCrossEntropy(padIndex int) LossFunc {
	return func(labels, predictions []*graph.Node) *graph.Node {
		return maskedNLL(predictions[0], labels[0], padIndex)
	}
}

// CVAELoss is the composite loss of the conditional-variational variant:
// reconstruction cross-entropy plus the KL between posterior and prior plus
// the bag-of-words auxiliary term.
func CVAELoss(padIndex int) LossFunc {
	return func(labels, predictions []*graph.Node) *graph.Node {
		target := labels[0]
		logits, muQ, logvarQ, muP, logvarP, bowLogits :=
			predictions[0], predictions[1], predictions[2], predictions[3], predictions[4], predictions[5]

		recon := maskedNLL(logits, target, padIndex)
		kl := gaussianKL(muQ, logvarQ, muP, logvarP)
		bow := bagOfWordsNLL(bowLogits, target, padIndex)
		return graph.Add(graph.Add(recon, kl), bow)
	}
}

// maskedNLL: logits (B, L, V), target (B, L) int32. Mean negative
// log-likelihood over non-pad positions.
func maskedNLL(logits, target *graph.Node, padIndex int) *graph.Node {
	g := logits.Graph()
	vocab := logits.Shape().Dimensions[len(logits.Shape().Dimensions)-1]

	logp := graph.LogSoftmax(logits, -1)
	picked := graph.ReduceSum(graph.Mul(logp, oneHotF32(g, target, vocab)), -1) // (B, L)
	mask := notPadMask(g, target, padIndex)

	total := graph.ReduceAllSum(graph.Mul(graph.Neg(picked), mask))
	count := graph.Max(graph.ReduceAllSum(mask), graph.Scalar(g, dtypes.Float32, 1))
	return graph.Div(total, count)
}

// gaussianKL: mean over the batch of KL(N(muQ, e^logvarQ) || N(muP, e^logvarP)).
func gaussianKL(muQ, logvarQ, muP, logvarP *graph.Node) *graph.Node {
	diff := graph.Sub(muQ, muP)
	perDim := graph.Sub(
		graph.Add(
			graph.Sub(logvarP, logvarQ),
			graph.Div(
				graph.Add(graph.Exp(logvarQ), graph.Mul(diff, diff)),
				graph.Exp(logvarP))),
		graph.OnesLike(muQ))
	perExample := graph.MulScalar(graph.ReduceSum(perDim, -1), 0.5) // (B,)
	return graph.ReduceAllMean(perExample)
}

// bagOfWordsNLL: bowLogits (B, V) scored once against every non-pad token
// of the target turn.
func bagOfWordsNLL(bowLogits, target *graph.Node, padIndex int) *graph.Node {
	g := bowLogits.Graph()
	vocab := bowLogits.Shape().Dimensions[1]

	logp := graph.ExpandDims(graph.LogSoftmax(bowLogits, -1), 1)                // (B, 1, V)
	picked := graph.ReduceSum(graph.Mul(logp, oneHotF32(g, target, vocab)), -1) // (B, L)
	mask := notPadMask(g, target, padIndex)

	total := graph.ReduceAllSum(graph.Mul(graph.Neg(picked), mask))
	count := graph.Max(graph.ReduceAllSum(mask), graph.Scalar(g, dtypes.Float32, 1))
	return graph.Div(total, count)
}
