package models

import (
	"fmt"

	"github.com/convforge/dialogue/params"
)

// HParams are the architecture hyperparameters shared by all variants.
// Zero fields are filled from the package defaults by WithDefaults.
type HParams struct {
	EmbeddingSize int
	HiddenSize    int
	NumLayers     int
	// MaxGeneratedTokens bounds decoder unrolling at generation time. It
	// does not cap teacher-forced training, which follows the target
	// length.
	MaxGeneratedTokens int

	// AttentionHidden is the attention scoring width (attention variant).
	AttentionHidden int
	// LatentDim and BOWHidden configure the conditional-variational
	// variant.
	LatentDim int
	BOWHidden int
}

// DefaultHParams returns the stock configuration.
func DefaultHParams() HParams {
	return HParams{
		EmbeddingSize:      params.DefaultEmbeddingSize,
		HiddenSize:         params.DefaultHiddenSize,
		NumLayers:          params.DefaultNumLayers,
		MaxGeneratedTokens: params.DefaultMaxGeneratedTokens,
		AttentionHidden:    params.DefaultAttentionHidden,
		LatentDim:          params.DefaultLatentDim,
		BOWHidden:          params.DefaultBOWHidden,
	}
}

// WithDefaults fills zero fields from DefaultHParams.
func (hp HParams) WithDefaults() HParams {
	def := DefaultHParams()
	if hp.EmbeddingSize == 0 {
		hp.EmbeddingSize = def.EmbeddingSize
	}
	if hp.HiddenSize == 0 {
		hp.HiddenSize = def.HiddenSize
	}
	if hp.NumLayers == 0 {
		hp.NumLayers = def.NumLayers
	}
	if hp.MaxGeneratedTokens == 0 {
		hp.MaxGeneratedTokens = def.MaxGeneratedTokens
	}
	if hp.AttentionHidden == 0 {
		hp.AttentionHidden = def.AttentionHidden
	}
	if hp.LatentDim == 0 {
		hp.LatentDim = def.LatentDim
	}
	if hp.BOWHidden == 0 {
		hp.BOWHidden = def.BOWHidden
	}
	return hp
}

// InvalidHyperparameterError reports a hyperparameter that is structurally
// incompatible with the model or vocabulary. It is raised at model
// construction and never retried.
type InvalidHyperparameterError struct {
	Name   string
	Value  int
	Reason string
}

func (e *InvalidHyperparameterError) Error() string {
	return fmt.Sprintf("invalid hyperparameter %s=%d: %s", e.Name, e.Value, e.Reason)
}

// Validate checks the hyperparameters against the vocabulary. Call after
// WithDefaults.
func (hp HParams) Validate(vocabSize int) error {
	if vocabSize <= 0 {
		return &InvalidHyperparameterError{Name: "vocab_size", Value: vocabSize, Reason: "vocabulary is empty"}
	}
	checks := []struct {
		name  string
		value int
		min   int
	}{
		{"embedding_size", hp.EmbeddingSize, 1},
		{"hidden_size", hp.HiddenSize, 1},
		{"num_layers", hp.NumLayers, 1},
		{"max_generated_tokens", hp.MaxGeneratedTokens, 1},
		{"attention_hidden", hp.AttentionHidden, 1},
		{"latent_dim", hp.LatentDim, 1},
		{"bow_hidden", hp.BOWHidden, 1},
	}
	for _, c := range checks {
		if c.value < c.min {
			return &InvalidHyperparameterError{Name: c.name, Value: c.value, Reason: "must be positive"}
		}
	}
	return nil
}
