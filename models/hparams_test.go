package models

import (
	"errors"
	"testing"

	"github.com/convforge/dialogue/params"
)

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	hp := HParams{HiddenSize: 64}.WithDefaults()
	if hp.HiddenSize != 64 {
		t.Fatalf("explicit hidden size overwritten: %d", hp.HiddenSize)
	}
	if hp.EmbeddingSize != params.DefaultEmbeddingSize {
		t.Fatalf("embedding size = %d, want default %d", hp.EmbeddingSize, params.DefaultEmbeddingSize)
	}
	if hp.NumLayers != params.DefaultNumLayers || hp.LatentDim != params.DefaultLatentDim {
		t.Fatalf("defaults not filled: %+v", hp)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name      string
		hp        HParams
		vocabSize int
		wantName  string
	}{
		{"empty vocab", DefaultHParams(), 0, "vocab_size"},
		{"negative layers", func() HParams { hp := DefaultHParams(); hp.NumLayers = -1; return hp }(), 10, "num_layers"},
		{"zero via explicit negative embedding", func() HParams { hp := DefaultHParams(); hp.EmbeddingSize = -5; return hp }(), 10, "embedding_size"},
		{"bad latent", func() HParams { hp := DefaultHParams(); hp.LatentDim = -1; return hp }(), 10, "latent_dim"},
	}
	for _, c := range cases {
		err := c.hp.Validate(c.vocabSize)
		var invalid *InvalidHyperparameterError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: err = %v, want *InvalidHyperparameterError", c.name, err)
		}
		if invalid.Name != c.wantName {
			t.Fatalf("%s: error names %q, want %q", c.name, invalid.Name, c.wantName)
		}
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := DefaultHParams().Validate(100); err != nil {
		t.Fatalf("stock hyperparameters rejected: %v", err)
	}
}
