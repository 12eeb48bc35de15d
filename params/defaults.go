package params

// Pipeline defaults. Callers override through the option structs; these are
// the values used when a field is left zero.
const (
	DefaultBatchSize      = 64
	DefaultMaxSL          = 1000   // longest utterance (in tokens) kept by the example builder
	DefaultMaxContextSize = 130000 // batch * turns * seq-len ceiling before a batch is dropped
)

// Architecture defaults shared by all model variants.
const (
	DefaultEmbeddingSize      = 300
	DefaultHiddenSize         = 512
	DefaultNumLayers          = 2
	DefaultMaxGeneratedTokens = 100
)

// Variant-specific defaults.
const (
	DefaultAttentionHidden = 512
	DefaultLatentDim       = 100
	DefaultBOWHidden       = 400
)

// Optimizer defaults (Adam).
const (
	AdamBeta1 = 0.8
	AdamBeta2 = 0.99
)
