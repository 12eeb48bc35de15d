// Package dialogue assembles batched dialogue data and hierarchical
// sequence-to-sequence models on top of it. The entry points are
// FromJSONFiles, which parses conversational JSON into train/validation/test
// iterators over padded 3-D token batches, and ModelData.GetModel, which
// wires one of the model variants (plain hierarchical encoder-decoder,
// attention, conditional-variational) to those iterators behind a trainable
// learner.
package dialogue

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/convforge/dialogue/data"
	"github.com/convforge/dialogue/models"
	"github.com/convforge/dialogue/params"
	"github.com/convforge/dialogue/training"
)

// InvalidHyperparameterError is re-exported from models for callers that
// only import the root package.
type InvalidHyperparameterError = models.InvalidHyperparameterError

// Config drives FromJSONFiles. Zero fields pick the package defaults.
type Config struct {
	// Path is the working directory for the on-disk example cache. Empty
	// disables caching.
	Path string

	TrainPath      string
	ValidationPath string
	TestPath       string // optional

	// Keys name the JSON fields holding the utterance text, the
	// conversation id, the speaker role and the within-conversation sort
	// value.
	Keys data.RecordKeys
	// Sort orders utterances within a conversation. Zero value means
	// numeric sort on Keys.Sort.
	Sort data.SortSpec

	BatchSize      int // default 64
	MaxSL          int // longest allowed utterance, default 1000
	MaxContextSize int // batch*turns*seqLen ceiling, default 130000

	// Reset rebuilds the example cache (and a VocabPath file) even when
	// they exist.
	Reset bool

	// VocabPath persists the vocabulary as JSON: loaded when the file
	// exists (so token ids survive across runs), written after a fresh
	// build otherwise. Empty disables persistence.
	VocabPath string

	// Tokenizer splits utterance text; nil means data.WordTokenizer.
	Tokenizer data.Tokenizer
	// Vocab tunes vocabulary construction over the training split.
	Vocab data.VocabOptions

	// SortExamplesBy buckets training examples before batching; Shuffle
	// randomizes them instead (Shuffle wins when both are set).
	SortExamplesBy data.SortExamplesBy
	Shuffle        bool
	Seed           int64
	// Backwards is accepted for interface compatibility and currently a
	// documented no-op.
	Backwards bool
	// TargetRoles restricts which role may supply the target turn.
	TargetRoles []string

	// Variant is the default architecture GetModel builds; nil means
	// models.Base().
	Variant models.Variant

	Logger *zap.Logger
}

// ModelData owns the shared vocabulary and the three batch iterators, and
// hands out learners over them. It is the single object the training code
// needs.
type ModelData struct {
	field   *data.Field
	roles   *data.RoleIndex
	bs      int
	variant models.Variant
	log     *zap.Logger

	trainIt *data.HierarchicalIterator
	valIt   *data.HierarchicalIterator
	testIt  *data.HierarchicalIterator
}

// FromJSONFiles parses the configured files, builds the vocabulary from the
// training split and returns the assembled container. Test iterators exist
// only when a test path is configured.
func FromJSONFiles(cfg Config) (*ModelData, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = params.DefaultBatchSize
	}

	field := data.NewField(cfg.Tokenizer)
	if cfg.VocabPath != "" && !cfg.Reset {
		if vocab, err := data.LoadVocabJSON(cfg.VocabPath); err == nil {
			logger.Info("using persisted vocabulary",
				zap.String("path", cfg.VocabPath),
				zap.Int("tokens", vocab.Len()))
			field.SetVocab(vocab)
		}
	}
	trainDS, valDS, testDS, err := data.Splits(field, data.SplitConfig{
		Path:           cfg.Path,
		TrainPath:      cfg.TrainPath,
		ValidationPath: cfg.ValidationPath,
		TestPath:       cfg.TestPath,
		Keys:           cfg.Keys,
		Sort:           cfg.Sort,
		MaxSL:          cfg.MaxSL,
		Reset:          cfg.Reset,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	hadVocab := field.HasVocab()
	md, err := New(field, trainDS, valDS, testDS, cfg.BatchSize, cfg.iteratorOptions(logger), cfg.Vocab, cfg.Variant, logger)
	if err != nil {
		return nil, err
	}
	if cfg.VocabPath != "" && !hadVocab {
		if err := data.SaveVocabJSON(field.Vocab(), cfg.VocabPath); err != nil {
			logger.Warn("vocabulary built but persistence failed",
				zap.String("path", cfg.VocabPath), zap.Error(err))
		}
	}
	return md, nil
}

// iteratorOptions translates the config into the per-iterator options shared
// by the three splits.
func (cfg Config) iteratorOptions(logger *zap.Logger) data.IteratorOptions {
	return data.IteratorOptions{
		MaxContextSize: cfg.MaxContextSize,
		SortBy:         cfg.SortExamplesBy,
		Shuffle:        cfg.Shuffle,
		Seed:           cfg.Seed,
		Backwards:      cfg.Backwards,
		TargetRoles:    cfg.TargetRoles,
		Logger:         logger,
	}
}

// New assembles a container from already-built datasets. The vocabulary is
// built from the training split when the field does not carry one; building
// from an empty training set without a prebuilt vocabulary fails with
// data.ErrNoVocabSource. validationDS and testDS may be nil.
func New(field *data.Field, trainDS, validationDS, testDS *data.Dataset, batchSize int,
	opts data.IteratorOptions, vocabOpts data.VocabOptions, variant models.Variant, logger *zap.Logger) (*ModelData, error) {

	if logger == nil {
		logger = zap.NewNop()
	}
	if trainDS == nil {
		return nil, errors.New("dialogue: training dataset is required")
	}
	if variant == nil {
		variant = models.Base()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}

	vocab, err := field.BuildVocab(trainDS.Examples(), vocabOpts)
	if err != nil {
		return nil, err
	}
	logger.Info("vocabulary ready",
		zap.Int("tokens", vocab.Len()),
		zap.Int("train_examples", trainDS.Len()))

	// Every split uses the role ids of the training split so role tensors
	// mean the same thing across iterators.
	roles := data.BuildRoleIndex(trainDS.Examples())

	md := &ModelData{
		field:   field,
		roles:   roles,
		bs:      batchSize,
		variant: variant,
		log:     logger,
	}

	trainOpts := opts
	trainOpts.Name = "train"
	if md.trainIt, err = data.NewHierarchicalIteratorWithRoles(trainDS, roles, batchSize, trainOpts); err != nil {
		return nil, err
	}

	// Validation and test keep dataset order and never shuffle; evaluation
	// must see every example in a stable order.
	evalOpts := opts
	evalOpts.Shuffle = false
	evalOpts.SortBy = data.SortExamplesNone
	if validationDS != nil {
		evalOpts.Name = "validation"
		if md.valIt, err = data.NewHierarchicalIteratorWithRoles(validationDS, roles, batchSize, evalOpts); err != nil {
			return nil, err
		}
	}
	if testDS != nil {
		evalOpts.Name = "test"
		if md.testIt, err = data.NewHierarchicalIteratorWithRoles(testDS, roles, batchSize, evalOpts); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// Size is the configured batch size.
func (md *ModelData) Size() int { return md.bs }

// NumTokens is the vocabulary size.
func (md *ModelData) NumTokens() int { return md.field.Vocab().Len() }

// PadIndex is the reserved padding token index.
func (md *ModelData) PadIndex() int { return data.PadIndex }

// EOSIndex is the reserved end-of-utterance token index.
func (md *ModelData) EOSIndex() int { return data.EOSIndex }

// Field returns the shared tokenizer+vocabulary pair.
func (md *ModelData) Field() *data.Field { return md.field }

// TokenToIndex maps a token to its vocabulary index, the unknown-token index
// for unseen tokens.
func (md *ModelData) TokenToIndex(tok string) int {
	return md.field.Vocab().TokenToIndex(tok)
}

// IndexToToken maps an index back to its token; ok is false for indices
// outside the vocabulary.
func (md *ModelData) IndexToToken(idx int) (string, bool) {
	return md.field.Vocab().IndexToToken(idx)
}

// TrainIterator returns the training iterator.
func (md *ModelData) TrainIterator() *data.HierarchicalIterator { return md.trainIt }

// ValidationIterator returns the validation iterator, nil when no validation
// split was configured.
func (md *ModelData) ValidationIterator() *data.HierarchicalIterator { return md.valIt }

// TestIterator returns the test iterator, nil when no test split was
// configured.
func (md *ModelData) TestIterator() *data.HierarchicalIterator { return md.testIt }

// TrainSet exposes the training iterator under the training runtime's
// Dataset contract.
func (md *ModelData) TrainSet() train.Dataset { return md.trainIt }

// ValidationSet is TrainSet for the validation split; nil when absent.
func (md *ModelData) ValidationSet() train.Dataset {
	if md.valIt == nil {
		return nil
	}
	return md.valIt
}

// TestSet is TrainSet for the test split; nil when absent.
func (md *ModelData) TestSet() train.Dataset {
	if md.testIt == nil {
		return nil
	}
	return md.testIt
}

// DroppedBatches sums the context-size drops across the three iterators.
func (md *ModelData) DroppedBatches() int {
	total := md.trainIt.DroppedBatches()
	if md.valIt != nil {
		total += md.valIt.DroppedBatches()
	}
	if md.testIt != nil {
		total += md.testIt.DroppedBatches()
	}
	return total
}

// ModelOptions tune GetModel. Zero fields keep the container's defaults.
type ModelOptions struct {
	// Variant overrides the container's architecture for this model only.
	Variant models.Variant
	// HParams overrides the stock hyperparameters; zero fields are filled
	// from the defaults before validation.
	HParams models.HParams
	// Optimizer overrides the default Adam factory.
	Optimizer training.OptimizerFactory
}

// GetModel builds a learner for the selected variant over this container's
// data. Hyperparameters are validated against the vocabulary first; a bad
// value returns an *InvalidHyperparameterError and no learner. The returned
// learner's Data is this container.
func (md *ModelData) GetModel(opts ModelOptions) (*training.Learner, error) {
	variant := opts.Variant
	if variant == nil {
		variant = md.variant
	}
	hp := opts.HParams.WithDefaults()
	if err := hp.Validate(md.NumTokens()); err != nil {
		return nil, err
	}

	spec := models.Spec{
		VocabSize: md.NumTokens(),
		NumRoles:  md.roles.Len(),
		PadIndex:  data.PadIndex,
		EOSIndex:  data.EOSIndex,
		BOSIndex:  data.BOSIndex,
		HP:        hp,
	}
	modelFn := func(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
		return variant.BuildGraph(ctx, spec, inputs)
	}
	md.log.Info("model assembled",
		zap.String("variant", variant.Name()),
		zap.Int("vocab_size", spec.VocabSize),
		zap.Int("hidden_size", hp.HiddenSize),
		zap.Int("num_layers", hp.NumLayers))

	return training.New(md, context.New(), modelFn, variant.Loss(spec), opts.Optimizer, md.log), nil
}
