package data

import (
	"io"
	"math/rand"
	"sort"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/convforge/dialogue/params"
)

// SortExamplesBy selects the bucketing strategy applied before batching.
// Sorting groups similar-sized dialogues together, trading strict dataset
// order for less padding waste.
type SortExamplesBy string

const (
	// SortExamplesNone keeps dataset order.
	SortExamplesNone SortExamplesBy = ""
	// SortExamplesBySeqLen sorts by the longest utterance of the dialogue.
	SortExamplesBySeqLen SortExamplesBy = "sl"
	// SortExamplesByConvLen sorts by the number of turns.
	SortExamplesByConvLen SortExamplesBy = "cl"
)

// IteratorOptions configure a HierarchicalIterator.
type IteratorOptions struct {
	// Name identifies the iterator in logs and the training loop.
	Name string
	// MaxContextSize is the ceiling on batch*turns*seqLen. Batches above it
	// are dropped, never truncated. 0 means params.DefaultMaxContextSize.
	MaxContextSize int
	// SortBy buckets examples before batching. Mutually exclusive with
	// Shuffle in spirit; when both are set, Shuffle wins.
	SortBy SortExamplesBy
	// Shuffle randomizes example order every epoch, seeded by Seed.
	Shuffle bool
	Seed    int64
	// Backwards is accepted for interface compatibility. The token-reversal
	// transform is currently a documented no-op.
	Backwards bool
	// TargetRoles restricts which role may supply the target turn. When
	// set, the target is the last turn whose role is listed; dialogues
	// without one are skipped. Empty means the last turn, whoever spoke it.
	TargetRoles []string
	// Logger receives drop/skip diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// HierarchicalIterator walks a Dataset in fixed-size batches of padded 3-D
// token tensors. It is lazy (one batch per pull), finite (io.EOF at epoch
// end) and restartable (Reset rebuilds the epoch plan). It implements the
// training runtime's Dataset contract (Name/Yield/Reset).
//
// The iterator never mutates its Dataset; several iterators may read the
// same Dataset and vocabulary concurrently.
type HierarchicalIterator struct {
	ds    *Dataset
	vocab *Vocab
	roles *RoleIndex
	bs    int
	opts  IteratorOptions
	log   *zap.Logger

	rng  *rand.Rand
	plan []*Batch
	pos  int

	droppedBatches  int // cumulative over the iterator's lifetime
	skippedNoTarget int // examples with no eligible target turn, per plan
}

// NewHierarchicalIterator builds an iterator over ds. The dataset's field
// must already carry a vocabulary. The role index is built from ds unless
// one is supplied via WithRoleIndex-style sharing (see NewHierarchicalIteratorWithRoles).
func NewHierarchicalIterator(ds *Dataset, batchSize int, opts IteratorOptions) (*HierarchicalIterator, error) {
	return NewHierarchicalIteratorWithRoles(ds, nil, batchSize, opts)
}

// NewHierarchicalIteratorWithRoles is NewHierarchicalIterator with an
// explicit role index, letting train/validation/test iterators share the
// role ids built from the training split. roles may be nil.
func NewHierarchicalIteratorWithRoles(ds *Dataset, roles *RoleIndex, batchSize int, opts IteratorOptions) (*HierarchicalIterator, error) {
	if ds == nil {
		return nil, errors.New("iterator: nil dataset")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("iterator: batch size %d must be positive", batchSize)
	}
	if !ds.Field().HasVocab() {
		return nil, errors.New("iterator: dataset field has no vocabulary; build it first")
	}
	if opts.MaxContextSize <= 0 {
		opts.MaxContextSize = params.DefaultMaxContextSize
	}
	if opts.Name == "" {
		opts.Name = "dialogues"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if roles == nil {
		roles = BuildRoleIndex(ds.Examples())
	}
	it := &HierarchicalIterator{
		ds:    ds,
		vocab: ds.Field().Vocab(),
		roles: roles,
		bs:    batchSize,
		opts:  opts,
		log:   logger,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
	it.buildPlan()
	return it, nil
}

// Name identifies the iterator to the training loop.
func (it *HierarchicalIterator) Name() string { return it.opts.Name }

// Len is the number of batches one full pass yields, after context-size
// filtering. Exposed for progress reporting.
func (it *HierarchicalIterator) Len() int { return len(it.plan) }

// DroppedBatches is the cumulative count of batches omitted because their
// context tensor would exceed MaxContextSize.
func (it *HierarchicalIterator) DroppedBatches() int { return it.droppedBatches }

// SkippedNoTarget is the per-plan count of dialogues without an eligible
// target turn under TargetRoles.
func (it *HierarchicalIterator) SkippedNoTarget() int { return it.skippedNoTarget }

// Roles returns the role index used for the role tensors.
func (it *HierarchicalIterator) Roles() *RoleIndex { return it.roles }

// Reset rewinds the iterator and rebuilds the epoch plan. With Shuffle set
// this draws a fresh example order; otherwise consecutive passes are
// identical.
func (it *HierarchicalIterator) Reset() {
	it.buildPlan()
}

// Next returns the next batch of the current pass, or ok=false at epoch
// end. Next and Yield share the same cursor.
func (it *HierarchicalIterator) Next() (*Batch, bool) {
	if it.pos >= len(it.plan) {
		return nil, false
	}
	b := it.plan[it.pos]
	it.pos++
	return b, true
}

// Yield implements the training runtime's Dataset contract: it returns the
// next batch as tensors, or io.EOF at epoch end (the caller then Resets).
func (it *HierarchicalIterator) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	b, ok := it.Next()
	if !ok {
		return nil, nil, nil, io.EOF
	}
	inputs, labels = b.Tensors()
	return nil, inputs, labels, nil
}

// buildPlan orders the examples, chunks them into batches, pads and
// numericalizes. Oversized batches are dropped here, silently for the
// consumer; the count is kept for observability.
func (it *HierarchicalIterator) buildPlan() {
	examples := make([]Example, len(it.ds.Examples()))
	copy(examples, it.ds.Examples())

	switch {
	case it.opts.Shuffle:
		it.rng.Shuffle(len(examples), func(i, j int) {
			examples[i], examples[j] = examples[j], examples[i]
		})
	case it.opts.SortBy == SortExamplesBySeqLen:
		sort.SliceStable(examples, func(i, j int) bool {
			return examples[i].MaxTurnLen() < examples[j].MaxTurnLen()
		})
	case it.opts.SortBy == SortExamplesByConvLen:
		sort.SliceStable(examples, func(i, j int) bool {
			return examples[i].NumTurns() < examples[j].NumTurns()
		})
	}

	it.plan = it.plan[:0]
	it.pos = 0
	it.skippedNoTarget = 0
	droppedThisPlan := 0

	kept := make([]Example, 0, len(examples))
	targets := make([]int, 0, len(examples))
	for _, ex := range examples {
		ti, ok := it.targetTurn(ex)
		if !ok {
			it.skippedNoTarget++
			it.log.Debug("skipping dialogue without target turn",
				zap.String("iterator", it.opts.Name),
				zap.String("conversation", ex.ConversationID))
			continue
		}
		kept = append(kept, ex)
		targets = append(targets, ti)
	}

	for start := 0; start < len(kept); start += it.bs {
		end := start + it.bs
		if end > len(kept) {
			end = len(kept)
		}
		batch := it.makeBatch(kept[start:end], targets[start:end])
		if batch.ContextSize > it.opts.MaxContextSize {
			it.droppedBatches++
			droppedThisPlan++
			it.log.Debug("dropping oversized batch",
				zap.String("iterator", it.opts.Name),
				zap.Int("context_size", batch.ContextSize),
				zap.Int("max_context_size", it.opts.MaxContextSize))
			continue
		}
		it.plan = append(it.plan, batch)
	}

	if droppedThisPlan > 0 || it.skippedNoTarget > 0 {
		it.log.Info("epoch plan built with filters",
			zap.String("iterator", it.opts.Name),
			zap.Int("batches", len(it.plan)),
			zap.Int("dropped_batches", droppedThisPlan),
			zap.Int("skipped_no_target", it.skippedNoTarget))
	}
	it.logPaddingWaste(examples)
}

// makeBatch pads and numericalizes one chunk of examples with their target
// turn indices.
func (it *HierarchicalIterator) makeBatch(kept []Example, targets []int) *Batch {
	maxTurns, maxLen, maxTargetLen := 0, 0, 0
	for i, ex := range kept {
		if ex.NumTurns() > maxTurns {
			maxTurns = ex.NumTurns()
		}
		for _, turn := range ex.Turns {
			if len(turn)+1 > maxLen { // +1 for the eos appended per turn
				maxLen = len(turn) + 1
			}
		}
		if l := len(ex.Turns[targets[i]]) + 1; l > maxTargetLen {
			maxTargetLen = l
		}
	}

	b := &Batch{
		Tokens:      make([][][]int32, len(kept)),
		Roles:       make([][]int32, len(kept)),
		Target:      make([][]int32, len(kept)),
		TargetPos:   make([]int32, len(kept)),
		ContextSize: len(kept) * maxTurns * maxLen,
	}
	for i, ex := range kept {
		dialogue := make([][]int32, maxTurns)
		roles := make([]int32, maxTurns)
		for t := 0; t < maxTurns; t++ {
			row := make([]int32, maxLen)
			for l := range row {
				row[l] = PadIndex
			}
			if t < ex.NumTurns() {
				it.numericalize(ex.Turns[t], row)
				roles[t] = int32(it.roles.ID(ex.Roles[t]))
			} else {
				roles[t] = PadRoleIndex
			}
			dialogue[t] = row
		}
		target := make([]int32, maxTargetLen)
		for l := range target {
			target[l] = PadIndex
		}
		it.numericalize(ex.Turns[targets[i]], target)

		b.Tokens[i] = dialogue
		b.Roles[i] = roles
		b.Target[i] = target
		b.TargetPos[i] = int32(targets[i])
	}
	return b
}

// numericalize fills dst (already pad-filled) with the turn's token ids
// followed by eos.
func (it *HierarchicalIterator) numericalize(turn []string, dst []int32) {
	for l, tok := range turn {
		dst[l] = int32(it.vocab.TokenToIndex(tok))
	}
	dst[len(turn)] = EOSIndex
}

// targetTurn picks the turn the model must generate: the last turn, or the
// last turn spoken by one of TargetRoles.
func (it *HierarchicalIterator) targetTurn(ex Example) (int, bool) {
	if ex.NumTurns() == 0 {
		return 0, false
	}
	if len(it.opts.TargetRoles) == 0 {
		return ex.NumTurns() - 1, true
	}
	for t := ex.NumTurns() - 1; t >= 0; t-- {
		for _, role := range it.opts.TargetRoles {
			if ex.Roles[t] == role {
				return t, true
			}
		}
	}
	return 0, false
}

// logPaddingWaste reports utterance-length dispersion; high stddev with
// bucketing disabled means the batch-local padding is doing a lot of work.
func (it *HierarchicalIterator) logPaddingWaste(examples []Example) {
	lengths := make([]float64, 0, len(examples)*4)
	for _, ex := range examples {
		for _, turn := range ex.Turns {
			lengths = append(lengths, float64(len(turn)))
		}
	}
	if len(lengths) < 2 {
		return
	}
	mean, std := stat.MeanStdDev(lengths, nil)
	it.log.Debug("utterance length distribution",
		zap.String("iterator", it.opts.Name),
		zap.Float64("mean", mean),
		zap.Float64("stddev", std),
		zap.Int("utterances", len(lengths)))
}
