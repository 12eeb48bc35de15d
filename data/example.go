package data

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/convforge/dialogue/params"
)

// Example is one conversation: an ordered sequence of tokenized utterances
// with the parallel role sequence. Order is fixed at construction and never
// changes afterwards.
type Example struct {
	ConversationID string
	Turns          [][]string // tokens per utterance, in conversation order
	Roles          []string   // Roles[i] is the speaker of Turns[i]
}

// NumTurns is the number of utterances in the conversation.
func (e *Example) NumTurns() int { return len(e.Turns) }

// MaxTurnLen is the token count of the longest utterance.
func (e *Example) MaxTurnLen() int {
	max := 0
	for _, t := range e.Turns {
		if len(t) > max {
			max = len(t)
		}
	}
	return max
}

// TotalTokens is the token count across all utterances.
func (e *Example) TotalTokens() int {
	n := 0
	for _, t := range e.Turns {
		n += len(t)
	}
	return n
}

// EmptyDialogueError describes a conversation group that yielded no usable
// utterances after tokenization. The builder records it and moves on; it is
// not fatal.
type EmptyDialogueError struct {
	ConversationID string
}

func (e *EmptyDialogueError) Error() string {
	return fmt.Sprintf("dialogue %q has no usable utterances", e.ConversationID)
}

// SortSpec orders the utterances within each conversation. Construct one
// with SortNumeric, SortLexical or SortFunc.
type SortSpec struct {
	mode sortMode
	less func(a, b Record) bool
}

type sortMode int

const (
	sortNumeric sortMode = iota
	sortLexical
	sortCustom
)

// SortNumeric orders utterances by the sort key parsed as a number
// (timestamps, turn counters). A non-numeric sort value is a malformed
// record.
func SortNumeric() SortSpec { return SortSpec{mode: sortNumeric} }

// SortLexical orders utterances by the string form of the sort key.
func SortLexical() SortSpec { return SortSpec{mode: sortLexical} }

// SortFunc orders utterances with a caller-supplied comparator.
func SortFunc(less func(a, b Record) bool) SortSpec {
	return SortSpec{mode: sortCustom, less: less}
}

// BuilderConfig configures example construction from raw records.
type BuilderConfig struct {
	// Keys carries the raw field names, used only for error reporting here;
	// records are already extracted.
	Keys RecordKeys
	// Sort orders utterances within each conversation. Defaults to
	// SortNumeric.
	Sort SortSpec
	// MaxSL drops whole conversations whose longest utterance exceeds this
	// many tokens. 0 means params.DefaultMaxSL.
	MaxSL int
	// Logger receives skip/drop diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// BuildStats counts the lossy, non-fatal filters applied during example
// construction.
type BuildStats struct {
	Examples          int
	SkippedEmpty      int // conversation groups with no usable utterance
	DroppedOverlength int // conversations with an utterance longer than MaxSL
	Empty             []EmptyDialogueError
}

// BuildExamples groups raw records by conversation, orders each group by
// the configured sort key (stable; ties keep original record order),
// tokenizes utterances with the field's tokenizer and applies the MaxSL
// filter. Conversation order follows first appearance in the record stream,
// keeping the result deterministic for a given input.
func BuildExamples(field *Field, records []Record, cfg BuilderConfig) ([]Example, BuildStats, error) {
	maxSL := cfg.MaxSL
	if maxSL <= 0 {
		maxSL = params.DefaultMaxSL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	groups := make(map[string][]Record)
	order := make([]string, 0)
	for _, rec := range records {
		if _, ok := groups[rec.Group]; !ok {
			order = append(order, rec.Group)
		}
		groups[rec.Group] = append(groups[rec.Group], rec)
	}

	var stats BuildStats
	examples := make([]Example, 0, len(order))
	for _, id := range order {
		recs := groups[id]
		if err := sortGroup(recs, cfg.Sort, cfg.Keys.Sort); err != nil {
			return nil, stats, err
		}

		ex := Example{ConversationID: id}
		for _, rec := range recs {
			tokens := field.Tokenize(rec.Text)
			if len(tokens) == 0 {
				continue
			}
			ex.Turns = append(ex.Turns, tokens)
			ex.Roles = append(ex.Roles, rec.Role)
		}
		if len(ex.Turns) == 0 {
			stats.SkippedEmpty++
			stats.Empty = append(stats.Empty, EmptyDialogueError{ConversationID: id})
			logger.Debug("skipping empty dialogue", zap.String("conversation", id))
			continue
		}
		if ex.MaxTurnLen() > maxSL {
			stats.DroppedOverlength++
			logger.Debug("dropping overlength dialogue",
				zap.String("conversation", id),
				zap.Int("max_turn_len", ex.MaxTurnLen()),
				zap.Int("max_sl", maxSL))
			continue
		}
		examples = append(examples, ex)
	}
	stats.Examples = len(examples)
	if stats.SkippedEmpty > 0 || stats.DroppedOverlength > 0 {
		logger.Info("example construction filters applied",
			zap.Int("examples", stats.Examples),
			zap.Int("skipped_empty", stats.SkippedEmpty),
			zap.Int("dropped_overlength", stats.DroppedOverlength))
	}
	return examples, stats, nil
}

func sortGroup(recs []Record, spec SortSpec, sortKey string) error {
	if sortKey == "" {
		sortKey = "sort"
	}
	// Sort keys are extracted up front and indexed by Seq so they travel
	// with their record through the swaps. An unusable sort value is a
	// malformed record under both key-based modes.
	switch spec.mode {
	case sortNumeric:
		vals := make(map[int]float64, len(recs))
		for _, rec := range recs {
			v, ok := numericValue(rec.Sort)
			if !ok {
				return &MalformedRecordError{Index: rec.Seq, Key: sortKey}
			}
			vals[rec.Seq] = v
		}
		sort.SliceStable(recs, func(i, j int) bool { return vals[recs[i].Seq] < vals[recs[j].Seq] })
	case sortLexical:
		vals := make(map[int]string, len(recs))
		for _, rec := range recs {
			s, ok := stringValue(rec.Sort)
			if !ok {
				return &MalformedRecordError{Index: rec.Seq, Key: sortKey}
			}
			vals[rec.Seq] = s
		}
		sort.SliceStable(recs, func(i, j int) bool { return vals[recs[i].Seq] < vals[recs[j].Seq] })
	case sortCustom:
		sort.SliceStable(recs, func(i, j int) bool { return spec.less(recs[i], recs[j]) })
	}
	return nil
}

func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
