package data

import (
	"go.uber.org/zap"

	"github.com/convforge/dialogue/params"
)

// Dataset is an immutable collection of dialogue examples sharing a Field.
type Dataset struct {
	field    *Field
	examples []Example
	stats    BuildStats
}

// NewDataset wraps already-built examples. The slice is not copied; the
// caller must not mutate it afterwards.
func NewDataset(field *Field, examples []Example) *Dataset {
	return &Dataset{field: field, examples: examples}
}

// Field returns the shared field.
func (d *Dataset) Field() *Field { return d.field }

// Examples returns the example slice. Read-only.
func (d *Dataset) Examples() []Example { return d.examples }

// Len is the number of examples.
func (d *Dataset) Len() int { return len(d.examples) }

// Stats reports the filters applied while this dataset was built. Zero for
// datasets constructed directly from in-memory examples.
func (d *Dataset) Stats() BuildStats { return d.stats }

// RoleIndex maps role labels to ids for the role tensors. Id 0 is reserved
// for turn padding and id 1 for roles unseen at build time; real roles are
// numbered in first-seen order, so the mapping is deterministic for a given
// dataset.
type RoleIndex struct {
	ids   map[string]int
	names []string
}

// Reserved role ids.
const (
	PadRoleIndex = 0
	UnkRoleIndex = 1
)

// BuildRoleIndex scans the examples in order and assigns role ids.
func BuildRoleIndex(examples []Example) *RoleIndex {
	ri := &RoleIndex{
		ids:   map[string]int{},
		names: []string{"<pad>", "<unk>"},
	}
	for _, ex := range examples {
		for _, role := range ex.Roles {
			if _, ok := ri.ids[role]; !ok {
				ri.ids[role] = len(ri.names)
				ri.names = append(ri.names, role)
			}
		}
	}
	return ri
}

// ID maps a role label to its id, UnkRoleIndex for unseen roles.
func (ri *RoleIndex) ID(role string) int {
	if id, ok := ri.ids[role]; ok {
		return id
	}
	return UnkRoleIndex
}

// Len is the number of role ids including the two reserved ones.
func (ri *RoleIndex) Len() int { return len(ri.names) }

// SplitConfig drives Splits: one shared field, up to three dataset files.
type SplitConfig struct {
	// Path is the working directory for the on-disk example cache. Empty
	// disables caching.
	Path string

	TrainPath      string
	ValidationPath string
	TestPath       string // optional; empty means no test split

	Keys  RecordKeys
	Sort  SortSpec
	MaxSL int

	// Reset ignores and rewrites any existing example cache. Cache
	// invalidation is caller-driven; content changes alone do not
	// invalidate it.
	Reset bool

	Logger *zap.Logger
}

// Splits builds the train/validation/test datasets from JSON files, sharing
// one Field (and therefore one vocabulary). test is nil when no test path
// is configured.
func Splits(field *Field, cfg SplitConfig) (train, validation, test *Dataset, err error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSL <= 0 {
		cfg.MaxSL = params.DefaultMaxSL
	}

	load := func(path string) (*Dataset, error) {
		if path == "" {
			return nil, nil
		}
		if !cfg.Reset {
			if examples, ok := loadExampleCache(cfg.Path, path); ok {
				logger.Info("using cached examples",
					zap.String("dataset", path),
					zap.Int("examples", len(examples)))
				return &Dataset{field: field, examples: examples}, nil
			}
		}
		records, err := DecodeRecordFile(path, cfg.Keys)
		if err != nil {
			return nil, err
		}
		examples, stats, err := BuildExamples(field, records, BuilderConfig{
			Keys:   cfg.Keys,
			Sort:   cfg.Sort,
			MaxSL:  cfg.MaxSL,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Path != "" {
			if err := saveExampleCache(cfg.Path, path, examples); err != nil {
				logger.Warn("examples built but cache write failed",
					zap.String("dataset", path), zap.Error(err))
			}
		}
		return &Dataset{field: field, examples: examples, stats: stats}, nil
	}

	if train, err = load(cfg.TrainPath); err != nil {
		return nil, nil, nil, err
	}
	if validation, err = load(cfg.ValidationPath); err != nil {
		return nil, nil, nil, err
	}
	if test, err = load(cfg.TestPath); err != nil {
		return nil, nil, nil, err
	}
	return train, validation, test, nil
}
