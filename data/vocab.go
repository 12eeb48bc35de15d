package data

import (
	"errors"
	"sort"
)

// Reserved tokens. Their indices are fixed at build time and never
// reassigned, so token ids stay stable across rebuilds from identical input.
const (
	PadToken = "<pad>"
	EOSToken = "<eos>"
	UnkToken = "<unk>"
	BOSToken = "<bos>"
)

// Indices of the reserved tokens in every Vocab.
const (
	PadIndex = 0
	EOSIndex = 1
	UnkIndex = 2
	BOSIndex = 3
)

var reserved = []string{PadToken, EOSToken, UnkToken, BOSToken}

// ErrNoVocabSource is returned when a vocabulary build is requested with no
// examples and no prebuilt vocabulary to fall back to.
var ErrNoVocabSource = errors.New("vocab: no examples to build from and no prebuilt vocabulary")

// VocabOptions tune a vocabulary build.
type VocabOptions struct {
	// MinFreq drops tokens seen fewer times than this. <=1 keeps everything.
	MinFreq int
	// MaxSize caps the vocabulary size including reserved and special
	// tokens. 0 means unbounded. Reserved tokens are never evicted.
	MaxSize int
	// Specials are extra tokens inserted right after the reserved four,
	// in the order given.
	Specials []string
}

// Vocab is an immutable token<->index mapping with the reserved pad/eos/
// unk/bos entries always present at fixed indices.
type Vocab struct {
	itos []string
	stoi map[string]int
}

// BuildVocab scans the examples once and assigns indices: reserved tokens
// first, then options.Specials, then corpus tokens by descending frequency
// with ties broken by first-seen order. The result is deterministic for a
// given example order.
func BuildVocab(examples []Example, opts VocabOptions) (*Vocab, error) {
	if len(examples) == 0 {
		return nil, ErrNoVocabSource
	}

	count := make(map[string]int)
	firstSeen := make(map[string]int)
	seq := 0
	for _, ex := range examples {
		for _, turn := range ex.Turns {
			for _, tok := range turn {
				if _, ok := count[tok]; !ok {
					firstSeen[tok] = seq
					seq++
				}
				count[tok]++
			}
		}
	}

	itos := make([]string, 0, len(count)+len(reserved)+len(opts.Specials))
	itos = append(itos, reserved...)
	pinned := make(map[string]bool, len(itos))
	for _, tok := range itos {
		pinned[tok] = true
	}
	for _, tok := range opts.Specials {
		if !pinned[tok] {
			itos = append(itos, tok)
			pinned[tok] = true
		}
	}

	ordered := make([]string, 0, len(count))
	for tok := range count {
		if pinned[tok] {
			continue
		}
		if opts.MinFreq > 1 && count[tok] < opts.MinFreq {
			continue
		}
		ordered = append(ordered, tok)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if count[a] != count[b] {
			return count[a] > count[b]
		}
		return firstSeen[a] < firstSeen[b]
	})

	for _, tok := range ordered {
		if opts.MaxSize > 0 && len(itos) >= opts.MaxSize {
			break
		}
		itos = append(itos, tok)
	}

	stoi := make(map[string]int, len(itos))
	for i, tok := range itos {
		stoi[tok] = i
	}
	return &Vocab{itos: itos, stoi: stoi}, nil
}

// NewVocab wraps a prebuilt index->token list, e.g. one exported from a
// trained BPE tokenizer. The reserved tokens must occupy their fixed slots.
func NewVocab(itos []string) (*Vocab, error) {
	if len(itos) < len(reserved) {
		return nil, errors.New("vocab: token list smaller than the reserved set")
	}
	for i, tok := range reserved {
		if itos[i] != tok {
			return nil, errors.New("vocab: reserved token " + tok + " not at its fixed index")
		}
	}
	cp := make([]string, len(itos))
	copy(cp, itos)
	stoi := make(map[string]int, len(cp))
	for i, tok := range cp {
		stoi[tok] = i
	}
	return &Vocab{itos: cp, stoi: stoi}, nil
}

// Len is the number of tokens including the reserved entries.
func (v *Vocab) Len() int { return len(v.itos) }

// TokenToIndex maps a token to its index, or UnkIndex for unseen tokens.
func (v *Vocab) TokenToIndex(tok string) int {
	if id, ok := v.stoi[tok]; ok {
		return id
	}
	return UnkIndex
}

// Has reports whether the token was assigned an index at build time.
func (v *Vocab) Has(tok string) bool {
	_, ok := v.stoi[tok]
	return ok
}

// IndexToToken maps an index back to its token. ok is false for indices
// outside the vocabulary.
func (v *Vocab) IndexToToken(idx int) (string, bool) {
	if idx < 0 || idx >= len(v.itos) {
		return "", false
	}
	return v.itos[idx], true
}
