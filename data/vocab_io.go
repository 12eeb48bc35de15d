package data

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Vocabulary persistence: the index->token list is written as a JSON array
// so token ids survive across runs (prepare once, train many times). The
// reserved slots are validated on load.

// SaveVocabJSON writes v's token list to path.
func SaveVocabJSON(v *Vocab, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create vocab %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", " ")
	if err := enc.Encode(v.itos); err != nil {
		return errors.Wrapf(err, "encode vocab %s", path)
	}
	return nil
}

// LoadVocabJSON reads a token list written by SaveVocabJSON.
func LoadVocabJSON(path string) (*Vocab, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read vocab %s", path)
	}
	var itos []string
	if err := json.Unmarshal(raw, &itos); err != nil {
		return nil, errors.Wrapf(err, "decode vocab %s", path)
	}
	v, err := NewVocab(itos)
	if err != nil {
		return nil, errors.Wrapf(err, "vocab %s", path)
	}
	return v, nil
}
