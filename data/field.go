package data

// Field couples a tokenizer with the vocabulary built over its output. The
// same *Field instance passed to several datasets (or several model data
// containers) makes them share one vocabulary.
//
// A Field is mutable only until its vocabulary exists; after that it is
// read-only and safe for concurrent readers.
type Field struct {
	tokenizer Tokenizer
	vocab     *Vocab
}

// NewField returns a Field using the given tokenizer, or WordTokenizer when
// nil.
func NewField(tokenizer Tokenizer) *Field {
	if tokenizer == nil {
		tokenizer = WordTokenizer
	}
	return &Field{tokenizer: tokenizer}
}

// Tokenize runs the field's tokenizer.
func (f *Field) Tokenize(text string) []string { return f.tokenizer(text) }

// Vocab returns the built vocabulary or nil.
func (f *Field) Vocab() *Vocab { return f.vocab }

// HasVocab reports whether a vocabulary has been built or supplied.
func (f *Field) HasVocab() bool { return f.vocab != nil }

// SetVocab installs a prebuilt vocabulary, enabling sharing across fields
// and models. It is a no-op once a vocabulary exists.
func (f *Field) SetVocab(v *Vocab) {
	if f.vocab == nil {
		f.vocab = v
	}
}

// BuildVocab builds the vocabulary from the examples unless one already
// exists, in which case the existing vocabulary is returned unchanged and
// the examples are not scanned. Building twice from the same inputs
// therefore yields identical indices.
func (f *Field) BuildVocab(examples []Example, opts VocabOptions) (*Vocab, error) {
	if f.vocab != nil {
		return f.vocab, nil
	}
	v, err := BuildVocab(examples, opts)
	if err != nil {
		return nil, err
	}
	f.vocab = v
	return v, nil
}
