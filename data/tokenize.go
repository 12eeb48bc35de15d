package data

import (
	"regexp"
	"strings"

	"github.com/sugarme/tokenizer/pretrained"
)

// Tokenizer splits raw utterance text into tokens. The vocabulary is built
// over whatever a Tokenizer returns, so the same Tokenizer must be used for
// every split that shares a Field.
type Tokenizer func(text string) []string

// Words plus standalone punctuation; apostrophes stay inside words so
// "don't" is one token.
var wordRE = regexp.MustCompile(`[a-z0-9]+(?:'[a-z0-9]+)?|[^\sa-z0-9]`)

// WordTokenizer lowercases and splits into words and punctuation marks.
// This is the default tokenizer for a Field.
func WordTokenizer(text string) []string {
	return wordRE.FindAllString(strings.ToLower(text), -1)
}

// WhitespaceTokenizer splits on whitespace only, preserving case.
func WhitespaceTokenizer(text string) []string {
	return strings.Fields(text)
}

// BPETokenizer loads a trained tokenizer.json (sugarme/tokenizer format) and
// wraps it as a Tokenizer. Text that fails to encode yields no tokens; the
// example builder then treats the utterance as empty.
func BPETokenizer(path string) (Tokenizer, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, err
	}
	return func(text string) []string {
		enc, err := t.EncodeSingle(text)
		if err != nil || enc == nil {
			return nil
		}
		return enc.Tokens
	}, nil
}
