package ai

import (
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tokenizer used to estimate prompt sizes.
const DefaultEncoding = "o200k_base"

// TokenCounter returns the number of tokens in text.
type TokenCounter func(text string) int

// NewTokenCounter loads the given tiktoken encoding. Loading may download the
// BPE ranks on first use, so it belongs in startup code.
func NewTokenCounter(encoding string) (TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}
