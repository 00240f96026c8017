package convlog

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter caches tiktoken encodings per model. When no encoding
// can be loaded it falls back to a character-based estimate so title
// generation keeps working offline.
type tokenCounter struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	return &tokenCounter{cache: make(map[string]*tiktoken.Tiktoken)}
}

func (tc *tokenCounter) encodingFor(model string) *tiktoken.Tiktoken {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if enc, ok := tc.cache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	tc.cache[model] = enc
	return enc
}

// Count returns the token count of text for model, or an estimate of
// one token per four characters when no encoding is available.
func (tc *tokenCounter) Count(model, text string) int {
	enc := tc.encodingFor(model)
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
