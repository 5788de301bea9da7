package process

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// DefaultEncoding is used when no encoding is configured
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens of markdown text. Safe for concurrent use.
type Tokenizer struct {
	encoding string
	codec    tokenizer.Codec
}

// NewTokenizer loads the codec for encoding ("cl100k_base", "o200k_base", "p50k_base", "p50k_edit", "r50k_base").
// An empty encoding selects DefaultEncoding.
func NewTokenizer(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	var enc tokenizer.Encoding
	switch encoding {
	case "cl100k_base":
		enc = tokenizer.Cl100kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	default:
		return nil, fmt.Errorf("unknown token encoding %q", encoding)
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("loading token encoding %q: %w", encoding, err)
	}
	return &Tokenizer{encoding: encoding, codec: codec}, nil
}

// Encoding returns the encoding name
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// Count returns the token count of text, or -1 when encoding fails.
// A nil tokenizer also returns -1.
func (t *Tokenizer) Count(text string) int {
	if t == nil || t.codec == nil {
		return -1
	}
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}
