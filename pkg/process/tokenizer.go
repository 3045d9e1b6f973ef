package process

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/Sriram-PR/doc-site/pkg/utils"
)

// DefaultEncoding is used when no tokenizer encoding is configured.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts tokens of document sources with a fixed tiktoken encoding.
// Codecs are read-only after construction, so a TokenCounter is safe for concurrent use.
type TokenCounter struct {
	encoding string
	codec    tokenizer.Codec
}

// NewTokenCounter loads the codec for encoding.
// Supported encodings: "cl100k_base", "o200k_base", "p50k_base", "p50k_edit", "r50k_base".
// An empty encoding selects DefaultEncoding.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	var enc tokenizer.Encoding
	switch encoding {
	case "cl100k_base":
		enc = tokenizer.Cl100kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "p50k_edit":
		enc = tokenizer.P50kEdit
	case "r50k_base":
		enc = tokenizer.R50kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer encoding '%s'", utils.ErrConfigValidation, encoding)
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer '%s': %w", encoding, err)
	}
	return &TokenCounter{encoding: encoding, codec: codec}, nil
}

// Encoding returns the name of the loaded encoding.
func (tc *TokenCounter) Encoding() string {
	if tc == nil {
		return ""
	}
	return tc.encoding
}

// Count returns the token count for text.
// Returns -1 on a nil counter or when encoding fails,
// so callers can distinguish "not available" from a real zero count.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return -1
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}
