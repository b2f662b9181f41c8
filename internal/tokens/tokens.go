// Package tokens estimates prompt token counts so the request validator can
// enforce a context budget before a request ever reaches a provider.
package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the chat-template framing tokens each
// message contributes on top of its content.
const perMessageOverhead = 4

// Estimator counts tokens with a cl100k_base codec. Counts are estimates:
// provider-side tokenization may differ slightly, so callers should treat
// them as budget guards, not billing figures.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewEstimator creates an estimator. The codec is loaded lazily on first use
// so construction never fails.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) load() (tokenizer.Codec, error) {
	e.once.Do(func() {
		e.codec, e.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if e.err != nil {
		return nil, fmt.Errorf("load tokenizer codec: %w", e.err)
	}
	return e.codec, nil
}

// Count returns the token count for a single piece of text.
func (e *Estimator) Count(text string) (int, error) {
	codec, err := e.load()
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("encode text: %w", err)
	}
	return len(ids), nil
}

// CountMessages estimates the total prompt tokens for a message plus its
// history, including per-message framing overhead.
func (e *Estimator) CountMessages(message string, history []string) (int, error) {
	total, err := e.Count(message)
	if err != nil {
		return 0, err
	}
	total += perMessageOverhead

	for _, h := range history {
		n, err := e.Count(h)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}
