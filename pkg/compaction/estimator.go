package compaction

import (
	"encoding/json"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/harun/ranya-engine/pkg/llm"
)

// per-message framing overhead added by chat formats
const messageOverhead = 4

// Estimator counts tokens in text
type Estimator interface {
	Count(text string) int
}

// TiktokenEstimator counts with the cl100k encoding. Other vendors tokenize
// differently; the guard threshold absorbs the difference.
type TiktokenEstimator struct {
	codec tokenizer.Codec
}

var (
	defaultCodecOnce sync.Once
	defaultCodec     tokenizer.Codec
)

// NewTiktokenEstimator loads the GPT-4 codec. If loading fails the
// estimator falls back to four characters per token.
func NewTiktokenEstimator() *TiktokenEstimator {
	defaultCodecOnce.Do(func() {
		codec, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			defaultCodec = codec
		}
	})
	return &TiktokenEstimator{codec: defaultCodec}
}

// Count returns the token count of text
func (e *TiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.codec == nil {
		return CharEstimate(text)
	}
	count, err := e.codec.Count(text)
	if err != nil {
		return CharEstimate(text)
	}
	return count
}

// CharEstimate approximates four characters per token
func CharEstimate(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// CharEstimator is an Estimator using CharEstimate
type CharEstimator struct{}

// Count implements Estimator
func (CharEstimator) Count(text string) int {
	return CharEstimate(text)
}

// MessageTokens estimates one transcript message including tool-call arguments
func MessageTokens(est Estimator, msg llm.Message) int {
	n := messageOverhead + est.Count(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += est.Count(tc.Name)
		if len(tc.Arguments) > 0 {
			if data, err := json.Marshal(tc.Arguments); err == nil {
				n += est.Count(string(data))
			}
		}
	}
	return n
}

// TranscriptTokens estimates the system prompt plus every message
func TranscriptTokens(est Estimator, systemPrompt string, t llm.Transcript) int {
	n := est.Count(systemPrompt)
	for _, msg := range t {
		n += MessageTokens(est, msg)
	}
	return n
}
