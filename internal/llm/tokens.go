package llm

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens of a text.
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding. The encoding is
// loaded on first use; if it cannot be loaded, a four-bytes-per-token
// approximation is used instead.
type TiktokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

func NewTiktokenCounter() *TiktokenCounter { return &TiktokenCounter{} }

func (tc *TiktokenCounter) CountTokens(text string) int {
	tc.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("failed to get tiktoken encoding, approximating token counts", "error", err)
			return
		}
		tc.encoding = enc
	})
	if tc.encoding == nil {
		return approxTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

func approxTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, utf8.RuneCountInString(text)/4)
}

func estimateUsage(tc TokenCounter, messages []Message, reply string) Usage {
	prompt := 0
	for _, m := range messages {
		prompt += tc.CountTokens(m.Content)
	}
	completion := tc.CountTokens(reply)
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}
