package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nfrag/internal/domain"
	"nfrag/internal/llm"
	"nfrag/internal/session"
)

// DefaultTopK is how many chunks are stuffed into the answer prompt.
const DefaultTopK = 4

// RetrieveFunc returns the k chunks most relevant to query.
type RetrieveFunc func(ctx context.Context, query string, k int) ([]domain.SearchResult, error)

type Result struct {
	Answer string
	// Question is the standalone question used for retrieval and answering.
	Question string
	Sources  []domain.SearchResult
	Usage    llm.Usage
	Model    string
}

// Chain answers a follow-up question using conversation history and retrieved context.
type Chain struct {
	llm    llm.Completer
	topK   int
	logger *slog.Logger
}

func NewChain(completer llm.Completer, topK int, logger *slog.Logger) *Chain {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{llm: completer, topK: topK, logger: logger.With("component", "rag")}
}

// Run condenses the question against history when there is a prior
// exchange, retrieves context for it and asks the model.
func (c *Chain) Run(ctx context.Context, question string, history []session.Message, retrieve RetrieveFunc) (Result, error) {
	var res Result
	res.Question = question

	if hasExchange(history) {
		out, err := c.llm.Complete(ctx, []llm.Message{{Role: "user", Content: condensePrompt(history, question)}})
		if err != nil {
			return Result{}, fmt.Errorf("condense question: %w", err)
		}
		res.Usage = res.Usage.Add(out.Usage)
		if q := strings.TrimSpace(out.Content); q != "" {
			res.Question = q
		}
		c.logger.Debug("condensed question", "question", res.Question)
	}

	sources, err := retrieve(ctx, res.Question, c.topK)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve context: %w", err)
	}
	res.Sources = sources

	texts := make([]string, len(sources))
	for i, s := range sources {
		texts[i] = s.Chunk.Text
	}
	system := qaSystemPrompt(strings.Join(texts, "\n\n"))
	if pre := preamble(history); pre != "" {
		system = pre + "\n\n" + system
	}
	out, err := c.llm.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: res.Question},
	})
	if err != nil {
		return Result{}, fmt.Errorf("answer question: %w", err)
	}
	res.Answer = out.Content
	res.Model = out.Model
	res.Usage = res.Usage.Add(out.Usage)
	return res, nil
}

func hasExchange(history []session.Message) bool {
	for _, m := range history {
		if m.Role == session.RoleUser {
			return true
		}
	}
	return false
}

// preamble returns the retained system instructions, if any.
func preamble(history []session.Message) string {
	var parts []string
	for _, m := range history {
		if m.Role == session.RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}
