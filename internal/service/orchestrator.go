package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nfrag/internal/domain"
	"nfrag/internal/llm"
	"nfrag/internal/rag"
	"nfrag/internal/session"
)

// Preamble restricts the assistant to questions about the invoice data.
const Preamble = "Você é um assistente especializado em análise de Notas Fiscais. " +
	"Responda perguntas como: fornecedor que recebeu mais, item mais comprado, cidade com maior volume de compras, qual item está presente na NF, " +
	"ou qualquer análise baseada nos dados das Notas Fiscais presentes nos arquivos CSV. Sua análise deve ser exclusivamente nos dados que estão nos arquivos .csv" +
	"Se a pergunta não for sobre Notas Fiscais, responda: 'Desculpe, só posso responder sobre Notas Fiscais.'"

var (
	// ErrInvalidRequest is returned when the client id or question is blank.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrGeneration wraps failures of the retrieval and generation step.
	ErrGeneration = errors.New("generation failed")
)

// Retriever finds the chunks most relevant to a query.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error)
}

type Answer struct {
	Text    string
	Sources []domain.SearchResult
	Usage   llm.Usage
	// Cost is the estimated USD cost of the exchange.
	Cost float64
}

// Orchestrator answers questions within per-client conversations.
type Orchestrator struct {
	sessions  *session.Manager
	chain     *rag.Chain
	retriever Retriever
	pricing   llm.Pricing
	preamble  string
	logger    *slog.Logger
}

type Config struct {
	Pricing llm.Pricing
	// Preamble overrides the default system preamble when set.
	Preamble string
}

func NewOrchestrator(sessions *session.Manager, chain *rag.Chain, retriever Retriever, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Preamble == "" {
		cfg.Preamble = Preamble
	}
	return &Orchestrator{
		sessions:  sessions,
		chain:     chain,
		retriever: retriever,
		pricing:   cfg.Pricing,
		preamble:  cfg.Preamble,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Answer runs one exchange for clientID. On failure the session is left
// exactly as it was.
func (o *Orchestrator) Answer(ctx context.Context, clientID, question string) (*Answer, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(question) == "" {
		return nil, ErrInvalidRequest
	}
	unlock, err := o.sessions.Lock(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	sess, err := o.sessions.GetOrCreate(ctx, clientID)
	if err != nil {
		return nil, err
	}
	o.sessions.EnsurePreamble(sess, o.preamble)

	res, err := o.chain.Run(ctx, question, sess.History(), o.retriever.Query)
	if err != nil {
		o.logger.Error("failed to answer question", "client_id", clientID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if err := o.sessions.AppendTurn(ctx, sess, question, res.Answer); err != nil {
		return nil, err
	}

	cost := o.pricing.Cost(res.Model, res.Usage)
	o.logger.Info("usage metrics",
		"client_id", clientID,
		"total_tokens", res.Usage.TotalTokens,
		"prompt_tokens", res.Usage.PromptTokens,
		"completion_tokens", res.Usage.CompletionTokens,
		"estimated_cost_usd", fmt.Sprintf("%.5f", cost),
		"usage_estimated", res.Usage.Estimated,
		"sources", len(res.Sources),
		"took", time.Since(start).String(),
	)
	return &Answer{Text: res.Answer, Sources: res.Sources, Usage: res.Usage, Cost: cost}, nil
}

// Sessions returns the number of stored conversations.
func (o *Orchestrator) Sessions(ctx context.Context) (int, error) {
	return o.sessions.Len(ctx)
}
