package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfrag/internal/domain"
	"nfrag/internal/llm"
	"nfrag/internal/rag"
	"nfrag/internal/session"
)

type scriptedLLM struct {
	mu    sync.Mutex
	err   error
	calls [][]llm.Message
}

func (s *scriptedLLM) Model() string { return "sonar" }

func (s *scriptedLLM) Complete(_ context.Context, msgs []llm.Message) (llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msgs)
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	last := msgs[len(msgs)-1].Content
	return llm.Completion{
		Content: "resposta para: " + last,
		Model:   "sonar",
		Usage:   llm.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000},
	}, nil
}

type staticRetriever []domain.SearchResult

func (r staticRetriever) Query(context.Context, string, int) ([]domain.SearchResult, error) {
	return r, nil
}

func newTestOrchestrator(t *testing.T, model llm.Completer) (*Orchestrator, *session.Manager) {
	t.Helper()
	return newTestOrchestratorWindow(t, model, 3)
}

func newTestOrchestratorWindow(t *testing.T, model llm.Completer, k int) (*Orchestrator, *session.Manager) {
	t.Helper()
	sessions, err := session.NewManager(session.NewMemoryStore(0, 0), session.Config{WindowSize: k})
	require.NoError(t, err)
	o := NewOrchestrator(sessions, rag.NewChain(model, 4, nil), staticRetriever{
		{Chunk: domain.Chunk{ChunkID: "merged:0", Text: "PAPELARIA CENTRAL  CANETA"}, Score: 1},
	}, Config{Pricing: llm.Pricing{"sonar": {InputPer1K: 0.001, OutputPer1K: 0.002}}}, nil)
	return o, sessions
}

func TestAnswer_Success(t *testing.T) {
	model := &scriptedLLM{}
	o, sessions := newTestOrchestrator(t, model)
	ctx := context.Background()

	ans, err := o.Answer(ctx, "c1", "Quem vendeu canetas?")
	require.NoError(t, err)
	assert.Equal(t, "resposta para: Quem vendeu canetas?", ans.Text)
	assert.Len(t, ans.Sources, 1)
	assert.InDelta(t, 0.003, ans.Cost, 1e-12)

	// The preamble reaches the model through the answer prompt.
	require.Len(t, model.calls, 1)
	assert.Contains(t, model.calls[0][0].Content, Preamble)

	sess, err := sessions.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	h := sess.History()
	require.Len(t, h, 3)
	assert.Equal(t, session.Message{Role: session.RoleSystem, Content: Preamble}, h[0])
	assert.Equal(t, []session.Turn{{Question: "Quem vendeu canetas?", Answer: ans.Text}}, sess.Turns())

	n, err := o.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAnswer_InvalidRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedLLM{})
	for _, tc := range []struct{ client, question string }{
		{"", "pergunta"},
		{"c1", ""},
		{"c1", "   "},
	} {
		_, err := o.Answer(context.Background(), tc.client, tc.question)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	n, _ := o.Sessions(context.Background())
	assert.Equal(t, 0, n)
}

func TestAnswer_FailureLeavesSessionUntouched(t *testing.T) {
	model := &scriptedLLM{}
	o, sessions := newTestOrchestrator(t, model)
	ctx := context.Background()

	_, err := o.Answer(ctx, "c1", "primeira")
	require.NoError(t, err)
	before, err := sessions.GetOrCreate(ctx, "c1")
	require.NoError(t, err)

	model.err = llm.ErrTimeout
	_, err = o.Answer(ctx, "c1", "segunda")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, llm.ErrTimeout)

	after, err := sessions.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, before.History(), after.History())

	// A failed first question does not create a session.
	_, err = o.Answer(ctx, "c2", "primeira")
	require.Error(t, err)
	n, _ := o.Sessions(ctx)
	assert.Equal(t, 1, n)
}

func TestAnswer_WindowAcrossExchanges(t *testing.T) {
	o, sessions := newTestOrchestrator(t, &scriptedLLM{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := o.Answer(ctx, "c1", fmt.Sprintf("pergunta %d", i))
		require.NoError(t, err)
	}
	sess, err := sessions.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	turns := sess.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "pergunta 3", turns[0].Question)
	assert.Equal(t, "pergunta 5", turns[2].Question)
}

func TestAnswer_ConcurrentClientsIsolated(t *testing.T) {
	o, sessions := newTestOrchestrator(t, &scriptedLLM{})
	ctx := context.Background()
	var wg sync.WaitGroup
	for c := 0; c < 5; c++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := o.Answer(ctx, id, id+" pergunta")
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("c%d", c))
	}
	wg.Wait()
	for c := 0; c < 5; c++ {
		id := fmt.Sprintf("c%d", c)
		sess, err := sessions.GetOrCreate(ctx, id)
		require.NoError(t, err)
		for _, turn := range sess.Turns() {
			assert.Equal(t, id+" pergunta", turn.Question)
		}
	}
}

// slowLLM yields inside every call so unsynchronised read-modify-write
// cycles on one session would interleave.
type slowLLM struct{ scriptedLLM }

func (s *slowLLM) Complete(ctx context.Context, msgs []llm.Message) (llm.Completion, error) {
	time.Sleep(2 * time.Millisecond)
	return s.scriptedLLM.Complete(ctx, msgs)
}

func TestAnswer_ConcurrentSameClientKeepsEveryTurn(t *testing.T) {
	const n = 12
	o, sessions := newTestOrchestratorWindow(t, &slowLLM{}, n)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.Answer(ctx, "c1", fmt.Sprintf("pergunta %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, err := sessions.GetOrCreate(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns(), n)
	system := 0
	for _, msg := range sess.History() {
		if msg.Role == session.RoleSystem {
			system++
		}
	}
	assert.Equal(t, 1, system)
}

// gatedLLM blocks calls whose question contains "aguarde" until release is closed.
type gatedLLM struct {
	scriptedLLM
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLLM) Complete(ctx context.Context, msgs []llm.Message) (llm.Completion, error) {
	if strings.Contains(msgs[len(msgs)-1].Content, "aguarde") {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return llm.Completion{}, ctx.Err()
		}
	}
	return g.scriptedLLM.Complete(ctx, msgs)
}

func TestAnswer_DistinctClientsDoNotSerialize(t *testing.T) {
	model := &gatedLLM{entered: make(chan struct{}), release: make(chan struct{})}
	o, _ := newTestOrchestrator(t, model)
	ctx := context.Background()

	blocked := make(chan error, 1)
	go func() {
		_, err := o.Answer(ctx, "client-a", "aguarde")
		blocked <- err
	}()
	<-model.entered

	// Enough ids that any fixed set of shared locks would collide with client-a.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_, err := o.Answer(ctx, fmt.Sprintf("client-%d", i), "quem vendeu canetas?")
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("other clients waited behind client-a")
	}

	close(model.release)
	require.NoError(t, <-blocked)
}

func TestAnswer_SessionStoreError(t *testing.T) {
	boom := errors.New("store down")
	sessions, err := session.NewManager(failingStore{boom}, session.Config{})
	require.NoError(t, err)
	o := NewOrchestrator(sessions, rag.NewChain(&scriptedLLM{}, 4, nil), staticRetriever{}, Config{}, nil)
	_, err = o.Answer(context.Background(), "c1", "q")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (*session.Session, error) { return nil, f.err }
func (f failingStore) Put(context.Context, *session.Session) error           { return f.err }
func (f failingStore) Len(context.Context) (int, error)                      { return 0, f.err }
