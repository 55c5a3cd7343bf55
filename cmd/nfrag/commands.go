package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"nfrag/internal/client"
	"nfrag/internal/httpapi"
	"nfrag/internal/index"
	"nfrag/internal/rag"
	"nfrag/internal/service"
	"nfrag/internal/tui"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg

	embedder, err := a.newEmbedder()
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	opts := a.indexOptions()
	var ix *index.Index
	if cmd.Bool("reuse-index") {
		ix, err = index.Open(ctx, embedder, store, opts...)
		if err != nil {
			a.logger.Warn("failed to reuse stored index, rebuilding", "error", err)
		}
	}
	if ix == nil {
		// A failed load leaves an empty index; the server starts anyway.
		res := a.newLoader().Load(ctx, cfg.Data.HeadersPath, cfg.Data.ItemsPath)
		ix, err = index.Build(ctx, embedder, store, res.Chunks, opts...)
		if err != nil {
			return fmt.Errorf("build index: %w", err)
		}
	}

	sessions, closeSessions, err := a.newSessions(ctx)
	if err != nil {
		return err
	}
	defer closeSessions()

	model, err := a.newLLM()
	if err != nil {
		return err
	}
	chain := rag.NewChain(model, cfg.Retrieval.TopK, a.logger)
	orch := service.NewOrchestrator(sessions, chain, ix, service.Config{Pricing: a.pricing()}, a.logger)

	srv := httpapi.NewServer(httpapi.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}, orch, ix, a.logger)
	return srv.Run(ctx)
}

func indexBuildAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if a.cfg.VectorStore.Type == "memory" {
		return errors.New("index build needs a persisted vector store (badger, qdrant or pgvector)")
	}

	res := a.newLoader().Load(ctx, a.cfg.Data.HeadersPath, a.cfg.Data.ItemsPath)
	if res.Err != nil {
		return res.Err
	}

	embedder, err := a.newEmbedder()
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	ix, err := index.Build(ctx, embedder, store, res.Chunks, a.indexOptions()...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ix.Manifest())
}

func clientID(cmd *cli.Command) string {
	if id := cmd.String("client-id"); id != "" {
		return id
	}
	return "cli-" + uuid.NewString()
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return errors.New("usage: nfrag ask <question>")
	}
	answer, err := client.New(cmd.String("server"), 0).Ask(ctx, clientID(cmd), question)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func chatAction(ctx context.Context, cmd *cli.Command) error {
	c := client.New(cmd.String("server"), 0)
	m := tui.New(c, clientID(cmd), 0)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
