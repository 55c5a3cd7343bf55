package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"nfrag/internal/chunker"
	"nfrag/internal/config"
	"nfrag/internal/domain"
	"nfrag/internal/embedding/openai"
	"nfrag/internal/embedding/tfidf"
	"nfrag/internal/index"
	"nfrag/internal/ingest"
	"nfrag/internal/llm"
	"nfrag/internal/logging"
	"nfrag/internal/session"
	"nfrag/internal/vectorstore/badger"
	"nfrag/internal/vectorstore/memory"
	"nfrag/internal/vectorstore/pgvector"
	"nfrag/internal/vectorstore/qdrant"
)

type app struct {
	cfg    *config.AppConfig
	logger *slog.Logger
}

// setup loads the env file, the config and the logger.
func setup(cmd *cli.Command) (*app, error) {
	if envFile := cmd.String("env"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	var cfg *config.AppConfig
	var err error
	if path := cmd.String("config"); path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, nil)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) newEmbedder() (domain.Embedder, error) {
	switch a.cfg.Embedder.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := a.cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKey:     oc.APIKey,
			Model:      oc.Model,
			Dimensions: oc.Dimensions,
			BatchSize:  oc.BatchSize,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown embedder: %s", a.cfg.Embedder.Type)
}

func (a *app) openStore(ctx context.Context) (domain.VectorStore, error) {
	vc := a.cfg.VectorStore
	switch vc.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "badger":
		return badger.Open(vc.Badger.Dir, a.logger)
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        vc.Qdrant.URL,
			APIKey:     vc.Qdrant.APIKey,
			Collection: vc.Qdrant.Collection,
			Timeout:    time.Duration(vc.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "pgvector":
		return pgvector.Open(ctx, vc.PGVector.DSN, vc.PGVector.Table)
	}
	return nil, fmt.Errorf("unknown vector store: %s", vc.Type)
}

func (a *app) indexOptions() []index.Option {
	opts := []index.Option{index.WithLogger(a.logger)}
	if w := a.cfg.Embedder.Workers; w > 0 {
		opts = append(opts, index.WithWorkers(w))
	}
	return opts
}

func (a *app) newLoader() *ingest.Loader {
	dc := a.cfg.Data
	ch := chunker.NewCharacterChunker(a.cfg.Chunker.Size, a.cfg.Chunker.Overlap)
	return ingest.NewLoader(ch, ingest.Options{
		HeaderMaxRows: dc.HeaderMaxRows,
		ItemMaxRows:   dc.ItemMaxRows,
		Delimiter:     a.cfg.Delimiter(),
		Encoding:      dc.Encoding,
	}, a.logger)
}

// newSessions returns the session manager and a function releasing its store.
func (a *app) newSessions(ctx context.Context) (*session.Manager, func(), error) {
	sc := a.cfg.Session
	ttl := time.Duration(sc.TTLMinutes) * time.Minute

	var store session.Store
	var locker session.Locker
	closeFn := func() {}
	switch sc.Store {
	case "memory":
		store = session.NewMemoryStore(a.cfg.SessionCapacity(), ttl)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		store = session.NewRedisStore(client, ttl)
		locker = session.NewRedisLocker(client, time.Duration(sc.Redis.LockTTLSecs)*time.Second)
		closeFn = func() { _ = client.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown session store: %s", sc.Store)
	}

	m, err := session.NewManager(store, session.Config{
		WindowSize: sc.WindowSize,
		Policy:     session.Policy(sc.Policy),
		Locker:     locker,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return m, closeFn, nil
}

func (a *app) newLLM() (*llm.Client, error) {
	return llm.NewClient(llm.Config{
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.APIKey.Key,
		Model:       a.cfg.Model.Name,
		Temperature: a.cfg.LLM.Temperature,
		Timeout:     time.Duration(a.cfg.LLM.TimeoutSecs) * time.Second,
	}, llm.WithLogger(a.logger))
}

// pricing merges configured prices over the built-in table.
func (a *app) pricing() llm.Pricing {
	p := llm.DefaultPricing()
	for model, price := range a.cfg.Pricing {
		p[model] = llm.Price{InputPer1K: price.InputPer1K, OutputPer1K: price.OutputPer1K}
	}
	return p
}
