package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// APIKeyConfig keeps the original file layout: api_key.key.
type APIKeyConfig struct {
	Key string `yaml:"key"`
}

// ModelConfig keeps the original file layout: model.name.
type ModelConfig struct {
	Name string `yaml:"name"`
}

// LLMConfig configures the OpenAI-compatible chat backend.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// DataConfig points at the invoice CSV exports.
type DataConfig struct {
	HeadersPath   string `yaml:"headers_path"`
	ItemsPath     string `yaml:"items_path"`
	HeaderMaxRows int    `yaml:"header_max_rows"`
	ItemMaxRows   int    `yaml:"item_max_rows"`
	Delimiter     string `yaml:"delimiter"`
	Encoding      string `yaml:"encoding"`
}

// ChunkerConfig configures how the merged table is split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                `yaml:"type"`
	Workers int                   `yaml:"workers"`
	OpenAI  *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Badger   *BadgerConfig   `yaml:"badger,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty"`
}

type BadgerConfig struct {
	Dir string `yaml:"dir"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type PGVectorConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// SessionConfig configures conversation memory.
type SessionConfig struct {
	WindowSize int    `yaml:"window_size"`
	Policy     string `yaml:"policy"`
	Store      string `yaml:"store"`
	// Capacity bounds the memory store; -1 disables the bound.
	Capacity   int          `yaml:"capacity"`
	TTLMinutes int          `yaml:"ttl_minutes"`
	Redis      *RedisConfig `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// LockTTLSecs must outlast one exchange.
	LockTTLSecs int `yaml:"lock_ttl_secs"`
}

type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PriceConfig is the USD price per 1000 tokens of a model.
type PriceConfig struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	APIKey      APIKeyConfig           `yaml:"api_key"`
	Model       ModelConfig            `yaml:"model"`
	LLM         LLMConfig              `yaml:"llm"`
	Data        DataConfig             `yaml:"data"`
	Chunker     ChunkerConfig          `yaml:"chunker"`
	Embedder    EmbedderConfig         `yaml:"embedder"`
	VectorStore VectorStoreConfig      `yaml:"vector_store"`
	Retrieval   RetrievalConfig        `yaml:"retrieval"`
	Session     SessionConfig          `yaml:"session"`
	Server      ServerConfig           `yaml:"server"`
	Logging     LoggingConfig          `yaml:"logging"`
	Pricing     map[string]PriceConfig `yaml:"pricing,omitempty"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			cfg.APIKey.Key = os.ExpandEnv(cfg.APIKey.Key)
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/nfrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/nfrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	cfg.APIKey.Key = os.ExpandEnv(cfg.APIKey.Key)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "nfrag", "config.yaml"), nil
}

// defaultConfig leaves the API key as an environment reference so a saved
// default file never contains the secret.
func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		APIKey:      APIKeyConfig{Key: "${PPLX_API_KEY}"},
		Embedder:    EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Session:     SessionConfig{Policy: "sliding", Store: "memory"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Model.Name == "" {
		cfg.Model.Name = "sonar"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.perplexity.ai"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}

	if cfg.Data.HeadersPath == "" {
		cfg.Data.HeadersPath = "documents/202401_NFs_Cabecalho.csv"
	}
	if cfg.Data.ItemsPath == "" {
		cfg.Data.ItemsPath = "documents/202401_NFs_Itens.csv"
	}
	if cfg.Data.HeaderMaxRows == 0 {
		cfg.Data.HeaderMaxRows = 2000
	}
	if cfg.Data.ItemMaxRows == 0 {
		cfg.Data.ItemMaxRows = 6000
	}
	if cfg.Data.Delimiter == "" {
		cfg.Data.Delimiter = ","
	}
	if cfg.Data.Encoding == "" {
		cfg.Data.Encoding = "utf-8"
	}

	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = 1000
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 200
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "badger" && cfg.VectorStore.Badger == nil {
		cfg.VectorStore.Badger = &BadgerConfig{Dir: "data/index"}
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.Collection == "" {
			q.Collection = "nfrag"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
	if p := cfg.VectorStore.PGVector; p != nil && p.Table == "" {
		p.Table = "nfrag_chunks"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}

	if cfg.Session.WindowSize == 0 {
		cfg.Session.WindowSize = 3
	}
	if cfg.Session.Policy == "" {
		cfg.Session.Policy = "sliding"
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.Capacity == 0 {
		cfg.Session.Capacity = 10000
	}
	if cfg.Session.Store == "redis" && cfg.Session.Redis == nil {
		cfg.Session.Redis = &RedisConfig{Addr: "localhost:6379"}
	}
	if r := cfg.Session.Redis; r != nil && r.LockTTLSecs == 0 {
		// Room for a condense call and an answer call.
		r.LockTTLSecs = 2*cfg.LLM.TimeoutSecs + 30
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = 30
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		// Room for a condense call and an answer call.
		cfg.Server.WriteTimeoutSecs = 2*cfg.LLM.TimeoutSecs + 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "tfidf":
	case "openai":
		if c.Embedder.OpenAI == nil {
			return errors.New("embedder.openai config missing")
		}
	default:
		return fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}

	switch c.VectorStore.Type {
	case "memory", "badger":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return errors.New("vector_store.qdrant.url missing")
		}
	case "pgvector":
		if c.VectorStore.PGVector == nil || c.VectorStore.PGVector.DSN == "" {
			return errors.New("vector_store.pgvector.dsn missing")
		}
	default:
		return fmt.Errorf("unknown vector store: %s", c.VectorStore.Type)
	}

	if c.Chunker.Size <= 0 {
		return fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker.overlap must be in [0, %d), got %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	if utf8.RuneCountInString(c.Data.Delimiter) != 1 {
		return fmt.Errorf("data.delimiter must be a single character, got %q", c.Data.Delimiter)
	}
	if c.Data.HeaderMaxRows < 0 || c.Data.ItemMaxRows < 0 {
		return errors.New("data row limits must not be negative")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}

	if c.Session.WindowSize <= 0 {
		return fmt.Errorf("session.window_size must be positive, got %d", c.Session.WindowSize)
	}
	switch c.Session.Policy {
	case "sliding", "pinned":
	default:
		return fmt.Errorf("unknown session policy: %s", c.Session.Policy)
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session store: %s", c.Session.Store)
	}
	if c.Session.Capacity < -1 {
		return fmt.Errorf("session.capacity must be -1 (unbounded) or positive, got %d", c.Session.Capacity)
	}
	if c.Session.TTLMinutes < 0 {
		return errors.New("session.ttl_minutes must not be negative")
	}
	if c.Session.Store == "redis" {
		if c.Session.Redis == nil || c.Session.Redis.Addr == "" {
			return errors.New("session.redis.addr missing")
		}
		if ttl := c.Session.Redis.LockTTLSecs; ttl <= c.LLM.TimeoutSecs {
			return fmt.Errorf("session.redis.lock_ttl_secs must exceed llm.timeout_secs, got %d", ttl)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.LLM.TimeoutSecs <= 0 {
		return fmt.Errorf("llm.timeout_secs must be positive, got %d", c.LLM.TimeoutSecs)
	}
	return nil
}

// SessionCapacity is the memory store bound, 0 meaning unbounded.
func (c *AppConfig) SessionCapacity() int {
	return max(c.Session.Capacity, 0)
}

// Delimiter returns the CSV delimiter as a rune.
func (c *AppConfig) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Data.Delimiter)
	return r
}
