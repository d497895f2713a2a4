// Package config loads medfuse settings from a TOML file and the
// environment, and converts them into the per-component configurations.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/medfuse/ai"
	"github.com/poiesic/medfuse/indexer"
	"github.com/poiesic/medfuse/search"
	"github.com/poiesic/medfuse/storage"
)

// Vector and graph backends.
const (
	BackendBadger   = "badger"
	BackendChroma   = "chroma"
	BackendPostgres = "postgres"
)

// DefaultFileName is looked up in the working directory when no config
// path is given.
const DefaultFileName = "medfuse.toml"

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey         = "MEDFUSE_API_KEY"
	EnvProvider       = "MEDFUSE_PROVIDER"
	EnvEmbeddingHost  = "MEDFUSE_EMBEDDING_HOST"
	EnvEmbeddingModel = "MEDFUSE_EMBEDDING_MODEL"
	EnvChatModel      = "MEDFUSE_CHAT_MODEL"
	EnvDimension      = "MEDFUSE_DIMENSION"
	EnvPostgresDSN    = "MEDFUSE_POSTGRES_DSN"
	EnvChromaURL      = "MEDFUSE_CHROMA_URL"
	EnvDataDir        = "MEDFUSE_DATA_DIR"
	EnvLogLevel       = "MEDFUSE_LOG_LEVEL"
)

var (
	vectorBackends = []string{BackendBadger, BackendChroma, BackendPostgres}
	graphBackends  = []string{BackendBadger, BackendPostgres}
	logLevels      = []string{"debug", "info", "warn", "error"}
)

// Config is the full medfuse configuration.
type Config struct {
	// DataDir holds the badger database, checkpoint database and error log
	// unless their paths are set explicitly.
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`

	Embedding EmbeddingConfig `toml:"embedding"`
	Storage   StorageConfig   `toml:"storage"`
	Indexer   IndexerConfig   `toml:"indexer"`
	Search    SearchConfig    `toml:"search"`
	Extract   ExtractConfig   `toml:"extract"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string   `toml:"provider"`
	Host              string   `toml:"host"`
	Model             string   `toml:"model"`
	APIKey            string   `toml:"api_key"`
	Dimension         int      `toml:"dimension"`
	ChatHost          string   `toml:"chat_host"`
	ChatModel         string   `toml:"chat_model"`
	MaxInputChars     int      `toml:"max_input_chars"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           Duration `toml:"timeout"`
}

// StorageConfig selects the stores.
type StorageConfig struct {
	VectorBackend    string `toml:"vector_backend"`
	GraphBackend     string `toml:"graph_backend"`
	Metric           string `toml:"metric"`
	BadgerPath       string `toml:"badger_path"`
	CheckpointPath   string `toml:"checkpoint_path"`
	ChromaURL        string `toml:"chroma_url"`
	ChromaCollection string `toml:"chroma_collection"`
	PostgresDSN      string `toml:"postgres_dsn"`
}

// IndexerConfig tunes batch indexing.
type IndexerConfig struct {
	BatchSize        int      `toml:"batch_size"`
	MaxRetries       int      `toml:"max_retries"`
	RetryDelay       Duration `toml:"retry_delay"`
	StoreTimeout     Duration `toml:"store_timeout"`
	Workers          int      `toml:"workers"`
	NormalizeVectors bool     `toml:"normalize_vectors"`
	EmbedEntities    bool     `toml:"embed_entities"`
	ErrorLog         string   `toml:"error_log"`
	Watermark        string   `toml:"watermark"`
}

// SearchConfig tunes the query engine.
type SearchConfig struct {
	TopK                int      `toml:"top_k"`
	RRFConstant         int      `toml:"rrf_k"`
	CandidatePool       int      `toml:"candidate_pool"`
	SimilarityThreshold float32  `toml:"similarity_threshold"`
	ExpandQueries       bool     `toml:"expand_queries"`
	Timeout             Duration `toml:"timeout"` // Per modality
}

// ExtractConfig tunes entity extraction.
type ExtractConfig struct {
	// Lexicon is an optional TOML lexicon merged over the built-in one.
	Lexicon          string `toml:"lexicon"`
	MaxRelationships int    `toml:"max_relationships"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	ixDefaults := indexer.DefaultConfig()
	return &Config{
		DataDir:  "medfuse-data",
		LogLevel: "info",
		Embedding: EmbeddingConfig{
			Provider:          string(aiDefaults.Provider),
			Host:              aiDefaults.EmbeddingHost,
			Model:             aiDefaults.EmbeddingModel,
			Dimension:         aiDefaults.Dimension,
			MaxInputChars:     aiDefaults.MaxInputChars,
			RequestsPerMinute: aiDefaults.RequestsPerMinute,
			Timeout:           Duration{aiDefaults.Timeout},
		},
		Storage: StorageConfig{
			VectorBackend:    BackendBadger,
			GraphBackend:     BackendBadger,
			Metric:           string(storage.MetricCosine),
			ChromaURL:        "http://localhost:8000",
			ChromaCollection: "medfuse",
		},
		Indexer: IndexerConfig{
			BatchSize:        ixDefaults.BatchSize,
			MaxRetries:       ixDefaults.MaxRetries,
			RetryDelay:       Duration{ixDefaults.RetryDelay},
			StoreTimeout:     Duration{ixDefaults.StoreTimeout},
			Workers:          ixDefaults.Workers,
			NormalizeVectors: ixDefaults.NormalizeVectors,
			EmbedEntities:    ixDefaults.EmbedEntities,
			Watermark:        ixDefaults.WatermarkName,
		},
		Search: SearchConfig{
			TopK:          10,
			RRFConstant:   60,
			CandidatePool: 30,
			Timeout:       Duration{search.DefaultSearchTimeout},
		},
		Extract: ExtractConfig{
			MaxRelationships: 500,
		},
	}
}

// Load reads path over the defaults. An empty path loads DefaultFileName
// from the working directory when it exists and the defaults otherwise.
// Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFileName); err != nil {
			return cfg, nil
		}
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return fmt.Errorf("%w: line %d column %d: %s", ErrInvalidConfig, row, col, decodeErr.Error())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Write encodes the configuration as TOML.
func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).SetIndentTables(true).Encode(c)
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv; a nil lookup uses it.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	strs := []struct {
		name   string
		target *string
	}{
		{EnvAPIKey, &c.Embedding.APIKey},
		{EnvProvider, &c.Embedding.Provider},
		{EnvEmbeddingHost, &c.Embedding.Host},
		{EnvEmbeddingModel, &c.Embedding.Model},
		{EnvChatModel, &c.Embedding.ChatModel},
		{EnvPostgresDSN, &c.Storage.PostgresDSN},
		{EnvChromaURL, &c.Storage.ChromaURL},
		{EnvDataDir, &c.DataDir},
		{EnvLogLevel, &c.LogLevel},
	}
	for _, s := range strs {
		if v, ok := lookup(s.name); ok && v != "" {
			*s.target = v
		}
	}

	if v, ok := lookup(EnvDimension); ok && v != "" {
		dim, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvDimension, v)
		}
		c.Embedding.Dimension = dim
	}
	return nil
}

// Validate checks the settings that no component validates itself.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if !slices.Contains(vectorBackends, c.Storage.VectorBackend) {
		return fmt.Errorf("%w: unknown storage.vector_backend %q", ErrInvalidConfig, c.Storage.VectorBackend)
	}
	if !slices.Contains(graphBackends, c.Storage.GraphBackend) {
		return fmt.Errorf("%w: unknown storage.graph_backend %q", ErrInvalidConfig, c.Storage.GraphBackend)
	}
	if m := storage.Metric(c.Storage.Metric); m != storage.MetricCosine && m != storage.MetricDot {
		return fmt.Errorf("%w: unknown storage.metric %q", ErrInvalidConfig, c.Storage.Metric)
	}
	usesPostgres := c.Storage.VectorBackend == BackendPostgres || c.Storage.GraphBackend == BackendPostgres
	if usesPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("%w: storage.postgres_dsn is required for the postgres backend", ErrInvalidConfig)
	}
	if c.Storage.VectorBackend == BackendChroma && (c.Storage.ChromaURL == "" || c.Storage.ChromaCollection == "") {
		return fmt.Errorf("%w: storage.chroma_url and storage.chroma_collection are required for the chroma backend", ErrInvalidConfig)
	}
	if c.Search.TopK <= 0 || c.Search.RRFConstant <= 0 || c.Search.CandidatePool <= 0 {
		return fmt.Errorf("%w: search.top_k, search.rrf_k and search.candidate_pool must be positive", ErrInvalidConfig)
	}
	if c.Search.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: search.timeout must be positive", ErrInvalidConfig)
	}
	if c.Search.SimilarityThreshold < -1 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: search.similarity_threshold must be between -1 and 1", ErrInvalidConfig)
	}
	if c.Extract.MaxRelationships < 0 {
		return fmt.Errorf("%w: extract.max_relationships must not be negative", ErrInvalidConfig)
	}
	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.IndexerConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// AIConfig converts the embedding section.
func (c *Config) AIConfig() *ai.Config {
	e := c.Embedding
	return ai.NewConfig(
		ai.WithProvider(ai.ProviderKind(e.Provider)),
		ai.WithEmbeddingHost(e.Host),
		ai.WithChatHost(e.ChatHost),
		ai.WithEmbeddingModel(e.Model),
		ai.WithChatModel(e.ChatModel),
		ai.WithAPIKey(e.APIKey),
		ai.WithDimension(e.Dimension),
		ai.WithMaxInputChars(e.MaxInputChars),
		ai.WithRequestsPerMinute(e.RequestsPerMinute),
		ai.WithTimeout(e.Timeout.Duration),
	)
}

// IndexerConfig converts the indexer section. Text truncation follows the
// embedding section's max_input_chars.
func (c *Config) IndexerConfig() *indexer.Config {
	ix := c.Indexer
	return &indexer.Config{
		BatchSize:        ix.BatchSize,
		MaxRetries:       ix.MaxRetries,
		RetryDelay:       ix.RetryDelay.Duration,
		StoreTimeout:     ix.StoreTimeout.Duration,
		MaxInputChars:    c.Embedding.MaxInputChars,
		Workers:          ix.Workers,
		NormalizeVectors: ix.NormalizeVectors,
		EmbedEntities:    ix.EmbedEntities,
		WatermarkName:    ix.Watermark,
	}
}

// Metric returns the configured similarity metric.
func (c *Config) Metric() storage.Metric {
	return storage.Metric(c.Storage.Metric)
}

// BadgerPath is where the badger database lives.
func (c *Config) BadgerPath() string {
	return c.pathOr(c.Storage.BadgerPath, "badger")
}

// CheckpointPath is the SQLite checkpoint database.
func (c *Config) CheckpointPath() string {
	return c.pathOr(c.Storage.CheckpointPath, "checkpoints.db")
}

// ErrorLogPath is the indexing error log.
func (c *Config) ErrorLogPath() string {
	return c.pathOr(c.Indexer.ErrorLog, "errors.log")
}

func (c *Config) pathOr(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(c.DataDir, name)
}
