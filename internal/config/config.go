package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LogConfig         `yaml:"log" toml:"log"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	LLM         LLMConfig         `yaml:"llm" toml:"llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm" toml:"embed_llm"`
	RAG         RAGConfig         `yaml:"rag" toml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vectorstore" toml:"vectorstore"`
	OpenAI      OpenAIConfig      `yaml:"openai" toml:"openai"`
	Line        LineConfig        `yaml:"line" toml:"line"`
	DID         DIDConfig         `yaml:"did" toml:"did"`
	Estate      EstateConfig      `yaml:"estate" toml:"estate"`
	Media       MediaConfig       `yaml:"media" toml:"media"`
	Web         WebConfig         `yaml:"web" toml:"web"`
	Secrets     SecretsConfig     `yaml:"secrets" toml:"secrets"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // console or json
}

type ServerConfig struct {
	Addr                string `yaml:"addr" toml:"addr"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds" toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds" toml:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // pgdriver, pq or sqlite
	DSN      string `yaml:"dsn" toml:"dsn"`
	Password string `yaml:"password" toml:"password"`
	Debug    bool   `yaml:"debug" toml:"debug"`
}

// LLMConfig describes one hosted or local model endpoint.
type LLMConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"` // openai, ollama or googleai
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	Key         string  `yaml:"key" toml:"key"`
	Model       string  `yaml:"model" toml:"model"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
}

type RAGConfig struct {
	DocumentPath    string   `yaml:"document_path" toml:"document_path"`
	LoaderMode      string   `yaml:"loader_mode" toml:"loader_mode"` // page, split or shred
	ChunkSize       int      `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap" toml:"chunk_overlap"`
	Separators      []string `yaml:"separators" toml:"separators"`
	ShredTokens     int      `yaml:"shred_tokens" toml:"shred_tokens"`
	NResults        int      `yaml:"n_results" toml:"n_results"`
	MaxContextChars int      `yaml:"max_context_chars" toml:"max_context_chars"`
	HistoryTurns    int      `yaml:"history_turns" toml:"history_turns"`
	EncryptionKey   string   `yaml:"encryption_key" toml:"encryption_key"`
}

type VectorStoreConfig struct {
	Backend   string `yaml:"backend" toml:"backend"` // chromem or pgvector
	Path      string `yaml:"path" toml:"path"`
	InMemory  bool   `yaml:"in_memory" toml:"in_memory"`
	Dimension int    `yaml:"dimension" toml:"dimension"`
}

type OpenAIConfig struct {
	Key             string `yaml:"key" toml:"key"`
	BaseURL         string `yaml:"base_url" toml:"base_url"`
	ImageModel      string `yaml:"image_model" toml:"image_model"`
	ImageSize       string `yaml:"image_size" toml:"image_size"`
	SpeechModel     string `yaml:"speech_model" toml:"speech_model"`
	Voice           string `yaml:"voice" toml:"voice"`
	TranscribeModel string `yaml:"transcribe_model" toml:"transcribe_model"`
}

type LineConfig struct {
	ChannelSecret string `yaml:"channel_secret" toml:"channel_secret"`
	ChannelToken  string `yaml:"channel_token" toml:"channel_token"`
}

type DIDConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	Key       string `yaml:"key" toml:"key"`
	SourceURL string `yaml:"source_url" toml:"source_url"`
}

type EstateConfig struct {
	URL string `yaml:"url" toml:"url"`
	Key string `yaml:"key" toml:"key"`
}

type MediaConfig struct {
	Root    string `yaml:"root" toml:"root"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type WebConfig struct {
	DefaultUser string `yaml:"default_user" toml:"default_user"`
	Gender      string `yaml:"gender" toml:"gender"`
}

type SecretsConfig struct {
	SSMPrefix string `yaml:"ssm_prefix" toml:"ssm_prefix"`
}

const (
	defaultChunkSize    = 600
	defaultChunkOverlap = 100
)

// LoadConfig reads a YAML or TOML file, applies defaults and then the
// environment overrides for secrets.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "console")

	setString(&c.Server.Addr, ":8000")
	setInt(&c.Server.ReadTimeoutSeconds, 15)
	setInt(&c.Server.WriteTimeoutSeconds, 300)

	setString(&c.Database.Driver, "pgdriver")

	setString(&c.LLM.Provider, "openai")
	setString(&c.LLM.Model, "gpt-4-turbo")
	setString(&c.EmbedLLM.Provider, "openai")
	setString(&c.EmbedLLM.Model, "text-embedding-ada-002")

	setString(&c.RAG.LoaderMode, "page")
	setInt(&c.RAG.ChunkSize, defaultChunkSize)
	setInt(&c.RAG.ChunkOverlap, defaultChunkOverlap)
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		c.RAG.ChunkOverlap = c.RAG.ChunkSize / 2
	}
	if len(c.RAG.Separators) == 0 {
		c.RAG.Separators = []string{"\n\n", "\n", " ", ""}
	}
	setInt(&c.RAG.ShredTokens, 600)
	setInt(&c.RAG.NResults, 3)
	setInt(&c.RAG.MaxContextChars, 12000)

	setString(&c.VectorStore.Backend, "chromem")
	setString(&c.VectorStore.Path, "./chromemdb")
	setInt(&c.VectorStore.Dimension, 1536)

	setString(&c.OpenAI.ImageModel, "dall-e-3")
	setString(&c.OpenAI.ImageSize, "1024x1024")
	setString(&c.OpenAI.SpeechModel, "tts-1")
	setString(&c.OpenAI.Voice, "alloy")
	setString(&c.OpenAI.TranscribeModel, "whisper-1")

	setString(&c.DID.BaseURL, "https://api.d-id.com")
	setString(&c.DID.SourceURL, "https://create-images-results.d-id.com/DefaultPresenters/Noelle_f/image.jpeg")

	setString(&c.Media.Root, "./media")
	setString(&c.Web.DefaultUser, "admin")
	setString(&c.Web.Gender, "man")
}

// ApplyEnv overrides secrets from the environment; lookup is os.Getenv in
// production and a map in tests.
func (c *Config) ApplyEnv(lookup func(string) string) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}
	override(&c.OpenAI.Key, "OPENAI_API_KEY")
	override(&c.DID.Key, "DID_API_KEY")
	override(&c.Line.ChannelSecret, "LINE_CHANNEL_SECRET")
	override(&c.Line.ChannelToken, "LINE_CHANNEL_TOKEN")
	override(&c.Estate.Key, "ESTATE_API_KEY")
	override(&c.Database.DSN, "DATABASE_DSN")

	// chat and embedding endpoints fall back to the shared OpenAI key
	if c.LLM.Provider == "openai" && c.LLM.Key == "" {
		c.LLM.Key = c.OpenAI.Key
	}
	if c.EmbedLLM.Provider == "openai" && c.EmbedLLM.Key == "" {
		c.EmbedLLM.Key = c.OpenAI.Key
	}
}

// SecretGetter is satisfied by paramstore.Client.
type SecretGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills every empty secret from SSM under Secrets.SSMPrefix.
// A no-op when no prefix is configured.
func ResolveSecrets(ctx context.Context, c *Config, getter SecretGetter) error {
	prefix := strings.TrimRight(strings.TrimSpace(c.Secrets.SSMPrefix), "/")
	if prefix == "" {
		return nil
	}
	secrets := []struct {
		dst  *string
		name string
	}{
		{&c.OpenAI.Key, "openai-api-key"},
		{&c.DID.Key, "did-api-key"},
		{&c.Line.ChannelSecret, "line-channel-secret"},
		{&c.Line.ChannelToken, "line-channel-token"},
		{&c.Estate.Key, "estate-api-key"},
		{&c.Database.Password, "database-password"},
	}
	for _, s := range secrets {
		if *s.dst != "" {
			continue
		}
		v, err := getter.GetParameter(ctx, prefix+"/"+s.name)
		if err != nil {
			return fmt.Errorf("resolve secret %s: %w", s.name, err)
		}
		*s.dst = strings.TrimSpace(v)
	}
	c.ApplyEnv(func(string) string { return "" })
	return nil
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}
