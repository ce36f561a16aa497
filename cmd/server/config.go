package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/retenify/retenify/internal/cache"
	"github.com/retenify/retenify/internal/handlers"
	"github.com/retenify/retenify/internal/services"
	"github.com/retenify/retenify/internal/telemetry"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	// generator returns nil when the provider lacks credentials, which selects fallback-only mode.
	generator(logger *slog.Logger) (handlers.Generator, error)
	// overrideModel replaces the configured model when model is not empty.
	overrideModel(model string)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string              `yaml:"provider"`
	Model      string              `yaml:"model"`
	Parameters services.Parameters `yaml:",inline"`
}

type config struct {
	Port              string           `yaml:"port"`
	UserID            string           `yaml:"userID"`
	PersonaFile       string           `yaml:"personaFile"`
	GenerationTimeout time.Duration    `yaml:"generationTimeout"`
	LLM               llmConfig        `yaml:"llm"`
	Storage           storageConfig    `yaml:"storage"`
	Telemetry         telemetry.Config `yaml:"telemetry"`
}

type storageConfig struct {
	// Driver is one of bolt, sqlite or memory.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

const (
	defaultPort              = "3000"
	defaultUserID            = "demo-user"
	defaultGenerationTimeout = 30 * time.Second

	storageBolt   = "bolt"
	storageSQLite = "sqlite"
	storageMemory = "memory"

	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

func defaultConfig() config {
	return config{
		Port:              defaultPort,
		UserID:            defaultUserID,
		GenerationTimeout: defaultGenerationTimeout,
		LLM:               &geminiConfig{BaseLLMConfig: BaseLLMConfig{Provider: "gemini"}},
		Storage:           storageConfig{Driver: storageBolt},
	}
}

// loadConfig reads the YAML file at path on top of the defaults. A missing file at the default
// location is not an error; a missing file named explicitly is.
func loadConfig(path string, explicit bool) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port              string           `yaml:"port"`
		UserID            string           `yaml:"userID"`
		PersonaFile       string           `yaml:"personaFile"`
		GenerationTimeout *time.Duration   `yaml:"generationTimeout"`
		LLM               map[string]any   `yaml:"llm"`
		Storage           storageConfig    `yaml:"storage"`
		Telemetry         telemetry.Config `yaml:"telemetry"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.UserID != "" {
		c.UserID = rawConfig.UserID
	}
	if rawConfig.GenerationTimeout != nil {
		c.GenerationTimeout = *rawConfig.GenerationTimeout
	}
	if rawConfig.Storage.Driver != "" {
		c.Storage.Driver = rawConfig.Storage.Driver
	}
	if rawConfig.Storage.Path != "" {
		c.Storage.Path = rawConfig.Storage.Path
	}
	c.PersonaFile = rawConfig.PersonaFile
	c.Telemetry = rawConfig.Telemetry

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "openrouter":
		llm = &openAIConfig{BaseURL: openRouterBaseURL}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// applyEnv overrides configuration values with the environment variables that are set.
func (c *config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}
	if path := os.Getenv("RETENIFY_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if model := os.Getenv("AI_MODEL"); model != "" {
		c.LLM.overrideModel(model)
	}
}

func (c config) validate() error {
	switch c.Storage.Driver {
	case storageBolt, storageSQLite, storageMemory:
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	if c.UserID == "" {
		return fmt.Errorf("userID is required")
	}
	return nil
}

// open opens the cache mirror selected by the storage driver. An empty path resolves
// inside dataDir.
func (s storageConfig) open(dataDir string) (cache.Storage, error) {
	path := s.Path
	if path == "" {
		name := "store.db"
		if s.Driver == storageSQLite {
			name = "store.sqlite"
		}
		path = filepath.Join(dataDir, name)
	}

	switch s.Driver {
	case storageMemory:
		return cache.NewMemoryStorage(), nil
	case storageSQLite:
		return cache.NewSQLiteStorage(path)
	default:
		return cache.NewBoltStorage(path)
	}
}

func (b *BaseLLMConfig) overrideModel(model string) {
	if model != "" {
		b.Model = model
	}
}

func (g geminiConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	apiKey := g.APIKey
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		apiKey = key
	}
	if apiKey == "" {
		return nil, nil
	}
	return services.NewGemini(apiKey, g.BaseURL, g.Model, g.Parameters, logger), nil
}

func (o openAIConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		apiKey = key
	}
	if apiKey == "" {
		return nil, nil
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (o ollamaConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if h := os.Getenv("OLLAMA_HOST"); h != "" {
		host = h
	}
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	return services.NewOllama(host, o.Model, o.Parameters, logger)
}

func (a anthropicConfig) generator(logger *slog.Logger) (handlers.Generator, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := a.APIKey
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		apiKey = key
	}
	if apiKey == "" {
		return nil, nil
	}
	return services.NewAnthropic(apiKey, a.BaseURL, a.Model, a.Parameters, logger), nil
}
