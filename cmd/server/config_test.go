package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != defaultPort || cfg.UserID != defaultUserID || cfg.GenerationTimeout != defaultGenerationTimeout {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Storage.Driver != storageBolt {
		t.Errorf("storage driver = %q, want bolt", cfg.Storage.Driver)
	}
	if _, ok := cfg.LLM.(*geminiConfig); !ok {
		t.Errorf("llm = %T, want *geminiConfig", cfg.LLM)
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true); err == nil {
		t.Error("explicit missing config should fail")
	}

	if _, err := loadConfig(writeConfig(t, ""), true); err != nil {
		t.Errorf("empty config error = %v", err)
	}
}

func TestLoadConfigProviders(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, cfg config)
		wantErr bool
	}{
		{
			name: "Gemini",
			content: `
port: "8080"
generationTimeout: 45s
llm:
  provider: gemini
  model: gemini-pro
  apiKey: key
  temperature: 0.2
  maxTokens: 64
`,
			check: func(t *testing.T, cfg config) {
				g, ok := cfg.LLM.(*geminiConfig)
				if !ok {
					t.Fatalf("llm = %T", cfg.LLM)
				}
				if g.Model != "gemini-pro" || g.APIKey != "key" || g.Parameters.Temperature != 0.2 || g.Parameters.MaxTokens != 64 {
					t.Errorf("gemini config = %+v", g)
				}
				if cfg.Port != "8080" || cfg.GenerationTimeout != 45*time.Second {
					t.Errorf("config = %+v", cfg)
				}
				if cfg.UserID != defaultUserID {
					t.Errorf("userID = %q, want default", cfg.UserID)
				}
			},
		},
		{
			name: "OpenRouter",
			content: `
llm:
  provider: openrouter
  model: meta-llama/llama-3-8b
`,
			check: func(t *testing.T, cfg config) {
				o, ok := cfg.LLM.(*openAIConfig)
				if !ok {
					t.Fatalf("llm = %T", cfg.LLM)
				}
				if o.BaseURL != openRouterBaseURL {
					t.Errorf("baseURL = %q, want %q", o.BaseURL, openRouterBaseURL)
				}
			},
		},
		{
			name: "Ollama with sqlite storage",
			content: `
llm:
  provider: ollama
  model: llama3
  host: http://localhost:11434
storage:
  driver: sqlite
  path: /tmp/store.sqlite
`,
			check: func(t *testing.T, cfg config) {
				o, ok := cfg.LLM.(*ollamaConfig)
				if !ok {
					t.Fatalf("llm = %T", cfg.LLM)
				}
				if o.Host != "http://localhost:11434" {
					t.Errorf("host = %q", o.Host)
				}
				if cfg.Storage.Driver != storageSQLite || cfg.Storage.Path != "/tmp/store.sqlite" {
					t.Errorf("storage = %+v", cfg.Storage)
				}
			},
		},
		{
			name:    "Unknown provider",
			content: "llm:\n  provider: cohere\n",
			wantErr: true,
		},
		{
			name:    "Missing provider",
			content: "llm:\n  model: x\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.content), true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RETENIFY_STORAGE_PATH", "/var/lib/retenify/store.db")
	t.Setenv("AI_MODEL", "gemini-1.5-pro")

	cfg := defaultConfig()
	cfg.applyEnv()

	if cfg.Port != "9090" || cfg.Storage.Path != "/var/lib/retenify/store.db" {
		t.Errorf("config = %+v", cfg)
	}
	if g := cfg.LLM.(*geminiConfig); g.Model != "gemini-1.5-pro" {
		t.Errorf("model = %q", g.Model)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	cfg.Storage.Driver = "redis"
	if err := cfg.validate(); err == nil {
		t.Error("unknown storage driver should fail")
	}

	cfg = defaultConfig()
	cfg.UserID = ""
	if err := cfg.validate(); err == nil {
		t.Error("empty userID should fail")
	}
}

func TestGeneratorWithoutCredentials(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	gen, err := (&geminiConfig{}).generator(discardLogger())
	if err != nil {
		t.Fatalf("generator() error = %v", err)
	}
	if gen != nil {
		t.Errorf("generator = %T, want nil", gen)
	}

	t.Setenv("GEMINI_API_KEY", "from-env")
	if gen, _ := (&geminiConfig{}).generator(discardLogger()); gen == nil {
		t.Error("generator should use the key from the environment")
	}
}

func TestStorageOpen(t *testing.T) {
	dir := t.TempDir()

	for _, driver := range []string{storageBolt, storageSQLite, storageMemory} {
		t.Run(driver, func(t *testing.T) {
			s, err := storageConfig{Driver: driver}.open(dir)
			if err != nil {
				t.Fatalf("open() error = %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}
