package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.SessionsCollection != "chat_sessions" {
		t.Errorf("SessionsCollection = %q, want chat_sessions", cfg.Store.SessionsCollection)
	}
	if cfg.Store.MessagesCollection != "chat_messages" {
		t.Errorf("MessagesCollection = %q, want chat_messages", cfg.Store.MessagesCollection)
	}
	if cfg.Model.Provider != "ollama" {
		t.Errorf("Model.Provider = %q, want ollama", cfg.Model.Provider)
	}
	if cfg.Auth.CookieName != "persona_session" {
		t.Errorf("Auth.CookieName = %q, want persona_session", cfg.Auth.CookieName)
	}
	if cfg.Chat.IdleMinutes != 60 || cfg.Chat.SweepSeconds != 60 {
		t.Errorf("Chat = %+v, want 60 minute idle and 60 second sweep", cfg.Chat)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  dbname: personas
store:
  projectId: proj-1
  bucket: images
model:
  endpoint: http://gpu-box:11434
  name: qwen2.5vl
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q", cfg.Database.Host)
	}
	if cfg.Store.ProjectID != "proj-1" {
		t.Errorf("Store.ProjectID = %q", cfg.Store.ProjectID)
	}
	if cfg.Model.Name != "qwen2.5vl" {
		t.Errorf("Model.Name = %q", cfg.Model.Name)
	}
	// 未覆盖的键保留默认值
	if cfg.Store.SessionsCollection != "chat_sessions" {
		t.Errorf("SessionsCollection = %q", cfg.Store.SessionsCollection)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PERSONA_CHAT_MODEL_ENDPOINT", "http://env-host:11434")
	t.Setenv("PERSONA_CHAT_STORE_BUCKET", "env-bucket")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Endpoint != "http://env-host:11434" {
		t.Errorf("Model.Endpoint = %q", cfg.Model.Endpoint)
	}
	if cfg.Store.Bucket != "env-bucket" {
		t.Errorf("Store.Bucket = %q", cfg.Store.Bucket)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: DatabaseConfig{Host: "localhost", DBName: "persona_chat"},
			Store: StoreConfig{
				ProjectID:          "proj",
				SessionsCollection: "chat_sessions",
				MessagesCollection: "chat_messages",
				Bucket:             "chat-images",
			},
			Storage: StorageConfig{Type: "minio", Endpoint: "localhost:9000"},
			Model:   ModelConfig{Endpoint: "http://localhost:11434", Name: "llava"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		missing string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no project", mutate: func(c *Config) { c.Store.ProjectID = "" }, missing: "store.projectId"},
		{name: "no database", mutate: func(c *Config) { c.Database.DBName = "" }, missing: "database.dbname"},
		{name: "no sessions collection", mutate: func(c *Config) { c.Store.SessionsCollection = "" }, missing: "store.sessionsCollection"},
		{name: "no messages collection", mutate: func(c *Config) { c.Store.MessagesCollection = "" }, missing: "store.messagesCollection"},
		{name: "no bucket", mutate: func(c *Config) { c.Store.Bucket = "" }, missing: "store.bucket"},
		{name: "no model endpoint", mutate: func(c *Config) { c.Model.Endpoint = "" }, missing: "model.endpoint"},
		{name: "minio without endpoint", mutate: func(c *Config) { c.Storage.Endpoint = "" }, missing: "storage.endpoint"},
		{name: "local storage needs no endpoint", mutate: func(c *Config) {
			c.Storage.Type = "local"
			c.Storage.Endpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.missing == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrMissingConfig) {
				t.Fatalf("Validate() error = %v, want ErrMissingConfig", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.missing)
			}
		})
	}
}

func TestValidateSetup_RequiresAPIKey(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost", DBName: "persona_chat"},
		Store: StoreConfig{
			ProjectID:          "proj",
			SessionsCollection: "s",
			MessagesCollection: "m",
			Bucket:             "b",
		},
		Storage: StorageConfig{Type: "local"},
		Model:   ModelConfig{Endpoint: "http://localhost:11434", Name: "llava"},
	}

	err := cfg.ValidateSetup()
	if err == nil || !strings.Contains(err.Error(), "setup.apiKey") {
		t.Fatalf("ValidateSetup() error = %v, want setup.apiKey missing", err)
	}

	cfg.Setup.APIKey = "root-secret"
	if err := cfg.ValidateSetup(); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}
}

func TestGetDSN(t *testing.T) {
	c := &DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=d sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}
