package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
env: development
gateway:
  base_url: https://sandbox.example.com
  api_key: from-file
  timeout: 3s
store:
  driver: postgres
  postgres:
    url: postgres://localhost/payments
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIX_GATEWAY_API_KEY", "from-env")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.APIKey != "from-env" {
		t.Errorf("expected env api key to win, got %q", cfg.Gateway.APIKey)
	}
	if cfg.Gateway.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %s", cfg.Gateway.Timeout)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if !cfg.Development() {
		t.Error("expected development env")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.ChargeTTL != time.Hour {
		t.Errorf("expected 1h charge ttl, got %s", cfg.Gateway.ChargeTTL)
	}
	if cfg.Webhook.SignatureTolerance != 5*time.Minute {
		t.Errorf("expected 5m signature tolerance, got %s", cfg.Webhook.SignatureTolerance)
	}
	if len(cfg.Gateway.CreatePaths) != 4 {
		t.Errorf("expected 4 default create paths, got %d", len(cfg.Gateway.CreatePaths))
	}
	if cfg.Store.Driver != DriverDynamoDB {
		t.Errorf("expected dynamodb driver, got %s", cfg.Store.Driver)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		cfg.Gateway.APIKey = "key"
		cfg.Gateway.BaseURL = "https://api.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing api key", func(c *Config) { c.Gateway.APIKey = " " }, true},
		{"missing base url", func(c *Config) { c.Gateway.BaseURL = "" }, true},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"status path without id", func(c *Config) { c.Gateway.StatusPaths = []string{"/status"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
