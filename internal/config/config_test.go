package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"ALLOWED_ORIGIN", "SHOP_DOMAIN", "PROXY_SECRET", "DEV_BYPASS",
		"LLM_PROVIDER_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "OLLAMA_URL",
		"OLLAMA_MODEL", "MAX_HISTORY", "TOP_K", "RATE_LIMIT_WINDOW_MS",
		"RATE_LIMIT_MAX", "HISTORY_TAIL_FOR_PROMPT", "LISTEN",
		"SESSIONS_DB_PATH", "VECTOR_INDEX_PATH", "SHOPS", "GATEWAY_CONFIG_FILE",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":8787" {
		t.Errorf("Listen = %q, want :8787", cfg.Listen)
	}
	if cfg.MaxHistory != 200 {
		t.Errorf("MaxHistory = %d, want 200", cfg.MaxHistory)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("LISTEN", ":9999")
	os.Setenv("MAX_HISTORY", "50")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Listen = %q, want :9999", cfg.Listen)
	}
	if cfg.MaxHistory != 50 {
		t.Errorf("MaxHistory = %d, want 50", cfg.MaxHistory)
	}
}

func TestLoadParsesShopsJSON(t *testing.T) {
	clearEnv(t)
	os.Setenv("SHOPS", `{"a":"a.myshopify.com","b":"b.myshopify.com"}`)
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.ShopDomains) != 2 {
		t.Errorf("expected 2 shop domains, got %d", len(cfg.ShopDomains))
	}
}

func TestHasLLMCredential(t *testing.T) {
	cfg := &Config{}
	if cfg.HasLLMCredential() {
		t.Error("expected no credential by default")
	}
	cfg.OpenAIAPIKey = "sk-test"
	if !cfg.HasLLMCredential() {
		t.Error("expected a credential to be detected once set")
	}
}
