// Package config loads the gateway's process-wide configuration.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"dario.cat/mergo"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// Config holds the gateway's immutable-after-start configuration, per
// spec.md §6.
type Config struct {
	AllowedOrigin string `json:"allowedOrigin"`
	ShopDomain    string `json:"shopDomain"`
	ProxySecret   string `json:"-"` // never serialized, never logged
	DevBypass     bool   `json:"devBypass"`

	OpenAIAPIKey  string `json:"-"`
	OpenAIModel   string `json:"openaiModel"`
	OpenAIBaseURL string `json:"openaiBaseURL"`

	OllamaURL   string `json:"ollamaURL"`
	OllamaModel string `json:"ollamaModel"`

	MaxHistory           int `json:"maxHistory"`
	TopK                 int `json:"topK"`
	RateLimitWindowMs    int `json:"rateLimitWindowMs"`
	RateLimitMax         int `json:"rateLimitMax"`
	HistoryTailForPrompt int `json:"historyTailForPrompt"`

	// PromptContextBudgetChars bounds the retrieved-context block built by
	// the prompt assembler (§4.5).
	PromptContextBudgetChars int `json:"promptContextBudgetChars"`

	Listen          string `json:"listen"`
	SessionsDBPath  string `json:"sessionsDBPath"`
	VectorIndexPath string `json:"vectorIndexPath"`

	// ShopDomains lets one gateway process answer for more than one
	// storefront (§12 of SPEC_FULL.md). ShopDomain remains the primary
	// shop a bare deployment talks to; sessions are still not
	// namespaced by shop, matching spec.md's single-tenant-per-session
	// scope.
	ShopDomains map[string]string `json:"shopDomains,omitempty"`
}

// DevBypassHeader is the header that, together with DevBypass, skips
// signature verification. Two independent signals so a misconfigured
// deployment can't accidentally expose an unauthenticated endpoint.
const DevBypassHeader = "X-Gateway-Dev-Bypass"

// SignatureHeader carries the header-mode HMAC signature (§4.1a).
const SignatureHeader = "X-Gateway-Signature"

func defaults() Config {
	return Config{
		AllowedOrigin:            "*",
		OpenAIModel:              "gpt-4o-mini",
		OllamaURL:                "http://127.0.0.1:11434",
		OllamaModel:              "llama3.1",
		MaxHistory:               200,
		TopK:                     3,
		RateLimitWindowMs:        60_000,
		RateLimitMax:             20,
		HistoryTailForPrompt:     10,
		PromptContextBudgetChars: 4000,
		Listen:                   ":8787",
		SessionsDBPath:           "gateway-sessions.db",
		VectorIndexPath:          "gateway-vectors.db",
	}
}

// Load builds the Config from an optional JSON file (path given by
// GATEWAY_CONFIG_FILE) merged over built-in defaults via mergo, then
// applies environment variable overrides — env always wins.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			L_warn("config: could not read config file", "path", path, "error", err)
		} else {
			var fileCfg Config
			if err := json.Unmarshal(data, &fileCfg); err != nil {
				L_warn("config: could not parse config file", "path", path, "error", err)
			} else if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				L_warn("config: merge failed", "error", err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.ProxySecret == "" && !cfg.DevBypass {
		L_warn("config: PROXY_SECRET is not set; non-dev-bypass requests will fail verification")
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ALLOWED_ORIGIN"); v != "" {
		cfg.AllowedOrigin = v
	}
	if v := os.Getenv("SHOP_DOMAIN"); v != "" {
		cfg.ShopDomain = v
	}
	if v := os.Getenv("PROXY_SECRET"); v != "" {
		cfg.ProxySecret = v
	}
	if v := os.Getenv("DEV_BYPASS"); v != "" {
		cfg.DevBypass = v == "1" || v == "true"
	}
	if v := os.Getenv("LLM_PROVIDER_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := envInt("MAX_HISTORY"); v != 0 {
		cfg.MaxHistory = v
	}
	if v := envInt("TOP_K"); v != 0 {
		cfg.TopK = v
	}
	if v := envInt("RATE_LIMIT_WINDOW_MS"); v != 0 {
		cfg.RateLimitWindowMs = v
	}
	if v := envInt("RATE_LIMIT_MAX"); v != 0 {
		cfg.RateLimitMax = v
	}
	if v := envInt("HISTORY_TAIL_FOR_PROMPT"); v != 0 {
		cfg.HistoryTailForPrompt = v
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("SESSIONS_DB_PATH"); v != "" {
		cfg.SessionsDBPath = v
	}
	if v := os.Getenv("VECTOR_INDEX_PATH"); v != "" {
		cfg.VectorIndexPath = v
	}
	if v := os.Getenv("SHOPS"); v != "" {
		var shops map[string]string
		if err := json.Unmarshal([]byte(v), &shops); err != nil {
			L_warn("config: SHOPS is not valid JSON, ignoring", "error", err)
		} else {
			cfg.ShopDomains = shops
		}
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		L_warn("config: invalid integer env var", "key", key, "value", v)
		return 0
	}
	return n
}

// HasLLMCredential reports whether the primary remote provider has a
// usable credential configured (§4.6).
func (c *Config) HasLLMCredential() bool {
	return c.OpenAIAPIKey != ""
}
