package bootstrap

import (
	"docrag/internal/adapter/provider/llm/openai"
	"docrag/internal/domain/rag"
	"docrag/internal/platform/config"
	applog "docrag/internal/platform/log"
	"docrag/internal/provider"
)

// RegisterLLMProviders registers the configured LLM providers in reg.
// Without an API key nothing is registered and summaries are extractive.
func RegisterLLMProviders(reg *provider.Registry, cfg config.OpenAIConfig) {
	if cfg.APIKey == "" {
		applog.Warn("[Bootstrap] No OPENAI_API_KEY set, summaries fall back to extractive and entity extraction is off")
		return
	}

	p := openai.New(openai.Config{
		APIKey:                cfg.APIKey,
		BaseURL:               cfg.BaseURL,
		RequestTimeoutSeconds: 120,
	})
	reg.Register(p)
	applog.Infof("[Bootstrap] Registered LLM provider: %s (base: %s)", p.Name(), cfg.BaseURL)
}

// summarizerFor returns a summarizer backed by the named provider, or an
// extractive-only one when that provider is not registered.
func summarizerFor(reg *provider.Registry, cfg config.SummaryConfig) *rag.Summarizer {
	p, err := reg.Get(cfg.Provider)
	if err != nil {
		return rag.NewSummarizer(nil, "")
	}
	applog.Infof("[Bootstrap] Summarizer ready (provider: %s, model: %s)", cfg.Provider, cfg.Model)
	return rag.NewSummarizer(p, cfg.Model)
}
