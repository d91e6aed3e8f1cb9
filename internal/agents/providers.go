package agents

// Model describes one model offered by a provider.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Context int    `json:"context"`
}

// ProviderInfo lists the models available from a provider.
type ProviderInfo struct {
	ID     Provider `json:"id"`
	Name   string   `json:"name"`
	Models []Model  `json:"models"`
}

var providerCatalog = []ProviderInfo{
	{
		ID: ProviderAnthropic, Name: "Anthropic",
		Models: []Model{
			{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Context: 200000},
			{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Context: 200000},
			{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Context: 200000},
		},
	},
	{
		ID: ProviderOpenAI, Name: "OpenAI",
		Models: []Model{
			{ID: "gpt-4o", Name: "GPT-4o", Context: 128000},
			{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Context: 128000},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Context: 128000},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Context: 16385},
		},
	},
	{
		ID: ProviderGoogle, Name: "Google",
		Models: []Model{
			{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", Context: 1000000},
			{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", Context: 1000000},
		},
	},
	{
		ID: ProviderOpenRouter, Name: "OpenRouter",
		Models: []Model{
			{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet (OR)", Context: 200000},
			{ID: "openai/gpt-4o", Name: "GPT-4o (OR)", Context: 128000},
			{ID: "google/gemini-pro-1.5", Name: "Gemini 1.5 Pro (OR)", Context: 1000000},
			{ID: "meta-llama/llama-3.1-405b-instruct", Name: "Llama 3.1 405B", Context: 131072},
			{ID: "mistralai/mixtral-8x22b-instruct", Name: "Mixtral 8x22B", Context: 65536},
		},
	},
}

// Providers returns the provider catalog.
func Providers() []ProviderInfo {
	out := make([]ProviderInfo, len(providerCatalog))
	for i, p := range providerCatalog {
		p.Models = append([]Model(nil), p.Models...)
		out[i] = p
	}
	return out
}

// ValidProvider reports whether p is a known provider.
func ValidProvider(p Provider) bool {
	for _, info := range providerCatalog {
		if info.ID == p {
			return true
		}
	}
	return false
}
