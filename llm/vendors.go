package llm

import "context"

// vendor holds the defaults of one OpenAI-compatible API.
type vendor struct {
	baseURL      string
	pathPrefix   string
	defaultModel string
}

func (v vendor) apply(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = v.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = v.defaultModel
	}
	return cfg
}

// vendors maps provider names to their endpoint defaults. Gemini serves its
// OpenAI-compatible API without the /v1 prefix.
var vendors = map[string]vendor{
	"ollama":     {baseURL: "http://localhost:11434", pathPrefix: "/v1"},
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1"},
	"openai":     {baseURL: "https://api.openai.com", pathPrefix: "/v1", defaultModel: "text-embedding-3-small"},
	"groq":       {baseURL: "https://api.groq.com/openai", pathPrefix: "/v1", defaultModel: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai", pathPrefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", pathPrefix: ""},
	"custom":     {pathPrefix: "/v1"},
}

// compatProvider serves every vendor that speaks the OpenAI wire format for
// both chat and embeddings.
type compatProvider struct {
	base client
}

func (p *compatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *compatProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
