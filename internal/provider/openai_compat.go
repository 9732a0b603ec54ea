package provider

import (
	"context"
	"fmt"
	"sort"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/devark-ai/devark/internal/config"
)

// openaiCompat serves the providers speaking the OpenAI chat-completion
// protocol: the local ollama server and the openrouter key-router.
type openaiCompat struct {
	id              string
	defaultEndpoint string
	defaultModel    string
	cfg             *config.Store
	secrets         SecretSource
	needsKey        bool
}

func newOllama(cfg *config.Store) *openaiCompat {
	return &openaiCompat{
		id:              IDOllama,
		defaultEndpoint: "http://localhost:11434/v1",
		defaultModel:    "llama3.2",
		cfg:             cfg,
	}
}

func newOpenRouter(cfg *config.Store, secrets SecretSource) *openaiCompat {
	return &openaiCompat{
		id:              IDOpenRouter,
		defaultEndpoint: "https://openrouter.ai/api/v1",
		defaultModel:    "anthropic/claude-3.5-sonnet",
		cfg:             cfg,
		secrets:         secrets,
		needsKey:        true,
	}
}

func (p *openaiCompat) ID() string { return p.id }

// settings merges the persisted provider config with the defaults.
func (p *openaiCompat) settings() (endpoint, model, apiKey string, ok bool) {
	pc := p.cfg.Provider(p.id)
	endpoint = pc.Endpoint
	if endpoint == "" {
		endpoint = p.defaultEndpoint
	}
	model = pc.Model
	if model == "" {
		model = p.defaultModel
	}
	if !p.needsKey {
		return endpoint, model, "", true
	}
	ref := pc.APIKeyRef
	if ref == "" {
		ref = p.id
	}
	apiKey, ok = p.secrets.GetSecret(ref)
	return endpoint, model, apiKey, ok
}

func (p *openaiCompat) client() (*openai.Client, string, error) {
	endpoint, model, apiKey, ok := p.settings()
	if !ok {
		return nil, "", fmt.Errorf("%s: API key not configured", p.id)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = endpoint
	return openai.NewClientWithConfig(clientCfg), model, nil
}

func (p *openaiCompat) Detect(ctx context.Context) Detection {
	if p.needsKey {
		if _, _, _, ok := p.settings(); !ok {
			return Detection{Available: false, Reason: "API key not configured"}
		}
		return Detection{Available: true}
	}

	// A local server is available when it answers a models listing.
	if _, err := p.ListModels(ctx); err != nil {
		return Detection{Available: false, Reason: fmt.Sprintf("server not reachable: %v", err)}
	}
	return Detection{Available: true}
}

func (p *openaiCompat) ListModels(ctx context.Context) ([]string, error) {
	client, _, err := p.client()
	if err != nil {
		return nil, err
	}
	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: list models: %w", p.id, err)
	}
	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	sort.Strings(models)
	return models, nil
}

func (p *openaiCompat) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	client, model, err := p.client()
	if err != nil {
		return GenerateResult{}, err
	}

	msgs := []openai.ChatCompletionMessage{}
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = &req.Temperature
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("%s: generate: %w", p.id, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResult{}, fmt.Errorf("%s: empty response", p.id)
	}
	return GenerateResult{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
