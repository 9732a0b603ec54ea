package provider

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/devark-ai/devark/internal/config"
)

// anthropicModels is the static model catalogue; the Anthropic API has no
// unauthenticated listing endpoint.
var anthropicModels = []string{
	"claude-3-5-haiku-latest",
	"claude-3-5-sonnet-latest",
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
}

type anthropicProvider struct {
	cfg     *config.Store
	secrets SecretSource
}

func newAnthropic(cfg *config.Store, secrets SecretSource) *anthropicProvider {
	return &anthropicProvider{cfg: cfg, secrets: secrets}
}

func (p *anthropicProvider) ID() string { return IDAnthropic }

func (p *anthropicProvider) settings() (model, apiKey string, ok bool) {
	pc := p.cfg.Provider(IDAnthropic)
	model = pc.Model
	if model == "" {
		model = anthropicModels[0]
	}
	ref := pc.APIKeyRef
	if ref == "" {
		ref = IDAnthropic
	}
	apiKey, ok = p.secrets.GetSecret(ref)
	return model, apiKey, ok
}

func (p *anthropicProvider) client() (*anthropic.Client, string, error) {
	model, apiKey, ok := p.settings()
	if !ok {
		return nil, "", fmt.Errorf("anthropic: API key not configured")
	}
	opts := []anthropic.ClientOption{}
	if pc := p.cfg.Provider(IDAnthropic); pc.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(pc.Endpoint))
	}
	return anthropic.NewClient(apiKey, opts...), model, nil
}

func (p *anthropicProvider) Detect(_ context.Context) Detection {
	if _, _, ok := p.settings(); !ok {
		return Detection{Available: false, Reason: "API key not configured"}
	}
	return Detection{Available: true}
}

func (p *anthropicProvider) ListModels(_ context.Context) ([]string, error) {
	return append([]string(nil), anthropicModels...), nil
}

func (p *anthropicProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	client, model, err := p.client()
	if err != nil {
		return GenerateResult{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	msgReq := anthropic.MessagesRequest{
		Model: anthropic.Model(model),
		Messages: []anthropic.Message{{
			Role:    anthropic.RoleUser,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(req.User)},
		}},
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		msgReq.Temperature = &req.Temperature
	}
	if req.System != "" {
		msgReq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.System}}
	}

	resp, err := client.CreateMessages(ctx, msgReq)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("anthropic: generate: %w", err)
	}
	return GenerateResult{
		Text:       resp.GetFirstContentText(),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}
