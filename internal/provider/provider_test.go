package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devark-ai/devark/internal/config"
)

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecret(ref string) (string, bool) {
	v, ok := f[ref]
	return v, ok
}

func testConfig(t *testing.T) *config.Store {
	t.Helper()
	cfg := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	t.Cleanup(func() { cfg.Close() })
	return cfg
}

// chatServer is a minimal OpenAI-compatible endpoint.
func chatServer(t *testing.T, wantAuth string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"llama3.2"},{"id":"codellama"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if wantAuth != "" && r.Header.Get("Authorization") != "Bearer "+wantAuth {
			http.Error(w, `{"error":{"message":"unauthorized"}}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"{\"score\": 7}"}}],
			"usage":{"prompt_tokens":30,"completion_tokens":12,"total_tokens":42}
		}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegistryDefaults(t *testing.T) {
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})

	assert.Equal(t, []string{IDOllama, IDOpenRouter, IDAnthropic}, r.IDs())

	active, err := r.Active()
	require.NoError(t, err)
	assert.Equal(t, IDOllama, active.ID(), "ollama is the default provider")
}

func TestRegistrySetActivePersists(t *testing.T) {
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})

	require.NoError(t, r.SetActive(IDAnthropic))
	assert.Equal(t, IDAnthropic, cfg.ActiveProvider())

	assert.ErrorIs(t, r.SetActive("gpt4all"), ErrUnknownProvider)
}

func TestOllamaGenerate(t *testing.T) {
	srv := chatServer(t, "")
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})
	require.NoError(t, r.Configure(IDOllama, config.ProviderConfig{Endpoint: srv.URL + "/v1"}))

	p, ok := r.Get(IDOllama)
	require.True(t, ok)

	res, err := p.Generate(context.Background(), GenerateRequest{
		System:      "You are a rubric.",
		User:        "Score this prompt.",
		Temperature: 0.2,
		MaxTokens:   256,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 7}`, res.Text)
	assert.Equal(t, 42, res.TokensUsed)
}

func TestOllamaDetectAndListModels(t *testing.T) {
	srv := chatServer(t, "")
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})
	require.NoError(t, r.Configure(IDOllama, config.ProviderConfig{Endpoint: srv.URL + "/v1"}))

	p, _ := r.Get(IDOllama)
	d := p.Detect(context.Background())
	assert.True(t, d.Available)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"codellama", "llama3.2"}, models)
}

func TestOllamaUnreachable(t *testing.T) {
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})
	require.NoError(t, r.Configure(IDOllama, config.ProviderConfig{Endpoint: "http://127.0.0.1:1/v1"}))

	p, _ := r.Get(IDOllama)
	d := p.Detect(context.Background())
	assert.False(t, d.Available)
	assert.NotEmpty(t, d.Reason)
}

func TestOpenRouterRequiresKey(t *testing.T) {
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})

	p, _ := r.Get(IDOpenRouter)
	d := p.Detect(context.Background())
	assert.False(t, d.Available)
	assert.Equal(t, "API key not configured", d.Reason)

	_, err := p.Generate(context.Background(), GenerateRequest{User: "hi"})
	assert.Error(t, err)
}

func TestOpenRouterResolvesKeyRef(t *testing.T) {
	srv := chatServer(t, "sk-or-test-key")
	cfg := testConfig(t)
	secrets := fakeSecrets{"router-key": "sk-or-test-key"}
	r := NewRegistry(cfg, secrets)
	require.NoError(t, r.Configure(IDOpenRouter, config.ProviderConfig{
		Endpoint:  srv.URL + "/v1",
		Model:     "anthropic/claude-3.5-sonnet",
		APIKeyRef: "router-key",
	}))

	p, _ := r.Get(IDOpenRouter)
	assert.True(t, p.Detect(context.Background()).Available)

	res, err := p.Generate(context.Background(), GenerateRequest{User: "Score this."})
	require.NoError(t, err)
	assert.Equal(t, 42, res.TokensUsed)
}

func TestAnthropicDetectAndModels(t *testing.T) {
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{IDAnthropic: "sk-ant-test"})

	p, _ := r.Get(IDAnthropic)
	assert.True(t, p.Detect(context.Background()).Available)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Contains(t, models, "claude-3-5-haiku-latest")
}

func TestRegistryGenerateUsesActiveProvider(t *testing.T) {
	srv := chatServer(t, "")
	cfg := testConfig(t)
	r := NewRegistry(cfg, fakeSecrets{})
	require.NoError(t, r.Configure(IDOllama, config.ProviderConfig{Endpoint: srv.URL + "/v1"}))

	res, err := r.Generate(context.Background(), GenerateRequest{User: "Score this."})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 7}`, res.Text)
}
