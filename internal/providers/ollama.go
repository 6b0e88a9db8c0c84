package providers

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama implements the Completer interface for Ollama and LM Studio
// through their OpenAI-compatible API.
type Ollama struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOllama creates a new Ollama provider. No API key is required by default.
func NewOllama(model string) (*Ollama, error) {
	return &Ollama{
		apiKey:  os.Getenv("LENS_OLLAMA_API_KEY"),
		model:   model,
		baseURL: ollamaEndpoint(os.Getenv("OLLAMA_HOST")),
		client:  &http.Client{Timeout: 300 * time.Second},
	}, nil
}

// ollamaEndpoint normalizes a host setting such as "localhost:11434/v1" to
// the chat completions URL.
func ollamaEndpoint(host string) string {
	if host == "" {
		host = defaultOllamaURL
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	host = strings.TrimRight(host, "/")
	host = strings.TrimSuffix(host, "/v1/chat/completions")
	host = strings.TrimSuffix(host, "/v1")
	return host + "/v1/chat/completions"
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Complete(ctx context.Context, req Request) (Response, error) {
	return chatCompletion(ctx, o.client, o.baseURL, o.apiKey, o.model, req)
}
