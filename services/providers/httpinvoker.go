package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// HTTPInvokerConfig configures an OpenAI-compatible chat completions client.
// Most hosted and self-hosted providers (OpenAI, vLLM, Ollama, LM Studio)
// speak this wire format.
type HTTPInvokerConfig struct {
	// Provider name reported in errors and routing decisions
	Provider string

	// BaseURL of the API, without the /chat/completions suffix
	BaseURL string

	// APIKey sent as a bearer token; empty disables the header
	APIKey string

	// Headers adds extra headers to every request
	Headers map[string]string

	// Timeout bounds a single HTTP round trip
	Timeout time.Duration
}

// HTTPInvoker calls an OpenAI-compatible chat completions endpoint and
// classifies failures by HTTP status code.
type HTTPInvoker struct {
	config     HTTPInvokerConfig
	httpClient *http.Client
}

// NewHTTPInvoker creates an invoker for an OpenAI-compatible endpoint
func NewHTTPInvoker(config HTTPInvokerConfig) *HTTPInvoker {
	if config.Timeout == 0 {
		config.Timeout = defaultHTTPTimeout
	}

	return &HTTPInvoker{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the configured provider name
func (h *HTTPInvoker) Name() string {
	return h.config.Provider
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Invoke sends a single-turn chat completion request
func (h *HTTPInvoker) Invoke(ctx context.Context, model string, prompt string) (*Result, error) {
	reqBody, err := json.Marshal(chatCompletionRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, NewPermanentError(h.config.Provider, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, NewPermanentError(h.config.Provider, "failed to create request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.config.APIKey)
	}
	for k, v := range h.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(h.config.Provider, "http request failed", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewTransientError(h.config.Provider, "failed to read response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, h.classifyStatus(httpResp.StatusCode, respBody)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, NewTransientError(h.config.Provider, "failed to unmarshal response", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, NewTransientError(h.config.Provider, "response contained no choices", nil)
	}

	return &Result{
		Content:    chatResp.Choices[0].Message.Content,
		TokensUsed: chatResp.Usage.TotalTokens,
	}, nil
}

// classifyStatus maps an HTTP status code to the error taxonomy.
// 429 and 402 are capacity, 5xx and 408 are transient, the remaining
// 4xx are permanent.
func (h *HTTPInvoker) classifyStatus(status int, body []byte) error {
	message := fmt.Sprintf("provider returned status %d: %s", status, truncate(string(body), 256))

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return &ProviderError{Provider: h.config.Provider, Kind: KindCapacity, Message: message, StatusCode: status}
	case status >= 500 || status == http.StatusRequestTimeout:
		return &ProviderError{Provider: h.config.Provider, Kind: KindTransient, Message: message, StatusCode: status}
	default:
		return &ProviderError{Provider: h.config.Provider, Kind: KindPermanent, Message: message, StatusCode: status}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
