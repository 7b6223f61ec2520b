package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HuggingFace defaults.
const (
	DefaultHFBaseURL = "https://router.huggingface.co/v1"
	DefaultHFModel   = "meta-llama/Llama-3.2-3B-Instruct"
)

const (
	hfTemperature = 0.7
	hfTopP        = 0.9
	// maxErrorBody caps how much of an error response ends up in logs.
	maxErrorBody = 512
)

// HuggingFaceConfig configures the HuggingFace chat-completions backend.
type HuggingFaceConfig struct {
	Token   string
	Model   string
	BaseURL string
	Client  *http.Client
}

// HuggingFace calls the OpenAI-compatible chat-completions endpoint of the
// HuggingFace inference router.
type HuggingFace struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
}

type hfMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type hfRequest struct {
	Model       string      `json:"model"`
	Messages    []hfMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature"`
	TopP        float64     `json:"top_p"`
}

type hfResponse struct {
	Choices []struct {
		Message hfMessage `json:"message"`
	} `json:"choices"`
	Error any `json:"error,omitempty"`
}

// NewHuggingFace creates the backend. An empty token is accepted and reported
// on each call as a MissingCredentialError.
func NewHuggingFace(cfg HuggingFaceConfig) *HuggingFace {
	if cfg.Model == "" {
		cfg.Model = DefaultHFModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHFBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 2 * DefaultTimeout}
	}
	return &HuggingFace{
		token:      cfg.Token,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.Client,
	}
}

// Name implements Generator.
func (h *HuggingFace) Name() string { return "huggingface" }

// Generate implements Generator.
func (h *HuggingFace) Generate(ctx context.Context, req Request) (string, error) {
	if h.token == "" {
		return "", &MissingCredentialError{Variable: "HF_TOKEN", Provider: "HuggingFace"}
	}

	body, err := json.Marshal(hfRequest{
		Model:       h.model,
		Messages:    []hfMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: hfTemperature,
		TopP:        hfTopP,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.token)

	start := time.Now()
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("huggingface request after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d", ErrUnauthenticated, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return "", fmt.Errorf("%w: status %d", ErrTimeout, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded hfResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, decoded.Error)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrUnavailable)
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
