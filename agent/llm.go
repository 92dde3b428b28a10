package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Cshiyuan/browser-brain/config"
	"github.com/Cshiyuan/browser-brain/models"
)

// LLMClient is a lightweight OpenAI-compatible chat client for the agent's
// decision calls. It uses net/http directly — no third-party SDK needed —
// and paces requests with a token bucket so bursts of parallel sessions do
// not trip provider rate limits.
type LLMClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        config.AgentConfig
}

// NewLLMClient creates a client from the agent configuration.
// Pass nil to use a default http.Client.
func NewLLMClient(cfg config.AgentConfig, httpClient *http.Client) *LLMClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &LLMClient{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cfg:        cfg,
	}
}

// ChatMessage is one chat turn. Content is either a plain string or a list
// of content parts (for vision messages).
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// TextPart and ImagePart compose multimodal message content.
type TextPart struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

type ImagePart struct {
	Type     string   `json:"type"` // "image_url"
	ImageURL ImageURL `json:"image_url"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the minimal chat completion response we need.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// chatErrorResponse captures an API error from the LLM provider.
type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Chat sends the messages and returns the assistant's reply content.
func (c *LLMClient) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", models.NewAgentError(models.ErrCodeLLMFailure, "rate limiter wait aborted", err)
	}

	reqBody := chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewAgentError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewAgentError(models.ErrCodeLLMFailure, "failed to read LLM response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatErrorResponse
		msg := fmt.Sprintf("LLM provider returned status %d", resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "", models.NewAgentError(models.ErrCodeLLMAuthFailure, msg, nil)
		case http.StatusTooManyRequests:
			return "", models.NewAgentError(models.ErrCodeLLMRateLimited, msg, nil)
		default:
			return "", models.NewAgentError(models.ErrCodeLLMFailure, msg, nil)
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", models.NewAgentError(models.ErrCodeLLMFailure, "malformed LLM response body", err)
	}
	if len(parsed.Choices) == 0 {
		return "", models.NewAgentError(models.ErrCodeLLMFailure, "LLM response contained no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}
