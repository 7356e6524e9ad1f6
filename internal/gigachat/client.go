package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/metrics"
)

const systemInstruction = `Ты — Prompt Engineer элитного уровня. Твоя цель: превратить пользовательский запрос в мощную инструкцию по методу RTF (Role, Task, Format). Структура ответа:

**Role** (профессиональная роль).

**Task** (детальная задача).

**Context** (контекст и детали).

**Constraints** (ограничения).

**Output Format** (как должен выглядеть результат). 

Ответ выдавай строго на русском языке в формате Markdown внутри блока кода. После ответа и перед ответом ничего не пиши`

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Index        int     `json:"index"`
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Client turns a user prompt into an improved prompt via GigaChat.
type Client struct {
	tokens      *TokenSource
	httpClient  *http.Client
	apiURL      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		tokens:      NewTokenSource(cfg, httpClient),
		httpClient:  httpClient,
		apiURL:      cfg.APIURL,
		model:       cfg.Model,
		temperature: *cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.CompletionTimeout,
	}, nil
}

func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

// Generate runs one chat completion for prompt and returns the trimmed text of
// the first choice. It never retries; a 401 drops the cached token so the
// caller's next attempt re-authenticates.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: failed to build chat request: %v", ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	text, err := c.complete(req)
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	metrics.UpstreamRequestDuration.WithLabelValues("completion", outcome).Observe(time.Since(start).Seconds())

	return text, err
}

func (c *Client) complete(req *http.Request) (string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError("chat completion", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read chat response: %v", ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		logger.Info.Println("Chat completion returned 401, cached access token dropped")
		return "", &StatusError{Kind: ErrAuthExpired, Call: "chat completion", Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{
			Kind:   ErrUpstream,
			Call:   "chat completion",
			Status: resp.StatusCode,
			Detail: upstreamDetail(body),
		}
	}

	var data chatResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("%w: failed to parse chat response: %v", ErrMalformedResponse, err)
	}
	if data.Choices == nil {
		return "", fmt.Errorf("%w: chat response has no choices", ErrMalformedResponse)
	}

	var text string
	if len(data.Choices) > 0 {
		text = strings.TrimSpace(data.Choices[0].Message.Content)
	}
	if text == "" {
		logger.Error.Printf("Empty completion from %s: %s", data.Model, string(body))
		return "", ErrEmptyCompletion
	}

	if data.Usage != nil {
		logger.Debug.Printf("Completion used %d prompt + %d completion tokens", data.Usage.PromptTokens, data.Usage.CompletionTokens)
	}
	return text, nil
}
