// Package llm is a thin client for OpenAI chat-completions compatible endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel   = "qwen-vl-plus"
)

var ErrMissingAPIKey = errors.New("llm: api key is required")

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Vision  bool
	Timeout time.Duration
}

type Message struct {
	Role string
	Text string
	// ImageURLs are only sent when the client has vision enabled.
	ImageURLs []string
}

type Client struct {
	api *openai.Client
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{api: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

func (c *Client) Model() string   { return c.cfg.Model }
func (c *Client) Vision() bool    { return c.cfg.Vision }
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Complete sends one chat completion and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("llm: no messages")
	}
	req := openai.ChatCompletionRequest{Model: c.cfg.Model}
	for _, m := range msgs {
		req.Messages = append(req.Messages, c.toOpenAI(m))
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) toOpenAI(m Message) openai.ChatCompletionMessage {
	role := m.Role
	if role == "" {
		role = openai.ChatMessageRoleUser
	}
	if !c.cfg.Vision || len(m.ImageURLs) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: m.Text}
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Text}}
	for _, u := range m.ImageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}
