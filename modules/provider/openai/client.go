package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flemzord/reddichat/internal/provider"
)

// maxResponseSize caps non-streaming response bodies at 10 MB.
const maxResponseSize = 10 * 1024 * 1024

// streamChannelBuffer is the buffer size for the streaming channel.
const streamChannelBuffer = 64

const completionsPath = "/chat/completions"

// buildChatRequest merges request-level overrides with config defaults.
func (p *Provider) buildChatRequest(req provider.CompletionRequest, stream bool) chatRequest {
	cr := chatRequest{
		Model:       p.config.Model,
		Messages:    toMessages(req.Messages),
		Stream:      stream,
		MaxTokens:   firstPositive(req.MaxTokens, p.config.MaxTokens),
		Temperature: firstSet(req.Temperature, p.config.Temperature),
		TopP:        firstSet(req.TopP, p.config.TopP),
		Stop:        req.Stop,
	}
	if len(req.Tools) > 0 {
		cr.Tools = toTools(req.Tools)
		cr.ToolChoice = string(req.ToolChoice)
	}
	if stream {
		cr.StreamOptions = &streamOpts{IncludeUsage: true}
	}
	return cr
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func firstSet(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

func (p *Provider) newHTTPRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	return httpReq, nil
}

// Complete sends a non-streaming completion request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildChatRequest(req, false))
	if err != nil {
		return provider.CompletionResponse{}, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return provider.CompletionResponse{}, mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openai: read response: %w", err)
	}
	if httpErr := mapHTTPError(resp.StatusCode, body); httpErr != nil {
		p.logger.Warn("completion failed", "status", resp.StatusCode, "error", httpErr)
		return provider.CompletionResponse{}, httpErr
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}
	return fromResponse(&out), nil
}

// Stream sends a streaming completion request and returns a channel of chunks.
// Initial connection errors are returned directly. Mid-stream errors are
// delivered via StreamChunk.Err.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	httpReq, err := p.newHTTPRequest(ctx, p.buildChatRequest(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, mapConnectionError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		httpErr := mapHTTPError(resp.StatusCode, body)
		p.logger.Warn("stream rejected", "status", resp.StatusCode, "error", httpErr)
		return nil, httpErr
	}

	ch := make(chan provider.StreamChunk, streamChannelBuffer)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// HealthCheck sends a minimal 1-token completion, exercising auth,
// model access and quota.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, provider.CompletionRequest{
		Messages:  []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: "hi"}},
		MaxTokens: 1,
	})
	return err
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}
