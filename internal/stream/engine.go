// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jeranaias/wolfchat/internal/model"
	"github.com/jeranaias/wolfchat/internal/provider"
)

// ===== TYPES =====

// Result is the authoritative final output of a stream: the engine's own
// accumulation of every content and reasoning delta it delivered.
type Result struct {
	Text      string
	Reasoning string
}

// ChunkFunc receives each delta as it arrives. Either argument may be
// empty; both channels advance in lockstep with the wire.
type ChunkFunc func(textDelta, reasoningDelta string)

// Engine talks to the upstream LLM providers: streaming chat completions
// for OpenRouter and Groq, single-shot generateContent for Gemini, and
// non-streaming title generation.
type Engine struct {
	client  *http.Client
	referer string
	appName string
	logger  *slog.Logger
}

// NewEngine returns an engine with no client timeout; streams are bounded
// by the caller's context, not a wall clock.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:  &http.Client{},
		referer: "http://localhost:8788",
		appName: "WolfChat",
		logger:  logger,
	}
}

// WithReferer sets the HTTP-Referer sent to OpenRouter.
func (e *Engine) WithReferer(referer string) *Engine {
	e.referer = referer
	return e
}

// WithHTTPClient replaces the transport, mainly for tests.
func (e *Engine) WithHTTPClient(client *http.Client) *Engine {
	e.client = client
	return e
}

// ===== WIRE FORMAT =====

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
}

// buildMessages flattens the system prompt and conversation history into
// the OpenAI-style message array: system first, then user/assistant in
// order.
func buildMessages(systemPrompt string, history []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(history)+1)
	out = append(out, wireMessage{Role: "system", Content: systemPrompt})
	for i := range history {
		role := "assistant"
		if history[i].Sender == model.SenderUser {
			role = "user"
		}
		out = append(out, wireMessage{Role: role, Content: history[i].Text})
	}
	return out
}

// ===== SEND =====

// Send runs one model call against the resolved provider. Deltas are
// delivered through onChunk as they arrive; the returned Result is the
// engine's own accumulation and is authoritative for settlement.
//
// Cancellation through ctx surfaces as context.Canceled with the partial
// Result intact, distinguishable from transport and API failures.
func (e *Engine) Send(ctx context.Context, res provider.Resolved, apiKey string, history []model.Message, systemPrompt string, onChunk ChunkFunc) (Result, error) {
	if res.SingleShot {
		return e.sendGemini(ctx, res, apiKey, history, systemPrompt, onChunk)
	}
	return e.sendChatStream(ctx, res, apiKey, history, systemPrompt, onChunk)
}

func (e *Engine) sendChatStream(ctx context.Context, res provider.Resolved, apiKey string, history []model.Message, systemPrompt string, onChunk ChunkFunc) (Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:    res.Model,
		Messages: buildMessages(systemPrompt, history),
		Stream:   true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, res.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	if res.Kind == provider.KindOpenRouter {
		// OpenRouter attributes traffic by referer + app title.
		req.Header.Set("HTTP-Referer", e.referer)
		req.Header.Set("X-Title", e.appName)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return Result{}, e.decodeError(resp.StatusCode, raw, res.Model)
	}

	return e.readSSE(ctx, resp.Body, onChunk)
}

// readSSE consumes newline-delimited "data:" records until the [DONE]
// sentinel or stream end. Malformed records are logged and skipped so one
// bad chunk never kills a stream.
func (e *Engine) readSSE(ctx context.Context, body io.Reader, onChunk ChunkFunc) (Result, error) {
	var result Result

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == "data: [DONE]" {
			return result, nil
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(line[len("data: "):]), &chunk); err != nil {
			e.logger.Warn("skipping malformed stream record", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		reasoning := delta.ReasoningContent
		if reasoning == "" {
			reasoning = delta.Reasoning
		}
		if delta.Content == "" && reasoning == "" {
			continue
		}

		result.Text += delta.Content
		result.Reasoning += reasoning
		if onChunk != nil {
			onChunk(delta.Content, reasoning)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// Partial result survives a user stop.
			return result, ctx.Err()
		}
		return result, fmt.Errorf("stream read failed: %w", err)
	}
	return result, nil
}

// ===== GEMINI =====

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// sendGemini performs the single-shot generateContent call. The whole
// reply is delivered as one chunk, then the call settles.
func (e *Engine) sendGemini(ctx context.Context, res provider.Resolved, apiKey string, history []model.Message, systemPrompt string, onChunk ChunkFunc) (Result, error) {
	contents := make([]geminiContent, 0, len(history))
	for i := range history {
		role := "model"
		if history[i].Sender == model.SenderUser {
			role = "user"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: history[i].Text}},
		})
	}

	body, err := json.Marshal(geminiRequest{
		Contents:          contents,
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, res.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("x-goog-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, e.decodeError(resp.StatusCode, raw, res.Model)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	result := Result{Text: text.String()}
	if onChunk != nil && result.Text != "" {
		onChunk(result.Text, "")
	}
	return result, nil
}

// ===== ERROR DECODING =====

type apiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// decodeError maps a non-2xx provider response to the error taxonomy:
// 429 to RateLimitError, capacity failures to OverloadedError, everything
// else to APIError carrying the provider message when parseable.
func (e *Engine) decodeError(status int, body []byte, modelID string) error {
	var parsed apiErrorResponse
	msg := ""
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		} else {
			msg = parsed.Message
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Model: modelID}
	case status == http.StatusServiceUnavailable,
		strings.Contains(strings.ToLower(msg), "overloaded"):
		return &OverloadedError{Detail: msg}
	default:
		return &APIError{Status: status, Message: msg}
	}
}
