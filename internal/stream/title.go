// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jeranaias/wolfchat/internal/util"
)

// TitleModel is the small, fast model used for chat title generation.
const TitleModel = "llama-3.1-8b-instant"

type titleResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateTitle asks Groq for a short chat title summarizing the first
// exchange. Best effort: any failure returns an empty string, never an
// error, so title generation can run fire-and-forget after settlement.
func (e *Engine) GenerateTitle(ctx context.Context, endpoint, apiKey, userMessage, botMessage string) string {
	if apiKey == "" {
		return ""
	}

	prompt := "User: " + util.ClampRunes(userMessage, 200) +
		"\nAssistant: " + util.ClampRunes(botMessage, 200) +
		"\n\nGenerate a title for this chat. The title must be at most 50 characters long. Do not use quotes. Return ONLY the title."

	body, err := json.Marshal(chatRequest{
		Model: TitleModel,
		Messages: []wireMessage{
			{Role: "system", Content: "You are a title generator. Generate a concise title (max 50 chars) for the chat based on the conversation."},
			{Role: "user", Content: prompt},
		},
		Stream: false,
	})
	if err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("title generation failed", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ""
	}

	var parsed titleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ""
	}
	if len(parsed.Choices) == 0 {
		return ""
	}

	title := strings.TrimSpace(parsed.Choices[0].Message.Content)
	title = util.TrimSurroundingQuotes(title)
	return util.ClampRunes(title, 50)
}
