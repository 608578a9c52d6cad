// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "strings"

// ===== KIND =====

// Kind is the closed set of upstream providers a model id can resolve to.
type Kind int

const (
	KindOpenRouter Kind = iota
	KindGroq
	KindGemini
)

// String returns the human-facing provider name, used verbatim in the
// missing-credential message shown to the user.
func (k Kind) String() string {
	switch k {
	case KindGroq:
		return "Groq"
	case KindGemini:
		return "Gemini"
	default:
		return "OpenRouter"
	}
}

// SettingKey returns the settings-table key holding this provider's API key.
func (k Kind) SettingKey() string {
	switch k {
	case KindGroq:
		return "groqApiKey"
	case KindGemini:
		return "geminiApiKey"
	default:
		return "openRouterApiKey"
	}
}

// ===== RESOLUTION =====

// CustomModel is a user-registered model: a full prefixed id, a display
// name, and the provider it binds to ("openrouter", "groq" or "gemini").
type CustomModel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Resolved is the outcome of resolving a selected model id: where to send
// the request, as what wire model id, authenticated how.
type Resolved struct {
	Kind Kind
	// Model is the wire model id with the provider prefix stripped.
	Model string
	// Endpoint is the full request URL.
	Endpoint string
	// SingleShot is true for providers without incremental streaming
	// (Gemini generateContent): the whole reply arrives as one chunk.
	SingleShot bool
}

// Default endpoints. Overridable on the Resolver for tests and self-hosted
// gateways.
const (
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultGroqURL       = "https://api.groq.com/openai/v1/chat/completions"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Resolver maps selected model ids to provider bindings. The zero value is
// not usable; construct with NewResolver.
type Resolver struct {
	OpenRouterURL string
	GroqURL       string
	GeminiBaseURL string
}

// NewResolver returns a resolver pointed at the real provider endpoints.
func NewResolver() *Resolver {
	return &Resolver{
		OpenRouterURL: DefaultOpenRouterURL,
		GroqURL:       DefaultGroqURL,
		GeminiBaseURL: DefaultGeminiBaseURL,
	}
}

// Resolve maps a selected model id to its provider binding.
//
// Dispatch is prefix-based: "groq/" and "gemini/" route to their providers
// with the prefix stripped; "openrouter/" strips the prefix; anything else
// goes to OpenRouter with the id passed through verbatim, so arbitrary
// OpenRouter catalog ids work unprefixed. A custom model's provider binding
// takes precedence over its id's prefix.
func (r *Resolver) Resolve(modelID string, custom []CustomModel) Resolved {
	for i := range custom {
		if custom[i].ID == modelID {
			return r.resolveKind(kindFromName(custom[i].Provider), modelID)
		}
	}

	switch {
	case strings.HasPrefix(modelID, "groq/"):
		return r.resolveKind(KindGroq, modelID)
	case strings.HasPrefix(modelID, "gemini/"):
		return r.resolveKind(KindGemini, modelID)
	default:
		return r.resolveKind(KindOpenRouter, modelID)
	}
}

func (r *Resolver) resolveKind(kind Kind, modelID string) Resolved {
	switch kind {
	case KindGroq:
		return Resolved{
			Kind:     KindGroq,
			Model:    strings.TrimPrefix(modelID, "groq/"),
			Endpoint: r.GroqURL,
		}
	case KindGemini:
		model := strings.TrimPrefix(modelID, "gemini/")
		return Resolved{
			Kind:       KindGemini,
			Model:      model,
			Endpoint:   r.GeminiBaseURL + "/models/" + model + ":generateContent",
			SingleShot: true,
		}
	default:
		return Resolved{
			Kind:     KindOpenRouter,
			Model:    strings.TrimPrefix(modelID, "openrouter/"),
			Endpoint: r.OpenRouterURL,
		}
	}
}

func kindFromName(name string) Kind {
	switch strings.ToLower(name) {
	case "groq":
		return KindGroq
	case "gemini":
		return KindGemini
	default:
		return KindOpenRouter
	}
}
