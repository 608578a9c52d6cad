// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

// BuiltinModels is the model picker's default catalog.
var BuiltinModels = []string{
	"gemini/gemini-3-flash-preview",
	"gemini/gemini-3-pro-preview",
	"gemini/gemini-2.5-flash",
	"groq/moonshotai/kimi-k2-instruct-0905",
}

// DefaultModel is used until the user picks one.
const DefaultModel = "groq/moonshotai/kimi-k2-instruct-0905"

// modelAliases maps model ids to friendlier display names.
var modelAliases = map[string]string{
	"groq/moonshotai/kimi-k2-instruct-0905": "Kimi K2 Instruct (09-05)",
	"gemini/gemini-3-flash-preview":         "Gemini 3.0 Flash",
	"gemini/gemini-3-pro-preview":           "Gemini 3.0 Pro",
	"gemini/gemini-2.5-flash":               "Gemini 2.5 Flash",
}

// DisplayName returns the friendly name for a model id, consulting custom
// models first, then the built-in aliases, falling back to the id itself.
func DisplayName(modelID string, custom []CustomModel) string {
	for i := range custom {
		if custom[i].ID == modelID && custom[i].Name != "" {
			return custom[i].Name
		}
	}
	if alias, ok := modelAliases[modelID]; ok {
		return alias
	}
	return modelID
}
