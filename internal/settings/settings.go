// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings exposes typed accessors over the settings table: API
// keys, the selected model, response language, immersive mode, and the
// custom model registry.
package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/wolfchat/internal/provider"
	"github.com/jeranaias/wolfchat/internal/storage"
)

// Setting keys. These are the persisted names; the HTTP settings API
// accepts exactly this set.
const (
	KeyOpenRouterAPIKey = "openRouterApiKey"
	KeyGroqAPIKey       = "groqApiKey"
	KeyGeminiAPIKey     = "geminiApiKey"
	KeySelectedModel    = "selectedModel"
	KeySelectedLanguage = "selectedLanguage"
	KeyIsImmersive      = "isImmersive"
	KeyUserName         = "userName"
	KeyCustomModels     = "customModels"
)

var knownKeys = map[string]bool{
	KeyOpenRouterAPIKey: true,
	KeyGroqAPIKey:       true,
	KeyGeminiAPIKey:     true,
	KeySelectedModel:    true,
	KeySelectedLanguage: true,
	KeyIsImmersive:      true,
	KeyUserName:         true,
	KeyCustomModels:     true,
}

// DefaultLanguage means "no language instruction in the system prompt".
const DefaultLanguage = "default"

// Service reads and writes settings, with optional config-file fallbacks
// for API keys that were never saved through the UI.
type Service struct {
	store *storage.Store

	mu           sync.RWMutex
	fallbackKeys map[string]string
}

// NewService wraps store.
func NewService(store *storage.Store) *Service {
	return &Service{store: store, fallbackKeys: map[string]string{}}
}

// WithFallbackKeys installs config-file API keys consulted when the
// settings table has no value for a provider. Safe to call again on
// config reload.
func (s *Service) WithFallbackKeys(openRouter, groq, gemini string) *Service {
	s.mu.Lock()
	s.fallbackKeys = map[string]string{
		KeyOpenRouterAPIKey: openRouter,
		KeyGroqAPIKey:       groq,
		KeyGeminiAPIKey:     gemini,
	}
	s.mu.Unlock()
	return s
}

// ===== TYPED ACCESSORS =====

func (s *Service) stringSetting(key, fallback string) string {
	var v string
	ok, err := s.store.GetSetting(key, &v)
	if err != nil || !ok || v == "" {
		return fallback
	}
	return v
}

// SelectedModel returns the active model id.
func (s *Service) SelectedModel() string {
	return s.stringSetting(KeySelectedModel, provider.DefaultModel)
}

// SetSelectedModel persists the active model id.
func (s *Service) SetSelectedModel(id string) error {
	return s.store.PutSetting(KeySelectedModel, id)
}

// Language returns the response language, or DefaultLanguage.
func (s *Service) Language() string {
	return s.stringSetting(KeySelectedLanguage, DefaultLanguage)
}

// Immersive reports whether immersive mode is on.
func (s *Service) Immersive() bool {
	var v bool
	ok, err := s.store.GetSetting(KeyIsImmersive, &v)
	return err == nil && ok && v
}

// UserName returns the configured display name, if any.
func (s *Service) UserName() string {
	return s.stringSetting(KeyUserName, "")
}

// APIKey returns the key for a provider: the saved setting first, then the
// config-file fallback, then empty.
func (s *Service) APIKey(kind provider.Kind) string {
	key := kind.SettingKey()
	if v := s.stringSetting(key, ""); v != "" {
		return v
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallbackKeys[key]
}

// CustomModels returns the user-registered model list.
func (s *Service) CustomModels() []provider.CustomModel {
	var v []provider.CustomModel
	ok, err := s.store.GetSetting(KeyCustomModels, &v)
	if err != nil || !ok {
		return nil
	}
	return v
}

// ===== RAW ACCESS (HTTP API) =====

// Keys returns the accepted setting names, sorted.
func Keys() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the raw JSON value for one key. The boolean reports whether
// the key has ever been set.
func (s *Service) Get(key string) (json.RawMessage, bool, error) {
	if !knownKeys[key] {
		return nil, false, fmt.Errorf("unknown setting %q", key)
	}
	var raw json.RawMessage
	ok, err := s.store.GetSetting(key, &raw)
	return raw, ok, err
}

// Set stores a raw JSON value under one key.
func (s *Service) Set(key string, value json.RawMessage) error {
	if !knownKeys[key] {
		return fmt.Errorf("unknown setting %q", key)
	}
	if !json.Valid(value) {
		return fmt.Errorf("setting %q: invalid JSON value", key)
	}
	return s.store.PutSetting(key, value)
}

// All returns every stored setting as raw JSON, keyed by name.
func (s *Service) All() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for key := range knownKeys {
		var raw json.RawMessage
		ok, err := s.store.GetSetting(key, &raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = raw
		}
	}
	return out, nil
}
