// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands implements slash-command snippet expansion.
//
// A command is a user-defined prompt template stored by name. Input of the
// form "/name args" expands the stored template before the message is
// composed; anything else passes through untouched.
package commands

import (
	"errors"
	"strings"

	"github.com/jeranaias/wolfchat/internal/storage"
)

// InputPlaceholder marks where command arguments land in a template.
const InputPlaceholder = "{input}"

// ===== PARSER =====

// ParseResult is one parsed slash command invocation.
type ParseResult struct {
	Name string
	Args string
}

// IsCommand reports whether input starts a slash command.
func IsCommand(input string) bool {
	trimmed := strings.TrimSpace(input)
	return strings.HasPrefix(trimmed, "/") && len(trimmed) > 1
}

// Parse splits "/name args" into its parts. The boolean is false when
// input is not a command.
func Parse(input string) (ParseResult, bool) {
	if !IsCommand(input) {
		return ParseResult{}, false
	}
	trimmed := strings.TrimSpace(input)[1:]
	name, args, _ := strings.Cut(trimmed, " ")
	return ParseResult{
		Name: strings.ToLower(name),
		Args: strings.TrimSpace(args),
	}, true
}

// ===== REGISTRY =====

// Registry exposes the stored command snippets and performs expansion.
type Registry struct {
	store *storage.Store
}

// NewRegistry wraps store.
func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store}
}

// Expand resolves a slash command in input against the stored snippets.
//
// The template's {input} placeholder is replaced with the arguments; a
// template without the placeholder gets the arguments appended on a blank
// line. Non-commands and unknown command names pass through unchanged, so
// a literal "/" message still reaches the model.
func (r *Registry) Expand(input string) (string, error) {
	parsed, ok := Parse(input)
	if !ok {
		return input, nil
	}

	cmd, err := r.store.GetCommand(parsed.Name)
	if err != nil {
		if errors.Is(err, storage.ErrCommandNotFound) {
			return input, nil
		}
		return input, err
	}

	if strings.Contains(cmd.Template, InputPlaceholder) {
		return strings.ReplaceAll(cmd.Template, InputPlaceholder, parsed.Args), nil
	}
	if parsed.Args == "" {
		return cmd.Template, nil
	}
	return cmd.Template + "\n\n" + parsed.Args, nil
}

// Save stores or replaces a snippet. Names are lowercased so lookup
// matches Parse.
func (r *Registry) Save(name, template, description string) error {
	return r.store.PutCommand(storage.Command{
		Name:        strings.ToLower(strings.TrimSpace(name)),
		Template:    template,
		Description: description,
	})
}

// List returns every stored snippet, sorted by name.
func (r *Registry) List() ([]storage.Command, error) {
	return r.store.ListCommands()
}

// Delete removes a snippet.
func (r *Registry) Delete(name string) error {
	return r.store.DeleteCommand(strings.ToLower(strings.TrimSpace(name)))
}
