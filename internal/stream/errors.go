// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
)

// ===== SENTINELS =====

var (
	// ErrRateLimited matches any provider 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrOverloaded matches provider "model overloaded" failures.
	ErrOverloaded = errors.New("model overloaded")

	// ErrAuthFailed matches 401/403 responses.
	ErrAuthFailed = errors.New("authentication failed")
)

// ===== TYPED ERRORS =====

// RateLimitError is a 429 from a provider, carrying the model that hit the
// limit. Its message is shown to the user verbatim.
type RateLimitError struct {
	Model string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Request limit exceeded (429). The model %s has restricted usage limits. Wait a moment and try again.", e.Model)
}

// Is makes errors.Is(err, ErrRateLimited) work on RateLimitError values.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// OverloadedError is a provider-side capacity failure. Its message is shown
// to the user verbatim.
type OverloadedError struct {
	Detail string
}

func (e *OverloadedError) Error() string {
	if e.Detail == "" {
		return "The model is currently overloaded. Try again in a few seconds."
	}
	return fmt.Sprintf("The model is currently overloaded. Try again in a few seconds. (Details: %s)", e.Detail)
}

// Is makes errors.Is(err, ErrOverloaded) work on OverloadedError values.
func (e *OverloadedError) Is(target error) bool {
	return target == ErrOverloaded
}

// APIError is any other non-2xx provider response, carrying the provider's
// own message when one could be parsed.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: status %d", e.Status)
}

// Is makes errors.Is(err, ErrAuthFailed) work for 401/403 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrAuthFailed && (e.Status == 401 || e.Status == 403)
}

// UserFacing reports whether err carries a message suitable for display.
// Transport-level failures get a generic fallback instead.
func UserFacing(err error) bool {
	var apiErr *APIError
	var rlErr *RateLimitError
	var olErr *OverloadedError
	return errors.As(err, &apiErr) || errors.As(err, &rlErr) || errors.As(err, &olErr)
}
