// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/wolfchat/internal/model"
	"github.com/jeranaias/wolfchat/internal/provider"
	"github.com/jeranaias/wolfchat/internal/stream"
)

// ===== ERRORS =====

var (
	// ErrStreamInFlight is returned when an operation needs exclusive
	// access but a stream is still running (e.g. switching sessions).
	ErrStreamInFlight = errors.New("a response is still streaming")

	// ErrMessageNotFound is returned by Regenerate for an unknown or
	// non-bot message id.
	ErrMessageNotFound = errors.New("message not found")
)

// ===== COLLABORATORS =====

// Repo is the slice of the session repository the controller needs.
type Repo interface {
	CreateOrUpdate(id string, messages []model.Message, titleHint string) (string, error)
	ReplaceMessages(id string, messages []model.Message) error
	Rename(id, title string) error
	Get(id string) (model.ChatSession, error)
}

// Streamer runs model calls. Implemented by stream.Engine.
type Streamer interface {
	Send(ctx context.Context, res provider.Resolved, apiKey string, history []model.Message, systemPrompt string, onChunk stream.ChunkFunc) (stream.Result, error)
	GenerateTitle(ctx context.Context, endpoint, apiKey, userMessage, botMessage string) string
}

// Settings supplies the per-send configuration snapshot.
type Settings interface {
	SelectedModel() string
	Language() string
	Immersive() bool
	APIKey(kind provider.Kind) string
	CustomModels() []provider.CustomModel
}

// Expander resolves slash-command snippets before compose. Optional.
type Expander interface {
	Expand(input string) (string, error)
}

// ===== CONTROLLER =====

// Controller owns the live conversation: the visible message list, the
// session binding, quote state, and the single in-flight stream slot.
//
// Every send runs the same state machine: Composing (quote + command
// expansion, user message append, title bootstrap), AwaitingCredentialCheck
// (provider resolution, key lookup), Streaming (placeholder insert, chunk
// reconciliation) and Settling (success / abort / error semantics). Only
// one stream runs at a time; starting a new one cancels and stales the
// previous.
type Controller struct {
	mu sync.Mutex

	repo     Repo
	resolver *provider.Resolver
	engine   Streamer
	settings Settings
	expander Expander
	logger   *slog.Logger

	messages   []model.Message
	sessionID  string
	quoted     string
	generating bool
	cancel     context.CancelFunc
	seq        uint64
}

// NewController wires the collaborators together.
func NewController(repo Repo, resolver *provider.Resolver, engine Streamer, settings Settings, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		repo:     repo,
		resolver: resolver,
		engine:   engine,
		settings: settings,
		logger:   logger,
	}
}

// WithExpander installs slash-command expansion.
func (c *Controller) WithExpander(e Expander) *Controller {
	c.expander = e
	return c
}

// ===== PUBLIC API =====

// Send runs one full send operation: compose, persist the user turn,
// resolve provider and key, stream, settle. Empty input is ignored.
// Provider failures settle into the conversation as bot messages; the
// returned error covers only internal faults.
//
// Send blocks until settlement. Callers stream the intermediate activity
// through the observer (which may be nil).
func (c *Controller) Send(ctx context.Context, text string, observer Observer) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	c.mu.Lock()
	op := c.beginOpLocked(observer)
	op.rawInput = text
	c.mu.Unlock()

	return op.run(ctx, false)
}

// Regenerate discards the bot message with the given id and everything
// after it, persists the truncation, and re-runs the exchange against the
// current provider selection.
func (c *Controller) Regenerate(ctx context.Context, botMessageID int64, observer Observer) error {
	c.mu.Lock()

	idx := model.IndexByID(c.messages, botMessageID)
	if idx < 0 || c.messages[idx].Sender != model.SenderBot || idx == 0 {
		c.mu.Unlock()
		return ErrMessageNotFound
	}

	truncated := model.CloneMessages(c.messages[:idx])

	op := c.beginOpLocked(observer)
	c.messages = truncated
	if c.sessionID != "" {
		if err := c.repo.ReplaceMessages(c.sessionID, truncated); err != nil {
			c.logger.Warn("failed to persist truncation", "session", c.sessionID, "error", err)
		}
	}
	op.sessionID = c.sessionID
	op.messages = truncated
	op.history = model.CloneMessages(truncated)
	op.userMsg = truncated[len(truncated)-1]
	c.mu.Unlock()

	return op.run(ctx, true)
}

// Stop cancels the in-flight stream, if any. The stream settles as
// aborted: accumulated text stays visible, nothing is persisted.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// NewChat cancels any in-flight stream and resets to an empty, unbound
// conversation. The next send creates a fresh session.
func (c *Controller) NewChat() {
	c.mu.Lock()
	c.staleLocked()
	c.messages = nil
	c.sessionID = ""
	c.quoted = ""
	c.generating = false
	c.mu.Unlock()
}

// SelectSession loads a stored session into the live view. Refused while
// a stream is in flight; callers stop it first.
func (c *Controller) SelectSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generating {
		return ErrStreamInFlight
	}
	sess, err := c.repo.Get(id)
	if err != nil {
		return err
	}
	c.messages = model.CloneMessages(sess.Messages)
	c.sessionID = sess.ID
	c.quoted = ""
	return nil
}

// SetQuote stages a quoted excerpt for the next send.
func (c *Controller) SetQuote(text string) {
	c.mu.Lock()
	c.quoted = text
	c.mu.Unlock()
}

// ClearQuote drops any staged quote.
func (c *Controller) ClearQuote() {
	c.SetQuote("")
}

// Messages returns a snapshot of the live message list.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneMessages(c.messages)
}

// SessionID returns the bound session id, empty for a new chat.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// IsGenerating reports whether a stream is in flight.
func (c *Controller) IsGenerating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

// ===== INTERNAL =====

// beginOpLocked supersedes any in-flight operation (swap-and-cancel plus
// sequence bump, so stale callbacks become no-ops) and claims the stream
// slot for a new one. Caller holds c.mu.
func (c *Controller) beginOpLocked(observer Observer) *sendOp {
	c.staleLocked()
	c.generating = true
	return &sendOp{
		c:        c,
		seq:      c.seq,
		observer: observer,
	}
}

// staleLocked cancels the current stream and advances the sequence so its
// remaining callbacks are ignored. Caller holds c.mu.
func (c *Controller) staleLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
}
