// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/jeranaias/wolfchat/internal/model"
	"github.com/jeranaias/wolfchat/internal/provider"
	"github.com/jeranaias/wolfchat/internal/session"
	"github.com/jeranaias/wolfchat/internal/stream"
	"github.com/jeranaias/wolfchat/internal/util"
)

// ===== STATES AND TRIGGERS =====

const (
	stateIdle            = "Idle"
	stateComposing       = "Composing"
	stateCredentialCheck = "AwaitingCredentialCheck"
	stateStreaming       = "Streaming"
	stateSettling        = "Settling"
	stateDone            = "Done"
)

const (
	triggerSend              = "Send"
	triggerRegenerate        = "Regenerate"
	triggerComposed          = "Composed"
	triggerCredentialOK      = "CredentialOK"
	triggerCredentialMissing = "CredentialMissing"
	triggerStreamDone        = "StreamDone"
	triggerStreamAborted     = "StreamAborted"
	triggerStreamFailed      = "StreamFailed"
	triggerSettled           = "Settled"
)

// ===== USER-FACING TEXT =====

const (
	interruptedMessage = "🛑 Response interrupted by user."
	errorPrefix        = "Error: "
	errorFallback      = "Could not get a response."
)

// friendlyError picks the text shown after the error prefix: provider
// messages are surfaced verbatim, transport noise collapses to a generic
// line.
func friendlyError(err error) string {
	if stream.UserFacing(err) {
		return err.Error()
	}
	return errorFallback
}

// titleHintLimit is how much of the first input seeds the session title
// before auto-titling replaces it.
const titleHintLimit = 30

// ===== OPERATION =====

// sendOp is one send (or regenerate) flowing through the state machine.
// It keeps its own canonical message list and session binding so a
// superseding operation can never corrupt its settlement; staleness is
// checked against the controller sequence before every shared mutation.
type sendOp struct {
	c        *Controller
	seq      uint64
	observer Observer
	fsm      *stateless.StateMachine

	rawInput string
	userMsg  model.Message

	messages  []model.Message
	history   []model.Message
	sessionID string

	placeholderID int64
	cancelStream  context.CancelFunc

	resolved     provider.Resolved
	apiKey       string
	systemPrompt string

	firstExchange bool
	result        stream.Result
	streamErr     error
	outcome       Outcome
	finalMsg      model.Message
}

func newSendMachine(op *sendOp) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(stateIdle)

	fsm.Configure(stateIdle).
		Permit(triggerSend, stateComposing).
		Permit(triggerRegenerate, stateCredentialCheck)

	fsm.Configure(stateComposing).
		OnEntry(op.compose).
		Permit(triggerComposed, stateCredentialCheck)

	fsm.Configure(stateCredentialCheck).
		OnEntry(op.checkCredential).
		Permit(triggerCredentialOK, stateStreaming).
		Permit(triggerCredentialMissing, stateDone)

	fsm.Configure(stateStreaming).
		OnEntry(op.stream).
		Permit(triggerStreamDone, stateSettling).
		Permit(triggerStreamAborted, stateSettling).
		Permit(triggerStreamFailed, stateSettling)

	fsm.Configure(stateSettling).
		OnEntry(op.settle).
		Permit(triggerSettled, stateDone)

	return fsm
}

// run drives the machine to completion. Regeneration skips Composing: the
// truncated history was prepared by the caller.
func (op *sendOp) run(ctx context.Context, regenerate bool) error {
	op.fsm = newSendMachine(op)
	defer op.cleanup()

	trigger := triggerSend
	if regenerate {
		trigger = triggerRegenerate
	}
	return op.fsm.FireCtx(ctx, trigger)
}

func (op *sendOp) isStaleLocked() bool {
	return op.c.seq != op.seq
}

func (op *sendOp) emitLocked(ev Event) {
	if op.observer != nil {
		op.observer(ev)
	}
}

// ===== STATE ENTRY ACTIONS =====

// compose expands slash commands, folds in any staged quote, appends the
// user message, and bootstraps session identity (a new chat gets a title
// hinted from the raw input). A superseded operation composes into its own
// list only: the shared view, the staged quote and the store belong to the
// newer operation.
func (op *sendOp) compose(ctx context.Context, _ ...any) error {
	c := op.c
	c.mu.Lock()

	stale := op.isStaleLocked()

	text := op.rawInput
	if c.expander != nil {
		expanded, err := c.expander.Expand(text)
		if err != nil {
			c.logger.Warn("command expansion failed", "error", err)
		} else {
			text = expanded
		}
	}
	if c.quoted != "" && !stale {
		text = "> " + c.quoted + "\n\n" + text
		c.quoted = ""
	}

	var lastID int64
	if n := len(c.messages); n > 0 {
		lastID = c.messages[n-1].ID
	}
	op.userMsg = model.NewUserMessage(model.NextMessageID(lastID), text)
	op.messages = append(model.CloneMessages(c.messages), op.userMsg)
	if !stale {
		c.messages = op.messages
	}
	op.history = model.CloneMessages(op.messages)
	op.firstExchange = len(op.history) == 1

	if !stale {
		titleHint := ""
		if c.sessionID == "" {
			titleHint = util.TruncateRunes(op.rawInput, titleHintLimit)
		}
		id, err := c.repo.CreateOrUpdate(c.sessionID, op.messages, titleHint)
		switch {
		case errors.Is(err, session.ErrSessionMissing):
			c.logger.Debug("session vanished, continuing unpersisted", "session", c.sessionID)
		case err != nil:
			c.logger.Warn("failed to persist user turn", "error", err)
		case c.sessionID == "":
			c.sessionID = id
		}
	}
	op.sessionID = c.sessionID

	userMsg := op.userMsg
	op.emitLocked(Event{Type: EventUserMessage, Message: &userMsg})
	c.mu.Unlock()

	return op.fsm.FireCtx(ctx, triggerComposed)
}

// checkCredential snapshots the provider selection and short-circuits
// with a synthetic bot message when the key is missing. The failed turn
// is never persisted beyond the user's own message.
func (op *sendOp) checkCredential(ctx context.Context, _ ...any) error {
	c := op.c
	c.mu.Lock()

	modelID := c.settings.SelectedModel()
	op.resolved = c.resolver.Resolve(modelID, c.settings.CustomModels())
	op.apiKey = c.settings.APIKey(op.resolved.Kind)
	op.systemPrompt = BuildSystemPrompt(c.settings.Language(), c.settings.Immersive())

	if op.apiKey == "" {
		lastID := op.messages[len(op.messages)-1].ID
		msg := model.NewBotMessage(
			model.NextMessageID(lastID),
			fmt.Sprintf("Please configure your %s API key in settings.", op.resolved.Kind),
		)
		op.messages = append(model.CloneMessages(op.messages), msg)
		if !op.isStaleLocked() {
			c.messages = op.messages
		}
		op.outcome = OutcomeBlocked
		op.finalMsg = msg
		op.emitLocked(Event{Type: EventSettled, Message: &msg, Outcome: OutcomeBlocked})
		c.mu.Unlock()
		return op.fsm.FireCtx(ctx, triggerCredentialMissing)
	}

	c.mu.Unlock()
	return op.fsm.FireCtx(ctx, triggerCredentialOK)
}

// stream inserts the bot placeholder, binds the cancellation slot, and
// blocks on the provider call. Chunks reconcile through onChunk.
func (op *sendOp) stream(ctx context.Context, _ ...any) error {
	c := op.c
	c.mu.Lock()

	op.placeholderID = model.NextMessageID(op.userMsg.ID)
	placeholder := model.NewBotMessage(op.placeholderID, "")
	op.messages = append(model.CloneMessages(op.messages), placeholder)

	sctx, cancel := context.WithCancel(ctx)
	op.cancelStream = cancel
	if op.isStaleLocked() {
		// Superseded before the request went out: die immediately.
		cancel()
	} else {
		c.messages = op.messages
		c.cancel = cancel
	}
	op.emitLocked(Event{Type: EventPlaceholder, Message: &placeholder})
	c.mu.Unlock()

	result, err := c.engine.Send(sctx, op.resolved, op.apiKey, op.history, op.systemPrompt, op.onChunk)
	op.result = result
	op.streamErr = err

	switch {
	case err == nil:
		return op.fsm.FireCtx(ctx, triggerStreamDone)
	case errors.Is(err, context.Canceled):
		return op.fsm.FireCtx(ctx, triggerStreamAborted)
	default:
		return op.fsm.FireCtx(ctx, triggerStreamFailed)
	}
}

// onChunk folds one delta into the placeholder. Stale callbacks (a newer
// operation claimed the slot) are dropped without touching shared state.
func (op *sendOp) onChunk(textDelta, reasoningDelta string) {
	c := op.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if op.isStaleLocked() {
		return
	}
	msgs := model.CloneMessages(op.messages)
	i := model.IndexByID(msgs, op.placeholderID)
	if i < 0 {
		return
	}
	msgs[i].Text += textDelta
	msgs[i].Reasoning += reasoningDelta
	op.messages = msgs
	c.messages = msgs

	op.emitLocked(Event{Type: EventDelta, TextDelta: textDelta, ReasoningDelta: reasoningDelta})
}

// settle applies the outcome semantics:
//
//   - success: placeholder replaced with the engine's authoritative
//     accumulation, full list persisted, async title generation on the
//     first exchange
//   - aborted: accumulated partial kept (or the interruption marker when
//     nothing arrived), nothing persisted
//   - errored: prefixed error message in the bot slot, persisted
func (op *sendOp) settle(ctx context.Context, _ ...any) error {
	c := op.c
	c.mu.Lock()

	stale := op.isStaleLocked()
	persist := false

	switch {
	case op.streamErr == nil:
		op.outcome = OutcomeSuccess
		op.finalMsg = op.fillPlaceholderLocked(op.result.Text, op.result.Reasoning)
		persist = true
	case errors.Is(op.streamErr, context.Canceled):
		op.outcome = OutcomeAborted
		text := op.result.Text
		if text == "" {
			text = interruptedMessage
		}
		op.finalMsg = op.fillPlaceholderLocked(text, op.result.Reasoning)
	default:
		op.outcome = OutcomeErrored
		op.finalMsg = op.fillPlaceholderLocked(errorPrefix+friendlyError(op.streamErr), "")
		persist = true
	}

	if !stale {
		c.messages = op.messages
	}
	if persist && !stale && op.sessionID != "" {
		if err := c.repo.ReplaceMessages(op.sessionID, op.messages); err != nil &&
			!errors.Is(err, session.ErrSessionMissing) {
			c.logger.Warn("failed to persist settlement", "session", op.sessionID, "error", err)
		}
	}

	titleNeeded := op.outcome == OutcomeSuccess && op.firstExchange && op.sessionID != "" && !stale
	var groqKey string
	if titleNeeded {
		groqKey = c.settings.APIKey(provider.KindGroq)
		titleNeeded = groqKey != ""
	}

	finalMsg := op.finalMsg
	op.emitLocked(Event{Type: EventSettled, Message: &finalMsg, Outcome: op.outcome})
	c.mu.Unlock()

	if titleNeeded {
		go op.generateTitle(groqKey)
	}

	return op.fsm.FireCtx(ctx, triggerSettled)
}

// fillPlaceholderLocked rewrites the placeholder with final content.
// Caller holds c.mu.
func (op *sendOp) fillPlaceholderLocked(text, reasoning string) model.Message {
	msgs := model.CloneMessages(op.messages)
	i := model.IndexByID(msgs, op.placeholderID)
	if i < 0 {
		return model.Message{}
	}
	msgs[i].Text = text
	msgs[i].Reasoning = reasoning
	op.messages = msgs
	return msgs[i]
}

// generateTitle runs fire-and-forget after a successful first exchange.
func (op *sendOp) generateTitle(apiKey string) {
	c := op.c
	title := c.engine.GenerateTitle(context.Background(), c.resolver.GroqURL, apiKey, op.userMsg.Text, op.result.Text)
	if title == "" {
		return
	}
	if err := c.repo.Rename(op.sessionID, title); err != nil {
		c.logger.Debug("failed to apply generated title", "session", op.sessionID, "error", err)
	}
}

// cleanup releases the stream slot if this operation still owns it.
func (op *sendOp) cleanup() {
	c := op.c
	c.mu.Lock()
	if c.seq == op.seq {
		c.generating = false
		c.cancel = nil
	}
	c.mu.Unlock()

	if op.cancelStream != nil {
		op.cancelStream()
	}
}
