// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/wolfchat/internal/model"
	"github.com/jeranaias/wolfchat/internal/provider"
	"github.com/jeranaias/wolfchat/internal/session"
	"github.com/jeranaias/wolfchat/internal/stream"
)

// ===== FAKES =====

type fakeRepo struct {
	mu           sync.Mutex
	sessions     map[string]model.ChatSession
	nextID       int
	createCalls  int
	replaceCalls int
	renameCh     chan string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[string]model.ChatSession),
		renameCh: make(chan string, 4),
	}
}

func (f *fakeRepo) CreateOrUpdate(id string, messages []model.Message, titleHint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		f.createCalls++
		f.nextID++
		id = fmt.Sprintf("sess-%d", f.nextID)
		title := titleHint
		if title == "" {
			title = session.DefaultTitle
		}
		f.sessions[id] = model.ChatSession{ID: id, Title: title, Messages: model.CloneMessages(messages)}
		return id, nil
	}
	sess, ok := f.sessions[id]
	if !ok {
		return "", session.ErrSessionMissing
	}
	f.replaceCalls++
	sess.Messages = model.CloneMessages(messages)
	f.sessions[id] = sess
	return id, nil
}

func (f *fakeRepo) ReplaceMessages(id string, messages []model.Message) error {
	_, err := f.CreateOrUpdate(id, messages, "")
	return err
}

func (f *fakeRepo) Rename(id, title string) error {
	f.mu.Lock()
	sess, ok := f.sessions[id]
	if ok {
		sess.Title = title
		f.sessions[id] = sess
	}
	f.mu.Unlock()
	if !ok {
		return session.ErrSessionMissing
	}
	f.renameCh <- title
	return nil
}

func (f *fakeRepo) Get(id string) (model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return model.ChatSession{}, session.ErrSessionMissing
	}
	return sess, nil
}

func (f *fakeRepo) session(id string) model.ChatSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

func (f *fakeRepo) counts() (creates, replaces int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.replaceCalls
}

type sendFunc func(ctx context.Context, onChunk stream.ChunkFunc) (stream.Result, error)

type fakeEngine struct {
	mu      sync.Mutex
	scripts []sendFunc
	title   string

	lastHistory []model.Message
	lastSystem  string
	sendCalls   int
}

func (f *fakeEngine) Send(ctx context.Context, _ provider.Resolved, _ string, history []model.Message, systemPrompt string, onChunk stream.ChunkFunc) (stream.Result, error) {
	f.mu.Lock()
	f.sendCalls++
	f.lastHistory = model.CloneMessages(history)
	f.lastSystem = systemPrompt
	var fn sendFunc
	if len(f.scripts) > 0 {
		fn = f.scripts[0]
		if len(f.scripts) > 1 {
			f.scripts = f.scripts[1:]
		}
	}
	f.mu.Unlock()
	if fn == nil {
		return stream.Result{}, nil
	}
	return fn(ctx, onChunk)
}

func (f *fakeEngine) GenerateTitle(_ context.Context, _, _, _, _ string) string {
	return f.title
}

func replyWith(chunks ...string) sendFunc {
	return func(_ context.Context, onChunk stream.ChunkFunc) (stream.Result, error) {
		var full strings.Builder
		for _, c := range chunks {
			full.WriteString(c)
			if onChunk != nil {
				onChunk(c, "")
			}
		}
		return stream.Result{Text: full.String()}, nil
	}
}

type fakeSettings struct {
	mu        sync.Mutex
	model     string
	language  string
	immersive bool
	keys      map[provider.Kind]string
	custom    []provider.CustomModel
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		model: "groq/test-model",
		keys: map[provider.Kind]string{
			provider.KindGroq:       "groq-key",
			provider.KindOpenRouter: "or-key",
		},
	}
}

func (f *fakeSettings) SelectedModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}
func (f *fakeSettings) Language() string  { return f.language }
func (f *fakeSettings) Immersive() bool   { return f.immersive }
func (f *fakeSettings) APIKey(kind provider.Kind) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[kind]
}
func (f *fakeSettings) CustomModels() []provider.CustomModel { return f.custom }

type harness struct {
	controller *Controller
	repo       *fakeRepo
	engine     *fakeEngine
	settings   *fakeSettings
	events     chan Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:     newFakeRepo(),
		engine:   &fakeEngine{},
		settings: newFakeSettings(),
		events:   make(chan Event, 128),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.controller = NewController(h.repo, provider.NewResolver(), h.engine, h.settings, logger)
	return h
}

func (h *harness) observer(ev Event) {
	h.events <- ev
}

func (h *harness) waitEvent(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// ===== TESTS =====

func TestSendHappyPath(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("Recur", "sion is a function calling itself.")}

	err := h.controller.Send(context.Background(), "What is recursion?", h.observer)
	require.NoError(t, err)

	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, "What is recursion?", msgs[0].Text)
	assert.Equal(t, model.SenderBot, msgs[1].Sender)
	assert.Equal(t, "Recursion is a function calling itself.", msgs[1].Text)
	assert.Greater(t, msgs[1].ID, msgs[0].ID, "ids must be unique and ordered")

	// User turn persisted at compose, settlement persisted once.
	creates, replaces := h.repo.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, replaces)

	// Durable record matches the live list.
	sess := h.repo.session(h.controller.SessionID())
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "Recursion is a function calling itself.", sess.Messages[1].Text)

	assert.False(t, h.controller.IsGenerating())

	// Event order: user_message, placeholder, deltas, settled.
	ev := h.waitEvent(t, EventUserMessage)
	assert.Equal(t, "What is recursion?", ev.Message.Text)
	h.waitEvent(t, EventPlaceholder)
	delta := h.waitEvent(t, EventDelta)
	assert.Equal(t, "Recur", delta.TextDelta)
	settled := h.waitEvent(t, EventSettled)
	assert.Equal(t, OutcomeSuccess, settled.Outcome)
	assert.Equal(t, "Recursion is a function calling itself.", settled.Message.Text)
}

func TestSendEmptyInputIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.controller.Send(context.Background(), "   ", nil))
	assert.Empty(t, h.controller.Messages())
	creates, _ := h.repo.counts()
	assert.Zero(t, creates)
	assert.Zero(t, h.engine.sendCalls)
}

func TestSendHistoryExcludesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("ok")}
	require.NoError(t, h.controller.Send(context.Background(), "hi", nil))

	require.Len(t, h.engine.lastHistory, 1)
	assert.Equal(t, model.SenderUser, h.engine.lastHistory[0].Sender)
	assert.Contains(t, h.engine.lastSystem, "You are WolfChat")
}

func TestTitleBootstrapHint(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("ok")}

	long := "This message is longer than thirty characters total."
	require.NoError(t, h.controller.Send(context.Background(), long, nil))

	sess := h.repo.session(h.controller.SessionID())
	assert.Equal(t, "This message is longer than th...", sess.Title)
}

func TestMissingCredentialShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.settings.keys = map[provider.Kind]string{}

	err := h.controller.Send(context.Background(), "hello", h.observer)
	require.NoError(t, err)

	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderBot, msgs[1].Sender)
	assert.Equal(t, "Please configure your Groq API key in settings.", msgs[1].Text)

	// Engine never called; only the user's own message persisted.
	assert.Zero(t, h.engine.sendCalls)
	creates, replaces := h.repo.counts()
	assert.Equal(t, 1, creates)
	assert.Zero(t, replaces)
	sess := h.repo.session(h.controller.SessionID())
	require.Len(t, sess.Messages, 1)

	settled := h.waitEvent(t, EventSettled)
	assert.Equal(t, OutcomeBlocked, settled.Outcome)
	assert.False(t, h.controller.IsGenerating())
}

func TestQuoteCompose(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("a"), replyWith("b")}

	h.controller.SetQuote("the sky is blue")
	require.NoError(t, h.controller.Send(context.Background(), "why?", nil))

	msgs := h.controller.Messages()
	assert.Equal(t, "> the sky is blue\n\nwhy?", msgs[0].Text)

	// Quote is consumed by the send.
	require.NoError(t, h.controller.Send(context.Background(), "plain", nil))
	msgs = h.controller.Messages()
	assert.Equal(t, "plain", msgs[2].Text)
}

func TestStopKeepsPartialAndSkipsPersist(t *testing.T) {
	h := newHarness(t)
	chunkSent := make(chan struct{})
	h.engine.scripts = []sendFunc{func(ctx context.Context, onChunk stream.ChunkFunc) (stream.Result, error) {
		onChunk("partial ans", "")
		close(chunkSent)
		<-ctx.Done()
		return stream.Result{Text: "partial ans"}, ctx.Err()
	}}

	done := make(chan error, 1)
	go func() { done <- h.controller.Send(context.Background(), "question", h.observer) }()

	<-chunkSent
	h.controller.Stop()
	require.NoError(t, <-done)

	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial ans", msgs[1].Text)

	// Abort does not persist: only the user-turn write happened.
	creates, replaces := h.repo.counts()
	assert.Equal(t, 1, creates)
	assert.Zero(t, replaces)
	sess := h.repo.session(h.controller.SessionID())
	require.Len(t, sess.Messages, 1)

	settled := h.waitEvent(t, EventSettled)
	assert.Equal(t, OutcomeAborted, settled.Outcome)
	assert.False(t, h.controller.IsGenerating())
}

func TestStopBeforeAnyChunkShowsMarker(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.engine.scripts = []sendFunc{func(ctx context.Context, _ stream.ChunkFunc) (stream.Result, error) {
		close(started)
		<-ctx.Done()
		return stream.Result{}, ctx.Err()
	}}

	done := make(chan error, 1)
	go func() { done <- h.controller.Send(context.Background(), "q", nil) }()
	<-started
	h.controller.Stop()
	require.NoError(t, <-done)

	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "🛑 Response interrupted by user.", msgs[1].Text)
}

func TestRateLimitSettlement(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{func(_ context.Context, _ stream.ChunkFunc) (stream.Result, error) {
		return stream.Result{}, &stream.RateLimitError{Model: "test-model"}
	}}

	require.NoError(t, h.controller.Send(context.Background(), "q", h.observer))

	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[1].Text, "Error: "))
	assert.Contains(t, msgs[1].Text, "429")
	assert.Contains(t, msgs[1].Text, "restricted usage limits")

	// Errors persist the failed turn.
	_, replaces := h.repo.counts()
	assert.Equal(t, 1, replaces)

	settled := h.waitEvent(t, EventSettled)
	assert.Equal(t, OutcomeErrored, settled.Outcome)
	assert.False(t, h.controller.IsGenerating(), "a fresh send must be possible after the error")
}

func TestTransportErrorFallbackMessage(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{func(_ context.Context, _ stream.ChunkFunc) (stream.Result, error) {
		return stream.Result{}, fmt.Errorf("dial tcp: connection refused")
	}}

	require.NoError(t, h.controller.Send(context.Background(), "q", nil))
	msgs := h.controller.Messages()
	assert.Equal(t, "Error: Could not get a response.", msgs[1].Text)
}

func TestAutoTitleAfterFirstExchange(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("an answer")}
	h.engine.title = "Generated Title"

	require.NoError(t, h.controller.Send(context.Background(), "first question", nil))

	select {
	case title := <-h.repo.renameCh:
		assert.Equal(t, "Generated Title", title)
	case <-time.After(2 * time.Second):
		t.Fatal("title generation never applied")
	}
}

func TestNoAutoTitleOnSecondExchange(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("one"), replyWith("two")}
	h.engine.title = "Should Not Apply"

	require.NoError(t, h.controller.Send(context.Background(), "first", nil))
	// Drain the first-exchange rename.
	select {
	case <-h.repo.renameCh:
	case <-time.After(2 * time.Second):
		t.Fatal("first rename missing")
	}

	require.NoError(t, h.controller.Send(context.Background(), "second", nil))
	select {
	case title := <-h.repo.renameCh:
		t.Fatalf("unexpected rename on second exchange: %q", title)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSingleFlightSupersede(t *testing.T) {
	h := newHarness(t)
	firstChunk := make(chan struct{})
	h.engine.scripts = []sendFunc{
		func(ctx context.Context, onChunk stream.ChunkFunc) (stream.Result, error) {
			onChunk("OLD", "")
			close(firstChunk)
			<-ctx.Done()
			// Stale callback after being superseded must be dropped.
			onChunk("LATE", "")
			return stream.Result{Text: "OLD"}, ctx.Err()
		},
		replyWith("NEW"),
	}

	firstDone := make(chan error, 1)
	go func() { firstDone <- h.controller.Send(context.Background(), "first", nil) }()
	<-firstChunk

	require.NoError(t, h.controller.Send(context.Background(), "second", nil))
	require.NoError(t, <-firstDone)

	var all []string
	for _, m := range h.controller.Messages() {
		all = append(all, m.Text)
	}
	joined := strings.Join(all, "|")
	assert.NotContains(t, joined, "LATE", "stale chunk leaked into live state")
	assert.Contains(t, joined, "NEW")
	assert.False(t, h.controller.IsGenerating())
}

func TestComposeAfterSupersedeLeavesSharedStateAlone(t *testing.T) {
	h := newHarness(t)
	c := h.controller
	c.SetQuote("for the next send")

	// Claim the slot, then let a newer operation supersede it before its
	// compose step runs.
	c.mu.Lock()
	op := c.beginOpLocked(nil)
	op.rawInput = "overtaken"
	c.staleLocked()
	c.mu.Unlock()

	require.NoError(t, op.run(context.Background(), false))

	assert.Empty(t, c.Messages(), "superseded compose published its user message")
	assert.Empty(t, c.SessionID())
	creates, replaces := h.repo.counts()
	assert.Zero(t, creates, "superseded compose persisted a session")
	assert.Zero(t, replaces)

	// The staged quote still belongs to the operation that superseded it.
	c.mu.Lock()
	quoted := c.quoted
	c.mu.Unlock()
	assert.Equal(t, "for the next send", quoted)
}

func TestRegenerate(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("first answer"), replyWith("regenerated answer")}

	require.NoError(t, h.controller.Send(context.Background(), "question", nil))
	msgs := h.controller.Messages()
	require.Len(t, msgs, 2)
	botID := msgs[1].ID

	require.NoError(t, h.controller.Regenerate(context.Background(), botID, h.observer))

	msgs = h.controller.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Text)
	assert.Equal(t, "regenerated answer", msgs[1].Text)

	// The regenerated turn was persisted.
	sess := h.repo.session(h.controller.SessionID())
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "regenerated answer", sess.Messages[1].Text)

	// History sent upstream ends with the user message, no stale bot reply.
	require.Len(t, h.engine.lastHistory, 1)
	assert.Equal(t, model.SenderUser, h.engine.lastHistory[0].Sender)
}

func TestRegenerateUnknownMessage(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("a")}
	require.NoError(t, h.controller.Send(context.Background(), "q", nil))

	err := h.controller.Regenerate(context.Background(), 999999, nil)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// Regenerating a user message is also refused.
	userID := h.controller.Messages()[0].ID
	err = h.controller.Regenerate(context.Background(), userID, nil)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestSelectSessionRefusedWhileStreaming(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.engine.scripts = []sendFunc{func(ctx context.Context, _ stream.ChunkFunc) (stream.Result, error) {
		close(started)
		<-ctx.Done()
		return stream.Result{}, ctx.Err()
	}}

	done := make(chan error, 1)
	go func() { done <- h.controller.Send(context.Background(), "q", nil) }()
	<-started

	err := h.controller.SelectSession("any")
	assert.ErrorIs(t, err, ErrStreamInFlight)

	h.controller.Stop()
	require.NoError(t, <-done)
}

func TestSelectSessionLoadsMessages(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("answer")}
	require.NoError(t, h.controller.Send(context.Background(), "q", nil))
	id := h.controller.SessionID()

	h.controller.NewChat()
	assert.Empty(t, h.controller.Messages())
	assert.Empty(t, h.controller.SessionID())

	require.NoError(t, h.controller.SelectSession(id))
	assert.Equal(t, id, h.controller.SessionID())
	assert.Len(t, h.controller.Messages(), 2)
}

func TestSessionContinuity(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("one"), replyWith("two")}

	require.NoError(t, h.controller.Send(context.Background(), "first", nil))
	id := h.controller.SessionID()
	require.NotEmpty(t, id)

	require.NoError(t, h.controller.Send(context.Background(), "second", nil))
	assert.Equal(t, id, h.controller.SessionID(), "follow-up sends reuse the bound session")

	sess := h.repo.session(id)
	assert.Len(t, sess.Messages, 4)
	creates, _ := h.repo.counts()
	assert.Equal(t, 1, creates, "only the first send creates a session")
}

func TestMessageIDsUniqueUnderRapidSends(t *testing.T) {
	h := newHarness(t)
	h.engine.scripts = []sendFunc{replyWith("x")}

	for i := 0; i < 5; i++ {
		require.NoError(t, h.controller.Send(context.Background(), fmt.Sprintf("msg %d", i), nil))
	}
	seen := make(map[int64]bool)
	for _, m := range h.controller.Messages() {
		assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
	}
}
