// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/wolfchat/internal/model"
	"github.com/jeranaias/wolfchat/internal/storage"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRepository(store)
}

func TestCreateAssignsIdentity(t *testing.T) {
	repo := testRepo(t)

	msgs := []model.Message{model.NewUserMessage(1, "hello")}
	id, err := repo.CreateOrUpdate("", msgs, "My title")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected assigned id")
	}

	sess, err := repo.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Title != "My title" || len(sess.Messages) != 1 {
		t.Errorf("unexpected session: %+v", sess)
	}
	if sess.CreatedAt == 0 {
		t.Error("createdAt not set")
	}
}

func TestCreateDefaultTitle(t *testing.T) {
	repo := testRepo(t)
	id, err := repo.CreateOrUpdate("", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	sess, _ := repo.Get(id)
	if sess.Title != DefaultTitle {
		t.Errorf("got title %q, want %q", sess.Title, DefaultTitle)
	}
}

func TestUpdateExisting(t *testing.T) {
	repo := testRepo(t)
	id, _ := repo.CreateOrUpdate("", []model.Message{model.NewUserMessage(1, "a")}, "T")

	msgs := []model.Message{
		model.NewUserMessage(1, "a"),
		model.NewBotMessage(2, "b"),
	}
	got, err := repo.CreateOrUpdate(id, msgs, "")
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("identity changed: %s -> %s", id, got)
	}
	sess, _ := repo.Get(id)
	if len(sess.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(sess.Messages))
	}
	if sess.Title != "T" {
		t.Errorf("empty hint must keep the title, got %q", sess.Title)
	}
}

func TestUpdateRetitlesWithHint(t *testing.T) {
	repo := testRepo(t)
	id, _ := repo.CreateOrUpdate("", []model.Message{model.NewUserMessage(1, "a")}, "Original Title")

	if _, err := repo.CreateOrUpdate(id, []model.Message{model.NewUserMessage(1, "a")}, "Replacement Title"); err != nil {
		t.Fatal(err)
	}
	sess, _ := repo.Get(id)
	if sess.Title != "Replacement Title" {
		t.Errorf("hint ignored on update, got %q", sess.Title)
	}
}

func TestUpdateMissingIsSignalledNoOp(t *testing.T) {
	repo := testRepo(t)
	_, err := repo.CreateOrUpdate("ghost", nil, "")
	if !errors.Is(err, ErrSessionMissing) {
		t.Errorf("expected ErrSessionMissing, got %v", err)
	}
	if err := repo.ReplaceMessages("ghost", nil); !errors.Is(err, ErrSessionMissing) {
		t.Errorf("expected ErrSessionMissing, got %v", err)
	}
	// Nothing was created as a side effect.
	metas, _ := repo.Metas()
	if len(metas) != 0 {
		t.Errorf("expected no sessions, got %d", len(metas))
	}
}

func TestRenameDeleteClear(t *testing.T) {
	repo := testRepo(t)
	id, _ := repo.CreateOrUpdate("", nil, "Old")

	if err := repo.Rename(id, "New"); err != nil {
		t.Fatal(err)
	}
	sess, _ := repo.Get(id)
	if sess.Title != "New" {
		t.Errorf("got %q", sess.Title)
	}

	if err := repo.Rename("ghost", "x"); !errors.Is(err, ErrSessionMissing) {
		t.Errorf("expected ErrSessionMissing, got %v", err)
	}

	id2, _ := repo.CreateOrUpdate("", nil, "Other")
	if err := repo.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(id); !errors.Is(err, storage.ErrChatNotFound) {
		t.Error("expected session gone")
	}
	if _, err := repo.Get(id2); err != nil {
		t.Error("other session should survive delete")
	}

	if err := repo.ClearAll(); err != nil {
		t.Fatal(err)
	}
	metas, _ := repo.Metas()
	if len(metas) != 0 {
		t.Errorf("expected empty, got %d", len(metas))
	}
}

func TestSearch(t *testing.T) {
	repo := testRepo(t)
	repo.CreateOrUpdate("", []model.Message{model.NewUserMessage(1, "Tell me about Recursion")}, "CS questions")
	repo.CreateOrUpdate("", []model.Message{model.NewUserMessage(1, "pasta recipe")}, "Cooking")

	hits, err := repo.Search("recursion")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Title != "CS questions" {
		t.Errorf("unexpected hits: %+v", hits)
	}

	// Title matches too.
	hits, _ = repo.Search("cook")
	if len(hits) != 1 || hits[0].Title != "Cooking" {
		t.Errorf("unexpected hits: %+v", hits)
	}

	// Empty query matches nothing.
	hits, _ = repo.Search("   ")
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestExportMarkdown(t *testing.T) {
	repo := testRepo(t)
	id, _ := repo.CreateOrUpdate("", []model.Message{
		model.NewUserMessage(1, "What is recursion?"),
		{ID: 2, Text: "Recursion is...", Sender: model.SenderBot, Reasoning: "thinking hard"},
	}, "Recursion")

	md, err := repo.ExportMarkdown(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Recursion", "## You", "## WolfChat", "What is recursion?", "Recursion is...", "Thinking: thinking hard"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	raw, err := repo.ExportJSON(id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"Recursion is..."`) {
		t.Errorf("json export missing content:\n%s", raw)
	}
}

func TestMetasNewestFirst(t *testing.T) {
	repo := testRepo(t)
	// CreatedAt is a millisecond clock; sessions created in sequence get
	// nondecreasing stamps, so force distinct ones through the store.
	a, _ := repo.CreateOrUpdate("", nil, "A")
	b, _ := repo.CreateOrUpdate("", nil, "B")

	sa, _ := repo.Get(a)
	sb, _ := repo.Get(b)
	if sa.CreatedAt == sb.CreatedAt {
		sb.CreatedAt = sa.CreatedAt + 1
		repo.store.PutChat(sb)
	}

	metas, err := repo.Metas()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 || metas[0].ID != b {
		t.Errorf("expected newest first, got %+v", metas)
	}
}
