package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/benvon/studygen/internal/models"
)

func TestLoadPromptsCoversEveryKind(t *testing.T) {
	t.Parallel()

	catalog, err := LoadPrompts()
	if err != nil {
		t.Fatalf("LoadPrompts() error = %v", err)
	}
	for _, genType := range models.GenerationTypes {
		if _, ok := catalog[string(genType)]; !ok {
			t.Errorf("catalog is missing %s", genType)
		}
	}
	for _, kind := range []string{PromptRubric, PromptChat} {
		if _, ok := catalog[kind]; !ok {
			t.Errorf("catalog is missing %s", kind)
		}
	}

	jsonKinds := map[string]bool{"presentation": true, "flashcards": true, "quiz": true}
	for kind, tmpl := range catalog {
		if tmpl.JSON != jsonKinds[kind] {
			t.Errorf("%s: json = %v, want %v", kind, tmpl.JSON, jsonKinds[kind])
		}
	}
}

func TestPromptMessages(t *testing.T) {
	t.Parallel()

	catalog, err := LoadPrompts()
	if err != nil {
		t.Fatalf("LoadPrompts() error = %v", err)
	}

	msgs, jsonMode, err := catalog.Messages("quiz", "photosynthesis", "")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if !jsonMode {
		t.Error("quiz should use JSON mode")
	}
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || msgs[1].Role != RoleUser {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[1].Content != "Create a quiz about: photosynthesis" {
		t.Errorf("user message = %q", msgs[1].Content)
	}

	chat, _, err := catalog.Messages(PromptChat, "why?", "MATERIAL")
	if err != nil {
		t.Fatalf("Messages(chat) error = %v", err)
	}
	if !strings.Contains(chat[0].Content, "MATERIAL") || strings.Contains(chat[0].Content, "{content}") {
		t.Errorf("chat system prompt not rendered: %q", chat[0].Content)
	}

	if _, _, err := catalog.Messages("poem", "x", ""); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Messages(poem) error = %v, want ErrUnsupportedType", err)
	}
}

func TestParsePromptsRejectsIncompleteEntries(t *testing.T) {
	t.Parallel()

	if _, err := ParsePrompts([]byte("summary:\n  user: \"x\"\n")); err == nil {
		t.Error("ParsePrompts() should reject an entry without a system prompt")
	}
	if _, err := ParsePrompts([]byte("summary: [")); err == nil {
		t.Error("ParsePrompts() should reject malformed YAML")
	}
}
