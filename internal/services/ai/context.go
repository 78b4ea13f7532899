package ai

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/benvon/studygen/internal/models"
)

const (
	// MaxChatContext bounds the material handed to the chat prompt
	MaxChatContext  = 8000
	truncatedMarker = "\n...[content truncated]"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags removes markup and unescapes entities
func StripTags(s string) string {
	s = strings.ReplaceAll(s, "<![CDATA[", "")
	s = strings.ReplaceAll(s, "]]>", "")
	return html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
}

// ExtractContext flattens stored content into plain text for the chat prompt,
// truncated to MaxChatContext characters.
func ExtractContext(genType models.GenerationType, content string) (string, error) {
	var text string
	switch genType {
	case models.GenerationTypePresentation:
		var p Presentation
		if err := json.Unmarshal([]byte(content), &p); err != nil {
			return "", fmt.Errorf("%w: stored presentation is not JSON", ErrInvalidResponse)
		}
		text = flattenPresentation(&p)
	case models.GenerationTypeFlashcards:
		var f Flashcards
		if err := json.Unmarshal([]byte(content), &f); err != nil {
			return "", fmt.Errorf("%w: stored flashcards are not JSON", ErrInvalidResponse)
		}
		text = flattenFlashcards(&f)
	case models.GenerationTypeQuiz:
		text = "Quiz questions:\n" + StripTags(content)
	default:
		text = StripTags(content)
	}
	return truncateContext(text), nil
}

func flattenPresentation(p *Presentation) string {
	var b strings.Builder
	title := p.Title
	if title == "" {
		title = "Untitled"
	}
	b.WriteString("Presentation: " + title + "\n\n")
	for i, slide := range p.Slides {
		fmt.Fprintf(&b, "Slide %d: %s\n", i+1, slide.Title)
		b.WriteString(StripTags(slide.Content) + "\n")
		if slide.Notes != "" {
			b.WriteString("Notes: " + slide.Notes + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func flattenFlashcards(f *Flashcards) string {
	var b strings.Builder
	topic := f.Topic
	if topic == "" {
		topic = "Various topics"
	}
	b.WriteString("Flashcards about: " + topic + "\n\n")
	for i, card := range f.Cards {
		fmt.Fprintf(&b, "Card %d:\nQ: %s\nA: %s\n\n", i+1, card.Front, card.Back)
	}
	return b.String()
}

func truncateContext(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxChatContext {
		return s
	}
	return string(runes[:MaxChatContext]) + truncatedMarker
}
