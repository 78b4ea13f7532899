package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Presentation is the JSON shape of a presentation
type Presentation struct {
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

type Slide struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ImagePrompt string `json:"image_prompt,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Flashcards is the JSON shape of a flashcard deck
type Flashcards struct {
	Topic string `json:"topic"`
	Cards []Card `json:"cards"`
}

type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Quiz is the JSON shape of a generated quiz
type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

type QuizQuestion struct {
	Name             string   `json:"name"`
	QuestionText     string   `json:"questiontext"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// decodeStrict parses raw into v, rejecting anything that is not a single JSON object
func decodeStrict(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return fmt.Errorf("%w: response is not a JSON object", ErrInvalidResponse)
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", ErrInvalidResponse)
	}
	return nil
}

// compactJSON returns raw without insignificant whitespace
func compactJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(strings.TrimSpace(raw))); err != nil {
		return strings.TrimSpace(raw)
	}
	return buf.String()
}

// ParsePresentation validates a presentation payload
func ParsePresentation(raw string) (*Presentation, error) {
	var p Presentation
	if err := decodeStrict(raw, &p); err != nil {
		return nil, err
	}
	if len(p.Slides) == 0 {
		return nil, fmt.Errorf("%w: presentation has no slides", ErrInvalidResponse)
	}
	return &p, nil
}

// ParseFlashcards validates a flashcard payload
func ParseFlashcards(raw string) (*Flashcards, error) {
	var f Flashcards
	if err := decodeStrict(raw, &f); err != nil {
		return nil, err
	}
	if len(f.Cards) == 0 {
		return nil, fmt.Errorf("%w: flashcards have no cards", ErrInvalidResponse)
	}
	return &f, nil
}

// ParseQuiz validates a quiz payload. Every question needs text and a correct answer.
func ParseQuiz(raw string) (*Quiz, error) {
	var q Quiz
	if err := decodeStrict(raw, &q); err != nil {
		return nil, err
	}
	if len(q.Questions) == 0 {
		return nil, fmt.Errorf("%w: quiz has no questions", ErrInvalidResponse)
	}
	for i, question := range q.Questions {
		if strings.TrimSpace(question.QuestionText) == "" || strings.TrimSpace(question.CorrectAnswer) == "" {
			return nil, fmt.Errorf("%w: question %d is incomplete", ErrInvalidResponse, i+1)
		}
	}
	return &q, nil
}
