package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationType is the kind of artifact a request produces
type GenerationType string

const (
	GenerationTypePresentation GenerationType = "presentation"
	GenerationTypeFlashcards   GenerationType = "flashcards"
	GenerationTypeSummary      GenerationType = "summary"
	GenerationTypeAudio        GenerationType = "audio"
	GenerationTypeQuiz         GenerationType = "quiz"
)

// GenerationTypes lists every supported generation type
var GenerationTypes = []GenerationType{
	GenerationTypePresentation,
	GenerationTypeFlashcards,
	GenerationTypeSummary,
	GenerationTypeAudio,
	GenerationTypeQuiz,
}

// Valid reports whether t is a supported generation type
func (t GenerationType) Valid() bool {
	switch t {
	case GenerationTypePresentation, GenerationTypeFlashcards, GenerationTypeSummary,
		GenerationTypeAudio, GenerationTypeQuiz:
		return true
	default:
		return false
	}
}

// RequestStatus is the state of a queue entry. Values match the persisted integers.
type RequestStatus int

const (
	RequestStatusFailed     RequestStatus = -1
	RequestStatusPending    RequestStatus = 0
	RequestStatusProcessing RequestStatus = 1
	RequestStatusDone       RequestStatus = 2
)

func (s RequestStatus) String() string {
	switch s {
	case RequestStatusFailed:
		return "failed"
	case RequestStatusPending:
		return "pending"
	case RequestStatusProcessing:
		return "processing"
	case RequestStatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed from s
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusDone || s == RequestStatusFailed
}

// CanTransition reports whether a queue entry may move from one status to another.
// Pending->Processing, Processing->{Done,Pending,Failed}; Pending->Failed is the
// max-retries short circuit taken at claim time.
func CanTransition(from, to RequestStatus) bool {
	switch from {
	case RequestStatusPending:
		return to == RequestStatusProcessing || to == RequestStatusFailed
	case RequestStatusProcessing:
		return to == RequestStatusDone || to == RequestStatusPending || to == RequestStatusFailed
	default:
		return false
	}
}

const (
	// MaxRetries is the attempt ceiling after which a request is permanently failed
	MaxRetries = 5

	// MessageGenerationFailed is the generic, user-safe failure message
	MessageGenerationFailed = "Content generation failed. Please try again later."
	// MessageMaxRetries is stored when a request is claimed with its retries exhausted
	MessageMaxRetries = "Content generation failed after the maximum number of retries."
	// MessageConfiguration is stored when the backend endpoint is rejected by the outbound guard
	MessageConfiguration = "Content generation is not available. Please contact your administrator."
)

// GenerationRequest is a durable queue entry
type GenerationRequest struct {
	ID           uuid.UUID      `json:"id"`
	OwnerID      uuid.UUID      `json:"owner_id"`
	UserID       uuid.UUID      `json:"user_id"`
	Type         GenerationType `json:"type"`
	Prompt       string         `json:"prompt"`
	Status       RequestStatus  `json:"status"`
	Retries      int            `json:"retries"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	RunAfter     time.Time      `json:"run_after"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewGenerationRequest creates a pending request that may run immediately
func NewGenerationRequest(ownerID, userID uuid.UUID, genType GenerationType, prompt string) *GenerationRequest {
	now := time.Now()
	return &GenerationRequest{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		UserID:    userID,
		Type:      genType,
		Prompt:    prompt,
		Status:    RequestStatusPending,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RetriesExhausted reports whether the request must not be attempted again
func (r *GenerationRequest) RetriesExhausted() bool {
	return r.Retries >= MaxRetries
}

// BackoffDelay returns the wait scheduled after the request has failed retries times:
// 1, 2, 4, 8 and 16 minutes for retries 1 through 5.
func BackoffDelay(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	if retries > MaxRetries {
		retries = MaxRetries
	}
	return time.Duration(1<<uint(retries-1)) * time.Minute
}
