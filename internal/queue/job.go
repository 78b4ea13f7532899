package queue

import (
	"time"

	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

// Job is the dispatch message for one attempt at a queue entry
type Job struct {
	ID        uuid.UUID             `json:"id"`
	QueueID   uuid.UUID             `json:"queue_id"`
	OwnerID   uuid.UUID             `json:"owner_id"`
	Type      models.GenerationType `json:"type"`
	Attempt   int                   `json:"attempt"`
	NotBefore *time.Time            `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	CreatedAt time.Time             `json:"created_at"`
}

// NewJob creates the dispatch message for a queue entry's next attempt
func NewJob(req *models.GenerationRequest) *Job {
	job := &Job{
		ID:        uuid.New(),
		QueueID:   req.ID,
		OwnerID:   req.OwnerID,
		Type:      req.Type,
		Attempt:   req.Retries,
		CreatedAt: time.Now(),
	}

	if req.RunAfter.After(job.CreatedAt) {
		notBefore := req.RunAfter
		job.NotBefore = &notBefore
	}

	return job
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	return j.NotBefore == nil || !time.Now().Before(*j.NotBefore)
}

// Delay returns how long publishing should hold the job back
func (j *Job) Delay() time.Duration {
	if j.NotBefore == nil {
		return 0
	}
	if d := time.Until(*j.NotBefore); d > 0 {
		return d
	}
	return 0
}
