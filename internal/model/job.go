package model

import (
	"encoding/json"
	"time"
)

const (
	DefaultPriority   = 50
	MinPriority       = 0
	MaxPriority       = 100
	DefaultMaxRetries = 3
)

// Job represents one enrichment request for one catalog entity
type Job struct {
	ID             string         `json:"id"`
	EntityType     EntityType     `json:"entityType"`
	EntityID       string         `json:"entityId"`
	EnrichmentType EnrichmentType `json:"enrichmentType"`
	Status         JobStatus      `json:"status"`
	Priority       int            `json:"priority"`
	InputData      *JobInput      `json:"inputData"`
	OutputData     *JobOutput     `json:"outputData,omitempty"`
	Error          *string        `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	NextAttemptAt  *time.Time     `json:"nextAttemptAt,omitempty"`
	ClaimedAt      *time.Time     `json:"claimedAt,omitempty"` // start of the current attempt, set only while processing
	RetryCount     int            `json:"retryCount"`
	MaxRetries     int            `json:"maxRetries"`
}

// IsTerminal reports whether the job will never transition again
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted ||
		(j.Status == JobStatusFailed && j.RetryCount >= j.MaxRetries)
}

// Clone returns a copy that shares no mutable state with j.
// Payload variants are treated as immutable and are shared.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.NextAttemptAt = cloneTime(j.NextAttemptAt)
	c.ClaimedAt = cloneTime(j.ClaimedAt)
	return &c
}

// UnmarshalJSON decodes payloads according to enrichmentType
func (j *Job) UnmarshalJSON(data []byte) error {
	type alias Job
	aux := struct {
		*alias
		InputData  json.RawMessage `json:"inputData"`
		OutputData json.RawMessage `json:"outputData,omitempty"`
	}{alias: (*alias)(j)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	in, err := DecodeInput(j.EnrichmentType, aux.InputData)
	if err != nil {
		return err
	}
	j.InputData = in

	out, err := DecodeOutput(j.EnrichmentType, aux.OutputData)
	if err != nil {
		return err
	}
	j.OutputData = out
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateJobRequest is the body of POST /api/enrichment/jobs
type CreateJobRequest struct {
	EntityType     EntityType      `json:"entityType" validate:"required,oneof=track video artist release podcast episode book audiobook"`
	EntityID       string          `json:"entityId" validate:"required,max=128"`
	EnrichmentType EnrichmentType  `json:"enrichmentType" validate:"required,oneof=audio_features embeddings genre_classification mood_analysis similarity"`
	InputData      json.RawMessage `json:"inputData"`
	Priority       *int            `json:"priority" validate:"omitempty,min=0,max=100"`
	MaxRetries     *int            `json:"maxRetries" validate:"omitempty,min=1,max=10"`
}

// ProcessBatchResponse summarises a batch trigger
type ProcessBatchResponse struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// JobStats counts jobs per status
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// SimilarByEmbeddingRequest is the body of POST /api/enrichment/similar
type SimilarByEmbeddingRequest struct {
	Vector []float64 `json:"vector" validate:"required,min=1,max=4096"`
	Limit  int       `json:"limit" validate:"omitempty,min=1,max=100"`
}
