// Package types provides type definitions for job records flowing through the jobdigest pipeline.
package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Job represents a normalized job posting as produced by a feed client.
// The core pipeline treats it as read-only input.
type Job struct {
	ID       string `json:"id" validate:"required"`
	Title    string `json:"title" validate:"required,min=2"`
	Company  string `json:"company" validate:"required"`
	Location string `json:"location,omitempty"`
	URL      string `json:"url" validate:"omitempty,url"`

	// SourceDate is the posting date reported by the upstream feed, if any.
	// Feeds with unreliable freshness signals leave it nil.
	SourceDate *time.Time `json:"source_date,omitempty"`

	// Source identifies the feed/repository the job came from.
	Source string `json:"source,omitempty"`
}

// Validate validates the Job using the validator.
func (j *Job) Validate() error {
	validate := validator.New()
	return validate.Struct(j)
}
