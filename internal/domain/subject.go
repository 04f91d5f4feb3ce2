package domain

import (
	"errors"
	"fmt"
)

// SubjectKind says what a timer is counting against.
type SubjectKind string

const (
	SubjectTask SubjectKind = "task"
	SubjectMisc SubjectKind = "misc" // miscellaneous activity, not tied to a task
)

// SubjectRef references the task or activity being timed.
// The engine never interprets it beyond validation.
type SubjectRef struct {
	Kind SubjectKind `json:"kind" yaml:"kind"`
	ID   string      `json:"id" yaml:"id"`
}

// Validate reports whether the reference can be sent to the authority.
func (r SubjectRef) Validate() error {
	switch r.Kind {
	case SubjectTask:
		if r.ID == "" {
			return errors.New("task subject requires an id")
		}
	case SubjectMisc:
	default:
		return fmt.Errorf("unknown subject kind %q", r.Kind)
	}
	return nil
}

func (r SubjectRef) String() string {
	if r.ID == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ":" + r.ID
}
