package domain

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeEvent Type = "event"
	TypeTask  Type = "task"
	TypeTodo  Type = "todo"
)

func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeEvent, TypeTask, TypeTodo:
		return t, nil
	}
	return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("must be one of event, task, todo (got %q)", s)}
}

// Recurring reports whether a message of this type is rescheduled after
// dispatch instead of being retired.
func (t Type) Recurring() bool { return t == TypeTodo }

type Message struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Type          Type      `json:"type"`
}

// Validate checks the fields required on create and update.
func (m Message) Validate() error {
	if m.Text == "" {
		return &ValidationError{Field: "text", Reason: "is required"}
	}
	if m.ScheduledTime.IsZero() {
		return &ValidationError{Field: "scheduled_time", Reason: "is required"}
	}
	if m.Type == "" {
		return &ValidationError{Field: "type", Reason: "is required"}
	}
	_, err := ParseType(string(m.Type))
	return err
}
