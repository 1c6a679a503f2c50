package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind separates calendar entries from chores. Both share the same
// template and occurrence shape.
type Kind string

const (
	KindEntry Kind = "entry"
	KindChore Kind = "chore"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindEntry, KindChore}

func (k Kind) Valid() bool {
	return k == KindEntry || k == KindChore
}

// ParseKind accepts singular and plural forms ("entries", "chore").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "entry", "entries":
		return KindEntry, nil
	case "chore", "chores":
		return KindChore, nil
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// Frequency is the step between two occurrences of a template.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	default:
		return false
	}
}

// Payload holds the frequency-independent fields shared by templates and
// occurrences. For chores Title is the chore text and Time is empty.
type Payload struct {
	Title       string `json:"title"`
	Time        string `json:"time,omitempty"` // HH:MM, entries only
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
}

// Identity is the user-visible identity of a payload: title and time for
// entries, text for chores.
func (p Payload) Identity(k Kind) string {
	if k == KindEntry {
		return p.Title + "\x00" + p.Time
	}
	return p.Title
}

// TemplateState is the lifecycle state of a template relative to a day.
type TemplateState string

const (
	StateActive TemplateState = "active"
	StateEnded  TemplateState = "ended"
)

// RecurringTemplate is a recurrence rule that generates occurrences.
type RecurringTemplate struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Payload   Payload   `json:"payload"`
	StartDate Date      `json:"start_date"`
	EndDate   *Date     `json:"end_date,omitempty"` // nil = open-ended
	Frequency Frequency `json:"frequency"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks a template before it is persisted.
func (t RecurringTemplate) Validate() error {
	var errs []error
	if strings.TrimSpace(t.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if !t.Kind.Valid() {
		errs = append(errs, fmt.Errorf("kind %q is not entry or chore", t.Kind))
	}
	if !t.Frequency.Valid() {
		errs = append(errs, fmt.Errorf("frequency %q is not daily, weekly or monthly", t.Frequency))
	}
	if t.StartDate.IsZero() {
		errs = append(errs, errors.New("start date is required"))
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		errs = append(errs, fmt.Errorf("start date %s is after end date %s", t.StartDate, t.EndDate))
	}
	if err := t.Payload.validate(t.Kind); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, errors.Join(errs...))
	}
	return nil
}

// State reports ENDED once the end date is before today.
func (t RecurringTemplate) State(today Date) TemplateState {
	if t.EndDate != nil && t.EndDate.Before(today) {
		return StateEnded
	}
	return StateActive
}

// Occurrence is one concrete dated entry or chore.
type Occurrence struct {
	ID          int64     `json:"id"`
	Kind        Kind      `json:"kind"`
	Date        Date      `json:"date"`
	Payload     Payload   `json:"payload"`
	TemplateRef string    `json:"template_ref,omitempty"` // empty for manual rows
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Recurring reports whether the occurrence was generated by a template.
func (o Occurrence) Recurring() bool {
	return o.TemplateRef != ""
}

// Validate checks a manually created occurrence.
func (o Occurrence) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: kind %q is not entry or chore", ErrInvalidOccurrence, o.Kind)
	}
	if o.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidOccurrence)
	}
	if err := o.Payload.validate(o.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOccurrence, err)
	}
	return nil
}

// OccurrencePatch is a partial update. Nil fields are left untouched.
type OccurrencePatch struct {
	Title       *string `json:"title,omitempty"`
	Time        *string `json:"time,omitempty"`
	Description *string `json:"description,omitempty"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

func (p OccurrencePatch) Empty() bool {
	return p.Title == nil && p.Time == nil && p.Description == nil && p.AssignedTo == nil && p.Completed == nil
}

// Apply returns o with the patch applied.
func (p OccurrencePatch) Apply(o Occurrence) Occurrence {
	if p.Title != nil {
		o.Payload.Title = *p.Title
	}
	if p.Time != nil {
		o.Payload.Time = *p.Time
	}
	if p.Description != nil {
		o.Payload.Description = *p.Description
	}
	if p.AssignedTo != nil {
		o.Payload.AssignedTo = *p.AssignedTo
	}
	if p.Completed != nil {
		o.Completed = *p.Completed
	}
	return o
}

// ExternalEvent is a read-only event from a subscribed calendar feed,
// projected onto a single day.
type ExternalEvent struct {
	Source      string `json:"source"`
	UID         string `json:"uid"`
	Date        Date   `json:"date"`
	Time        string `json:"time"` // HH:MM, or "All Day"
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	AllDay      bool   `json:"all_day"`
}

// ChoreValue is one row of the earnings lookup: what a chore pays.
type ChoreValue struct {
	ID    int64   `json:"id"`
	Chore string  `json:"chore"`
	Value float64 `json:"value"`
}

func (c ChoreValue) Validate() error {
	if strings.TrimSpace(c.Chore) == "" {
		return fmt.Errorf("%w: chore is required", ErrInvalidValue)
	}
	if c.Value < 0 || math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return fmt.Errorf("%w: value %v must be a non-negative amount", ErrInvalidValue, c.Value)
	}
	return nil
}

func (p Payload) validate(k Kind) error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	if k == KindEntry {
		if _, err := time.Parse("15:04", p.Time); err != nil {
			return fmt.Errorf("time %q is not HH:MM", p.Time)
		}
	}
	return nil
}
