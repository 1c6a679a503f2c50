package schedule

import (
	"context"

	"housecal/internal/model"
	"housecal/internal/stats"
)

// TemplateStore persists recurring templates. Lookups of a missing template
// return an error wrapping model.ErrNotFound; creating a duplicate ID returns
// one wrapping model.ErrDuplicate.
type TemplateStore interface {
	ListTemplates(ctx context.Context) ([]model.RecurringTemplate, error)
	GetTemplate(ctx context.Context, kind model.Kind, id string) (model.RecurringTemplate, error)
	CreateTemplate(ctx context.Context, t model.RecurringTemplate) error
	UpdateTemplateEndDate(ctx context.Context, kind model.Kind, id string, end model.Date) error
	DeleteTemplate(ctx context.Context, kind model.Kind, id string) error
}

// OccurrenceStore persists concrete occurrences.
//
// ListOccurrences returns rows ordered by date, then ID. CreateOccurrence is
// insert-or-ignore on the generation key (kind, template_ref, date): when a
// recurring row for that key already exists it returns the existing ID and
// inserted=false.
type OccurrenceStore interface {
	ListOccurrences(ctx context.Context) ([]model.Occurrence, error)
	GetOccurrence(ctx context.Context, kind model.Kind, id int64) (model.Occurrence, error)
	CreateOccurrence(ctx context.Context, o model.Occurrence) (id int64, inserted bool, err error)
	UpdateOccurrence(ctx context.Context, kind model.Kind, id int64, patch model.OccurrencePatch) error
	DeleteOccurrence(ctx context.Context, kind model.Kind, id int64) error
	// DeleteOccurrencesWhere removes rows tagged with templateRef, limited to
	// date >= *from when from is non-nil.
	DeleteOccurrencesWhere(ctx context.Context, kind model.Kind, templateRef string, from *model.Date) (int64, error)
	// DeleteManualOccurrences removes every row of kind without a template.
	DeleteManualOccurrences(ctx context.Context, kind model.Kind) (int64, error)
}

// Repository is everything the engine reads and writes.
type Repository interface {
	TemplateStore
	OccurrenceStore
	stats.CompletionStore
}

// Store is a Repository that can run a function as one storage transaction.
// fn receives a Repository bound to the transaction; if fn returns an error
// nothing it wrote is kept.
type Store interface {
	Repository
	Atomically(ctx context.Context, fn func(Repository) error) error
}
