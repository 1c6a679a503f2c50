package schedule

import (
	"context"
	"errors"
	"fmt"

	appLog "housecal/internal/log"
	"housecal/internal/model"
)

// Lifecycle applies the two template edits, "stop future" and "delete all".
// Each runs as one storage transaction. Neither regenerates occurrences; the
// caller re-runs materialization and rebuilds its view afterwards.
//
//	ACTIVE --StopFuture--> ENDED
//	ACTIVE | ENDED --DeleteAll--> GONE
type Lifecycle struct {
	store Store
}

func NewLifecycle(store Store) *Lifecycle {
	return &Lifecycle{store: store}
}

// StopResult describes what StopFuture changed.
type StopResult struct {
	TemplateFound bool
	EndDate       model.Date // end date now stored; zero when the template was gone
	Removed       int64      // future occurrences deleted
}

// StopFuture ends template id on the day before from and removes its
// occurrences dated from or later.
//
// The end date is written before the occurrences are deleted, inside the same
// transaction, so no materialization pass can observe the deletions without
// the new end date. An existing earlier end date is kept. An end date before
// the start date is allowed and leaves the template exhausted.
//
// A missing template is not an error: its leftover occurrences are still
// removed.
func (l *Lifecycle) StopFuture(ctx context.Context, kind model.Kind, id string, from model.Date) (StopResult, error) {
	if from.IsZero() {
		return StopResult{}, &OpError{Op: "stop-future", Kind: kind, ID: id,
			Err: fmt.Errorf("%w: from date is required", model.ErrInvalidTemplate)}
	}

	var res StopResult
	err := l.store.Atomically(ctx, func(r Repository) error {
		res = StopResult{}

		t, err := r.GetTemplate(ctx, kind, id)
		switch {
		case errors.Is(err, model.ErrNotFound):
			appLog.Warn("stop-future: template not found, cleaning up occurrences", "kind", kind, "template", id)
		case err != nil:
			return err
		default:
			end := from.AddDays(-1)
			if t.EndDate != nil && t.EndDate.Before(end) {
				end = *t.EndDate
			}
			if err := r.UpdateTemplateEndDate(ctx, kind, id, end); err != nil {
				return err
			}
			res.TemplateFound = true
			res.EndDate = end
		}

		n, err := r.DeleteOccurrencesWhere(ctx, kind, id, &from)
		if err != nil {
			return err
		}
		res.Removed = n
		return nil
	})
	if err != nil {
		return StopResult{}, classify("stop-future", kind, id, err)
	}

	appLog.Info("stop-future applied",
		"kind", kind, "template", id, "from", from, "end_date", res.EndDate, "removed", res.Removed)
	return res, nil
}

// DeleteResult describes what DeleteAll removed.
type DeleteResult struct {
	TemplateFound bool
	Removed       int64 // occurrences deleted
}

// DeleteAll removes template id and every occurrence generated from it, in
// one transaction. Deleting an already deleted template removes any
// remaining tagged occurrences and succeeds.
func (l *Lifecycle) DeleteAll(ctx context.Context, kind model.Kind, id string) (DeleteResult, error) {
	var res DeleteResult
	err := l.store.Atomically(ctx, func(r Repository) error {
		res = DeleteResult{TemplateFound: true}

		n, err := r.DeleteOccurrencesWhere(ctx, kind, id, nil)
		if err != nil {
			return err
		}
		res.Removed = n

		err = r.DeleteTemplate(ctx, kind, id)
		if errors.Is(err, model.ErrNotFound) {
			res.TemplateFound = false
			return nil
		}
		return err
	})
	if err != nil {
		return DeleteResult{}, classify("delete-all", kind, id, err)
	}

	appLog.Info("delete-all applied",
		"kind", kind, "template", id, "template_found", res.TemplateFound, "removed", res.Removed)
	return res, nil
}
