package schedule

import (
	"context"

	appLog "housecal/internal/log"
	"housecal/internal/model"
	"housecal/internal/recur"
)

// Materializer persists the occurrences a template's window implies but the
// store does not yet hold.
type Materializer struct {
	store  OccurrenceStore
	window recur.Window
}

func NewMaterializer(store OccurrenceStore, window recur.Window) *Materializer {
	return &Materializer{store: store, window: window}
}

// Materialize creates one occurrence for every day of t's window around
// anchor that has no occurrence with the same generation key
// (kind, template ref, date) in existing. It returns the rows it created, in
// date order, with their store IDs.
//
// Candidates are created one at a time. If creation fails the rows created
// so far stay and are returned along with the error; calling Materialize
// again fills the remaining days without duplicating anything.
//
// The template's current payload is copied into each new row. Rows created
// earlier with an older payload still count as present for their day.
func (m *Materializer) Materialize(ctx context.Context, t model.RecurringTemplate, existing []model.Occurrence, anchor model.Date) ([]model.Occurrence, error) {
	have := materializedDays(existing, t)
	var created []model.Occurrence

	for day := range recur.Expand(t, anchor, m.window) {
		if have[day] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return created, classify("materialize", t.Kind, t.ID, err)
		}

		occ := model.Occurrence{
			Kind:        t.Kind,
			Date:        day,
			Payload:     t.Payload,
			TemplateRef: t.ID,
		}
		id, inserted, err := m.store.CreateOccurrence(ctx, occ)
		if err != nil {
			appLog.Error("materialize: create occurrence failed", err,
				"template", t.ID, "kind", t.Kind, "date", day, "created_so_far", len(created))
			return created, classify("materialize", t.Kind, t.ID, err)
		}
		have[day] = true
		if !inserted {
			// Another pass got there first; the row exists under id.
			appLog.Debug("materialize: occurrence already present", "template", t.ID, "date", day, "id", id)
			continue
		}
		occ.ID = id
		created = append(created, occ)
	}

	if len(created) > 0 {
		appLog.Info("materialize: created occurrences",
			"template", t.ID, "kind", t.Kind, "frequency", t.Frequency, "anchor", anchor, "created", len(created))
	}
	return created, nil
}

// materializedDays returns the days that already hold a row generated by t.
func materializedDays(existing []model.Occurrence, t model.RecurringTemplate) map[model.Date]bool {
	have := make(map[model.Date]bool)
	for _, o := range existing {
		if o.Kind == t.Kind && o.TemplateRef == t.ID {
			have[o.Date] = true
		}
	}
	return have
}
