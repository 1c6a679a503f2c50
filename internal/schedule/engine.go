package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "housecal/internal/log"
	"housecal/internal/model"
	"housecal/internal/recur"
	"housecal/internal/stats"
)

// Engine ties the stores, the materializer, the lifecycle controller and the
// view together. Writes are serialized; every write ends with a
// reconciliation pass that republishes the view.
type Engine struct {
	store  Store
	mat    *Materializer
	life   *Lifecycle
	window recur.Window
	loc    *time.Location
	now    func() time.Time

	writeMu sync.Mutex

	viewMu sync.RWMutex
	view   *View
}

type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone "today" is computed in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithWindow overrides the default 30/60 day window.
func WithWindow(w recur.Window) Option {
	return func(e *Engine) { e.window = w }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		window: recur.DefaultWindow(),
		loc:    time.Local,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.mat = NewMaterializer(store, e.window)
	e.life = NewLifecycle(store)
	e.view = BuildView(e.Today(), nil, nil)
	return e
}

// Today is the current civil date in the engine's location.
func (e *Engine) Today() model.Date {
	return model.Today(e.now(), e.loc)
}

func (e *Engine) Window() recur.Window { return e.window }

func (e *Engine) Location() *time.Location { return e.loc }

// View returns the last published snapshot. It must not be modified.
func (e *Engine) View() *View {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view
}

func (e *Engine) publish(v *View) {
	e.viewMu.Lock()
	e.view = v
	e.viewMu.Unlock()
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Today       model.Date `json:"today"`
	Templates   int        `json:"templates"`
	Created     int        `json:"created"`
	Occurrences int        `json:"occurrences"`
}

// Reconcile materializes every template around today and publishes a fresh
// view. On failure the previous view stays published and the caller should
// retry the whole pass.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.reconcile(ctx)
}

func (e *Engine) reconcile(ctx context.Context) (ReconcileResult, error) {
	today := e.Today()
	res := ReconcileResult{Today: today}

	templates, err := e.store.ListTemplates(ctx)
	if err != nil {
		return res, classify("reconcile", "", "", err)
	}
	occs, err := e.store.ListOccurrences(ctx)
	if err != nil {
		return res, classify("reconcile", "", "", err)
	}
	res.Templates = len(templates)

	var created []model.Occurrence
	for _, t := range templates {
		rows, err := e.mat.Materialize(ctx, t, occs, today)
		created = append(created, rows...)
		if err != nil {
			res.Created = len(created)
			appLog.Error("reconcile aborted", err, "template", t.ID, "created", len(created))
			return res, err
		}
	}

	v := BuildView(today, templates, occs)
	for _, o := range created {
		v.Index(o.Kind).Insert(o)
	}
	v.BuiltAt = e.now()
	e.publish(v)

	res.Created = len(created)
	res.Occurrences = v.Entries.Len() + v.Chores.Len()
	appLog.Debug("reconciled",
		"today", today, "templates", res.Templates, "created", res.Created, "occurrences", res.Occurrences)
	return res, nil
}

// afterWrite runs the reconciliation that must follow a committed write.
// The write itself already succeeded, so a failure here is reported with
// the op name but does not undo anything.
func (e *Engine) afterWrite(ctx context.Context, op string) error {
	if _, err := e.reconcile(ctx); err != nil {
		return &RefreshError{Op: op, Err: err}
	}
	return nil
}

// CreateTemplate validates and stores t, then materializes it.
func (e *Engine) CreateTemplate(ctx context.Context, t model.RecurringTemplate) (model.RecurringTemplate, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.now().UTC()
	}
	if err := t.Validate(); err != nil {
		return model.RecurringTemplate{}, classify("create-template", t.Kind, t.ID, err)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.store.CreateTemplate(ctx, t); err != nil {
		return model.RecurringTemplate{}, classify("create-template", t.Kind, t.ID, err)
	}
	appLog.Info("template created",
		"kind", t.Kind, "template", t.ID, "frequency", t.Frequency, "start", t.StartDate)
	return t, e.afterWrite(ctx, "create-template")
}

// StopFuture ends a template before from and drops its occurrences from
// that day on.
func (e *Engine) StopFuture(ctx context.Context, kind model.Kind, id string, from model.Date) (StopResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	res, err := e.life.StopFuture(ctx, kind, id, from)
	if err != nil {
		return res, err
	}
	return res, e.afterWrite(ctx, "stop-future")
}

// DeleteAll removes a template and every occurrence it generated.
func (e *Engine) DeleteAll(ctx context.Context, kind model.Kind, id string) (DeleteResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	res, err := e.life.DeleteAll(ctx, kind, id)
	if err != nil {
		return res, err
	}
	return res, e.afterWrite(ctx, "delete-all")
}

// AddOccurrence stores a manual, non-recurring occurrence.
func (e *Engine) AddOccurrence(ctx context.Context, o model.Occurrence) (model.Occurrence, error) {
	if o.TemplateRef != "" {
		return model.Occurrence{}, classify("add", o.Kind, "", fmt.Errorf(
			"%w: template_ref is assigned by materialization only", model.ErrInvalidOccurrence))
	}
	if err := o.Validate(); err != nil {
		return model.Occurrence{}, classify("add", o.Kind, "", err)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = e.now().UTC()
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	id, _, err := e.store.CreateOccurrence(ctx, o)
	if err != nil {
		return model.Occurrence{}, classify("add", o.Kind, "", err)
	}
	o.ID = id
	appLog.Info("occurrence added", "kind", o.Kind, "id", id, "date", o.Date)
	return o, e.afterWrite(ctx, "add")
}

// UpdateOccurrence applies patch to one occurrence. Flipping a chore's
// completion adjusts the assignee's counter for the current month in the
// same transaction.
func (e *Engine) UpdateOccurrence(ctx context.Context, kind model.Kind, id int64, patch model.OccurrencePatch) (model.Occurrence, error) {
	op, ref := "update", fmt.Sprint(id)
	if patch.Empty() {
		return model.Occurrence{}, classify(op, kind, ref,
			fmt.Errorf("%w: nothing to update", model.ErrInvalidOccurrence))
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	month := e.Today().MonthKey()
	var updated model.Occurrence
	err := e.store.Atomically(ctx, func(r Repository) error {
		cur, err := r.GetOccurrence(ctx, kind, id)
		if err != nil {
			return err
		}
		updated = patch.Apply(cur)
		if err := updated.Validate(); err != nil {
			return err
		}
		if err := r.UpdateOccurrence(ctx, kind, id, patch); err != nil {
			return err
		}
		return countCompletion(ctx, r, month, cur, updated)
	})
	if err != nil {
		return model.Occurrence{}, classify(op, kind, ref, err)
	}
	appLog.Info("occurrence updated", "kind", kind, "id", id, "completed", updated.Completed)
	return updated, e.afterWrite(ctx, op)
}

// SetChoreCompleted marks a chore done or not done.
func (e *Engine) SetChoreCompleted(ctx context.Context, id int64, done bool) (model.Occurrence, error) {
	return e.UpdateOccurrence(ctx, model.KindChore, id, model.OccurrencePatch{Completed: &done})
}

func countCompletion(ctx context.Context, r Repository, month string, was, now model.Occurrence) error {
	if now.Kind != model.KindChore || was.Completed == now.Completed {
		return nil
	}
	member := now.Payload.AssignedTo
	if member == "" {
		return nil
	}
	n, err := r.CompletionCount(ctx, month, member)
	if err != nil {
		return err
	}
	return r.SetCompletionCount(ctx, month, member, stats.Adjust(n, was.Completed, now.Completed))
}

// DeleteOccurrence removes one occurrence by ID. Removing a recurring
// occurrence keeps it from being materialized again.
func (e *Engine) DeleteOccurrence(ctx context.Context, kind model.Kind, id int64) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.store.DeleteOccurrence(ctx, kind, id); err != nil {
		return classify("delete", kind, fmt.Sprint(id), err)
	}
	appLog.Info("occurrence deleted", "kind", kind, "id", id)
	return e.afterWrite(ctx, "delete")
}

// DeleteAt removes the occurrence shown at (date, ordinal) in the current
// view. The ordinal is resolved to a stable ID first.
func (e *Engine) DeleteAt(ctx context.Context, kind model.Kind, date model.Date, ordinal int) (int64, error) {
	x := e.View().Index(kind)
	if x == nil {
		return 0, classify("delete-at", kind, "", fmt.Errorf("%w: unknown kind", model.ErrInvalidOccurrence))
	}
	id, ok := x.Lookup(date, ordinal)
	if !ok {
		return 0, classify("delete-at", kind, fmt.Sprintf("%s#%d", date, ordinal), model.ErrNotFound)
	}
	return id, e.DeleteOccurrence(ctx, kind, id)
}

// ClearManual removes every manual occurrence of kind. Recurring rows stay.
func (e *Engine) ClearManual(ctx context.Context, kind model.Kind) (int64, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	n, err := e.store.DeleteManualOccurrences(ctx, kind)
	if err != nil {
		return 0, classify("clear", kind, "", err)
	}
	appLog.Info("manual occurrences cleared", "kind", kind, "removed", n)
	return n, e.afterWrite(ctx, "clear")
}
