package schedule

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"housecal/internal/model"
	"housecal/internal/stats"
)

var errDiskGone = errors.New("disk I/O error")

type genKey struct {
	kind model.Kind
	ref  string
	date model.Date
}

// memStore is an in-memory Store with the same semantics as the SQLite
// store, plus failure injection.
type memStore struct {
	mu sync.Mutex

	templates []model.RecurringTemplate
	occs      map[int64]model.Occurrence
	skips     map[genKey]bool
	counts    stats.Counts
	nextID    int64

	// creates counts successful CreateOccurrence calls; once failAfter
	// (when > 0) of them succeeded, every further create fails.
	creates   int
	failAfter int
	// fail makes the named method return errDiskGone.
	fail map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		occs:   make(map[int64]model.Occurrence),
		skips:  make(map[genKey]bool),
		counts: stats.Counts{},
		fail:   make(map[string]bool),
	}
}

func (s *memStore) failing(method string) error {
	if s.fail[method] {
		return fmt.Errorf("%s: %w", method, errDiskGone)
	}
	return nil
}

func (s *memStore) ListTemplates(ctx context.Context) ([]model.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("ListTemplates"); err != nil {
		return nil, err
	}
	return slices.Clone(s.templates), nil
}

func (s *memStore) GetTemplate(ctx context.Context, kind model.Kind, id string) (model.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("GetTemplate"); err != nil {
		return model.RecurringTemplate{}, err
	}
	i := s.templateIndex(kind, id)
	if i < 0 {
		return model.RecurringTemplate{}, model.ErrNotFound
	}
	return s.templates[i], nil
}

func (s *memStore) CreateTemplate(ctx context.Context, t model.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("CreateTemplate"); err != nil {
		return err
	}
	if s.templateIndex(t.Kind, t.ID) >= 0 {
		return model.ErrDuplicate
	}
	s.templates = append(s.templates, t)
	return nil
}

func (s *memStore) UpdateTemplateEndDate(ctx context.Context, kind model.Kind, id string, end model.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("UpdateTemplateEndDate"); err != nil {
		return err
	}
	i := s.templateIndex(kind, id)
	if i < 0 {
		return model.ErrNotFound
	}
	s.templates[i].EndDate = &end
	return nil
}

func (s *memStore) DeleteTemplate(ctx context.Context, kind model.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("DeleteTemplate"); err != nil {
		return err
	}
	i := s.templateIndex(kind, id)
	if i < 0 {
		return model.ErrNotFound
	}
	s.templates = slices.Delete(s.templates, i, i+1)
	return nil
}

func (s *memStore) templateIndex(kind model.Kind, id string) int {
	return slices.IndexFunc(s.templates, func(t model.RecurringTemplate) bool {
		return t.Kind == kind && t.ID == id
	})
}

func (s *memStore) ListOccurrences(ctx context.Context) ([]model.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("ListOccurrences"); err != nil {
		return nil, err
	}
	return s.sorted(), nil
}

func (s *memStore) sorted() []model.Occurrence {
	out := slices.Collect(maps.Values(s.occs))
	slices.SortFunc(out, func(a, b model.Occurrence) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out
}

func (s *memStore) GetOccurrence(ctx context.Context, kind model.Kind, id int64) (model.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.occs[id]
	if !ok || o.Kind != kind {
		return model.Occurrence{}, model.ErrNotFound
	}
	return o, nil
}

func (s *memStore) CreateOccurrence(ctx context.Context, o model.Occurrence) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("CreateOccurrence"); err != nil {
		return 0, false, err
	}
	if s.failAfter > 0 && s.creates >= s.failAfter {
		return 0, false, errDiskGone
	}
	if o.TemplateRef != "" {
		key := genKey{o.Kind, o.TemplateRef, o.Date}
		if s.skips[key] {
			return 0, false, nil
		}
		for _, have := range s.occs {
			if have.Kind == o.Kind && have.TemplateRef == o.TemplateRef && have.Date == o.Date {
				return have.ID, false, nil
			}
		}
	}
	s.nextID++
	o.ID = s.nextID
	s.occs[o.ID] = o
	s.creates++
	return o.ID, true, nil
}

func (s *memStore) UpdateOccurrence(ctx context.Context, kind model.Kind, id int64, patch model.OccurrencePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("UpdateOccurrence"); err != nil {
		return err
	}
	o, ok := s.occs[id]
	if !ok || o.Kind != kind {
		return model.ErrNotFound
	}
	s.occs[id] = patch.Apply(o)
	return nil
}

func (s *memStore) DeleteOccurrence(ctx context.Context, kind model.Kind, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("DeleteOccurrence"); err != nil {
		return err
	}
	o, ok := s.occs[id]
	if !ok || o.Kind != kind {
		return model.ErrNotFound
	}
	if o.Recurring() {
		s.skips[genKey{o.Kind, o.TemplateRef, o.Date}] = true
	}
	delete(s.occs, id)
	return nil
}

func (s *memStore) DeleteOccurrencesWhere(ctx context.Context, kind model.Kind, ref string, from *model.Date) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("DeleteOccurrencesWhere"); err != nil {
		return 0, err
	}
	var n int64
	for id, o := range s.occs {
		if o.Kind != kind || o.TemplateRef != ref {
			continue
		}
		if from != nil && o.Date.Before(*from) {
			continue
		}
		delete(s.occs, id)
		n++
	}
	if from == nil {
		for k := range s.skips {
			if k.kind == kind && k.ref == ref {
				delete(s.skips, k)
			}
		}
	}
	return n, nil
}

func (s *memStore) DeleteManualOccurrences(ctx context.Context, kind model.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.occs {
		if o.Kind == kind && !o.Recurring() {
			delete(s.occs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) CompletionCounts(ctx context.Context) (stats.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := stats.Counts{}
	for month, members := range s.counts {
		out[month] = maps.Clone(members)
	}
	return out, nil
}

func (s *memStore) CompletionCount(ctx context.Context, month, member string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts.Get(month, member), nil
}

func (s *memStore) SetCompletionCount(ctx context.Context, month, member string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing("SetCompletionCount"); err != nil {
		return err
	}
	s.counts.Set(month, member, n)
	return nil
}

// Atomically snapshots the state and restores it when fn fails.
func (s *memStore) Atomically(ctx context.Context, fn func(Repository) error) error {
	s.mu.Lock()
	if err := s.failing("Atomically"); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	templates []model.RecurringTemplate
	occs      map[int64]model.Occurrence
	skips     map[genKey]bool
	counts    stats.Counts
	nextID    int64
}

func (s *memStore) snapshot() memSnapshot {
	templates := make([]model.RecurringTemplate, len(s.templates))
	for i, t := range s.templates {
		if t.EndDate != nil {
			end := *t.EndDate
			t.EndDate = &end
		}
		templates[i] = t
	}
	counts := stats.Counts{}
	for month, members := range s.counts {
		counts[month] = maps.Clone(members)
	}
	return memSnapshot{
		templates: templates,
		occs:      maps.Clone(s.occs),
		skips:     maps.Clone(s.skips),
		counts:    counts,
		nextID:    s.nextID,
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.templates = snap.templates
	s.occs = snap.occs
	s.skips = snap.skips
	s.counts = snap.counts
	s.nextID = snap.nextID
}

// seed inserts a recurring row for each day in [from, to] tagged with ref.
func (s *memStore) seed(kind model.Kind, ref string, p model.Payload, from, to model.Date) {
	for d := from; !d.After(to); d = d.AddDays(1) {
		s.nextID++
		s.occs[s.nextID] = model.Occurrence{ID: s.nextID, Kind: kind, Date: d, Payload: p, TemplateRef: ref}
	}
}

func (s *memStore) tagged(kind model.Kind, ref string) []model.Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Occurrence
	for _, o := range s.sorted() {
		if o.Kind == kind && o.TemplateRef == ref {
			out = append(out, o)
		}
	}
	return out
}
