package schedule

import (
	"cmp"
	"slices"
	"time"

	"housecal/internal/model"
)

// DayIndex holds the occurrences of one kind grouped per date, in display
// order, together with the position index (date, ordinal) -> occurrence ID.
//
// Every structural mutation reindexes the affected date before it returns,
// so an ordinal always resolves against the current list. Callers should
// still prefer stable IDs and resolve an ordinal only at the edge.
type DayIndex struct {
	kind model.Kind
	days map[model.Date][]model.Occurrence
	ids  map[model.Date][]int64
	at   map[int64]model.Date
}

func newDayIndex(kind model.Kind) *DayIndex {
	return &DayIndex{
		kind: kind,
		days: make(map[model.Date][]model.Occurrence),
		ids:  make(map[model.Date][]int64),
		at:   make(map[int64]model.Date),
	}
}

func (x *DayIndex) Kind() model.Kind { return x.kind }

// Len returns the number of occurrences across all dates.
func (x *DayIndex) Len() int { return len(x.at) }

// Day returns a copy of date's list in display order.
func (x *DayIndex) Day(date model.Date) []model.Occurrence {
	return slices.Clone(x.days[date])
}

// Dates returns every date holding at least one occurrence, ascending.
func (x *DayIndex) Dates() []model.Date {
	out := make([]model.Date, 0, len(x.days))
	for d := range x.days {
		out = append(out, d)
	}
	slices.SortFunc(out, model.Date.Compare)
	return out
}

// All returns every occurrence ordered by date, then display order.
func (x *DayIndex) All() []model.Occurrence {
	out := make([]model.Occurrence, 0, x.Len())
	for _, d := range x.Dates() {
		out = append(out, x.days[d]...)
	}
	return out
}

// Lookup resolves (date, ordinal) to an occurrence ID.
func (x *DayIndex) Lookup(date model.Date, ordinal int) (int64, bool) {
	ids := x.ids[date]
	if ordinal < 0 || ordinal >= len(ids) {
		return 0, false
	}
	return ids[ordinal], true
}

// Ordinal returns the current date and position of id.
func (x *DayIndex) Ordinal(id int64) (model.Date, int, bool) {
	date, ok := x.at[id]
	if !ok {
		return model.Date{}, 0, false
	}
	return date, slices.Index(x.ids[date], id), true
}

// Get returns the occurrence with id.
func (x *DayIndex) Get(id int64) (model.Occurrence, bool) {
	date, i, ok := x.Ordinal(id)
	if !ok {
		return model.Occurrence{}, false
	}
	return x.days[date][i], true
}

// Reindex rebuilds the ordinal -> ID mapping for date from its current list
// and returns it.
func (x *DayIndex) Reindex(date model.Date) []int64 {
	list := x.days[date]
	if len(list) == 0 {
		delete(x.days, date)
		delete(x.ids, date)
		return nil
	}
	ids := make([]int64, len(list))
	for i, o := range list {
		ids[i] = o.ID
		x.at[o.ID] = date
	}
	x.ids[date] = ids
	return slices.Clone(ids)
}

// Insert adds o to its date, restores display order and reindexes the date.
// An occurrence already present under the same ID is replaced.
func (x *DayIndex) Insert(o model.Occurrence) {
	x.RemoveID(o.ID)
	list := append(x.days[o.Date], o)
	x.sortDay(list)
	x.days[o.Date] = list
	x.Reindex(o.Date)
}

// RemoveAt removes the occurrence at (date, ordinal). Ordinals after it
// shift down by one.
func (x *DayIndex) RemoveAt(date model.Date, ordinal int) (model.Occurrence, bool) {
	list := x.days[date]
	if ordinal < 0 || ordinal >= len(list) {
		return model.Occurrence{}, false
	}
	removed := list[ordinal]
	x.days[date] = slices.Delete(list, ordinal, ordinal+1)
	delete(x.at, removed.ID)
	x.Reindex(date)
	return removed, true
}

// RemoveID removes the occurrence with id wherever it is.
func (x *DayIndex) RemoveID(id int64) bool {
	date, i, ok := x.Ordinal(id)
	if !ok || i < 0 {
		return false
	}
	_, ok = x.RemoveAt(date, i)
	return ok
}

// sortDay orders entries by time of day and chores by ID, which follows
// creation order.
func (x *DayIndex) sortDay(list []model.Occurrence) {
	if x.kind == model.KindEntry {
		slices.SortStableFunc(list, func(a, b model.Occurrence) int {
			return cmp.Or(cmp.Compare(a.Payload.Time, b.Payload.Time), cmp.Compare(a.ID, b.ID))
		})
		return
	}
	slices.SortStableFunc(list, func(a, b model.Occurrence) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// View is the reconciled read model handed to renderers. A published View
// is never mutated; the engine builds a fresh one after every write.
type View struct {
	Today     model.Date
	BuiltAt   time.Time
	Templates []model.RecurringTemplate
	Entries   *DayIndex
	Chores    *DayIndex
}

// BuildView groups occs per kind and date, orders each date for display and
// builds the position index from scratch.
func BuildView(today model.Date, templates []model.RecurringTemplate, occs []model.Occurrence) *View {
	v := &View{
		Today:     today,
		Templates: slices.Clone(templates),
		Entries:   newDayIndex(model.KindEntry),
		Chores:    newDayIndex(model.KindChore),
	}
	for _, o := range occs {
		x := v.Index(o.Kind)
		if x == nil {
			continue
		}
		x.days[o.Date] = append(x.days[o.Date], o)
	}
	for _, x := range []*DayIndex{v.Entries, v.Chores} {
		for date, list := range x.days {
			x.sortDay(list)
			x.Reindex(date)
		}
	}
	return v
}

// Index returns the day index of kind, nil for an unknown kind.
func (v *View) Index(kind model.Kind) *DayIndex {
	switch kind {
	case model.KindEntry:
		return v.Entries
	case model.KindChore:
		return v.Chores
	default:
		return nil
	}
}

// Template finds a template by kind and ID.
func (v *View) Template(kind model.Kind, id string) (model.RecurringTemplate, bool) {
	for _, t := range v.Templates {
		if t.Kind == kind && t.ID == id {
			return t, true
		}
	}
	return model.RecurringTemplate{}, false
}

// TemplatesOf returns the templates of kind in store order.
func (v *View) TemplatesOf(kind model.Kind) []model.RecurringTemplate {
	var out []model.RecurringTemplate
	for _, t := range v.Templates {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Occurrences returns every occurrence of kind ordered by date.
func (v *View) Occurrences(kind model.Kind) []model.Occurrence {
	x := v.Index(kind)
	if x == nil {
		return nil
	}
	return x.All()
}

// DayView is one calendar cell. Positions in Entries and Chores are the
// ordinals of the position index.
type DayView struct {
	Date    model.Date         `json:"date"`
	Today   bool               `json:"today"`
	Entries []model.Occurrence `json:"entries"`
	Chores  []model.Occurrence `json:"chores"`
}

// Days returns n consecutive cells starting at from. Empty days are
// included with empty lists.
func (v *View) Days(from model.Date, n int) []DayView {
	out := make([]DayView, 0, max(n, 0))
	for i := range max(n, 0) {
		d := from.AddDays(i)
		entries := v.Entries.Day(d)
		chores := v.Chores.Day(d)
		if entries == nil {
			entries = []model.Occurrence{}
		}
		if chores == nil {
			chores = []model.Occurrence{}
		}
		out = append(out, DayView{Date: d, Today: d == v.Today, Entries: entries, Chores: chores})
	}
	return out
}
