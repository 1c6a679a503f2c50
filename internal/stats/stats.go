// Package stats derives the monthly chore bookkeeping: completion counts per
// family member and earnings from the chore value table.
package stats

import (
	"context"
	"sort"

	"housecal/internal/model"
)

// Counts maps month (YYYY-MM) -> member -> completed chores.
type Counts map[string]map[string]int

// Get returns the count for month/member, zero when absent.
func (c Counts) Get(month, member string) int {
	return c[month][member]
}

// Set stores n for month/member, creating the month bucket as needed.
func (c Counts) Set(month, member string, n int) {
	if c[month] == nil {
		c[month] = map[string]int{}
	}
	c[month][member] = n
}

// CompletionStore persists monthly completion counters.
type CompletionStore interface {
	CompletionCounts(ctx context.Context) (Counts, error)
	CompletionCount(ctx context.Context, month, member string) (int, error)
	SetCompletionCount(ctx context.Context, month, member string, n int) error
}

// Values maps chore text to its dollar value.
type Values map[string]float64

// Adjust returns the counter after a chore flips from wasCompleted to
// nowCompleted. Counters never go below zero.
func Adjust(current int, wasCompleted, nowCompleted bool) int {
	switch {
	case nowCompleted && !wasCompleted:
		return current + 1
	case !nowCompleted && wasCompleted && current > 0:
		return current - 1
	default:
		return current
	}
}

// Earnings sums the value of every completed chore assigned to member whose
// date falls in month. Chores without a value earn nothing.
func Earnings(chores []model.Occurrence, values Values, member, month string) float64 {
	total := 0.0
	for _, c := range chores {
		if c.Kind != model.KindChore || !c.Completed {
			continue
		}
		if c.Payload.AssignedTo != member || c.Date.MonthKey() != month {
			continue
		}
		total += values[c.Payload.Title]
	}
	return total
}

// MemberSummary is one row of the monthly chart.
type MemberSummary struct {
	Member      string  `json:"member"`
	Completions int     `json:"completions"`
	Earnings    float64 `json:"earnings"`
}

// Summarize builds the chart rows for month. Members are listed in the given
// order, followed by any other member that has a count or earnings, sorted
// by name.
func Summarize(month string, members []string, counts Counts, chores []model.Occurrence, values Values) []MemberSummary {
	seen := make(map[string]bool, len(members))
	order := append([]string(nil), members...)
	for _, m := range members {
		seen[m] = true
	}

	var extra []string
	for m := range counts[month] {
		if !seen[m] {
			seen[m] = true
			extra = append(extra, m)
		}
	}
	for _, c := range chores {
		m := c.Payload.AssignedTo
		if m == "" || seen[m] || c.Kind != model.KindChore || !c.Completed || c.Date.MonthKey() != month {
			continue
		}
		seen[m] = true
		extra = append(extra, m)
	}
	sort.Strings(extra)
	order = append(order, extra...)

	out := make([]MemberSummary, 0, len(order))
	for _, m := range order {
		out = append(out, MemberSummary{
			Member:      m,
			Completions: counts.Get(month, m),
			Earnings:    Earnings(chores, values, m, month),
		})
	}
	return out
}
