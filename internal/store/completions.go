package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"housecal/internal/stats"
)

// CompletionCounts returns every month's counters.
func (s *Store) CompletionCounts(ctx context.Context) (stats.Counts, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT month, member, count FROM monthly_completions ORDER BY month, member
	`)
	if err != nil {
		return nil, fmt.Errorf("list completion counts: %w", err)
	}
	defer rows.Close()

	counts := stats.Counts{}
	for rows.Next() {
		var (
			month, member string
			n             int
		)
		if err := rows.Scan(&month, &member, &n); err != nil {
			return nil, fmt.Errorf("list completion counts: %w", err)
		}
		counts.Set(month, member, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list completion counts: %w", err)
	}
	return counts, nil
}

// CompletionCount returns the counter for month and member, zero when unset.
func (s *Store) CompletionCount(ctx context.Context, month, member string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT count FROM monthly_completions WHERE month = ? AND member = ?
	`, month, member).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get completion count: %w", err)
	}
	return n, nil
}

func (s *Store) SetCompletionCount(ctx context.Context, month, member string, n int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO monthly_completions (month, member, count)
		VALUES (?, ?, ?)
		ON CONFLICT(month, member) DO UPDATE SET count = excluded.count
	`, month, member, max(n, 0))
	if err != nil {
		return fmt.Errorf("set completion count: %w", err)
	}
	return nil
}
