package store

import (
	"context"
	"fmt"

	"housecal/internal/model"
	"housecal/internal/stats"
)

func (s *Store) ListChoreValues(ctx context.Context) ([]model.ChoreValue, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, chore, value FROM chore_values ORDER BY chore`)
	if err != nil {
		return nil, fmt.Errorf("list chore values: %w", err)
	}
	defer rows.Close()

	var out []model.ChoreValue
	for rows.Next() {
		var cv model.ChoreValue
		if err := rows.Scan(&cv.ID, &cv.Chore, &cv.Value); err != nil {
			return nil, fmt.Errorf("list chore values: %w", err)
		}
		out = append(out, cv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chore values: %w", err)
	}
	return out, nil
}

// ChoreValues returns the earnings lookup keyed by chore text.
func (s *Store) ChoreValues(ctx context.Context) (stats.Values, error) {
	list, err := s.ListChoreValues(ctx)
	if err != nil {
		return nil, err
	}
	values := make(stats.Values, len(list))
	for _, cv := range list {
		values[cv.Chore] = cv.Value
	}
	return values, nil
}

func (s *Store) CreateChoreValue(ctx context.Context, cv model.ChoreValue) (model.ChoreValue, error) {
	if err := cv.Validate(); err != nil {
		return model.ChoreValue{}, err
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO chore_values (chore, value) VALUES (?, ?)
	`, cv.Chore, cv.Value)
	if isConstraint(err) {
		return model.ChoreValue{}, fmt.Errorf("create chore value %q: %w", cv.Chore, model.ErrDuplicate)
	}
	if err != nil {
		return model.ChoreValue{}, fmt.Errorf("create chore value %q: %w", cv.Chore, err)
	}
	if cv.ID, err = res.LastInsertId(); err != nil {
		return model.ChoreValue{}, fmt.Errorf("create chore value %q: %w", cv.Chore, err)
	}
	return cv, nil
}

func (s *Store) UpdateChoreValue(ctx context.Context, cv model.ChoreValue) error {
	if err := cv.Validate(); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE chore_values SET chore = ?, value = ? WHERE id = ?
	`, cv.Chore, cv.Value, cv.ID)
	if isConstraint(err) {
		return fmt.Errorf("update chore value %d: %w", cv.ID, model.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("update chore value %d: %w", cv.ID, err)
	}
	return affectedOne(res, fmt.Sprintf("update chore value %d", cv.ID))
}

func (s *Store) DeleteChoreValue(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM chore_values WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chore value %d: %w", id, err)
	}
	return affectedOne(res, fmt.Sprintf("delete chore value %d", id))
}
