package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"housecal/internal/model"
)

const templateColumns = `kind, id, title, time, description, assigned_to, start_date, end_date, frequency, created_at`

func (s *Store) ListTemplates(ctx context.Context) ([]model.RecurringTemplate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		ORDER BY created_at, kind, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []model.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

func (s *Store) GetTemplate(ctx context.Context, kind model.Kind, id string) (model.RecurringTemplate, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE kind = ? AND id = ?
	`, string(kind), id)
	t, err := scanTemplate(row)
	if err != nil {
		return model.RecurringTemplate{}, notFound("get template", err)
	}
	return t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t model.RecurringTemplate) error {
	var end sql.NullString
	if t.EndDate != nil {
		end = nullString(t.EndDate.String())
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(t.Kind),
		t.ID,
		t.Payload.Title,
		t.Payload.Time,
		t.Payload.Description,
		t.Payload.AssignedTo,
		t.StartDate.String(),
		end,
		string(t.Frequency),
		created.UTC().Format(time.RFC3339Nano),
	)
	if isConstraint(err) {
		return fmt.Errorf("create template %s: %w", t.ID, model.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create template %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) UpdateTemplateEndDate(ctx context.Context, kind model.Kind, id string, end model.Date) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE templates SET end_date = ? WHERE kind = ? AND id = ?
	`, end.String(), string(kind), id)
	if err != nil {
		return fmt.Errorf("update template end date: %w", err)
	}
	return affectedOne(res, "update template end date")
}

func (s *Store) DeleteTemplate(ctx context.Context, kind model.Kind, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM templates WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return affectedOne(res, "delete template")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(sc scanner) (model.RecurringTemplate, error) {
	var (
		t              model.RecurringTemplate
		start, created string
		end            sql.NullString
	)
	err := sc.Scan(
		&t.Kind,
		&t.ID,
		&t.Payload.Title,
		&t.Payload.Time,
		&t.Payload.Description,
		&t.Payload.AssignedTo,
		&start,
		&end,
		&t.Frequency,
		&created,
	)
	if err != nil {
		return model.RecurringTemplate{}, err
	}
	if t.StartDate, err = model.ParseDate(start); err != nil {
		return model.RecurringTemplate{}, fmt.Errorf("template %s start date: %w", t.ID, err)
	}
	if end.Valid {
		d, err := model.ParseDate(end.String)
		if err != nil {
			return model.RecurringTemplate{}, fmt.Errorf("template %s end date: %w", t.ID, err)
		}
		t.EndDate = &d
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return t, nil
}
