package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"housecal/internal/model"
)

const occurrenceColumns = `id, kind, occurs_on, title, time, description, assigned_to, template_ref, completed, created_at`

// ListOccurrences returns every occurrence ordered by date, then ID.
func (s *Store) ListOccurrences(ctx context.Context) ([]model.Occurrence, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		ORDER BY occurs_on, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var out []model.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("list occurrences: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	return out, nil
}

func (s *Store) GetOccurrence(ctx context.Context, kind model.Kind, id int64) (model.Occurrence, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+occurrenceColumns+`
		FROM occurrences
		WHERE id = ? AND kind = ?
	`, id, string(kind))
	o, err := scanOccurrence(row)
	if err != nil {
		return model.Occurrence{}, notFound("get occurrence", err)
	}
	return o, nil
}

// CreateOccurrence inserts o and returns its ID.
//
// For a generated row the generation key (kind, template_ref, occurs_on) is
// checked: when a row for it already exists its ID is returned with
// inserted=false, and when the day was deleted by hand nothing is written
// and the ID is 0.
func (s *Store) CreateOccurrence(ctx context.Context, o model.Occurrence) (id int64, inserted bool, err error) {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	err = s.inTx(ctx, func(tx *Store) error {
		if o.Recurring() {
			skipped, err := tx.skipped(ctx, o)
			if err != nil {
				return err
			}
			if skipped {
				return nil
			}
		}

		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO occurrences
			(kind, occurs_on, title, time, description, assigned_to, template_ref, completed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			string(o.Kind),
			o.Date.String(),
			o.Payload.Title,
			o.Payload.Time,
			o.Payload.Description,
			o.Payload.AssignedTo,
			nullString(o.TemplateRef),
			o.Completed,
			created.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			if id, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			inserted = true
			return nil
		}

		// Conflict on the generation key; report the existing row.
		err = tx.q.QueryRowContext(ctx, `
			SELECT id FROM occurrences
			WHERE kind = ? AND template_ref = ? AND occurs_on = ?
		`, string(o.Kind), o.TemplateRef, o.Date.String()).Scan(&id)
		if err != nil {
			return fmt.Errorf("select existing: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("create occurrence: %w", err)
	}
	return id, inserted, nil
}

func (s *Store) skipped(ctx context.Context, o model.Occurrence) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM occurrence_skips
		WHERE kind = ? AND template_ref = ? AND occurs_on = ?
	`, string(o.Kind), o.TemplateRef, o.Date.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check skip: %w", err)
	}
	return n > 0, nil
}

// UpdateOccurrence applies the non-nil fields of patch.
func (s *Store) UpdateOccurrence(ctx context.Context, kind model.Kind, id int64, patch model.OccurrencePatch) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE occurrences SET
			title       = COALESCE(?, title),
			time        = COALESCE(?, time),
			description = COALESCE(?, description),
			assigned_to = COALESCE(?, assigned_to),
			completed   = COALESCE(?, completed)
		WHERE id = ? AND kind = ?
	`,
		optString(patch.Title),
		optString(patch.Time),
		optString(patch.Description),
		optString(patch.AssignedTo),
		optBool(patch.Completed),
		id,
		string(kind),
	)
	if err != nil {
		return fmt.Errorf("update occurrence %d: %w", id, err)
	}
	return affectedOne(res, fmt.Sprintf("update occurrence %d", id))
}

// DeleteOccurrence removes one row. A generated row leaves a skip behind so
// the day is not materialized again.
func (s *Store) DeleteOccurrence(ctx context.Context, kind model.Kind, id int64) error {
	err := s.inTx(ctx, func(tx *Store) error {
		var ref sql.NullString
		var day string
		err := tx.q.QueryRowContext(ctx, `
			SELECT template_ref, occurs_on FROM occurrences WHERE id = ? AND kind = ?
		`, id, string(kind)).Scan(&ref, &day)
		if err != nil {
			return notFound("lookup", err)
		}

		if ref.Valid {
			if _, err := tx.q.ExecContext(ctx, `
				INSERT INTO occurrence_skips (kind, template_ref, occurs_on)
				VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, string(kind), ref.String, day); err != nil {
				return fmt.Errorf("record skip: %w", err)
			}
		}

		if _, err := tx.q.ExecContext(ctx, `DELETE FROM occurrences WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete occurrence %d: %w", id, err)
	}
	return nil
}

// DeleteOccurrencesWhere removes rows generated by templateRef, limited to
// occurs_on >= from when from is set. Without from the template's skips are
// dropped too.
func (s *Store) DeleteOccurrencesWhere(ctx context.Context, kind model.Kind, templateRef string, from *model.Date) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *Store) error {
		var (
			res sql.Result
			err error
		)
		if from != nil {
			res, err = tx.q.ExecContext(ctx, `
				DELETE FROM occurrences
				WHERE kind = ? AND template_ref = ? AND occurs_on >= ?
			`, string(kind), templateRef, from.String())
		} else {
			res, err = tx.q.ExecContext(ctx, `
				DELETE FROM occurrences WHERE kind = ? AND template_ref = ?
			`, string(kind), templateRef)
		}
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}

		if from == nil {
			_, err = tx.q.ExecContext(ctx, `
				DELETE FROM occurrence_skips WHERE kind = ? AND template_ref = ?
			`, string(kind), templateRef)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete occurrences of %s: %w", templateRef, err)
	}
	return n, nil
}

func (s *Store) DeleteManualOccurrences(ctx context.Context, kind model.Kind) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM occurrences WHERE kind = ? AND template_ref IS NULL
	`, string(kind))
	if err != nil {
		return 0, fmt.Errorf("delete manual occurrences: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete manual occurrences: %w", err)
	}
	return n, nil
}

func scanOccurrence(sc scanner) (model.Occurrence, error) {
	var (
		o            model.Occurrence
		day, created string
		ref          sql.NullString
	)
	err := sc.Scan(
		&o.ID,
		&o.Kind,
		&day,
		&o.Payload.Title,
		&o.Payload.Time,
		&o.Payload.Description,
		&o.Payload.AssignedTo,
		&ref,
		&o.Completed,
		&created,
	)
	if err != nil {
		return model.Occurrence{}, err
	}
	if o.Date, err = model.ParseDate(day); err != nil {
		return model.Occurrence{}, fmt.Errorf("occurrence %d date: %w", o.ID, err)
	}
	o.TemplateRef = ref.String
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return o, nil
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func optBool(p *bool) any {
	if p == nil {
		return nil
	}
	return *p
}
