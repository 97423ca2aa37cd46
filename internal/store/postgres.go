package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore keeps attributes as rows of the attributes table. Writes to
// one item are serialised with a transaction-scoped advisory lock on the item
// name, so a precondition and the write it guards see the same state.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type attributeRow struct {
	Item  string `db:"item_name"`
	Name  string `db:"attr_name"`
	Value string `db:"attr_value"`
}

func (s *PostgresStore) Get(ctx context.Context, item string) ([]Attribute, error) {
	query := `
		SELECT item_name, attr_name, attr_value
		FROM attributes
		WHERE item_name = $1
		ORDER BY attr_name
	`

	var rows []attributeRow
	if err := s.db.SelectContext(ctx, &rows, query, item); err != nil {
		return nil, mapPostgresError(err)
	}

	attrs := make([]Attribute, 0, len(rows))
	for _, r := range rows {
		attrs = append(attrs, Attribute{Name: r.Name, Value: r.Value})
	}
	return attrs, nil
}

func (s *PostgresStore) Put(ctx context.Context, item string, attrs []Attribute, cond Condition) error {
	return s.withItemLock(ctx, item, func(tx *sqlx.Tx) error {
		current, present, err := currentValue(ctx, tx, item, cond.Name)
		if err != nil {
			return err
		}
		if err := check(cond, current, present); err != nil {
			return err
		}

		upsert := `
			INSERT INTO attributes (item_name, attr_name, attr_value)
			VALUES ($1, $2, $3)
			ON CONFLICT (item_name, attr_name) DO UPDATE SET attr_value = EXCLUDED.attr_value
		`
		for _, a := range attrs {
			if _, err := tx.ExecContext(ctx, upsert, item, a.Name, a.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, item string, attr Attribute, cond Condition) error {
	return s.withItemLock(ctx, item, func(tx *sqlx.Tx) error {
		current, present, err := currentValue(ctx, tx, item, cond.Name)
		if err != nil {
			return err
		}
		if err := checkDelete(cond, current, present); err != nil {
			return err
		}

		query := `DELETE FROM attributes WHERE item_name = $1 AND attr_name = $2`
		_, err = tx.ExecContext(ctx, query, item, attr.Name)
		return err
	})
}

func (s *PostgresStore) DeleteAll(ctx context.Context, item string) error {
	query := `DELETE FROM attributes WHERE item_name = $1`
	_, err := s.db.ExecContext(ctx, query, item)
	return mapPostgresError(err)
}

func (s *PostgresStore) SelectAll(ctx context.Context) ([]Item, error) {
	query := `
		SELECT item_name, attr_name, attr_value
		FROM attributes
		ORDER BY item_name, attr_name
	`

	var rows []attributeRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, mapPostgresError(err)
	}

	var items []Item
	for _, r := range rows {
		if len(items) == 0 || items[len(items)-1].Name != r.Item {
			items = append(items, Item{Name: r.Item})
		}
		last := &items[len(items)-1]
		last.Attributes = append(last.Attributes, Attribute{Name: r.Name, Value: r.Value})
	}
	return items, nil
}

func (s *PostgresStore) withItemLock(ctx context.Context, item string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapPostgresError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, item); err != nil {
		return mapPostgresError(err)
	}
	if err := fn(tx); err != nil {
		return mapPostgresError(err)
	}
	return mapPostgresError(tx.Commit())
}

func currentValue(ctx context.Context, tx *sqlx.Tx, item, name string) (string, bool, error) {
	query := `SELECT attr_value FROM attributes WHERE item_name = $1 AND attr_name = $2`

	var value string
	err := tx.GetContext(ctx, &value, query, item, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// mapPostgresError reports resource exhaustion, serialisation failures and
// deadlocks as throttling so callers back off and retry.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "53" || pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}
	return err
}
