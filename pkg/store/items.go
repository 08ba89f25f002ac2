package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rubiojr/shopsense/pkg/model"
)

// ListCategories returns every category ordered by id.
func (s *Store) ListCategories(ctx context.Context) ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddCategory inserts a category. Names are unique, compared verbatim.
func (s *Store) AddCategory(ctx context.Context, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, errors.New("category name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		return model.Category{}, fmt.Errorf("category %q: %w", name, ErrExists)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Category{}, fmt.Errorf("lookup category: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO categories(name) VALUES(?)`, name)
	if err != nil {
		return model.Category{}, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Category{}, err
	}
	return model.Category{ID: id, Name: name}, nil
}

// ListItems returns the whole shopping list, unchecked first.
func (s *Store) ListItems(ctx context.Context) ([]model.ToBuyItem, error) {
	return s.queryItems(ctx, `SELECT id, name, COALESCE(category_id, 0), quantity, checked
		FROM items ORDER BY checked, id`)
}

// ListUncheckedItems returns the items still to buy.
func (s *Store) ListUncheckedItems(ctx context.Context) ([]model.ToBuyItem, error) {
	return s.queryItems(ctx, `SELECT id, name, COALESCE(category_id, 0), quantity, checked
		FROM items WHERE checked = 0 ORDER BY id`)
}

func (s *Store) queryItems(ctx context.Context, q string) ([]model.ToBuyItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []model.ToBuyItem
	for rows.Next() {
		var (
			it      model.ToBuyItem
			checked int
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.CategoryID, &it.Quantity, &checked); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Checked = checked != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

// AddItem inserts an item. A zero CategoryID leaves the item uncategorised;
// an unknown one is ErrNotFound.
func (s *Store) AddItem(ctx context.Context, it model.ToBuyItem) (model.ToBuyItem, error) {
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		return model.ToBuyItem{}, errors.New("item name required")
	}
	if it.Quantity <= 0 {
		it.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cat any
	if it.CategoryID != 0 {
		var id int64
		err := s.db.QueryRowContext(ctx, `SELECT id FROM categories WHERE id = ?`, it.CategoryID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ToBuyItem{}, fmt.Errorf("category %d: %w", it.CategoryID, ErrNotFound)
		}
		if err != nil {
			return model.ToBuyItem{}, fmt.Errorf("lookup category: %w", err)
		}
		cat = id
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items(name, category_id, quantity, checked) VALUES(?,?,?,?)`,
		it.Name, cat, it.Quantity, boolInt(it.Checked))
	if err != nil {
		return model.ToBuyItem{}, fmt.Errorf("insert item: %w", err)
	}
	if it.ID, err = res.LastInsertId(); err != nil {
		return model.ToBuyItem{}, err
	}
	return it, nil
}

// SetItemChecked flips the checked flag of an item.
func (s *Store) SetItemChecked(ctx context.Context, id int64, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE items SET checked = ? WHERE id = ?`, boolInt(checked), id)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return expectOne(res, "item", id)
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return expectOne(res, "item", id)
}

func expectOne(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
