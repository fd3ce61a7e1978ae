package services

import (
	"context"
	"database/sql"
	"errors"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

type Categories struct {
	store  Store
	logger *log.Logger
}

func NewCategories(store Store, logger *log.Logger) *Categories {
	return &Categories{store: store, logger: catalogLogger(logger)}
}

func scanCategory(rs interface{ Scan(...any) error }) (core.Category, error) {
	var (
		c     core.Category
		owner sql.NullInt64
	)
	if err := rs.Scan(&c.ID, &owner, &c.Kind, &c.Name); err != nil {
		return c, err
	}
	if owner.Valid {
		c.UserID = &owner.Int64
	}
	return c, nil
}

// List returns the global categories of kind plus the user's own, by name.
func (s *Categories) List(ctx context.Context, userID int64, kind core.CategoryKind) ([]core.Category, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT id, user_id, kind, name FROM categories
		WHERE kind = ? AND (user_id IS NULL OR user_id = ?)
		ORDER BY name, id`, string(kind), userID)
	if err != nil {
		return nil, core.Internal(err, "list %s categories", kind)
	}
	defer rows.Close()

	out := []core.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, core.Internal(err, "scan category")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal(err, "iterate categories")
	}
	return out, nil
}

func nameTaken(ctx context.Context, q storage.Querier, userID int64, kind core.CategoryKind, name string, exceptID int64) error {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM categories
		WHERE kind = ? AND LOWER(name) = LOWER(?) AND (user_id IS NULL OR user_id = ?) AND id != ?`,
		string(kind), name, userID, exceptID).Scan(&n)
	if err != nil {
		return core.Internal(err, "check category name")
	}
	if n > 0 {
		return core.Invalid("%s category with this name already exists", kind)
	}
	return nil
}

// loadOwned returns a category userID may change. Global categories are
// forbidden; missing ones and those of other users are not found.
func loadOwned(ctx context.Context, q storage.Querier, userID, id int64) (core.Category, error) {
	c, err := scanCategory(q.QueryRowContext(ctx, `SELECT id, user_id, kind, name FROM categories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, core.NotFound("category %d not found", id)
	}
	if err != nil {
		return c, core.Internal(err, "load category %d", id)
	}
	if c.IsGlobal() {
		return c, core.Forbidden("category %d is built in and cannot be modified", id)
	}
	if !c.OwnedBy(userID) {
		return c, core.NotFound("category %d not found", id)
	}
	return c, nil
}

func (s *Categories) Create(ctx context.Context, userID int64, kind core.CategoryKind, name string) (core.Category, error) {
	if kind != core.CategoryExpense && kind != core.CategoryIncome {
		return core.Category{}, core.Invalid("valid category type (expense/income) is required")
	}
	name, err := cleanName(name, "category")
	if err != nil {
		return core.Category{}, err
	}

	var created core.Category
	err = s.store.WithTx(ctx, func(q storage.Querier) error {
		if err := nameTaken(ctx, q, userID, kind, name, 0); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx,
			`INSERT INTO categories (user_id, kind, name, created_at) VALUES (?, ?, ?, ?)`,
			userID, string(kind), name, storage.Now())
		if err != nil {
			return core.Internal(err, "insert category")
		}
		id, err := storage.LastInsertID(res)
		if err != nil {
			return core.Internal(err, "insert category")
		}
		owner := userID
		created = core.Category{ID: id, UserID: &owner, Kind: kind, Name: name}
		return nil
	})
	if err != nil {
		return core.Category{}, classify(err, "create category")
	}

	s.logger.InfoContext(ctx, "Category created",
		log.FieldUserID, userID, log.FieldCategoryID, created.ID, "kind", string(kind))
	return created, nil
}

// Update renames a category the user owns.
func (s *Categories) Update(ctx context.Context, userID, id int64, name string) (core.Category, error) {
	name, err := cleanName(name, "category")
	if err != nil {
		return core.Category{}, err
	}

	var renamed core.Category
	err = s.store.WithTx(ctx, func(q storage.Querier) error {
		c, err := loadOwned(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if err := nameTaken(ctx, q, userID, c.Kind, name, id); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `UPDATE categories SET name = ? WHERE id = ? AND user_id = ?`, name, id, userID); err != nil {
			return core.Internal(err, "update category %d", id)
		}
		c.Name = name
		renamed = c
		return nil
	})
	if err != nil {
		return core.Category{}, classify(err, "update category %d", id)
	}

	s.logger.InfoContext(ctx, "Category renamed", log.FieldUserID, userID, log.FieldCategoryID, id)
	return renamed, nil
}

// Delete removes a category the user owns and no event uses.
func (s *Categories) Delete(ctx context.Context, userID, id int64) error {
	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		if _, err := loadOwned(ctx, q, userID, id); err != nil {
			return err
		}
		var n int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE category_id = ?`, id).Scan(&n); err != nil {
			return core.Internal(err, "count events for category %d", id)
		}
		if n > 0 {
			return core.Invalid("cannot delete category that is used in transactions")
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return core.Internal(err, "delete category %d", id)
		}
		return nil
	})
	if err != nil {
		return classify(err, "delete category %d", id)
	}

	s.logger.InfoContext(ctx, "Category deleted", log.FieldUserID, userID, log.FieldCategoryID, id)
	return nil
}
