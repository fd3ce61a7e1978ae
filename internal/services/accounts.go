package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

type AccountInput struct {
	Name       string
	CategoryID int64
	Currencies []string
}

// AccountPatch lists the account fields to change. A nil Currencies keeps the
// supported set; a non-nil one replaces it.
type AccountPatch struct {
	Name       *string
	CategoryID *int64
	Currencies []string
}

type Accounts struct {
	store      Store
	currencies *Currencies
	logger     *log.Logger
}

func NewAccounts(store Store, currencies *Currencies, logger *log.Logger) *Accounts {
	return &Accounts{
		store:      store,
		currencies: currencies,
		logger:     catalogLogger(logger),
	}
}

const accountColumns = `
	SELECT a.id, a.user_id, a.name, a.category_id, ac_cat.name, a.created_at, a.updated_at,
	       ac.id, ac.currency_code, cur.symbol, ac.balance
	FROM accounts a
	JOIN account_categories ac_cat ON ac_cat.id = a.category_id
	LEFT JOIN account_currencies ac ON ac.account_id = a.id
	LEFT JOIN currencies cur ON cur.code = ac.currency_code`

// queryAccounts loads accounts with their balances in one pass over a joined
// result ordered by account.
func queryAccounts(ctx context.Context, q storage.Querier, tail string, args ...any) ([]core.Account, error) {
	rows, err := q.QueryContext(ctx, accountColumns+" "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var (
		out   []core.Account
		index = make(map[int64]int)
	)
	for rows.Next() {
		var (
			a                core.Account
			created, updated string
			acID             sql.NullInt64
			code, symbol     sql.NullString
			balance          decimal.NullDecimal
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.CategoryID, &a.CategoryName, &created, &updated,
			&acID, &code, &symbol, &balance); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}

		i, seen := index[a.ID]
		if !seen {
			a.CreatedAt = storage.ParseTimestamp(created)
			a.UpdatedAt = storage.ParseTimestamp(updated)
			a.Currencies = []core.AccountCurrency{}
			out = append(out, a)
			i = len(out) - 1
			index[a.ID] = i
		}
		if acID.Valid {
			out[i].Currencies = append(out[i].Currencies, core.AccountCurrency{
				ID:        acID.Int64,
				AccountID: a.ID,
				Currency:  code.String,
				Symbol:    symbol.String,
				Balance:   balance.Decimal,
				Display:   core.FormatAmount(balance.Decimal, code.String),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func loadAccount(ctx context.Context, q storage.Querier, userID, id int64) (core.Account, error) {
	accounts, err := queryAccounts(ctx, q, `WHERE a.id = ? AND a.user_id = ? ORDER BY ac.currency_code`, id, userID)
	if err != nil {
		return core.Account{}, core.Internal(err, "load account %d", id)
	}
	if len(accounts) == 0 {
		return core.Account{}, core.NotFound("account %d not found", id)
	}
	return accounts[0], nil
}

func accountCategoryExists(ctx context.Context, q storage.Querier, id int64) error {
	var found int64
	err := q.QueryRowContext(ctx, `SELECT id FROM account_categories WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invalid("invalid account category %d", id)
	}
	if err != nil {
		return core.Internal(err, "load account category %d", id)
	}
	return nil
}

// normalizeCurrencies validates codes against the catalog and drops duplicates.
func (s *Accounts) normalizeCurrencies(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, core.Invalid("at least one currency is required")
	}
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code, err := s.currencies.Validate(ctx, raw)
		if err != nil {
			return nil, err
		}
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out, nil
}

// Create adds an account with a zero balance in every listed currency.
func (s *Accounts) Create(ctx context.Context, userID int64, in AccountInput) (core.Account, error) {
	name, err := cleanName(in.Name, "account")
	if err != nil {
		return core.Account{}, err
	}
	if in.CategoryID <= 0 {
		return core.Account{}, core.Invalid("account category is required")
	}
	codes, err := s.normalizeCurrencies(ctx, in.Currencies)
	if err != nil {
		return core.Account{}, err
	}

	var created core.Account
	err = s.store.WithTx(ctx, func(q storage.Querier) error {
		if err := accountCategoryExists(ctx, q, in.CategoryID); err != nil {
			return err
		}
		now := storage.Now()
		res, err := q.ExecContext(ctx,
			`INSERT INTO accounts (user_id, name, category_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			userID, name, in.CategoryID, now, now)
		if err != nil {
			return core.Internal(err, "insert account")
		}
		id, err := storage.LastInsertID(res)
		if err != nil {
			return core.Internal(err, "insert account")
		}
		for _, code := range codes {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO account_currencies (account_id, currency_code, balance) VALUES (?, ?, '0')`,
				id, code); err != nil {
				return core.Internal(err, "add currency %s to account %d", code, id)
			}
		}
		created, err = loadAccount(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Account{}, classify(err, "create account")
	}

	s.logger.InfoContext(ctx, "Account created",
		log.FieldUserID, userID, log.FieldAccountID, created.ID, "currencies", codes)
	return created, nil
}

func (s *Accounts) Get(ctx context.Context, userID, id int64) (core.Account, error) {
	return loadAccount(ctx, s.store, userID, id)
}

// List returns the user's accounts ordered by category and name.
func (s *Accounts) List(ctx context.Context, userID int64) ([]core.Account, error) {
	accounts, err := queryAccounts(ctx, s.store,
		`WHERE a.user_id = ? ORDER BY a.category_id, a.name, a.id, ac.currency_code`, userID)
	if err != nil {
		return nil, core.Internal(err, "list accounts")
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	return accounts, nil
}

// Update renames or recategorizes an account and adjusts its currencies.
// A currency can only be dropped while its balance is zero and no event
// refers to it on this account.
func (s *Accounts) Update(ctx context.Context, userID, id int64, p AccountPatch) (core.Account, error) {
	var (
		name  string
		codes []string
		err   error
	)
	if p.Name != nil {
		if name, err = cleanName(*p.Name, "account"); err != nil {
			return core.Account{}, err
		}
	}
	if p.Currencies != nil {
		if codes, err = s.normalizeCurrencies(ctx, p.Currencies); err != nil {
			return core.Account{}, err
		}
	}

	var updated core.Account
	err = s.store.WithTx(ctx, func(q storage.Querier) error {
		current, err := loadAccount(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if p.CategoryID != nil {
			if err := accountCategoryExists(ctx, q, *p.CategoryID); err != nil {
				return err
			}
		}

		if p.Name != nil || p.CategoryID != nil {
			if p.Name == nil {
				name = current.Name
			}
			categoryID := current.CategoryID
			if p.CategoryID != nil {
				categoryID = *p.CategoryID
			}
			if _, err := q.ExecContext(ctx,
				`UPDATE accounts SET name = ?, category_id = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
				name, categoryID, storage.Now(), id, userID); err != nil {
				return core.Internal(err, "update account %d", id)
			}
		}

		if codes != nil {
			if err := syncCurrencies(ctx, q, current, codes); err != nil {
				return err
			}
		}

		updated, err = loadAccount(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Account{}, classify(err, "update account %d", id)
	}

	s.logger.InfoContext(ctx, "Account updated", log.FieldUserID, userID, log.FieldAccountID, id)
	return updated, nil
}

func syncCurrencies(ctx context.Context, q storage.Querier, current core.Account, codes []string) error {
	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		want[code] = true
	}
	have := make(map[string]bool, len(current.Currencies))
	for _, ac := range current.Currencies {
		have[ac.Currency] = true
	}

	for _, ac := range current.Currencies {
		if want[ac.Currency] {
			continue
		}
		if !ac.Balance.IsZero() {
			return core.Invalid("cannot remove currency %s with non-zero balance", ac.Currency)
		}
		used, err := currencyInUse(ctx, q, current.ID, ac.Currency)
		if err != nil {
			return err
		}
		if used {
			return core.Invalid("cannot remove currency %s: transactions still use it", ac.Currency)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM account_currencies WHERE id = ?`, ac.ID); err != nil {
			return core.Internal(err, "remove currency %s from account %d", ac.Currency, current.ID)
		}
	}

	for _, code := range codes {
		if have[code] {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO account_currencies (account_id, currency_code, balance) VALUES (?, ?, '0')`,
			current.ID, code); err != nil {
			return core.Internal(err, "add currency %s to account %d", code, current.ID)
		}
	}
	return nil
}

func currencyInUse(ctx context.Context, q storage.Querier, accountID int64, code string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM events WHERE account_id = ? AND currency_code = ?)
		     + (SELECT COUNT(*) FROM transfers WHERE to_account_id = ? AND to_currency = ?)`,
		accountID, code, accountID, code).Scan(&n)
	if err != nil {
		return false, core.Internal(err, "count events for account %d %s", accountID, code)
	}
	return n > 0, nil
}

// Delete removes an account that no event refers to and that holds nothing.
func (s *Accounts) Delete(ctx context.Context, userID, id int64) error {
	err := s.store.WithTx(ctx, func(q storage.Querier) error {
		current, err := loadAccount(ctx, q, userID, id)
		if err != nil {
			return err
		}

		var n int
		err = q.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM events WHERE account_id = ?)
			     + (SELECT COUNT(*) FROM transfers WHERE to_account_id = ?)`,
			id, id).Scan(&n)
		if err != nil {
			return core.Internal(err, "count events for account %d", id)
		}
		if n > 0 {
			return core.Invalid("cannot delete account with transactions")
		}
		for _, ac := range current.Currencies {
			if !ac.Balance.IsZero() {
				return core.Invalid("cannot delete account with non-zero balance in %s", ac.Currency)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM account_currencies WHERE account_id = ?`, id); err != nil {
			return core.Internal(err, "delete currencies of account %d", id)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return core.Internal(err, "delete account %d", id)
		}
		return nil
	})
	if err != nil {
		return classify(err, "delete account %d", id)
	}

	s.logger.InfoContext(ctx, "Account deleted", log.FieldUserID, userID, log.FieldAccountID, id)
	return nil
}

// ListAccountCategories returns the fixed account groupings by name.
func (s *Accounts) ListAccountCategories(ctx context.Context) ([]core.AccountCategory, error) {
	rows, err := s.store.QueryContext(ctx, `SELECT id, name FROM account_categories ORDER BY name`)
	if err != nil {
		return nil, core.Internal(err, "list account categories")
	}
	defer rows.Close()

	out := []core.AccountCategory{}
	for rows.Next() {
		var c core.AccountCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, core.Internal(err, "scan account category")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal(err, "iterate account categories")
	}
	return out, nil
}
