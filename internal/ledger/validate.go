package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/storage"
)

const maxNoteLength = 500

// SimpleEventInput is a fully specified expense or income.
type SimpleEventInput struct {
	Kind       core.EventKind
	Amount     decimal.Decimal
	Currency   string
	AccountID  int64
	CategoryID int64
	Date       core.Date
	Note       string
}

// TransferInput is a fully specified transfer between two accounts.
type TransferInput struct {
	FromAccountID int64
	FromCurrency  string
	FromAmount    decimal.Decimal
	ToAccountID   int64
	ToCurrency    string
	ToAmount      decimal.Decimal
	Date          core.Date
	Note          string
}

// SimpleEventPatch lists the fields to change on an expense or income; nil
// fields keep their stored value.
type SimpleEventPatch struct {
	Kind       *core.EventKind
	Amount     *decimal.Decimal
	Currency   *string
	AccountID  *int64
	CategoryID *int64
	Date       *core.Date
	Note       *string
}

// TransferPatch lists the fields to change on a transfer; nil fields keep
// their stored value.
type TransferPatch struct {
	FromAccountID *int64
	FromCurrency  *string
	FromAmount    *decimal.Decimal
	ToAccountID   *int64
	ToCurrency    *string
	ToAmount      *decimal.Decimal
	Date          *core.Date
	Note          *string
}

func (in SimpleEventInput) normalize() SimpleEventInput {
	in.Currency = core.NormalizeCurrency(in.Currency)
	in.Note = strings.TrimSpace(in.Note)
	return in
}

func (in TransferInput) normalize() TransferInput {
	in.FromCurrency = core.NormalizeCurrency(in.FromCurrency)
	in.ToCurrency = core.NormalizeCurrency(in.ToCurrency)
	in.Note = strings.TrimSpace(in.Note)
	return in
}

// resolve overlays the patch on a stored simple event.
func (p SimpleEventPatch) resolve(ev core.Event) SimpleEventInput {
	in := SimpleEventInput{
		Kind:       ev.Kind,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		AccountID:  ev.AccountID,
		CategoryID: ev.CategoryID,
		Date:       ev.Date,
		Note:       ev.Note,
	}
	if p.Amount != nil {
		in.Amount = *p.Amount
	}
	if p.Currency != nil {
		in.Currency = *p.Currency
	}
	if p.AccountID != nil {
		in.AccountID = *p.AccountID
	}
	if p.CategoryID != nil {
		in.CategoryID = *p.CategoryID
	}
	if p.Date != nil {
		in.Date = *p.Date
	}
	if p.Note != nil {
		in.Note = *p.Note
	}
	return in.normalize()
}

// resolve overlays the patch on a stored transfer.
func (p TransferPatch) resolve(ev core.Event) TransferInput {
	t := ev.Transfer
	in := TransferInput{
		FromAccountID: t.FromAccountID,
		FromCurrency:  t.FromCurrency,
		FromAmount:    t.FromAmount,
		ToAccountID:   t.ToAccountID,
		ToCurrency:    t.ToCurrency,
		ToAmount:      t.ToAmount,
		Date:          ev.Date,
		Note:          ev.Note,
	}
	if p.FromAccountID != nil {
		in.FromAccountID = *p.FromAccountID
	}
	if p.FromCurrency != nil {
		in.FromCurrency = *p.FromCurrency
	}
	if p.FromAmount != nil {
		in.FromAmount = *p.FromAmount
	}
	if p.ToAccountID != nil {
		in.ToAccountID = *p.ToAccountID
	}
	if p.ToCurrency != nil {
		in.ToCurrency = *p.ToCurrency
	}
	if p.ToAmount != nil {
		in.ToAmount = *p.ToAmount
	}
	if p.Date != nil {
		in.Date = *p.Date
	}
	if p.Note != nil {
		in.Note = *p.Note
	}
	return in.normalize()
}

func checkSimpleShape(in SimpleEventInput) error {
	if !in.Kind.IsSimple() {
		return core.Invalid("type must be expense or income, got %q", in.Kind)
	}
	if err := core.ValidateAmount(in.Amount); err != nil {
		return core.Invalid("amount must be greater than zero")
	}
	if in.Currency == "" {
		return core.Invalid("currency is required")
	}
	if in.AccountID <= 0 {
		return core.Invalid("account is required")
	}
	if in.CategoryID <= 0 {
		return core.Invalid("category is required")
	}
	if in.Date.IsZero() {
		return core.Invalid("date is required")
	}
	if len(in.Note) > maxNoteLength {
		return core.Invalid("description too long (max %d characters)", maxNoteLength)
	}
	return nil
}

func checkTransferShape(in TransferInput) error {
	if in.FromAccountID <= 0 || in.ToAccountID <= 0 {
		return core.Invalid("source and destination accounts are required")
	}
	if in.FromCurrency == "" || in.ToCurrency == "" {
		return core.Invalid("source and destination currencies are required")
	}
	if core.ValidateAmount(in.FromAmount) != nil || core.ValidateAmount(in.ToAmount) != nil {
		return core.Invalid("transfer amounts must be greater than zero")
	}
	if in.FromAccountID == in.ToAccountID {
		return core.Invalid("source and destination accounts must differ")
	}
	if in.Date.IsZero() {
		return core.Invalid("date is required")
	}
	if len(in.Note) > maxNoteLength {
		return core.Invalid("description too long (max %d characters)", maxNoteLength)
	}
	return nil
}

type accountRef struct {
	ID     int64
	UserID int64
	Found  bool
}

type categoryRef struct {
	ID     int64
	UserID sql.NullInt64
	Kind   core.CategoryKind
	Found  bool
}

type balanceRef struct {
	Balance decimal.Decimal
	Found   bool
}

func lookupAccount(ctx context.Context, q storage.Querier, id int64) (accountRef, error) {
	ref := accountRef{ID: id}
	err := q.QueryRowContext(ctx, `SELECT user_id FROM accounts WHERE id = ?`, id).Scan(&ref.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return ref, nil
	}
	if err != nil {
		return ref, core.Internal(err, "look up account %d", id)
	}
	ref.Found = true
	return ref, nil
}

func lookupCategory(ctx context.Context, q storage.Querier, id int64) (categoryRef, error) {
	ref := categoryRef{ID: id}
	err := q.QueryRowContext(ctx, `SELECT user_id, kind FROM categories WHERE id = ?`, id).
		Scan(&ref.UserID, &ref.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ref, nil
	}
	if err != nil {
		return ref, core.Internal(err, "look up category %d", id)
	}
	ref.Found = true
	return ref, nil
}

func currencyExists(ctx context.Context, q storage.Querier, code string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM currencies WHERE code = ?`, code).Scan(&n); err != nil {
		return false, core.Internal(err, "look up currency %s", code)
	}
	return n > 0, nil
}

func lookupBalance(ctx context.Context, q storage.Querier, accountID int64, currency string) (balanceRef, error) {
	var (
		ref balanceRef
		raw string
	)
	err := q.QueryRowContext(ctx,
		`SELECT balance FROM account_currencies WHERE account_id = ? AND currency_code = ?`,
		accountID, currency).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ref, nil
	}
	if err != nil {
		return ref, core.Internal(err, "read balance of account %d %s", accountID, currency)
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return ref, core.Internal(err, "corrupt balance %q on account %d", raw, accountID)
	}
	ref.Balance = bal
	ref.Found = true
	return ref, nil
}

func checkAccountOwner(ref accountRef, userID int64) error {
	if ref.Found && ref.UserID != userID {
		return core.Forbidden("account %d belongs to another user", ref.ID)
	}
	return nil
}

// validateSimple runs every check for an expense or income in order, stopping
// at the first failure. It only reads.
func validateSimple(ctx context.Context, q storage.Querier, userID int64, in SimpleEventInput) error {
	if err := checkSimpleShape(in); err != nil {
		return err
	}

	account, err := lookupAccount(ctx, q, in.AccountID)
	if err != nil {
		return err
	}
	category, err := lookupCategory(ctx, q, in.CategoryID)
	if err != nil {
		return err
	}

	if err := checkAccountOwner(account, userID); err != nil {
		return err
	}
	if category.Found && category.UserID.Valid && category.UserID.Int64 != userID {
		return core.Forbidden("category %d belongs to another user", in.CategoryID)
	}

	if !account.Found {
		return core.NotFound("account %d not found", in.AccountID)
	}
	want, _ := in.Kind.CategoryKind()
	if !category.Found || category.Kind != want {
		return core.NotFound("%s category %d not found", want, in.CategoryID)
	}
	ok, err := currencyExists(ctx, q, in.Currency)
	if err != nil {
		return err
	}
	if !ok {
		return core.NotFound("currency %s not found", in.Currency)
	}

	bal, err := lookupBalance(ctx, q, in.AccountID, in.Currency)
	if err != nil {
		return err
	}
	if !bal.Found {
		return core.Invalid("account %d does not support currency %s", in.AccountID, in.Currency)
	}
	return nil
}

// validateTransfer runs every check for a transfer. pending holds the deltas
// that will be applied before this transfer in the same unit of work (the
// reversal of the stored transfer when amending), so sufficiency is judged
// against the balance as it will be at that point.
func validateTransfer(ctx context.Context, q storage.Querier, userID int64, in TransferInput, pending []delta) error {
	if err := checkTransferShape(in); err != nil {
		return err
	}

	from, err := lookupAccount(ctx, q, in.FromAccountID)
	if err != nil {
		return err
	}
	to, err := lookupAccount(ctx, q, in.ToAccountID)
	if err != nil {
		return err
	}

	if err := checkAccountOwner(from, userID); err != nil {
		return err
	}
	if err := checkAccountOwner(to, userID); err != nil {
		return err
	}

	if !from.Found {
		return core.NotFound("source account %d not found", in.FromAccountID)
	}
	if !to.Found {
		return core.NotFound("destination account %d not found", in.ToAccountID)
	}
	for _, code := range []string{in.FromCurrency, in.ToCurrency} {
		ok, err := currencyExists(ctx, q, code)
		if err != nil {
			return err
		}
		if !ok {
			return core.NotFound("currency %s not found", code)
		}
	}

	fromBal, err := lookupBalance(ctx, q, in.FromAccountID, in.FromCurrency)
	if err != nil {
		return err
	}
	if !fromBal.Found {
		return core.Invalid("source account %d does not support currency %s", in.FromAccountID, in.FromCurrency)
	}
	toBal, err := lookupBalance(ctx, q, in.ToAccountID, in.ToCurrency)
	if err != nil {
		return err
	}
	if !toBal.Found {
		return core.Invalid("destination account %d does not support currency %s", in.ToAccountID, in.ToCurrency)
	}

	available := fromBal.Balance.Add(netFor(pending, in.FromAccountID, in.FromCurrency))
	if available.LessThan(in.FromAmount) {
		return core.Insufficient("insufficient balance in account %d: available %s %s, requested %s %s",
			in.FromAccountID, available.String(), in.FromCurrency, in.FromAmount.String(), in.FromCurrency)
	}
	return nil
}
