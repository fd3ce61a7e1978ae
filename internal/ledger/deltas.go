package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/storage"
)

// delta is the signed change one event makes to one account-currency balance.
type delta struct {
	AccountID int64
	Currency  string
	Amount    decimal.Decimal
}

func (d delta) String() string {
	return fmt.Sprintf("%s %s on account %d", d.Amount.String(), d.Currency, d.AccountID)
}

// simpleEffect returns the create-delta of an expense or income.
func simpleEffect(kind core.EventKind, accountID int64, currency string, amount decimal.Decimal) []delta {
	if kind == core.KindExpense {
		amount = amount.Neg()
	}
	return []delta{{AccountID: accountID, Currency: currency, Amount: amount}}
}

// transferEffect returns the create-deltas of a transfer: the source leg is
// debited and the destination leg credited, each in its own currency.
func transferEffect(fromAccount int64, fromCurrency string, fromAmount decimal.Decimal,
	toAccount int64, toCurrency string, toAmount decimal.Decimal) []delta {
	return []delta{
		{AccountID: fromAccount, Currency: fromCurrency, Amount: fromAmount.Neg()},
		{AccountID: toAccount, Currency: toCurrency, Amount: toAmount},
	}
}

// effectOf returns the create-deltas of a stored event.
func effectOf(ev core.Event) ([]delta, error) {
	switch {
	case ev.Kind.IsSimple():
		return simpleEffect(ev.Kind, ev.AccountID, ev.Currency, ev.Amount), nil
	case ev.Kind == core.KindTransfer:
		if ev.Transfer == nil {
			return nil, core.Internal(nil, "transfer %d has no leg record", ev.ID)
		}
		t := ev.Transfer
		return transferEffect(t.FromAccountID, t.FromCurrency, t.FromAmount,
			t.ToAccountID, t.ToCurrency, t.ToAmount), nil
	}
	return nil, core.Internal(nil, "event %d has unknown type %q", ev.ID, ev.Kind)
}

func reverse(ds []delta) []delta {
	out := make([]delta, len(ds))
	for i, d := range ds {
		out[i] = delta{AccountID: d.AccountID, Currency: d.Currency, Amount: d.Amount.Neg()}
	}
	return out
}

// netFor sums the deltas that touch one account-currency.
func netFor(ds []delta, accountID int64, currency string) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range ds {
		if d.AccountID == accountID && d.Currency == currency {
			sum = sum.Add(d.Amount)
		}
	}
	return sum
}

func applyDeltas(ctx context.Context, q storage.Querier, ds []delta) error {
	for _, d := range ds {
		if err := applyDelta(ctx, q, d); err != nil {
			return err
		}
	}
	return nil
}

// applyDelta adds d to its balance row. The update is conditioned on the
// balance it read, so a concurrent writer that slipped in between is reported
// instead of overwritten.
func applyDelta(ctx context.Context, q storage.Querier, d delta) error {
	var (
		id  int64
		raw string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, balance FROM account_currencies WHERE account_id = ? AND currency_code = ?`,
		d.AccountID, d.Currency).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Internal(nil, "balance row missing for %s", d)
	}
	if err != nil {
		return core.Internal(err, "read balance for %s", d)
	}

	current, err := decimal.NewFromString(raw)
	if err != nil {
		return core.Internal(err, "corrupt balance %q on account %d", raw, d.AccountID)
	}
	next := current.Add(d.Amount)

	res, err := q.ExecContext(ctx,
		`UPDATE account_currencies SET balance = ? WHERE id = ? AND balance = ?`,
		next.String(), id, raw)
	if err != nil {
		return core.Internal(err, "update balance for %s", d)
	}
	n, err := storage.RowsAffected(res)
	if err != nil {
		return core.Internal(err, "update balance for %s", d)
	}
	if n == 0 {
		return core.Internal(nil, "concurrent update of balance on account %d %s", d.AccountID, d.Currency)
	}
	return nil
}
