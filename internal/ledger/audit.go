package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/storage"
)

// Drift is an account-currency whose stored balance differs from the sum of
// the effects of the events that touch it.
type Drift struct {
	AccountID   int64           `json:"account_id"`
	AccountName string          `json:"account_name"`
	Currency    string          `json:"currency_code"`
	Stored      decimal.Decimal `json:"stored"`
	Expected    decimal.Decimal `json:"expected"`
	Supported   bool            `json:"supported"`
}

type balanceKey struct {
	accountID int64
	currency  string
}

// Audit recomputes every balance of userID from the stored events and
// returns the ones that disagree. Balances start at zero and move only
// through event effects, so a healthy ledger yields no drift.
//
// Balances and events are read in one unit of work so that a change
// committed by another process between the two reads is never reported.
func (e *Engine) Audit(ctx context.Context, userID int64) ([]Drift, error) {
	var (
		stored, expected map[balanceKey]decimal.Decimal
		names            map[int64]string
	)
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		var err error
		if stored, names, err = storedBalances(ctx, q, userID); err != nil {
			return err
		}
		expected, err = expectedBalances(ctx, q, userID)
		return err
	})
	if err != nil {
		return nil, classify(err, "audit balances")
	}

	var drifts []Drift
	for key, bal := range stored {
		want := expected[key]
		if !bal.Equal(want) {
			drifts = append(drifts, Drift{
				AccountID: key.accountID, AccountName: names[key.accountID], Currency: key.currency,
				Stored: bal, Expected: want, Supported: true,
			})
		}
	}
	for key, want := range expected {
		if _, ok := stored[key]; !ok && !want.IsZero() {
			drifts = append(drifts, Drift{
				AccountID: key.accountID, AccountName: names[key.accountID], Currency: key.currency,
				Stored: decimal.Zero, Expected: want,
			})
		}
	}

	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].AccountID != drifts[j].AccountID {
			return drifts[i].AccountID < drifts[j].AccountID
		}
		return drifts[i].Currency < drifts[j].Currency
	})
	return drifts, nil
}

func storedBalances(ctx context.Context, q storage.Querier, userID int64) (map[balanceKey]decimal.Decimal, map[int64]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ac.account_id, a.name, ac.currency_code, ac.balance
		FROM account_currencies ac
		JOIN accounts a ON a.id = ac.account_id
		WHERE a.user_id = ?`, userID)
	if err != nil {
		return nil, nil, core.Internal(err, "query balances")
	}
	defer rows.Close()

	balances := make(map[balanceKey]decimal.Decimal)
	names := make(map[int64]string)
	for rows.Next() {
		var (
			key  balanceKey
			name string
			bal  decimal.Decimal
		)
		if err := rows.Scan(&key.accountID, &name, &key.currency, &bal); err != nil {
			return nil, nil, core.Internal(err, "scan balance")
		}
		balances[key] = bal
		names[key.accountID] = name
	}
	if err := rows.Err(); err != nil {
		return nil, nil, core.Internal(err, "iterate balances")
	}
	return balances, names, nil
}

func expectedBalances(ctx context.Context, q storage.Querier, userID int64) (map[balanceKey]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.id, e.kind, e.amount, e.currency_code, e.account_id,
		       t.from_account_id, t.from_currency, t.from_amount,
		       t.to_account_id, t.to_currency, t.to_amount
		FROM events e
		LEFT JOIN transfers t ON t.event_id = e.id
		WHERE e.user_id = ?`, userID)
	if err != nil {
		return nil, core.Internal(err, "query events for audit")
	}
	defer rows.Close()

	expected := make(map[balanceKey]decimal.Decimal)
	for rows.Next() {
		var (
			ev                   core.Event
			fromAcct, toAcct     *int64
			fromCur, toCur       *string
			fromAmount, toAmount decimal.NullDecimal
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Amount, &ev.Currency, &ev.AccountID,
			&fromAcct, &fromCur, &fromAmount, &toAcct, &toCur, &toAmount); err != nil {
			return nil, core.Internal(err, "scan event for audit")
		}
		if ev.Kind == core.KindTransfer {
			if fromAcct == nil || toAcct == nil || fromCur == nil || toCur == nil || !fromAmount.Valid || !toAmount.Valid {
				return nil, core.Internal(nil, "transfer %d has no leg record", ev.ID)
			}
			ev.Transfer = &core.Transfer{
				FromAccountID: *fromAcct, FromCurrency: *fromCur, FromAmount: fromAmount.Decimal,
				ToAccountID: *toAcct, ToCurrency: *toCur, ToAmount: toAmount.Decimal,
			}
		}
		effect, err := effectOf(ev)
		if err != nil {
			return nil, err
		}
		for _, d := range effect {
			key := balanceKey{accountID: d.AccountID, currency: d.Currency}
			expected[key] = expected[key].Add(d.Amount)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal(err, "iterate events for audit")
	}
	return expected, nil
}

func (d Drift) String() string {
	return fmt.Sprintf("account %d (%s) %s: stored %s, expected %s",
		d.AccountID, d.AccountName, d.Currency, d.Stored.String(), d.Expected.String())
}
