package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"saldo/internal/core"
	"saldo/internal/storage"
)

const eventColumns = `
	SELECT e.id, e.user_id, e.kind, e.amount, e.currency_code, e.account_id,
	       COALESCE(e.category_id, 0), e.note, e.event_date, e.created_at, e.updated_at,
	       a.name, cur.symbol, COALESCE(cat.name, '')
	FROM events e
	JOIN accounts a ON a.id = e.account_id
	JOIN currencies cur ON cur.code = e.currency_code
	LEFT JOIN categories cat ON cat.id = e.category_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(rs rowScanner) (core.Event, error) {
	var (
		ev                     core.Event
		date, created, updated string
	)
	err := rs.Scan(&ev.ID, &ev.UserID, &ev.Kind, &ev.Amount, &ev.Currency, &ev.AccountID,
		&ev.CategoryID, &ev.Note, &date, &created, &updated,
		&ev.AccountName, &ev.CurrencySymbol, &ev.CategoryName)
	if err != nil {
		return ev, err
	}
	d, err := core.ParseDate(date)
	if err != nil {
		return ev, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	ev.Date = d
	ev.CreatedAt = storage.ParseTimestamp(created)
	ev.UpdatedAt = storage.ParseTimestamp(updated)
	ev.DisplayAmount = core.FormatAmount(ev.Amount, ev.Currency)
	return ev, nil
}

// queryEvents runs eventColumns with the given tail and attaches transfer
// legs with one batched query.
func queryEvents(ctx context.Context, q storage.Querier, tail string, args ...any) ([]core.Event, error) {
	rows, err := q.QueryContext(ctx, eventColumns+" "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var events []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	if err := attachTransfers(ctx, q, events); err != nil {
		return nil, err
	}
	return events, nil
}

func attachTransfers(ctx context.Context, q storage.Querier, events []core.Event) error {
	var ids []int64
	index := make(map[int64]int)
	for i, ev := range events {
		if ev.Kind == core.KindTransfer {
			ids = append(ids, ev.ID)
			index[ev.ID] = i
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.event_id, t.from_account_id, t.from_currency, t.from_amount,
		       t.to_account_id, t.to_currency, t.to_amount,
		       fa.name, ta.name, fc.symbol, tc.symbol
		FROM transfers t
		JOIN accounts fa ON fa.id = t.from_account_id
		JOIN accounts ta ON ta.id = t.to_account_id
		JOIN currencies fc ON fc.code = t.from_currency
		JOIN currencies tc ON tc.code = t.to_currency
		WHERE t.event_id IN (`+storage.Placeholders(len(ids))+`)`, storage.Int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("query transfer legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t core.Transfer
		if err := rows.Scan(&t.ID, &t.EventID, &t.FromAccountID, &t.FromCurrency, &t.FromAmount,
			&t.ToAccountID, &t.ToCurrency, &t.ToAmount,
			&t.FromAccountName, &t.ToAccountName, &t.FromCurrencySymbol, &t.ToCurrencySymbol); err != nil {
			return fmt.Errorf("scan transfer leg: %w", err)
		}
		leg := t
		events[index[t.EventID]].Transfer = &leg
	}
	return rows.Err()
}

// loadEvent reads one event visible to userID.
func loadEvent(ctx context.Context, q storage.Querier, userID, id int64) (core.Event, bool, error) {
	events, err := queryEvents(ctx, q, `WHERE e.id = ? AND e.user_id = ?`, id, userID)
	if err != nil {
		return core.Event{}, false, err
	}
	if len(events) == 0 {
		return core.Event{}, false, nil
	}
	ev := events[0]
	if ev.Kind == core.KindTransfer && ev.Transfer == nil {
		return core.Event{}, false, core.Internal(nil, "transfer %d has no leg record", id)
	}
	return ev, true, nil
}

// reload re-reads an event just written inside the unit of work. Absence
// means storage lost the write, which must abort the unit of work.
func reload(ctx context.Context, q storage.Querier, userID, id int64) (core.Event, error) {
	ev, found, err := loadEvent(ctx, q, userID, id)
	if err != nil {
		return core.Event{}, core.Internal(err, "re-read event %d", id)
	}
	if !found {
		return core.Event{}, core.Internal(nil, "event %d missing after write", id)
	}
	return ev, nil
}

func insertSimpleEvent(ctx context.Context, q storage.Querier, userID int64, in SimpleEventInput) (int64, error) {
	now := storage.Now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (user_id, kind, amount, currency_code, account_id, category_id, note, event_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, string(in.Kind), in.Amount.String(), in.Currency, in.AccountID, in.CategoryID,
		in.Note, in.Date.String(), now, now)
	if err != nil {
		return 0, core.Internal(err, "insert event")
	}
	return storage.LastInsertID(res)
}

func insertTransferEvent(ctx context.Context, q storage.Querier, userID int64, in TransferInput) (int64, error) {
	now := storage.Now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (user_id, kind, amount, currency_code, account_id, category_id, note, event_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?)`,
		userID, string(core.KindTransfer), in.FromAmount.String(), in.FromCurrency, in.FromAccountID,
		in.Note, in.Date.String(), now, now)
	if err != nil {
		return 0, core.Internal(err, "insert event")
	}
	id, err := storage.LastInsertID(res)
	if err != nil {
		return 0, err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO transfers (event_id, from_account_id, from_currency, from_amount, to_account_id, to_currency, to_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.FromAccountID, in.FromCurrency, in.FromAmount.String(),
		in.ToAccountID, in.ToCurrency, in.ToAmount.String())
	if err != nil {
		return 0, core.Internal(err, "insert transfer leg")
	}
	return id, nil
}

func updateSimpleEvent(ctx context.Context, q storage.Querier, userID, id int64, in SimpleEventInput) error {
	res, err := q.ExecContext(ctx, `
		UPDATE events
		SET amount = ?, currency_code = ?, account_id = ?, category_id = ?, note = ?, event_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		in.Amount.String(), in.Currency, in.AccountID, in.CategoryID, in.Note, in.Date.String(), storage.Now(),
		id, userID)
	return expectOneRow(res, err, "update event %d", id)
}

func updateTransferEvent(ctx context.Context, q storage.Querier, userID, id int64, in TransferInput) error {
	res, err := q.ExecContext(ctx, `
		UPDATE events
		SET amount = ?, currency_code = ?, account_id = ?, note = ?, event_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		in.FromAmount.String(), in.FromCurrency, in.FromAccountID, in.Note, in.Date.String(), storage.Now(),
		id, userID)
	if err := expectOneRow(res, err, "update event %d", id); err != nil {
		return err
	}

	res, err = q.ExecContext(ctx, `
		UPDATE transfers
		SET from_account_id = ?, from_currency = ?, from_amount = ?, to_account_id = ?, to_currency = ?, to_amount = ?
		WHERE event_id = ?`,
		in.FromAccountID, in.FromCurrency, in.FromAmount.String(),
		in.ToAccountID, in.ToCurrency, in.ToAmount.String(), id)
	return expectOneRow(res, err, "update transfer leg of event %d", id)
}

func deleteEventRows(ctx context.Context, q storage.Querier, userID, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM transfers WHERE event_id = ?`, id); err != nil {
		return core.Internal(err, "delete transfer leg of event %d", id)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND user_id = ?`, id, userID)
	return expectOneRow(res, err, "delete event %d", id)
}

func expectOneRow(res sql.Result, err error, format string, args ...any) error {
	if err != nil {
		return core.Internal(err, format, args...)
	}
	n, err := storage.RowsAffected(res)
	if err != nil {
		return core.Internal(err, format, args...)
	}
	if n != 1 {
		return core.Internal(nil, "%s: %d rows affected", fmt.Sprintf(format, args...), n)
	}
	return nil
}

// eventFilterSQL turns a listing filter into a WHERE clause on events e.
func eventFilterSQL(userID int64, f core.EventFilter) (string, []any) {
	clauses := []string{"e.user_id = ?"}
	args := []any{userID}

	if !f.From.IsZero() {
		clauses = append(clauses, "e.event_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "e.event_date <= ?")
		args = append(args, f.To.String())
	}
	if f.Kind != "" {
		clauses = append(clauses, "e.kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.AccountID > 0 {
		clauses = append(clauses, "(e.account_id = ? OR e.id IN (SELECT event_id FROM transfers WHERE to_account_id = ?))")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.CategoryID > 0 {
		clauses = append(clauses, "e.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, `e.note LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(s)+"%")
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
