// Package ledger records expenses, incomes and transfers against
// account-currency balances.
//
// Every mutation runs as one unit of work: validation reads, balance deltas,
// event rows, and a re-read of the result either all commit or none do.
// Amendments reverse the stored event's effect and then apply the new one;
// deletions apply the reversal only.
package ledger

import (
	"context"
	"errors"
	"time"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

// Store is the row store the engine runs against.
type Store interface {
	storage.Querier
	WithTx(ctx context.Context, fn func(q storage.Querier) error) error
}

// Notifier is told about every committed mutation. Notification failures are
// logged and never undo the mutation.
type Notifier interface {
	NotifyEventChange(ctx context.Context, change core.EventChange) error
}

type Engine struct {
	store    Store
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	e.logger = e.logger.WithComponent(log.ComponentLedger)
	return e
}

// CreateSimpleEvent records an expense or income and applies its delta.
func (e *Engine) CreateSimpleEvent(ctx context.Context, userID int64, in SimpleEventInput) (core.Event, error) {
	in = in.normalize()

	var created core.Event
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		if err := validateSimple(ctx, q, userID, in); err != nil {
			return err
		}
		if err := applyDeltas(ctx, q, simpleEffect(in.Kind, in.AccountID, in.Currency, in.Amount)); err != nil {
			return err
		}
		id, err := insertSimpleEvent(ctx, q, userID, in)
		if err != nil {
			return err
		}
		created, err = reload(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Event{}, e.fail(ctx, err, log.OpCreate, userID, 0)
	}

	e.logApplied(ctx, log.OpCreate, created)
	e.notify(ctx, core.ActionCreated, created)
	return created, nil
}

// CreateTransfer records a transfer and applies both leg deltas.
func (e *Engine) CreateTransfer(ctx context.Context, userID int64, in TransferInput) (core.Event, error) {
	in = in.normalize()

	var created core.Event
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		if err := validateTransfer(ctx, q, userID, in, nil); err != nil {
			return err
		}
		effect := transferEffect(in.FromAccountID, in.FromCurrency, in.FromAmount,
			in.ToAccountID, in.ToCurrency, in.ToAmount)
		if err := applyDeltas(ctx, q, effect); err != nil {
			return err
		}
		id, err := insertTransferEvent(ctx, q, userID, in)
		if err != nil {
			return err
		}
		created, err = reload(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Event{}, e.fail(ctx, err, log.OpCreate, userID, 0)
	}

	e.logApplied(ctx, log.OpCreate, created)
	e.notify(ctx, core.ActionCreated, created)
	return created, nil
}

// AmendSimpleEvent changes an expense or income in place by reversing its
// stored effect and applying the patched one.
func (e *Engine) AmendSimpleEvent(ctx context.Context, userID, id int64, p SimpleEventPatch) (core.Event, error) {
	var amended core.Event
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		stored, err := e.loadForChange(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if !stored.Kind.IsSimple() {
			return core.Invalid("transaction %d is a transfer", id)
		}
		if p.Kind != nil && *p.Kind != stored.Kind {
			return core.Invalid("transaction type cannot change from %s to %s", stored.Kind, *p.Kind)
		}

		in := p.resolve(stored)
		if err := validateSimple(ctx, q, userID, in); err != nil {
			return err
		}

		old, err := effectOf(stored)
		if err != nil {
			return err
		}
		if err := applyDeltas(ctx, q, reverse(old)); err != nil {
			return err
		}
		if err := applyDeltas(ctx, q, simpleEffect(in.Kind, in.AccountID, in.Currency, in.Amount)); err != nil {
			return err
		}
		if err := updateSimpleEvent(ctx, q, userID, id, in); err != nil {
			return err
		}
		amended, err = reload(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Event{}, e.fail(ctx, err, log.OpUpdate, userID, id)
	}

	e.logApplied(ctx, log.OpUpdate, amended)
	e.notify(ctx, core.ActionAmended, amended)
	return amended, nil
}

// AmendTransfer changes either or both legs of a transfer in place.
// Sufficiency of the source is judged after the stored transfer is reversed.
func (e *Engine) AmendTransfer(ctx context.Context, userID, id int64, p TransferPatch) (core.Event, error) {
	var amended core.Event
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		stored, err := e.loadForChange(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if stored.Kind != core.KindTransfer {
			return core.Invalid("transaction %d is not a transfer", id)
		}

		old, err := effectOf(stored)
		if err != nil {
			return err
		}
		reversal := reverse(old)

		in := p.resolve(stored)
		if err := validateTransfer(ctx, q, userID, in, reversal); err != nil {
			return err
		}

		if err := applyDeltas(ctx, q, reversal); err != nil {
			return err
		}
		effect := transferEffect(in.FromAccountID, in.FromCurrency, in.FromAmount,
			in.ToAccountID, in.ToCurrency, in.ToAmount)
		if err := applyDeltas(ctx, q, effect); err != nil {
			return err
		}
		if err := updateTransferEvent(ctx, q, userID, id, in); err != nil {
			return err
		}
		amended, err = reload(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Event{}, e.fail(ctx, err, log.OpUpdate, userID, id)
	}

	e.logApplied(ctx, log.OpUpdate, amended)
	e.notify(ctx, core.ActionAmended, amended)
	return amended, nil
}

// DeleteEvent reverses an event's effect and removes it. It reports false
// when no such event is visible to userID.
func (e *Engine) DeleteEvent(ctx context.Context, userID, id int64) (bool, error) {
	var (
		deleted core.Event
		found   bool
	)
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		stored, ok, err := loadEvent(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		old, err := effectOf(stored)
		if err != nil {
			return err
		}
		if err := applyDeltas(ctx, q, reverse(old)); err != nil {
			return err
		}
		if err := deleteEventRows(ctx, q, userID, id); err != nil {
			return err
		}
		deleted, found = stored, true
		return nil
	})
	if err != nil {
		return false, e.fail(ctx, err, log.OpDelete, userID, id)
	}
	if !found {
		return false, nil
	}

	e.logApplied(ctx, log.OpDelete, deleted)
	e.notify(ctx, core.ActionDeleted, deleted)
	return true, nil
}

// GetEvent returns the event with its transfer leg, if visible to userID.
// The event row and its leg are read in one unit of work.
func (e *Engine) GetEvent(ctx context.Context, userID, id int64) (core.Event, bool, error) {
	var (
		ev    core.Event
		found bool
	)
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		var err error
		ev, found, err = loadEvent(ctx, q, userID, id)
		return err
	})
	if err != nil {
		return core.Event{}, false, classify(err, "read event")
	}
	return ev, found, nil
}

// ListEvents returns one page of events ordered newest first. The total and
// the page come from the same snapshot.
func (e *Engine) ListEvents(ctx context.Context, userID int64, f core.EventFilter) (core.EventPage, error) {
	f = f.Normalize()
	if f.Kind != "" && !f.Kind.Valid() {
		return core.EventPage{}, core.Invalid("invalid type filter %q", f.Kind)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To.Time) {
		return core.EventPage{}, core.Invalid("start date is after end date")
	}

	where, args := eventFilterSQL(userID, f)

	var (
		total  int
		events []core.Event
	)
	err := e.store.WithTx(ctx, func(q storage.Querier) error {
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events e `+where, args...).Scan(&total); err != nil {
			return core.Internal(err, "count events")
		}
		pageArgs := append(append([]any{}, args...), f.Limit, f.Offset())
		var err error
		events, err = queryEvents(ctx, q, where+` ORDER BY e.event_date DESC, e.id DESC LIMIT ? OFFSET ?`, pageArgs...)
		return err
	})
	if err != nil {
		return core.EventPage{}, classify(err, "list events")
	}
	if events == nil {
		events = []core.Event{}
	}

	return core.EventPage{
		Events:     events,
		Pagination: core.NewPagination(total, f.Page, f.Limit),
	}, nil
}

// RecentEvents returns the n newest events.
func (e *Engine) RecentEvents(ctx context.Context, userID int64, n int) ([]core.Event, error) {
	page, err := e.ListEvents(ctx, userID, core.EventFilter{Page: 1, Limit: n})
	if err != nil {
		return nil, err
	}
	return page.Events, nil
}

func (e *Engine) loadForChange(ctx context.Context, q storage.Querier, userID, id int64) (core.Event, error) {
	stored, found, err := loadEvent(ctx, q, userID, id)
	if err != nil {
		return core.Event{}, err
	}
	if !found {
		return core.Event{}, core.NotFound("transaction %d not found", id)
	}
	return stored, nil
}

func (e *Engine) fail(ctx context.Context, err error, op string, userID, eventID int64) error {
	err = classify(err, op+" event")
	if core.KindOf(err) == core.KindInternal {
		fields := log.NewFields().
			WithUser(userID).
			WithEventID(eventID)
		e.logger.ErrorContext(ctx, "Ledger operation rolled back", fields.WithError(err).WithOperation(op).ToSlice()...)
	} else {
		e.logger.DebugContext(ctx, "Ledger operation rejected",
			log.FieldOperation, op, log.FieldUserID, userID, log.FieldErrorKind, string(core.KindOf(err)), log.FieldError, err)
	}
	return err
}

func (e *Engine) logApplied(ctx context.Context, op string, ev core.Event) {
	e.logger.InfoContext(ctx, "Ledger event applied", log.NewFields().
		WithOperation(op).
		WithEvent(ev.ID, ev.UserID, string(ev.Kind), ev.Amount.String(), ev.Currency).
		ToSlice()...)
}

func (e *Engine) notify(ctx context.Context, action core.ChangeAction, ev core.Event) {
	if e.notifier == nil {
		return
	}
	change := core.EventChange{
		Action:  action,
		EventID: ev.ID,
		UserID:  ev.UserID,
		Kind:    ev.Kind,
		At:      e.now(),
	}
	if err := e.notifier.NotifyEventChange(ctx, change); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish ledger change",
			log.FieldEventID, ev.ID, log.FieldError, err)
	}
}

// classify leaves classified errors alone and marks everything else internal.
func classify(err error, op string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.Internal(err, "%s", op)
}
