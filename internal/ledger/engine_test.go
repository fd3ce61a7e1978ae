package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"saldo/internal/core"
	"saldo/internal/storage"
)

// Seeded global categories.
const (
	foodCategory   int64 = 1
	salaryCategory int64 = 9
)

var errInjected = errors.New("injected failure")

// faultyQuerier fails any statement containing failOn.
type faultyQuerier struct {
	storage.Querier
	failOn string
}

func (f faultyQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if strings.Contains(query, f.failOn) {
		return nil, errInjected
	}
	return f.Querier.ExecContext(ctx, query, args...)
}

type faultyStore struct {
	*storage.DB
	failOn string
}

func (s faultyStore) WithTx(ctx context.Context, fn func(q storage.Querier) error) error {
	return s.DB.WithTx(ctx, func(q storage.Querier) error {
		return fn(faultyQuerier{Querier: q, failOn: s.failOn})
	})
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []core.EventChange
	err     error
}

func (n *recordingNotifier) NotifyEventChange(_ context.Context, change core.EventChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return n.err
}

type EngineTestSuite struct {
	suite.Suite
	db       *storage.DB
	engine   *Engine
	notifier *recordingNotifier
	ctx      context.Context

	alice, bob             int64
	wallet, savings, bobAC int64
	bobCategory            int64
}

func (s *EngineTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(s.T(), err, "failed to create test database")
	s.db = db
	s.ctx = context.Background()
	s.notifier = &recordingNotifier{}
	s.engine = NewEngine(db, WithNotifier(s.notifier))

	s.alice = s.insertUser("alice@example.com")
	s.bob = s.insertUser("bob@example.com")
	s.wallet = s.insertAccount(s.alice, "Wallet", "USD", "EUR")
	s.savings = s.insertAccount(s.alice, "Savings", "EUR")
	s.bobAC = s.insertAccount(s.bob, "Bob Checking", "USD")

	res, err := db.ExecContext(s.ctx, `INSERT INTO categories (user_id, kind, name) VALUES (?, 'expense', 'Hobbies')`, s.bob)
	require.NoError(s.T(), err)
	s.bobCategory, err = res.LastInsertId()
	require.NoError(s.T(), err)
}

func (s *EngineTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *EngineTestSuite) insertUser(email string) int64 {
	res, err := s.db.ExecContext(s.ctx,
		`INSERT INTO users (name, email, password_hash) VALUES (?, ?, 'x')`, email, email)
	require.NoError(s.T(), err)
	id, err := res.LastInsertId()
	require.NoError(s.T(), err)
	return id
}

func (s *EngineTestSuite) insertAccount(userID int64, name string, currencies ...string) int64 {
	res, err := s.db.ExecContext(s.ctx,
		`INSERT INTO accounts (user_id, name, category_id) VALUES (?, ?, 1)`, userID, name)
	require.NoError(s.T(), err)
	id, err := res.LastInsertId()
	require.NoError(s.T(), err)
	for _, code := range currencies {
		_, err := s.db.ExecContext(s.ctx,
			`INSERT INTO account_currencies (account_id, currency_code) VALUES (?, ?)`, id, code)
		require.NoError(s.T(), err)
	}
	return id
}

func (s *EngineTestSuite) balance(accountID int64, currency string) decimal.Decimal {
	var raw string
	err := s.db.QueryRowContext(s.ctx,
		`SELECT balance FROM account_currencies WHERE account_id = ? AND currency_code = ?`,
		accountID, currency).Scan(&raw)
	require.NoError(s.T(), err)
	return decimal.RequireFromString(raw)
}

func (s *EngineTestSuite) assertBalance(accountID int64, currency, want string) {
	s.T().Helper()
	got := s.balance(accountID, currency)
	assert.Truef(s.T(), got.Equal(dec(want)), "balance of account %d %s = %s, want %s", accountID, currency, got, want)
}

func (s *EngineTestSuite) countEvents() int {
	var n int
	require.NoError(s.T(), s.db.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM events`).Scan(&n))
	return n
}

func (s *EngineTestSuite) assertNoDrift(userID int64) {
	s.T().Helper()
	drifts, err := s.engine.Audit(s.ctx, userID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), drifts)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func (s *EngineTestSuite) expense(accountID int64, currency, amount string) core.Event {
	ev, err := s.engine.CreateSimpleEvent(s.ctx, s.alice, SimpleEventInput{
		Kind: core.KindExpense, Amount: dec(amount), Currency: currency,
		AccountID: accountID, CategoryID: foodCategory, Date: core.NewDate(2024, 3, 10),
	})
	require.NoError(s.T(), err)
	return ev
}

func (s *EngineTestSuite) income(accountID int64, currency, amount string) core.Event {
	ev, err := s.engine.CreateSimpleEvent(s.ctx, s.alice, SimpleEventInput{
		Kind: core.KindIncome, Amount: dec(amount), Currency: currency,
		AccountID: accountID, CategoryID: salaryCategory, Date: core.NewDate(2024, 3, 1),
	})
	require.NoError(s.T(), err)
	return ev
}

func (s *EngineTestSuite) transfer(from int64, fromCur, fromAmt string, to int64, toCur, toAmt string) (core.Event, error) {
	return s.engine.CreateTransfer(s.ctx, s.alice, TransferInput{
		FromAccountID: from, FromCurrency: fromCur, FromAmount: dec(fromAmt),
		ToAccountID: to, ToCurrency: toCur, ToAmount: dec(toAmt),
		Date: core.NewDate(2024, 3, 15),
	})
}

func (s *EngineTestSuite) TestIncomeAndExpenseMoveBalance() {
	in := s.income(s.wallet, "USD", "100")
	assert.Equal(s.T(), core.KindIncome, in.Kind)
	assert.Equal(s.T(), "Wallet", in.AccountName)
	assert.Equal(s.T(), "Salary", in.CategoryName)
	assert.Equal(s.T(), "$100.00", in.DisplayAmount)
	s.assertBalance(s.wallet, "USD", "100")

	s.expense(s.wallet, "USD", "30.50")
	s.assertBalance(s.wallet, "USD", "69.5")
	s.assertBalance(s.wallet, "EUR", "0")

	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestDecimalArithmeticIsExact() {
	s.income(s.wallet, "USD", "0.1")
	s.income(s.wallet, "USD", "0.2")
	s.assertBalance(s.wallet, "USD", "0.3")
}

func (s *EngineTestSuite) TestCurrencyIsNormalized() {
	ev, err := s.engine.CreateSimpleEvent(s.ctx, s.alice, SimpleEventInput{
		Kind: core.KindIncome, Amount: dec("5"), Currency: " usd ",
		AccountID: s.wallet, CategoryID: salaryCategory, Date: core.NewDate(2024, 1, 1),
		Note: "  bonus  ",
	})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "USD", ev.Currency)
	assert.Equal(s.T(), "bonus", ev.Note)
}

func (s *EngineTestSuite) TestExpenseAmendAndDeleteRestoreBalance() {
	ev := s.expense(s.wallet, "USD", "50")
	s.assertBalance(s.wallet, "USD", "-50")

	amended, err := s.engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{Amount: ptr(dec("75"))})
	require.NoError(s.T(), err)
	assert.True(s.T(), amended.Amount.Equal(dec("75")))
	s.assertBalance(s.wallet, "USD", "-75")

	deleted, err := s.engine.DeleteEvent(s.ctx, s.alice, ev.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), deleted)
	s.assertBalance(s.wallet, "USD", "0")
	assert.Equal(s.T(), 0, s.countEvents())

	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestAmendWithoutChangesIsIdempotent() {
	s.income(s.wallet, "USD", "40")
	ev := s.expense(s.wallet, "USD", "15")

	for i := 0; i < 3; i++ {
		_, err := s.engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{})
		require.NoError(s.T(), err)
	}
	s.assertBalance(s.wallet, "USD", "25")
	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestAmendMovesEffectBetweenCurrencies() {
	ev := s.expense(s.wallet, "USD", "20")

	_, err := s.engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{Currency: ptr("EUR")})
	require.NoError(s.T(), err)
	s.assertBalance(s.wallet, "USD", "0")
	s.assertBalance(s.wallet, "EUR", "-20")

	_, err = s.engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{AccountID: ptr(s.savings)})
	require.NoError(s.T(), err)
	s.assertBalance(s.wallet, "EUR", "0")
	s.assertBalance(s.savings, "EUR", "-20")

	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestAmendRejectsKindChange() {
	ev := s.expense(s.wallet, "USD", "20")

	_, err := s.engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{Kind: ptr(core.KindIncome)})
	assert.Equal(s.T(), core.KindInvalidInput, core.KindOf(err))

	s.income(s.wallet, "USD", "100")
	tr, err := s.transfer(s.wallet, "USD", "10", s.savings, "EUR", "9")
	require.NoError(s.T(), err)

	_, err = s.engine.AmendSimpleEvent(s.ctx, s.alice, tr.ID, SimpleEventPatch{Amount: ptr(dec("5"))})
	assert.Equal(s.T(), core.KindInvalidInput, core.KindOf(err))

	_, err = s.engine.AmendTransfer(s.ctx, s.alice, ev.ID, TransferPatch{FromAmount: ptr(dec("5"))})
	assert.Equal(s.T(), core.KindInvalidInput, core.KindOf(err))

	s.assertBalance(s.wallet, "USD", "70")
	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestTransferAcrossCurrenciesAndDelete() {
	s.income(s.wallet, "USD", "100")

	tr, err := s.transfer(s.wallet, "USD", "100", s.savings, "EUR", "90")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), tr.Transfer)
	assert.Equal(s.T(), core.KindTransfer, tr.Kind)
	assert.Equal(s.T(), "Savings", tr.Transfer.ToAccountName)
	assert.True(s.T(), tr.Transfer.ToAmount.Equal(dec("90")))
	s.assertBalance(s.wallet, "USD", "0")
	s.assertBalance(s.savings, "EUR", "90")
	s.assertNoDrift(s.alice)

	deleted, err := s.engine.DeleteEvent(s.ctx, s.alice, tr.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), deleted)
	s.assertBalance(s.wallet, "USD", "100")
	s.assertBalance(s.savings, "EUR", "0")

	var legs int
	require.NoError(s.T(), s.db.QueryRowContext(s.ctx, `SELECT COUNT(*) FROM transfers`).Scan(&legs))
	assert.Equal(s.T(), 0, legs)
}

func (s *EngineTestSuite) TestTransferInsufficientBalanceChangesNothing() {
	s.income(s.wallet, "USD", "50")
	before := s.countEvents()

	_, err := s.transfer(s.wallet, "USD", "60", s.savings, "EUR", "55")
	assert.Equal(s.T(), core.KindInsufficientBalance, core.KindOf(err))

	s.assertBalance(s.wallet, "USD", "50")
	s.assertBalance(s.savings, "EUR", "0")
	assert.Equal(s.T(), before, s.countEvents())
}

func (s *EngineTestSuite) TestTransferOfWholeBalanceIsAllowed() {
	s.income(s.wallet, "EUR", "12.34")
	_, err := s.transfer(s.wallet, "EUR", "12.34", s.savings, "EUR", "12.34")
	require.NoError(s.T(), err)
	s.assertBalance(s.wallet, "EUR", "0")
}

func (s *EngineTestSuite) TestAmendTransferJudgesBalanceAfterReversal() {
	s.income(s.wallet, "USD", "100")
	tr, err := s.transfer(s.wallet, "USD", "80", s.savings, "EUR", "70")
	require.NoError(s.T(), err)
	s.assertBalance(s.wallet, "USD", "20")

	// 90 exceeds the current 20 but not the 100 available once 80 is returned.
	amended, err := s.engine.AmendTransfer(s.ctx, s.alice, tr.ID, TransferPatch{
		FromAmount: ptr(dec("90")), ToAmount: ptr(dec("80")),
	})
	require.NoError(s.T(), err)
	assert.True(s.T(), amended.Transfer.FromAmount.Equal(dec("90")))
	s.assertBalance(s.wallet, "USD", "10")
	s.assertBalance(s.savings, "EUR", "80")

	_, err = s.engine.AmendTransfer(s.ctx, s.alice, tr.ID, TransferPatch{FromAmount: ptr(dec("110"))})
	assert.Equal(s.T(), core.KindInsufficientBalance, core.KindOf(err))
	s.assertBalance(s.wallet, "USD", "10")
	s.assertBalance(s.savings, "EUR", "80")

	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestAmendTransferChangesDestination() {
	s.income(s.wallet, "USD", "100")
	tr, err := s.transfer(s.wallet, "USD", "30", s.savings, "EUR", "27")
	require.NoError(s.T(), err)

	_, err = s.engine.AmendTransfer(s.ctx, s.alice, tr.ID, TransferPatch{
		ToAccountID: ptr(s.wallet), ToCurrency: ptr("EUR"),
	})
	assert.Equal(s.T(), core.KindInvalidInput, core.KindOf(err), "same account on both legs")

	other := s.insertAccount(s.alice, "Travel", "EUR")
	_, err = s.engine.AmendTransfer(s.ctx, s.alice, tr.ID, TransferPatch{ToAccountID: ptr(other)})
	require.NoError(s.T(), err)
	s.assertBalance(s.savings, "EUR", "0")
	s.assertBalance(other, "EUR", "27")
	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestSimpleEventErrorClassification() {
	base := SimpleEventInput{
		Kind: core.KindExpense, Amount: dec("10"), Currency: "USD",
		AccountID: s.wallet, CategoryID: foodCategory, Date: core.NewDate(2024, 3, 1),
	}

	tests := []struct {
		name   string
		mutate func(in *SimpleEventInput)
		want   core.Kind
	}{
		{"zero amount", func(in *SimpleEventInput) { in.Amount = decimal.Zero }, core.KindInvalidInput},
		{"negative amount", func(in *SimpleEventInput) { in.Amount = dec("-1") }, core.KindInvalidInput},
		{"transfer kind", func(in *SimpleEventInput) { in.Kind = core.KindTransfer }, core.KindInvalidInput},
		{"missing date", func(in *SimpleEventInput) { in.Date = core.Date{} }, core.KindInvalidInput},
		{"note too long", func(in *SimpleEventInput) { in.Note = strings.Repeat("x", maxNoteLength+1) }, core.KindInvalidInput},
		{"invalid shape beats ownership", func(in *SimpleEventInput) {
			in.Amount = decimal.Zero
			in.AccountID = s.bobAC
		}, core.KindInvalidInput},
		{"foreign account", func(in *SimpleEventInput) { in.AccountID = s.bobAC }, core.KindForbidden},
		{"ownership beats existence", func(in *SimpleEventInput) {
			in.AccountID = s.bobAC
			in.CategoryID = 9999
		}, core.KindForbidden},
		{"foreign category", func(in *SimpleEventInput) { in.CategoryID = s.bobCategory }, core.KindForbidden},
		{"missing account", func(in *SimpleEventInput) { in.AccountID = 9999 }, core.KindNotFound},
		{"missing category", func(in *SimpleEventInput) { in.CategoryID = 9999 }, core.KindNotFound},
		{"category of other kind", func(in *SimpleEventInput) { in.CategoryID = salaryCategory }, core.KindNotFound},
		{"unknown currency", func(in *SimpleEventInput) { in.Currency = "XYZ" }, core.KindNotFound},
		{"unsupported currency", func(in *SimpleEventInput) { in.Currency = "GBP" }, core.KindInvalidInput},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			in := base
			tt.mutate(&in)
			_, err := s.engine.CreateSimpleEvent(s.ctx, s.alice, in)
			require.Error(s.T(), err)
			assert.Equal(s.T(), tt.want, core.KindOf(err), "error: %v", err)
		})
	}

	assert.Equal(s.T(), 0, s.countEvents())
	s.assertBalance(s.wallet, "USD", "0")
}

func (s *EngineTestSuite) TestTransferErrorClassification() {
	s.income(s.wallet, "USD", "100")

	base := TransferInput{
		FromAccountID: s.wallet, FromCurrency: "USD", FromAmount: dec("10"),
		ToAccountID: s.savings, ToCurrency: "EUR", ToAmount: dec("9"),
		Date: core.NewDate(2024, 3, 1),
	}

	tests := []struct {
		name   string
		mutate func(in *TransferInput)
		want   core.Kind
	}{
		{"same account", func(in *TransferInput) { in.ToAccountID = s.wallet }, core.KindInvalidInput},
		{"zero destination amount", func(in *TransferInput) { in.ToAmount = decimal.Zero }, core.KindInvalidInput},
		{"foreign destination", func(in *TransferInput) {
			in.ToAccountID = s.bobAC
			in.ToCurrency = "USD"
		}, core.KindForbidden},
		{"missing source", func(in *TransferInput) { in.FromAccountID = 9999 }, core.KindNotFound},
		{"unsupported destination currency", func(in *TransferInput) { in.ToCurrency = "USD" }, core.KindInvalidInput},
		{"unsupported beats insufficient", func(in *TransferInput) {
			in.ToCurrency = "USD"
			in.FromAmount = dec("1000")
		}, core.KindInvalidInput},
		{"insufficient", func(in *TransferInput) { in.FromAmount = dec("100.01") }, core.KindInsufficientBalance},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			in := base
			tt.mutate(&in)
			_, err := s.engine.CreateTransfer(s.ctx, s.alice, in)
			require.Error(s.T(), err)
			assert.Equal(s.T(), tt.want, core.KindOf(err), "error: %v", err)
		})
	}

	s.assertBalance(s.wallet, "USD", "100")
	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestOtherUsersEventsAreInvisible() {
	ev := s.expense(s.wallet, "USD", "10")

	_, found, err := s.engine.GetEvent(s.ctx, s.bob, ev.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), found)

	deleted, err := s.engine.DeleteEvent(s.ctx, s.bob, ev.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), deleted)

	_, err = s.engine.AmendSimpleEvent(s.ctx, s.bob, ev.ID, SimpleEventPatch{Amount: ptr(dec("1"))})
	assert.Equal(s.T(), core.KindNotFound, core.KindOf(err))

	s.assertBalance(s.wallet, "USD", "-10")
}

func (s *EngineTestSuite) TestDeleteMissingEvent() {
	deleted, err := s.engine.DeleteEvent(s.ctx, s.alice, 4242)
	require.NoError(s.T(), err)
	assert.False(s.T(), deleted)
	assert.Empty(s.T(), s.notifier.changes)
}

func (s *EngineTestSuite) TestFailedWriteRollsBackDeltas() {
	s.income(s.wallet, "USD", "100")

	tests := []struct {
		name   string
		failOn string
		run    func(e *Engine) error
	}{
		{"expense insert", "INSERT INTO events", func(e *Engine) error {
			_, err := e.CreateSimpleEvent(s.ctx, s.alice, SimpleEventInput{
				Kind: core.KindExpense, Amount: dec("30"), Currency: "USD",
				AccountID: s.wallet, CategoryID: foodCategory, Date: core.NewDate(2024, 3, 2),
			})
			return err
		}},
		{"transfer leg insert", "INSERT INTO transfers", func(e *Engine) error {
			_, err := e.CreateTransfer(s.ctx, s.alice, TransferInput{
				FromAccountID: s.wallet, FromCurrency: "USD", FromAmount: dec("30"),
				ToAccountID: s.savings, ToCurrency: "EUR", ToAmount: dec("27"),
				Date: core.NewDate(2024, 3, 2),
			})
			return err
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			engine := NewEngine(faultyStore{DB: s.db, failOn: tt.failOn}, WithNotifier(s.notifier))
			err := tt.run(engine)
			require.Error(s.T(), err)
			assert.Equal(s.T(), core.KindInternal, core.KindOf(err))
			assert.ErrorIs(s.T(), err, errInjected)
		})
	}

	s.assertBalance(s.wallet, "USD", "100")
	s.assertBalance(s.savings, "EUR", "0")
	assert.Equal(s.T(), 1, s.countEvents())
	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestFailedAmendAndDeleteRollBack() {
	s.income(s.wallet, "USD", "100")
	ev := s.expense(s.wallet, "USD", "40")

	engine := NewEngine(faultyStore{DB: s.db, failOn: "UPDATE events"})
	_, err := engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{Amount: ptr(dec("10"))})
	assert.Equal(s.T(), core.KindInternal, core.KindOf(err))
	s.assertBalance(s.wallet, "USD", "60")

	engine = NewEngine(faultyStore{DB: s.db, failOn: "DELETE FROM events"})
	_, err = engine.DeleteEvent(s.ctx, s.alice, ev.ID)
	assert.Equal(s.T(), core.KindInternal, core.KindOf(err))
	s.assertBalance(s.wallet, "USD", "60")

	stored, found, err := s.engine.GetEvent(s.ctx, s.alice, ev.ID)
	require.NoError(s.T(), err)
	require.True(s.T(), found)
	assert.True(s.T(), stored.Amount.Equal(dec("40")))
	s.assertNoDrift(s.alice)
}

func (s *EngineTestSuite) TestNotifierSeesCommittedChanges() {
	ev := s.expense(s.wallet, "USD", "5")
	_, err := s.engine.AmendSimpleEvent(s.ctx, s.alice, ev.ID, SimpleEventPatch{Note: ptr("lunch")})
	require.NoError(s.T(), err)
	_, err = s.engine.DeleteEvent(s.ctx, s.alice, ev.ID)
	require.NoError(s.T(), err)

	// Rejected operations are not announced.
	_, err = s.engine.CreateSimpleEvent(s.ctx, s.alice, SimpleEventInput{Kind: core.KindExpense})
	require.Error(s.T(), err)

	require.Len(s.T(), s.notifier.changes, 3)
	actions := []core.ChangeAction{core.ActionCreated, core.ActionAmended, core.ActionDeleted}
	for i, change := range s.notifier.changes {
		assert.Equal(s.T(), actions[i], change.Action)
		assert.Equal(s.T(), ev.ID, change.EventID)
		assert.Equal(s.T(), s.alice, change.UserID)
		assert.Equal(s.T(), core.KindExpense, change.Kind)
	}
}

func (s *EngineTestSuite) TestNotifierFailureDoesNotUndoChange() {
	s.notifier.err = errors.New("broker down")

	ev := s.income(s.wallet, "USD", "12")
	s.assertBalance(s.wallet, "USD", "12")

	_, found, err := s.engine.GetEvent(s.ctx, s.alice, ev.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), found)
}

func (s *EngineTestSuite) TestListEventsFiltersAndPages() {
	create := func(kind core.EventKind, amount string, day int, note string) {
		category := foodCategory
		if kind == core.KindIncome {
			category = salaryCategory
		}
		_, err := s.engine.CreateSimpleEvent(s.ctx, s.alice, SimpleEventInput{
			Kind: kind, Amount: dec(amount), Currency: "USD", AccountID: s.wallet,
			CategoryID: category, Date: core.NewDate(2024, 5, day), Note: note,
		})
		require.NoError(s.T(), err)
	}
	create(core.KindIncome, "500", 1, "May salary")
	create(core.KindExpense, "12", 3, "groceries")
	create(core.KindExpense, "8", 5, "100% juice")
	create(core.KindExpense, "30", 7, "dinner")
	_, err := s.engine.CreateTransfer(s.ctx, s.alice, TransferInput{
		FromAccountID: s.wallet, FromCurrency: "USD", FromAmount: dec("50"),
		ToAccountID: s.savings, ToCurrency: "EUR", ToAmount: dec("45"),
		Date: core.NewDate(2024, 5, 9),
	})
	require.NoError(s.T(), err)

	page, err := s.engine.ListEvents(s.ctx, s.alice, core.EventFilter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), page.Events, 5)
	assert.Equal(s.T(), core.KindTransfer, page.Events[0].Kind, "newest first")
	assert.NotNil(s.T(), page.Events[0].Transfer)
	assert.Equal(s.T(), core.Pagination{Total: 5, Page: 1, Limit: core.DefaultPageLimit, Pages: 1}, page.Pagination)

	tests := []struct {
		name   string
		filter core.EventFilter
		want   int
	}{
		{"by kind", core.EventFilter{Kind: core.KindExpense}, 3},
		{"by date range", core.EventFilter{From: core.NewDate(2024, 5, 3), To: core.NewDate(2024, 5, 7)}, 3},
		{"transfer destination matches account", core.EventFilter{AccountID: s.savings}, 1},
		{"by category", core.EventFilter{CategoryID: salaryCategory}, 1},
		{"search", core.EventFilter{Search: "gro"}, 1},
		{"search escapes wildcards", core.EventFilter{Search: "100%"}, 1},
		{"search underscore is literal", core.EventFilter{Search: "_"}, 0},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			page, err := s.engine.ListEvents(s.ctx, s.alice, tt.filter)
			require.NoError(s.T(), err)
			assert.Len(s.T(), page.Events, tt.want)
			assert.Equal(s.T(), tt.want, page.Pagination.Total)
		})
	}

	page, err = s.engine.ListEvents(s.ctx, s.alice, core.EventFilter{Page: 2, Limit: 2})
	require.NoError(s.T(), err)
	assert.Len(s.T(), page.Events, 2)
	assert.Equal(s.T(), core.Pagination{Total: 5, Page: 2, Limit: 2, Pages: 3}, page.Pagination)

	recent, err := s.engine.RecentEvents(s.ctx, s.alice, 2)
	require.NoError(s.T(), err)
	require.Len(s.T(), recent, 2)
	assert.Equal(s.T(), "dinner", recent[1].Note)

	bobs, err := s.engine.ListEvents(s.ctx, s.bob, core.EventFilter{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), bobs.Events)
	assert.NotNil(s.T(), bobs.Events)
}

func (s *EngineTestSuite) TestListEventsRejectsBadFilters() {
	_, err := s.engine.ListEvents(s.ctx, s.alice, core.EventFilter{Kind: "loan"})
	assert.Equal(s.T(), core.KindInvalidInput, core.KindOf(err))

	_, err = s.engine.ListEvents(s.ctx, s.alice, core.EventFilter{
		From: core.NewDate(2024, 6, 1), To: core.NewDate(2024, 5, 1),
	})
	assert.Equal(s.T(), core.KindInvalidInput, core.KindOf(err))
}

func (s *EngineTestSuite) TestAuditReportsTamperedBalance() {
	s.income(s.wallet, "USD", "100")
	_, err := s.db.ExecContext(s.ctx,
		`UPDATE account_currencies SET balance = '99' WHERE account_id = ? AND currency_code = 'USD'`, s.wallet)
	require.NoError(s.T(), err)

	drifts, err := s.engine.Audit(s.ctx, s.alice)
	require.NoError(s.T(), err)
	require.Len(s.T(), drifts, 1)
	assert.Equal(s.T(), s.wallet, drifts[0].AccountID)
	assert.Equal(s.T(), "USD", drifts[0].Currency)
	assert.True(s.T(), drifts[0].Stored.Equal(dec("99")))
	assert.True(s.T(), drifts[0].Expected.Equal(dec("100")))
	assert.Contains(s.T(), drifts[0].String(), "Wallet")
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestDeltaHelpers(t *testing.T) {
	effect := transferEffect(1, "USD", dec("100"), 2, "EUR", dec("90"))
	if len(effect) != 2 {
		t.Fatalf("expected two deltas, got %d", len(effect))
	}
	if !netFor(effect, 1, "USD").Equal(dec("-100")) {
		t.Errorf("source leg = %s", netFor(effect, 1, "USD"))
	}

	back := reverse(effect)
	for i := range effect {
		if !effect[i].Amount.Add(back[i].Amount).IsZero() {
			t.Errorf("reverse did not negate delta %d", i)
		}
	}

	exp := simpleEffect(core.KindExpense, 3, "USD", dec("5"))
	inc := simpleEffect(core.KindIncome, 3, "USD", dec("5"))
	if !exp[0].Amount.Equal(dec("-5")) || !inc[0].Amount.Equal(dec("5")) {
		t.Errorf("unexpected simple effects: %v %v", exp, inc)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`c:\x`, `c:\\x`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
