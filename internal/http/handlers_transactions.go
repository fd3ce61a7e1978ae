package http

import (
	"net/http"

	"saldo/internal/core"
	"saldo/internal/ledger"
)

const defaultRecentLimit = 10

type transactionRequest struct {
	Type            *string    `json:"type"`
	Amount          *Amount    `json:"amount"`
	CurrencyCode    *string    `json:"currency_code"`
	AccountID       *int64     `json:"account_id"`
	CategoryID      *int64     `json:"category_id"`
	Description     *string    `json:"description"`
	TransactionDate *core.Date `json:"transaction_date"`
}

type transferRequest struct {
	FromAccountID    *int64     `json:"from_account_id"`
	ToAccountID      *int64     `json:"to_account_id"`
	FromAmount       *Amount    `json:"from_amount"`
	FromCurrencyCode *string    `json:"from_currency_code"`
	ToAmount         *Amount    `json:"to_amount"`
	ToCurrencyCode   *string    `json:"to_currency_code"`
	Description      *string    `json:"description"`
	TransactionDate  *core.Date `json:"transaction_date"`
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (req transactionRequest) input() (ledger.SimpleEventInput, error) {
	if req.Type == nil {
		return ledger.SimpleEventInput{}, core.Invalid("Valid transaction type (expense/income) is required")
	}
	kind, err := core.ParseEventKind(*req.Type)
	if err != nil || !kind.IsSimple() {
		return ledger.SimpleEventInput{}, core.Invalid("Valid transaction type (expense/income) is required")
	}
	if req.Amount == nil {
		return ledger.SimpleEventInput{}, core.Invalid("amount is required")
	}
	amount, err := req.Amount.Decimal("amount")
	if err != nil {
		return ledger.SimpleEventInput{}, err
	}
	return ledger.SimpleEventInput{
		Kind:       kind,
		Amount:     amount,
		Currency:   deref(req.CurrencyCode),
		AccountID:  deref(req.AccountID),
		CategoryID: deref(req.CategoryID),
		Date:       deref(req.TransactionDate),
		Note:       sanitizeInput(deref(req.Description)),
	}, nil
}

func (req transactionRequest) patch() (ledger.SimpleEventPatch, error) {
	p := ledger.SimpleEventPatch{
		Currency:   req.CurrencyCode,
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		Date:       req.TransactionDate,
		Note:       sanitizePtr(req.Description),
	}
	if req.Type != nil {
		kind, err := core.ParseEventKind(*req.Type)
		if err != nil {
			return p, core.Invalid("invalid transaction type %q", *req.Type)
		}
		p.Kind = &kind
	}
	var err error
	p.Amount, err = optionalAmount(req.Amount, "amount")
	return p, err
}

func (req transferRequest) input() (ledger.TransferInput, error) {
	if req.FromAmount == nil || req.ToAmount == nil {
		return ledger.TransferInput{}, core.Invalid("from_amount and to_amount are required")
	}
	from, err := req.FromAmount.Decimal("from_amount")
	if err != nil {
		return ledger.TransferInput{}, err
	}
	to, err := req.ToAmount.Decimal("to_amount")
	if err != nil {
		return ledger.TransferInput{}, err
	}
	return ledger.TransferInput{
		FromAccountID: deref(req.FromAccountID),
		FromCurrency:  deref(req.FromCurrencyCode),
		FromAmount:    from,
		ToAccountID:   deref(req.ToAccountID),
		ToCurrency:    deref(req.ToCurrencyCode),
		ToAmount:      to,
		Date:          deref(req.TransactionDate),
		Note:          sanitizeInput(deref(req.Description)),
	}, nil
}

func (req transferRequest) patch() (ledger.TransferPatch, error) {
	p := ledger.TransferPatch{
		FromAccountID: req.FromAccountID,
		FromCurrency:  req.FromCurrencyCode,
		ToAccountID:   req.ToAccountID,
		ToCurrency:    req.ToCurrencyCode,
		Date:          req.TransactionDate,
		Note:          sanitizePtr(req.Description),
	}
	var err error
	if p.FromAmount, err = optionalAmount(req.FromAmount, "from_amount"); err != nil {
		return p, err
	}
	p.ToAmount, err = optionalAmount(req.ToAmount, "to_amount")
	return p, err
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := ParseEventFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err, "list transactions")
		return
	}
	page, err := s.deps.Ledger.ListEvents(r.Context(), currentUser(r.Context()).ID, f)
	if err != nil {
		s.fail(w, r, err, "list transactions")
		return
	}
	NewJSONResponse().Data(page).Write(w)
}

func (s *Server) handleRecentTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := ParseLimit(r.URL.Query(), defaultRecentLimit)
	if err != nil {
		s.fail(w, r, err, "recent transactions")
		return
	}
	events, err := s.deps.Ledger.RecentEvents(r.Context(), currentUser(r.Context()).ID, n)
	if err != nil {
		s.fail(w, r, err, "recent transactions")
		return
	}
	NewJSONResponse().Data(events).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "get transaction")
		return
	}
	ev, found, err := s.deps.Ledger.GetEvent(r.Context(), currentUser(r.Context()).ID, id)
	if err != nil {
		s.fail(w, r, err, "get transaction")
		return
	}
	if !found {
		NotFoundError("Transaction not found").Write(w)
		return
	}
	NewJSONResponse().Data(ev).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "create transaction")
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err, "create transaction")
		return
	}
	ev, err := s.deps.Ledger.CreateSimpleEvent(r.Context(), currentUser(r.Context()).ID, in)
	if err != nil {
		s.fail(w, r, err, "create transaction")
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(ev).Write(w)
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "create transfer")
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err, "create transfer")
		return
	}
	ev, err := s.deps.Ledger.CreateTransfer(r.Context(), currentUser(r.Context()).ID, in)
	if err != nil {
		s.fail(w, r, err, "create transfer")
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(ev).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "update transaction")
		return
	}
	var req transactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "update transaction")
		return
	}
	p, err := req.patch()
	if err != nil {
		s.fail(w, r, err, "update transaction")
		return
	}
	ev, err := s.deps.Ledger.AmendSimpleEvent(r.Context(), currentUser(r.Context()).ID, id, p)
	if err != nil {
		s.fail(w, r, err, "update transaction")
		return
	}
	NewJSONResponse().Data(ev).Write(w)
}

func (s *Server) handleUpdateTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "update transfer")
		return
	}
	var req transferRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "update transfer")
		return
	}
	p, err := req.patch()
	if err != nil {
		s.fail(w, r, err, "update transfer")
		return
	}
	ev, err := s.deps.Ledger.AmendTransfer(r.Context(), currentUser(r.Context()).ID, id, p)
	if err != nil {
		s.fail(w, r, err, "update transfer")
		return
	}
	NewJSONResponse().Data(ev).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "delete transaction")
		return
	}
	deleted, err := s.deps.Ledger.DeleteEvent(r.Context(), currentUser(r.Context()).ID, id)
	if err != nil {
		s.fail(w, r, err, "delete transaction")
		return
	}
	if !deleted {
		NotFoundError("Transaction not found").Write(w)
		return
	}
	NewJSONResponse().Message("Transaction deleted successfully").Write(w)
}
