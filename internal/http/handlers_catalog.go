package http

import (
	"net/http"
	"strings"

	"saldo/internal/core"
	"saldo/internal/services"
)

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Currencies.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "list currencies")
		return
	}
	NewJSONResponse().Data(list).Write(w)
}

func (s *Server) handleGetCurrency(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Currencies.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		s.fail(w, r, err, "get currency")
		return
	}
	NewJSONResponse().Data(c).Write(w)
}

func (s *Server) handleListAccountCategories(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Accounts.ListAccountCategories(r.Context())
	if err != nil {
		s.fail(w, r, err, "list account categories")
		return
	}
	NewJSONResponse().Data(list).Write(w)
}

type accountRequest struct {
	Name       *string  `json:"name"`
	CategoryID *int64   `json:"category_id"`
	Currencies []string `json:"currencies"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Accounts.List(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		s.fail(w, r, err, "list accounts")
		return
	}
	NewJSONResponse().Data(list).Write(w)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "get account")
		return
	}
	a, err := s.deps.Accounts.Get(r.Context(), currentUser(r.Context()).ID, id)
	if err != nil {
		s.fail(w, r, err, "get account")
		return
	}
	NewJSONResponse().Data(a).Write(w)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "create account")
		return
	}
	if req.Name == nil || req.CategoryID == nil {
		BadRequestError("Account name and category are required").Write(w)
		return
	}

	a, err := s.deps.Accounts.Create(r.Context(), currentUser(r.Context()).ID, services.AccountInput{
		Name:       sanitizeInput(*req.Name),
		CategoryID: *req.CategoryID,
		Currencies: req.Currencies,
	})
	if err != nil {
		s.fail(w, r, err, "create account")
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(a).Write(w)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "update account")
		return
	}
	var req accountRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "update account")
		return
	}

	a, err := s.deps.Accounts.Update(r.Context(), currentUser(r.Context()).ID, id, services.AccountPatch{
		Name:       sanitizePtr(req.Name),
		CategoryID: req.CategoryID,
		Currencies: req.Currencies,
	})
	if err != nil {
		s.fail(w, r, err, "update account")
		return
	}
	NewJSONResponse().Data(a).Write(w)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "delete account")
		return
	}
	if err := s.deps.Accounts.Delete(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		s.fail(w, r, err, "delete account")
		return
	}
	NewJSONResponse().Message("Account deleted successfully").Write(w)
}

type categoryRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// handleListCategories lists one kind when ?type= is given and both
// otherwise, expenses first.
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r.Context()).ID

	kinds := []core.CategoryKind{core.CategoryExpense, core.CategoryIncome}
	if v := strings.TrimSpace(r.URL.Query().Get("type")); v != "" {
		kind, err := core.ParseCategoryKind(v)
		if err != nil {
			BadRequestError("Valid category type (expense/income) is required").Write(w)
			return
		}
		kinds = []core.CategoryKind{kind}
	}

	all := []core.Category{}
	for _, kind := range kinds {
		list, err := s.deps.Categories.List(r.Context(), userID, kind)
		if err != nil {
			s.fail(w, r, err, "list categories")
			return
		}
		all = append(all, list...)
	}
	NewJSONResponse().Data(all).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "create category")
		return
	}
	kind, err := core.ParseCategoryKind(req.Type)
	if err != nil {
		BadRequestError("Valid category type (expense/income) is required").Write(w)
		return
	}

	c, err := s.deps.Categories.Create(r.Context(), currentUser(r.Context()).ID, kind, sanitizeInput(req.Name))
	if err != nil {
		s.fail(w, r, err, "create category")
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(c).Write(w)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "update category")
		return
	}
	var req categoryRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "update category")
		return
	}

	c, err := s.deps.Categories.Update(r.Context(), currentUser(r.Context()).ID, id, sanitizeInput(req.Name))
	if err != nil {
		s.fail(w, r, err, "update category")
		return
	}
	NewJSONResponse().Data(c).Write(w)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, err, "delete category")
		return
	}
	if err := s.deps.Categories.Delete(r.Context(), currentUser(r.Context()).ID, id); err != nil {
		s.fail(w, r, err, "delete category")
		return
	}
	NewJSONResponse().Message("Category deleted successfully").Write(w)
}
