package http

import (
	"net/http"

	"saldo/internal/services"
)

type registerRequest struct {
	Name                string `json:"name"`
	Email               string `json:"email"`
	Password            string `json:"password"`
	PreferredCurrency   string `json:"preferred_currency"`
	PreferredDateFormat string `json:"preferred_date_format"`
	PreferredLanguage   string `json:"preferred_language"`
}

type profileRequest struct {
	Name                *string `json:"name"`
	Email               *string `json:"email"`
	Password            *string `json:"password"`
	PreferredCurrency   *string `json:"preferred_currency"`
	PreferredDateFormat *string `json:"preferred_date_format"`
	PreferredLanguage   *string `json:"preferred_language"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "register")
		return
	}

	user, err := s.deps.Users.Register(r.Context(), services.RegisterInput{
		Name:              sanitizeInput(req.Name),
		Email:             req.Email,
		Password:          req.Password,
		PreferredCurrency: req.PreferredCurrency,
		DateFormat:        req.PreferredDateFormat,
		Language:          req.PreferredLanguage,
	})
	if err != nil {
		s.fail(w, r, err, "register")
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(user).Write(w)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Users.Get(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		s.fail(w, r, err, "get profile")
		return
	}
	NewJSONResponse().Data(user).Write(w)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err, "update profile")
		return
	}

	user, err := s.deps.Users.UpdateProfile(r.Context(), currentUser(r.Context()).ID, services.ProfilePatch{
		Name:              sanitizePtr(req.Name),
		Email:             req.Email,
		Password:          req.Password,
		PreferredCurrency: req.PreferredCurrency,
		DateFormat:        req.PreferredDateFormat,
		Language:          req.PreferredLanguage,
	})
	if err != nil {
		s.fail(w, r, err, "update profile")
		return
	}
	NewJSONResponse().Data(user).Write(w)
}

func (s *Server) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Users.Delete(r.Context(), currentUser(r.Context()).ID); err != nil {
		s.fail(w, r, err, "delete user")
		return
	}
	NewJSONResponse().Message("User deleted successfully").Write(w)
}
