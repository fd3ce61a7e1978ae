package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindExpense  EventKind = "expense"
	KindIncome   EventKind = "income"
	KindTransfer EventKind = "transfer"
)

const (
	CategoryExpense CategoryKind = "expense"
	CategoryIncome  CategoryKind = "income"
)

// DateLayout is the storage and wire format of ledger dates.
const DateLayout = "2006-01-02"

type (
	EventKind    string
	CategoryKind string

	Date struct {
		time.Time
	}

	User struct {
		ID                  int64     `json:"id"`
		Name                string    `json:"name"`
		Email               string    `json:"email"`
		PasswordHash        string    `json:"-"`
		PreferredCurrency   string    `json:"preferred_currency"`
		PreferredDateFormat string    `json:"preferred_date_format"`
		PreferredLanguage   string    `json:"preferred_language"`
		CreatedAt           time.Time `json:"created_at"`
	}

	Currency struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	}

	AccountCategory struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	// AccountCurrency is the balance-bearing pair of an account and one
	// supported currency.
	AccountCurrency struct {
		ID        int64           `json:"id"`
		AccountID int64           `json:"account_id"`
		Currency  string          `json:"currency_code"`
		Symbol    string          `json:"currency_symbol"`
		Balance   decimal.Decimal `json:"balance"`
		Display   string          `json:"display_balance"`
	}

	Account struct {
		ID           int64             `json:"id"`
		UserID       int64             `json:"user_id"`
		Name         string            `json:"name"`
		CategoryID   int64             `json:"category_id"`
		CategoryName string            `json:"category_name"`
		Currencies   []AccountCurrency `json:"currencies"`
		CreatedAt    time.Time         `json:"created_at"`
		UpdatedAt    time.Time         `json:"updated_at"`
	}

	// Category is global when UserID is nil.
	Category struct {
		ID     int64        `json:"id"`
		UserID *int64       `json:"user_id"`
		Kind   CategoryKind `json:"type"`
		Name   string       `json:"name"`
	}

	// Transfer holds both legs of a transfer event. The source leg mirrors
	// the amount, currency and account stored on the event itself.
	Transfer struct {
		ID                 int64           `json:"id"`
		EventID            int64           `json:"transaction_id"`
		FromAccountID      int64           `json:"from_account_id"`
		FromCurrency       string          `json:"from_currency"`
		FromAmount         decimal.Decimal `json:"from_amount"`
		ToAccountID        int64           `json:"to_account_id"`
		ToCurrency         string          `json:"to_currency"`
		ToAmount           decimal.Decimal `json:"to_amount"`
		FromAccountName    string          `json:"from_account_name"`
		ToAccountName      string          `json:"to_account_name"`
		FromCurrencySymbol string          `json:"from_currency_symbol"`
		ToCurrencySymbol   string          `json:"to_currency_symbol"`
	}

	Event struct {
		ID             int64           `json:"id"`
		UserID         int64           `json:"user_id"`
		Kind           EventKind       `json:"type"`
		Amount         decimal.Decimal `json:"amount"`
		Currency       string          `json:"currency_code"`
		AccountID      int64           `json:"account_id"`
		CategoryID     int64           `json:"category_id,omitempty"`
		Note           string          `json:"description"`
		Date           Date            `json:"date"`
		CreatedAt      time.Time       `json:"created_at"`
		UpdatedAt      time.Time       `json:"updated_at"`
		AccountName    string          `json:"account_name"`
		CurrencySymbol string          `json:"currency_symbol"`
		CategoryName   string          `json:"category_name,omitempty"`
		DisplayAmount  string          `json:"display_amount"`
		Transfer       *Transfer       `json:"transfer,omitempty"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidKind     = errors.New("invalid event type")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrEmptyName       = errors.New("empty name")
)

// ParseEventKind accepts expense, income and transfer in any case.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
	return k, nil
}

func (k EventKind) Valid() bool {
	switch k {
	case KindExpense, KindIncome, KindTransfer:
		return true
	}
	return false
}

// IsSimple reports whether the event moves a single balance.
func (k EventKind) IsSimple() bool {
	return k == KindExpense || k == KindIncome
}

// CategoryKind returns the category scope matching a simple event kind.
func (k EventKind) CategoryKind() (CategoryKind, bool) {
	switch k {
	case KindExpense:
		return CategoryExpense, true
	case KindIncome:
		return CategoryIncome, true
	}
	return "", false
}

func ParseCategoryKind(s string) (CategoryKind, error) {
	k := CategoryKind(strings.ToLower(strings.TrimSpace(s)))
	if k != CategoryExpense && k != CategoryIncome {
		return "", fmt.Errorf("invalid category type %q", s)
	}
	return k, nil
}

// IsGlobal reports whether the category is shared by every user.
func (c Category) IsGlobal() bool {
	return c.UserID == nil
}

// OwnedBy reports whether userID owns the category.
func (c Category) OwnedBy(userID int64) bool {
	return c.UserID != nil && *c.UserID == userID
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(b))
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	// Accept full timestamps from clients that send them.
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			*d = NewDate(t.Year(), int(t.Month()), t.Day())
			return nil
		}
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Balance returns the balance held in currency, if the account supports it.
func (a Account) Balance(currency string) (decimal.Decimal, bool) {
	for _, ac := range a.Currencies {
		if ac.Currency == currency {
			return ac.Balance, true
		}
	}
	return decimal.Zero, false
}
