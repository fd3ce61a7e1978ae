package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

const maxBodyBytes = 1 << 20

// DecodeJSON reads a single JSON object from the request body into dst.
// Any failure is an invalid-input error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Invalid("request body exceeds %d bytes", tooLarge.Limit)
		}
		return core.Invalid("read request body: %v", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return core.Invalid("request body is required")
	}
	if body[0] != '{' {
		return core.Invalid("request body must be a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return core.Invalid("invalid value for %s", typeErr.Field)
		}
		if errors.Is(err, core.ErrInvalidDate) || errors.Is(err, core.ErrInvalidAmount) {
			return core.Invalid("%v", err)
		}
		return core.Invalid("malformed JSON body")
	}
	if dec.More() {
		return core.Invalid("request body must hold a single JSON object")
	}
	return nil
}

// PathID parses the named path wildcard as a positive id.
func PathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Invalid("invalid %s: %q", name, raw)
	}
	return id, nil
}

// Amount is a money amount that clients may send as a JSON number or
// string. Floats never touch it: the literal text is kept.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: %s", core.ErrInvalidAmount, b)
		}
		*a = Amount(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("%w: %s", core.ErrInvalidAmount, b)
	}
	*a = Amount(b)
	return nil
}

// Decimal parses the amount; zero and negative values are rejected.
func (a Amount) Decimal(field string) (decimal.Decimal, error) {
	d, err := core.ParseAmount(string(a))
	if err != nil {
		return decimal.Zero, core.Invalid("%s must be a positive number", field)
	}
	return d, nil
}

func optionalAmount(a *Amount, field string) (*decimal.Decimal, error) {
	if a == nil {
		return nil, nil
	}
	d, err := a.Decimal(field)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseEventFilter reads listing filters from the query string. Unknown
// parameters are ignored; malformed known ones are invalid input.
func ParseEventFilter(query url.Values) (core.EventFilter, error) {
	var f core.EventFilter

	date := func(name string) (core.Date, error) {
		v := strings.TrimSpace(query.Get(name))
		if v == "" {
			return core.Date{}, nil
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return core.Date{}, core.Invalid("invalid %s: %q", name, v)
		}
		return d, nil
	}
	number := func(name string) (int64, error) {
		v := strings.TrimSpace(query.Get(name))
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, core.Invalid("invalid %s: %q", name, v)
		}
		return n, nil
	}

	var err error
	if f.From, err = date("startDate"); err != nil {
		return f, err
	}
	if f.To, err = date("endDate"); err != nil {
		return f, err
	}
	if v := strings.TrimSpace(query.Get("type")); v != "" {
		if f.Kind, err = core.ParseEventKind(v); err != nil {
			return f, core.Invalid("invalid type: %q", v)
		}
	}
	if f.AccountID, err = number("accountId"); err != nil {
		return f, err
	}
	if f.CategoryID, err = number("categoryId"); err != nil {
		return f, err
	}

	page, err := number("page")
	if err != nil {
		return f, err
	}
	limit, err := number("limit")
	if err != nil {
		return f, err
	}
	f.Page, f.Limit = int(page), int(limit)

	f.Search = sanitizeInput(query.Get("search"))
	if f.Search == "" {
		f.Search = sanitizeInput(query.Get("description"))
	}
	return f.Normalize(), nil
}

// ParseLimit reads an optional positive limit, falling back to def.
func ParseLimit(query url.Values, def int) (int, error) {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, core.Invalid("invalid limit: %q", v)
	}
	return n, nil
}

// sanitizeInput trims and drops control characters other than tab and
// line breaks.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeInput(*s)
	return &v
}
