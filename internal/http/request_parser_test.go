package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"saldo/internal/core"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name      string     `json:"name"`
		AccountID *int64     `json:"account_id"`
		Amount    *Amount    `json:"amount"`
		Date      *core.Date `json:"transaction_date"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, p payload)
	}{
		{
			name: "object",
			body: `{"name":"Lunch","account_id":3,"amount":12.5,"transaction_date":"2024-05-01"}`,
			check: func(t *testing.T, p payload) {
				if p.Name != "Lunch" || p.AccountID == nil || *p.AccountID != 3 {
					t.Errorf("decoded %+v", p)
				}
				if p.Amount == nil || *p.Amount != "12.5" {
					t.Errorf("Amount = %v, want 12.5", p.Amount)
				}
				if p.Date == nil || p.Date.String() != "2024-05-01" {
					t.Errorf("Date = %v, want 2024-05-01", p.Date)
				}
			},
		},
		{
			name: "string amount keeps its text",
			body: `{"amount":"7,25"}`,
			check: func(t *testing.T, p payload) {
				if p.Amount == nil || *p.Amount != "7,25" {
					t.Errorf("Amount = %v, want 7,25", p.Amount)
				}
			},
		},
		{name: "empty body", body: "", wantErr: true},
		{name: "whitespace only", body: "  \n ", wantErr: true},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "truncated", body: `{"name":`, wantErr: true},
		{name: "trailing object", body: `{"name":"a"}{"name":"b"}`, wantErr: true},
		{name: "wrong field type", body: `{"account_id":"one"}`, wantErr: true},
		{name: "bad amount", body: `{"amount":true}`, wantErr: true},
		{name: "bad date", body: `{"transaction_date":"05/01/2024"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), req, &p)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if kind := core.KindOf(err); kind != core.KindInvalidInput {
					t.Errorf("KindOf = %q, want %q", kind, core.KindInvalidInput)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	body := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var p struct{ Name string }
	err := DecodeJSON(httptest.NewRecorder(), req, &p)
	if !core.IsKind(err, core.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if !strings.Contains(core.Message(err), "exceeds") {
		t.Errorf("message = %q", core.Message(err))
	}
}

func TestAmountDecimal(t *testing.T) {
	tests := []struct {
		in      Amount
		want    string
		wantErr bool
	}{
		{in: "10", want: "10"},
		{in: "0.01", want: "0.01"},
		{in: "12,34", want: "12.34"},
		{in: " 3.5 ", want: "3.5"},
		{in: "0", wantErr: true},
		{in: "-4", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := tt.in.Decimal("amount")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				if msg := core.Message(err); msg != "amount must be a positive number" {
					t.Errorf("message = %q", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Decimal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOptionalAmount(t *testing.T) {
	got, err := optionalAmount(nil, "amount")
	if err != nil || got != nil {
		t.Fatalf("optionalAmount(nil) = %v, %v", got, err)
	}

	a := Amount("2.50")
	got, err = optionalAmount(&a, "amount")
	if err != nil || got == nil || got.String() != "2.5" {
		t.Fatalf("optionalAmount(2.50) = %v, %v", got, err)
	}
}

func TestParseEventFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    core.EventFilter
		wantErr bool
	}{
		{
			name:  "defaults",
			query: "",
			want:  core.EventFilter{Page: 1, Limit: core.DefaultPageLimit},
		},
		{
			name:  "all filters",
			query: "startDate=2024-01-01&endDate=2024-01-31&type=Expense&accountId=4&categoryId=2&search=rent&page=3&limit=25",
			want: core.EventFilter{
				From:       core.NewDate(2024, 1, 1),
				To:         core.NewDate(2024, 1, 31),
				Kind:       core.KindExpense,
				AccountID:  4,
				CategoryID: 2,
				Search:     "rent",
				Page:       3,
				Limit:      25,
			},
		},
		{
			name:  "description is a search alias",
			query: "description=coffee",
			want:  core.EventFilter{Search: "coffee", Page: 1, Limit: core.DefaultPageLimit},
		},
		{
			name:  "limit is capped",
			query: "limit=100000",
			want:  core.EventFilter{Page: 1, Limit: core.MaxPageLimit},
		},
		{name: "bad date", query: "startDate=01/01/2024", wantErr: true},
		{name: "bad type", query: "type=refund", wantErr: true},
		{name: "negative account", query: "accountId=-1", wantErr: true},
		{name: "non numeric page", query: "page=two", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			got, err := ParseEventFilter(q)
			if tt.wantErr {
				if !core.IsKind(err, core.KindInvalidInput) {
					t.Fatalf("err = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseEventFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{query: "", want: 10},
		{query: "limit=3", want: 3},
		{query: "limit=0", wantErr: true},
		{query: "limit=x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := ParseLimit(q, 10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLimit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "42", want: 42},
		{raw: "0", wantErr: true},
		{raw: "-3", wantErr: true},
		{raw: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.SetPathValue("id", tt.raw)
			got, err := PathID(req, "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("PathID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PathID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello  ", "hello"},
		{"line\nbreak", "line\nbreak"},
		{"bell\x07char", "bellchar"},
		{"null\x00byte", "nullbyte"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
