package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
	FieldOperation  = "operation"
	FieldUserID     = "user_id"
	FieldEventID    = "event_id"
	FieldEventKind  = "event_kind"
	FieldAccountID  = "account_id"
	FieldCategoryID = "category_id"
	FieldCurrency   = "currency"
	FieldAmount     = "amount"
	FieldAction     = "action"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentCatalog   = "catalog"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentAudit     = "audit"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentAuth      = "auth"
)

// Operations defines standard operation names
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpAudit  = "audit"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithUser adds the acting user; zero is omitted.
func (f LogFields) WithUser(userID int64) LogFields {
	if userID != 0 {
		f[FieldUserID] = userID
	}
	return f
}

// WithEventID adds the ledger event id; zero is omitted.
func (f LogFields) WithEventID(id int64) LogFields {
	if id != 0 {
		f[FieldEventID] = id
	}
	return f
}

// WithEvent adds ledger event fields
func (f LogFields) WithEvent(id, userID int64, kind, amount, currency string) LogFields {
	f.WithEventID(id).WithUser(userID)
	f[FieldEventKind] = kind
	f[FieldAmount] = amount
	f[FieldCurrency] = currency
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
