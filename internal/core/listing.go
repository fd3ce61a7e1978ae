package core

import "time"

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// EventFilter narrows an event listing. Zero values mean "any".
type EventFilter struct {
	From       Date
	To         Date
	Kind       EventKind
	AccountID  int64
	CategoryID int64
	Search     string
	Page       int
	Limit      int
}

// Normalize applies pagination defaults and caps.
func (f EventFilter) Normalize() EventFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	return f
}

func (f EventFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func NewPagination(total, page, limit int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

type EventPage struct {
	Events     []Event    `json:"transactions"`
	Pagination Pagination `json:"pagination"`
}

type ChangeAction string

const (
	ActionCreated ChangeAction = "created"
	ActionAmended ChangeAction = "amended"
	ActionDeleted ChangeAction = "deleted"
)

// EventChange describes a committed ledger mutation.
type EventChange struct {
	Action  ChangeAction
	EventID int64
	UserID  int64
	Kind    EventKind
	At      time.Time
}
