// Package services holds the catalog around the ledger: users, currencies,
// accounts and categories.
package services

import (
	"context"
	"errors"
	"strings"

	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

const maxNameLength = 100

// Store is the row store the catalog services run against.
type Store interface {
	storage.Querier
	WithTx(ctx context.Context, fn func(q storage.Querier) error) error
}

func cleanName(name, what string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", core.Invalid("%s name is required", what)
	}
	if len(name) > maxNameLength {
		return "", core.Invalid("%s name too long (max %d characters)", what, maxNameLength)
	}
	return name, nil
}

func catalogLogger(l *log.Logger) *log.Logger {
	if l == nil {
		l = log.Default()
	}
	return l.WithComponent(log.ComponentCatalog)
}

// classify leaves classified errors alone and marks everything else internal.
func classify(err error, format string, args ...any) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.Internal(err, format, args...)
}
