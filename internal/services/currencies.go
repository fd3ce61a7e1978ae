package services

import (
	"context"
	"fmt"
	"time"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/storage"
)

const currencyListKey = "all"

// Currencies serves the currency catalog from a short-lived cache.
type Currencies struct {
	q      storage.Querier
	lru    *cache.LRUCache[[]core.Currency]
	loader *cache.Loader[[]core.Currency]
	logger *log.Logger
}

func NewCurrencies(q storage.Querier, ttl time.Duration, logger *log.Logger) *Currencies {
	c := &Currencies{
		q:      q,
		lru:    cache.NewLRUCache[[]core.Currency](1, ttl),
		logger: catalogLogger(logger),
	}
	c.loader = cache.NewLoader[[]core.Currency](c.lru, c.load)
	return c
}

// Cache exposes the backing cache for periodic sweeping.
func (c *Currencies) Cache() cache.Cleaner {
	return c.lru
}

func (c *Currencies) load(ctx context.Context, _ string) ([]core.Currency, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT code, name, symbol, decimals FROM currencies ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query currencies: %w", err)
	}
	defer rows.Close()

	var out []core.Currency
	for rows.Next() {
		var cur core.Currency
		if err := rows.Scan(&cur.Code, &cur.Name, &cur.Symbol, &cur.Decimals); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		if cur.Symbol == "" {
			cur.Symbol = core.CurrencySymbol(cur.Code)
		}
		out = append(out, cur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate currencies: %w", err)
	}

	c.logger.DebugContext(ctx, "Currency catalog loaded", "count", len(out))
	return out, nil
}

// List returns every known currency ordered by code.
func (c *Currencies) List(ctx context.Context) ([]core.Currency, error) {
	all, err := c.loader.Get(ctx, currencyListKey)
	if err != nil {
		return nil, core.Internal(err, "list currencies")
	}
	return all, nil
}

// Get returns one currency by code, case-insensitively.
func (c *Currencies) Get(ctx context.Context, code string) (core.Currency, error) {
	all, err := c.List(ctx)
	if err != nil {
		return core.Currency{}, err
	}
	code = core.NormalizeCurrency(code)
	for _, cur := range all {
		if cur.Code == code {
			return cur, nil
		}
	}
	return core.Currency{}, core.NotFound("currency %s not found", code)
}

// Validate normalizes code and checks it against the catalog.
func (c *Currencies) Validate(ctx context.Context, code string) (string, error) {
	code = core.NormalizeCurrency(code)
	if code == "" {
		return "", core.Invalid("currency code is required")
	}
	if _, err := c.Get(ctx, code); err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return "", core.Invalid("invalid currency code: %s", code)
		}
		return "", err
	}
	return code, nil
}

// Refresh drops the cached catalog.
func (c *Currencies) Refresh() {
	c.loader.Invalidate(currencyListKey)
}
