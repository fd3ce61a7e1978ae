package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/amqp"
	"saldo/internal/ledger"
	"saldo/internal/log"
)

// BalanceAuditor recomputes a user's balances from their events.
type BalanceAuditor interface {
	Audit(ctx context.Context, userID int64) ([]ledger.Drift, error)
}

// UserLister enumerates every user id.
type UserLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

// Report summarizes one full audit pass.
type Report struct {
	Users   int
	Drifted map[int64][]ledger.Drift
}

// Auditor checks stored balances against the event history, either for the
// user named by a ledger notification or for everybody on a schedule.
type Auditor struct {
	engine  BalanceAuditor
	users   UserLister
	workers int
	logger  *log.Logger
}

func NewAuditor(engine BalanceAuditor, users UserLister, workers int, logger *log.Logger) *Auditor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentAudit)
	return &Auditor{
		engine:  engine,
		users:   users,
		workers: workers,
		logger:  logger,
	}
}

// CheckUser audits one user and logs every drift as an error.
func (a *Auditor) CheckUser(ctx context.Context, userID int64) ([]ledger.Drift, error) {
	drifts, err := a.engine.Audit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("audit user %d: %w", userID, err)
	}
	for _, d := range drifts {
		a.logger.ErrorContext(ctx, "Balance drift detected",
			log.FieldUserID, userID,
			log.FieldAccountID, d.AccountID,
			log.FieldCurrency, d.Currency,
			"stored", d.Stored.String(),
			"expected", d.Expected.String(),
			"supported", d.Supported)
	}
	if len(drifts) == 0 {
		a.logger.DebugContext(ctx, "Balances consistent", log.FieldUserID, userID)
	}
	return drifts, nil
}

// HandleLedgerEvent audits the user a consumed notification is about.
func (a *Auditor) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	a.logger.LedgerChange(ctx, string(msg.Action), msg.EventID, msg.UserID, string(msg.Kind))

	_, err := a.CheckUser(ctx, msg.UserID)
	return err
}

// AuditAll checks every user with at most workers audits in flight. The
// first failure cancels the pass.
func (a *Auditor) AuditAll(ctx context.Context) (Report, error) {
	ids, err := a.users.ListIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list users: %w", err)
	}

	var (
		mu     sync.Mutex
		report = Report{Users: len(ids), Drifted: map[int64][]ledger.Drift{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, id := range ids {
		g.Go(func() error {
			drifts, err := a.CheckUser(gctx, id)
			if err != nil {
				return err
			}
			if len(drifts) > 0 {
				mu.Lock()
				report.Drifted[id] = drifts
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// Run audits everybody now and then every interval until ctx is done.
func (a *Auditor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		report, err := a.AuditAll(ctx)
		if err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "Periodic audit failed", log.FieldOperation, log.OpAudit, log.FieldError, err)
		} else if err == nil {
			a.logger.InfoContext(ctx, "Periodic audit finished",
				"users", report.Users,
				"drifted_users", len(report.Drifted),
				log.FieldDuration, time.Since(start).Milliseconds())
		}

		select {
		case <-ctx.Done():
			a.logger.Info("Audit loop stopped")
			return
		case <-ticker.C:
		}
	}
}
