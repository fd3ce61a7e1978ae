package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/log"
)

type fakeEngine struct {
	mu       sync.Mutex
	drifts   map[int64][]ledger.Drift
	fail     map[int64]error
	audited  []int64
	inFlight int32
	peak     int32
	delay    time.Duration
}

func (f *fakeEngine) Audit(ctx context.Context, userID int64) ([]ledger.Drift, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.audited = append(f.audited, userID)
	f.mu.Unlock()

	if err := f.fail[userID]; err != nil {
		return nil, err
	}
	return f.drifts[userID], nil
}

type fakeUsers struct {
	ids []int64
	err error
}

func (f fakeUsers) ListIDs(context.Context) ([]int64, error) { return f.ids, f.err }

func quietLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func drift(account int64, stored, expected string) ledger.Drift {
	return ledger.Drift{
		AccountID: account, Currency: "USD", Supported: true,
		Stored: decimal.RequireFromString(stored), Expected: decimal.RequireFromString(expected),
	}
}

func TestAuditor_CheckUser(t *testing.T) {
	engine := &fakeEngine{drifts: map[int64][]ledger.Drift{2: {drift(5, "10", "7.5")}}}
	a := NewAuditor(engine, fakeUsers{}, 2, quietLogger())

	drifts, err := a.CheckUser(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, int64(5), drifts[0].AccountID)

	drifts, err = a.CheckUser(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestAuditor_CheckUserWrapsError(t *testing.T) {
	boom := errors.New("database is locked")
	a := NewAuditor(&fakeEngine{fail: map[int64]error{1: boom}}, fakeUsers{}, 1, quietLogger())

	_, err := a.CheckUser(context.Background(), 1)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "audit user 1")
}

func TestAuditor_HandleLedgerEvent(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAuditor(engine, fakeUsers{}, 1, quietLogger())

	msg := amqp.NewLedgerEventMessage(core.EventChange{
		Action: core.ActionDeleted, EventID: 9, UserID: 4, Kind: core.KindTransfer,
	})
	require.NoError(t, a.HandleLedgerEvent(context.Background(), msg))
	assert.Equal(t, []int64{4}, engine.audited)
}

func TestAuditor_AuditAll(t *testing.T) {
	engine := &fakeEngine{
		drifts: map[int64][]ledger.Drift{
			3: {drift(1, "0", "-20")},
			6: {drift(2, "5", "0"), drift(3, "1", "2")},
		},
		delay: 5 * time.Millisecond,
	}
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	a := NewAuditor(engine, fakeUsers{ids: ids}, 3, quietLogger())

	report, err := a.AuditAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, len(ids), report.Users)
	assert.Len(t, report.Drifted, 2)
	assert.Len(t, report.Drifted[6], 2)
	assert.ElementsMatch(t, ids, engine.audited)
	assert.LessOrEqual(t, atomic.LoadInt32(&engine.peak), int32(3))
}

func TestAuditor_AuditAllFailures(t *testing.T) {
	t.Run("listing users fails", func(t *testing.T) {
		a := NewAuditor(&fakeEngine{}, fakeUsers{err: errors.New("no such table: users")}, 2, quietLogger())
		_, err := a.AuditAll(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list users")
	})

	t.Run("one user fails", func(t *testing.T) {
		boom := errors.New("disk I/O error")
		engine := &fakeEngine{fail: map[int64]error{2: boom}}
		a := NewAuditor(engine, fakeUsers{ids: []int64{1, 2, 3}}, 1, quietLogger())
		_, err := a.AuditAll(context.Background())
		require.ErrorIs(t, err, boom)
	})
}

func TestNewAuditor_ClampsWorkers(t *testing.T) {
	a := NewAuditor(&fakeEngine{}, fakeUsers{}, 0, nil)
	assert.Equal(t, 1, a.workers)
}

func TestAuditor_RunStopsOnCancel(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAuditor(engine, fakeUsers{ids: []int64{1}}, 1, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.audited) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
