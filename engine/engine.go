// Package engine executes a single transfer end to end: duplicate-burst
// rejection, validation, the guarded debit, the credit and the ledger write.
//
// Everything from the first balance read to the ledger append runs inside one
// store unit, so a failure at any point leaves balances and ledger untouched.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/yashasviy/guarded-transfers-api/dedup"
	"github.com/yashasviy/guarded-transfers-api/models"
	"github.com/yashasviy/guarded-transfers-api/store"
)

// Engine runs transfers against a store, sharing one dedup window across
// all of them.
type Engine struct {
	store    store.Store
	window   *dedup.Window
	clock    Clock
	ids      IDGenerator
	log      *zap.Logger
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindow shares w instead of a window private to the engine.
func WithWindow(w *dedup.Window) Option {
	return func(e *Engine) { e.window = w }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator replaces the UUID transfer ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the logger for transfer outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver receives the outcome and latency of every attempt.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New builds an Engine. Without options it owns a fresh dedup window with
// default windows, the system clock and UUID transfer ids.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		clock:    systemClock{},
		ids:      UUIDGenerator{},
		log:      zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.window == nil {
		e.window = dedup.New()
	}
	return e
}

// now truncates to whole seconds, the resolution of dedup and ledger timestamps.
func (e *Engine) now() time.Time {
	return e.clock.Now().UTC().Truncate(time.Second)
}

// Transfer moves req.Amount from req.From to req.To. The returned error is
// always classifiable with KindOf; nothing is retried internally.
func (e *Engine) Transfer(ctx context.Context, req models.TransferRequest) (*models.TransferResult, error) {
	return e.run(ctx, dedup.Fingerprint(req.From, req.Amount), func() (models.TransferRequest, bool) {
		return req, valid(req)
	})
}

// Submit is Transfer for a request body whose fields have not been type
// checked. The attempt is fingerprinted from the textual form of its fields
// first, so a wrongly typed request still counts toward the window.
func (e *Engine) Submit(ctx context.Context, a models.TransferAttempt) (*models.TransferResult, error) {
	return e.run(ctx, dedup.Key(rawText(a.From), rawText(a.Amount)), func() (models.TransferRequest, bool) {
		return parseAttempt(a)
	})
}

func (e *Engine) run(ctx context.Context, fp string, parse func() (models.TransferRequest, bool)) (_ *models.TransferResult, err error) {
	start := time.Now()
	defer func() {
		e.observer.TransferObserved(KindOf(err), time.Since(start))
	}()

	initiated := e.now()
	log := e.log.With(zap.String("fingerprint", fp))

	// the window sees every attempt, including malformed ones
	if !e.window.Admit(fp, initiated) {
		log.Info("transfer rejected: duplicate within window")
		return nil, ErrRateLimited
	}

	req, ok := parse()
	if !ok {
		log.Info("transfer rejected: invalid input")
		return nil, ErrInvalidInput
	}
	log = log.With(
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.Int64("amount", req.Amount),
	)

	var res *models.TransferResult
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := e.apply(ctx, tx, req, initiated)
		res = r
		return err
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			if !errors.Is(err, ErrStorage) {
				err = storageErr("transfer unit", err)
			}
			log.Error("transfer failed", zap.Error(err))
			return nil, err
		}
		log.Info("transfer declined", zap.String("reason", string(KindOf(err))))
		return nil, err
	}

	log.Info("transfer completed", zap.String("transfer_id", res.ID))
	return res, nil
}

// apply runs inside the store unit.
func (e *Engine) apply(ctx context.Context, tx store.Tx, req models.TransferRequest, initiated time.Time) (*models.TransferResult, error) {
	accounts := []string{req.From, req.To}

	bal, err := tx.FetchBalances(ctx, accounts)
	if err != nil {
		return nil, storageErr("fetch balances", err)
	}
	// from == to resolves to a single row and lands here too
	if len(bal) < 2 {
		return nil, ErrAccountNotFound
	}

	// advisory only; the guarded debit below is authoritative
	if bal[req.From] < req.Amount {
		return nil, ErrInsufficientBalance
	}

	applied, err := tx.ConditionalDebit(ctx, req.From, req.Amount)
	if err != nil {
		return nil, storageErr("debit", err)
	}
	if !applied {
		// lost the race to a concurrent transfer from the same account
		return nil, ErrInsufficientBalance
	}

	if err := tx.Credit(ctx, req.To, req.Amount); err != nil {
		return nil, storageErr("credit", err)
	}

	bal, err = tx.FetchBalances(ctx, accounts)
	if err != nil {
		return nil, storageErr("refetch balances", err)
	}

	rec := models.TransferRecord{
		ID:         e.ids.NewID(),
		Amount:     req.Amount,
		AccountNo:  req.From,
		InitiateTS: initiated,
		CompleteTS: e.now(),
	}
	if err := tx.Append(ctx, rec); err != nil {
		return nil, storageErr("append ledger", err)
	}

	return &models.TransferResult{
		ID:               rec.ID,
		From:             models.AccountBalance{ID: req.From, Balance: bal[req.From]},
		To:               models.AccountRef{ID: req.To},
		Amount:           req.Amount,
		InitiateDatetime: rec.InitiateTS,
		CompleteDatetime: rec.CompleteTS,
	}, nil
}
