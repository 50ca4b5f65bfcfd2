// Package memory is an in-process store with the same atomic-unit semantics
// as the Postgres store. Units are serialized and their writes are staged
// until commit.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/yashasviy/guarded-transfers-api/models"
	"github.com/yashasviy/guarded-transfers-api/store"
)

// Store keeps balances and the ledger in process memory. Units run one at a
// time.
type Store struct {
	mu       sync.Mutex
	balances map[string]int64
	records  []models.TransferRecord
	ids      map[string]struct{}
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		balances: make(map[string]int64),
		ids:      make(map[string]struct{}),
	}
}

// Seed provisions (or resets) an account balance.
func (s *Store) Seed(id string, balance int64) error {
	if id == "" {
		return fmt.Errorf("memory: empty account id")
	}
	if balance < 0 {
		return fmt.Errorf("memory: negative balance %d for %s", balance, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = balance
	return nil
}

// Balance returns the committed balance of id.
func (s *Store) Balance(id string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	return b, ok
}

// Records returns a copy of the committed ledger.
func (s *Store) Records() []models.TransferRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TransferRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, staged: make(map[string]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, bal := range tx.staged {
		s.balances[id] = bal
	}
	for _, rec := range tx.records {
		s.ids[rec.ID] = struct{}{}
	}
	s.records = append(s.records, tx.records...)
	return nil
}

// memTx runs with s.mu held by WithinTx.
type memTx struct {
	s       *Store
	staged  map[string]int64
	records []models.TransferRecord
}

func (t *memTx) get(id string) (int64, bool) {
	if b, ok := t.staged[id]; ok {
		return b, true
	}
	b, ok := t.s.balances[id]
	return b, ok
}

func (t *memTx) FetchBalances(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if b, ok := t.get(id); ok {
			out[id] = b
		}
	}
	return out, nil
}

func (t *memTx) ConditionalDebit(ctx context.Context, id string, amount int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b, ok := t.get(id)
	if !ok || b < amount {
		return false, nil
	}
	t.staged[id] = b - amount
	return true, nil
}

func (t *memTx) Credit(ctx context.Context, id string, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, ok := t.get(id)
	if !ok {
		return fmt.Errorf("credit %s: %w", id, store.ErrAccountMissing)
	}
	t.staged[id] = b + amount
	return nil
}

func (t *memTx) Append(ctx context.Context, rec models.TransferRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, dup := t.s.ids[rec.ID]; dup {
		return fmt.Errorf("memory: duplicate transfer id %s", rec.ID)
	}
	t.records = append(t.records, rec)
	return nil
}
