// Package memory holds in-process implementations of the ledger and audit
// stores and the signal bus, used without Postgres or Redis and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/wooxbot/internal/domain"
)

// LedgerStore is an append-only, mutex-guarded transaction ledger.
type LedgerStore struct {
	mu   sync.RWMutex
	rows []domain.Transaction
	ids  map[string]struct{}
}

// NewLedgerStore returns an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{ids: make(map[string]struct{})}
}

// Append stores tx. A repeated ID is rejected so a row is never written twice.
func (s *LedgerStore) Append(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[tx.ID]; dup {
		return fmt.Errorf("memory: append transaction %s: %w: duplicate id", tx.ID, domain.ErrPersistence)
	}
	s.ids[tx.ID] = struct{}{}
	s.rows = append(s.rows, tx)
	return nil
}

// Query returns copies of the rows matching filter, newest first unless
// filter.Ascending is set. Rows with equal trade times keep append order.
func (s *LedgerStore) Query(_ context.Context, filter domain.TxFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	matched := make([]domain.Transaction, 0, len(s.rows))
	for _, tx := range s.rows {
		if matches(tx, filter) {
			matched = append(matched, tx)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].TradeTime.Before(matched[j].TradeTime)
	})
	if !filter.Ascending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return page(matched, filter.Offset, filter.Limit), nil
}

// Len returns the number of stored rows.
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func matches(tx domain.Transaction, f domain.TxFilter) bool {
	if f.Symbol != "" && tx.Symbol != f.Symbol {
		return false
	}
	if f.Code != "" && tx.Code != f.Code {
		return false
	}
	if f.Since != nil && tx.TradeTime.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !tx.TradeTime.Before(*f.Until) {
		return false
	}
	return true
}

func page[T any](rows []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// AuditStore keeps audit entries in memory.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: func() time.Time { return time.Now().UTC() }}
}

// Log records an audit event.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    cp,
		CreatedAt: s.now(),
	})
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()
	return page(out, opts.Offset, opts.Limit), nil
}
