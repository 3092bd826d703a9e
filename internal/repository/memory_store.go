package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

// MemoryStore implements Store in process memory. Transactions serialize callers and do not roll back.
type MemoryStore struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	receipts map[string]model.DeliveryReceipt
	audit    map[int64]model.AuditRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]model.DeliveryReceipt),
		audit:    make(map[int64]model.AuditRecord),
	}
}

// Close implements Store.
func (*MemoryStore) Close() error {
	return nil
}

// WithTransaction implements TransactionManager.
func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return fn(ctx)
}

// Save implements ReceiptRepository.
func (s *MemoryStore) Save(_ context.Context, r *model.DeliveryReceipt) (*model.DeliveryReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.receipts[r.OrderID]; ok {
		return &existing, false, nil
	}
	s.receipts[r.OrderID] = *r

	stored := *r
	return &stored, true, nil
}

// GetByOrderID implements ReceiptRepository.
func (s *MemoryStore) GetByOrderID(_ context.Context, orderID string) (*model.DeliveryReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[orderID]
	if !ok {
		return nil, model.ErrReceiptNotFound
	}

	return &r, nil
}

// Append implements AuditRepository.
func (s *MemoryStore) Append(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.PublishedAt = nil
	s.audit[rec.Seq] = rec

	return nil
}

// LastSeq implements AuditRepository.
func (s *MemoryStore) LastSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last int64
	for seq := range s.audit {
		last = max(last, seq)
	}

	return last, nil
}

// GetUnpublished implements AuditRepository.
func (s *MemoryStore) GetUnpublished(_ context.Context, limit int) ([]*model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*model.AuditRecord
	for _, rec := range s.audit {
		if rec.PublishedAt == nil {
			records = append(records, &rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// MarkAsPublished implements AuditRepository.
func (s *MemoryStore) MarkAsPublished(_ context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.audit[seq]; ok {
		now := time.Now().UTC()
		rec.PublishedAt = &now
		s.audit[seq] = rec
	}

	return nil
}
