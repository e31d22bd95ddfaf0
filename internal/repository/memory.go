package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
)

// MemoryRepository is an in-memory ledger with the same contract as the
// PostgreSQL one, used in tests and local development.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]model.Order
	seq    int

	// now is overridable so tests get deterministic ingestion order.
	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]model.Order),
		now:    time.Now,
	}
}

// Close is a no-op for the in-memory ledger.
func (r *MemoryRepository) Close() error { return nil }

// UpsertOrder mirrors PostgresRepository.UpsertOrder.
func (r *MemoryRepository) UpsertOrder(ctx context.Context, externalID string, payload json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.orders[externalID]
	if !ok {
		r.seq++
		r.orders[externalID] = model.Order{
			ExternalID: externalID,
			Status:     model.StatusReceivedFromSupplier,
			Payload:    append(json.RawMessage(nil), payload...),
			IngestedAt: r.now().Add(time.Duration(r.seq) * time.Microsecond),
		}
		return true, nil
	}

	if model.CanTransition(existing.Status, model.StatusDuplicateSeen) {
		existing.Status = model.StatusDuplicateSeen
		r.orders[externalID] = existing
	}
	return false, nil
}

// SetStatus mirrors PostgresRepository.SetStatus.
func (r *MemoryRepository) SetStatus(ctx context.Context, externalID string, newStatus model.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.orders[externalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, externalID)
	}

	if err := model.CheckTransition(existing.Status, newStatus); err != nil {
		return err
	}

	existing.Status = newStatus
	r.orders[externalID] = existing
	return nil
}

// ListByStatus mirrors PostgresRepository.ListByStatus.
func (r *MemoryRepository) ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []model.Order
	for _, o := range r.orders {
		if o.Status == status {
			result = append(result, o)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].IngestedAt.Before(result[j].IngestedAt)
	})

	return result, nil
}

// GetByExternalID mirrors PostgresRepository.GetByExternalID.
func (r *MemoryRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, externalID)
	}
	return &o, nil
}
