// Package service implements the order synchronization engine: polling the
// supplier API, reconciling orders into the ledger, forwarding them to the
// downstream consumer and retrieving their production files.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/printcom"
)

// ErrPollFailed is returned when a poll cycle could not fetch or record the
// remote order set. Orders ingested before the failure stay committed.
var ErrPollFailed = errors.New("poll failed")

// Ledger is the durable order store contract used by the engine.
type Ledger interface {
	Close() error
	UpsertOrder(ctx context.Context, externalID string, payload json.RawMessage) (bool, error)
	SetStatus(ctx context.Context, externalID string, status model.OrderStatus) error
	ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Order, error)
}

// Supplier is the remote order-management API contract.
type Supplier interface {
	EnsureValid(ctx context.Context) (string, error)
	FetchOrderItems(ctx context.Context, status string) ([]printcom.OrderItem, error)
	UpdateItemStatus(ctx context.Context, externalID, newStatus, message string) error
}

// Consumer is the downstream fulfillment API contract.
type Consumer interface {
	SendOrder(ctx context.Context, payload json.RawMessage) error
	ShareToken(ctx context.Context, token string) error
}

// FileRetriever downloads the documents referenced by an order.
type FileRetriever interface {
	RetrieveFiles(ctx context.Context, order *model.Order) int
}

// Validator checks a remote order document before ingestion.
type Validator interface {
	Validate(payload json.RawMessage) error
}

// Deps bundles the collaborators and settings of the engine.
type Deps struct {
	Ledger    Ledger
	Supplier  Supplier
	Consumer  Consumer
	Files     FileRetriever
	Validator Validator
	Logger    *zap.Logger

	// PollStatus is the remote status polled for new orders.
	PollStatus string
	// ForwardWorkers bounds the per-order parallelism within a cycle.
	ForwardWorkers int
}

// Service drives the synchronization of print orders between the supplier
// API and the downstream fulfillment pipeline.
type Service struct {
	ledger    Ledger
	supplier  Supplier
	consumer  Consumer
	files     FileRetriever
	validator Validator
	logger    *zap.Logger

	pollStatus string
	workers    int
}

// NewService creates the engine. Missing optional settings fall back to
// polling SENTTOSUPPLIER with four workers.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pollStatus := deps.PollStatus
	if pollStatus == "" {
		pollStatus = printcom.StatusSentToSupplier
	}
	workers := deps.ForwardWorkers
	if workers <= 0 {
		workers = 4
	}

	return &Service{
		ledger:     deps.Ledger,
		supplier:   deps.Supplier,
		consumer:   deps.Consumer,
		files:      deps.Files,
		validator:  deps.Validator,
		logger:     logger,
		pollStatus: pollStatus,
		workers:    workers,
	}
}

// Close releases the ledger.
func (s *Service) Close() error {
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}

// PollOnce fetches all remote orders in the poll status and reconciles them
// into the ledger. It returns only the freshly created orders, in the order
// the remote reported them. A transport or ledger failure aborts the poll;
// orders already ingested stay committed, so the next cycle resumes cleanly.
func (s *Service) PollOnce(ctx context.Context) ([]model.Order, error) {
	items, err := s.supplier.FetchOrderItems(ctx, s.pollStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}

	var created []model.Order
	for _, item := range items {
		if s.validator != nil {
			if err := s.validator.Validate(item.Payload); err != nil {
				s.logger.Warn("skipping malformed order document",
					zap.String("external_id", item.ExternalID),
					zap.Error(err))
				continue
			}
		}

		isNew, err := s.ledger.UpsertOrder(ctx, item.ExternalID, item.Payload)
		if err != nil {
			return created, fmt.Errorf("%w: upsert %s: %v", ErrPollFailed, item.ExternalID, err)
		}

		if isNew {
			created = append(created, model.Order{
				ExternalID: item.ExternalID,
				Status:     model.StatusReceivedFromSupplier,
				Payload:    item.Payload,
			})
		} else {
			s.logger.Info("order already known, marked as duplicate sighting",
				zap.String("external_id", item.ExternalID))
		}
	}

	s.logger.Info("poll finished",
		zap.Int("fetched", len(items)),
		zap.Int("created", len(created)))

	return created, nil
}

// ForwardOrder sends one order to the downstream consumer and, when it is
// acknowledged, confirms the order on the supplier side and advances the
// ledger status. Any failure marks the order FORWARD_FAILED and reports
// false; forwarding failures are expected and retried on a later cycle.
func (s *Service) ForwardOrder(ctx context.Context, order model.Order) bool {
	if err := s.consumer.SendOrder(ctx, order.Payload); err != nil {
		s.logger.Warn("downstream rejected order",
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		s.markForwardFailed(ctx, order.ExternalID)
		return false
	}

	// The supplier acknowledgment is part of the forward: without it the
	// remote side keeps re-listing the item, so failure here is a retry.
	if err := s.supplier.UpdateItemStatus(ctx, order.ExternalID, printcom.StatusAcceptedBySupplier, ""); err != nil {
		s.logger.Warn("supplier status acknowledgment failed",
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		s.markForwardFailed(ctx, order.ExternalID)
		return false
	}

	if err := s.ledger.SetStatus(ctx, order.ExternalID, model.StatusForwardedToFulfillment); err != nil {
		// A rejected transition here is a logic defect, not an operational condition.
		s.logger.Error("recording forward result failed",
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		return false
	}

	s.logger.Info("order forwarded",
		zap.String("external_id", order.ExternalID))
	return true
}

func (s *Service) markForwardFailed(ctx context.Context, externalID string) {
	if err := s.ledger.SetStatus(ctx, externalID, model.StatusForwardFailed); err != nil {
		s.logger.Error("marking forward failure failed",
			zap.String("external_id", externalID),
			zap.Error(err))
	}
}

// ForwardPending forwards every order currently in a forwardable state,
// oldest first, across a bounded worker pool. One order's failure never
// aborts the rest of the batch. It returns the number of forwarded orders.
func (s *Service) ForwardPending(ctx context.Context) (int, error) {
	var pending []model.Order
	for _, status := range []model.OrderStatus{model.StatusReceivedFromSupplier, model.StatusForwardFailed} {
		orders, err := s.ledger.ListByStatus(ctx, status)
		if err != nil {
			return 0, fmt.Errorf("list %s orders: %w", status, err)
		}
		pending = append(pending, orders...)
	}

	if len(pending) == 0 {
		return 0, nil
	}

	var forwarded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, order := range pending {
		order := order
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if s.ForwardOrder(gctx, order) {
				forwarded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(forwarded.Load()), nil
}

// RetrieveFilesFor downloads the documents of the given orders across the
// worker pool. Failures are logged inside the retriever; they never affect
// order status.
func (s *Service) RetrieveFilesFor(ctx context.Context, orders []model.Order) {
	if s.files == nil || len(orders) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			s.files.RetrieveFiles(gctx, &order)
			return nil
		})
	}
	_ = g.Wait()
}

// RunCycle executes one synchronization pass: credential check, token
// sharing, poll, forward, file retrieval. Failures are logged and the cycle
// continues wherever progress is still meaningful.
func (s *Service) RunCycle(ctx context.Context) {
	logger := s.logger.With(zap.String("cycle_id", uuid.NewString()))

	token, err := s.supplier.EnsureValid(ctx)
	if err != nil {
		logger.Error("credential exchange failed, skipping cycle", zap.Error(err))
		return
	}

	if err := s.consumer.ShareToken(ctx, token); err != nil {
		logger.Warn("sharing token with consumer failed", zap.Error(err))
	}

	created, err := s.PollOnce(ctx)
	if err != nil {
		logger.Error("poll phase failed", zap.Error(err))
	}

	forwarded, err := s.ForwardPending(ctx)
	if err != nil {
		logger.Error("forward phase failed", zap.Error(err))
	} else if forwarded > 0 {
		logger.Info("forward phase finished", zap.Int("forwarded", forwarded))
	}

	s.RetrieveFilesFor(ctx, created)
}

// Run drives synchronization cycles on a fixed interval until the context is
// canceled. It runs one cycle immediately so a restart picks up pending work
// without waiting a full interval.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	s.logger.Info("sync loop started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}
