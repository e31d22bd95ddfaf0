package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/printcom"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/repository"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/validation"
)

type stubSupplier struct {
	items    []printcom.OrderItem
	fetchErr error

	ackErr  error
	ackedID []string

	tokenErr error
}

func (s *stubSupplier) EnsureValid(ctx context.Context) (string, error) {
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return "Bearer tok", nil
}

func (s *stubSupplier) FetchOrderItems(ctx context.Context, status string) ([]printcom.OrderItem, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.items, nil
}

func (s *stubSupplier) UpdateItemStatus(ctx context.Context, externalID, newStatus, message string) error {
	if s.ackErr != nil {
		return s.ackErr
	}
	s.ackedID = append(s.ackedID, externalID)
	return nil
}

type stubConsumer struct {
	sendErr   error
	sent      []string
	tokenSeen string
}

func (c *stubConsumer) SendOrder(ctx context.Context, payload json.RawMessage) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	var doc struct {
		OrderItemNumber string `json:"orderItemNumber"`
	}
	_ = json.Unmarshal(payload, &doc)
	c.sent = append(c.sent, doc.OrderItemNumber)
	return nil
}

func (c *stubConsumer) ShareToken(ctx context.Context, token string) error {
	c.tokenSeen = token
	return nil
}

func item(externalID string) printcom.OrderItem {
	payload := fmt.Sprintf(`{"orderItemNumber":%q,"status":"SENTTOSUPPLIER","designs":[]}`, externalID)
	return printcom.OrderItem{
		ExternalID: externalID,
		Status:     printcom.StatusSentToSupplier,
		Payload:    json.RawMessage(payload),
	}
}

func newTestService(t *testing.T, supplier *stubSupplier, consumer *stubConsumer) (*Service, *repository.MemoryRepository) {
	t.Helper()

	validator, err := validation.NewPayloadValidator()
	if err != nil {
		t.Fatalf("validator error: %v", err)
	}

	ledger := repository.NewMemoryRepository()
	svc := NewService(Deps{
		Ledger:    ledger,
		Supplier:  supplier,
		Consumer:  consumer,
		Validator: validator,
		Logger:    zap.NewNop(),
	})
	return svc, ledger
}

func TestPollOnce_CreatesFreshOrders(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-1"), item("A-2")}}
	svc, ledger := newTestService(t, supplier, &stubConsumer{})

	created, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	if created[0].ExternalID != "A-1" || created[1].ExternalID != "A-2" {
		t.Fatalf("remote order not preserved: %+v", created)
	}

	o, err := ledger.GetByExternalID(context.Background(), "A-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if o.Status != model.StatusReceivedFromSupplier {
		t.Fatalf("status = %s, want %s", o.Status, model.StatusReceivedFromSupplier)
	}
}

func TestPollOnce_SecondPollCreatesNothing(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-1")}}
	svc, ledger := newTestService(t, supplier, &stubConsumer{})
	ctx := context.Background()

	if _, err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("first poll error: %v", err)
	}

	created, err := svc.PollOnce(ctx)
	if err != nil {
		t.Fatalf("second poll error: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("second poll created %d orders, want 0", len(created))
	}

	o, _ := ledger.GetByExternalID(ctx, "A-1")
	if o.Status != model.StatusDuplicateSeen {
		t.Fatalf("re-sighted order status = %s, want %s", o.Status, model.StatusDuplicateSeen)
	}
}

func TestPollOnce_ForwardedOrderNotMarkedDuplicate(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-1")}}
	svc, ledger := newTestService(t, supplier, &stubConsumer{})
	ctx := context.Background()

	if _, err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll error: %v", err)
	}
	if err := ledger.SetStatus(ctx, "A-1", model.StatusForwardedToFulfillment); err != nil {
		t.Fatalf("set status error: %v", err)
	}

	if _, err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("second poll error: %v", err)
	}

	o, _ := ledger.GetByExternalID(ctx, "A-1")
	if o.Status != model.StatusForwardedToFulfillment {
		t.Fatalf("terminal order status = %s, must stay %s", o.Status, model.StatusForwardedToFulfillment)
	}
}

func TestPollOnce_SkipsMalformedDocuments(t *testing.T) {
	bad := printcom.OrderItem{
		ExternalID: "",
		Payload:    json.RawMessage(`{"status":"SENTTOSUPPLIER"}`),
	}
	supplier := &stubSupplier{items: []printcom.OrderItem{bad, item("A-1")}}
	svc, _ := newTestService(t, supplier, &stubConsumer{})

	created, err := svc.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce error: %v", err)
	}
	if len(created) != 1 || created[0].ExternalID != "A-1" {
		t.Fatalf("malformed document must be skipped, got %+v", created)
	}
}

func TestPollOnce_TransportFailure(t *testing.T) {
	supplier := &stubSupplier{fetchErr: errors.New("connection refused")}
	svc, _ := newTestService(t, supplier, &stubConsumer{})

	_, err := svc.PollOnce(context.Background())
	if !errors.Is(err, ErrPollFailed) {
		t.Fatalf("expected ErrPollFailed, got %v", err)
	}
}

func TestForwardOrder_SuccessAdvancesStatus(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-1")}}
	consumer := &stubConsumer{}
	svc, ledger := newTestService(t, supplier, consumer)
	ctx := context.Background()

	created, err := svc.PollOnce(ctx)
	if err != nil {
		t.Fatalf("poll error: %v", err)
	}

	if ok := svc.ForwardOrder(ctx, created[0]); !ok {
		t.Fatalf("forward must succeed")
	}

	o, _ := ledger.GetByExternalID(ctx, "A-1")
	if o.Status != model.StatusForwardedToFulfillment {
		t.Fatalf("status = %s, want %s", o.Status, model.StatusForwardedToFulfillment)
	}
	if len(supplier.ackedID) != 1 || supplier.ackedID[0] != "A-1" {
		t.Fatalf("supplier must be acknowledged, got %v", supplier.ackedID)
	}
	if len(consumer.sent) != 1 || consumer.sent[0] != "A-1" {
		t.Fatalf("consumer must receive the payload, got %v", consumer.sent)
	}
}

func TestForwardOrder_DownstreamFailureThenRetry(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-2")}}
	consumer := &stubConsumer{sendErr: errors.New("status 500")}
	svc, ledger := newTestService(t, supplier, consumer)
	ctx := context.Background()

	created, err := svc.PollOnce(ctx)
	if err != nil {
		t.Fatalf("poll error: %v", err)
	}

	if ok := svc.ForwardOrder(ctx, created[0]); ok {
		t.Fatalf("forward must report failure")
	}

	o, _ := ledger.GetByExternalID(ctx, "A-2")
	if o.Status != model.StatusForwardFailed {
		t.Fatalf("status = %s, want %s", o.Status, model.StatusForwardFailed)
	}

	// Next cycle: downstream recovered, the failed order is still eligible.
	consumer.sendErr = nil

	forwarded, err := svc.ForwardPending(ctx)
	if err != nil {
		t.Fatalf("ForwardPending error: %v", err)
	}
	if forwarded != 1 {
		t.Fatalf("forwarded = %d, want 1", forwarded)
	}

	o, _ = ledger.GetByExternalID(ctx, "A-2")
	if o.Status != model.StatusForwardedToFulfillment {
		t.Fatalf("status = %s, want %s", o.Status, model.StatusForwardedToFulfillment)
	}

	remaining, _ := ledger.ListByStatus(ctx, model.StatusForwardFailed)
	if len(remaining) != 0 {
		t.Fatalf("forwarded order must leave the failed list")
	}
}

func TestForwardOrder_SupplierAckFailure(t *testing.T) {
	supplier := &stubSupplier{
		items:  []printcom.OrderItem{item("A-3")},
		ackErr: errors.New("status 403"),
	}
	svc, ledger := newTestService(t, supplier, &stubConsumer{})
	ctx := context.Background()

	created, err := svc.PollOnce(ctx)
	if err != nil {
		t.Fatalf("poll error: %v", err)
	}

	if ok := svc.ForwardOrder(ctx, created[0]); ok {
		t.Fatalf("forward must report failure when the supplier ack fails")
	}

	o, _ := ledger.GetByExternalID(ctx, "A-3")
	if o.Status != model.StatusForwardFailed {
		t.Fatalf("status = %s, want %s", o.Status, model.StatusForwardFailed)
	}
}

func TestForwardPending_OneFailureDoesNotAbortBatch(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-1"), item("A-2"), item("A-3")}}
	consumer := &selectiveConsumer{failID: "A-2"}
	svc, ledger := newTestService(t, supplier, &stubConsumer{})
	svc.consumer = consumer
	ctx := context.Background()

	if _, err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll error: %v", err)
	}

	forwarded, err := svc.ForwardPending(ctx)
	if err != nil {
		t.Fatalf("ForwardPending error: %v", err)
	}
	if forwarded != 2 {
		t.Fatalf("forwarded = %d, want 2", forwarded)
	}

	failed, _ := ledger.ListByStatus(ctx, model.StatusForwardFailed)
	if len(failed) != 1 || failed[0].ExternalID != "A-2" {
		t.Fatalf("exactly A-2 must be failed, got %+v", failed)
	}
}

type selectiveConsumer struct {
	failID string
	stubConsumer
}

func (c *selectiveConsumer) SendOrder(ctx context.Context, payload json.RawMessage) error {
	var doc struct {
		OrderItemNumber string `json:"orderItemNumber"`
	}
	_ = json.Unmarshal(payload, &doc)
	if doc.OrderItemNumber == c.failID {
		return errors.New("status 500")
	}
	return c.stubConsumer.SendOrder(ctx, payload)
}

func TestRunCycle_AuthFailureSkipsCycle(t *testing.T) {
	supplier := &stubSupplier{
		tokenErr: printcom.ErrAuthFailed,
		items:    []printcom.OrderItem{item("A-1")},
	}
	svc, ledger := newTestService(t, supplier, &stubConsumer{})

	svc.RunCycle(context.Background())

	if _, err := ledger.GetByExternalID(context.Background(), "A-1"); err == nil {
		t.Fatalf("nothing must be ingested when the credential exchange fails")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	supplier := &stubSupplier{}
	svc, _ := newTestService(t, supplier, &stubConsumer{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancellation")
	}
}

func TestRunCycle_EndToEnd(t *testing.T) {
	supplier := &stubSupplier{items: []printcom.OrderItem{item("A-1")}}
	consumer := &stubConsumer{}
	svc, ledger := newTestService(t, supplier, consumer)
	ctx := context.Background()

	svc.RunCycle(ctx)

	o, err := ledger.GetByExternalID(ctx, "A-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if o.Status != model.StatusForwardedToFulfillment {
		t.Fatalf("status = %s, want %s", o.Status, model.StatusForwardedToFulfillment)
	}
	if consumer.tokenSeen == "" {
		t.Fatalf("token must be shared with the consumer")
	}
}
