package service

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/psp"
)

type fakePaymentStore struct {
	payments map[string]*model.Payment // keyed by trip id
}

func (f *fakePaymentStore) GetByTrip(_ context.Context, tripID string) (*model.Payment, error) {
	p, ok := f.payments[tripID]
	if !ok {
		return nil, apperr.NotFound("payment_not_found", "no payment exists for this trip")
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentStore) Finalize(_ context.Context, id string, status model.PaymentStatus, pspRef, idemKey string) (*model.Payment, error) {
	for _, p := range f.payments {
		if p.ID != id {
			continue
		}
		if p.Status != model.PaymentPending {
			return nil, apperr.Conflict("payment_finalized", "payment is no longer pending")
		}
		p.Status = status
		p.PSPRef = &pspRef
		p.IdempotencyKey = &idemKey
		cp := *p
		return &cp, nil
	}
	return nil, apperr.NotFound("payment_not_found", "payment not found")
}

type countingProvider struct {
	inner psp.Client
	calls int
}

func (c *countingProvider) Charge(ctx context.Context, req psp.ChargeRequest) (*psp.ChargeResult, error) {
	c.calls++
	return c.inner.Charge(ctx, req)
}

func pendingPayment(tripID, riderID string, method model.PaymentMethod) *model.Payment {
	return &model.Payment{
		ID:       "pay-" + tripID,
		TripID:   tripID,
		RiderID:  riderID,
		Amount:   170,
		Currency: "INR",
		Method:   method,
		Status:   model.PaymentPending,
	}
}

func newTestPaymentService(store *fakePaymentStore, provider psp.Client) *PaymentService {
	return NewPaymentService(store, provider, log.New(io.Discard, "", 0))
}

func capture(tripID, riderID string, amount float64, method model.PaymentMethod, key string) CaptureRequest {
	return CaptureRequest{RiderID: riderID, TripID: tripID, Amount: amount, Method: method, ClientKey: key}
}

func TestCaptureChargesCardThroughProvider(t *testing.T) {
	store := &fakePaymentStore{payments: map[string]*model.Payment{
		"t1": pendingPayment("t1", "rider-1", model.MethodCard),
	}}
	provider := &countingProvider{inner: psp.NewStubClient()}
	svc := newTestPaymentService(store, provider)

	p, err := svc.Capture(context.Background(), capture("t1", "rider-1", 170, model.MethodCard, "key-1"))
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if p.Status != model.PaymentSuccess {
		t.Errorf("status = %s, want success", p.Status)
	}
	if p.PSPRef == nil || *p.PSPRef == "" {
		t.Error("provider reference not recorded")
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestCaptureSettlesCashWithoutProvider(t *testing.T) {
	store := &fakePaymentStore{payments: map[string]*model.Payment{
		"t1": pendingPayment("t1", "rider-1", model.MethodCash),
	}}
	provider := &countingProvider{inner: psp.NewStubClient()}
	svc := newTestPaymentService(store, provider)

	p, err := svc.Capture(context.Background(), capture("t1", "rider-1", 170, model.MethodCash, "key-1"))
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if p.Status != model.PaymentSuccess {
		t.Errorf("status = %s, want success", p.Status)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times for a cash ride", provider.calls)
	}
}

func TestCaptureIsIdempotentOnSettledPayment(t *testing.T) {
	store := &fakePaymentStore{payments: map[string]*model.Payment{
		"t1": pendingPayment("t1", "rider-1", model.MethodCard),
	}}
	provider := &countingProvider{inner: psp.NewStubClient()}
	svc := newTestPaymentService(store, provider)

	first, err := svc.Capture(context.Background(), capture("t1", "rider-1", 170, model.MethodCard, "key-1"))
	if err != nil {
		t.Fatalf("first capture failed: %v", err)
	}
	second, err := svc.Capture(context.Background(), capture("t1", "rider-1", 170, model.MethodCard, "key-2"))
	if err != nil {
		t.Fatalf("second capture failed: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
	if *first.PSPRef != *second.PSPRef {
		t.Errorf("references diverged: %q vs %q", *first.PSPRef, *second.PSPRef)
	}
}

func TestCaptureRejectsWrongRider(t *testing.T) {
	store := &fakePaymentStore{payments: map[string]*model.Payment{
		"t1": pendingPayment("t1", "rider-1", model.MethodCard),
	}}
	svc := newTestPaymentService(store, psp.NewStubClient())

	_, err := svc.Capture(context.Background(), capture("t1", "rider-2", 170, model.MethodCard, "key-1"))
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCaptureRejectsTamperedAmount(t *testing.T) {
	fare := pendingPayment("t1", "rider-1", model.MethodCard)
	fare.Amount = 480
	store := &fakePaymentStore{payments: map[string]*model.Payment{"t1": fare}}
	provider := &countingProvider{inner: psp.NewStubClient()}
	svc := newTestPaymentService(store, provider)

	_, err := svc.Capture(context.Background(), capture("t1", "rider-1", 100, model.MethodCard, "key-1"))
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for mismatched amount, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times despite amount mismatch", provider.calls)
	}
	p, _ := store.GetByTrip(context.Background(), "t1")
	if p.Status != model.PaymentPending {
		t.Errorf("payment status = %s, want pending after rejected capture", p.Status)
	}
}

func TestCaptureToleratesCentRounding(t *testing.T) {
	fare := pendingPayment("t1", "rider-1", model.MethodCard)
	fare.Amount = 480
	store := &fakePaymentStore{payments: map[string]*model.Payment{"t1": fare}}
	svc := newTestPaymentService(store, psp.NewStubClient())

	p, err := svc.Capture(context.Background(), capture("t1", "rider-1", 480.004, model.MethodCard, "key-1"))
	if err != nil {
		t.Fatalf("capture within tolerance failed: %v", err)
	}
	if p.Status != model.PaymentSuccess {
		t.Errorf("status = %s, want success", p.Status)
	}
}

func TestCaptureRejectsMismatchedMethod(t *testing.T) {
	store := &fakePaymentStore{payments: map[string]*model.Payment{
		"t1": pendingPayment("t1", "rider-1", model.MethodCard),
	}}
	provider := &countingProvider{inner: psp.NewStubClient()}
	svc := newTestPaymentService(store, provider)

	_, err := svc.Capture(context.Background(), capture("t1", "rider-1", 170, model.MethodWallet, "key-1"))
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for mismatched method, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times despite method mismatch", provider.calls)
	}
}

func TestStubChargeReferenceIsStable(t *testing.T) {
	stub := psp.NewStubClient()
	req := psp.ChargeRequest{Amount: 170, Currency: "INR", RiderID: "rider-1", IdempotencyKey: "key-1"}
	a, _ := stub.Charge(context.Background(), req)
	b, _ := stub.Charge(context.Background(), req)
	if a.Reference != b.Reference {
		t.Errorf("stub references differ for the same key: %q vs %q", a.Reference, b.Reference)
	}
}
