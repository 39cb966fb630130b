package service

import (
	"context"
	"log"
	"math"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
	"github.com/veloride/veloride/internal/psp"
)

// PaymentStore is the persistence surface for payment capture.
type PaymentStore interface {
	GetByTrip(ctx context.Context, tripID string) (*model.Payment, error)
	Finalize(ctx context.Context, id string, status model.PaymentStatus, pspRef, idemKey string) (*model.Payment, error)
}

// PaymentService captures trip payments through the provider.
type PaymentService struct {
	payments PaymentStore
	provider psp.Client
	logger   *log.Logger
}

func NewPaymentService(payments PaymentStore, provider psp.Client, logger *log.Logger) *PaymentService {
	return &PaymentService{payments: payments, provider: provider, logger: logger}
}

// CaptureRequest carries the client's view of the charge. Amount and method
// are re-verified against the server-side payment row; the client is never
// trusted on either.
type CaptureRequest struct {
	RiderID   string
	TripID    string
	Amount    float64
	Method    model.PaymentMethod
	ClientKey string
}

// amountTolerance absorbs float representation noise, not disagreement.
const amountTolerance = 0.01

// Capture charges the rider for a completed trip. The claimed amount must
// match the fare computed at trip end; a mismatch is a conflict and the
// payment stays pending. Cash rides settle in the vehicle, so their payment
// is finalized without touching the provider. A payment already in a
// terminal state is returned as-is; retried captures therefore converge on
// one charge.
func (s *PaymentService) Capture(ctx context.Context, req CaptureRequest) (*model.Payment, error) {
	payment, err := s.payments.GetByTrip(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	if payment.RiderID != req.RiderID {
		return nil, apperr.Unauthorized("not_payment_owner", "payment belongs to another rider")
	}
	if math.Abs(req.Amount-payment.Amount) > amountTolerance {
		return nil, apperr.Conflict("amount_mismatch", "amount does not match the trip fare")
	}
	if req.Method != payment.Method {
		return nil, apperr.Conflict("method_mismatch", "method does not match the one chosen at booking")
	}
	if payment.Status != model.PaymentPending {
		return payment, nil
	}

	if payment.Method == model.MethodCash {
		final, err := s.payments.Finalize(ctx, payment.ID, model.PaymentSuccess, "cash_settled", req.ClientKey)
		if err != nil {
			return nil, err
		}
		s.logger.Printf("payment %s settled in cash", final.ID)
		return final, nil
	}

	result, err := s.provider.Charge(ctx, psp.ChargeRequest{
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		Method:         string(payment.Method),
		RiderID:        payment.RiderID,
		IdempotencyKey: req.ClientKey,
	})
	if err != nil {
		// Provider unreachable: the payment stays pending and the client
		// retries with the same key.
		return nil, err
	}

	status := model.PaymentSuccess
	if !result.Succeeded {
		status = model.PaymentFailed
	}
	final, err := s.payments.Finalize(ctx, payment.ID, status, result.Reference, req.ClientKey)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// A concurrent capture finalized first; return what it wrote.
			return s.payments.GetByTrip(ctx, req.TripID)
		}
		return nil, err
	}

	s.logger.Printf("payment %s captured: %s (ref %s)", final.ID, final.Status, result.Reference)
	return final, nil
}
