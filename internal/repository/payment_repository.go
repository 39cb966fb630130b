package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/model"
)

// PaymentRepository handles database operations for payments.
type PaymentRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPaymentRepository(pool *pgxpool.Pool, timeout time.Duration) *PaymentRepository {
	return &PaymentRepository{pool: pool, timeout: timeout}
}

const paymentColumns = `id, trip_id, rider_id, amount, currency, method, status,
	psp_ref, idempotency_key, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID, &p.TripID, &p.RiderID, &p.Amount, &p.Currency, &p.Method,
		&p.Status, &p.PSPRef, &p.IdempotencyKey, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID fetches a payment by id.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*model.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment_not_found", "payment not found")
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetByTrip fetches the payment created for a trip.
func (r *PaymentRepository) GetByTrip(ctx context.Context, tripID string) (*model.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE trip_id = $1`, tripID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("payment_not_found", "no payment exists for this trip")
		}
		return nil, fmt.Errorf("get payment by trip: %w", err)
	}
	return p, nil
}

// Finalize moves a pending payment to its terminal status and records the
// provider reference and the client key used for the charge. The pending
// predicate makes a concurrent duplicate finalize a conflict, not a rewrite.
func (r *PaymentRepository) Finalize(ctx context.Context, id string, status model.PaymentStatus, pspRef, idemKey string) (*model.Payment, error) {
	if status != model.PaymentSuccess && status != model.PaymentFailed {
		return nil, apperr.Validation("invalid_payment_status", "finalize requires a terminal status")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE payments
		SET status = $2, psp_ref = $3, idempotency_key = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+paymentColumns,
		id, status, pspRef, idemKey,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Conflict("payment_finalized", "payment is no longer pending")
		}
		return nil, fmt.Errorf("finalize payment: %w", err)
	}
	return p, nil
}
