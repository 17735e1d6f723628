package collaborator

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// IdempotencyKeyHeader carries the key the payment service deduplicates refunds on.
const IdempotencyKeyHeader = "Idempotency-Key"

// PaymentClient talks to the payment service.
type PaymentClient struct {
	c client
}

// NewPaymentClient creates a client for the payment service at baseURL.
func NewPaymentClient(baseURL string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{c: newClient(baseURL, timeout)}
}

type settlement struct {
	Settled bool `json:"settled"`
}

type refundRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// ConfirmPayment reports whether the booking's payment has been settled.
func (c *PaymentClient) ConfirmPayment(ctx context.Context, bookingID int64) (bool, error) {
	var out settlement
	path := fmt.Sprintf("/api/v1/payments/bookings/%d/confirm", bookingID)
	if err := c.c.post(ctx, path, nil, struct{}{}, &out); err != nil {
		return false, fmt.Errorf("confirm payment for booking %d: %w", bookingID, err)
	}
	return out.Settled, nil
}

// IssueRefund asks the payment service to refund amountCents of the booking's payment.
// Repeated calls with the same idempotencyKey settle a single refund.
func (c *PaymentClient) IssueRefund(ctx context.Context, bookingID, amountCents int64, idempotencyKey string) (bool, error) {
	var out settlement
	path := fmt.Sprintf("/api/v1/payments/bookings/%d/refunds", bookingID)
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	if err := c.c.post(ctx, path, header, refundRequest{AmountCents: amountCents}, &out); err != nil {
		return false, fmt.Errorf("issue refund for booking %d: %w", bookingID, err)
	}
	return out.Settled, nil
}
