// Package payment isolates the rest of the system from payment
// processors. Everything money-moving goes through ProcessorAdapter; the
// revenue core never talks to a processor SDK directly.
package payment

import (
	"context"
	"errors"
)

// ChargeStatus is the terminal outcome of a charge attempt as reported by
// the processor. A transport error is NOT a status: it surfaces as a Go
// error and the outcome stays ambiguous until retried.
type ChargeStatus string

const (
	StatusSucceeded ChargeStatus = "succeeded"
	StatusDeclined  ChargeStatus = "declined"
	StatusError     ChargeStatus = "error"
)

type ChargeRequest struct {
	AmountCents        int64
	Currency           string
	PaymentMethodToken string
	IdempotencyKey     string
}

type ChargeResult struct {
	Status             ChargeStatus
	ProcessorReference string
}

type RefundRequest struct {
	AmountCents        int64
	Currency           string
	ProcessorReference string
	IdempotencyKey     string
}

type RefundResult struct {
	Status             ChargeStatus
	ProcessorReference string
}

// ProcessorAdapter is implemented once per processor. Implementations
// must honor the idempotency key: replaying a charge with the same key
// returns the original outcome without moving money twice.
type ProcessorAdapter interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidToken     = errors.New("invalid_payment_method_token")
	ErrUnknownProcessor = errors.New("unknown_processor")

	// ErrDeclined is recoverable: retry later with backoff.
	ErrDeclined = errors.New("payment_declined")
	// ErrProcessor means the outcome is unknown; replay with the same
	// idempotency key.
	ErrProcessor = errors.New("payment_processor_error")
)
