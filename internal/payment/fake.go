package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeAdapter is a deterministic in-process processor used in development
// and tests. The payment method token drives the outcome:
//
//	declined-* -> declined
//	error-*    -> transport error (ambiguous outcome)
//	anything else succeeds
type FakeAdapter struct {
	mu      sync.Mutex
	charges map[string]ChargeResult
	refunds map[string]RefundResult
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		charges: make(map[string]ChargeResult),
		refunds: make(map[string]RefundResult),
	}
}

func (f *FakeAdapter) Name() string { return "fake" }

func (f *FakeAdapter) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if req.AmountCents <= 0 {
		return ChargeResult{}, ErrInvalidAmount
	}
	token := strings.TrimSpace(req.PaymentMethodToken)
	if token == "" {
		return ChargeResult{}, ErrInvalidToken
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		if prior, ok := f.charges[key]; ok {
			return prior, nil
		}
	}

	if strings.HasPrefix(token, "error-") {
		return ChargeResult{}, fmt.Errorf("processor unreachable for token %s", token)
	}

	result := ChargeResult{
		Status:             StatusSucceeded,
		ProcessorReference: fmt.Sprintf("fake-ch-%s-%d", token, len(f.charges)+1),
	}
	if strings.HasPrefix(token, "declined-") {
		result.Status = StatusDeclined
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		f.charges[key] = result
	}
	return result, nil
}

func (f *FakeAdapter) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.AmountCents <= 0 {
		return RefundResult{}, ErrInvalidAmount
	}
	reference := strings.TrimSpace(req.ProcessorReference)
	if reference == "" {
		return RefundResult{}, ErrInvalidToken
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		if prior, ok := f.refunds[key]; ok {
			return prior, nil
		}
	}

	result := RefundResult{
		Status:             StatusSucceeded,
		ProcessorReference: fmt.Sprintf("fake-re-%s-%d", reference, len(f.refunds)+1),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		f.refunds[key] = result
	}
	return result, nil
}
