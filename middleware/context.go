package middleware

import (
	"context"

	"github.com/vitwit/x402/types"
)

type contextKey struct{}

// PaymentContextKey is the gin context key holding the *types.PaymentContext.
const PaymentContextKey = "x402.payment"

// WithPayment returns a copy of ctx carrying the verified payment.
func WithPayment(ctx context.Context, payment *types.PaymentContext) context.Context {
	return context.WithValue(ctx, contextKey{}, payment)
}

// PaymentFromContext extracts the verified payment attached by the gate.
func PaymentFromContext(ctx context.Context) (*types.PaymentContext, bool) {
	payment, ok := ctx.Value(contextKey{}).(*types.PaymentContext)
	return payment, ok && payment != nil
}

// RequirePayment is PaymentFromContext for handlers that must not run unpaid.
func RequirePayment(ctx context.Context) (*types.PaymentContext, error) {
	payment, ok := PaymentFromContext(ctx)
	if !ok {
		return nil, types.NewError(types.ErrInvalidInput, nil, "payment required but not found in context")
	}
	if !payment.Verified {
		return nil, types.NewError(types.ErrInvalidInput, nil, "payment not verified")
	}
	return payment, nil
}
