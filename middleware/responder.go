package middleware

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/vitwit/x402/types"
)

// Responder renders the gate's outcomes. Protocol headers are already set on
// w when PaymentRequired is called.
type Responder interface {
	PaymentRequired(w http.ResponseWriter, r *http.Request, resp *types.PaymentRequiredResponse)
	AlreadyUsed(w http.ResponseWriter, r *http.Request, resp *types.PaymentUsedResponse)
	// Verified runs before the protected handler.
	Verified(w http.ResponseWriter, r *http.Request, payment *types.PaymentContext)
}

// DefaultResponder writes the standard JSON bodies and echoes the accepted
// proof in an X-PAYMENT-RESPONSE header.
type DefaultResponder struct{}

func (DefaultResponder) PaymentRequired(w http.ResponseWriter, _ *http.Request, resp *types.PaymentRequiredResponse) {
	writeJSON(w, http.StatusPaymentRequired, resp)
}

func (DefaultResponder) AlreadyUsed(w http.ResponseWriter, _ *http.Request, resp *types.PaymentUsedResponse) {
	writeJSON(w, http.StatusConflict, resp)
}

func (DefaultResponder) Verified(w http.ResponseWriter, _ *http.Request, payment *types.PaymentContext) {
	b, err := json.Marshal(types.PaymentProof{TxHash: payment.TxHash, ChainID: payment.ChainID})
	if err != nil {
		return
	}
	w.Header().Set(types.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(b))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
