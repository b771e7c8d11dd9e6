package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/warp/member-portal/portal"
)

// StripeVerifier checks that a payment intent was paid. It never creates,
// captures or refunds anything.
type StripeVerifier struct {
	api      *client.API
	currency string
}

// NewStripeVerifier creates a verifier with the given secret key. A non-nil
// backends overrides the Stripe endpoints (tests).
func NewStripeVerifier(secretKey string, backends *stripe.Backends) *StripeVerifier {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &StripeVerifier{api: sc, currency: "gbp"}
}

// VerifyPayment succeeds when the intent has succeeded for exactly amount.
func (v *StripeVerifier) VerifyPayment(ctx context.Context, intentID string, amount decimal.Decimal) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := v.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return &portal.ExternalError{Platform: "stripe", Operation: "get payment intent", Err: err}
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return portal.Invalid("stripePaymentIntentId", "payment %s has not succeeded (status %s)", intentID, pi.Status)
	}
	if pi.Currency != "" && !strings.EqualFold(string(pi.Currency), v.currency) {
		return portal.Invalid("stripePaymentIntentId", "payment %s is in %s, expected %s", intentID, pi.Currency, v.currency)
	}

	expected := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if pi.Amount != expected {
		return portal.Invalid("cardAmount", "payment %s is for %s, expected %s",
			intentID, formatPence(pi.Amount), portal.Pence(amount).StringFixed(2))
	}
	return nil
}

// StripeBackends points every Stripe backend at baseURL.
func StripeBackends(baseURL string) *stripe.Backends {
	cfg := &stripe.BackendConfig{
		URL:               stripe.String(baseURL),
		MaxNetworkRetries: stripe.Int64(0),
	}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
}

func formatPence(p int64) string {
	return fmt.Sprintf("%d.%02d", p/100, p%100)
}
