package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/config"
	"github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type PaymentStatus string

const (
	PaymentSucceeded             PaymentStatus = "succeeded"
	PaymentRequiresAction        PaymentStatus = "requires_action"
	PaymentProcessing            PaymentStatus = "processing"
	PaymentRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentCanceled              PaymentStatus = "canceled"
)

// PaymentResult is the provider's view of one payment intent.
type PaymentResult struct {
	IntentID    string
	Status      PaymentStatus
	AmountCents int64
	RedirectURL string // set when the payment method needs off-site authentication
	LastError   string
}

// ProviderError is a payment failure reported by the provider. The message is
// meant for the buyer and the payment session stays valid for another try.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ProviderEvent is a verified webhook delivery about a payment intent.
type ProviderEvent struct {
	ID      string
	Type    string
	Payment *PaymentResult
}

type PaymentProvider interface {
	ConfirmPayment(ctx context.Context, intentID, paymentMethodID, returnURL string) (*PaymentResult, error)
	RetrievePayment(ctx context.Context, intentID string) (*PaymentResult, error)
	ParseWebhook(payload []byte, signature string) (*ProviderEvent, error)
}

type stripeClientImpl struct {
	api           *stripeclient.API
	webhookSecret string
}

func NewStripeClient(stripeCfg *config.Stripe) PaymentProvider {
	return &stripeClientImpl{
		api:           stripeclient.New(stripeCfg.SecretKey, nil),
		webhookSecret: stripeCfg.WebhookSecret,
	}
}

func (c *stripeClientImpl) ConfirmPayment(ctx context.Context, intentID, paymentMethodID, returnURL string) (*PaymentResult, error) {
	params := &stripe.PaymentIntentConfirmParams{
		ReturnURL: stripe.String(returnURL),
	}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, providerError("confirm payment intent", err)
	}

	return paymentResult(pi), nil
}

func (c *stripeClientImpl) RetrievePayment(ctx context.Context, intentID string) (*PaymentResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, providerError("get payment intent", err)
	}

	return paymentResult(pi), nil
}

func (c *stripeClientImpl) ParseWebhook(payload []byte, signature string) (*ProviderEvent, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret not configured")
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	out := &ProviderEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent event: %w", err)
	}
	out.Payment = paymentResult(&pi)
	return out, nil
}

func paymentResult(pi *stripe.PaymentIntent) *PaymentResult {
	res := &PaymentResult{
		IntentID:    pi.ID,
		Status:      PaymentStatus(pi.Status),
		AmountCents: pi.Amount,
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		res.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	if pi.LastPaymentError != nil {
		res.LastError = pi.LastPaymentError.Msg
	}
	return res
}

// Stripe API errors carry a buyer facing message; anything else is a transport failure.
func providerError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &ProviderError{
			Code:    string(stripeErr.Code),
			Message: stripeErr.Msg,
		}
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
