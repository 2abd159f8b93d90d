package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/client"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/events"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/logging"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/metrics"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/model"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/repository"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/session"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoItemSelected     = errors.New("no item selected")
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidAmount      = errors.New("item has no chargeable amount")
	ErrItemUnavailable    = errors.New("item could not be loaded")
	ErrPaymentSessionInit = errors.New("payment session could not be initialized")
	ErrUnknownSession     = errors.New("unknown payment session")
	ErrSessionExpired     = errors.New("buyer session could not be refreshed")
	ErrValidation         = errors.New("validation")
	ErrOrderCreation      = errors.New("order could not be recorded")
	ErrInvalidWebhook     = errors.New("invalid webhook")
)

const (
	SuccessPath = "/checkout/success"
	ReturnPath  = "/checkout/return"

	statusPending = "pending"

	genericProviderMessage = "Payment could not be confirmed. Please try again."
)

// ValidationError lists the draft fields that failed, keyed by their json name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, problem := range e.Fields {
		parts = append(parts, field+" "+problem)
	}
	return "validation: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type CheckoutSession struct {
	Item              *model.Item
	Amount            decimal.Decimal
	ClientSecret      string
	PaymentIntentID   string
	PublishableKey    string
	RequiresTargetURL bool
}

// SubmitInput is the checkout form plus the payment method collected by the provider's element.
type SubmitInput struct {
	ClientSecret        string
	PaymentMethodID     string
	CustomerName        string
	CustomerEmail       string
	TargetURL           string
	ArticleTopic        string
	SpecialInstructions string
}

type CheckoutResult struct {
	PaymentIntentID string
	Status          client.PaymentStatus
	OrderID         string
	// RedirectURL is the success page once an order exists, or the provider's
	// authentication page when the payment requires action.
	RedirectURL string
}

type CheckoutService interface {
	Begin(ctx context.Context, siteID, packageID string) (*CheckoutSession, error)
	Submit(ctx context.Context, in *SubmitInput) (*CheckoutResult, error)
	Resume(ctx context.Context, clientSecret string) (*CheckoutResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type checkoutServiceImpl struct {
	backend        client.BackendClient
	provider       client.PaymentProvider
	attemptRepo    repository.AttemptRepository
	webhookRepo    repository.WebhookEventRepository
	publisher      events.Publisher
	metrics        *metrics.Metrics
	publishableKey string
	serviceBaseUrl string

	inflight singleflight.Group
	validate *validator.Validate
	now      func() time.Time
}

func NewCheckoutService(
	backend client.BackendClient,
	provider client.PaymentProvider,
	attemptRepo repository.AttemptRepository,
	webhookRepo repository.WebhookEventRepository,
	publisher events.Publisher,
	m *metrics.Metrics,
	publishableKey string,
	serviceBaseUrl string,
) CheckoutService {
	return &checkoutServiceImpl{
		backend:        backend,
		provider:       provider,
		attemptRepo:    attemptRepo,
		webhookRepo:    webhookRepo,
		publisher:      publisher,
		metrics:        m,
		publishableKey: publishableKey,
		serviceBaseUrl: strings.TrimRight(serviceBaseUrl, "/"),
		validate:       newValidator(),
		now:            time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *checkoutServiceImpl) Begin(ctx context.Context, siteID, packageID string) (*CheckoutSession, error) {
	ref, ok := model.NewItemRef(siteID, packageID)
	if !ok {
		s.metrics.ObserveStep("resolve_item", "no_selection")
		return nil, ErrNoItemSelected
	}
	l := logging.FromContext(ctx).With("item", ref.String())

	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			s.metrics.ObserveStep("resolve_item", "not_found")
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, ref)
		}
		s.metrics.ObserveStep("resolve_item", "error")
		l.Error("resolve checkout item", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrItemUnavailable, err)
	}
	s.metrics.ObserveStep("resolve_item", "ok")

	amount := item.ChargeAmount()
	if !amount.IsPositive() {
		s.metrics.ObserveStep("resolve_item", "invalid_amount")
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, ref)
	}

	ps, err := s.backend.CreatePaymentIntent(ctx, item.ID, amount)
	if err != nil {
		s.metrics.ObserveStep("create_payment_session", "error")
		l.Error("create payment session", "amount", amount.String(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPaymentSessionInit, err)
	}

	err = s.attemptRepo.Create(ctx, &model.CheckoutAttempt{
		PaymentIntentID: ps.PaymentIntentID,
		ItemKind:        item.Kind,
		ItemID:          item.ID,
		Amount:          amount,
	})
	if err != nil {
		s.metrics.ObserveStep("create_payment_session", "error")
		l.Error("record checkout attempt", "payment_intent_id", ps.PaymentIntentID, "error", err)
		return nil, fmt.Errorf("%w: record attempt: %w", ErrPaymentSessionInit, err)
	}
	s.metrics.ObserveStep("create_payment_session", "ok")

	l.Info("checkout session opened", "payment_intent_id", ps.PaymentIntentID, "amount", amount.String())

	return &CheckoutSession{
		Item:              item,
		Amount:            amount,
		ClientSecret:      ps.ClientSecret,
		PaymentIntentID:   ps.PaymentIntentID,
		PublishableKey:    s.publishableKey,
		RequiresTargetURL: item.Kind == model.ItemKindSite,
	}, nil
}

func (s *checkoutServiceImpl) resolveItem(ctx context.Context, ref model.ItemRef) (*model.Item, error) {
	if ref.Kind == model.ItemKindSite {
		return s.backend.GetSite(ctx, ref.ID)
	}
	return s.backend.GetPackage(ctx, ref.ID)
}

func (s *checkoutServiceImpl) Submit(ctx context.Context, in *SubmitInput) (*CheckoutResult, error) {
	intentID, ok := model.PaymentIntentIDFromSecret(in.ClientSecret)
	if !ok {
		return nil, ErrUnknownSession
	}

	// must resolve before the provider is called
	userID, err := session.FromContext(ctx).ResolveUserID(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("resolve buyer session", "payment_intent_id", intentID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	// a double submit by the same buyer shares the first call's outcome,
	// which must not die with the first caller's connection
	v, err, _ := s.inflight.Do(flightKey(intentID, userID), func() (interface{}, error) {
		return s.submit(context.WithoutCancel(ctx), intentID, userID, in)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CheckoutResult), nil
}

func flightKey(intentID, userID string) string {
	return intentID + "/" + userID
}

// ownedByOther reports whether a signed-in buyer other than userID already submitted the attempt.
func ownedByOther(attempt *model.CheckoutAttempt, userID string) bool {
	return attempt.UserID != "" && userID != "" && attempt.UserID != userID
}

func (s *checkoutServiceImpl) submit(ctx context.Context, intentID, userID string, in *SubmitInput) (*CheckoutResult, error) {
	l := logging.FromContext(ctx).With("payment_intent_id", intentID)

	attempt, err := s.findAttempt(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if ownedByOther(attempt, userID) {
		l.Warn("payment session submitted by another buyer", "user_id", userID)
		return nil, ErrUnknownSession
	}
	if attempt.HasOrder() {
		l.Info("checkout already has an order", "order_id", attempt.OrderID)
		return s.successResult(intentID, attempt.OrderID), nil
	}
	if attempt.Status == model.AttemptOrderFailed {
		return nil, fmt.Errorf("%w: payment already captured", ErrOrderCreation)
	}

	draft := buildDraft(attempt, in)
	if err := s.validateDraft(draft); err != nil {
		s.metrics.ObserveStep("validate", "invalid")
		return nil, err
	}

	raw, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("marshal draft: %w", err)
	}
	if userID == "" {
		userID = attempt.UserID
	}
	if err := s.attemptRepo.SaveDraft(ctx, intentID, userID, string(raw)); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	attempt.UserID = userID
	attempt.Draft = string(raw)
	attempt.Status = model.AttemptPaymentSubmitted

	payment, err := s.provider.ConfirmPayment(ctx, intentID, in.PaymentMethodID, s.serviceBaseUrl+ReturnPath)
	if err != nil {
		return nil, s.providerFailure(ctx, l, intentID, err)
	}

	return s.afterConfirm(ctx, l, attempt, draft, payment)
}

func (s *checkoutServiceImpl) Resume(ctx context.Context, clientSecret string) (*CheckoutResult, error) {
	intentID, ok := model.PaymentIntentIDFromSecret(clientSecret)
	if !ok {
		return nil, ErrUnknownSession
	}

	// the return redirect may arrive without credentials; the order owner
	// then comes from the submitted attempt
	userID, err := session.FromContext(ctx).ResolveUserID(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("resolve buyer session", "payment_intent_id", intentID, "error", err)
		userID = ""
	}

	v, err, _ := s.inflight.Do(flightKey(intentID, userID), func() (interface{}, error) {
		return s.resume(context.WithoutCancel(ctx), intentID, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CheckoutResult), nil
}

func (s *checkoutServiceImpl) resume(ctx context.Context, intentID, userID string) (*CheckoutResult, error) {
	l := logging.FromContext(ctx).With("payment_intent_id", intentID)

	attempt, err := s.findAttempt(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if ownedByOther(attempt, userID) {
		l.Warn("payment session resumed by another buyer", "user_id", userID)
		return nil, ErrUnknownSession
	}
	if attempt.HasOrder() {
		return s.successResult(intentID, attempt.OrderID), nil
	}
	switch attempt.Status {
	case model.AttemptOrderFailed:
		return nil, fmt.Errorf("%w: payment already captured", ErrOrderCreation)
	case model.AttemptSessionOpen:
		// nothing was submitted for this intent
		return nil, ErrUnknownSession
	}

	draft, err := model.DecodeDraft(attempt.ItemKind, attempt.Draft)
	if err != nil {
		return nil, fmt.Errorf("restore draft: %w", err)
	}

	payment, err := s.provider.RetrievePayment(ctx, intentID)
	if err != nil {
		return nil, s.providerFailure(ctx, l, intentID, err)
	}

	return s.afterConfirm(ctx, l, attempt, draft, payment)
}

func (s *checkoutServiceImpl) afterConfirm(ctx context.Context, l *slog.Logger, attempt *model.CheckoutAttempt, draft model.OrderDraft, payment *client.PaymentResult) (*CheckoutResult, error) {
	switch payment.Status {
	case client.PaymentSucceeded:
		s.metrics.ObserveStep("confirm_payment", "succeeded")
		return s.finalize(ctx, l, attempt, draft, payment)
	case client.PaymentRequiresAction:
		s.metrics.ObserveStep("confirm_payment", "requires_action")
		return &CheckoutResult{
			PaymentIntentID: attempt.PaymentIntentID,
			Status:          payment.Status,
			RedirectURL:     payment.RedirectURL,
		}, nil
	case client.PaymentRequiresPaymentMethod:
		if payment.LastError != "" {
			return nil, s.providerFailure(ctx, l, attempt.PaymentIntentID,
				&client.ProviderError{Message: payment.LastError})
		}
	}

	s.metrics.ObserveStep("confirm_payment", string(payment.Status))
	return &CheckoutResult{
		PaymentIntentID: attempt.PaymentIntentID,
		Status:          payment.Status,
	}, nil
}

// finalize records the order for a payment the provider reported as succeeded.
// Each backend call is attempted once.
func (s *checkoutServiceImpl) finalize(ctx context.Context, l *slog.Logger, attempt *model.CheckoutAttempt, draft model.OrderDraft, payment *client.PaymentResult) (*CheckoutResult, error) {
	intentID := attempt.PaymentIntentID

	if cents := attempt.Amount.Shift(2).IntPart(); payment.AmountCents != 0 && payment.AmountCents != cents {
		l.Warn("provider amount differs from checkout amount", "provider_cents", payment.AmountCents, "checkout_cents", cents)
	}

	orderID, err := s.backend.CreateOrder(ctx, orderRequest(draft, attempt, intentID), intentID)
	if err != nil {
		s.metrics.ObserveStep("create_order", "error")
		l.Error("payment captured but order creation failed", "error", err)
		if markErr := s.attemptRepo.MarkOrderFailed(ctx, intentID, err.Error()); markErr != nil {
			l.Error("mark checkout attempt failed", "error", markErr)
		}
		s.publish(ctx, l, events.TypePaymentOrphaned, attempt, "", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrOrderCreation, err)
	}
	s.metrics.ObserveStep("create_order", "ok")

	l = l.With("order_id", orderID)
	if err := s.attemptRepo.MarkOrderCreated(ctx, intentID, orderID); err != nil {
		l.Error("record order id on checkout attempt", "error", err)
	}
	s.publish(ctx, l, events.TypeOrderRecorded, attempt, orderID, "")

	if err := s.backend.ConfirmPayment(ctx, intentID); err != nil {
		s.metrics.ObserveStep("confirm_payment_server", "error")
		l.Error("server side payment confirmation failed", "error", err)
	} else {
		s.metrics.ObserveStep("confirm_payment_server", "ok")
		if err := s.attemptRepo.MarkCompleted(ctx, intentID); err != nil {
			l.Error("mark checkout attempt completed", "error", err)
		}
	}

	l.Info("checkout completed")
	return s.successResult(intentID, orderID), nil
}

func (s *checkoutServiceImpl) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.ObserveStep("webhook", "invalid")
		return fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	if event.Payment == nil {
		return nil
	}

	l := logging.FromContext(ctx).With("event_id", event.ID, "event_type", event.Type, "payment_intent_id", event.Payment.IntentID)

	seen, err := s.webhookRepo.Exists(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		l.Info("webhook event already processed")
		return nil
	}

	if err := s.reconcile(ctx, l, event); err != nil {
		return err
	}

	if err := s.webhookRepo.MarkProcessed(ctx, event.ID, event.Type); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	s.metrics.ObserveStep("webhook", "ok")
	return nil
}

// reconcile never creates orders; it only reports what the synchronous flow missed.
func (s *checkoutServiceImpl) reconcile(ctx context.Context, l *slog.Logger, event *client.ProviderEvent) error {
	attempt, err := s.attemptRepo.FindByIntentID(ctx, event.Payment.IntentID)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			l.Info("webhook for a payment intent this service did not open")
			return nil
		}
		return fmt.Errorf("find checkout attempt: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		switch attempt.Status {
		case model.AttemptOrderFailed:
			l.Error("payment captured without an order", "last_error", attempt.LastError)
			s.publish(ctx, l, events.TypePaymentOrphaned, attempt, "", attempt.LastError)
		case model.AttemptSessionOpen, model.AttemptPaymentSubmitted:
			l.Warn("payment captured before an order was recorded")
		}
	case "payment_intent.payment_failed":
		reason := event.Payment.LastError
		if reason == "" {
			reason = "payment failed"
		}
		if err := s.attemptRepo.RecordError(ctx, attempt.PaymentIntentID, reason); err != nil {
			return fmt.Errorf("record payment failure: %w", err)
		}
	}
	return nil
}

func (s *checkoutServiceImpl) findAttempt(ctx context.Context, intentID string) (*model.CheckoutAttempt, error) {
	attempt, err := s.attemptRepo.FindByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("find checkout attempt: %w", err)
	}
	return attempt, nil
}

// providerFailure keeps the payment session open for another submit.
func (s *checkoutServiceImpl) providerFailure(ctx context.Context, l *slog.Logger, intentID string, err error) error {
	s.metrics.ObserveStep("confirm_payment", "failed")

	var providerErr *client.ProviderError
	if !errors.As(err, &providerErr) {
		l.Error("payment provider call failed", "error", err)
		providerErr = &client.ProviderError{Message: genericProviderMessage}
	} else {
		l.Warn("payment provider rejected payment", "code", providerErr.Code, "message", providerErr.Message)
	}

	if recErr := s.attemptRepo.RecordError(ctx, intentID, providerErr.Message); recErr != nil {
		l.Error("record provider error", "error", recErr)
	}
	return providerErr
}

func (s *checkoutServiceImpl) publish(ctx context.Context, l *slog.Logger, eventType string, attempt *model.CheckoutAttempt, orderID, reason string) {
	err := s.publisher.Publish(ctx, &events.CheckoutEvent{
		Type:            eventType,
		PaymentIntentID: attempt.PaymentIntentID,
		OrderID:         orderID,
		ItemKind:        string(attempt.ItemKind),
		ItemID:          attempt.ItemID,
		Amount:          attempt.Amount.String(),
		Reason:          reason,
		OccurredAt:      s.now().UTC(),
	})
	if err != nil {
		l.Error("publish checkout event", "type", eventType, "error", err)
	}
}

func (s *checkoutServiceImpl) successResult(intentID, orderID string) *CheckoutResult {
	return &CheckoutResult{
		PaymentIntentID: intentID,
		Status:          client.PaymentSucceeded,
		OrderID:         orderID,
		RedirectURL:     SuccessPath + "?order=" + url.QueryEscape(orderID),
	}
}

func (s *checkoutServiceImpl) validateDraft(draft model.OrderDraft) error {
	err := s.validate.Struct(draft)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			out.Fields[fe.Field()] = "is required"
		case "email":
			out.Fields[fe.Field()] = "must be a valid email address"
		case "url":
			out.Fields[fe.Field()] = "must be a valid URL"
		default:
			out.Fields[fe.Field()] = "is invalid"
		}
	}
	return out
}

func buildDraft(attempt *model.CheckoutAttempt, in *SubmitInput) model.OrderDraft {
	contact := model.Contact{
		Name:  strings.TrimSpace(in.CustomerName),
		Email: strings.TrimSpace(in.CustomerEmail),
	}

	if attempt.ItemKind == model.ItemKindSite {
		return &model.SiteOrder{
			Contact:             contact,
			SiteID:              attempt.ItemID,
			TargetURL:           strings.TrimSpace(in.TargetURL),
			ArticleTopic:        strings.TrimSpace(in.ArticleTopic),
			SpecialInstructions: strings.TrimSpace(in.SpecialInstructions),
		}
	}
	return &model.PackageOrder{
		Contact:   contact,
		PackageID: attempt.ItemID,
	}
}

func orderRequest(draft model.OrderDraft, attempt *model.CheckoutAttempt, intentID string) *client.CreateOrderRequest {
	buyer := draft.Buyer()
	req := &client.CreateOrderRequest{
		UserID:                attempt.UserID,
		OrderType:             draft.Kind(),
		CustomerName:          buyer.Name,
		CustomerEmail:         buyer.Email,
		TotalAmount:           attempt.Amount.InexactFloat64(),
		StripePaymentIntentID: intentID,
		PaymentStatus:         statusPending,
		Status:                statusPending,
	}

	switch d := draft.(type) {
	case *model.SiteOrder:
		req.SiteID = d.SiteID
		req.TargetURL = d.TargetURL
		req.ArticleTopic = d.ArticleTopic
		req.SpecialInstructions = d.SpecialInstructions
	case *model.PackageOrder:
		req.PackageID = d.PackageID
	}
	return req
}
