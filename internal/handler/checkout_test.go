package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/client"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/dto"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/model"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheckoutService struct {
	session *service.CheckoutSession
	result  *service.CheckoutResult
	err     error

	siteID, packageID string
	submitted         *service.SubmitInput
	resumedSecret     string
	webhookSignature  string
}

func (s *stubCheckoutService) Begin(_ context.Context, siteID, packageID string) (*service.CheckoutSession, error) {
	s.siteID, s.packageID = siteID, packageID
	return s.session, s.err
}

func (s *stubCheckoutService) Submit(_ context.Context, in *service.SubmitInput) (*service.CheckoutResult, error) {
	s.submitted = in
	return s.result, s.err
}

func (s *stubCheckoutService) Resume(_ context.Context, clientSecret string) (*service.CheckoutResult, error) {
	s.resumedSecret = clientSecret
	return s.result, s.err
}

func (s *stubCheckoutService) HandleWebhook(_ context.Context, _ []byte, signature string) error {
	s.webhookSignature = signature
	return s.err
}

func packageSession() *service.CheckoutSession {
	discounted := decimal.NewFromInt(297)
	return &service.CheckoutSession{
		Item: &model.Item{
			Kind:            model.ItemKindPackage,
			ID:              "starter-growth-package",
			Name:            "Starter Growth",
			Price:           decimal.NewFromInt(397),
			DiscountedPrice: &discounted,
		},
		Amount:         discounted,
		ClientSecret:   "pi_abc_secret_xyz",
		PublishableKey: "pk_test_123",
	}
}

func doRequest(t *testing.T, method, target, body string, h echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var res dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestGetSession(t *testing.T) {
	svc := &stubCheckoutService{session: packageSession()}
	h := NewCheckoutHandler(svc)

	rec, err := doRequest(t, http.MethodGet, "/api/checkout/session?package=starter-growth-package", "", h.GetSession)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	var res dto.CheckoutSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "297.00", res.Amount)
	assert.Equal(t, "397.00", res.Item.OriginalPrice)
	assert.Equal(t, "usd", res.Currency)
	assert.Equal(t, "pi_abc_secret_xyz", res.ClientSecret)
	assert.Equal(t, "pk_test_123", res.PublishableKey)
	assert.Equal(t, "starter-growth-package", svc.packageID)
	assert.Empty(t, svc.siteID)
}

func TestGetSession_ErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{service.ErrNoItemSelected, http.StatusBadRequest},
		{fmt.Errorf("%w: site/x", service.ErrItemNotFound), http.StatusNotFound},
		{service.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: boom", service.ErrPaymentSessionInit), http.StatusBadGateway},
		{fmt.Errorf("%w: boom", service.ErrItemUnavailable), http.StatusBadGateway},
	}

	for _, tc := range cases {
		h := NewCheckoutHandler(&stubCheckoutService{err: tc.err})
		rec, err := doRequest(t, http.MethodGet, "/api/checkout/session", "", h.GetSession)
		require.NoError(t, err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestSubmit(t *testing.T) {
	svc := &stubCheckoutService{result: &service.CheckoutResult{
		Status:      client.PaymentSucceeded,
		OrderID:     "ord-1",
		RedirectURL: "/checkout/success?order=ord-1",
	}}
	h := NewCheckoutHandler(svc)

	body := `{"clientSecret":"pi_abc_secret_xyz","paymentMethodId":"pm_1","customerName":"Ann","customerEmail":"ann@example.com","targetUrl":"https://shop.example"}`
	rec, err := doRequest(t, http.MethodPost, "/api/checkout/submit", body, h.Submit)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	var res dto.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "succeeded", res.Status)
	assert.Equal(t, "/checkout/success?order=ord-1", res.RedirectURL)

	require.NotNil(t, svc.submitted)
	assert.Equal(t, "pm_1", svc.submitted.PaymentMethodID)
	assert.Equal(t, "https://shop.example", svc.submitted.TargetURL)
}

func TestSubmit_RequiresActionRemembersCredentials(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{result: &service.CheckoutResult{
		Status:      client.PaymentRequiresAction,
		RedirectURL: "https://hooks.stripe.com/3d_secure_2/authenticate",
	}})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/submit", strings.NewReader(`{"clientSecret":"pi_abc_secret_xyz"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer jwt-1")
	rec := httptest.NewRecorder()
	require.NoError(t, h.Submit(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "token", cookies[0].Name)
	assert.Equal(t, "jwt-1", cookies[0].Value)
	assert.Equal(t, service.ReturnPath, cookies[0].Path)
}

func TestSubmit_SucceededSetsNoCookies(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{result: &service.CheckoutResult{
		Status:      client.PaymentSucceeded,
		RedirectURL: "/checkout/success?order=ord-1",
	}})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/submit", strings.NewReader(`{"clientSecret":"pi_abc_secret_xyz"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer jwt-1")
	rec := httptest.NewRecorder()
	require.NoError(t, h.Submit(e.NewContext(req, rec)))

	assert.Empty(t, rec.Result().Cookies())
}

func TestSubmit_SessionExpired(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{
		err: fmt.Errorf("%w: %w", service.ErrSessionExpired, errors.New("TOKEN_EXPIRED")),
	})

	rec, err := doRequest(t, http.MethodPost, "/api/checkout/submit", `{"clientSecret":"pi_abc_secret_xyz"}`, h.Submit)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Your session expired. Please sign in again.", decodeError(t, rec).Error)
}

func TestSubmit_ProviderErrorIsRetryable(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{
		err: &client.ProviderError{Code: "card_declined", Message: "Your card was declined."},
	})

	rec, err := doRequest(t, http.MethodPost, "/api/checkout/submit", `{"clientSecret":"pi_abc_secret_xyz"}`, h.Submit)
	require.NoError(t, err)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	res := decodeError(t, rec)
	assert.Equal(t, "Your card was declined.", res.Error)
	assert.Equal(t, "card_declined", res.Code)
	assert.True(t, res.Retryable)
}

func TestSubmit_ValidationFields(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{
		err: &service.ValidationError{Fields: map[string]string{"targetUrl": "is required"}},
	})

	rec, err := doRequest(t, http.MethodPost, "/api/checkout/submit", `{}`, h.Submit)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "is required", decodeError(t, rec).Fields["targetUrl"])
}

func TestSubmit_OrderCreationFailure(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{err: fmt.Errorf("%w: timeout", service.ErrOrderCreation)})

	rec, err := doRequest(t, http.MethodPost, "/api/checkout/submit", `{}`, h.Submit)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decodeError(t, rec).Retryable)
}

func TestSubmit_UnexpectedErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	h := NewCheckoutHandler(&stubCheckoutService{err: boom})

	_, err := doRequest(t, http.MethodPost, "/api/checkout/submit", `{}`, h.Submit)
	assert.ErrorIs(t, err, boom)
}

func TestHandleReturn(t *testing.T) {
	svc := &stubCheckoutService{result: &service.CheckoutResult{
		Status:      client.PaymentSucceeded,
		RedirectURL: "/checkout/success?order=ord-1",
	}}
	h := NewCheckoutHandler(svc)

	rec, err := doRequest(t, http.MethodGet,
		"/checkout/return?payment_intent=pi_abc&payment_intent_client_secret=pi_abc_secret_xyz&redirect_status=succeeded", "", h.HandleReturn)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/checkout/success?order=ord-1", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, "pi_abc_secret_xyz", svc.resumedSecret)
}

func TestHandleReturn_ProviderError(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{err: &client.ProviderError{Message: "Authentication failed."}})

	rec, err := doRequest(t, http.MethodGet, "/checkout/return?payment_intent_client_secret=pi_abc_secret_xyz", "", h.HandleReturn)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/checkout?payment_error=Authentication+failed.", rec.Header().Get(echo.HeaderLocation))
}

func TestHandleReturn_MissingSecret(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{})

	rec, err := doRequest(t, http.MethodGet, "/checkout/return", "", h.HandleReturn)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuccessPageEscapesOrderID(t *testing.T) {
	h := NewCheckoutHandler(&stubCheckoutService{})

	rec, err := doRequest(t, http.MethodGet, "/checkout/success?order=%3Cscript%3E", "", h.Success)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
	assert.NotContains(t, rec.Body.String(), "<script>")
}

func TestStripeWebhook(t *testing.T) {
	svc := &stubCheckoutService{}
	h := NewCheckoutHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()

	require.NoError(t, h.StripeWebhook(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t=1,v1=abc", svc.webhookSignature)

	svc.err = fmt.Errorf("%w: bad signature", service.ErrInvalidWebhook)
	rec, err := doRequest(t, http.MethodPost, "/api/stripe/webhook", `{}`, h.StripeWebhook)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
