package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/model"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/session"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound matches backend 404s and empty item payloads.
var ErrNotFound = errors.New("backend: not found")

const fallbackErrorMessage = "Something went wrong. Please try again."

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// CreateOrderRequest is the body of POST /orders.
// Site orders carry siteId and targetUrl, package orders carry packageId.
type CreateOrderRequest struct {
	UserID                string         `json:"userId,omitempty"`
	OrderType             model.ItemKind `json:"orderType"`
	CustomerName          string         `json:"customerName"`
	CustomerEmail         string         `json:"customerEmail"`
	TotalAmount           float64        `json:"totalAmount"`
	StripePaymentIntentID string         `json:"stripePaymentIntentId"`
	PaymentStatus         string         `json:"paymentStatus"`
	Status                string         `json:"status"`

	SiteID              string `json:"siteId,omitempty"`
	TargetURL           string `json:"targetUrl,omitempty"`
	ArticleTopic        string `json:"articleTopic,omitempty"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`

	PackageID string `json:"packageId,omitempty"`
}

type BackendClient interface {
	GetSite(ctx context.Context, siteID string) (*model.Item, error)
	GetPackage(ctx context.Context, packageID string) (*model.Item, error)
	CreatePaymentIntent(ctx context.Context, itemID string, amount decimal.Decimal) (*model.PaymentSession, error)
	CreateOrder(ctx context.Context, req *CreateOrderRequest, idempotencyKey string) (string, error)
	ConfirmPayment(ctx context.Context, paymentIntentID string) error
}

type backendClientImpl struct {
	httpClient *http.Client
	baseApiURL string
}

func NewBackendClient(baseApiURL string, httpClient *http.Client) BackendClient {
	return &backendClientImpl{
		httpClient: httpClient,
		baseApiURL: strings.TrimRight(baseApiURL, "/"),
	}
}

type backendID struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
}

func (b backendID) value() string {
	if b.ID != "" {
		return b.ID
	}
	return b.MongoID
}

type siteResult struct {
	backendID
	URL      string          `json:"url"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

type packageResult struct {
	backendID
	Name            string           `json:"name"`
	Category        string           `json:"category"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discountedPrice"`
}

func (c *backendClientImpl) GetSite(ctx context.Context, siteID string) (*model.Item, error) {
	var res siteResult
	if err := c.do(ctx, http.MethodGet, "/sites/"+url.PathEscape(siteID), nil, nil, &res); err != nil {
		return nil, fmt.Errorf("get site %s: %w", siteID, err)
	}
	if res.value() == "" {
		return nil, fmt.Errorf("get site %s: %w", siteID, ErrNotFound)
	}

	name := res.Name
	if name == "" {
		name = res.URL
	}
	return &model.Item{
		Kind:     model.ItemKindSite,
		ID:       res.value(),
		Name:     name,
		Category: res.Category,
		Price:    res.Price,
	}, nil
}

func (c *backendClientImpl) GetPackage(ctx context.Context, packageID string) (*model.Item, error) {
	var res packageResult
	if err := c.do(ctx, http.MethodGet, "/packages/"+url.PathEscape(packageID), nil, nil, &res); err != nil {
		return nil, fmt.Errorf("get package %s: %w", packageID, err)
	}
	if res.value() == "" {
		return nil, fmt.Errorf("get package %s: %w", packageID, ErrNotFound)
	}

	return &model.Item{
		Kind:            model.ItemKindPackage,
		ID:              res.value(),
		Name:            res.Name,
		Category:        res.Category,
		Price:           res.Price,
		DiscountedPrice: res.DiscountedPrice,
	}, nil
}

func (c *backendClientImpl) CreatePaymentIntent(ctx context.Context, itemID string, amount decimal.Decimal) (*model.PaymentSession, error) {
	payload := map[string]any{
		"orderId": itemID,
		"amount":  amount.InexactFloat64(),
	}

	var res struct {
		ClientSecret string `json:"clientSecret"`
	}
	if err := c.do(ctx, http.MethodPost, "/payments/create-intent", payload, nil, &res); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	intentID, ok := model.PaymentIntentIDFromSecret(res.ClientSecret)
	if !ok {
		return nil, fmt.Errorf("create payment intent: malformed client secret")
	}

	return &model.PaymentSession{
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: intentID,
	}, nil
}

func (c *backendClientImpl) CreateOrder(ctx context.Context, req *CreateOrderRequest, idempotencyKey string) (string, error) {
	headers := http.Header{}
	if idempotencyKey != "" {
		headers.Set("Idempotency-Key", idempotencyKey)
	}

	var res struct {
		backendID
		Order *backendID `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders", req, headers, &res); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}

	orderID := res.value()
	if orderID == "" && res.Order != nil {
		orderID = res.Order.value()
	}
	if orderID == "" {
		return "", fmt.Errorf("create order: response has no order id")
	}
	return orderID, nil
}

func (c *backendClientImpl) ConfirmPayment(ctx context.Context, paymentIntentID string) error {
	payload := map[string]string{
		"paymentIntentId": paymentIntentID,
	}
	if err := c.do(ctx, http.MethodPost, "/payments/confirm", payload, nil, nil); err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	return nil
}

func (c *backendClientImpl) do(ctx context.Context, method, path string, body any, headers http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, reader)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := session.FromContext(ctx).Token(ctx)
	switch {
	case err == nil:
		req.Header.Set("Authorization", "Bearer "+token)
	case errors.Is(err, session.ErrNoCredentials):
		// anonymous request, the backend decides
	default:
		return fmt.Errorf("session token: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// rejected credentials are not offered again for this session
		session.FromContext(ctx).SignOut()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	if out == nil {
		return nil
	}

	data := unwrapData(respBody)
	if len(data) == 0 || string(data) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// unwrapData returns the "data" member of enveloped responses, or the body itself.
func unwrapData(body []byte) []byte {
	body = bytes.TrimSpace(body)
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return envelope.Data
	}
	return body
}

func errorMessage(body []byte) string {
	var res struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &res); err == nil && res.Message != "" {
		return res.Message
	}
	return fallbackErrorMessage
}
