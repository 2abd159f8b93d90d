package handler

import (
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/client"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/dto"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/logging"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/middleware"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/service"
	"github.com/labstack/echo/v4"
)

const (
	currency = "usd"

	// where the storefront renders the checkout form
	checkoutPath = "/checkout"

	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBody        = 64 << 10
)

type CheckoutHandler struct {
	checkoutService service.CheckoutService
}

func NewCheckoutHandler(checkoutService service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
	}
}

func (h *CheckoutHandler) GetSession(c echo.Context) error {
	ctx := c.Request().Context()

	sess, err := h.checkoutService.Begin(ctx, c.QueryParam("site"), c.QueryParam("package"))
	if err != nil {
		return checkoutError(c, err)
	}

	item := dto.CheckoutItem{
		Kind:     sess.Item.Kind,
		ID:       sess.Item.ID,
		Name:     sess.Item.Name,
		Category: sess.Item.Category,
	}
	if !sess.Amount.Equal(sess.Item.Price) {
		item.OriginalPrice = sess.Item.Price.StringFixed(2)
	}

	return c.JSON(http.StatusOK, &dto.CheckoutSessionResponse{
		Item:              item,
		Amount:            sess.Amount.StringFixed(2),
		Currency:          currency,
		ClientSecret:      sess.ClientSecret,
		PublishableKey:    sess.PublishableKey,
		RequiresTargetURL: sess.RequiresTargetURL,
	})
}

func (h *CheckoutHandler) Submit(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "invalid req body"})
	}

	result, err := h.checkoutService.Submit(ctx, &service.SubmitInput{
		ClientSecret:        req.ClientSecret,
		PaymentMethodID:     req.PaymentMethodID,
		CustomerName:        req.CustomerName,
		CustomerEmail:       req.CustomerEmail,
		TargetURL:           req.TargetURL,
		ArticleTopic:        req.ArticleTopic,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		return checkoutError(c, err)
	}

	// the provider sends the browser back without our auth headers
	if result.Status == client.PaymentRequiresAction && result.RedirectURL != "" {
		middleware.RememberCredentials(c, service.ReturnPath)
	}

	return c.JSON(http.StatusOK, &dto.SubmitResponse{
		Status:      string(result.Status),
		OrderID:     result.OrderID,
		RedirectURL: result.RedirectURL,
	})
}

// HandleReturn finishes a payment that needed off-site authentication.
// Stripe appends payment_intent_client_secret to the return URL.
func (h *CheckoutHandler) HandleReturn(c echo.Context) error {
	ctx := c.Request().Context()

	clientSecret := c.QueryParam("payment_intent_client_secret")
	if clientSecret == "" {
		return c.String(http.StatusBadRequest, "missing payment intent client secret")
	}

	result, err := h.checkoutService.Resume(ctx, clientSecret)
	if err != nil {
		var providerErr *client.ProviderError
		msg := "Something went wrong. Please try again."
		switch {
		case errors.As(err, &providerErr):
			msg = providerErr.Message
		case errors.Is(err, service.ErrUnknownSession):
			return c.String(http.StatusBadRequest, "unknown payment session")
		case errors.Is(err, service.ErrOrderCreation):
			logging.FromContext(ctx).Error("resume checkout", "error", err)
			msg = "Your payment was received but we could not record the order. Please contact support."
		default:
			logging.FromContext(ctx).Error("resume checkout", "error", err)
		}
		return c.Redirect(http.StatusFound, checkoutPath+"?payment_error="+url.QueryEscape(msg))
	}

	if result.RedirectURL != "" {
		return c.Redirect(http.StatusFound, result.RedirectURL)
	}
	return c.Redirect(http.StatusFound, checkoutPath+"?payment_status="+url.QueryEscape(string(result.Status)))
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>Order Confirmed</title>
	<style>
		body {
			font-family: Arial, sans-serif;
			text-align: center;
			margin-top: 80px;
		}
		.order {
			font-size: 20px;
			font-weight: bold;
		}
	</style>
</head>
<body>
	<h2>Thank you for your order</h2>
	<p>Your payment was successful.</p>
	{{if .}}<p>Order reference: <span class="order">{{.}}</span></p>{{end}}
	<p><a href="/">Back to marketplace</a></p>
</body>
</html>
`))

func (h *CheckoutHandler) Success(c echo.Context) error {
	var b strings.Builder
	if err := successPage.Execute(&b, c.QueryParam("order")); err != nil {
		return err
	}
	return c.HTML(http.StatusOK, b.String())
}

func (h *CheckoutHandler) StripeWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.checkoutService.HandleWebhook(ctx, body, c.Request().Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, service.ErrInvalidWebhook) {
			logging.FromContext(ctx).Warn("rejected stripe webhook", "error", err)
			return c.NoContent(http.StatusBadRequest)
		}
		return err
	}

	return c.NoContent(http.StatusOK)
}

func checkoutError(c echo.Context, err error) error {
	var (
		providerErr   *client.ProviderError
		validationErr *service.ValidationError
	)

	switch {
	case errors.Is(err, service.ErrNoItemSelected):
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "No item selected"})
	case errors.Is(err, service.ErrItemNotFound):
		return c.JSON(http.StatusNotFound, &dto.ErrorResponse{Error: "Item not found"})
	case errors.Is(err, service.ErrInvalidAmount):
		return c.JSON(http.StatusUnprocessableEntity, &dto.ErrorResponse{Error: "Item is not available for purchase"})
	case errors.Is(err, service.ErrItemUnavailable), errors.Is(err, service.ErrPaymentSessionInit):
		logging.FromContext(c.Request().Context()).Error("begin checkout", "error", err)
		return c.JSON(http.StatusBadGateway, &dto.ErrorResponse{Error: "Failed to initialize payment"})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "Please check your details", Fields: validationErr.Fields})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "Please check your details"})
	case errors.Is(err, service.ErrUnknownSession):
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "Payment session expired. Please reload the page."})
	case errors.Is(err, service.ErrSessionExpired):
		return c.JSON(http.StatusUnauthorized, &dto.ErrorResponse{Error: "Your session expired. Please sign in again."})
	case errors.As(err, &providerErr):
		return c.JSON(http.StatusPaymentRequired, &dto.ErrorResponse{Error: providerErr.Message, Code: providerErr.Code, Retryable: true})
	case errors.Is(err, service.ErrOrderCreation):
		return c.JSON(http.StatusInternalServerError, &dto.ErrorResponse{Error: "Failed to create order"})
	default:
		return err
	}
}
