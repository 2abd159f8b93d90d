package dto

import "github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/model"

type CheckoutItem struct {
	Kind          model.ItemKind `json:"kind"`
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Category      string         `json:"category,omitempty"`
	OriginalPrice string         `json:"originalPrice,omitempty"` // set when a discount applies
}

type CheckoutSessionResponse struct {
	Item              CheckoutItem `json:"item"`
	Amount            string       `json:"amount"`
	Currency          string       `json:"currency"`
	ClientSecret      string       `json:"clientSecret"`
	PublishableKey    string       `json:"publishableKey"`
	RequiresTargetURL bool         `json:"requiresTargetUrl"`
}

type SubmitRequest struct {
	ClientSecret        string `json:"clientSecret"`
	PaymentMethodID     string `json:"paymentMethodId"`
	CustomerName        string `json:"customerName"`
	CustomerEmail       string `json:"customerEmail"`
	TargetURL           string `json:"targetUrl"`
	ArticleTopic        string `json:"articleTopic"`
	SpecialInstructions string `json:"specialInstructions"`
}

type SubmitResponse struct {
	Status      string `json:"status"`
	OrderID     string `json:"orderId,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}
