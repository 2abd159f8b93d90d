package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PaymentIntentIDFromSecret extracts the intent id a client secret was issued for.
// Provider client secrets look like "pi_123_secret_abc".
func PaymentIntentIDFromSecret(clientSecret string) (string, bool) {
	id, _, found := strings.Cut(clientSecret, "_secret_")
	if !found || !strings.HasPrefix(id, "pi_") {
		return "", false
	}
	return id, true
}

type Contact struct {
	Name  string `json:"customerName" validate:"required"`
	Email string `json:"customerEmail" validate:"required,email"`
}

// OrderDraft is the purchase record assembled before the backend persists it.
// It is either a SiteOrder or a PackageOrder.
type OrderDraft interface {
	Kind() ItemKind
	ItemID() string
	Buyer() Contact
	isOrderDraft()
}

type SiteOrder struct {
	Contact
	SiteID              string `json:"siteId" validate:"required"`
	TargetURL           string `json:"targetUrl" validate:"required,url"`
	ArticleTopic        string `json:"articleTopic,omitempty"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`
}

func (o *SiteOrder) Kind() ItemKind { return ItemKindSite }
func (o *SiteOrder) ItemID() string { return o.SiteID }
func (o *SiteOrder) Buyer() Contact { return o.Contact }
func (o *SiteOrder) isOrderDraft() {}

type PackageOrder struct {
	Contact
	PackageID string `json:"packageId" validate:"required"`
}

func (o *PackageOrder) Kind() ItemKind { return ItemKindPackage }
func (o *PackageOrder) ItemID() string { return o.PackageID }
func (o *PackageOrder) Buyer() Contact { return o.Contact }
func (o *PackageOrder) isOrderDraft() {}

// DecodeDraft restores a draft stored in the checkout ledger.
func DecodeDraft(kind ItemKind, raw string) (OrderDraft, error) {
	var draft OrderDraft
	switch kind {
	case ItemKindSite:
		draft = &SiteOrder{}
	case ItemKindPackage:
		draft = &PackageOrder{}
	default:
		return nil, fmt.Errorf("unknown item kind %q", kind)
	}

	if err := json.Unmarshal([]byte(raw), draft); err != nil {
		return nil, fmt.Errorf("decode %s draft: %w", kind, err)
	}
	return draft, nil
}
