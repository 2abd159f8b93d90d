package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	ItemKindSite    ItemKind = "site"
	ItemKindPackage ItemKind = "package"
)

// ItemRef points at the one item a checkout is for.
type ItemRef struct {
	Kind ItemKind
	ID   string
}

// NewItemRef accepts the site and package selections from navigation state.
// Exactly one of them must be set.
func NewItemRef(siteID, packageID string) (ItemRef, bool) {
	switch {
	case siteID != "" && packageID == "":
		return ItemRef{Kind: ItemKindSite, ID: siteID}, true
	case packageID != "" && siteID == "":
		return ItemRef{Kind: ItemKindPackage, ID: packageID}, true
	default:
		return ItemRef{}, false
	}
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// Item is an orderable site or package as returned by the backend.
type Item struct {
	Kind            ItemKind
	ID              string
	Name            string
	Category        string
	Price           decimal.Decimal
	DiscountedPrice *decimal.Decimal
}

// ChargeAmount is the discounted price for packages and the listed price for sites.
func (i *Item) ChargeAmount() decimal.Decimal {
	if i.Kind == ItemKindPackage && i.DiscountedPrice != nil {
		return *i.DiscountedPrice
	}
	return i.Price
}

// PaymentSession scopes one payment attempt at the provider.
type PaymentSession struct {
	ClientSecret    string
	PaymentIntentID string
}
