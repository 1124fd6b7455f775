package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// CartItem is a line snapshot taken when the item was added to the cart.
// Later catalog price changes never touch it.
type CartItem struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Image     string          `json:"image,omitempty"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CheckoutSession struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customerId,omitempty"`
	Email           string          `json:"email"`
	CartItems       []CartItem      `json:"cartItems"`
	ShippingAddress *Address        `json:"shippingAddress,omitempty"`
	BillingAddress  *Address        `json:"billingAddress,omitempty"`
	ShippingMethod  string          `json:"shippingMethod,omitempty"`
	ShippingRateID  string          `json:"shippingRateId,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingTotal   decimal.Decimal `json:"shippingTotal"`
	TaxTotal        decimal.Decimal `json:"taxTotal"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (c *CheckoutSession) Completed() bool { return c.CompletedAt != nil }

func (c *CheckoutSession) IsGuest() bool { return c.CustomerID == "" }

// NewCheckoutID returns a random v4 UUID. Guest checkouts are reachable by
// id alone, so the id must stay unguessable.
func NewCheckoutID() string {
	return uuid.NewString()
}
