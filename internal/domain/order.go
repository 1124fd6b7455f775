package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentPartial     FulfillmentStatus = "partial"
	FulfillmentFulfilled   FulfillmentStatus = "fulfilled"
)

type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
	Image     string          `json:"image,omitempty"`
}

type Order struct {
	ID                string            `json:"id"`
	OrderNumber       int64             `json:"orderNumber"`
	CheckoutID        string            `json:"checkoutId"`
	CustomerID        string            `json:"customerId,omitempty"`
	Email             string            `json:"email"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	ShippingTotal     decimal.Decimal   `json:"shippingTotal"`
	TaxTotal          decimal.Decimal   `json:"taxTotal"`
	Total             decimal.Decimal   `json:"total"`
	Currency          string            `json:"currency"`
	Status            OrderStatus       `json:"status"`
	PaymentStatus     PaymentStatus     `json:"paymentStatus"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillmentStatus"`
	ShippingMethod    string            `json:"shippingMethod"`
	ShippingAddress   Address           `json:"shippingAddress"`
	BillingAddress    *Address          `json:"billingAddress,omitempty"`
	PaymentProvider   PaymentProvider   `json:"paymentProvider"`
	PaymentID         string            `json:"paymentId"`
	PaidAt            time.Time         `json:"paidAt"`
	CreatedAt         time.Time         `json:"createdAt"`
	Items             []OrderItem       `json:"items"`
}

// Shippable reports whether the order may move to shipped.
func (o *Order) Shippable() bool {
	return o.PaymentStatus == PaymentPaid &&
		(o.Status == OrderPending || o.Status == OrderProcessing) &&
		o.FulfillmentStatus != FulfillmentFulfilled
}
