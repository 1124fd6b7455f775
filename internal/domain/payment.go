package domain

import "strings"

type PaymentProvider string

const (
	ProviderStripe PaymentProvider = "stripe"
	ProviderPayPal PaymentProvider = "paypal"
	ProviderWechat PaymentProvider = "wechat"
)

var supportedProviders = []PaymentProvider{ProviderStripe, ProviderPayPal, ProviderWechat}

func SupportedProviders() []PaymentProvider {
	out := make([]PaymentProvider, len(supportedProviders))
	copy(out, supportedProviders)
	return out
}

func ParseProvider(s string) (PaymentProvider, bool) {
	p := PaymentProvider(strings.ToLower(strings.TrimSpace(s)))
	for _, sp := range supportedProviders {
		if p == sp {
			return p, true
		}
	}
	return "", false
}

// PaymentSnapshot is what a processor reports about a payment at lookup time.
type PaymentSnapshot struct {
	Provider    PaymentProvider
	ID          string
	Status      string
	Succeeded   bool
	AmountMinor int64
	Currency    string
	// Reference is the merchant-side reference the payment was created with
	// (checkout id), when the processor carries one.
	Reference string
}
