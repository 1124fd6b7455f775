package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-backend/internal/domain"
)

const statusSucceeded = "succeeded"

type Client struct {
	SecretKey string
	BaseURL   string
	HTTP      *http.Client
}

type paymentIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchPayment reads a PaymentIntent. Only amount_received counts as
// settled money; the requested amount is ignored.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*domain.PaymentSnapshot, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key not configured")
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "https://api.stripe.com"
	}
	u := base + "/v1/payment_intents/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read payment intent: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		// 404 and resource_missing mean the intent does not exist; other
		// failures stay retryable.
		if resp.StatusCode == http.StatusNotFound || ae.Error.Code == "resource_missing" {
			return nil, fmt.Errorf("stripe error %d: %s: %w", resp.StatusCode, msg, domain.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("stripe error %d: %s", resp.StatusCode, msg)
	}
	var pi paymentIntent
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &domain.PaymentSnapshot{
		Provider:    domain.ProviderStripe,
		ID:          pi.ID,
		Status:      pi.Status,
		Succeeded:   pi.Status == statusSucceeded,
		AmountMinor: pi.AmountReceived,
		Currency:    strings.ToUpper(pi.Currency),
		Reference:   pi.Metadata["checkout_id"],
	}, nil
}
