package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"checkout-backend/internal/domain"
)

const statusCompleted = "COMPLETED"

type Client struct {
	ClientID string
	Secret   string
	BaseURL  string
	HTTP     *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
	CustomID  string `json:"custom_id"`
	InvoiceID string `json:"invoice_id"`
}

// FetchPayment reads a capture. PayPal reports the amount as a decimal
// string; it is converted to minor units of its own currency.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*domain.PaymentSnapshot, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/v2/payments/captures/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.invalidate()
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("paypal error %d: %s: %w", status, strings.TrimSpace(string(body)), domain.ErrPaymentNotFound)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("paypal error %d: %s", status, strings.TrimSpace(string(body)))
	}
	var cp capture
	if err := json.Unmarshal(body, &cp); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	amount, err := decimal.NewFromString(cp.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("capture %s amount %q: %w", cp.ID, cp.Amount.Value, err)
	}
	ref := cp.CustomID
	if ref == "" {
		ref = cp.InvoiceID
	}
	return &domain.PaymentSnapshot{
		Provider:    domain.ProviderPayPal,
		ID:          cp.ID,
		Status:      cp.Status,
		Succeeded:   cp.Status == statusCompleted,
		AmountMinor: domain.ToMinorUnits(amount, cp.Amount.CurrencyCode),
		Currency:    strings.ToUpper(cp.Amount.CurrencyCode),
		Reference:   ref,
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.expiresAt) {
		return c.token, nil
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.Secret) == "" {
		return "", fmt.Errorf("paypal credentials not configured")
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, status, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("paypal token error %d: %s", status, strings.TrimSpace(string(body)))
	}
	var tr tokenResp
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}
	// Refresh a minute early so a token never expires mid-request.
	ttl := time.Duration(tr.ExpiresIn)*time.Second - time.Minute
	if ttl < 0 {
		ttl = 0
	}
	c.token = tr.AccessToken
	c.expiresAt = time.Now().Add(ttl)
	return c.token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) base() string {
	if b := strings.TrimRight(c.BaseURL, "/"); b != "" {
		return b
	}
	return "https://api-m.paypal.com"
}
