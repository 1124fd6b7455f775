package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrNoSignature       = errors.New("stripe signature header missing")
	ErrSignatureMismatch = errors.New("stripe signature mismatch")
	ErrSignatureExpired  = errors.New("stripe signature timestamp outside tolerance")
)

type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object paymentIntent `json:"object"`
	} `json:"data"`
}

// PaymentIntentID and CheckoutID are only meaningful for payment_intent events.
func (e *Event) PaymentIntentID() string { return e.Data.Object.ID }

func (e *Event) CheckoutID() string { return e.Data.Object.Metadata["checkout_id"] }

type WebhookVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

// ConstructEvent checks the Stripe-Signature header against payload and
// decodes the event.
func (v *WebhookVerifier) ConstructEvent(payload []byte, header string) (*Event, error) {
	if err := v.Verify(payload, header); err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	return &ev, nil
}

func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	if strings.TrimSpace(v.Secret) == "" {
		return fmt.Errorf("stripe webhook secret not configured")
	}
	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	tol := v.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if d := now.Sub(time.Unix(ts, 0)); d > tol || d < -tol {
		return ErrSignatureExpired
	}
	expected := Sign(v.Secret, ts, payload)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign returns the hex v1 signature for payload at timestamp ts.
func Sign(secret string, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, ErrNoSignature
	}
	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid stripe signature timestamp: %w", err)
			}
			ts = n
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, ErrNoSignature
	}
	return ts, sigs, nil
}
