package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-backend/internal/config"
	"checkout-backend/internal/domain"
	"checkout-backend/internal/infrastructure/queue"
	"checkout-backend/internal/infrastructure/repo"
	"checkout-backend/internal/infrastructure/stripe"
	"checkout-backend/internal/infrastructure/wechat"
	"checkout-backend/internal/logging"
	"checkout-backend/internal/ratelimit"
	"checkout-backend/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGateway struct {
	mu    sync.Mutex
	snaps map[string]*domain.PaymentSnapshot
	err   error
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*domain.PaymentSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	s, ok := g.snaps[id]
	if !ok {
		return nil, errors.New("no such payment")
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) set(id, status string, minor int64, currency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snaps[id] = &domain.PaymentSnapshot{
		Provider: domain.ProviderStripe, ID: id, Status: status,
		Succeeded: status == "succeeded", AmountMinor: minor, Currency: currency,
	}
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
}

func (m *fakeMailer) Send(_ context.Context, msg domain.EmailMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("em_%d", len(m.sent)), nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type harness struct {
	srv      *Server
	store    *repo.MemoryStore
	gw       *fakeGateway
	queue    *queue.MemoryQueue
	mailer   *fakeMailer
	svc      *usecase.CheckoutService
	identity *usecase.IdentityService
	limiter  *ratelimit.Limiter
}

const webhookSecret = "whsec_test"

func newHarness(t *testing.T, apiLimit int) *harness {
	t.Helper()
	log := logging.Discard()
	store := repo.NewMemoryStore()
	gw := &fakeGateway{snaps: map[string]*domain.PaymentSnapshot{}}
	q := queue.NewMemoryQueue()
	mailer := &fakeMailer{}
	identity := &usecase.IdentityService{JWTSecret: "test-secret"}
	svc := &usecase.CheckoutService{
		Guard: &usecase.CheckoutGuard{Checkouts: store},
		Verifier: &usecase.PaymentVerifier{
			Gateways: map[domain.PaymentProvider]usecase.PaymentGateway{domain.ProviderStripe: gw},
			Timeout:  time.Second,
			Log:      log,
		},
		Committer: &usecase.OrderCommitter{Store: store, Timeout: time.Second, Log: log},
		Notifier: &usecase.Dispatcher{
			Probe:  q,
			Queued: &usecase.QueuedSink{Queue: q},
			Direct: &usecase.DirectSink{Handler: &usecase.NotificationHandler{Mailer: mailer}},
			Log:    log,
		},
		Log: log,
	}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), log,
		ratelimit.Bucket{Name: ratelimit.BucketAuth, Limit: 5, Window: time.Minute},
		ratelimit.Bucket{Name: ratelimit.BucketAPI, Limit: apiLimit, Window: time.Minute},
		ratelimit.Bucket{Name: ratelimit.BucketWebhook, Limit: 50, Window: time.Minute},
	)
	srv := New(config.Config{Env: "test"}, Deps{
		Checkout: svc,
		Orders:   &usecase.OrderService{Repo: store, Log: log},
		Identity: identity,
		Limiter:  limiter,
		Stripe:   &stripe.WebhookVerifier{Secret: webhookSecret},
		Health: []HealthCheck{
			{Name: "database", Critical: true, Ping: store.Ping},
			{Name: "queue", Ping: q.Ping},
		},
		Log: log,
	})
	return &harness{srv: srv, store: store, gw: gw, queue: q, mailer: mailer, svc: svc, identity: identity, limiter: limiter}
}

func (h *harness) seed(t *testing.T, id, customerID, total string) {
	t.Helper()
	require.NoError(t, h.store.PutCheckout(context.Background(), &domain.CheckoutSession{
		ID:              id,
		CustomerID:      customerID,
		Email:           "buyer@example.com",
		CartItems:       []domain.CartItem{{ProductID: "p1", Quantity: 1, Title: "Mug", UnitPrice: decimal.RequireFromString(total)}},
		ShippingAddress: &domain.Address{Name: "B", Line1: "1 Main", City: "X", PostalCode: "1", Country: "US"},
		ShippingMethod:  "standard",
		ShippingRateID:  "rate_std",
		Subtotal:        decimal.RequireFromString(total),
		Total:           decimal.RequireFromString(total),
		Currency:        "USD",
	}))
}

func (h *harness) complete(t *testing.T, checkoutID, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/"+checkoutID+"/complete", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

type orderResp struct {
	Order struct {
		ID            string `json:"id"`
		OrderNumber   int64  `json:"orderNumber"`
		Total         string `json:"total"`
		Status        string `json:"status"`
		PaymentStatus string `json:"paymentStatus"`
		Items         []struct {
			Total string `json:"total"`
		} `json:"items"`
	} `json:"order"`
	Idempotent bool `json:"idempotent"`
}

type errResp struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const stripeBody = `{"paymentProvider":"stripe","paymentId":"pi_1"}`

func TestCompleteCreatesOrderThenReplays(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")
	h.gw.set("pi_1", "succeeded", 2999, "USD")

	w := h.complete(t, "ck_1", stripeBody, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[orderResp](t, w)
	assert.Equal(t, "29.99", first.Order.Total)
	assert.Equal(t, "pending", first.Order.Status)
	assert.Equal(t, "paid", first.Order.PaymentStatus)
	assert.Equal(t, int64(1001), first.Order.OrderNumber)
	assert.False(t, first.Idempotent)
	require.Len(t, first.Order.Items, 1)

	w = h.complete(t, "ck_1", stripeBody, "")
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[orderResp](t, w)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	h.svc.Wait()
	assert.Equal(t, 1, h.queue.Len(), "replay must not queue a second confirmation")
}

func TestCompleteRejectsUnsettledPayment(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")
	h.gw.set("pi_1", "requires_action", 2999, "USD")

	w := h.complete(t, "ck_1", stripeBody, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PaymentRejected", decode[errResp](t, w).Error.Code)

	co, err := h.store.GetCheckout(context.Background(), "ck_1")
	require.NoError(t, err)
	assert.False(t, co.Completed())
}

func TestCompleteRejectsAmountMismatch(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")
	h.gw.set("pi_1", "succeeded", 2998, "USD")

	w := h.complete(t, "ck_1", stripeBody, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	_, err := h.store.OrderByPayment(context.Background(), domain.ProviderStripe, "pi_1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCompleteUnknownCheckout(t *testing.T) {
	h := newHarness(t, 100)
	w := h.complete(t, "nope", stripeBody, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	e := decode[errResp](t, w)
	assert.Equal(t, "NotFound", e.Error.Code)
	assert.NotEmpty(t, e.Error.RequestID)
}

func TestCompleteOwnership(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_owned", "cust_1", "10.00")
	h.gw.set("pi_1", "succeeded", 1000, "USD")

	other, err := h.identity.Issue("cust_2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, h.complete(t, "ck_owned", stripeBody, other).Code)
	assert.Equal(t, http.StatusForbidden, h.complete(t, "ck_owned", stripeBody, "").Code)

	owner, err := h.identity.Issue("cust_1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, h.complete(t, "ck_owned", stripeBody, owner).Code)
}

func TestCompleteCompletedWithOtherPaymentIsGone(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")
	h.gw.set("pi_1", "succeeded", 2999, "USD")
	require.Equal(t, http.StatusOK, h.complete(t, "ck_1", stripeBody, "").Code)

	w := h.complete(t, "ck_1", `{"paymentProvider":"stripe","paymentId":"pi_other"}`, "")
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestCompleteWithPaymentFromAnotherCheckout(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_victim", "cust_victim", "29.99")
	h.seed(t, "ck_attacker", "", "29.99")
	h.gw.set("pi_1", "succeeded", 2999, "USD")
	owner, err := h.identity.Issue("cust_victim", time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, h.complete(t, "ck_victim", stripeBody, owner).Code)

	w := h.complete(t, "ck_attacker", stripeBody, "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.NotContains(t, w.Body.String(), "cust_victim")
	assert.NotContains(t, w.Body.String(), "ck_victim")
	assert.Equal(t, "Gone", decode[errResp](t, w).Error.Code)

	co, err := h.store.GetCheckout(context.Background(), "ck_attacker")
	require.NoError(t, err)
	assert.False(t, co.Completed())

	w = h.complete(t, "ck_victim", stripeBody, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "cust_victim")
}

func TestCompleteValidatesBody(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")

	for name, body := range map[string]string{
		"not json":        `{`,
		"missing id":      `{"paymentProvider":"stripe"}`,
		"empty id":        `{"paymentProvider":"stripe","paymentId":""}`,
		"unknown field":   `{"paymentProvider":"stripe","paymentId":"pi_1","amount":1}`,
		"unsupported psp": `{"paymentProvider":"bitcoin","paymentId":"tx"}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := h.complete(t, "ck_1", body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCompleteGatewayFailureIsServerError(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")
	h.gw.err = errors.New("connection reset")

	w := h.complete(t, "ck_1", stripeBody, "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	e := decode[errResp](t, w)
	assert.Equal(t, "ServerError", e.Error.Code)
	assert.NotContains(t, e.Error.Message, "connection reset")
}

func TestCompleteSucceedsWithBrokerDown(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "", "29.99")
	h.gw.set("pi_1", "succeeded", 2999, "USD")
	h.queue.Close()

	w := h.complete(t, "ck_1", stripeBody, "")
	require.Equal(t, http.StatusOK, w.Code)
	h.svc.Wait()
	assert.Equal(t, 1, h.mailer.count(), "direct send used when the broker is unreachable")
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNotFound, h.complete(t, "missing", stripeBody, "").Code)
	}
	w := h.complete(t, "missing", stripeBody, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "TooManyRequests", decode[errResp](t, w).Error.Code)

	require.NoError(t, h.limiter.Reset(context.Background()))
	assert.Equal(t, http.StatusNotFound, h.complete(t, "missing", stripeBody, "").Code)
}

func stripeRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, stripe.Sign(secret, ts, payload)))
	return req
}

func TestStripeWebhookCompletesCheckout(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "cust_1", "29.99")
	h.gw.set("pi_1", "succeeded", 2999, "USD")
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded","metadata":{"checkout_id":"ck_1"}}}}`)

	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, stripeRequest(t, payload, webhookSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	o, err := h.store.OrderByPayment(context.Background(), domain.ProviderStripe, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "ck_1", o.CheckoutID)

	// The redirect arriving after the webhook replays the same order.
	owner, err := h.identity.Issue("cust_1", time.Hour)
	require.NoError(t, err)
	rw := h.complete(t, "ck_1", stripeBody, owner)
	require.Equal(t, http.StatusOK, rw.Code)
	assert.True(t, decode[orderResp](t, rw).Idempotent)
}

func TestStripeWebhookBadSignature(t *testing.T) {
	h := newHarness(t, 100)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, stripeRequest(t, []byte(`{"type":"payment_intent.succeeded"}`), "wrong"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, 100)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok","queue":"ok"}}`, w.Body.String())

	h.queue.Close()
	w = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestSessionEndpoint(t *testing.T) {
	h := newHarness(t, 100)
	tok, err := h.identity.Issue("cust_9", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":true,"customerId":"cust_9"}`, w.Body.String())
}

func (h *harness) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestOrderEndpoints(t *testing.T) {
	h := newHarness(t, 100)
	h.seed(t, "ck_1", "cust_1", "29.99")
	h.gw.set("pi_1", "succeeded", 2999, "USD")
	owner, err := h.identity.Issue("cust_1", time.Hour)
	require.NoError(t, err)
	other, err := h.identity.Issue("cust_2", time.Hour)
	require.NoError(t, err)

	w := h.complete(t, "ck_1", stripeBody, owner)
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[orderResp](t, w).Order.ID

	assert.Equal(t, http.StatusOK, h.get(t, "/api/orders/"+id, owner).Code)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/api/orders/"+id, other).Code)
	assert.Equal(t, http.StatusForbidden, h.get(t, "/api/orders", "").Code)

	list := h.get(t, "/api/orders?page=1&pageSize=10", owner)
	require.Equal(t, http.StatusOK, list.Code)
	var body struct {
		Total    int `json:"total"`
		PageSize int `json:"pageSize"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)

	list = h.get(t, "/api/orders?pageSize=1000", owner)
	require.Equal(t, http.StatusOK, list.Code)
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	assert.Equal(t, 100, body.PageSize)
}

type fakeWechat struct {
	tx  *wechat.Transaction
	err error
}

func (f *fakeWechat) ParseNotification(wechat.NotifyHeaders, []byte) (*wechat.Notification, *wechat.Transaction, error) {
	return &wechat.Notification{}, f.tx, f.err
}

func TestWechatWebhook(t *testing.T) {
	h := newHarness(t, 100)
	h.svc.Verifier.Gateways[domain.ProviderWechat] = h.gw
	h.seed(t, "ck_1", "", "29.99")
	h.gw.set("wx_1", "succeeded", 2999, "USD")

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/wechat", bytes.NewBufferString(`{}`))
		w := httptest.NewRecorder()
		h.srv.Handler().ServeHTTP(w, req)
		return w
	}

	h.srv.deps.Wechat = &fakeWechat{err: errors.New("signature mismatch")}
	assert.Equal(t, http.StatusUnauthorized, post().Code)

	h.srv.deps.Wechat = &fakeWechat{}
	assert.Equal(t, http.StatusNoContent, post().Code, "non-success events are acknowledged")

	h.srv.deps.Wechat = &fakeWechat{tx: &wechat.Transaction{OutTradeNo: "ck_1", TransactionID: "wx_1", TradeState: "SUCCESS"}}
	require.Equal(t, http.StatusNoContent, post().Code)
	o, err := h.store.OrderByPayment(context.Background(), domain.ProviderWechat, "wx_1")
	require.NoError(t, err)
	assert.Equal(t, "ck_1", o.CheckoutID)

	// Redelivery is acknowledged without a second order.
	assert.Equal(t, http.StatusNoContent, post().Code)
}
