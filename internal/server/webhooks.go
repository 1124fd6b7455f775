package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"checkout-backend/internal/domain"
	"checkout-backend/internal/infrastructure/stripe"
	"checkout-backend/internal/infrastructure/wechat"
	"checkout-backend/internal/usecase"
)

var systemCaller = usecase.Caller{System: true}

// completeFromWebhook runs the same completion path as the browser redirect.
// It reports whether the provider should retry the delivery: only
// infrastructure failures are worth retrying.
func (s *Server) completeFromWebhook(c *gin.Context, provider domain.PaymentProvider, checkoutID, paymentID string) (retry bool) {
	log := s.log.With("provider", provider, "checkoutId", checkoutID, "paymentId", paymentID)
	if checkoutID == "" || paymentID == "" {
		log.Warn("webhook without checkout reference, ignoring")
		return false
	}
	res, err := s.deps.Checkout.Complete(c.Request.Context(), usecase.CompleteRequest{
		CheckoutID: checkoutID,
		Provider:   provider,
		PaymentID:  paymentID,
		Caller:     systemCaller,
	})
	var unavailable *usecase.ErrUnavailable
	switch {
	case errors.As(err, &unavailable):
		log.Error("webhook completion failed, asking provider to retry", "err", err)
		return true
	case err != nil:
		log.Warn("webhook completion rejected", "err", err)
		return false
	}
	log.Info("webhook completion", "orderId", res.Order.ID, "idempotent", res.Idempotent)
	return false
}

func (s *Server) handleStripeWebhook(c *gin.Context) {
	if s.deps.Stripe == nil {
		s.abort(c, http.StatusNotFound, "NotFound", "stripe webhooks not configured")
		return
	}
	body, err := readBody(c)
	if err != nil {
		s.abort(c, http.StatusBadRequest, "BadRequest", "request body unreadable")
		return
	}
	ev, err := s.deps.Stripe.ConstructEvent(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.log.Warn("stripe webhook rejected", "err", err, "requestId", c.GetString(ctxRequestID))
		s.abort(c, http.StatusBadRequest, "BadRequest", "invalid signature")
		return
	}
	if ev.Type != stripe.EventPaymentSucceeded {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if s.completeFromWebhook(c, domain.ProviderStripe, ev.CheckoutID(), ev.PaymentIntentID()) {
		s.abort(c, http.StatusInternalServerError, "ServerError", "temporarily unavailable, please retry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// handleWechatWebhook answers in the shape WeChat Pay expects: 204 on
// success, {"code":"FAIL"} with a non-2xx status to request redelivery.
func (s *Server) handleWechatWebhook(c *gin.Context) {
	if s.deps.Wechat == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "FAIL", "message": "wechat pay not configured"})
		return
	}
	body, err := readBody(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "body unreadable"})
		return
	}
	_, tx, err := s.deps.Wechat.ParseNotification(wechatHeaders(c), body)
	if err != nil {
		s.log.Warn("wechat notification rejected", "err", err, "requestId", c.GetString(ctxRequestID))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "FAIL", "message": "invalid notification"})
		return
	}
	if tx == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if s.completeFromWebhook(c, domain.ProviderWechat, tx.OutTradeNo, tx.TransactionID) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": "retry later"})
		return
	}
	c.Status(http.StatusNoContent)
}

func wechatHeaders(c *gin.Context) wechat.NotifyHeaders {
	return wechat.NotifyHeaders{
		Timestamp: c.GetHeader("Wechatpay-Timestamp"),
		Nonce:     c.GetHeader("Wechatpay-Nonce"),
		Signature: c.GetHeader("Wechatpay-Signature"),
		Serial:    c.GetHeader("Wechatpay-Serial"),
	}
}
