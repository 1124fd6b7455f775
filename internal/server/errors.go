package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"checkout-backend/internal/usecase"
)

func (s *Server) abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":      code,
			"message":   msg,
			"requestId": c.GetString(ctxRequestID),
		},
	})
}

// fail maps usecase errors onto the HTTP envelope. Infrastructure details
// are logged, not returned.
func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "requestId", c.GetString(ctxRequestID), "path", c.FullPath(), "err", err)
		msg = "temporarily unavailable, please retry"
	}
	s.abort(c, status, code, msg)
}

func classify(err error) (int, string) {
	var (
		notFound  usecase.ErrNotFound
		forbidden usecase.ErrForbidden
		bad       usecase.ErrBadRequest
		gone      usecase.ErrGone
		rejected  usecase.ErrPaymentRejected
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NotFound"
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.As(err, &bad):
		return http.StatusBadRequest, "BadRequest"
	case errors.As(err, &rejected):
		return http.StatusBadRequest, "PaymentRejected"
	case errors.As(err, &gone):
		return http.StatusGone, "Gone"
	default:
		return http.StatusInternalServerError, "ServerError"
	}
}
