package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"

	"checkout-backend/internal/domain"
	"checkout-backend/internal/usecase"
)

const maxBodyBytes = 64 << 10

const schemaCompleteCheckout = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["paymentProvider", "paymentId"],
  "properties": {
    "paymentProvider": { "type": "string", "minLength": 1, "maxLength": 32 },
    "paymentId": { "type": "string", "minLength": 1, "maxLength": 255 }
  },
  "additionalProperties": false
}`

var completeCheckoutSchema = mustSchema(schemaCompleteCheckout)

func mustSchema(s string) *gojsonschema.Schema {
	sc, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid schema: %v", err))
	}
	return sc
}

type completeCheckoutReq struct {
	PaymentProvider string `json:"paymentProvider"`
	PaymentID       string `json:"paymentId"`
}

// validateJSON checks body against schema before it is decoded into a
// typed request.
func validateJSON(schema *gojsonschema.Schema, body []byte) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
}

func (s *Server) handleComplete(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		s.abort(c, http.StatusBadRequest, "BadRequest", "request body unreadable")
		return
	}
	if err := validateJSON(completeCheckoutSchema, body); err != nil {
		s.abort(c, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	var req completeCheckoutReq
	if err := json.Unmarshal(body, &req); err != nil {
		s.abort(c, http.StatusBadRequest, "BadRequest", "invalid json")
		return
	}
	provider, ok := domain.ParseProvider(req.PaymentProvider)
	if !ok {
		s.abort(c, http.StatusBadRequest, "BadRequest", "unsupported payment provider: "+req.PaymentProvider)
		return
	}

	res, err := s.deps.Checkout.Complete(c.Request.Context(), usecase.CompleteRequest{
		CheckoutID: c.Param("checkoutId"),
		Provider:   provider,
		PaymentID:  strings.TrimSpace(req.PaymentID),
		Caller:     callerFrom(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
