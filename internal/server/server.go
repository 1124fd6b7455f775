package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"checkout-backend/internal/config"
	"checkout-backend/internal/domain"
	"checkout-backend/internal/infrastructure/stripe"
	"checkout-backend/internal/infrastructure/wechat"
	"checkout-backend/internal/ratelimit"
	"checkout-backend/internal/usecase"
)

type Completer interface {
	Complete(ctx context.Context, req usecase.CompleteRequest) (*usecase.CompleteResult, error)
}

type OrderReader interface {
	Get(ctx context.Context, id string, caller usecase.Caller) (*domain.Order, error)
	List(ctx context.Context, caller usecase.Caller, page, pageSize int) ([]domain.Order, int, error)
}

type CallerResolver interface {
	Resolve(token string) usecase.Caller
}

type StripeEvents interface {
	ConstructEvent(payload []byte, header string) (*stripe.Event, error)
}

type WechatNotifications interface {
	ParseNotification(h wechat.NotifyHeaders, body []byte) (*wechat.Notification, *wechat.Transaction, error)
}

// HealthCheck is one dependency reported by /healthz. Only critical checks
// turn the endpoint unhealthy.
type HealthCheck struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

type Deps struct {
	Checkout Completer
	Orders   OrderReader
	Identity CallerResolver
	Limiter  *ratelimit.Limiter
	Stripe   StripeEvents
	Wechat   WechatNotifications
	Health   []HealthCheck
	Log      *slog.Logger
}

type Server struct {
	cfg    config.Config
	deps   Deps
	log    *slog.Logger
	engine *gin.Engine
}

func New(cfg config.Config, deps Deps) *Server {
	switch strings.ToLower(cfg.Env) {
	case "prod", "production":
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log.With("component", "http"),
		engine: gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), s.requestID(), s.accessLog(), s.cors())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.Use(s.identity())
	{
		auth := api.Group("/auth", s.rateLimit(ratelimit.BucketAuth))
		auth.GET("/session", s.handleSession)

		co := api.Group("/checkout", s.rateLimit(ratelimit.BucketAPI))
		co.POST("/:checkoutId/complete", s.handleComplete)

		orders := api.Group("/orders", s.rateLimit(ratelimit.BucketAPI))
		orders.GET("", s.handleListOrders)
		orders.GET("/:orderId", s.handleGetOrder)

		hooks := api.Group("/webhooks", s.rateLimit(ratelimit.BucketWebhook))
		hooks.POST("/stripe", s.handleStripeWebhook)
		hooks.POST("/wechat", s.handleWechatWebhook)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	overall := "ok"
	checks := map[string]string{}
	for _, hc := range s.deps.Health {
		if err := hc.Ping(c.Request.Context()); err != nil {
			checks[hc.Name] = err.Error()
			if hc.Critical {
				status = http.StatusServiceUnavailable
				overall = "unavailable"
			} else if overall == "ok" {
				overall = "degraded"
			}
			continue
		}
		checks[hc.Name] = "ok"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}

func (s *Server) handleSession(c *gin.Context) {
	caller := callerFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": caller.CustomerID != "",
		"customerId":    caller.CustomerID,
	})
}
