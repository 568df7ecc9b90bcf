package api

import (
	"context"
	"net/http"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/ratelimit"
	"storefront-orders/internal/service"
	"storefront-orders/internal/tracking"
	"storefront-orders/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const resetAcceptedMessage = "If an account exists for this e-mail, a password reset link has been sent."

type orderService interface {
	CreateOrder(ctx context.Context, req *validation.CreateOrderRequest, meta service.RequestMeta, identity *models.Identity) (*service.CreateOrderResult, error)
	CancelOrder(ctx context.Context, req *validation.CancelOrderRequest, caller service.Caller) (*service.CancelOrderResult, error)
	CancellationPolicy(ctx context.Context, orderID string, caller service.Caller) (*models.CancellationPolicy, error)
	TrackOrder(ctx context.Context, req *validation.TrackOrderRequest) (*models.TrackingData, error)
	TrackByCredential(ctx context.Context, token string) (*models.TrackingData, error)
	VerifyCredential(token string) (*tracking.Claims, error)
	ListOrders(ctx context.Context, f models.OrderFilter, identity *models.Identity) (*service.ListOrdersResult, error)
}

type accountService interface {
	RequestPasswordReset(ctx context.Context, email string, markers ratelimit.MarkerStore) error
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Config tunes the HTTP surface
type Config struct {
	// RateLimitKey signs the password-reset marker cookie
	RateLimitKey  []byte
	SecureCookies bool
	// Markers overrides the cookie marker store, e.g. with Redis
	Markers ratelimit.MarkerStore
	Checks  map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	orders     orderService
	accounts   accountService
	identities identityResolver
	validator  *validation.Validator
	cfg        Config
}

// NewHandler creates a new HTTP handler
func NewHandler(orders orderService, accounts accountService, identities identityResolver, cfg Config) *Handler {
	return &Handler{
		orders:     orders,
		accounts:   accounts,
		identities: identities,
		validator:  validation.New(),
		cfg:        cfg,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(identityMiddleware(h.identities))
	{
		orders := v1.Group("/orders")
		orders.POST("", h.createOrder)
		orders.GET("", noStore(), h.listOrders)
		orders.POST("/cancel", h.cancelOrder)
		orders.GET("/cancel-policy", noStore(), h.cancellationPolicy)
		orders.GET("/track", noStore(), h.trackOrder)
		orders.POST("/track", noStore(), h.trackOrder)

		v1.POST("/auth/forgot-password", noStore(), h.forgotPassword)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(gin.H, len(h.cfg.Checks))
	for name, check := range h.cfg.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, apperror.Wrap(apperror.KindInvalidJSON, "failed to read request body", err))
		return
	}

	var req validation.CreateOrderRequest
	if err := h.validator.Bind(body, &req); err != nil {
		respondError(c, err)
		return
	}

	meta := service.RequestMeta{
		ClientIP:       c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		SessionID:      c.GetHeader(headerSessionID),
		IdempotencyKey: c.GetHeader(headerIdempotency),
	}

	result, err := h.orders.CreateOrder(c.Request.Context(), &req, meta, identityFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Replayed {
		c.Header("Idempotent-Replayed", "true")
		respond(c, http.StatusOK, result)
		return
	}
	respond(c, http.StatusCreated, result)
}

// cancelOrder handles full and partial cancellations
func (h *Handler) cancelOrder(c *gin.Context) {
	caller, err := h.caller(c)
	if err != nil {
		respondError(c, err)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		respondError(c, apperror.Wrap(apperror.KindInvalidJSON, "failed to read request body", err))
		return
	}

	var req validation.CancelOrderRequest
	if err := h.validator.Bind(body, &req); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.orders.CancelOrder(c.Request.Context(), &req, caller)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// cancellationPolicy previews what a cancellation would cost
func (h *Handler) cancellationPolicy(c *gin.Context) {
	orderID := c.Query("orderId")
	if orderID == "" {
		respondError(c, apperror.Validation("invalid request",
			apperror.FieldViolation{Field: "orderId", Message: "is required"}))
		return
	}

	caller, err := h.caller(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.orders.CancellationPolicy(c.Request.Context(), orderID, caller)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// trackOrder looks an order up by credential, or by order number and e-mail
func (h *Handler) trackOrder(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.GetHeader(headerTrackingToken)
	if token == "" {
		token = c.Query("token")
	}
	if token != "" {
		result, err := h.orders.TrackByCredential(ctx, token)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, result)
		return
	}

	var req validation.TrackOrderRequest
	if c.Request.Method == http.MethodGet {
		if err := c.ShouldBindQuery(&req); err != nil {
			respondError(c, apperror.Validation("invalid request",
				apperror.FieldViolation{Field: "query", Message: err.Error()}))
			return
		}
		if err := h.validator.Check(&req); err != nil {
			respondError(c, err)
			return
		}
	} else {
		body, err := c.GetRawData()
		if err != nil {
			respondError(c, apperror.Wrap(apperror.KindInvalidJSON, "failed to read request body", err))
			return
		}
		if err := h.validator.Bind(body, &req); err != nil {
			respondError(c, err)
			return
		}
	}

	result, err := h.orders.TrackOrder(ctx, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// listOrders returns a filtered page of orders with statistics
func (h *Handler) listOrders(c *gin.Context) {
	filter, err := parseOrderFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.orders.ListOrders(c.Request.Context(), filter, identityFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

// forgotPassword answers identically whether or not the address has an account
func (h *Handler) forgotPassword(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, apperror.Wrap(apperror.KindInvalidJSON, "failed to read request body", err))
		return
	}

	var req validation.ForgotPasswordRequest
	if err := h.validator.Bind(body, &req); err != nil {
		respondError(c, err)
		return
	}

	markers := h.cfg.Markers
	if markers == nil {
		markers = ratelimit.NewCookieStore(h.cfg.RateLimitKey, c.Request, c.Writer, h.cfg.SecureCookies)
	}

	if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email, markers); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": resetAcceptedMessage})
}

// caller combines the bearer identity with an optional guest credential
func (h *Handler) caller(c *gin.Context) (service.Caller, error) {
	caller := service.Caller{Identity: identityFrom(c)}

	token := c.GetHeader(headerTrackingToken)
	if token == "" {
		return caller, nil
	}
	claims, err := h.orders.VerifyCredential(token)
	if err != nil {
		return service.Caller{}, err
	}
	caller.Guest = claims
	return caller, nil
}
