package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"commerce-sync/internal/models"
	"commerce-sync/internal/redisclient"
	"commerce-sync/internal/service"
	"commerce-sync/internal/store"
	"commerce-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const galleryCacheTTL = 60 * time.Second

// Handler contains HTTP handlers
type Handler struct {
	store        *store.Store
	redis        *redisclient.Client
	checkout     *service.CheckoutService
	orchestrator *service.DeliveryOrchestrator
	catalog      *service.CatalogReconciler
	carts        *service.SessionCarts
	rewards      *service.RewardsService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	st *store.Store,
	redis *redisclient.Client,
	checkout *service.CheckoutService,
	orchestrator *service.DeliveryOrchestrator,
	catalog *service.CatalogReconciler,
	carts *service.SessionCarts,
	rewards *service.RewardsService,
) *Handler {
	return &Handler{
		store:        st,
		redis:        redis,
		checkout:     checkout,
		orchestrator: orchestrator,
		catalog:      catalog,
		carts:        carts,
		rewards:      rewards,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/products", h.addProduct)
		v1.DELETE("/products/:id", h.deleteProduct)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/:productId", h.addToCart)
		v1.DELETE("/cart/:productId", h.removeFromCart)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/delivery", h.updateDelivery)
		v1.POST("/orders/:id/confirm-delivery", h.confirmDelivery)
		v1.POST("/orders/:id/refund", h.refund)

		v1.GET("/wallet", h.wallet)

		v1.POST("/admin/reconcile", h.reconcile)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// listProducts serves the merged gallery, redis-cached
func (h *Handler) listProducts(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := h.redis.GetGallery(ctx); err == nil && cached != nil {
		c.JSON(http.StatusOK, gin.H{"products": cached})
		return
	}

	products, err := h.store.LoadProducts(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load products"})
		return
	}
	_ = h.redis.CacheGallery(ctx, products, galleryCacheTTL)

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.store.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, product)
}

type addProductRequest struct {
	ProductID   string  `json:"productId" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description" binding:"required"`
	Price       float64 `json:"price" binding:"required,gt=0"`
	Stock       int     `json:"stock" binding:"required,min=0"`
	Image       string  `json:"image"`
	Category    string  `json:"category" binding:"required"`
	ReleaseDate string  `json:"releaseDate" binding:"required"`
}

// addProduct creates a local product and immediately reconciles it to chain
func (h *Handler) addProduct(c *gin.Context) {
	var req addProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	ctx := c.Request.Context()

	product := models.Product{
		ProductID: req.ProductID,
		Catalog: models.Catalog{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			Stock:       req.Stock,
			Image:       req.Image,
			Category:    req.Category,
			ReleaseDate: req.ReleaseDate,
		},
		ProductInfo: models.ProductInfo{
			ID:          req.ProductID,
			Name:        req.Name,
			Category:    req.Category,
			ReleaseDate: req.ReleaseDate,
		},
	}
	if err := h.store.AddProduct(ctx, product); err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to save product", "details": err.Error()})
		return
	}
	_ = h.redis.InvalidateGallery(ctx)

	registered, err := h.catalog.PushProduct(ctx, req.ProductID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to write product to chain", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, registered)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.store.DeleteProduct(ctx, id); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	_ = h.redis.InvalidateGallery(ctx)

	c.Status(http.StatusNoContent)
}

func (h *Handler) getCart(c *gin.Context) {
	sessionID := sessionID(c)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sessionID,
		"items":     h.carts.Get(sessionID),
		"total":     h.carts.Total(sessionID),
	})
}

func (h *Handler) addToCart(c *gin.Context) {
	sessionID := sessionID(c)
	if err := h.carts.Add(c.Request.Context(), sessionID, c.Param("productId")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sessionID,
		"items":     h.carts.Get(sessionID),
	})
}

func (h *Handler) removeFromCart(c *gin.Context) {
	sessionID := sessionID(c)
	h.carts.Remove(sessionID, c.Param("productId"))
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sessionID,
		"items":     h.carts.Get(sessionID),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.checkout.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to create order", "details": err.Error()})
		return
	}
	h.carts.Clear(sessionID(c))

	c.JSON(http.StatusCreated, order)
}

// getOrder serves the merged order view: local record plus escrow state when
// the chain is reachable
func (h *Handler) getOrder(c *gin.Context) {
	order, escrow, err := h.orchestrator.OrderDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"order": order}
	if escrow != nil {
		resp["escrow"] = gin.H{
			"buyer":     escrow.Buyer.Hex(),
			"seller":    escrow.Seller.Hex(),
			"amountWei": escrow.AmountWei.String(),
			"status":    escrow.Status,
		}
	}
	c.JSON(http.StatusOK, resp)
}

type updateDeliveryRequest struct {
	DeliveryStatus string `json:"deliveryStatus" binding:"required"`
}

func (h *Handler) updateDelivery(c *gin.Context) {
	var req updateDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orchestrator.UpdateDeliveryStatus(c.Request.Context(), c.Param("id"), req.DeliveryStatus)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	order, err := h.orchestrator.ConfirmDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) refund(c *gin.Context) {
	order, err := h.orchestrator.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

// wallet serves the derived loyalty summary, optionally scoped to one buyer
// via the address query parameter
func (h *Handler) wallet(c *gin.Context) {
	summary, err := h.rewards.WalletSummary(c.Request.Context(), c.Query("address"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute wallet"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// reconcile triggers a full catalog pass on demand
func (h *Handler) reconcile(c *gin.Context) {
	if err := h.catalog.Reconcile(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Reconciliation failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconciled"})
}

// sessionID reads the opaque session identifier, minting one when absent.
func sessionID(c *gin.Context) string {
	if id := c.GetHeader("X-Session-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrOrderNotFound), errors.Is(err, store.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrOrderExists), errors.Is(err, store.ErrProductExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotReadyForRelease):
		return http.StatusConflict
	case errors.Is(err, service.ErrEscrowRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrReleaseFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
