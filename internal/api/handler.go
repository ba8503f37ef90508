package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"store-service/internal/cache"
	"store-service/internal/engine"
	"store-service/internal/models"
	"store-service/internal/service"
	"store-service/internal/store"
	"store-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	idempotencyTTL = 24 * time.Hour
	cancelLockTTL  = 30 * time.Second
)

// Handler contains HTTP handlers
type Handler struct {
	engine      *engine.Engine
	memberships *service.MembershipService
	store       *store.Store
	cache       *cache.Client
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. cache may be nil; caching and
// idempotency checks are then skipped.
func NewHandler(
	eng *engine.Engine,
	memberships *service.MembershipService,
	st *store.Store,
	c *cache.Client,
) *Handler {
	return &Handler{
		engine:      eng,
		memberships: memberships,
		store:       st,
		cache:       c,
		logger:      util.GetLogger(),
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
		v1.GET("/products/count", h.countProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/products", h.createProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)

		v1.GET("/customers", h.listCustomers)
		v1.GET("/customers/count", h.countCustomers)
		v1.GET("/customers/:id", h.getCustomer)
		v1.POST("/customers", h.createCustomer)
		v1.PUT("/customers/:id", h.updateCustomer)
		v1.DELETE("/customers/:id", h.deleteCustomer)
		v1.PUT("/customers/:id/membership", h.setCustomerMembership)

		v1.GET("/memberships", h.listMemberships)
		v1.GET("/memberships/count", h.countMemberships)
		v1.GET("/memberships/:code", h.getMembership)
		v1.POST("/memberships", h.createMembership)
		v1.DELETE("/memberships/:code", h.deleteMembership)
		v1.PUT("/memberships/:code/active", h.setMembershipActive)

		v1.GET("/sales", h.listSales)
		v1.GET("/sales/count", h.countSales)
		v1.GET("/sales/:id", h.getSale)
		v1.POST("/sales", h.createSale)
		v1.POST("/sales/points", h.createPointsSale)
		v1.PUT("/sales/:id/cancellation", h.cancelSale)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

// --- sales ---

type createSaleRequest struct {
	Products       []engine.LineItem `json:"products" binding:"required,min=1,dive"`
	MembershipCode string            `json:"membershipCode"`
}

type pointsSaleRequest struct {
	Products       []engine.LineItem `json:"products" binding:"required,min=1,dive"`
	MembershipCode string            `json:"membershipCode" binding:"required"`
}

type cancelSaleRequest struct {
	IsCancelled *bool `json:"isCancelled" binding:"required"`
}

// respondEngineError maps engine outcomes: business rejections become client
// errors with their message, everything else a 500 with partial-state caveat.
func (h *Handler) respondEngineError(c *gin.Context, err error) {
	if engine.IsRejection(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Error("Sale processing failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Sale processing failed, state may be partially applied",
		"details": err.Error(),
	})
}

func (h *Handler) createSale(c *gin.Context) {
	var req createSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	idempotencyKey := c.GetHeader("Idempotency-Key")
	if h.cache != nil && idempotencyKey != "" {
		saleID, err := h.cache.GetIdempotentSaleID(c.Request.Context(), idempotencyKey)
		if err != nil {
			h.logger.Warn("Idempotency lookup failed", zap.Error(err))
		} else if saleID != "" {
			sale, err := h.store.GetSale(c.Request.Context(), saleID)
			if err == nil {
				c.JSON(http.StatusOK, sale)
				return
			}
		}
	}

	sale, err := h.engine.ProcessSale(c.Request.Context(), req.Products, req.MembershipCode)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}

	if h.cache != nil && idempotencyKey != "" {
		if _, err := h.cache.SetIdempotencyKey(c.Request.Context(), idempotencyKey, sale.ID, idempotencyTTL); err != nil {
			h.logger.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, sale)
}

func (h *Handler) createPointsSale(c *gin.Context) {
	var req pointsSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	sale, err := h.engine.ProcessSaleWithPoints(c.Request.Context(), req.Products, req.MembershipCode)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sale)
}

func (h *Handler) cancelSale(c *gin.Context) {
	saleID := c.Param("id")

	var req cancelSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if h.cache != nil {
		acquired, err := h.cache.AcquireCancelLock(c.Request.Context(), saleID, cancelLockTTL)
		if err != nil {
			h.logger.Warn("Cancellation lock failed", zap.String("sale_id", saleID), zap.Error(err))
		} else if !acquired {
			c.JSON(http.StatusConflict, gin.H{"error": "Cancellation already in progress"})
			return
		} else {
			defer func() {
				if err := h.cache.ReleaseCancelLock(c.Request.Context(), saleID); err != nil {
					h.logger.Warn("Failed to release cancellation lock", zap.Error(err))
				}
			}()
		}
	}

	sale, err := h.engine.ProcessCancellation(c.Request.Context(), saleID, *req.IsCancelled)
	if err != nil {
		h.respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

func (h *Handler) getSale(c *gin.Context) {
	sale, err := h.store.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sale not found", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) listSales(c *gin.Context) {
	limit, offset := pagination(c)
	sales, err := h.store.ListSales(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sales", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (h *Handler) countSales(c *gin.Context) {
	count, err := h.store.CountSales(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count sales", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// --- products ---

type productRequest struct {
	Name        string `json:"name" binding:"required"`
	Quantity    int    `json:"quantity" binding:"min=0"`
	Price       string `json:"price" binding:"required"`
	PointsPrice int64  `json:"pointsPrice" binding:"min=0"`
}

func (h *Handler) getProduct(c *gin.Context) {
	id := c.Param("id")

	if h.cache != nil {
		if product, err := h.cache.GetProduct(c.Request.Context(), id); err == nil && product != nil {
			c.JSON(http.StatusOK, product)
			return
		}
	}

	product, err := h.store.GetProduct(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found", "details": err.Error()})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetProduct(c.Request.Context(), product); err != nil {
			h.logger.Warn("Failed to cache product", zap.String("id", id), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, product)
}

func (h *Handler) listProducts(c *gin.Context) {
	limit, offset := pagination(c)
	products, err := h.store.ListProducts(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) countProducts(c *gin.Context) {
	count, err := h.store.CountProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count products", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	price, err := parsePrice(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price", "details": err.Error()})
		return
	}

	product := &models.Product{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Quantity:    req.Quantity,
		Price:       price,
		PointsPrice: req.PointsPrice,
	}

	if err := h.store.CreateProduct(c.Request.Context(), product); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	price, err := parsePrice(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price", "details": err.Error()})
		return
	}

	product := &models.Product{
		ID:          c.Param("id"),
		Name:        req.Name,
		Quantity:    req.Quantity,
		Price:       price,
		PointsPrice: req.PointsPrice,
	}

	if err := h.store.UpdateProduct(c.Request.Context(), product); err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product", "details": err.Error()})
		return
	}

	h.invalidateProductCache(c, product.ID)
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteProduct(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product", "details": err.Error()})
		return
	}

	h.invalidateProductCache(c, id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) invalidateProductCache(c *gin.Context, id string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateProducts(c.Request.Context(), id); err != nil {
		h.logger.Warn("Failed to invalidate product cache", zap.String("id", id), zap.Error(err))
	}
}

// --- customers ---

type customerRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

type customerMembershipRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) getCustomer(c *gin.Context) {
	customer, err := h.store.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h *Handler) listCustomers(c *gin.Context) {
	limit, offset := pagination(c)
	customers, err := h.store.ListCustomers(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list customers", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
}

func (h *Handler) countCustomers(c *gin.Context) {
	count, err := h.store.CountCustomers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count customers", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) createCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	customer := &models.Customer{
		ID:    uuid.NewString(),
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	}

	if err := h.store.CreateCustomer(c.Request.Context(), customer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create customer", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, customer)
}

func (h *Handler) updateCustomer(c *gin.Context) {
	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	customer := &models.Customer{
		ID:    c.Param("id"),
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	}

	if err := h.store.UpdateCustomer(c.Request.Context(), customer); err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update customer", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, customer)
}

func (h *Handler) deleteCustomer(c *gin.Context) {
	if err := h.store.DeleteCustomer(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete customer", "details": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setCustomerMembership(c *gin.Context) {
	var req customerMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ok, err := h.memberships.ActivateForCustomer(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update membership", "details": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Customer has no membership to update"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"active": *req.Active})
}

// --- memberships ---

type membershipActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) getMembership(c *gin.Context) {
	code := c.Param("code")

	if h.cache != nil {
		if membership, err := h.cache.GetMembership(c.Request.Context(), code); err == nil && membership != nil {
			c.JSON(http.StatusOK, membership)
			return
		}
	}

	membership, err := h.store.GetMembership(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found", "details": err.Error()})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetMembership(c.Request.Context(), membership); err != nil {
			h.logger.Warn("Failed to cache membership", zap.String("code", code), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, membership)
}

func (h *Handler) listMemberships(c *gin.Context) {
	limit, offset := pagination(c)
	memberships, err := h.store.ListMemberships(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list memberships", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberships": memberships})
}

func (h *Handler) countMemberships(c *gin.Context) {
	count, err := h.store.CountMemberships(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count memberships", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) createMembership(c *gin.Context) {
	code, err := h.memberships.CreateMembership(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create membership", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": code})
}

func (h *Handler) deleteMembership(c *gin.Context) {
	ok, err := h.memberships.DeleteMembership(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete membership", "details": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setMembershipActive(c *gin.Context) {
	var req membershipActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ok, err := h.memberships.SetActive(c.Request.Context(), c.Param("code"), *req.Active)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update membership", "details": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
		return
	}

	if h.cache != nil {
		if err := h.cache.InvalidateMembership(c.Request.Context(), c.Param("code")); err != nil {
			h.logger.Warn("Failed to invalidate membership cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"active": *req.Active})
}

// --- shared ---

func parsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if price.IsNegative() {
		return decimal.Decimal{}, errors.New("price must not be negative")
	}
	return price, nil
}

func pagination(c *gin.Context) (limit, offset int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	size, err := strconv.Atoi(c.DefaultQuery("size", "10"))
	if err != nil || size < 1 {
		size = 10
	}
	if size > 100 {
		size = 100
	}

	return size, (page - 1) * size
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
