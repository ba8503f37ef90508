package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"store-service/internal/engine"
	"store-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProducts struct {
	items map[string]*models.Product
}

func (s *stubProducts) GetProduct(_ context.Context, id string) (*models.Product, error) {
	p, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("product not found: %s", id)
	}
	clone := *p
	return &clone, nil
}

func (s *stubProducts) AdjustProductQuantity(_ context.Context, id string, delta int) error {
	p, ok := s.items[id]
	if !ok || p.Quantity+delta < 0 {
		return fmt.Errorf("no matching document")
	}
	p.Quantity += delta
	return nil
}

type stubMemberships struct {
	points map[string]int64
}

func (s *stubMemberships) GetMembershipPoints(_ context.Context, code string) (int64, error) {
	points, ok := s.points[code]
	if !ok {
		return 0, fmt.Errorf("membership not found: %s", code)
	}
	return points, nil
}

func (s *stubMemberships) AdjustMembershipPoints(_ context.Context, code string, delta int64) error {
	s.points[code] += delta
	return nil
}

func (s *stubMemberships) AppendPurchaseHistory(_ context.Context, _ string, _ models.PurchaseEntry) error {
	return nil
}

func (s *stubMemberships) RemovePurchaseHistory(_ context.Context, _, _ string) error {
	return nil
}

type stubSales struct {
	items map[string]*models.Sale
}

func (s *stubSales) CreateSale(_ context.Context, sale *models.Sale) error {
	clone := *sale
	s.items[sale.ID] = &clone
	return nil
}

func (s *stubSales) GetSale(_ context.Context, id string) (*models.Sale, error) {
	sale, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("sale not found: %s", id)
	}
	clone := *sale
	return &clone, nil
}

func (s *stubSales) MarkSaleCancelled(_ context.Context, id string) error {
	sale, ok := s.items[id]
	if !ok || sale.IsCancelled {
		return fmt.Errorf("no matching document")
	}
	sale.IsCancelled = true
	return nil
}

func newTestRouter(products *stubProducts, memberships *stubMemberships, sales *stubSales) *gin.Engine {
	gin.SetMode(gin.TestMode)

	eng := engine.New(products, memberships, sales, nil, 10)
	handler := NewHandler(eng, nil, nil, nil)

	router := gin.New()
	handler.SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSaleEndpoint(t *testing.T) {
	products := &stubProducts{items: map[string]*models.Product{
		"p1": {ID: "p1", Name: "Coffee", Quantity: 50, Price: decimal.RequireFromString("1.8")},
	}}
	router := newTestRouter(products, &stubMemberships{points: map[string]int64{}}, &stubSales{items: map[string]*models.Sale{}})

	rec := doRequest(router, http.MethodPost, "/api/v1/sales",
		`{"products":[{"productId":"p1","quantity":2}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalAmount":"3.6"`)
	assert.Equal(t, 48, products.items["p1"].Quantity)
}

func TestCreateSaleRejectsInvalidBody(t *testing.T) {
	router := newTestRouter(
		&stubProducts{items: map[string]*models.Product{}},
		&stubMemberships{points: map[string]int64{}},
		&stubSales{items: map[string]*models.Sale{}})

	rec := doRequest(router, http.MethodPost, "/api/v1/sales", `{"products":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPointsSaleInsufficientBalanceIsClientError(t *testing.T) {
	products := &stubProducts{items: map[string]*models.Product{
		"p1": {ID: "p1", Name: "Mug", Quantity: 10, PointsPrice: 50},
	}}
	memberships := &stubMemberships{points: map[string]int64{"m-1": 99}}
	router := newTestRouter(products, memberships, &stubSales{items: map[string]*models.Sale{}})

	rec := doRequest(router, http.MethodPost, "/api/v1/sales/points",
		`{"products":[{"productId":"p1","quantity":2}],"membershipCode":"m-1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not enough points, please choose lower quantities.")
	assert.Equal(t, 10, products.items["p1"].Quantity)
	assert.Equal(t, int64(99), memberships.points["m-1"])
}

func TestCancelSaleGuardMessages(t *testing.T) {
	cases := []struct {
		name      string
		cancelled bool
		body      string
		message   string
	}{
		{"undo cancellation", true, `{"isCancelled":false}`, "It is not possible to undo a sale cancellation."},
		{"already valid", false, `{"isCancelled":false}`, "Sale is already valid."},
		{"already cancelled", true, `{"isCancelled":true}`, "Sale is already canceled."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sales := &stubSales{items: map[string]*models.Sale{
				"s-1": {ID: "s-1", Kind: models.SaleKindCash, IsCancelled: tc.cancelled},
			}}
			router := newTestRouter(
				&stubProducts{items: map[string]*models.Product{}},
				&stubMemberships{points: map[string]int64{}},
				sales)

			rec := doRequest(router, http.MethodPut, "/api/v1/sales/s-1/cancellation", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.message)
		})
	}
}

func TestCancelSaleReversesInventory(t *testing.T) {
	products := &stubProducts{items: map[string]*models.Product{
		"p1": {ID: "p1", Name: "Coffee", Quantity: 48, Price: decimal.RequireFromString("1.8")},
	}}
	sales := &stubSales{items: map[string]*models.Sale{
		"s-1": {
			ID:       "s-1",
			Kind:     models.SaleKindCash,
			SaleDate: time.Now(),
			Products: models.SaleLines{{ProductID: "p1", ProductName: "Coffee", Quantity: 2, Price: decimal.RequireFromString("1.8")}},
		},
	}}
	router := newTestRouter(products, &stubMemberships{points: map[string]int64{}}, sales)

	rec := doRequest(router, http.MethodPut, "/api/v1/sales/s-1/cancellation", `{"isCancelled":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isCancelled":true`)
	assert.Equal(t, 50, products.items["p1"].Quantity)
}

func TestEngineFailureIsServerError(t *testing.T) {
	// unknown product makes the first read fail
	router := newTestRouter(
		&stubProducts{items: map[string]*models.Product{}},
		&stubMemberships{points: map[string]int64{}},
		&stubSales{items: map[string]*models.Sale{}})

	rec := doRequest(router, http.MethodPost, "/api/v1/sales",
		`{"products":[{"productId":"ghost","quantity":1}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
