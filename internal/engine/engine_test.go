package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"store-service/internal/models"
	"store-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducts struct {
	items     map[string]*models.Product
	adjustErr map[string]error
}

func newFakeProducts(products ...*models.Product) *fakeProducts {
	f := &fakeProducts{items: map[string]*models.Product{}, adjustErr: map[string]error{}}
	for _, p := range products {
		f.items[p.ID] = p
	}
	return f
}

func (f *fakeProducts) GetProduct(_ context.Context, id string) (*models.Product, error) {
	p, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("product not found: %s", id)
	}
	clone := *p
	return &clone, nil
}

func (f *fakeProducts) AdjustProductQuantity(_ context.Context, id string, delta int) error {
	if err := f.adjustErr[id]; err != nil {
		return err
	}
	p, ok := f.items[id]
	if !ok || p.Quantity+delta < 0 {
		return store.ErrNoMatch
	}
	p.Quantity += delta
	return nil
}

type fakeMemberships struct {
	points  map[string]int64
	history map[string][]models.PurchaseEntry
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{points: map[string]int64{}, history: map[string][]models.PurchaseEntry{}}
}

func (f *fakeMemberships) GetMembershipPoints(_ context.Context, code string) (int64, error) {
	points, ok := f.points[code]
	if !ok {
		return 0, fmt.Errorf("membership not found: %s", code)
	}
	return points, nil
}

func (f *fakeMemberships) AdjustMembershipPoints(_ context.Context, code string, delta int64) error {
	points, ok := f.points[code]
	if !ok || points+delta < 0 {
		return store.ErrNoMatch
	}
	f.points[code] = points + delta
	return nil
}

func (f *fakeMemberships) AppendPurchaseHistory(_ context.Context, code string, entry models.PurchaseEntry) error {
	if _, ok := f.points[code]; !ok {
		return store.ErrNoMatch
	}
	f.history[code] = append(f.history[code], entry)
	return nil
}

func (f *fakeMemberships) RemovePurchaseHistory(_ context.Context, code, saleID string) error {
	if _, ok := f.points[code]; !ok {
		return store.ErrNoMatch
	}
	kept := f.history[code][:0]
	for _, entry := range f.history[code] {
		if entry.SaleID != saleID {
			kept = append(kept, entry)
		}
	}
	f.history[code] = kept
	return nil
}

type fakeSales struct {
	items     map[string]*models.Sale
	insertErr error
}

func newFakeSales() *fakeSales {
	return &fakeSales{items: map[string]*models.Sale{}}
}

func (f *fakeSales) CreateSale(_ context.Context, sale *models.Sale) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	clone := *sale
	f.items[sale.ID] = &clone
	return nil
}

func (f *fakeSales) GetSale(_ context.Context, id string) (*models.Sale, error) {
	sale, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("sale not found: %s", id)
	}
	clone := *sale
	return &clone, nil
}

func (f *fakeSales) MarkSaleCancelled(_ context.Context, id string) error {
	sale, ok := f.items[id]
	if !ok || sale.IsCancelled {
		return store.ErrNoMatch
	}
	sale.IsCancelled = true
	return nil
}

func newTestEngine(products *fakeProducts, memberships *fakeMemberships, sales *fakeSales) *Engine {
	e := New(products, memberships, sales, nil, 10)
	e.now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }
	seq := 0
	e.newID = func() string {
		seq++
		return fmt.Sprintf("sale-%d", seq)
	}
	return e
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPointsConversion(t *testing.T) {
	e := newTestEngine(newFakeProducts(), newFakeMemberships(), newFakeSales())

	cases := []struct {
		total  string
		points int64
	}{
		{"0", 0},
		{"3.6", 0},
		{"9.99", 0},
		{"10", 1},
		{"99.99", 9},
		{"100", 10},
		{"105.5", 10},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.points, e.pointsFor(dec(tc.total)), "total=%s", tc.total)
	}
}

func TestProcessSaleWithoutMembership(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Coffee", Quantity: 50, Price: dec("1.8"), PointsPrice: 6,
	})
	memberships := newFakeMemberships()
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	sale, err := e.ProcessSale(context.Background(), []LineItem{{ProductID: "p1", Quantity: 2}}, "")
	require.NoError(t, err)

	assert.Equal(t, models.SaleKindCash, sale.Kind)
	assert.True(t, dec("3.6").Equal(sale.TotalAmount))
	assert.Empty(t, sale.MembershipCode)
	assert.Zero(t, sale.Points)
	assert.False(t, sale.IsCancelled)
	assert.Equal(t, 48, products.items["p1"].Quantity)

	require.Len(t, sale.Products, 1)
	assert.Equal(t, "Coffee", sale.Products[0].ProductName)
	assert.True(t, dec("1.8").Equal(sale.Products[0].Price))

	// no membership means no loyalty side effects at all
	assert.Empty(t, memberships.points)
	assert.Empty(t, memberships.history)

	persisted, err := sales.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.True(t, sale.TotalAmount.Equal(persisted.TotalAmount))
}

func TestProcessSaleDeductsLinesInOrder(t *testing.T) {
	products := newFakeProducts(
		&models.Product{ID: "p1", Name: "Coffee", Quantity: 10, Price: dec("2.50")},
		&models.Product{ID: "p2", Name: "Tea", Quantity: 5, Price: dec("4.00")},
	)
	e := newTestEngine(products, newFakeMemberships(), newFakeSales())

	sale, err := e.ProcessSale(context.Background(), []LineItem{
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p1", Quantity: 3},
	}, "")
	require.NoError(t, err)

	assert.True(t, dec("11.50").Equal(sale.TotalAmount))
	assert.Equal(t, 7, products.items["p1"].Quantity)
	assert.Equal(t, 4, products.items["p2"].Quantity)
	require.Len(t, sale.Products, 2)
	assert.Equal(t, "p2", sale.Products[0].ProductID)
	assert.Equal(t, "p1", sale.Products[1].ProductID)
}

func TestProcessSaleWithMembershipAccruesPoints(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Blender", Quantity: 8, Price: dec("55"),
	})
	memberships := newFakeMemberships()
	memberships.points["m-1"] = 40
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	sale, err := e.ProcessSale(context.Background(), []LineItem{{ProductID: "p1", Quantity: 2}}, "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SaleKindCashMembership, sale.Kind)
	assert.True(t, dec("110").Equal(sale.TotalAmount))
	assert.Equal(t, int64(11), sale.Points)
	assert.Equal(t, int64(51), memberships.points["m-1"])

	require.Len(t, memberships.history["m-1"], 1)
	entry := memberships.history["m-1"][0]
	assert.Equal(t, sale.ID, entry.SaleID)
	assert.True(t, dec("110").Equal(entry.Amount))
	assert.Zero(t, entry.PointsUsed)
}

func TestProcessSaleInventoryFailureAborts(t *testing.T) {
	products := newFakeProducts(
		&models.Product{ID: "p1", Name: "Coffee", Quantity: 10, Price: dec("2")},
		&models.Product{ID: "p2", Name: "Tea", Quantity: 10, Price: dec("3")},
	)
	products.adjustErr["p2"] = store.ErrNoMatch
	sales := newFakeSales()
	e := newTestEngine(products, newFakeMemberships(), sales)

	_, err := e.ProcessSale(context.Background(), []LineItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	}, "")
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.ErrorIs(t, err, store.ErrNoMatch)

	// the failed line aborts the call; the earlier decrement is not rolled back
	assert.Equal(t, 9, products.items["p1"].Quantity)
	assert.Equal(t, 10, products.items["p2"].Quantity)
	assert.Empty(t, sales.items)
}

func TestProcessSaleInsufficientStockIsFatal(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Coffee", Quantity: 1, Price: dec("2"),
	})
	e := newTestEngine(products, newFakeMemberships(), newFakeSales())

	_, err := e.ProcessSale(context.Background(), []LineItem{{ProductID: "p1", Quantity: 5}}, "")
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.Equal(t, 1, products.items["p1"].Quantity)
}

func TestProcessSaleWithPoints(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Mug", Quantity: 20, Price: dec("12"), PointsPrice: 25,
	})
	memberships := newFakeMemberships()
	memberships.points["m-1"] = 100
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	sale, err := e.ProcessSaleWithPoints(context.Background(), []LineItem{{ProductID: "p1", Quantity: 3}}, "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SaleKindPoints, sale.Kind)
	assert.Equal(t, int64(75), sale.PointsUsed)
	assert.True(t, sale.TotalAmount.IsZero())
	assert.Equal(t, 17, products.items["p1"].Quantity)
	assert.Equal(t, int64(25), memberships.points["m-1"])

	require.Len(t, sale.Products, 1)
	assert.Equal(t, int64(25), sale.Products[0].Points)

	require.Len(t, memberships.history["m-1"], 1)
	entry := memberships.history["m-1"][0]
	assert.Equal(t, sale.ID, entry.SaleID)
	assert.Equal(t, int64(75), entry.PointsUsed)
}

func TestProcessSaleWithPointsRejectsInsufficientBalance(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Mug", Quantity: 20, Price: dec("12"), PointsPrice: 50,
	})
	memberships := newFakeMemberships()
	memberships.points["m-1"] = 99
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	// 2 x 50 = 100 points against a balance of 99
	sale, err := e.ProcessSaleWithPoints(context.Background(), []LineItem{{ProductID: "p1", Quantity: 2}}, "m-1")
	require.Error(t, err)
	assert.Nil(t, sale)
	assert.True(t, IsRejection(err))
	assert.EqualError(t, err, "Not enough points, please choose lower quantities.")

	// rejection happens before any mutation
	assert.Equal(t, 20, products.items["p1"].Quantity)
	assert.Equal(t, int64(99), memberships.points["m-1"])
	assert.Empty(t, memberships.history["m-1"])
	assert.Empty(t, sales.items)
}

func TestCancellationStateMachine(t *testing.T) {
	cases := []struct {
		name      string
		cancelled bool
		requested bool
		message   string
	}{
		{"undo cancellation", true, false, "It is not possible to undo a sale cancellation."},
		{"already valid", false, false, "Sale is already valid."},
		{"already cancelled", true, true, "Sale is already canceled."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			products := newFakeProducts(&models.Product{ID: "p1", Quantity: 10, Price: dec("2")})
			sales := newFakeSales()
			sales.items["s-1"] = &models.Sale{
				ID:          "s-1",
				Kind:        models.SaleKindCash,
				Products:    models.SaleLines{{ProductID: "p1", Quantity: 2, Price: dec("2")}},
				IsCancelled: tc.cancelled,
			}
			e := newTestEngine(products, newFakeMemberships(), sales)

			result, err := e.ProcessCancellation(context.Background(), "s-1", tc.requested)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, IsRejection(err))
			assert.EqualError(t, err, tc.message)

			// guard rejections never mutate state
			assert.Equal(t, 10, products.items["p1"].Quantity)
			assert.Equal(t, tc.cancelled, sales.items["s-1"].IsCancelled)
		})
	}
}

func TestCancelCashSaleRestoresInventory(t *testing.T) {
	products := newFakeProducts(&models.Product{ID: "p1", Name: "Coffee", Quantity: 48, Price: dec("1.8")})
	sales := newFakeSales()
	sales.items["s-1"] = &models.Sale{
		ID:       "s-1",
		Kind:     models.SaleKindCash,
		Products: models.SaleLines{{ProductID: "p1", ProductName: "Coffee", Quantity: 2, Price: dec("1.8")}},
	}
	e := newTestEngine(products, newFakeMemberships(), sales)

	sale, err := e.ProcessCancellation(context.Background(), "s-1", true)
	require.NoError(t, err)
	assert.True(t, sale.IsCancelled)
	assert.Equal(t, 50, products.items["p1"].Quantity)
	assert.True(t, sales.items["s-1"].IsCancelled)
}

func TestCancelCashMembershipSaleRoundTrip(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Blender", Quantity: 8, Price: dec("55"),
	})
	memberships := newFakeMemberships()
	memberships.points["m-1"] = 40
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	sale, err := e.ProcessSale(context.Background(), []LineItem{{ProductID: "p1", Quantity: 2}}, "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(51), memberships.points["m-1"])
	require.Equal(t, 6, products.items["p1"].Quantity)

	cancelled, err := e.ProcessCancellation(context.Background(), sale.ID, true)
	require.NoError(t, err)
	assert.True(t, cancelled.IsCancelled)

	// everything back to its pre-sale value
	assert.Equal(t, 8, products.items["p1"].Quantity)
	assert.Equal(t, int64(40), memberships.points["m-1"])
	assert.Empty(t, memberships.history["m-1"])
}

func TestCancelPointsSaleRefundsStoredPoints(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Mug", Quantity: 20, Price: dec("12"), PointsPrice: 25,
	})
	memberships := newFakeMemberships()
	memberships.points["m-1"] = 100
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	sale, err := e.ProcessSaleWithPoints(context.Background(), []LineItem{{ProductID: "p1", Quantity: 3}}, "m-1")
	require.NoError(t, err)
	require.Equal(t, int64(25), memberships.points["m-1"])

	// catalog repricing after the sale must not change the refund
	products.items["p1"].PointsPrice = 999

	cancelled, err := e.ProcessCancellation(context.Background(), sale.ID, true)
	require.NoError(t, err)
	assert.True(t, cancelled.IsCancelled)
	assert.Equal(t, 20, products.items["p1"].Quantity)
	assert.Equal(t, int64(100), memberships.points["m-1"])
	assert.Empty(t, memberships.history["m-1"])
}

func TestCancellationRemovesOnlyMatchingHistory(t *testing.T) {
	products := newFakeProducts(&models.Product{
		ID: "p1", Name: "Blender", Quantity: 8, Price: dec("55"),
	})
	memberships := newFakeMemberships()
	memberships.points["m-1"] = 0
	sales := newFakeSales()
	e := newTestEngine(products, memberships, sales)

	first, err := e.ProcessSale(context.Background(), []LineItem{{ProductID: "p1", Quantity: 1}}, "m-1")
	require.NoError(t, err)
	second, err := e.ProcessSale(context.Background(), []LineItem{{ProductID: "p1", Quantity: 1}}, "m-1")
	require.NoError(t, err)
	require.Len(t, memberships.history["m-1"], 2)

	_, err = e.ProcessCancellation(context.Background(), first.ID, true)
	require.NoError(t, err)

	require.Len(t, memberships.history["m-1"], 1)
	assert.Equal(t, second.ID, memberships.history["m-1"][0].SaleID)
}

func TestRejectionsAreNotSilentErrors(t *testing.T) {
	assert.True(t, IsRejection(ErrInsufficientPoints))
	assert.True(t, IsRejection(fmt.Errorf("wrapped: %w", ErrSaleAlreadyCancelled)))
	assert.False(t, IsRejection(errors.New("boom")))
	assert.False(t, IsRejection(store.ErrNoMatch))
}
