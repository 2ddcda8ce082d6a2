package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"evapos/internal/dto"
	"evapos/internal/model"
	"evapos/internal/stock"
	"evapos/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSale_RequiresOpenSession(t *testing.T) {
	env := newTestEnv(t)
	p := testutil.SeedProduct(t, env.db, "Jabón", "3.00", 5)

	_, err := env.sales.Create(context.Background(), env.actor, dto.CreateSaleRequest{
		Items:  []dto.SaleItemRequest{line(p, 1, "3.00")},
		Tender: cashTender("5"),
	})
	require.ErrorIs(t, err, ErrNoOpenSession)
	assert.Equal(t, 5, testutil.StockOf(t, env.db, p.ID))
}

func TestSale_TotalsWithLineAndSaleDiscounts(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	a := testutil.SeedProduct(t, env.db, "Aceite", "7.25", 10)
	b := testutil.SeedProduct(t, env.db, "Sal", "1.10", 10)

	la := line(a, 3, "7.25")
	la.LineDiscount = testutil.Dec("0.75")
	sale, err := env.sales.Create(context.Background(), env.actor, dto.CreateSaleRequest{
		Items:    []dto.SaleItemRequest{la, line(b, 2, "1.10")},
		Tender:   cashTender("30"),
		Discount: testutil.Dec("1.00"),
	})
	require.NoError(t, err)

	// 3×7.25−0.75 = 21.00, 2×1.10 = 2.20
	assert.Equal(t, "23.20", sale.Subtotal.StringFixed(2))
	assert.Equal(t, "22.20", sale.Total.StringFixed(2))
	assert.Equal(t, "7.80", sale.Change.StringFixed(2))

	sum := decimal.Zero
	for _, it := range sale.Items {
		sum = sum.Add(it.LineTotal)
	}
	assert.True(t, sum.Equal(sale.Subtotal))
	assert.Equal(t, 7, testutil.StockOf(t, env.db, a.ID))
	assert.Equal(t, 8, testutil.StockOf(t, env.db, b.ID))
}

func TestSale_NumbersAreSequentialPerDay(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	day := time.Now().UTC().Format("20060102")

	for i := 1; i <= 3; i++ {
		sale := env.quickSale(t, "2.00")
		assert.Equal(t, fmt.Sprintf("V-%s-%04d", day, i), sale.Number)
	}
}

func TestSale_InsufficientPaymentLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	p := testutil.SeedProduct(t, env.db, "Queso", "12.00", 4)

	_, err := env.sales.Create(context.Background(), env.actor, dto.CreateSaleRequest{
		Items:  []dto.SaleItemRequest{line(p, 1, "12.00")},
		Tender: cashTender("10.00"),
	})
	require.ErrorIs(t, err, ErrInsufficientPayment)

	_, err = env.sales.Create(context.Background(), env.actor, dto.CreateSaleRequest{
		Items:  []dto.SaleItemRequest{line(p, 1, "12.00")},
		Tender: dto.TenderRequest{Method: "mixed", CardAmount: decPtr("5"), CashReceived: decPtr("5")},
	})
	require.ErrorIs(t, err, ErrInsufficientPayment)

	assert.Equal(t, int64(0), env.count(t, &model.Sale{}))
	assert.Equal(t, 4, testutil.StockOf(t, env.db, p.ID))
}

func TestSale_InsufficientStockRollsBackWholeSale(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	plenty := testutil.SeedProduct(t, env.db, "Arroz", "1.00", 50)
	scarce := testutil.SeedProduct(t, env.db, "Azafrán", "9.00", 1)

	_, err := env.sales.Create(context.Background(), env.actor, dto.CreateSaleRequest{
		Items:  []dto.SaleItemRequest{line(plenty, 5, "1.00"), line(scarce, 2, "9.00")},
		Tender: cardTender(),
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	assert.Equal(t, int64(0), env.count(t, &model.Sale{}))
	assert.Equal(t, int64(0), env.count(t, &model.SaleItem{}))
	assert.Equal(t, int64(0), env.count(t, &model.StockMovement{}))
	assert.Equal(t, 50, testutil.StockOf(t, env.db, plenty.ID))
	assert.Equal(t, 1, testutil.StockOf(t, env.db, scarce.ID))
}

func TestSale_VariantStockIsDecremented(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	p := testutil.SeedProduct(t, env.db, "Camiseta", "15.00", 0)
	v := testutil.SeedVariant(t, env.db, p, "M", 3)

	item := line(p, 2, "15.00")
	vid := v.ID.String()
	item.VariantID = &vid
	env.sell(t, cardTender(), item)

	var got model.ProductVariant
	require.NoError(t, env.db.First(&got, "id = ?", v.ID).Error)
	assert.Equal(t, 1, got.Stock)
}

func TestSale_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	p := testutil.SeedProduct(t, env.db, "Pan", "1.20", 10)

	discounted := line(p, 1, "1.20")
	discounted.LineDiscount = testutil.Dec("2")

	cases := map[string]dto.CreateSaleRequest{
		"no items":        {Tender: cashTender("1")},
		"zero quantity":   {Items: []dto.SaleItemRequest{line(p, 0, "1.20")}, Tender: cashTender("1")},
		"bad product id":  {Items: []dto.SaleItemRequest{{ProductID: "nope", Name: "x", Quantity: 1}}, Tender: cashTender("1")},
		"line discount":   {Items: []dto.SaleItemRequest{discounted}, Tender: cashTender("1")},
		"sale discount":   {Items: []dto.SaleItemRequest{line(p, 1, "1.20")}, Tender: cashTender("1"), Discount: testutil.Dec("5")},
		"unknown tender":  {Items: []dto.SaleItemRequest{line(p, 1, "1.20")}, Tender: dto.TenderRequest{Method: "cheque"}},
		"card over total": {Items: []dto.SaleItemRequest{line(p, 1, "1.20")}, Tender: dto.TenderRequest{Method: "card", CardAmount: decPtr("3")}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.sales.Create(context.Background(), env.actor, req)
			require.Error(t, err)
			assert.True(t, isCode(err, "VALIDATION_ERROR"), "got %v", err)
		})
	}
	assert.Equal(t, 10, testutil.StockOf(t, env.db, p.ID))
}

func TestSale_OfflineReplayReturnsSameSale(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	p := testutil.SeedProduct(t, env.db, "Leche", "0.99", 10)

	offline := "terminal-2:000017"
	req := dto.CreateSaleRequest{
		Items:     []dto.SaleItemRequest{line(p, 2, "0.99")},
		Tender:    cashTender("2"),
		OfflineID: &offline,
	}
	first, err := env.sales.Create(context.Background(), env.actor, req)
	require.NoError(t, err)
	second, err := env.sales.Create(context.Background(), env.actor, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), env.count(t, &model.Sale{}))
	assert.Equal(t, 8, testutil.StockOf(t, env.db, p.ID))
}

func TestSale_VoidRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	p := testutil.SeedProduct(t, env.db, "Miel", "6.00", 5)

	sale := env.sell(t, cashTender("20"), line(p, 3, "6.00"))
	require.Equal(t, 2, testutil.StockOf(t, env.db, p.ID))

	voided, err := env.sales.Void(context.Background(), env.actor, uuid.MustParse(sale.ID), dto.VoidSaleRequest{Reason: "cliente se arrepiente"})
	require.NoError(t, err)
	assert.Equal(t, string(model.SaleVoided), voided.Status)
	assert.Equal(t, 5, testutil.StockOf(t, env.db, p.ID))

	_, err = env.sales.Void(context.Background(), env.actor, uuid.MustParse(sale.ID), dto.VoidSaleRequest{Reason: "otra vez"})
	require.ErrorIs(t, err, ErrSaleNotVoidable)
	assert.Equal(t, 5, testutil.StockOf(t, env.db, p.ID))
}

func TestSale_VoidAfterSessionClosedFails(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, "0")
	sale := env.quickSale(t, "8.00")

	_, err := env.sessions.Close(context.Background(), env.actor, uuid.MustParse(sess.ID), dto.CloseSessionRequest{})
	require.NoError(t, err)

	_, err = env.sales.Void(context.Background(), env.actor, uuid.MustParse(sale.ID), dto.VoidSaleRequest{Reason: "tarde"})
	require.ErrorIs(t, err, ErrSaleNotVoidable)

	// still not voidable from a later session
	env.openSession(t, "0")
	_, err = env.sales.Void(context.Background(), env.actor, uuid.MustParse(sale.ID), dto.VoidSaleRequest{Reason: "tarde"})
	require.ErrorIs(t, err, ErrSaleNotVoidable)
	assert.Equal(t, model.SaleCompleted, env.saleStatus(t, sale.ID))
}

func TestSale_VoidRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	sale := env.quickSale(t, "1.00")

	_, err := env.sales.Void(context.Background(), env.actor, uuid.MustParse(sale.ID), dto.VoidSaleRequest{Reason: "  "})
	assert.True(t, isCode(err, "VALIDATION_ERROR"))
}

func TestSale_FiscalRecordAttached(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")

	sale := env.quickSale(t, "12.10")
	require.NotNil(t, sale.Fiscal)
	assert.Equal(t, string(model.FiscalPending), sale.Fiscal.Status)
	require.NotNil(t, sale.Fiscal.InvoiceNumber)
	assert.Equal(t, "INV-0001", *sale.Fiscal.InvoiceNumber)

	got, err := env.sales.Get(context.Background(), uuid.MustParse(sale.ID))
	require.NoError(t, err)
	require.NotNil(t, got.Fiscal)
	assert.Equal(t, *sale.Fiscal.RecordID, *got.Fiscal.RecordID)
}

func TestSale_FiscalFailureNeverUndoesSale(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")

	env.fiscal.halt(context.Background(), "prueba")
	sale := env.quickSale(t, "4.00")

	require.NotNil(t, sale.Fiscal)
	assert.Equal(t, "error", sale.Fiscal.Status)
	assert.Equal(t, model.SaleCompleted, env.saleStatus(t, sale.ID))
	assert.Equal(t, int64(0), env.count(t, &model.FiscalRecord{}))
}

func TestSale_FiscalDisabled(t *testing.T) {
	env := newTestEnv(t, func(o *FiscalOptions) { o.Enabled = false })
	env.openSession(t, "0")

	sale := env.quickSale(t, "4.00")
	require.NotNil(t, sale.Fiscal)
	assert.Equal(t, "disabled", sale.Fiscal.Status)
}

func TestSale_ListAndLookup(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	first := env.quickSale(t, "1.00")
	env.quickSale(t, "2.00")

	list, err := env.sales.List(context.Background(), dto.SaleFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)

	byNumber, err := env.sales.GetByNumber(context.Background(), first.Number)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byNumber.ID)

	_, err = env.sales.List(context.Background(), dto.SaleFilter{Status: "LOST"})
	assert.True(t, isCode(err, "VALIDATION_ERROR"))

	_, err = env.sales.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrSaleNotFound)
}

func TestSale_TicketPDF(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "0")
	sale := env.quickSale(t, "9.99")

	pdf, err := env.sales.Ticket(context.Background(), uuid.MustParse(sale.ID))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	require.NoError(t, env.sales.MarkTicketPrinted(context.Background(), uuid.MustParse(sale.ID)))
	got, err := env.sales.Get(context.Background(), uuid.MustParse(sale.ID))
	require.NoError(t, err)
	assert.True(t, got.TicketPrinted)
}

func decPtr(s string) *decimal.Decimal {
	d := testutil.Dec(s)
	return &d
}

func TestSettleTender_ChangeComesFromCashOverTotal(t *testing.T) {
	total := testutil.Dec("50.00")

	cases := []struct {
		name   string
		tender dto.TenderRequest
		change string
		cash   string
	}{
		{"cash", dto.TenderRequest{Method: "cash", CashReceived: decPtr("60")}, "10.00", "60.00"},
		{"mixed cash below total", dto.TenderRequest{Method: "mixed", CashReceived: decPtr("30"), CardAmount: decPtr("30")}, "0.00", "30.00"},
		{"mixed cash over total", dto.TenderRequest{Method: "mixed", CashReceived: decPtr("55"), AltAmount: decPtr("5")}, "5.00", "55.00"},
		{"mixed electronic over total", dto.TenderRequest{Method: "mixed", CardAmount: decPtr("60")}, "0.00", "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, err := settleTender(tc.tender, total)
			require.NoError(t, err)
			assert.Equal(t, tc.change, st.change.StringFixed(2))
			assert.Equal(t, tc.cash, st.cashReceived.StringFixed(2))
		})
	}

	_, err := settleTender(dto.TenderRequest{Method: "mixed", CashReceived: decPtr("20"), CardAmount: decPtr("29.99")}, total)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
}
