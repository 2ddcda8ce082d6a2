package service

import (
	"context"
	"sync"
	"testing"

	"evapos/internal/dto"
	"evapos/internal/model"
	"evapos/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCashSession_OpenTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	env.openSession(t, "100.00")

	_, err := env.sessions.Open(context.Background(), env.actor, dto.OpenSessionRequest{OpeningAmount: testutil.Dec("50")})
	require.ErrorIs(t, err, ErrSessionAlreadyOpen)
	assert.Equal(t, int64(1), env.count(t, &model.CashSession{}))
}

func TestCashSession_ConcurrentOpenHasOneWinner(t *testing.T) {
	env := newTestEnv(t)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.sessions.Open(context.Background(), env.actor, dto.OpenSessionRequest{OpeningAmount: testutil.Dec("10")})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrSessionAlreadyOpen)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(1), env.count(t, &model.CashSession{}))
}

func TestCashSession_NegativeOpeningRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sessions.Open(context.Background(), env.actor, dto.OpenSessionRequest{OpeningAmount: testutil.Dec("-1")})
	require.Error(t, err)
	assert.True(t, isCode(err, "VALIDATION_ERROR"))
}

func TestCashSession_CloseBalancedAfterCashSale(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, "100.00")
	coffee := testutil.SeedProduct(t, env.db, "Café molido", "20.00", 10)
	tea := testutil.SeedProduct(t, env.db, "Té verde", "25.50", 10)

	sale := env.sell(t, cashTender("50.00"), line(coffee, 1, "20.00"), line(tea, 1, "25.50"))
	assert.Equal(t, "45.50", sale.Total.StringFixed(2))
	assert.Equal(t, "4.50", sale.Change.StringFixed(2))

	closed, err := env.sessions.Close(context.Background(), env.actor, uuid.MustParse(sess.ID),
		dto.CloseSessionRequest{CountedCash: testutil.Dec("145.50")})
	require.NoError(t, err)
	assert.Equal(t, "145.50", closed.ExpectedCash.StringFixed(2))
	assert.Equal(t, "0.00", closed.Difference.StringFixed(2))
	assert.Equal(t, "balanced", closed.Classification)
	assert.Equal(t, "closed", closed.Session.Status)
}

func TestCashSession_CloseCountsMovementsMixedTenderAndSkipsVoided(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, "50.00")
	sessID := uuid.MustParse(sess.ID)
	p := testutil.SeedProduct(t, env.db, "Vela", "30.00", 10)

	card := testutil.Dec("10.00")
	cash := testutil.Dec("30.00")
	mixed := env.sell(t, dto.TenderRequest{Method: "mixed", CardAmount: &card, CashReceived: &cash}, line(p, 1, "30.00"))
	// change only comes out of cash exceeding the whole total
	assert.Equal(t, "0.00", mixed.Change.StringFixed(2))

	voided := env.sell(t, cashTender("30.00"), line(p, 1, "30.00"))
	_, err := env.sales.Void(context.Background(), env.actor, uuid.MustParse(voided.ID), dto.VoidSaleRequest{Reason: "error de cobro"})
	require.NoError(t, err)

	_, err = env.sessions.RecordMovement(context.Background(), env.actor, sessID,
		dto.CashMovementRequest{Type: "in", Amount: testutil.Dec("5.00"), Reason: "cambio extra"})
	require.NoError(t, err)
	_, err = env.sessions.RecordMovement(context.Background(), env.actor, sessID,
		dto.CashMovementRequest{Type: "out", Amount: testutil.Dec("12.00"), Reason: "mensajería"})
	require.NoError(t, err)

	summary, err := env.sessions.Summary(context.Background(), sessID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SalesCount)
	assert.Equal(t, 1, summary.VoidedCount)
	assert.Equal(t, "30.00", summary.ByTender.Cash.StringFixed(2))
	assert.Equal(t, "10.00", summary.ByTender.Card.StringFixed(2))
	assert.Equal(t, "73.00", summary.ExpectedCash.StringFixed(2))

	closed, err := env.sessions.Close(context.Background(), env.actor, sessID,
		dto.CloseSessionRequest{CountedCash: testutil.Dec("70.00"), CountedCard: testutil.Dec("10.00")})
	require.NoError(t, err)
	assert.Equal(t, "73.00", closed.ExpectedCash.StringFixed(2))
	assert.Equal(t, "-3.00", closed.Difference.StringFixed(2))
	assert.Equal(t, "short", closed.Classification)
}

func TestCashSession_ClosedSessionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, "0")
	id := uuid.MustParse(sess.ID)

	_, err := env.sessions.Close(context.Background(), env.actor, id, dto.CloseSessionRequest{})
	require.NoError(t, err)

	_, err = env.sessions.Close(context.Background(), env.actor, id, dto.CloseSessionRequest{})
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = env.sessions.RecordMovement(context.Background(), env.actor, id,
		dto.CashMovementRequest{Type: "in", Amount: testutil.Dec("1"), Reason: "tarde"})
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = env.sessions.Current(context.Background())
	require.ErrorIs(t, err, ErrNoOpenSession)

	// a new session may open once the previous one is closed
	env.openSession(t, "20")
}

func TestCashSession_MovementValidation(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t, "0")
	id := uuid.MustParse(sess.ID)

	cases := []dto.CashMovementRequest{
		{Type: "sideways", Amount: testutil.Dec("1"), Reason: "x"},
		{Type: "in", Amount: testutil.Dec("0"), Reason: "vacío"},
		{Type: "out", Amount: testutil.Dec("3"), Reason: "   "},
	}
	for _, req := range cases {
		_, err := env.sessions.RecordMovement(context.Background(), env.actor, id, req)
		assert.True(t, isCode(err, "VALIDATION_ERROR"), "request %+v", req)
	}

	_, err := env.sessions.RecordMovement(context.Background(), env.actor, uuid.New(),
		dto.CashMovementRequest{Type: "in", Amount: testutil.Dec("1"), Reason: "fantasma"})
	require.ErrorIs(t, err, ErrSessionNotFound)
}
