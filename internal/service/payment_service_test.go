package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/whop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentJSON(t *testing.T, id, total, account, purpose string) []byte {
	t.Helper()
	body := map[string]interface{}{
		"id":       id,
		"currency": "usd",
		"metadata": map[string]interface{}{"recruiterId": account, "type": purpose},
	}
	if total != "" {
		body["total"] = json.Number(total)
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func TestIngest_SucceededTwiceCreditsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	data := paymentJSON(t, "pay_1", "50", "rec_1", model.PurposeAddFunds)

	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentSucceeded, data))
	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentSucceeded, data))

	assert.EqualValues(t, 1, env.countEntries(t, "idempotency_key = ?", "payment_pay_1"))
	assert.True(t, env.balance(t, "rec_1").Equal(decimal.NewFromInt(50)))

	p, err := env.repo.GetPayment(ctx, nil, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, p.Status)
	assert.Equal(t, "USD", p.Currency)
}

func TestIngest_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	data := paymentJSON(t, "pay_1", "75.25", "rec_1", model.PurposeAddFunds)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.payments.IngestPaymentEvent(context.Background(), EventPaymentSucceeded, data)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.EqualValues(t, 1, env.countEntries(t, "account_id = ?", "rec_1"))
	assert.True(t, env.balance(t, "rec_1").Equal(decimal.RequireFromString("75.25")))
}

func TestIngest_PendingThenSucceeded(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	data := paymentJSON(t, "pay_1", "20", "rec_1", model.PurposeAddFunds)

	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentPending, data))
	assert.EqualValues(t, 0, env.countEntries(t, "account_id = ?", "rec_1"))
	p, err := env.repo.GetPayment(ctx, nil, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status)

	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentSucceeded, data))
	p, err = env.repo.GetPayment(ctx, nil, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, p.Status)
	assert.True(t, env.balance(t, "rec_1").Equal(decimal.NewFromInt(20)))
}

func TestIngest_FailedPaymentIsRecordedWithoutCredit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentFailed,
		paymentJSON(t, "pay_1", "20", "rec_1", model.PurposeAddFunds)))

	p, err := env.repo.GetPayment(ctx, nil, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, p.Status)
	assert.EqualValues(t, 0, env.countEntries(t, "1 = 1"))
}

func TestIngest_SkipsWithoutSideEffects(t *testing.T) {
	cases := map[string]struct {
		eventType string
		data      []byte
	}{
		"unknown event type": {"membership.went_valid", []byte(`{"id":"pay_1"}`)},
		"undecodable body":   {EventPaymentSucceeded, []byte(`{"id":`)},
		"missing id":         {EventPaymentSucceeded, []byte(`{"total":10,"metadata":{"recruiterId":"rec_1","type":"add_funds"}}`)},
		"missing account":    {EventPaymentSucceeded, []byte(`{"id":"pay_1","total":10,"metadata":{"type":"add_funds"}}`)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			require.NoError(t, env.payments.IngestPaymentEvent(context.Background(), tc.eventType, tc.data))

			var payments int64
			require.NoError(t, env.db.Model(&model.Payment{}).Count(&payments).Error)
			assert.Zero(t, payments)
			assert.Zero(t, env.countEntries(t, "1 = 1"))
		})
	}
}

func TestIngest_OtherPurposeIsNotCredited(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentSucceeded,
		paymentJSON(t, "pay_1", "99", "rec_1", "subscription")))

	_, err := env.repo.GetPayment(ctx, nil, "pay_1")
	require.NoError(t, err)
	assert.Zero(t, env.countEntries(t, "1 = 1"))
}

func TestIngest_FallsBackToMetadataAmount(t *testing.T) {
	env := newTestEnv(t, nil)
	data := []byte(`{"id":"pay_1","currency":"eur","metadata":{"recruiterId":"rec_1","type":"add_funds","amount":"12.34"}}`)

	require.NoError(t, env.payments.IngestPaymentEvent(context.Background(), EventPaymentSucceeded, data))

	e, err := env.repo.FindEntryByKey(context.Background(), nil, PaymentKey("pay_1"))
	require.NoError(t, err)
	assert.True(t, e.Amount.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, "EUR", e.Currency)
	require.NotNil(t, e.PaymentID)
	assert.Equal(t, "pay_1", *e.PaymentID)
}

func TestConnectPayment_CreditsThenRejectsKnownPayment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.provider.payments["pay_9"] = &whop.Payment{
		ID:        "pay_9",
		Total:     decimal.NewNullDecimal(decimal.NewFromInt(40)),
		Currency:  "usd",
		Status:    "paid",
		Substatus: model.PaymentSucceeded,
		Raw:       json.RawMessage(`{"id":"pay_9"}`),
	}

	res, err := env.payments.ConnectPayment(ctx, "pay_9", "rec_1")
	require.NoError(t, err)
	require.NotNil(t, res.Entry)
	assert.Equal(t, PaymentKey("pay_9"), res.Entry.IdempotencyKey)
	assert.Equal(t, model.PurposeAddFunds, res.Payment.Purpose)
	assert.True(t, env.balance(t, "rec_1").Equal(decimal.NewFromInt(40)))

	_, err = env.payments.ConnectPayment(ctx, "pay_9", "rec_1")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.True(t, env.balance(t, "rec_1").Equal(decimal.NewFromInt(40)))
}

func TestConnectPayment_RejectsWebhookPayment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.payments.IngestPaymentEvent(ctx, EventPaymentPending,
		paymentJSON(t, "pay_1", "10", "rec_1", model.PurposeAddFunds)))

	_, err := env.payments.ConnectPayment(ctx, "pay_1", "rec_1")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestConnectPayment_UnsettledPaymentIsStoredWithoutCredit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.payments["pay_2"] = &whop.Payment{
		ID: "pay_2", Total: decimal.NewNullDecimal(decimal.NewFromInt(15)), Status: "open",
	}

	res, err := env.payments.ConnectPayment(context.Background(), "pay_2", "rec_1")
	require.NoError(t, err)
	assert.Nil(t, res.Entry)
	assert.Equal(t, "open", res.Payment.Status)
	assert.Equal(t, "USD", res.Payment.Currency)
	assert.Zero(t, env.countEntries(t, "1 = 1"))
}

func TestConnectPayment_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.payments.ConnectPayment(context.Background(), "pay_missing", "rec_1")
	assert.ErrorIs(t, err, ErrProvider)

	env.provider.err = errors.New("connection reset")
	_, err = env.payments.ConnectPayment(context.Background(), "pay_missing", "rec_1")
	assert.ErrorIs(t, err, ErrProvider)

	_, err = env.payments.ConnectPayment(context.Background(), "", "rec_1")
	assert.ErrorIs(t, err, ErrValidation)
}
