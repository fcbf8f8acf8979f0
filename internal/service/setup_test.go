package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"github.com/richardliu001/gig-ledger/internal/whop"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeTransfers struct {
	mu    sync.Mutex
	calls []whop.TransferRequest
	err   error
	noID  bool
	hook  func()
}

func (f *fakeTransfers) CreateTransfer(ctx context.Context, req whop.TransferRequest) (*whop.Transfer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	hook, err, noID := f.hook, f.err, f.noID
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if noID {
		return &whop.Transfer{}, nil
	}
	return &whop.Transfer{ID: "xfer_" + req.IdempotencyKey}, nil
}

func (f *fakeTransfers) Calls() []whop.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]whop.TransferRequest(nil), f.calls...)
}

type fakeProvider struct {
	payments  map[string]*whop.Payment
	companies map[string]*whop.Company
	err       error
}

func (f *fakeProvider) GetPayment(ctx context.Context, id string) (*whop.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, &whop.APIError{StatusCode: 404, Message: "not found"}
	}
	return p, nil
}

func (f *fakeProvider) GetCompany(ctx context.Context, id string) (*whop.Company, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.companies[id]
	if !ok {
		return nil, &whop.APIError{StatusCode: 404, Message: "not found"}
	}
	return c, nil
}

type testEnv struct {
	db         *gorm.DB
	repo       *repo.Repository
	ledger     *LedgerService
	payments   *PaymentService
	settlement *SettlementService
	payouts    *PayoutService
	transfers  *fakeTransfers
	provider   *fakeProvider
}

func newTestEnv(t *testing.T, rdb *redis.Client) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))

	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	ledger := NewLedgerService(r, log, "USD")
	transfers := &fakeTransfers{}
	provider := &fakeProvider{payments: map[string]*whop.Payment{}, companies: map[string]*whop.Company{}}

	return &testEnv{
		db:       db,
		repo:     r,
		ledger:   ledger,
		payments: NewPaymentService(r, ledger, provider, log),
		settlement: NewSettlementService(r, ledger, transfers, SettlementConfig{
			PlatformAccountID: "biz_platform",
			FeeRate:           decimal.RequireFromString("0.05"),
			LockTTL:           time.Minute,
		}, log),
		payouts:   NewPayoutService(r, provider, log),
		transfers: transfers,
		provider:  provider,
	}
}

func (e *testEnv) credit(t *testing.T, accountID string, amount int64) {
	t.Helper()
	_, err := e.ledger.Append(context.Background(), AppendRequest{
		AccountID: accountID, Amount: decimal.NewFromInt(amount), Currency: "USD",
		Type: model.Credit, Description: "seed",
	})
	require.NoError(t, err)
}

// seedGig creates listing lst_1 owned by rec_1 and a submission sub_1 by
// ern_1 awaiting review. withPayee registers ern_1's payout destination.
func (e *testEnv) seedGig(t *testing.T, amount int64, withPayee bool) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Listing{
		ID: "lst_1", AccountID: "rec_1", Title: "Landing page copy",
		Amount: decimal.NewFromInt(amount), Currency: "USD",
	}).Error)
	require.NoError(t, e.db.Create(&model.Submission{
		ID: "sub_1", ListingID: "lst_1", EarnerID: "ern_1", Status: model.StatusPendingDeliveryReview,
	}).Error)
	if withPayee {
		require.NoError(t, e.db.Create(&model.PayoutDestination{
			ID: "pd_1", EarnerID: "ern_1", ExternalID: "biz_earner", Title: "Earner LLC",
		}).Error)
	}
}

func (e *testEnv) countEntries(t *testing.T, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.LedgerEntry{}).Where(where, args...).Count(&n).Error)
	return n
}

func (e *testEnv) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	b, err := e.ledger.GetBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b.Balance
}

func (e *testEnv) submission(t *testing.T) *model.Submission {
	t.Helper()
	s, err := e.repo.GetSubmission(context.Background(), "sub_1")
	require.NoError(t, err)
	return s
}
