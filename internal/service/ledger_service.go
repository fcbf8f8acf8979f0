package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// AppendRequest describes one ledger entry to write. An empty IdempotencyKey
// gets a random one, which is only right for one-shot events.
type AppendRequest struct {
	AccountID      string `validate:"required,max=64"`
	Amount         decimal.Decimal
	Currency       string                `validate:"required,max=8"`
	Type           model.TransactionType `validate:"required,oneof=credit debit"`
	Description    string                `validate:"max=255"`
	IdempotencyKey string                `validate:"max=128"`
	PaymentID      *string
}

type Balance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
}

// LedgerService owns the append-only ledger and the balance derived from it.
type LedgerService struct {
	repo     repo.RepositoryInterface
	log      *zap.SugaredLogger
	validate *validator.Validate
	currency string
}

// NewLedgerService returns LedgerService. currency is reported with balances.
func NewLedgerService(r repo.RepositoryInterface, logger *zap.SugaredLogger, currency string) *LedgerService {
	return &LedgerService{repo: r, log: logger, validate: validator.New(), currency: currency}
}

// Append writes an entry in its own transaction. A repeated idempotency key
// returns the entry already stored, unchanged.
func (s *LedgerService) Append(ctx context.Context, req AppendRequest) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.AppendTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, asServiceError("append ledger entry", err)
	}
	return entry, nil
}

// AppendTx is Append inside the caller's unit of work.
func (s *LedgerService) AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (*model.LedgerEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &Error{Kind: KindValidation, Msg: "invalid ledger entry", Err: err}
	}
	if !req.Amount.IsPositive() {
		return nil, newError(KindValidation, "ledger amount must be positive")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = RandomKey()
	}

	existing, err := s.repo.FindEntryByKey(ctx, tx, key)
	if err == nil {
		s.log.Infow("ledger entry already exists", "idempotency_key", key, "entry_id", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError("find ledger entry", err)
	}

	entry := &model.LedgerEntry{
		ID:             uuid.NewString(),
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           req.Type,
		Description:    req.Description,
		IdempotencyKey: key,
		PaymentID:      req.PaymentID,
	}
	created, err := s.repo.InsertEntry(ctx, tx, entry)
	if err != nil {
		return nil, storageError("insert ledger entry", err)
	}
	if !created {
		// lost the race to a concurrent writer with the same key
		winner, err := s.repo.FindEntryByKey(ctx, tx, key)
		if err != nil {
			return nil, storageError("reload ledger entry", err)
		}
		return winner, nil
	}

	if err := emit(ctx, s.repo, tx, "LedgerEntry", entry.ID, model.EventLedgerEntryCreated, map[string]interface{}{
		"id":              entry.ID,
		"account_id":      entry.AccountID,
		"amount":          entry.Amount,
		"currency":        entry.Currency,
		"type":            entry.Type,
		"idempotency_key": entry.IdempotencyKey,
		"payment_id":      entry.PaymentID,
	}); err != nil {
		return nil, storageError("write outbox", err)
	}
	return entry, nil
}

// GetBalance folds the account's full history. Nothing is cached.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	entries, err := s.repo.ListEntries(ctx, accountID)
	if err != nil {
		s.log.Errorw("list ledger entries", "account_id", accountID, "error", err)
		return nil, storageError("list ledger entries", err)
	}
	return &Balance{AccountID: accountID, Balance: ComputeBalance(entries), Currency: s.currency}, nil
}

// History returns entries created after since, newest first.
func (s *LedgerService) History(ctx context.Context, accountID string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.repo.ListEntriesSince(ctx, accountID, since, limit)
	if err != nil {
		return nil, storageError("list ledger history", err)
	}
	return entries, nil
}

// Payments lists the account's provider payments, newest first.
func (s *LedgerService) Payments(ctx context.Context, accountID string) ([]model.Payment, error) {
	ps, err := s.repo.ListPayments(ctx, accountID)
	if err != nil {
		return nil, storageError("list payments", err)
	}
	return ps, nil
}

// asServiceError keeps service errors as they are and wraps anything else
// (typically a failed commit) as a storage error.
func asServiceError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return storageError(op, err)
}
