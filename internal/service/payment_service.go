package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"github.com/richardliu001/gig-ledger/internal/whop"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Provider event types that carry a payment.
const (
	EventPaymentPending   = "payment.pending"
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

const defaultCurrency = "USD"

// PaymentFetcher looks a payment up at the provider.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, id string) (*whop.Payment, error)
}

// paymentEvent is the validated shape of a provider payment object.
type paymentEvent struct {
	ID        string              `json:"id" validate:"required,max=64"`
	Total     decimal.NullDecimal `json:"total"`
	Currency  string              `json:"currency" validate:"max=8"`
	Status    string              `json:"status"`
	Substatus string              `json:"substatus"`
	Metadata  paymentMetadata     `json:"metadata"`
}

// paymentMetadata is what we attached when creating the checkout.
type paymentMetadata struct {
	AccountID string              `json:"recruiterId" validate:"max=64"`
	Amount    decimal.NullDecimal `json:"amount"`
	Type      string              `json:"type" validate:"max=32"`
}

func (e paymentEvent) amount() decimal.Decimal {
	if e.Total.Valid && !e.Total.Decimal.IsZero() {
		return e.Total.Decimal
	}
	if e.Metadata.Amount.Valid {
		return e.Metadata.Amount.Decimal
	}
	return decimal.Zero
}

func normalizeCurrency(c string) string {
	if c == "" {
		return defaultCurrency
	}
	return strings.ToUpper(c)
}

// ConnectResult is returned by manual reconciliation.
type ConnectResult struct {
	Payment *model.Payment     `json:"payment"`
	Entry   *model.LedgerEntry `json:"ledger_entry"`
}

// PaymentService reconciles provider payments into Payment rows and top-up credits.
type PaymentService struct {
	repo     repo.RepositoryInterface
	ledger   *LedgerService
	provider PaymentFetcher
	log      *zap.SugaredLogger
	validate *validator.Validate
}

func NewPaymentService(r repo.RepositoryInterface, ledger *LedgerService, provider PaymentFetcher, logger *zap.SugaredLogger) *PaymentService {
	return &PaymentService{repo: r, ledger: ledger, provider: provider, log: logger, validate: validator.New()}
}

// IngestPaymentEvent handles one webhook delivery. Unknown event types,
// malformed payloads and payments without an account are logged and dropped
// with a nil error. Only storage failures are returned, so the provider
// redelivers; redelivery never double-credits.
func (s *PaymentService) IngestPaymentEvent(ctx context.Context, eventType string, data []byte) error {
	var status string
	switch eventType {
	case EventPaymentPending:
		status = model.PaymentPending
	case EventPaymentSucceeded:
		status = model.PaymentSucceeded
	case EventPaymentFailed:
		status = model.PaymentFailed
	default:
		s.log.Infow("ignoring provider event", "event_type", eventType)
		return nil
	}

	var evt paymentEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.log.Warnw("skipping payment event: undecodable payload", "event_type", eventType, "error", err)
		return nil
	}
	if err := s.validate.Struct(evt); err != nil {
		s.log.Warnw("skipping payment event: invalid payload", "event_type", eventType, "error", err)
		return nil
	}
	if evt.Metadata.AccountID == "" {
		s.log.Infow("skipping payment: missing recruiterId",
			"payment_id", evt.ID, "event_type", eventType, "purpose", evt.Metadata.Type)
		return nil
	}

	p := &model.Payment{
		ID:        evt.ID,
		AccountID: evt.Metadata.AccountID,
		Amount:    evt.amount(),
		Currency:  normalizeCurrency(evt.Currency),
		Status:    status,
		Purpose:   evt.Metadata.Type,
		Metadata:  datatypes.JSON(data),
	}

	var credited *model.LedgerEntry
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpsertPayment(ctx, tx, p); err != nil {
			return storageError("upsert payment", err)
		}
		if err := s.recorded(ctx, tx, p); err != nil {
			return err
		}
		if p.Status != model.PaymentSucceeded || p.Purpose != model.PurposeAddFunds || !p.Amount.IsPositive() {
			return nil
		}
		var err error
		credited, err = s.createTopUpCredit(ctx, tx, p, "Funds added via payment")
		return err
	})
	if err != nil {
		s.log.Errorw("ingest payment event", "payment_id", p.ID, "event_type", eventType, "error", err)
		return asServiceError("ingest payment event", err)
	}

	s.log.Infow("payment recorded", "payment_id", p.ID, "status", p.Status, "event_type", eventType)
	if credited != nil {
		s.log.Infow("balance topped up", "payment_id", p.ID, "account_id", p.AccountID,
			"amount", p.Amount.String(), "currency", p.Currency, "entry_id", credited.ID)
	}
	return nil
}

// ConnectPayment is the admin path for payments the webhook never delivered.
// Payments already known locally are rejected with AlreadyExists.
func (s *PaymentService) ConnectPayment(ctx context.Context, paymentID, accountID string) (*ConnectResult, error) {
	if paymentID == "" || accountID == "" {
		return nil, newError(KindValidation, "payment id and account id are required")
	}
	if _, err := s.repo.GetPayment(ctx, nil, paymentID); err == nil {
		return nil, newError(KindAlreadyExists, "payment already exists; only uncaptured payments can be connected")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError("get payment", err)
	}
	if s.provider == nil {
		return nil, newError(KindProvider, "payment provider not configured")
	}

	remote, err := s.provider.GetPayment(ctx, paymentID)
	if err != nil {
		s.log.Errorw("fetch payment from provider", "payment_id", paymentID, "error", err)
		return nil, &Error{Kind: KindProvider, Msg: "failed to retrieve payment from provider", Err: err}
	}

	status := remote.Substatus
	if status == "" {
		status = remote.Status
	}
	if status == "" {
		status = "unknown"
	}
	amount := decimal.Zero
	if remote.Total.Valid {
		amount = remote.Total.Decimal
	}
	p := &model.Payment{
		ID:        paymentID,
		AccountID: accountID,
		Amount:    amount,
		Currency:  normalizeCurrency(remote.Currency),
		Status:    status,
		Purpose:   model.PurposeAddFunds,
		Metadata:  datatypes.JSON(remote.Raw),
	}

	res := &ConnectResult{Payment: p}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreatePayment(ctx, tx, p); err != nil {
			if errors.Is(err, repo.ErrPaymentExists) {
				return newError(KindAlreadyExists, "payment already exists; only uncaptured payments can be connected")
			}
			return storageError("create payment", err)
		}
		if err := s.recorded(ctx, tx, p); err != nil {
			return err
		}
		if p.Status != model.PaymentSucceeded || !p.Amount.IsPositive() {
			return nil
		}
		var err error
		res.Entry, err = s.createTopUpCredit(ctx, tx, p, "Manually connected payment")
		return err
	})
	if err != nil {
		return nil, asServiceError("connect payment", err)
	}
	s.log.Infow("payment connected manually", "payment_id", p.ID, "account_id", accountID, "status", p.Status)
	return res, nil
}

// createTopUpCredit credits the payment's account, keyed on the payment id.
func (s *PaymentService) createTopUpCredit(ctx context.Context, tx *gorm.DB, p *model.Payment, what string) (*model.LedgerEntry, error) {
	paymentID := p.ID
	return s.ledger.AppendTx(ctx, tx, AppendRequest{
		AccountID:      p.AccountID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Type:           model.Credit,
		Description:    fmt.Sprintf("%s (%s %s)", what, p.Currency, p.Amount.StringFixed(2)),
		IdempotencyKey: PaymentKey(p.ID),
		PaymentID:      &paymentID,
	})
}

func (s *PaymentService) recorded(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	err := emit(ctx, s.repo, tx, "Payment", p.ID, model.EventPaymentRecorded, map[string]interface{}{
		"id":         p.ID,
		"account_id": p.AccountID,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"status":     p.Status,
		"purpose":    p.Purpose,
	})
	if err != nil {
		return storageError("write outbox", err)
	}
	return nil
}
