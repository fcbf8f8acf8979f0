package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"github.com/richardliu001/gig-ledger/internal/whop"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultLockTTL = 30 * time.Second

// TransferCreator moves funds out of the platform account. Calls with the
// same idempotency key must yield the same transfer.
type TransferCreator interface {
	CreateTransfer(ctx context.Context, req whop.TransferRequest) (*whop.Transfer, error)
}

// SettlementConfig is injected from the platform section of the config.
type SettlementConfig struct {
	PlatformAccountID string
	FeeRate           decimal.Decimal
	LockTTL           time.Duration
}

type SettlementResult struct {
	SubmissionID  string          `json:"submission_id"`
	TransferID    string          `json:"transfer_id"`
	ListingAmount decimal.Decimal `json:"listing_amount"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	EarnerAmount  decimal.Decimal `json:"earner_amount"`
	Currency      string          `json:"currency"`
	DebitEntryID  string          `json:"debit_entry_id"`
}

// SplitFee returns the platform fee (rounded to cents) and what the earner receives.
func SplitFee(amount, rate decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(rate).Round(2)
	return fee, amount.Sub(fee)
}

// SettlementService completes a submission and pays the earner.
type SettlementService struct {
	repo      repo.RepositoryInterface
	ledger    *LedgerService
	transfers TransferCreator
	cfg       SettlementConfig
	log       *zap.SugaredLogger
}

func NewSettlementService(r repo.RepositoryInterface, ledger *LedgerService, transfers TransferCreator, cfg SettlementConfig, logger *zap.SugaredLogger) *SettlementService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &SettlementService{repo: r, ledger: ledger, transfers: transfers, cfg: cfg, log: logger}
}

// CompleteAndPay moves a submission from Pending Delivery Review to Completed.
//
// Preconditions are checked in a fixed order and each fails with its own
// Kind. The transfer runs before, and outside of, the transaction that
// writes the debit and flips the submission: the debit asserts that money
// left the platform, so it is only written once that is true. A failed
// transfer leaves no local trace and can be retried with the same key.
func (s *SettlementService) CompleteAndPay(ctx context.Context, submissionID, actingAccountID string) (*SettlementResult, error) {
	if submissionID == "" {
		return nil, newError(KindValidation, "submission id is required")
	}
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if actingAccountID == "" || sub.Listing.AccountID != actingAccountID {
		return nil, newError(KindForbidden, "you do not have permission to complete this submission")
	}

	// one settlement per recruiter at a time, so balance checks cannot interleave
	lockKey := "settle:account:" + actingAccountID
	token, err := s.repo.AcquireLock(ctx, lockKey, s.cfg.LockTTL)
	if errors.Is(err, repo.ErrLockHeld) {
		return nil, newError(KindInProgress, "another payout for this account is in progress")
	}
	if err != nil {
		s.log.Errorw("acquire settlement lock", "account_id", actingAccountID, "error", err)
		return nil, storageError("acquire settlement lock", err)
	}
	defer func() {
		if err := s.repo.ReleaseLock(context.Background(), lockKey, token); err != nil {
			s.log.Warnw("release settlement lock", "account_id", actingAccountID, "error", err)
		}
	}()

	// reload under the lock: a settlement that just finished may have changed it
	if sub, err = s.loadSubmission(ctx, submissionID); err != nil {
		return nil, err
	}
	if sub.Status != model.StatusPendingDeliveryReview {
		return nil, newError(KindInvalidState, fmt.Sprintf("submission must be in %q status to be completed", model.StatusPendingDeliveryReview))
	}
	if sub.TransferID != nil {
		return nil, newError(KindAlreadyCompleted, "submission has already been paid")
	}

	dest, err := s.repo.GetPayoutDestination(ctx, sub.EarnerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindPayeeNotReady, "earner has not set up payouts yet")
	}
	if err != nil {
		s.log.Errorw("load payout destination", "earner_id", sub.EarnerID, "error", err)
		return nil, storageError("load payout destination", err)
	}

	amount := sub.Listing.Amount
	bal, err := s.ledger.GetBalance(ctx, actingAccountID)
	if err != nil {
		return nil, err
	}
	if bal.Balance.LessThan(amount) {
		return nil, &Error{
			Kind:      KindInsufficientBalance,
			Msg:       fmt.Sprintf("insufficient balance: have %s, need %s", bal.Balance.StringFixed(2), amount.StringFixed(2)),
			Available: bal.Balance,
			Required:  amount,
		}
	}

	fee, net := SplitFee(amount, s.cfg.FeeRate)
	transferKey := PayoutTransferKey(sub.ID)
	transfer, err := s.transfers.CreateTransfer(ctx, whop.TransferRequest{
		Amount:         net,
		Currency:       sub.Listing.Currency,
		OriginID:       s.cfg.PlatformAccountID,
		DestinationID:  dest.ExternalID,
		IdempotencyKey: transferKey,
		Notes:          "Gig payment: " + sub.Listing.Title,
		Metadata: map[string]string{
			"submissionId":  sub.ID,
			"listingId":     sub.Listing.ID,
			"earnerId":      sub.EarnerID,
			"recruiterId":   actingAccountID,
			"listingAmount": amount.String(),
			"platformFee":   fee.String(),
			"earnerAmount":  net.String(),
		},
	})
	if err != nil {
		s.log.Errorw("create transfer", "submission_id", sub.ID, "idempotency_key", transferKey, "error", err)
		te := &Error{Kind: KindTransferFailed, Msg: "failed to create transfer", Err: err}
		var apiErr *whop.APIError
		if errors.As(err, &apiErr) {
			te.ProviderMessage = apiErr.Message
		}
		return nil, te
	}
	if transfer == nil || transfer.ID == "" {
		s.log.Errorw("transfer without id", "submission_id", sub.ID, "idempotency_key", transferKey)
		return nil, newError(KindTransferFailed, "provider returned no transfer id")
	}

	var debit *model.LedgerEntry
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		debit, err = s.ledger.AppendTx(ctx, tx, AppendRequest{
			AccountID:      actingAccountID,
			Amount:         amount,
			Currency:       sub.Listing.Currency,
			Type:           model.Debit,
			Description:    fmt.Sprintf("Payment for gig: %s (earner %s)", sub.Listing.Title, sub.EarnerID),
			IdempotencyKey: PayoutDebitKey(sub.ID),
		})
		if err != nil {
			return err
		}
		if err := s.repo.CompleteSubmission(ctx, tx, sub.ID, transfer.ID); err != nil {
			if errors.Is(err, repo.ErrSubmissionConflict) {
				return newError(KindAlreadyCompleted, "submission has already been paid")
			}
			return storageError("complete submission", err)
		}
		if err := emit(ctx, s.repo, tx, "Submission", sub.ID, model.EventSubmissionCompleted, map[string]interface{}{
			"submission_id":  sub.ID,
			"listing_id":     sub.Listing.ID,
			"recruiter_id":   actingAccountID,
			"earner_id":      sub.EarnerID,
			"transfer_id":    transfer.ID,
			"listing_amount": amount,
			"platform_fee":   fee,
			"earner_amount":  net,
			"currency":       sub.Listing.Currency,
		}); err != nil {
			return storageError("write outbox", err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindAlreadyCompleted {
			s.log.Warnw("submission completed concurrently", "submission_id", sub.ID, "transfer_id", transfer.ID)
			return nil, err
		}
		// money has left the platform but nothing was recorded; a retry reuses both keys
		s.log.Errorw("settlement commit failed after transfer",
			"submission_id", sub.ID, "transfer_id", transfer.ID, "idempotency_key", transferKey, "error", err)
		return nil, asServiceError("commit settlement", err)
	}

	s.log.Infow("submission completed",
		"submission_id", sub.ID, "transfer_id", transfer.ID,
		"listing_amount", amount.String(), "platform_fee", fee.String(), "earner_amount", net.String())

	return &SettlementResult{
		SubmissionID:  sub.ID,
		TransferID:    transfer.ID,
		ListingAmount: amount,
		PlatformFee:   fee,
		EarnerAmount:  net,
		Currency:      sub.Listing.Currency,
		DebitEntryID:  debit.ID,
	}, nil
}

func (s *SettlementService) loadSubmission(ctx context.Context, id string) (*model.Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindNotFound, "submission not found")
	}
	if err != nil {
		s.log.Errorw("load submission", "submission_id", id, "error", err)
		return nil, storageError("load submission", err)
	}
	return sub, nil
}
