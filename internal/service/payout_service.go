package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"github.com/richardliu001/gig-ledger/internal/whop"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CompanyFetcher interface {
	GetCompany(ctx context.Context, id string) (*whop.Company, error)
}

type PayoutStatus struct {
	Ready       bool                     `json:"has_company"`
	Destination *model.PayoutDestination `json:"company,omitempty"`
}

// PayoutService manages the earner side: where payouts are sent.
type PayoutService struct {
	repo      repo.RepositoryInterface
	companies CompanyFetcher
	log       *zap.SugaredLogger
}

func NewPayoutService(r repo.RepositoryInterface, companies CompanyFetcher, logger *zap.SugaredLogger) *PayoutService {
	return &PayoutService{repo: r, companies: companies, log: logger}
}

func (s *PayoutService) Status(ctx context.Context, earnerID string) (*PayoutStatus, error) {
	d, err := s.repo.GetPayoutDestination(ctx, earnerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &PayoutStatus{}, nil
	}
	if err != nil {
		return nil, storageError("load payout destination", err)
	}
	return &PayoutStatus{Ready: true, Destination: d}, nil
}

// Connect registers an existing provider company as the earner's payout destination.
func (s *PayoutService) Connect(ctx context.Context, earnerID, companyID string) (*model.PayoutDestination, error) {
	if earnerID == "" || companyID == "" {
		return nil, newError(KindValidation, "earner id and company id are required")
	}
	existing, err := s.repo.GetPayoutDestination(ctx, earnerID)
	if err == nil {
		return nil, newError(KindAlreadyExists, "earner already has a payout destination ("+existing.ExternalID+")")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageError("load payout destination", err)
	}
	if s.companies == nil {
		return nil, newError(KindProvider, "payment provider not configured")
	}

	co, err := s.companies.GetCompany(ctx, companyID)
	if err != nil {
		s.log.Errorw("fetch company from provider", "company_id", companyID, "error", err)
		return nil, &Error{Kind: KindProvider, Msg: "failed to fetch company from provider", Err: err}
	}

	d := &model.PayoutDestination{
		ID:         uuid.NewString(),
		EarnerID:   earnerID,
		ExternalID: co.ID,
		Title:      co.Title,
		Metadata:   datatypes.JSON(co.Raw),
	}
	if err := s.repo.CreatePayoutDestination(ctx, d); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, newError(KindAlreadyExists, "earner already has a payout destination")
		}
		return nil, storageError("create payout destination", err)
	}
	s.log.Infow("payout destination connected", "earner_id", earnerID, "external_id", co.ID)
	return d, nil
}
