package repo

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSubmissionConflict is returned when the completion CAS matched no row:
	// the submission left Pending Delivery Review or already carries a transfer.
	ErrSubmissionConflict = errors.New("submission completion conflict")

	// ErrPaymentExists is returned by CreatePayment for a known payment id.
	ErrPaymentExists = errors.New("payment already exists")

	// ErrLockHeld is returned when another holder owns the lock.
	ErrLockHeld = errors.New("lock held")
)

// RepositoryInterface restricts Repo methods (方便单元测试 mock)
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	FindEntryByKey(ctx context.Context, tx *gorm.DB, key string) (*model.LedgerEntry, error)
	InsertEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) (bool, error)
	ListEntries(ctx context.Context, accountID string) ([]model.LedgerEntry, error)
	ListEntriesSince(ctx context.Context, accountID string, since time.Time, limit int) ([]model.LedgerEntry, error)

	GetPayment(ctx context.Context, tx *gorm.DB, id string) (*model.Payment, error)
	UpsertPayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	CreatePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	ListPayments(ctx context.Context, accountID string) ([]model.Payment, error)

	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	CompleteSubmission(ctx context.Context, tx *gorm.DB, id, transferID string) error

	GetPayoutDestination(ctx context.Context, earnerID string) (*model.PayoutDestination, error)
	CreatePayoutDestination(ctx context.Context, d *model.PayoutDestination) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
	locks  localLocks
}

// NewRepository constructs repo. rdb may be nil, in which case locks are
// only held within this process.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// conn picks the caller's transaction when there is one.
func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// FindEntryByKey returns gorm.ErrRecordNotFound when no entry carries key.
func (r *Repository) FindEntryByKey(ctx context.Context, tx *gorm.DB, key string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	if err := r.conn(ctx, tx).Where("idempotency_key = ?", key).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertEntry inserts unless the idempotency key is taken. It reports whether
// a row was written; false means a concurrent writer got there first.
func (r *Repository) InsertEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) (bool, error) {
	res := r.conn(ctx, tx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListEntries returns the full ledger of an account.
func (r *Repository) ListEntries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&entries).Error
	return entries, err
}

// ListEntriesSince fetches recent entries, newest first.
func (r *Repository) ListEntriesSince(ctx context.Context, accountID string, since time.Time, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND created_at >= ?", accountID, since).
		Order("created_at desc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *Repository) GetPayment(ctx context.Context, tx *gorm.DB, id string) (*model.Payment, error) {
	var p model.Payment
	if err := r.conn(ctx, tx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPayment creates the payment or overwrites its provider-reported fields.
func (r *Repository) UpsertPayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return r.conn(ctx, tx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "metadata", "updated_at"}),
		}).
		Create(p).Error
}

// CreatePayment inserts a payment that must not exist yet.
func (r *Repository) CreatePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	res := r.conn(ctx, tx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPaymentExists
	}
	return nil
}

func (r *Repository) ListPayments(ctx context.Context, accountID string) ([]model.Payment, error) {
	var ps []model.Payment
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at desc").Find(&ps).Error
	return ps, err
}

// GetSubmission loads a submission with its listing.
func (r *Repository) GetSubmission(ctx context.Context, id string) (*model.Submission, error) {
	var s model.Submission
	if err := r.db.WithContext(ctx).Preload("Listing").Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CompleteSubmission is the completion CAS: it only matches a submission that
// is still pending review and has no transfer reference.
func (r *Repository) CompleteSubmission(ctx context.Context, tx *gorm.DB, id, transferID string) error {
	res := r.conn(ctx, tx).
		Model(&model.Submission{}).
		Where("id = ? AND status = ? AND transfer_id IS NULL", id, model.StatusPendingDeliveryReview).
		Updates(map[string]interface{}{
			"status":      model.StatusCompleted,
			"transfer_id": transferID,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSubmissionConflict
	}
	return nil
}

func (r *Repository) GetPayoutDestination(ctx context.Context, earnerID string) (*model.PayoutDestination, error) {
	var d model.PayoutDestination
	if err := r.db.WithContext(ctx).Where("earner_id = ?", earnerID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) CreatePayoutDestination(ctx context.Context, d *model.PayoutDestination) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return r.conn(ctx, tx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:     []byte(evt.AggregateID),
		Value:   []byte(evt.Payload),
		Time:    evt.CreatedAt,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(evt.EventType)}},
	}
	return r.writer.WriteMessages(ctx, msg)
}
