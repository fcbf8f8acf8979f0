package service

import (
	"context"
	"encoding/json"

	"github.com/richardliu001/gig-ledger/internal/model"
	"github.com/richardliu001/gig-ledger/internal/repo"
	"gorm.io/gorm"
)

// emit records an event in the same transaction as the write it announces.
func emit(ctx context.Context, r repo.RepositoryInterface, tx *gorm.DB, aggregate, aggregateID, eventType string, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   aggregate,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     string(b),
	})
}
