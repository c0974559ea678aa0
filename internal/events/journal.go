package events

import (
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
)

// AuditStore appends audit events to durable storage.
type AuditStore interface {
	Save(event domain.AuditEvent) (domain.AuditRecord, error)
}

// Journal stores audit events and publishes the stored records to live subscribers.
type Journal struct {
	logger      *zap.Logger
	store       AuditStore
	broadcaster *AuditBroadcaster
}

// NewJournal creates a Journal. broadcaster may be nil.
func NewJournal(logger *zap.Logger, store AuditStore, broadcaster *AuditBroadcaster) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{logger: logger, store: store, broadcaster: broadcaster}
}

// Record saves every event in order. A failed save is logged and the event is skipped.
func (j *Journal) Record(events ...domain.AuditEvent) {
	for _, ev := range events {
		rec, err := j.store.Save(ev)
		if err != nil {
			j.logger.Error("failed to store audit event", zap.String("kind", string(ev.Kind())), zap.Error(err))
			continue
		}
		if j.broadcaster != nil {
			j.broadcaster.Publish(rec)
		}
	}
}
