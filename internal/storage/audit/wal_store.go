package audit

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/svault/internal/domain"
)

const (
	defaultAuditDir   = "./wal/audit"
	auditSegmentLimit = 1000
	auditMaxSegments  = 100
	auditKeyPrefix    = "audit_"
)

// WALStore appends audit events to a WAL for external indexing and streaming.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
	now func() time.Time
}

// NewWALStore initializes a WAL-backed audit log under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultAuditDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "audit_",
		SegmentThreshold: auditSegmentLimit,
		MaxSegments:      auditMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init audit WAL")
	}

	return &WALStore{wal: wal, now: time.Now}, nil
}

// Save appends the event and returns the stored record.
func (s *WALStore) Save(event domain.AuditEvent) (domain.AuditRecord, error) {
	if s == nil || s.wal == nil {
		return domain.AuditRecord{}, errors.New("audit store is not initialized")
	}
	if event == nil {
		return domain.AuditRecord{}, errors.New("audit event is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return domain.AuditRecord{}, errors.Wrapf(err, "marshal %s event", event.Kind())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := domain.AuditRecord{
		Index:     s.wal.CurrentIndex() + 1,
		Kind:      event.Kind(),
		Timestamp: s.now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return domain.AuditRecord{}, errors.Wrap(err, "marshal audit record")
	}

	if err := s.wal.Write(record.Index, auditKeyPrefix+string(record.Kind), data); err != nil {
		return domain.AuditRecord{}, errors.Wrapf(err, "write %s event", record.Kind)
	}

	return record, nil
}

// EventsAfter returns all audit records written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]domain.AuditRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("audit store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= index {
		return nil, nil
	}

	var records []domain.AuditRecord
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, auditKeyPrefix) {
			continue
		}
		var record domain.AuditRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return nil, errors.Wrapf(err, "decode audit record %s", msg.Key)
		}
		if record.Index <= index {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("audit store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
