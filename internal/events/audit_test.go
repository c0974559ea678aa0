package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/svault/internal/domain"
)

func TestAuditBroadcaster_FanOut(t *testing.T) {
	b := NewAuditBroadcaster(1)
	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(domain.AuditRecord{Index: 1, Kind: domain.AuditDepositCompleted})
	// buffer is full, dropped for both
	b.Publish(domain.AuditRecord{Index: 2})

	for _, ch := range []chan domain.AuditRecord{first, second} {
		r := <-ch
		assert.Equal(t, uint64(1), r.Index)
		assert.Empty(t, ch)
	}
	assert.Equal(t, uint64(2), b.Dropped())

	b.Unsubscribe(first)
	_, open := <-first
	require.False(t, open)
	assert.Equal(t, 1, b.Subscribers())

	// second unsubscribe is a no-op
	b.Unsubscribe(first)
}

func TestAuditBroadcaster_KindFilter(t *testing.T) {
	b := NewAuditBroadcaster(4)
	deposits := b.Subscribe(domain.AuditDepositCompleted)
	everything := b.Subscribe()

	for i, kind := range []domain.AuditKind{domain.AuditStatusChanged, domain.AuditDepositCompleted, domain.AuditIncomeHarvested} {
		b.Publish(domain.AuditRecord{Index: uint64(i + 1), Kind: kind})
	}

	require.Len(t, deposits, 1)
	assert.Equal(t, uint64(2), (<-deposits).Index)
	assert.Len(t, everything, 3)
	assert.Zero(t, b.Dropped())
}

type fakeAuditStore struct {
	next  uint64
	fail  domain.AuditKind
	saved []domain.AuditKind
}

func (s *fakeAuditStore) Save(event domain.AuditEvent) (domain.AuditRecord, error) {
	if event.Kind() == s.fail {
		return domain.AuditRecord{}, assert.AnError
	}
	s.next++
	s.saved = append(s.saved, event.Kind())
	return domain.AuditRecord{Index: s.next, Kind: event.Kind()}, nil
}

func TestJournal_Record(t *testing.T) {
	store := &fakeAuditStore{fail: domain.AuditStatusChanged}
	b := NewAuditBroadcaster(4)
	sub := b.Subscribe()
	j := NewJournal(nil, store, b)

	j.Record(domain.DepositCompleted{}, domain.StatusChanged{}, domain.IncomeHarvested{})

	assert.Equal(t, []domain.AuditKind{domain.AuditDepositCompleted, domain.AuditIncomeHarvested}, store.saved)
	require.Len(t, sub, 2)
	assert.Equal(t, uint64(1), (<-sub).Index)
	assert.Equal(t, domain.AuditIncomeHarvested, (<-sub).Kind)

	// no broadcaster attached
	NewJournal(nil, store, nil).Record(domain.DelegateChanged{})
	assert.Len(t, store.saved, 3)
}
