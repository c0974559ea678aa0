// Package state keeps the vault's transactional state in a bbolt file.
package state

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/vadiminshakov/svault/internal/domain"
)

const defaultFileName = "state.db"

var (
	bucketStatus      = []byte("status")
	bucketCollaterals = []byte("collaterals")
	bucketRedemptions = []byte("redemptions")
	bucketOutbox      = []byte("outbox")

	keyVaultStatus = []byte("vault")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = (cbor.EncOptions{Time: cbor.TimeRFC3339Nano}).EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Store is the bbolt-backed vault state. Every vault operation runs in one Update transaction.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the state database inside dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}

	db, err := bbolt.Open(filepath.Join(dir, defaultFileName), 0600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open state database")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStatus, bucketCollaterals, bucketRedemptions, bucketOutbox} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a read-write transaction. Nothing is written when fn returns an error.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// Tx exposes typed access to the vault buckets.
type Tx struct {
	tx *bbolt.Tx
}

// OnCommit registers fn to run after the transaction commits successfully.
func (t *Tx) OnCommit(fn func()) {
	t.tx.OnCommit(fn)
}

// Status returns the stored vault status. ok is false before initialisation.
func (t *Tx) Status() (status domain.VaultStatus, ok bool, err error) {
	v := t.tx.Bucket(bucketStatus).Get(keyVaultStatus)
	if v == nil {
		return status, false, nil
	}
	if err := decMode.Unmarshal(v, &status); err != nil {
		return status, false, errors.Wrap(err, "decode vault status")
	}

	return status, true, nil
}

// PutStatus stores the vault status.
func (t *Tx) PutStatus(status domain.VaultStatus) error {
	return t.put(t.tx.Bucket(bucketStatus), keyVaultStatus, status)
}

// Collateral returns the collateral with the given id.
func (t *Tx) Collateral(id uint64) (c domain.Collateral, ok bool, err error) {
	v := t.tx.Bucket(bucketCollaterals).Get(uint64Key(id))
	if v == nil {
		return c, false, nil
	}
	if err := decMode.Unmarshal(v, &c); err != nil {
		return c, false, errors.Wrapf(err, "decode collateral %d", id)
	}

	return c, true, nil
}

// Collaterals returns every collateral ordered by id.
func (t *Tx) Collaterals() ([]domain.Collateral, error) {
	var out []domain.Collateral
	err := t.tx.Bucket(bucketCollaterals).ForEach(func(k, v []byte) error {
		var c domain.Collateral
		if err := decMode.Unmarshal(v, &c); err != nil {
			return errors.Wrapf(err, "decode collateral %x", k)
		}
		out = append(out, c)
		return nil
	})

	return out, err
}

// LastCollateralID returns the highest assigned collateral id, 0 if none.
func (t *Tx) LastCollateralID() uint64 {
	k, _ := t.tx.Bucket(bucketCollaterals).Cursor().Last()
	if k == nil {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}

// PutCollateral stores the collateral under its id.
func (t *Tx) PutCollateral(c domain.Collateral) error {
	if c.ID == 0 {
		return errors.New("collateral id must be assigned")
	}
	return t.put(t.tx.Bucket(bucketCollaterals), uint64Key(c.ID), c)
}

// AppendRedemption adds r to the tail of its owner's queue.
func (t *Tx) AppendRedemption(r domain.PendingRedemption) error {
	b, err := t.tx.Bucket(bucketRedemptions).CreateBucketIfNotExists([]byte(r.Owner))
	if err != nil {
		return errors.Wrapf(err, "create redemption queue for %s", r.Owner)
	}

	key := uint64Key(r.ID)
	if last, _ := b.Cursor().Last(); last != nil && binary.BigEndian.Uint64(last) >= r.ID {
		return errors.Errorf("redemption id %d is not above queue tail %d", r.ID, binary.BigEndian.Uint64(last))
	}

	return t.put(b, key, r)
}

// HeadRedemption returns the oldest queued redemption of owner.
func (t *Tx) HeadRedemption(owner domain.AccountID) (r domain.PendingRedemption, ok bool, err error) {
	b := t.tx.Bucket(bucketRedemptions).Bucket([]byte(owner))
	if b == nil {
		return r, false, nil
	}
	k, v := b.Cursor().First()
	if k == nil {
		return r, false, nil
	}
	if err := decMode.Unmarshal(v, &r); err != nil {
		return r, false, errors.Wrapf(err, "decode redemption %x of %s", k, owner)
	}

	return r, true, nil
}

// Redemptions lists owner's queue in FIFO order.
func (t *Tx) Redemptions(owner domain.AccountID) ([]domain.PendingRedemption, error) {
	b := t.tx.Bucket(bucketRedemptions).Bucket([]byte(owner))
	if b == nil {
		return nil, nil
	}

	var out []domain.PendingRedemption
	err := b.ForEach(func(k, v []byte) error {
		var r domain.PendingRedemption
		if err := decMode.Unmarshal(v, &r); err != nil {
			return errors.Wrapf(err, "decode redemption %x of %s", k, owner)
		}
		out = append(out, r)
		return nil
	})

	return out, err
}

// DeleteRedemption removes a settled redemption; the owner's queue is dropped once empty.
func (t *Tx) DeleteRedemption(owner domain.AccountID, id uint64) error {
	root := t.tx.Bucket(bucketRedemptions)
	b := root.Bucket([]byte(owner))
	if b == nil {
		return errors.Errorf("no redemption queue for %s", owner)
	}
	key := uint64Key(id)
	if b.Get(key) == nil {
		return errors.Errorf("redemption %d of %s not found", id, owner)
	}
	if err := b.Delete(key); err != nil {
		return errors.Wrapf(err, "delete redemption %d", id)
	}
	if k, _ := b.Cursor().First(); k == nil {
		return root.DeleteBucket([]byte(owner))
	}

	return nil
}

// EnqueueCommand appends cmd to the outbox and assigns its sequence number.
func (t *Tx) EnqueueCommand(cmd *domain.Command) error {
	b := t.tx.Bucket(bucketOutbox)
	seq, err := b.NextSequence()
	if err != nil {
		return errors.Wrap(err, "allocate outbox sequence")
	}
	cmd.Seq = seq

	return t.put(b, uint64Key(seq), cmd)
}

// PutCommand overwrites an existing outbox entry.
func (t *Tx) PutCommand(cmd domain.Command) error {
	return t.put(t.tx.Bucket(bucketOutbox), uint64Key(cmd.Seq), cmd)
}

// Command returns the outbox entry with the given sequence number.
func (t *Tx) Command(seq uint64) (cmd domain.Command, ok bool, err error) {
	v := t.tx.Bucket(bucketOutbox).Get(uint64Key(seq))
	if v == nil {
		return cmd, false, nil
	}
	if err := decMode.Unmarshal(v, &cmd); err != nil {
		return cmd, false, errors.Wrapf(err, "decode command %d", seq)
	}

	return cmd, true, nil
}

// DeleteCommand removes an executed outbox entry.
func (t *Tx) DeleteCommand(seq uint64) error {
	return t.tx.Bucket(bucketOutbox).Delete(uint64Key(seq))
}

// Commands lists outbox entries in FIFO order.
func (t *Tx) Commands() ([]domain.Command, error) {
	var out []domain.Command
	err := t.tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
		var cmd domain.Command
		if err := decMode.Unmarshal(v, &cmd); err != nil {
			return errors.Wrapf(err, "decode command %x", k)
		}
		out = append(out, cmd)
		return nil
	})

	return out, err
}

func (t *Tx) put(b *bbolt.Bucket, key []byte, value any) error {
	data, err := encMode.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %T", value)
	}
	if err := b.Put(key, data); err != nil {
		return errors.Wrapf(err, "store %T", value)
	}

	return nil
}

func uint64Key(v uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), v)
}
