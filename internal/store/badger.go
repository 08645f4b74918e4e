package store

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"LegSentinel/internal/model"
)

var (
	snapshotKey = []byte("session/snapshot")
	previousKey = []byte("session/previous")
)

// BadgerStore keeps the snapshot in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens or creates the database in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerStore{db: db}, nil
}

// Save replaces the stored snapshot and keeps the prior one under a
// second key, in one transaction.
func (b *BadgerStore) Save(s *model.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		switch {
		case err == nil:
			prev, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set(previousKey, prev); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(snapshotKey, data)
	})
	return errors.Wrap(err, "save snapshot")
}

// Load returns the stored snapshot or ErrNotFound.
func (b *BadgerStore) Load() (*model.Snapshot, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	return decode(data)
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
