package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces device records inside the database.
const keyPrefix = "d:"

// BadgerStore is a Store implementation backed by BadgerDB, a fast embedded
// key-value store. Records survive process restarts, which makes this the
// right choice when the inventory is the system of record for which devices
// have ever called home.
//
// Storage model: one key per device, "d:<serial-number>", with the Record
// JSON-encoded as the value. Point lookups are O(1) and List is a prefix
// scan.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database at %s: %w", path, err)
	}

	return &BadgerStore{db: db}, nil
}

// Put saves or replaces the record for its serial number.
func (s *BadgerStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Facts.SerialNumber == "" {
		return errors.New("inventory: record has no serial number")
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Facts.SerialNumber), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store record for %s: %w", rec.Facts.SerialNumber, err)
	}
	return nil
}

// Get returns the record for the given serial number.
func (s *BadgerStore) Get(ctx context.Context, serialNumber string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(serialNumber))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to load record for %s: %w", serialNumber, err)
	}
	return rec, nil
}

// List returns all stored records.
func (s *BadgerStore) List(ctx context.Context) ([]Record, error) {
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					// Skip corrupted entries
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan inventory: %w", err)
	}
	return records, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func recordKey(serialNumber string) []byte {
	return []byte(keyPrefix + serialNumber)
}
