// Package store persists an order replica's durable state in badger: the
// Raft hard state, the order table, and the committed log prefix. Applying a
// log entry writes the order row and the log row in one transaction.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/BoddyShen/raft-order-service/pkg/raft"
)

var ErrNotFound = errors.New("order not found")

const (
	hardStateKey = "raft/hardstate"
	logPrefix    = "log/"
	orderPrefix  = "order/"
)

// Order is one placed order. The JSON shape matches the GET /orders/{n}/
// data payload.
type Order struct {
	Number   uint64 `json:"number"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Store wraps a badger instance. It satisfies raft.Applier.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func logKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", logPrefix, index))
}

func orderKey(number uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", orderPrefix, number))
}

// SaveHardState durably records (current_term, voted_for). Badger syncs the
// write before Update returns.
func (s *Store) SaveHardState(hs raft.HardState) error {
	buf, err := json.Marshal(hs)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(hardStateKey), buf)
	})
}

// LoadHardState returns the persisted term and vote, zero values when the
// store is fresh.
func (s *Store) LoadHardState() (raft.HardState, error) {
	var hs raft.HardState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(hardStateKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &hs)
		})
	})
	return hs, err
}

// Apply writes the committed entry's order row and log row atomically. The
// order number is the entry index.
func (s *Store) Apply(entry raft.LogEntry) error {
	entryBuf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	orderBuf, err := json.Marshal(Order{
		Number:   entry.Index,
		Name:     entry.Order.ProductName,
		Quantity: entry.Order.Quantity,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(logKey(entry.Index), entryBuf); err != nil {
			return err
		}
		return txn.Set(orderKey(entry.Index), orderBuf)
	})
}

// PutOrder stores an order row directly. Classical replication uses this on
// followers, which receive the assigned number from the leader.
func (s *Store) PutOrder(o Order) error {
	buf, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(orderKey(o.Number), buf)
	})
}

// GetOrder returns the order with the given number.
func (s *Store) GetOrder(number uint64) (Order, error) {
	var o Order
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(orderKey(number))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &o)
		})
	})
	return o, err
}

// OrdersFrom returns every stored order with number >= from, ascending. The
// sync endpoint serves its result directly.
func (s *Store) OrdersFrom(from uint64) ([]Order, error) {
	var out []Order
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(orderPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(orderKey(from)); it.Valid(); it.Next() {
			var o Order
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &o)
			})
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// LatestOrderNumber returns the highest stored order number, 0 when empty.
func (s *Store) LatestOrderNumber() (uint64, error) {
	var latest uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(orderPrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// Seek past the end of the prefix range, then step back into it.
		it.Seek(append([]byte(orderPrefix), 0xff))
		if !it.Valid() {
			return nil
		}
		var o Order
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &o)
		})
		if err != nil {
			return err
		}
		latest = o.Number
		return nil
	})
	return latest, err
}

// LoadLog replays the stored log prefix in index order, for restart
// recovery.
func (s *Store) LoadLog() ([]raft.LogEntry, error) {
	var out []raft.LogEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e raft.LogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
