// Package catalog implements the product catalog service: a badger-backed
// product table behind a reader-preference lock, the stock-mutation HTTP
// surface, and the periodic restock job.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"
)

var ErrNotFound = errors.New("product not found")

const productPrefix = "product/"

// Product is one catalog row.
type Product struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// DefaultProducts is the stock the catalog starts with on first run.
var DefaultProducts = []Product{
	{Name: "Tux", Price: 6.90, Quantity: 100},
	{Name: "Uno", Price: 5.00, Quantity: 100},
	{Name: "Clue", Price: 15.00, Quantity: 100},
	{Name: "Lego", Price: 23.30, Quantity: 100},
	{Name: "Chess", Price: 17.50, Quantity: 100},
	{Name: "Barbie", Price: 10.00, Quantity: 100},
	{Name: "Bubbles", Price: 2.75, Quantity: 100},
	{Name: "Frisbee", Price: 8.80, Quantity: 100},
	{Name: "Twister", Price: 13.30, Quantity: 100},
	{Name: "Elephant", Price: 20.00, Quantity: 100},
}

// ProductStore is the durable product table.
type ProductStore struct {
	db *badger.DB
}

// OpenStore opens the product table at dir and seeds it if empty.
func OpenStore(dir string) (*ProductStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	s := &ProductStore{db: db}
	if err := s.seed(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ProductStore) Close() error {
	return s.db.Close()
}

func productKey(name string) []byte {
	return []byte(productPrefix + name)
}

func (s *ProductStore) seed() error {
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(productPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	if err != nil || !empty {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, p := range DefaultProducts {
			buf, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := txn.Set(productKey(p.Name), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the product with the given name.
func (s *ProductStore) Get(name string) (Product, error) {
	var p Product
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(productKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	return p, err
}

// Put writes a product row.
func (s *ProductStore) Put(p Product) error {
	buf, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(productKey(p.Name), buf)
	})
}

// List returns every product row.
func (s *ProductStore) List() ([]Product, error) {
	var out []Product
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(productPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p Product
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}
