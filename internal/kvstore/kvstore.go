// Package kvstore defines the narrow ordered key-value contract the
// indexer core is built against (spec §6 "KV Store contract") and a
// bbolt-backed implementation of it, grounded on the teacher's own use of
// go.etcd.io/bbolt in node/store/db.go.
package kvstore

// Store is the ordered byte-key/byte-value map the core persists into.
// Keys are compared byte-wise; Iterator yields keys in ascending order,
// which is what every prefix scan in spec §4 relies on.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// Iterator returns keys with the given prefix in ascending order.
	// Close must always be called.
	Iterator(prefix []byte) (Iterator, error)

	// WriteBatch opens a batch of puts/deletes that commit atomically.
	// transactional is honored by implementations that distinguish
	// best-effort batches from ACID ones; the bbolt-backed Store is
	// always transactional and ignores the flag.
	WriteBatch(transactional bool) Batch

	Close() error
}

// Iterator walks keys sharing a prefix, ascending.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// Batch accumulates writes for atomic commit.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit() error
}
