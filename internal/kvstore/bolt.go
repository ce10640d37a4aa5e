package kvstore

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("kv")

// BoltStore is a Store backed by a single bbolt bucket. bbolt's B+tree
// keeps keys in ascending byte order already, so prefix iteration is a
// plain cursor.Seek plus a HasPrefix check — no secondary index needed.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and ensures
// the kv bucket exists, following the same CreateBucketIfNotExists pattern
// as the teacher's store.Open.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

func (s *BoltStore) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

func (s *BoltStore) Iterator(prefix []byte) (Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("kvstore: begin iterator tx: %w", err)
	}
	c := tx.Bucket(bucketName).Cursor()
	return &boltIterator{tx: tx, cursor: c, prefix: prefix, started: false}, nil
}

type boltIterator struct {
	tx       *bolt.Tx
	cursor   *bolt.Cursor
	prefix   []byte
	started  bool
	key, val []byte
}

func (it *boltIterator) Next() bool {
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.cursor.Seek(it.prefix)
	} else {
		k, v = it.cursor.Next()
	}
	if k == nil || !bytes.HasPrefix(k, it.prefix) {
		it.key, it.val = nil, nil
		return false
	}
	it.key = append([]byte(nil), k...)
	it.val = append([]byte(nil), v...)
	return true
}

func (it *boltIterator) Key() []byte   { return it.key }
func (it *boltIterator) Value() []byte { return it.val }
func (it *boltIterator) Close() error  { return it.tx.Rollback() }

// WriteBatch always returns a fully transactional batch: bbolt has no
// weaker write mode, so the transactional flag is accepted but unused.
func (s *BoltStore) WriteBatch(transactional bool) Batch {
	_ = transactional
	return &boltBatch{db: s.db}
}

type boltOp struct {
	del   bool
	key   []byte
	value []byte
}

type boltBatch struct {
	db  *bolt.DB
	ops []boltOp
}

func (b *boltBatch) Put(key, value []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *boltBatch) Delete(key []byte) {
	b.ops = append(b.ops, boltOp{del: true, key: append([]byte(nil), key...)})
}

func (b *boltBatch) Commit() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, op := range b.ops {
			var err error
			if op.del {
				err = bucket.Delete(op.key)
			} else {
				err = bucket.Put(op.key, op.value)
			}
			if err != nil {
				return fmt.Errorf("kvstore: batch op on key %x: %w", op.key, err)
			}
		}
		return nil
	})
}
