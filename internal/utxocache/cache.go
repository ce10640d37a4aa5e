// Package utxocache implements the write-back UTXO Cache described in
// spec §4.2: new outputs are held in memory until flush, spends resolve
// against memory first and the on-disk hash-index (key 'h') and
// AID-index (key 'u') second, and only the flush path writes to the KV
// store.
package utxocache

import (
	"rubin.dev/indexer/internal/coin"
	"rubin.dev/indexer/internal/ixerr"
	"rubin.dev/indexer/internal/kvstore"
)

// TxHashResolver resolves a global transaction ordinal to its hash and
// containing-block height. It is satisfied by *fscache.FSCache; the
// dependency is passed in by the caller so this package never imports
// fscache directly (spec §9: "no back-references are needed").
type TxHashResolver func(txn uint32) (hash [32]byte, height int64, err error)

type outputKey struct {
	txHash   [32]byte
	outIndex uint16
}

// Entry is one UTXO held in the in-memory cache, not yet flushed.
type Entry struct {
	AID    coin.AID
	TXN    uint32
	Amount uint64
}

// UTXOCache is the write-back cache. It is not safe for concurrent use;
// callers serialize access the way the Block Processor serializes block
// application.
type UTXOCache struct {
	store    kvstore.Store
	resolve  TxHashResolver

	cache map[outputKey]Entry

	dbCacheH map[hashKey][]hashTuple
	dirtyH   map[hashKey]struct{}

	uIndex map[uKey][]uTuple
	dirtyU map[uKey]struct{}
}

// New constructs an empty cache backed by store. resolve is used only to
// disambiguate hash-index collisions on spend (see Spend).
func New(store kvstore.Store, resolve TxHashResolver) *UTXOCache {
	return &UTXOCache{
		store:    store,
		resolve:  resolve,
		cache:    make(map[outputKey]Entry),
		dbCacheH: make(map[hashKey][]hashTuple),
		dirtyH:   make(map[hashKey]struct{}),
		uIndex:   make(map[uKey][]uTuple),
		dirtyU:   make(map[uKey]struct{}),
	}
}

// AddMany stages every indexable output of the transaction with global
// ordinal txnBase; each staged output records txnBase as its TXN. It
// returns the AIDs touched,
// for the caller to pass on to the History accumulator.
func (c *UTXOCache) AddMany(txHash [32]byte, txnBase uint32, profile coin.Profile, outputs []coin.TxOut) []coin.AID {
	var touched []coin.AID
	for i, out := range outputs {
		aid, ok := profile.DeriveAID(out.Script)
		if !ok {
			continue
		}
		key := outputKey{txHash: txHash, outIndex: uint16(i)} // #nosec G115 -- a block's output count fits u16 for any real block.
		c.cache[key] = Entry{AID: aid, TXN: txnBase, Amount: out.Amount}
		touched = append(touched, aid)
	}
	return touched
}

// Spend resolves and removes one outpoint, returning the AID of the
// output it spent so the caller can update its history.
func (c *UTXOCache) Spend(outpoint coin.TxOutPoint) (coin.AID, error) {
	key := outputKey{txHash: outpoint.PrevTxHash, outIndex: uint16(outpoint.PrevOut)} // #nosec G115
	if entry, ok := c.cache[key]; ok {
		delete(c.cache, key)
		return entry.AID, nil
	}

	hk := hashKey{prefix: prefix4(outpoint.PrevTxHash), outIndex: uint16(outpoint.PrevOut)} // #nosec G115
	tuples, err := c.ensureHLoaded(hk)
	if err != nil {
		return coin.AID{}, err
	}

	idx := -1
	for i, t := range tuples {
		hash, _, err := c.resolve(t.txn)
		if err != nil {
			return coin.AID{}, err
		}
		if hash == outpoint.PrevTxHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return coin.AID{}, ixerr.Corrupt("utxocache: no hash-index entry for outpoint %x:%d", outpoint.PrevTxHash, outpoint.PrevOut)
	}
	matched := tuples[idx]
	c.dbCacheH[hk] = removeAt(tuples, idx)
	c.dirtyH[hk] = struct{}{}

	uk := uKey{aid: matched.aid, prefix: hk.prefix, outIndex: hk.outIndex}
	uTuples, err := c.ensureULoaded(uk)
	if err != nil {
		return coin.AID{}, err
	}
	uidx := -1
	for i, t := range uTuples {
		if t.txn == matched.txn {
			uidx = i
			break
		}
	}
	if uidx == -1 {
		return coin.AID{}, ixerr.Corrupt("utxocache: no AID-index entry for outpoint %x:%d", outpoint.PrevTxHash, outpoint.PrevOut)
	}
	c.uIndex[uk] = removeAt(uTuples, uidx)
	c.dirtyU[uk] = struct{}{}

	return matched.aid, nil
}

func removeAt[T any](s []T, i int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out
}

func (c *UTXOCache) ensureHLoaded(hk hashKey) ([]hashTuple, error) {
	if t, ok := c.dbCacheH[hk]; ok {
		return t, nil
	}
	raw, err := c.store.Get(encodeHKey(hk))
	if err != nil {
		return nil, err
	}
	tuples, err := decodeHTuples(raw)
	if err != nil {
		return nil, err
	}
	c.dbCacheH[hk] = tuples
	return tuples, nil
}

func (c *UTXOCache) ensureULoaded(uk uKey) ([]uTuple, error) {
	if t, ok := c.uIndex[uk]; ok {
		return t, nil
	}
	raw, err := c.store.Get(encodeUKey(uk))
	if err != nil {
		return nil, err
	}
	tuples, err := decodeUTuples(raw)
	if err != nil {
		return nil, err
	}
	c.uIndex[uk] = tuples
	return tuples, nil
}

// Flush writes every staged addition and removal into batch and clears
// both in-memory maps. It must run before the batch commits; the caller
// (the Flush Coordinator) owns transaction boundaries.
func (c *UTXOCache) Flush(batch kvstore.Batch) error {
	for key, entry := range c.cache {
		hk := hashKey{prefix: prefix4(key.txHash), outIndex: key.outIndex}
		tuples, err := c.ensureHLoaded(hk)
		if err != nil {
			return err
		}
		c.dbCacheH[hk] = append(tuples, hashTuple{aid: entry.AID, txn: entry.TXN})
		c.dirtyH[hk] = struct{}{}

		uk := uKey{aid: entry.AID, prefix: hk.prefix, outIndex: hk.outIndex}
		uTuples, err := c.ensureULoaded(uk)
		if err != nil {
			return err
		}
		c.uIndex[uk] = append(uTuples, uTuple{txn: entry.TXN, amount: entry.Amount})
		c.dirtyU[uk] = struct{}{}
	}

	for hk := range c.dirtyH {
		tuples := c.dbCacheH[hk]
		key := encodeHKey(hk)
		if len(tuples) == 0 {
			batch.Delete(key)
		} else {
			batch.Put(key, encodeHTuples(tuples))
		}
	}
	for uk := range c.dirtyU {
		tuples := c.uIndex[uk]
		key := encodeUKey(uk)
		if len(tuples) == 0 {
			batch.Delete(key)
		} else {
			batch.Put(key, encodeUTuples(tuples))
		}
	}

	c.cache = make(map[outputKey]Entry)
	c.dbCacheH = make(map[hashKey][]hashTuple)
	c.dirtyH = make(map[hashKey]struct{})
	c.uIndex = make(map[uKey][]uTuple)
	c.dirtyU = make(map[uKey]struct{})
	return nil
}

// Len and DBCacheLen feed the cache-size estimate the Block Processor
// uses to decide when to flush (spec §4.4).
func (c *UTXOCache) Len() int        { return len(c.cache) }
func (c *UTXOCache) DBCacheLen() int { return len(c.dbCacheH) + len(c.uIndex) }
