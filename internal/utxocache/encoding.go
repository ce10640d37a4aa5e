package utxocache

import (
	"encoding/binary"
	"fmt"

	"rubin.dev/indexer/internal/coin"
)

const (
	hPrefix = 'h'
	uPrefix = 'u'

	prefixLen   = 4 // bytes of tx_hash used in the hash-index key
	outIndexLen = 2

	// hTupleLen is one (AID, TXN) entry in an h-index value: spec §9's
	// "24 bytes" for coin.AIDLen == 20.
	hTupleLen = coin.AIDLen + 4
	// uTupleLen is one (TXN, amount) entry in a u-index value.
	uTupleLen = 4 + 8
)

type hashKey struct {
	prefix   [prefixLen]byte
	outIndex uint16
}

type hashTuple struct {
	aid coin.AID
	txn uint32
}

type uKey struct {
	aid      coin.AID
	prefix   [prefixLen]byte
	outIndex uint16
}

type uTuple struct {
	txn    uint32
	amount uint64
}

func prefix4(hash [32]byte) [prefixLen]byte {
	var p [prefixLen]byte
	copy(p[:], hash[:prefixLen])
	return p
}

func encodeHKey(k hashKey) []byte {
	buf := make([]byte, 1+prefixLen+outIndexLen)
	buf[0] = hPrefix
	copy(buf[1:1+prefixLen], k.prefix[:])
	binary.LittleEndian.PutUint16(buf[1+prefixLen:], k.outIndex)
	return buf
}

func encodeUKey(k uKey) []byte {
	buf := make([]byte, 1+coin.AIDLen+prefixLen+outIndexLen)
	buf[0] = uPrefix
	copy(buf[1:1+coin.AIDLen], k.aid[:])
	copy(buf[1+coin.AIDLen:1+coin.AIDLen+prefixLen], k.prefix[:])
	binary.LittleEndian.PutUint16(buf[1+coin.AIDLen+prefixLen:], k.outIndex)
	return buf
}

func decodeHTuples(raw []byte) ([]hashTuple, error) {
	if len(raw)%hTupleLen != 0 {
		return nil, fmt.Errorf("utxocache: h-index record length %d is not a multiple of %d", len(raw), hTupleLen)
	}
	n := len(raw) / hTupleLen
	out := make([]hashTuple, n)
	for i := 0; i < n; i++ {
		rec := raw[i*hTupleLen : (i+1)*hTupleLen]
		var t hashTuple
		copy(t.aid[:], rec[:coin.AIDLen])
		t.txn = binary.LittleEndian.Uint32(rec[coin.AIDLen:])
		out[i] = t
	}
	return out, nil
}

func encodeHTuples(tuples []hashTuple) []byte {
	buf := make([]byte, len(tuples)*hTupleLen)
	for i, t := range tuples {
		rec := buf[i*hTupleLen : (i+1)*hTupleLen]
		copy(rec[:coin.AIDLen], t.aid[:])
		binary.LittleEndian.PutUint32(rec[coin.AIDLen:], t.txn)
	}
	return buf
}

func decodeUTuples(raw []byte) ([]uTuple, error) {
	if len(raw)%uTupleLen != 0 {
		return nil, fmt.Errorf("utxocache: u-index record length %d is not a multiple of %d", len(raw), uTupleLen)
	}
	n := len(raw) / uTupleLen
	out := make([]uTuple, n)
	for i := 0; i < n; i++ {
		rec := raw[i*uTupleLen : (i+1)*uTupleLen]
		out[i] = uTuple{
			txn:    binary.LittleEndian.Uint32(rec[:4]),
			amount: binary.LittleEndian.Uint64(rec[4:]),
		}
	}
	return out, nil
}

func encodeUTuples(tuples []uTuple) []byte {
	buf := make([]byte, len(tuples)*uTupleLen)
	for i, t := range tuples {
		rec := buf[i*uTupleLen : (i+1)*uTupleLen]
		binary.LittleEndian.PutUint32(rec[:4], t.txn)
		binary.LittleEndian.PutUint64(rec[4:], t.amount)
	}
	return buf
}
