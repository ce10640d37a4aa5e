package coin

import (
	"encoding/binary"
	"fmt"
)

// HeaderBytes is the fixed width of a TestProfile header: version(4) |
// prev_hash(32) | merkle_root(32) | timestamp(8) | nonce(4).
const HeaderBytes = 80

// TestProfile is a synthetic coin profile used by unit and scenario tests.
// It is not meant to resemble any real chain's wire format; it exists to
// exercise the indexer core end to end without an external daemon. Scripts
// are, by convention, either exactly AIDLen bytes (a bare address) or
// longer/shorter (unindexable, e.g. an OP_RETURN-style payload).
type TestProfile struct{}

var _ Profile = TestProfile{}

func (TestProfile) Name() string { return "TEST" }
func (TestProfile) Net() string  { return "regtest" }

// GenesisHash is all-zero, matching the fresh-DB scenario in spec §8.
func (TestProfile) GenesisHash() [32]byte { return [32]byte{} }

func (TestProfile) HeaderLen() int { return HeaderBytes }

func (TestProfile) TxCount() uint64       { return 0 }
func (TestProfile) TxCountHeight() uint64 { return 0 }
func (TestProfile) TxPerBlock() float64   { return 1.0 }

// EncodeBlock serializes a header and a list of transactions into the raw
// block bytes ParseBlock expects. It is the inverse of ParseBlock and
// exists so tests can build fixtures without hand-assembling bytes.
func EncodeBlock(header Header, txs []Tx) ([]byte, error) {
	if len(header) != HeaderBytes {
		return nil, fmt.Errorf("coin: test header must be %d bytes, got %d", HeaderBytes, len(header))
	}
	out := make([]byte, 0, len(header)+16)
	out = append(out, header...)
	out = append(out, encodeCompactSize(uint64(len(txs)))...)
	for _, tx := range txs {
		out = append(out, encodeTx(tx)...)
	}
	return out, nil
}

func encodeTx(tx Tx) []byte {
	out := make([]byte, 0, 64)
	if tx.IsCoinbase {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, encodeCompactSize(uint64(len(tx.Inputs)))...)
	for _, in := range tx.Inputs {
		out = append(out, in.Outpoint.PrevTxHash[:]...)
		var v [4]byte
		binary.LittleEndian.PutUint32(v[:], in.Outpoint.PrevOut)
		out = append(out, v[:]...)
	}
	out = append(out, encodeCompactSize(uint64(len(tx.Outputs)))...)
	for _, o := range tx.Outputs {
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], o.Amount)
		out = append(out, v[:]...)
		out = append(out, encodeCompactSize(uint64(len(o.Script)))...)
		out = append(out, o.Script...)
	}
	return out
}

func (p TestProfile) ParseBlock(raw []byte) (Header, [][32]byte, []Tx, error) {
	if len(raw) < HeaderBytes {
		return nil, nil, nil, fmt.Errorf("coin: block shorter than header (%d bytes)", len(raw))
	}
	header := Header(append([]byte(nil), raw[:HeaderBytes]...))
	off := HeaderBytes
	txCount, err := readCompactSize(raw, &off)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coin: tx count: %w", err)
	}

	txs := make([]Tx, 0, txCount)
	hashes := make([][32]byte, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		start := off
		tx, err := decodeTx(raw, &off)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("coin: tx %d: %w", i, err)
		}
		txs = append(txs, tx)
		hashes = append(hashes, doubleSHA3_256(raw[start:off]))
	}
	if off != len(raw) {
		return nil, nil, nil, fmt.Errorf("coin: %d trailing bytes", len(raw)-off)
	}
	return header, hashes, txs, nil
}

func decodeTx(raw []byte, off *int) (Tx, error) {
	if *off >= len(raw) {
		return Tx{}, fmt.Errorf("truncated coinbase flag")
	}
	isCoinbase := raw[*off] == 1
	*off++

	nIn, err := readCompactSize(raw, off)
	if err != nil {
		return Tx{}, fmt.Errorf("input count: %w", err)
	}
	inputs := make([]TxIn, 0, nIn)
	for i := uint64(0); i < nIn; i++ {
		if *off+36 > len(raw) {
			return Tx{}, fmt.Errorf("truncated input %d", i)
		}
		var in TxIn
		copy(in.Outpoint.PrevTxHash[:], raw[*off:*off+32])
		in.Outpoint.PrevOut = binary.LittleEndian.Uint32(raw[*off+32 : *off+36])
		*off += 36
		inputs = append(inputs, in)
	}

	nOut, err := readCompactSize(raw, off)
	if err != nil {
		return Tx{}, fmt.Errorf("output count: %w", err)
	}
	outputs := make([]TxOut, 0, nOut)
	for i := uint64(0); i < nOut; i++ {
		if *off+8 > len(raw) {
			return Tx{}, fmt.Errorf("truncated output %d amount", i)
		}
		amount := binary.LittleEndian.Uint64(raw[*off : *off+8])
		*off += 8
		scriptLen, err := readCompactSize(raw, off)
		if err != nil {
			return Tx{}, fmt.Errorf("output %d script len: %w", i, err)
		}
		if *off+int(scriptLen) > len(raw) {
			return Tx{}, fmt.Errorf("truncated output %d script", i)
		}
		script := append([]byte(nil), raw[*off:*off+int(scriptLen)]...)
		*off += int(scriptLen)
		outputs = append(outputs, TxOut{Amount: amount, Script: script})
	}

	return Tx{IsCoinbase: isCoinbase, Inputs: inputs, Outputs: outputs}, nil
}

func (TestProfile) HeaderHashes(header Header) (prevHash, headerHash [32]byte, err error) {
	if len(header) != HeaderBytes {
		return prevHash, headerHash, fmt.Errorf("coin: header must be %d bytes, got %d", HeaderBytes, len(header))
	}
	copy(prevHash[:], header[4:36])
	headerHash = doubleSHA3_256(header)
	return prevHash, headerHash, nil
}

func (p TestProfile) DecodeHeader(header Header, height int64) (HeaderFields, error) {
	if len(header) != HeaderBytes {
		return HeaderFields{}, fmt.Errorf("coin: header must be %d bytes, got %d", HeaderBytes, len(header))
	}
	prev, hash, err := p.HeaderHashes(header)
	if err != nil {
		return HeaderFields{}, err
	}
	return HeaderFields{
		Raw:       header,
		Height:    height,
		Hash:      hash,
		PrevHash:  prev,
		Timestamp: binary.LittleEndian.Uint64(header[68:76]),
	}, nil
}

// DeriveAID treats any script of exactly AIDLen bytes as a bare address;
// anything else (empty, or a longer OP_RETURN-style payload) is
// unindexable.
func (TestProfile) DeriveAID(script []byte) (AID, bool) {
	if len(script) != AIDLen {
		return AID{}, false
	}
	var aid AID
	copy(aid[:], script)
	return aid, true
}

// NewHeader builds a HeaderBytes-length header from its fields, for use by
// test fixtures.
func NewHeader(version uint32, prevHash, merkleRoot [32]byte, timestamp uint64, nonce uint32) Header {
	h := make(Header, HeaderBytes)
	binary.LittleEndian.PutUint32(h[0:4], version)
	copy(h[4:36], prevHash[:])
	copy(h[36:68], merkleRoot[:])
	binary.LittleEndian.PutUint64(h[68:76], timestamp)
	binary.LittleEndian.PutUint32(h[76:80], nonce)
	return h
}
