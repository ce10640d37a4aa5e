// Package coin isolates the indexer core from any particular blockchain
// variant. A Profile supplies the constants and parsing routines the core
// needs; it never reaches back into the core's state.
package coin

import "fmt"

// AIDLen is the width of an address identifier. The on-disk record sizes
// fixed by the hash-index (h, 24 bytes) and AID-index (u, 12 bytes) key
// layouts assume this exact width.
const AIDLen = 20

// AID is an address identifier: a fixed-width digest derived from an
// output script. The zero value is never a valid AID.
type AID [AIDLen]byte

// TxOutPoint identifies a UTXO by the transaction that created it and the
// position of the output within that transaction.
type TxOutPoint struct {
	PrevTxHash [32]byte
	PrevOut    uint32
}

// TxIn is one input of a transaction.
type TxIn struct {
	Outpoint TxOutPoint
}

// TxOut is one output of a transaction.
type TxOut struct {
	Amount uint64
	Script []byte
}

// Tx is a parsed transaction. Inputs and Outputs preserve declared order;
// a coinbase transaction has no real inputs.
type Tx struct {
	IsCoinbase bool
	Inputs     []TxIn
	Outputs    []TxOut
}

// Header is an opaque, fixed-width block header. Its structured view is
// produced on demand by Profile.DecodeHeader.
type Header []byte

// HeaderFields is the structured view of a decoded header, returned to
// callers of the §6 "get_current_header" query operation.
type HeaderFields struct {
	Raw       Header
	Height    int64
	Hash      [32]byte
	PrevHash  [32]byte
	Timestamp uint64
}

// Profile is the coin-specific collaborator named in spec §6. It is
// supplied at construction time to the components that need it (FS Cache,
// UTXO Cache, Block Processor); none of them keep a back-reference to the
// indexer, so no weak references are needed.
type Profile interface {
	// Name identifies the coin, e.g. "BTC".
	Name() string
	// Net identifies the network variant, e.g. "mainnet".
	Net() string
	// GenesisHash is the hash of the coin's genesis block.
	GenesisHash() [32]byte
	// HeaderLen is the fixed on-wire width of a block header.
	HeaderLen() int
	// TxCount and TxCountHeight are a known (tx_count, height) checkpoint
	// used to estimate sync ETA; TxPerBlock estimates transactions per
	// block beyond that checkpoint.
	TxCount() uint64
	TxCountHeight() uint64
	TxPerBlock() float64

	// ParseBlock decodes a raw block into its header, the ordered hashes
	// of its transactions, and the ordered transactions themselves.
	ParseBlock(raw []byte) (header Header, txHashes [][32]byte, txs []Tx, err error)

	// HeaderHashes computes the previous-block hash and this header's own
	// hash. It does not validate proof-of-work or any other consensus
	// rule.
	HeaderHashes(header Header) (prevHash, headerHash [32]byte, err error)

	// DecodeHeader returns the structured view of a raw header at the
	// given height, used to answer get_current_header.
	DecodeHeader(header Header, height int64) (HeaderFields, error)

	// DeriveAID derives the address identifier for an output script.
	// ok is false when the script yields no indexable address (the
	// output is then not indexed at all).
	DeriveAID(script []byte) (aid AID, ok bool)
}

// ErrUnsupportedScript is a sentinel a Profile may wrap when DeriveAID
// cannot classify a script; callers generally just treat ok=false as
// "skip this output" rather than inspecting the error.
var ErrUnsupportedScript = fmt.Errorf("coin: unsupported output script")
