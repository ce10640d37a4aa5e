package chainstate

import (
	"fmt"
	"strconv"
	"strings"
)

// decodeLegacy parses the one format a pre-existing datadir of the
// system this indexer supersedes could still hand us: the ASCII repr of
// a Python dict, e.g.
//
//	{'genesis': b'\x00...', 'height': 123, 'tx_count': 9, 'tip': b'...',
//	 'flush_count': 2, 'utxo_flush_count': 2, 'wall_time': 0}
//
// This is a one-shot migration path, exercised once when a datadir is
// first opened by this implementation; every subsequent Save writes the
// current binary layout, so this parser never needs to round-trip it.
func decodeLegacy(raw []byte) (*State, error) {
	fields, err := parsePyDict(string(raw))
	if err != nil {
		return nil, fmt.Errorf("chainstate: legacy state record: %w", err)
	}

	s := &State{}
	genesis, err := fieldBytes(fields, "genesis")
	if err != nil {
		return nil, err
	}
	if len(genesis) != 32 {
		return nil, fmt.Errorf("chainstate: legacy genesis is %d bytes, want 32", len(genesis))
	}
	copy(s.GenesisHash[:], genesis)

	tip, err := fieldBytes(fields, "tip")
	if err != nil {
		return nil, err
	}
	if len(tip) != 32 {
		return nil, fmt.Errorf("chainstate: legacy tip is %d bytes, want 32", len(tip))
	}
	copy(s.Tip[:], tip)

	height, err := fieldInt(fields, "height")
	if err != nil {
		return nil, err
	}
	s.Height = height

	txCount, err := fieldInt(fields, "tx_count")
	if err != nil {
		return nil, err
	}
	s.TxCount = uint32(txCount) // #nosec G115 -- legacy tx_count is a small non-negative counter.

	flushCount, err := fieldInt(fields, "flush_count")
	if err != nil {
		return nil, err
	}
	s.FlushCount = uint16(flushCount) // #nosec G115

	utxoFlushCount, err := fieldInt(fields, "utxo_flush_count")
	if err != nil {
		return nil, err
	}
	s.UTXOFlushCount = uint16(utxoFlushCount) // #nosec G115

	wallTime, err := fieldInt(fields, "wall_time")
	if err != nil {
		return nil, err
	}
	s.WallTime = uint64(wallTime) // #nosec G115 -- wall_time is a non-negative elapsed-seconds counter.

	return s, nil
}

func fieldBytes(fields map[string]string, name string) ([]byte, error) {
	v, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("missing field %q", name)
	}
	unquoted, ok := strings.CutPrefix(v, "b'")
	if !ok || !strings.HasSuffix(unquoted, "'") {
		return nil, fmt.Errorf("field %q is not a bytes literal: %q", name, v)
	}
	return unescapePyBytes(unquoted[:len(unquoted)-1])
}

func fieldInt(fields map[string]string, name string) (int64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q is not an integer: %q", name, v)
	}
	return n, nil
}

// parsePyDict splits the top-level "'key': value" pairs of a Python dict
// repr, without attempting a full grammar: it tracks quote state so
// commas inside a b'...' literal are not treated as separators.
func parsePyDict(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	fields := make(map[string]string)
	var parts []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '\'':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}

	for _, part := range parts {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed entry %q", part)
		}
		key := strings.Trim(strings.TrimSpace(kv[0]), "'")
		fields[key] = strings.TrimSpace(kv[1])
	}
	return fields, nil
}

// unescapePyBytes decodes the body of a Python bytes literal: \xHH hex
// escapes, \\, \', \n, \r, \t, and otherwise-literal ASCII bytes.
func unescapePyBytes(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("dangling escape at end of literal")
		}
		switch s[i] {
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape")
			}
			b, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid \\x escape %q: %w", s[i+1:i+3], err)
			}
			out = append(out, byte(b))
			i += 2
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '\\', '\'':
			out = append(out, s[i])
		case '0':
			out = append(out, 0)
		default:
			return nil, fmt.Errorf("unsupported escape \\%c", s[i])
		}
	}
	return out, nil
}
