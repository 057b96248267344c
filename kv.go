// kv.go - the host key-value contract the engine is built on (spec §6).
//
// The engine never assumes a concrete store; it only relies on this
// interface. internal/memkv ships a reference implementation used by the
// engine's own tests and by callers that don't have a production KV handy.

package kvdoc

import (
	"bytes"
	"context"
)

// Version is an opaque token a KV implementation hands back on Get/List and
// expects on Atomic's version checks. nil/zero-value means "absent".
type Version interface{}

// Entry is one row observed from a List scan.
type Entry struct {
	Key     []byte
	Value   []byte
	Version Version
}

// Check asserts that Key currently has Version (or, if Absent is true, that
// Key currently has no entry at all). Atomic fails as a whole if any Check
// does not hold at commit time.
type Check struct {
	Key     []byte
	Version Version
	Absent  bool
}

// Op is either a Set or a Delete applied as part of an Atomic batch.
type Op struct {
	Key    []byte
	Value  []byte // ignored for Delete
	Delete bool
}

// KV is the host substrate contract (spec §6). Implementations must offer
// ordered iteration by key so that prefix/range scans over the tuple key
// layout in spec.md §3 behave correctly.
type KV interface {
	// Get fetches the current value and version for key. ok is false if the
	// key has no entry.
	Get(ctx context.Context, key []byte) (value []byte, version Version, ok bool, err error)

	// Set writes key unconditionally, outside of any atomic batch.
	Set(ctx context.Context, key []byte, value []byte) error

	// Delete removes key unconditionally, outside of any atomic batch.
	Delete(ctx context.Context, key []byte) error

	// List iterates entries with key >= start and key < end, in ascending
	// key order, calling fn for each. Iteration stops early if fn returns
	// false or a non-nil error.
	List(ctx context.Context, start, end []byte, fn func(Entry) (bool, error)) error

	// Atomic commits checks+ops as a single all-or-nothing batch. ok is
	// false (with no error) when a Check failed; that is the signal for a
	// ConcurrentModification or DuplicateKey classification upstream.
	Atomic(ctx context.Context, checks []Check, ops []Op) (ok bool, err error)
}

// --- tuple key encoding -----------------------------------------------
//
// Keys are tuples of byte-string parts, escaped and joined so that
// lexicographic byte ordering of the encoded key matches tuple ordering:
// part-by-part, then by length (shorter-is-prefix sorts first). 0x00 is the
// separator; any literal 0x00 or 0x01 byte inside a part is escaped as
// 0x01 0x00 / 0x01 0x01 respectively so it can never be confused with the
// separator or cause a part to swallow the next one.

const (
	tupleSep     byte = 0x00
	tupleEscape  byte = 0x01
)

func escapePart(part []byte) []byte {
	if !bytes.ContainsAny(part, "\x00\x01") {
		return part
	}
	out := make([]byte, 0, len(part)+2)
	for _, b := range part {
		switch b {
		case tupleSep:
			out = append(out, tupleEscape, 0x00)
		case tupleEscape:
			out = append(out, tupleEscape, 0x01)
		default:
			out = append(out, b)
		}
	}
	return out
}

// encodeKey joins tuple parts (strings or []byte) into an ordered key.
func encodeKey(parts ...interface{}) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(tupleSep)
		}
		buf.Write(escapePart(toBytes(p)))
	}
	return buf.Bytes()
}

func toBytes(p interface{}) []byte {
	switch v := p.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte(nil)
	}
}

// prefixEnd returns the smallest key that is strictly greater than every key
// with the given prefix, for use as the exclusive end of a List scan.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	// prefix is all 0xFF bytes: there is no finite upper bound, so scan to
	// the end of the keyspace.
	return nil
}
