// index.go - the index manager (spec §4.5): index metadata, serialization
// of indexed values, creation/backfill, maintenance deltas, and dropping.

package kvdoc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/globalsign/mgo/bson"
)

// IndexField is one (path, direction) pair of an index spec (spec §3).
type IndexField struct {
	Path string
	Dir  int // +1 or -1
}

// IndexSpec describes a declared secondary index (spec §3 "Index").
type IndexSpec struct {
	Name   string
	Fields []IndexField
	Unique bool
	Sparse bool
}

// IndexOptions are the caller-supplied options to createIndex (spec §4.5).
type IndexOptions struct {
	Unique bool
	Sparse bool
	Name   string
}

// defaultIndexName derives a stable name by concatenating field_direction
// pairs (spec §3 "Index").
func defaultIndexName(fields []IndexField) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Path + "_" + strconv.Itoa(f.Dir)
	}
	return strings.Join(parts, "_")
}

// parseIndexKeys converts the caller's ordered key spec - a bson.D of
// path:direction pairs, the shape createIndex is called with - into
// IndexFields.
func parseIndexKeys(key bson.D) ([]IndexField, error) {
	if len(key) == 0 {
		return nil, invalidInput("createIndex requires a non-empty field list")
	}
	fields := make([]IndexField, 0, len(key))
	for _, e := range key {
		dirVal, ok := asInt64(e.Value)
		if !ok || (dirVal != 1 && dirVal != -1) {
			return nil, invalidInput("index direction for %q must be 1 or -1", e.Name)
		}
		fields = append(fields, IndexField{Path: e.Name, Dir: int(dirVal)})
	}
	return fields, nil
}

// --- indexed value serialization (spec §4.5) ---------------------------
//
// Every serialized value is tagged by kind so that values of different
// kinds never collide or silently co-sort in a way the spec doesn't
// promise (comparability is only defined within a kind, spec §4.2).
// Numbers (int and float alike) share one fixed-width, order-preserving
// 8-byte IEEE-754 encoding so that range scans over a numeric field are
// exact, resolving the Open Question spec.md §9 flags about
// lexicographic-string number serialization being merely approximate.

const (
	tagMissing byte = iota
	tagBool
	tagNumber
	tagString
	tagDate
	tagObjectId
	tagBinary
	tagOther
)

// serializeIndexValue produces the ordering-bearing byte form of an
// indexed field value (spec §4.5 "Serialization of indexed values").
// Missing/null both serialize to the single tagMissing byte, the sentinel
// that sorts before every other kind.
func serializeIndexValue(v interface{}) []byte {
	if v == nil {
		return []byte{tagMissing}
	}
	switch vv := v.(type) {
	case bool:
		b := byte(0)
		if vv {
			b = 1
		}
		return []byte{tagBool, b}
	case string:
		return append([]byte{tagString}, []byte(vv)...)
	case time.Time:
		return append([]byte{tagDate}, []byte(vv.UTC().Format(time.RFC3339Nano))...)
	case bson.ObjectId:
		return append([]byte{tagObjectId}, []byte(vv.Hex())...)
	case []byte:
		return append([]byte{tagBinary}, vv...)
	}
	if isNumber(v) {
		f, _ := asFloat64(v)
		return append([]byte{tagNumber}, sortableFloat(f)...)
	}
	// Arrays/objects: canonical JSON. encoding/json.Marshal sorts map keys,
	// giving a deterministic byte form; no pack library offers a
	// canonical-ordered JSON encoder for an arbitrary bson.M/[]interface{}
	// tree, so stdlib json is used here (documented in DESIGN.md).
	plain := toPlain(v)
	data, err := json.Marshal(plain)
	if err != nil {
		return []byte{tagOther}
	}
	return append([]byte{tagOther}, data...)
}

// sortableFloat encodes f as 8 bytes such that unsigned byte-wise
// comparison matches float ordering (flip the sign bit for positives,
// invert all bits for negatives).
func sortableFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

func toPlain(v interface{}) interface{} {
	if m, ok := asMap(v); ok {
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = toPlain(val)
		}
		return out
	}
	if seq, ok := asSlice(v); ok {
		out := make([]interface{}, len(seq))
		for i, val := range seq {
			out[i] = toPlain(val)
		}
		return out
	}
	if oid, ok := v.(bson.ObjectId); ok {
		return oid.Hex()
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// --- KV layout for index metadata & entries -----------------------------

func indexMetaKey(collection, name string) []byte {
	return encodeKey("__indexes__", collection, name)
}

func indexMetaPrefix(collection string) []byte {
	return encodeKey("__indexes__", collection)
}

func indexEntryKey(collection, field string, serialized []byte, id string) []byte {
	return encodeKey(collection, "__idx__", field, serialized, id)
}

// indexEntryPrefix returns the prefix over all entries of (collection,
// field), optionally narrowed to a specific serialized value when
// valuePrefix is non-nil.
func indexEntryPrefix(collection, field string, valuePrefix []byte) []byte {
	if valuePrefix == nil {
		return encodeKey(collection, "__idx__", field)
	}
	return encodeKey(collection, "__idx__", field, valuePrefix)
}

type indexMetaDoc struct {
	Spec    indexSpecDoc `bson:"spec"`
	Options IndexOptions `bson:"options"`
}

type indexSpecDoc struct {
	Name   string       `bson:"name"`
	Fields []IndexField `bson:"fields"`
	Unique bool         `bson:"unique"`
	Sparse bool         `bson:"sparse"`
}

func (s IndexSpec) toDoc(opts IndexOptions) indexMetaDoc {
	return indexMetaDoc{
		Spec: indexSpecDoc{
			Name:   s.Name,
			Fields: s.Fields,
			Unique: s.Unique,
			Sparse: s.Sparse,
		},
		Options: opts,
	}
}

func (d indexMetaDoc) toSpec() IndexSpec {
	return IndexSpec{
		Name:   d.Spec.Name,
		Fields: d.Spec.Fields,
		Unique: d.Spec.Unique,
		Sparse: d.Spec.Sparse,
	}
}

// indexDelta is the (old, new) serialized-value pair for one document on
// one index field, used to compute maintenance writes (spec §4.5
// "Maintenance").
type indexDelta struct {
	field      string
	oldPresent bool
	oldValue   []byte
	newPresent bool
	newValue   []byte
}

// computeDeltas determines, for a given index, which entries must be
// deleted/written when a document transitions from oldDoc (nil on insert)
// to newDoc (nil on delete).
func computeDeltas(spec IndexSpec, oldDoc, newDoc bson.M) []indexDelta {
	deltas := make([]indexDelta, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		d := indexDelta{field: f.Path}
		if oldDoc != nil {
			r := resolvePath(oldDoc, f.Path)
			if !r.absent || !spec.Sparse {
				d.oldPresent = true
				d.oldValue = serializeIndexValue(resolvedScalar(r))
			}
		}
		if newDoc != nil {
			r := resolvePath(newDoc, f.Path)
			if !r.absent || !spec.Sparse {
				d.newPresent = true
				d.newValue = serializeIndexValue(resolvedScalar(r))
			}
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// resolvedScalar collapses a resolution to the single value used for
// index-entry serialization; a fan-out is represented by its first value
// (single-field indexes over arrays of scalars resolve to the array
// itself via path resolution rules, so fan-outs only arise from
// projecting through arrays of sub-documents, an edge case indexes don't
// need to split multiple ways for this engine's scope).
func resolvedScalar(r resolution) interface{} {
	if r.absent {
		return nil
	}
	if r.multi {
		if len(r.values) == 0 {
			return nil
		}
		return r.values[0]
	}
	return r.value
}

// buildIndexOps appends the Set/Delete ops needed to keep every declared
// index consistent with a document transition, to the batch being
// assembled by the write coordinator (spec §9 "Transactional write
// pattern"). It also runs the uniqueness check for unique indexes against
// the host KV directly (outside the batch, same as the teacher's
// check-then-set pattern note in spec §4.5) and returns DuplicateKey if a
// conflicting entry is found.
func buildIndexOps(ctx context.Context, kv KV, collection string, specs []IndexSpec, id string, oldDoc, newDoc bson.M) ([]Op, []Check, error) {
	var ops []Op
	var checks []Check
	for _, spec := range specs {
		if spec.Name == "_id_" {
			continue // primary index has no separate entries
		}
		deltas := computeDeltas(spec, oldDoc, newDoc)
		oldKey, newKey := compoundEntryKeys(collection, spec, deltas, id)

		if oldKey != nil && (newKey == nil || !bytesEqual(oldKey, newKey)) {
			ops = append(ops, Op{Key: oldKey, Delete: true})
		}
		if newKey != nil && (oldKey == nil || !bytesEqual(oldKey, newKey)) {
			if spec.Unique {
				conflict, err := uniqueConflict(ctx, kv, collection, spec, deltas, id)
				if err != nil {
					return nil, nil, err
				}
				if conflict {
					return nil, nil, duplicateKey(spec.Fields[0].Path)
				}
				// Guard the check-then-set race (spec §4.5 parenthetical):
				// if a concurrent insert claims this exact key between our
				// scan above and this batch's commit, the Atomic call fails
				// instead of silently allowing two ids under one value.
				checks = append(checks, Check{Key: newKey, Absent: true})
			}
			val, _ := bson.Marshal(bson.M{"_id": id})
			ops = append(ops, Op{Key: newKey, Value: val})
		}
	}
	return ops, checks, nil
}

// compoundEntryKeys builds the single KV key representing the full
// compound index entry for the old and new document states, or nil when
// the document doesn't participate (sparse + missing on every field).
func compoundEntryKeys(collection string, spec IndexSpec, deltas []indexDelta, id string) (oldKey, newKey []byte) {
	oldParts, oldOK := compoundSerialized(spec, deltas, true)
	newParts, newOK := compoundSerialized(spec, deltas, false)
	if oldOK {
		oldKey = indexEntryKey(collection, spec.Fields[0].Path, joinParts(oldParts), id)
	}
	if newOK {
		newKey = indexEntryKey(collection, spec.Fields[0].Path, joinParts(newParts), id)
	}
	return
}

func compoundSerialized(spec IndexSpec, deltas []indexDelta, old bool) ([][]byte, bool) {
	anyPresent := false
	parts := make([][]byte, len(deltas))
	for i, d := range deltas {
		present := d.newPresent
		val := d.newValue
		if old {
			present = d.oldPresent
			val = d.oldValue
		}
		if present {
			anyPresent = true
			parts[i] = val
		} else {
			parts[i] = []byte{tagMissing}
		}
	}
	if !anyPresent && spec.Sparse {
		return nil, false
	}
	return parts, true
}

func joinParts(parts [][]byte) []byte {
	out := make([]byte, 0)
	for i, p := range parts {
		if i > 0 {
			out = append(out, tupleSep)
		}
		out = append(out, escapePart(p)...)
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// uniqueConflict prefix-scans the index range for the new serialized
// value and reports whether an entry exists referencing a different id
// (spec §4.5 "Uniqueness is verified by prefix-scanning...").
func uniqueConflict(ctx context.Context, kv KV, collection string, spec IndexSpec, deltas []indexDelta, id string) (bool, error) {
	parts, ok := compoundSerialized(spec, deltas, false)
	if !ok {
		return false, nil
	}
	// The trailing separator limits the scan to entries whose value equals
	// the new one, not values that merely start with it.
	prefix := append(indexEntryPrefix(collection, spec.Fields[0].Path, joinParts(parts)), tupleSep)
	end := prefixEnd(prefix)
	conflict := false
	err := kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
		var ref struct {
			Id string `bson:"_id"`
		}
		if err := bson.Unmarshal(e.Value, &ref); err == nil && ref.Id != id {
			conflict = true
			return false, nil
		}
		return true, nil
	})
	return conflict, err
}

// dropIndexOps returns the ops needed to delete an index's metadata entry
// and every entry under its (collection, field) prefix (spec §4.5
// "Dropping").
func dropIndexOps(ctx context.Context, kv KV, collection string, spec IndexSpec) ([]Op, error) {
	ops := []Op{{Key: indexMetaKey(collection, spec.Name), Delete: true}}
	if len(spec.Fields) == 0 {
		return ops, nil
	}
	prefix := indexEntryPrefix(collection, spec.Fields[0].Path, nil)
	end := prefixEnd(prefix)
	err := kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
		key := append([]byte(nil), e.Key...)
		ops = append(ops, Op{Key: key, Delete: true})
		return true, nil
	})
	return ops, err
}

// sortKeys converts a sort spec (bson.M or bson.D of path:direction) into
// an ordered []IndexField, used by both $sort (update.go) and the
// planner's ORDER BY stage.
func sortKeys(spec interface{}) []IndexField {
	switch s := spec.(type) {
	case bson.D:
		out := make([]IndexField, 0, len(s))
		for _, e := range s {
			dir, _ := asInt64(e.Value)
			if dir == 0 {
				dir = 1
			}
			out = append(out, IndexField{Path: e.Name, Dir: int(dir)})
		}
		return out
	default:
		if m, ok := asMap(spec); ok {
			out := make([]IndexField, 0, len(m))
			for k, v := range m {
				dir, _ := asInt64(v)
				if dir == 0 {
					dir = 1
				}
				out = append(out, IndexField{Path: k, Dir: int(dir)})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
			return out
		}
	}
	return nil
}

// lessByKeys orders a,b by the given field list; null/undefined sorts as
// min when ascending (spec §4.6 "Sort, skip, limit, projection"),
// object-ids break remaining ties deterministically.
func lessByKeys(a, b interface{}, keys []IndexField) bool {
	for _, k := range keys {
		ra := resolvePath(a, k.Path)
		rb := resolvePath(b, k.Path)
		c := compareResolutions(ra, rb)
		if c != 0 {
			if k.Dir < 0 {
				return c > 0
			}
			return c < 0
		}
	}
	return tieBreakByID(a, b)
}

func compareResolutions(a, b resolution) int {
	aMin := a.absent || (!a.multi && a.value == nil)
	bMin := b.absent || (!b.multi && b.value == nil)
	if aMin && bMin {
		return 0
	}
	if aMin {
		return -1
	}
	if bMin {
		return 1
	}
	c, comparable := compareValues(a.value, b.value)
	if !comparable {
		return 0
	}
	return c
}

func tieBreakByID(a, b interface{}) bool {
	am, aok := asMap(a)
	bm, bok := asMap(b)
	if !aok || !bok {
		return false
	}
	aid, _ := am["_id"].(bson.ObjectId)
	bid, _ := bm["_id"].(bson.ObjectId)
	return compareBytes([]byte(aid), []byte(bid)) < 0
}
