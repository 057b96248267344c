// planner.go - query planner & executor (spec §4.6).
//
// Given a filter and the collection's declared indexes, selectPlan() picks
// an index-backed scan or falls back to a full collection scan;
// candidateIDs() streams the candidate ids, which the callers in
// collection.go re-fetch and re-verify against the filter; then
// applySortSkipLimit() and applyProjection() post-process in memory.

package kvdoc

import (
	"context"
	"sort"

	"github.com/globalsign/mgo/bson"
)

type planKind int

const (
	planFullScan planKind = iota
	planByID
	planExactMatch
	planRange
	planCompound
)

type rangeBound struct {
	value     interface{}
	inclusive bool
}

type plan struct {
	kind   planKind
	index  IndexSpec
	// exact-match / compound: the literal each leading field must equal.
	leadingValues []interface{}
	// range: bounds on the single field.
	lower, upper *rangeBound
}

// selectPlan implements spec §4.6 "Index selection": the first declared
// index whose field list is consumable by the filter wins; otherwise a
// full collection scan.
func selectPlan(filter bson.M, indexes []IndexSpec) plan {
	// Every collection implicitly has a primary-key index by _id (spec
	// §3); an exact-match predicate on _id always wins over any
	// secondary index.
	if sub, present := filter["_id"]; present {
		if lit, ok := exactMatchLiteral(sub); ok {
			if id, ok := lit.(bson.ObjectId); ok {
				return plan{kind: planByID, leadingValues: []interface{}{id}}
			}
		}
	}
	for _, idx := range indexes {
		if idx.Name == "_id_" {
			continue
		}
		if p, ok := tryPlan(filter, idx); ok {
			return p
		}
	}
	return plan{kind: planFullScan}
}

func tryPlan(filter bson.M, idx IndexSpec) (plan, bool) {
	if len(idx.Fields) == 0 {
		return plan{}, false
	}
	first := idx.Fields[0]
	sub, present := filter[first.Path]
	if !present {
		return plan{}, false
	}

	if len(idx.Fields) == 1 {
		if lit, isExact := exactMatchLiteral(sub); isExact {
			return plan{kind: planExactMatch, index: idx, leadingValues: []interface{}{lit}}, true
		}
		if lower, upper, isRange := rangeBounds(sub); isRange {
			return plan{kind: planRange, index: idx, lower: lower, upper: upper}, true
		}
		return plan{}, false
	}

	// Compound index: field 1 must be exact-match; fields 2..k must each
	// merely appear in the filter (spec §4.6). Trailing exact-match
	// predicates are pushed into the scan prefix (spec §9 "more complete
	// planner" note) - we compute as many leading exact values as the
	// filter supplies contiguously, falling back to post-filter for the
	// rest.
	lit, isExact := exactMatchLiteral(sub)
	if !isExact {
		return plan{}, false
	}
	leading := []interface{}{lit}
	for _, f := range idx.Fields[1:] {
		s, present := filter[f.Path]
		if !present {
			break
		}
		if l, exact := exactMatchLiteral(s); exact {
			leading = append(leading, l)
			continue
		}
		break
	}
	for _, f := range idx.Fields[len(leading):] {
		if _, present := filter[f.Path]; !present {
			return plan{}, false
		}
	}
	return plan{kind: planCompound, index: idx, leadingValues: leading}, true
}

// exactMatchLiteral reports whether sub is a literal, $eq, or single-value
// $in usable as an exact-match scan key (spec §4.6).
func exactMatchLiteral(sub interface{}) (interface{}, bool) {
	if m, ok := asMap(sub); ok && isAllOperatorKeys(m) {
		if eq, ok := m["$eq"]; ok {
			return eq, true
		}
		if in, ok := m["$in"]; ok {
			if list, ok := asSlice(in); ok && len(list) == 1 {
				return list[0], true
			}
		}
		return nil, false
	}
	return sub, true
}

func rangeBounds(sub interface{}) (lower, upper *rangeBound, ok bool) {
	m, isMap := asMap(sub)
	if !isMap || !isAllOperatorKeys(m) {
		return nil, nil, false
	}
	found := false
	if v, has := m["$gt"]; has {
		lower = &rangeBound{value: v, inclusive: false}
		found = true
	}
	if v, has := m["$gte"]; has {
		lower = &rangeBound{value: v, inclusive: true}
		found = true
	}
	if v, has := m["$lt"]; has {
		upper = &rangeBound{value: v, inclusive: false}
		found = true
	}
	if v, has := m["$lte"]; has {
		upper = &rangeBound{value: v, inclusive: true}
		found = true
	}
	return lower, upper, found
}

// candidateIDs streams the ids a plan proposes as possible matches,
// deduplicated (spec §4.6 "Deduplication"). A full scan streams every
// document id in the collection's primary range.
func candidateIDs(ctx context.Context, kv KV, collection string, p plan) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	switch p.kind {
	case planByID:
		id, _ := p.leadingValues[0].(bson.ObjectId)
		add(id.Hex())
		return ids, nil

	case planFullScan:
		prefix := encodeKey(collection, "")
		end := prefixEnd(prefix)
		idxPrefix := encodeKey(collection, "__idx__")
		err := kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
			if bytesHasPrefix(e.Key, idxPrefix) {
				return true, nil
			}
			var doc bson.M
			if err := bson.Unmarshal(e.Value, &doc); err == nil {
				if oid, ok := doc["_id"].(bson.ObjectId); ok {
					add(oid.Hex())
				}
			}
			return true, nil
		})
		return ids, err

	case planExactMatch:
		field := p.index.Fields[0].Path
		valPrefix := joinParts([][]byte{serializeIndexValue(p.leadingValues[0])})
		prefix := indexEntryPrefix(collection, field, valPrefix)
		end := prefixEnd(prefix)
		err := kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
			if id, ok := entryID(e.Value); ok {
				add(id)
			}
			return true, nil
		})
		return ids, err

	case planCompound:
		field := p.index.Fields[0].Path
		parts := make([][]byte, len(p.leadingValues))
		for i, v := range p.leadingValues {
			parts[i] = serializeIndexValue(v)
		}
		valPrefix := joinParts(parts)
		prefix := indexEntryPrefix(collection, field, valPrefix)
		end := prefixEnd(prefix)
		err := kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
			if id, ok := entryID(e.Value); ok {
				add(id)
			}
			return true, nil
		})
		return ids, err

	case planRange:
		field := p.index.Fields[0].Path
		prefix := indexEntryPrefix(collection, field, nil)
		end := prefixEnd(prefix)
		err := kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
			val, id, ok := splitIndexEntryKey(e.Key, prefix)
			if !ok {
				return true, nil
			}
			if !inRange(val, p.lower, p.upper) {
				return true, nil
			}
			_ = id
			if eid, ok := entryID(e.Value); ok {
				add(eid)
			}
			return true, nil
		})
		return ids, err
	}
	return ids, nil
}

func bytesHasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func entryID(value []byte) (string, bool) {
	var ref struct {
		Id string `bson:"_id"`
	}
	if err := bson.Unmarshal(value, &ref); err != nil {
		return "", false
	}
	return ref.Id, ref.Id != ""
}

// splitIndexEntryKey recovers the serialized value bytes from a
// single-field index entry key given the (collection,"__idx__",field)
// prefix it was scanned under - the entry key is prefix + 0x00 +
// escape(joinParts([serialized-value])) + 0x00 + escape(id), and joinParts
// of one part is itself one escapePart, so the value is unescaped twice.
func splitIndexEntryKey(key, prefix []byte) (value []byte, id string, ok bool) {
	if len(key) <= len(prefix)+1 {
		return nil, "", false
	}
	rest := key[len(prefix)+1:]
	// rest is escape(serialized-value) 0x00 escape(id); split on the last
	// unescaped separator.
	idx := lastUnescapedSep(rest)
	if idx < 0 {
		return nil, "", false
	}
	return unescapePart(unescapePart(rest[:idx])), string(unescapePart(rest[idx+1:])), true
}

func lastUnescapedSep(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == tupleSep {
			// Count preceding escape bytes to ensure this separator isn't
			// itself escaped.
			j := i - 1
			escapes := 0
			for j >= 0 && b[j] == tupleEscape {
				escapes++
				j--
			}
			if escapes%2 == 0 {
				return i
			}
		}
	}
	return -1
}

func unescapePart(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == tupleEscape && i+1 < len(b) {
			out = append(out, b[i+1])
			i++
			continue
		}
		out = append(out, b[i])
	}
	return out
}

func inRange(val []byte, lower, upper *rangeBound) bool {
	if lower != nil {
		lv := serializeIndexValue(lower.value)
		c := compareBytes(val, lv)
		if lower.inclusive {
			if c < 0 {
				return false
			}
		} else if c <= 0 {
			return false
		}
	}
	if upper != nil {
		uv := serializeIndexValue(upper.value)
		c := compareBytes(val, uv)
		if upper.inclusive {
			if c > 0 {
				return false
			}
		} else if c >= 0 {
			return false
		}
	}
	return true
}

// --- sort / skip / limit / projection (spec §4.6) -----------------------

// FindOptions carries the in-memory post-processing stage options.
type FindOptions struct {
	Sort       interface{} // bson.D or bson.M of path:direction
	Skip       int
	Limit      int
	Projection bson.M
}

func applySortSkipLimit(docs []bson.M, opts FindOptions) []bson.M {
	if keys := sortKeys(opts.Sort); len(keys) > 0 {
		sort.SliceStable(docs, func(i, j int) bool { return lessByKeys(docs[i], docs[j], keys) })
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			return nil
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	return docs
}

// applyProjection implements inclusion/exclusion projection (spec §4.6).
// Mixing modes (except solely controlling _id) is InvalidInput.
func applyProjection(doc bson.M, projection bson.M) (bson.M, error) {
	if len(projection) == 0 {
		return doc, nil
	}

	mode := 0 // 0 unknown, 1 inclusion, -1 exclusion
	idSetting, hasID := projection["_id"]
	for k, v := range projection {
		if k == "_id" {
			continue
		}
		on, err := projectionOn(v)
		if err != nil {
			return nil, err
		}
		fieldMode := 1
		if !on {
			fieldMode = -1
		}
		if mode == 0 {
			mode = fieldMode
		} else if mode != fieldMode {
			return nil, invalidInput("projection cannot mix inclusion and exclusion")
		}
	}

	if mode == 0 {
		// Only _id was specified.
		out := deepCloneMap(doc)
		if hasID {
			on, _ := projectionOn(idSetting)
			if !on {
				delete(out, "_id")
			}
		}
		return out, nil
	}

	out := bson.M{}
	if mode == 1 {
		for k, v := range projection {
			if k == "_id" {
				continue
			}
			on, _ := projectionOn(v)
			if !on {
				continue
			}
			if r := resolvePath(doc, k); !r.absent {
				setAtPath(out, k, r.value)
			}
		}
		includeID := true
		if hasID {
			includeID, _ = projectionOn(idSetting)
		}
		if includeID {
			if id, ok := doc["_id"]; ok {
				out["_id"] = id
			}
		}
		return out, nil
	}

	out = deepCloneMap(doc)
	for k, v := range projection {
		if k == "_id" {
			continue
		}
		on, _ := projectionOn(v)
		if !on {
			unsetAtPath(out, k)
		}
	}
	if hasID {
		on, _ := projectionOn(idSetting)
		if !on {
			delete(out, "_id")
		}
	}
	return out, nil
}

func projectionOn(v interface{}) (bool, error) {
	switch n := v.(type) {
	case bool:
		return n, nil
	case int, int32, int64, float64:
		f, _ := asFloat64(n)
		return f != 0, nil
	default:
		return false, invalidInput("projection values must be boolean-like")
	}
}
