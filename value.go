// value.go - the Value tagged union and comparator (spec §3, §4.2).
//
// A Value is represented as a plain Go interface{} holding one of:
// nil, bool, int64, float64, string, time.Time, bson.ObjectId, []byte,
// []interface{} (sequence) or bson.M / map[string]interface{} (mapping).
// This mirrors how the teacher treats bson.M/bson.D as the document
// currency throughout modern_utils.go, rather than introducing a parallel
// boxed value type.

package kvdoc

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

// ValueKind identifies which arm of the Value union a value occupies.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindObjectId
	KindBinary
	KindArray
	KindObject
)

// KindOf classifies v per the Value union (spec §3). Go types other than
// the ones listed in the switch (for example []string or a struct) classify
// as KindNull. typeName renders KindBinary as "binData", the one kind
// outside the eight $type names.
func KindOf(v interface{}) ValueKind {
	switch vv := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int, int32, int64, float32, float64:
		return KindNumber
	case string:
		return KindString
	case time.Time:
		return KindDate
	case bson.ObjectId:
		return KindObjectId
	case []byte:
		return KindBinary
	case []interface{}:
		return KindArray
	case bson.M:
		return KindObject
	case bson.D:
		return KindObject
	case map[string]interface{}:
		return KindObject
	default:
		_ = vv
		return KindNull
	}
}

// typeName maps a ValueKind to the string accepted by the $type operator.
func typeName(k ValueKind) string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindNull:
		return "null"
	case KindArray:
		return "array"
	case KindDate:
		return "date"
	case KindObjectId:
		return "objectId"
	case KindObject:
		return "object"
	default:
		return "binData"
	}
}

// asMap normalizes bson.D/map[string]interface{} to bson.M so downstream
// code has a single mapping representation to branch on.
func asMap(v interface{}) (bson.M, bool) {
	switch vv := v.(type) {
	case bson.M:
		return vv, true
	case map[string]interface{}:
		return bson.M(vv), true
	case bson.D:
		m := bson.M{}
		for _, e := range vv {
			m[e.Name] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}

func asSlice(v interface{}) ([]interface{}, bool) {
	vv, ok := v.([]interface{})
	return vv, ok
}

// asFloat64 widens any Value numeric kind to a float64 for comparison.
// Ordering compares numbers by mathematical value (int/float unified, spec
// §4.2); exact integer equality for large int64s is handled separately in
// equalValues to avoid float64 precision loss.
func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func isNumber(v interface{}) bool {
	_, ok := asFloat64(v)
	return ok
}

// equalValues implements structural equality (spec §4.2). Sequences are
// equal iff same length and element-wise equal in order; mappings are
// equal iff same key set and values equal per key; timestamps compare by
// millisecond; object-ids compare by bytes.
func equalValues(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	if ai, aok := asInt64(a); aok {
		if bi, bok := asInt64(b); bok {
			return ai == bi
		}
	}
	if isNumber(a) && isNumber(b) {
		af, _ := asFloat64(a)
		bf, _ := asFloat64(b)
		return af == bf
	}

	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.UnixMilli() == bv.UnixMilli()
	case bson.ObjectId:
		bv, ok := b.(bson.ObjectId)
		return ok && av == bv
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	}

	if aSeq, ok := asSlice(a); ok {
		bSeq, ok := asSlice(b)
		if !ok || len(aSeq) != len(bSeq) {
			return false
		}
		for i := range aSeq {
			if !equalValues(aSeq[i], bSeq[i]) {
				return false
			}
		}
		return true
	}

	if aMap, ok := asMap(a); ok {
		bMap, ok := asMap(b)
		if !ok || len(aMap) != len(bMap) {
			return false
		}
		for k, av := range aMap {
			bv, present := bMap[k]
			if !present || !equalValues(av, bv) {
				return false
			}
		}
		return true
	}

	return false
}

// compareValues implements ordered comparison (spec §4.2): total only
// within a comparable set (numbers, strings, timestamps, object-ids).
// comparable reports whether a and b belong to the same comparable set;
// when false the ordered operators must treat the predicate as non-matching
// rather than inferring an order.
func compareValues(a, b interface{}) (cmp int, comparable bool) {
	if isNumber(a) && isNumber(b) {
		af, _ := asFloat64(a)
		bf, _ := asFloat64(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch {
			case as < bs:
				return -1, true
			case as > bs:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			am, bm := at.UnixMilli(), bt.UnixMilli()
			switch {
			case am < bm:
				return -1, true
			case am > bm:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if ao, ok := a.(bson.ObjectId); ok {
		if bo, ok := b.(bson.ObjectId); ok {
			return compareBytes([]byte(ao), []byte(bo)), true
		}
		return 0, false
	}
	return 0, false
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
