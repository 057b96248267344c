// update.go - the update operator engine (spec §4.4).
//
// applyUpdate is pure: given a document and an update expression it
// produces a new document. Persisting the result is the write
// coordinator's job (collection.go), not this engine's.

package kvdoc

import (
	"sort"

	"github.com/globalsign/mgo/bson"
)

// updateGroupOrder is the fixed application order from spec §4.4's
// operator table; within a group, entries are applied in map iteration
// order (the spec leaves within-group ordering of conflicting writes
// undefined, so plain range is fine there).
var updateGroupOrder = []string{
	"$set", "$unset", "$inc", "$mul", "$min", "$max", "$rename",
	"$push", "$pull", "$pullAll", "$pop", "$addToSet", "$setOnInsert",
}

// applyUpdate applies update to a deep-cloned copy of doc and returns the
// result. includeSetOnInsert is true only when synthesizing a new document
// for an upsert (spec §4.4 "$setOnInsert ... applied only during upsert on
// the new document; ignored on match").
func applyUpdate(doc bson.M, update bson.M, includeSetOnInsert bool) (bson.M, error) {
	for key := range update {
		if !isKnownUpdateOperator(key) {
			return nil, invalidInput("unknown update operator %q", key)
		}
	}

	out := deepCloneMap(doc)

	for _, group := range updateGroupOrder {
		raw, present := update[group]
		if !present {
			continue
		}
		if group == "$setOnInsert" && !includeSetOnInsert {
			continue
		}
		entries, ok := asMap(raw)
		if !ok {
			return nil, invalidInput("%s requires a document of path: value pairs", group)
		}
		if err := applyGroup(out, group, entries); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func isKnownUpdateOperator(op string) bool {
	for _, g := range updateGroupOrder {
		if g == op {
			return true
		}
	}
	return false
}

func applyGroup(doc bson.M, group string, entries bson.M) error {
	switch group {
	case "$set", "$setOnInsert":
		for path, v := range entries {
			setAtPath(doc, path, v)
		}
	case "$unset":
		for path := range entries {
			unsetAtPath(doc, path)
		}
	case "$inc":
		for path, delta := range entries {
			if err := applyNumericOp(doc, path, delta, func(cur, d float64) float64 { return cur + d }); err != nil {
				return err
			}
		}
	case "$mul":
		for path, factor := range entries {
			if err := applyMul(doc, path, factor); err != nil {
				return err
			}
		}
	case "$min":
		for path, v := range entries {
			applyMinMax(doc, path, v, func(c int) bool { return c < 0 })
		}
	case "$max":
		for path, v := range entries {
			applyMinMax(doc, path, v, func(c int) bool { return c > 0 })
		}
	case "$rename":
		for path, v := range entries {
			dst, ok := v.(string)
			if !ok {
				return invalidInput("$rename target must be a string path")
			}
			renameField(doc, path, dst)
		}
	case "$push":
		for path, v := range entries {
			if err := applyPush(doc, path, v); err != nil {
				return err
			}
		}
	case "$pull":
		for path, v := range entries {
			if err := applyPull(doc, path, v); err != nil {
				return err
			}
		}
	case "$pullAll":
		for path, v := range entries {
			list, ok := asSlice(v)
			if !ok {
				return invalidInput("$pullAll requires a list")
			}
			applyPullAll(doc, path, list)
		}
	case "$pop":
		for path, v := range entries {
			applyPop(doc, path, v)
		}
	case "$addToSet":
		for path, v := range entries {
			if err := applyAddToSet(doc, path, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNumericOp applies a binary numeric op treating a missing field as 0
// (spec §4.4 $inc). The result's number kind follows standard Go numeric
// promotion: int64 unless either operand is a float, then float64.
func applyNumericOp(doc bson.M, path string, deltaRaw interface{}, op func(cur, delta float64) float64) error {
	delta, ok := asFloat64(deltaRaw)
	if !ok {
		return invalidInput("%s requires a numeric argument", path)
	}
	r := resolvePath(doc, path)
	var cur float64
	if !r.absent {
		var curOK bool
		cur, curOK = asFloat64(r.value)
		if !curOK {
			return invalidInput("cannot apply numeric op to non-numeric field %q", path)
		}
	}
	result := op(cur, delta)
	setAtPath(doc, path, promoteNumber(result, r.value, deltaRaw))
	return nil
}

func applyMul(doc bson.M, path string, factorRaw interface{}) error {
	factor, ok := asFloat64(factorRaw)
	if !ok {
		return invalidInput("$mul requires a numeric argument")
	}
	r := resolvePath(doc, path)
	if r.absent {
		setAtPath(doc, path, promoteNumber(0, nil, factorRaw))
		return nil
	}
	cur, ok := asFloat64(r.value)
	if !ok {
		return invalidInput("cannot multiply non-numeric field %q", path)
	}
	setAtPath(doc, path, promoteNumber(cur*factor, r.value, factorRaw))
	return nil
}

// promoteNumber keeps the result as int64 unless either source operand was
// a float, matching the "type of result follows number-kind promotion
// rules" line in spec §4.4.
func promoteNumber(result float64, operands ...interface{}) interface{} {
	for _, op := range operands {
		switch op.(type) {
		case float32, float64:
			return result
		}
	}
	return int64(result)
}

// applyMinMax replaces the field only if v satisfies test against the
// current value's comparison (strictly less/greater); a missing field is
// always replaced (spec §4.4).
func applyMinMax(doc bson.M, path string, v interface{}, test func(int) bool) {
	r := resolvePath(doc, path)
	if r.absent {
		setAtPath(doc, path, v)
		return
	}
	c, comparable := compareValues(v, r.value)
	if comparable && test(c) {
		setAtPath(doc, path, v)
	}
}

// applyPush appends to the sequence at path, creating it if absent, with
// optional $each/$position/$slice/$sort modifiers (spec §4.4 $push).
func applyPush(doc bson.M, path string, raw interface{}) error {
	seq := currentSeq(doc, path)

	mods, isModDoc := asMap(raw)
	var toAppend []interface{}
	if isModDoc {
		if each, hasEach := mods["$each"]; hasEach {
			list, ok := asSlice(each)
			if !ok {
				return invalidInput("$push $each requires a list")
			}
			toAppend = list
		} else {
			toAppend = []interface{}{raw}
		}
	} else {
		toAppend = []interface{}{raw}
	}

	if isModDoc {
		if posRaw, ok := mods["$position"]; ok {
			pos, ok := asInt64(posRaw)
			if !ok {
				return invalidInput("$position requires an integer")
			}
			seq = insertAt(seq, int(pos), toAppend)
		} else {
			seq = append(seq, toAppend...)
		}
	} else {
		seq = append(seq, toAppend...)
	}

	if isModDoc {
		if sortSpec, ok := mods["$sort"]; ok {
			seq = sortSequence(seq, sortSpec)
		}
		if sliceRaw, ok := mods["$slice"]; ok {
			n, ok := asInt64(sliceRaw)
			if ok {
				seq = sliceSequence(seq, int(n))
			}
		}
	}

	setAtPath(doc, path, seq)
	return nil
}

func currentSeq(doc bson.M, path string) []interface{} {
	r := resolvePath(doc, path)
	if r.absent {
		return nil
	}
	seq, _ := asSlice(r.value)
	return append([]interface{}{}, seq...)
}

func insertAt(seq []interface{}, pos int, items []interface{}) []interface{} {
	if pos < 0 {
		pos = len(seq) + pos
	}
	if pos < 0 {
		pos = 0
	}
	if pos > len(seq) {
		pos = len(seq)
	}
	out := make([]interface{}, 0, len(seq)+len(items))
	out = append(out, seq[:pos]...)
	out = append(out, items...)
	out = append(out, seq[pos:]...)
	return out
}

// sliceSequence keeps the first N (n>=0) or last |N| (n<0) elements, post-
// trimming a $push result (spec §4.4 $slice).
func sliceSequence(seq []interface{}, n int) []interface{} {
	if n >= 0 {
		if n > len(seq) {
			n = len(seq)
		}
		return seq[:n]
	}
	k := -n
	if k > len(seq) {
		k = len(seq)
	}
	return seq[len(seq)-k:]
}

// sortSequence sorts a $push result per its $sort spec: either 1/-1 for a
// scalar sequence, or a bson.M of field:direction for a sequence of
// mappings.
func sortSequence(seq []interface{}, spec interface{}) []interface{} {
	out := append([]interface{}{}, seq...)
	if specMap, ok := asMap(spec); ok {
		keys := sortKeys(specMap)
		sort.SliceStable(out, func(i, j int) bool {
			return lessByKeys(out[i], out[j], keys)
		})
		return out
	}
	dir, _ := asInt64(spec)
	sort.SliceStable(out, func(i, j int) bool {
		c, comparable := compareValues(out[i], out[j])
		if !comparable {
			return false
		}
		if dir < 0 {
			return c > 0
		}
		return c < 0
	})
	return out
}

// applyPull removes every element equal to value, or matching it as a
// sub-filter when value is a mapping (spec §4.4 $pull).
func applyPull(doc bson.M, path string, value interface{}) error {
	r := resolvePath(doc, path)
	if r.absent {
		return nil
	}
	seq, ok := asSlice(r.value)
	if !ok {
		return nil
	}

	var keep func(elem interface{}) bool
	if subFilter, ok := asMap(value); ok {
		// Per spec §4.4, a mapping value is always treated as a sub-filter.
		m, err := parseFilter(subFilter)
		if err != nil {
			return err
		}
		keep = func(elem interface{}) bool { return !m.match(elem) }
	} else {
		keep = func(elem interface{}) bool { return !equalValues(elem, value) }
	}

	out := make([]interface{}, 0, len(seq))
	for _, elem := range seq {
		if keep(elem) {
			out = append(out, elem)
		}
	}
	setAtPath(doc, path, out)
	return nil
}

func applyPullAll(doc bson.M, path string, values []interface{}) {
	r := resolvePath(doc, path)
	if r.absent {
		return
	}
	seq, ok := asSlice(r.value)
	if !ok {
		return
	}
	out := make([]interface{}, 0, len(seq))
	for _, elem := range seq {
		remove := false
		for _, v := range values {
			if equalValues(elem, v) {
				remove = true
				break
			}
		}
		if !remove {
			out = append(out, elem)
		}
	}
	setAtPath(doc, path, out)
}

// applyPop removes the first element (-1) or last element (+1); no-op on
// an empty or missing array (spec §4.4 $pop).
func applyPop(doc bson.M, path string, dirRaw interface{}) {
	dir, _ := asInt64(dirRaw)
	r := resolvePath(doc, path)
	if r.absent {
		return
	}
	seq, ok := asSlice(r.value)
	if !ok || len(seq) == 0 {
		return
	}
	if dir < 0 {
		setAtPath(doc, path, seq[1:])
	} else {
		setAtPath(doc, path, seq[:len(seq)-1])
	}
}

// applyAddToSet appends only if not already present (equality per spec
// §4.2), with $each support (spec §4.4 $addToSet).
func applyAddToSet(doc bson.M, path string, raw interface{}) error {
	seq := currentSeq(doc, path)

	var candidates []interface{}
	if mods, ok := asMap(raw); ok {
		if each, hasEach := mods["$each"]; hasEach {
			list, ok := asSlice(each)
			if !ok {
				return invalidInput("$addToSet $each requires a list")
			}
			candidates = list
		} else {
			candidates = []interface{}{raw}
		}
	} else {
		candidates = []interface{}{raw}
	}

	for _, c := range candidates {
		found := false
		for _, existing := range seq {
			if equalValues(existing, c) {
				found = true
				break
			}
		}
		if !found {
			seq = append(seq, c)
		}
	}
	setAtPath(doc, path, seq)
	return nil
}

func deepCloneMap(m bson.M) bson.M {
	out := bson.M{}
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v interface{}) interface{} {
	if m, ok := asMap(v); ok {
		return deepCloneMap(m)
	}
	if seq, ok := asSlice(v); ok {
		out := make([]interface{}, len(seq))
		for i, e := range seq {
			out[i] = deepCloneValue(e)
		}
		return out
	}
	return v
}
