// filter.go - the filter expression tree and its evaluator (spec §4.3).
//
// A filter document is parsed once into an immutable tree of matcher
// nodes (design note, spec §9) and walked repeatedly against streamed
// documents; this avoids re-parsing the filter map on every candidate.

package kvdoc

import (
	"strings"

	"github.com/globalsign/mgo/bson"
)

// matcher is one node of the parsed filter tree.
type matcher interface {
	match(doc interface{}) bool
}

// andMatcher/orMatcher/norMatcher/notMatcher implement the logical
// combinators (spec §4.3 "Recognized top-level operators").
type andMatcher struct{ subs []matcher }
type orMatcher struct{ subs []matcher }
type norMatcher struct{ subs []matcher }
type notMatcher struct{ sub matcher }

func (m *andMatcher) match(doc interface{}) bool {
	for _, s := range m.subs {
		if !s.match(doc) {
			return false
		}
	}
	return true
}

func (m *orMatcher) match(doc interface{}) bool {
	if len(m.subs) == 0 {
		return false
	}
	for _, s := range m.subs {
		if s.match(doc) {
			return true
		}
	}
	return false
}

func (m *norMatcher) match(doc interface{}) bool {
	for _, s := range m.subs {
		if s.match(doc) {
			return false
		}
	}
	return true
}

func (m *notMatcher) match(doc interface{}) bool { return !m.sub.match(doc) }

// fieldMatcher evaluates every operator against the value resolved at path
// and ANDs the results (spec §4.3 "Field entry semantics").
type fieldMatcher struct {
	path string
	ops  []func(resolution) bool
}

func (m *fieldMatcher) match(doc interface{}) bool {
	r := resolvePath(doc, m.path)
	for _, op := range m.ops {
		if !op(r) {
			return false
		}
	}
	return true
}

// parseFilter compiles a filter document into a matcher tree (InvalidInput
// on an unknown top-level operator).
func parseFilter(f bson.M) (matcher, error) {
	and := &andMatcher{}
	for key, sub := range f {
		if strings.HasPrefix(key, "$") {
			m, err := parseLogical(key, sub)
			if err != nil {
				return nil, err
			}
			and.subs = append(and.subs, m)
			continue
		}
		m, err := parseFieldEntry(key, sub)
		if err != nil {
			return nil, err
		}
		and.subs = append(and.subs, m)
	}
	return and, nil
}

func parseLogical(key string, sub interface{}) (matcher, error) {
	switch key {
	case "$and", "$or", "$nor":
		list, ok := asSlice(sub)
		if !ok {
			return nil, invalidInput("%s requires a list of sub-filters", key)
		}
		subs := make([]matcher, 0, len(list))
		for _, item := range list {
			fm, ok := asMap(item)
			if !ok {
				return nil, invalidInput("%s: sub-filter must be a document", key)
			}
			m, err := parseFilter(fm)
			if err != nil {
				return nil, err
			}
			subs = append(subs, m)
		}
		switch key {
		case "$and":
			return &andMatcher{subs: subs}, nil
		case "$or":
			return &orMatcher{subs: subs}, nil
		default:
			return &norMatcher{subs: subs}, nil
		}
	case "$not":
		fm, ok := asMap(sub)
		if !ok {
			return nil, invalidInput("$not requires a document")
		}
		m, err := parseFilter(fm)
		if err != nil {
			return nil, err
		}
		return &notMatcher{sub: m}, nil
	default:
		return nil, invalidInput("unknown top-level operator %q", key)
	}
}

func parseFieldEntry(path string, sub interface{}) (matcher, error) {
	if subMap, ok := asMap(sub); ok && isAllOperatorKeys(subMap) {
		ops := make([]func(resolution) bool, 0, len(subMap))
		for opName, opArg := range subMap {
			op, err := parseFieldOp(opName, opArg)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
		return &fieldMatcher{path: path, ops: ops}, nil
	}

	// Literal rewrite (spec §4.3 "Implicit rewrites"): array-contains for
	// a non-sequence literal against a sequence value, else plain equality
	// (including element-wise equality when the literal is itself a
	// sequence).
	lit := sub
	op := func(r resolution) bool {
		if r.absent {
			return false
		}
		if r.multi {
			for _, v := range r.values {
				if equalValues(v, lit) {
					return true
				}
			}
			return false
		}
		if _, litIsSeq := asSlice(lit); !litIsSeq {
			if seq, ok := asSlice(r.value); ok {
				for _, elem := range seq {
					if equalValues(elem, lit) {
						return true
					}
				}
				return false
			}
		}
		return equalValues(r.value, lit)
	}
	return &fieldMatcher{path: path, ops: []func(resolution) bool{op}}, nil
}

func isAllOperatorKeys(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// parseFieldOp builds the matcher closure for one operator on a field
// value (spec §4.3 operator table).
func parseFieldOp(name string, arg interface{}) (func(resolution) bool, error) {
	switch name {
	case "$eq":
		return func(r resolution) bool { return !r.absent && matchesAnyEqual(r, arg) }, nil
	case "$ne":
		return func(r resolution) bool { return !matchesAnyEqual(r, arg) }, nil
	case "$gt":
		return orderedOp(arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return orderedOp(arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return orderedOp(arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return orderedOp(arg, func(c int) bool { return c <= 0 }), nil
	case "$in":
		list, ok := asSlice(arg)
		if !ok {
			return nil, invalidInput("$in requires a list")
		}
		return func(r resolution) bool {
			if r.absent {
				return false
			}
			for _, v := range r.asValues() {
				for _, want := range list {
					if equalValues(v, want) {
						return true
					}
				}
			}
			return false
		}, nil
	case "$nin":
		list, ok := asSlice(arg)
		if !ok {
			return nil, invalidInput("$nin requires a list")
		}
		return func(r resolution) bool {
			if r.absent {
				return true
			}
			for _, v := range r.asValues() {
				for _, want := range list {
					if equalValues(v, want) {
						return false
					}
				}
			}
			return true
		}, nil
	case "$exists":
		want, _ := arg.(bool)
		return func(r resolution) bool { return !r.absent == want }, nil
	case "$type":
		want, ok := arg.(string)
		if !ok {
			return nil, invalidInput("$type requires a string")
		}
		return func(r resolution) bool {
			if r.absent {
				return false
			}
			if r.multi {
				return typeName(KindOf(r.values)) == want
			}
			return typeName(KindOf(r.value)) == want
		}, nil
	case "$size":
		want, ok := asInt64(arg)
		if !ok {
			return nil, invalidInput("$size requires a number")
		}
		return func(r resolution) bool {
			if r.absent || r.multi {
				return false
			}
			seq, ok := asSlice(r.value)
			return ok && int64(len(seq)) == want
		}, nil
	case "$all":
		list, ok := asSlice(arg)
		if !ok {
			return nil, invalidInput("$all requires a list")
		}
		return func(r resolution) bool {
			if r.absent || r.multi {
				return false
			}
			seq, ok := asSlice(r.value)
			if !ok {
				return false
			}
			for _, want := range list {
				found := false
				for _, have := range seq {
					if equalValues(have, want) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		}, nil
	case "$elemMatch":
		sub, ok := asMap(arg)
		if !ok {
			return nil, invalidInput("$elemMatch requires a document")
		}
		m, err := parseFilter(sub)
		if err != nil {
			return nil, err
		}
		return func(r resolution) bool {
			if r.absent || r.multi {
				return false
			}
			seq, ok := asSlice(r.value)
			if !ok {
				return false
			}
			for _, elem := range seq {
				if m.match(elem) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, invalidInput("unknown operator %q", name)
	}
}

// matchesAnyEqual handles $eq/$ne against a resolution that may be a
// fan-out, treating a match on any fanned-out value as a match.
func matchesAnyEqual(r resolution, want interface{}) bool {
	if r.absent {
		return false
	}
	for _, v := range r.asValues() {
		if equalValues(v, want) {
			return true
		}
	}
	return false
}

// orderedOp builds $gt/$gte/$lt/$lte: false whenever kinds are incomparable
// (spec §4.2) rather than inferring an order.
func orderedOp(arg interface{}, test func(int) bool) func(resolution) bool {
	return func(r resolution) bool {
		if r.absent {
			return false
		}
		for _, v := range r.asValues() {
			c, ok := compareValues(v, arg)
			if ok && test(c) {
				return true
			}
		}
		return false
	}
}

// MatchFilter compiles and evaluates filter against doc in one call, for
// callers (such as the package's tests) that don't need to keep the parsed
// tree around.
func MatchFilter(filter bson.M, doc interface{}) (bool, error) {
	m, err := parseFilter(filter)
	if err != nil {
		return false, err
	}
	return m.match(doc), nil
}
