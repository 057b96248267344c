// path.go - dotted path resolution against a Value tree (spec §4.1).
//
// Resolution returns a sum type (design note, spec §9): a path step can
// produce a single value, a fan-out of several values (array projection),
// or nothing at all. Downstream operators (filter.go, update.go) branch
// explicitly on this instead of conflating "absent" with "null" - spec.md
// calls that conflation out as a known bug class.

package kvdoc

import (
	"strconv"
	"strings"

	"github.com/globalsign/mgo/bson"
)

type resolution struct {
	absent bool
	multi  bool
	value  interface{}   // valid when !absent && !multi
	values []interface{}  // valid when multi
}

func absentResolution() resolution { return resolution{absent: true} }
func singleResolution(v interface{}) resolution { return resolution{value: v} }
func multiResolution(vs []interface{}) resolution {
	if len(vs) == 0 {
		return absentResolution()
	}
	return resolution{multi: true, values: vs}
}

// asValues returns the resolution flattened to a slice, for operators
// ($in, $all, equality-against-sequence) that treat a fan-out the same as
// a single sequence value.
func (r resolution) asValues() []interface{} {
	if r.absent {
		return nil
	}
	if r.multi {
		return r.values
	}
	return []interface{}{r.value}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// resolvePath walks doc along path's dotted steps per spec §4.1.
func resolvePath(doc interface{}, path string) resolution {
	steps := splitPath(path)
	return resolveSteps(doc, steps)
}

func resolveSteps(v interface{}, steps []string) resolution {
	if len(steps) == 0 {
		return singleResolution(v)
	}
	step := steps[0]
	rest := steps[1:]

	if v == nil {
		return absentResolution()
	}

	if m, ok := asMap(v); ok {
		if step == "$" || step == "" {
			return resolveSteps(v, rest)
		}
		child, present := m[step]
		if !present {
			return absentResolution()
		}
		return resolveSteps(child, rest)
	}

	if seq, ok := asSlice(v); ok {
		if step == "$" || step == "" {
			return resolveSteps(seq, rest)
		}
		if idx, err := strconv.Atoi(step); err == nil && idx >= 0 {
			if idx >= len(seq) {
				return absentResolution()
			}
			return resolveSteps(seq[idx], rest)
		}
		// Non-numeric step against a sequence: fan out over mapping
		// elements. If no element is a mapping (or none yields a value),
		// the result is absent.
		var out []interface{}
		for _, elem := range seq {
			em, ok := asMap(elem)
			if !ok {
				continue
			}
			child, present := em[step]
			if !present {
				continue
			}
			sub := resolveSteps(child, rest)
			if sub.absent {
				continue
			}
			out = append(out, sub.asValues()...)
		}
		return multiResolution(out)
	}

	return absentResolution()
}

// setAtPath writes v at path within doc, creating intermediate mappings as
// needed (spec §4.1 "set auto-creates intermediate mappings"). doc must be
// a mapping; numeric steps against an existing sequence index into it,
// extending with nils if the index is beyond the current length.
func setAtPath(doc bson.M, path string, v interface{}) {
	steps := splitPath(path)
	if len(steps) == 0 {
		return
	}
	setSteps(doc, steps, v)
}

func setSteps(container interface{}, steps []string, v interface{}) interface{} {
	step := steps[0]
	last := len(steps) == 1

	if seq, isSeq := asSlice(container); isSeq {
		if idx, err := strconv.Atoi(step); err == nil && idx >= 0 {
			for len(seq) <= idx {
				seq = append(seq, nil)
			}
			if last {
				seq[idx] = v
			} else {
				seq[idx] = setSteps(seq[idx], steps[1:], v)
			}
			return seq
		}
	}

	m, ok := asMap(container)
	if !ok {
		m = bson.M{}
	}
	if last {
		m[step] = v
		return m
	}
	child := m[step]
	m[step] = setSteps(child, steps[1:], v)
	return m
}

// unsetAtPath removes the terminal field at path; a no-op past a missing
// intermediate (spec §4.1).
func unsetAtPath(doc bson.M, path string) {
	steps := splitPath(path)
	if len(steps) == 0 {
		return
	}
	unsetSteps(doc, steps)
}

func unsetSteps(container interface{}, steps []string) {
	step := steps[0]
	last := len(steps) == 1

	if m, ok := asMap(container); ok {
		if last {
			delete(m, step)
			return
		}
		child, present := m[step]
		if !present {
			return
		}
		unsetSteps(child, steps[1:])
		return
	}

	if seq, ok := asSlice(container); ok {
		idx, err := strconv.Atoi(step)
		if err != nil || idx < 0 || idx >= len(seq) {
			return
		}
		if last {
			seq[idx] = nil
			return
		}
		unsetSteps(seq[idx], steps[1:])
	}
}

// renameField moves the value at src to dst, no-op if src is absent
// (spec §4.4 $rename).
func renameField(doc bson.M, src, dst string) {
	r := resolvePath(doc, src)
	if r.absent {
		return
	}
	unsetAtPath(doc, src)
	setAtPath(doc, dst, r.value)
}
