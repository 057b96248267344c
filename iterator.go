// iterator.go - the cursor type (SPEC_FULL §4.8), mirroring the teacher's
// ModernIt over the planner's verified candidate stream. The reference
// KV and planner here are in-process, so there is no real network
// batching to do; Iterator exists as the stable public cursor shape
// callers coming from the teacher's API already expect.

package kvdoc

import "github.com/globalsign/mgo/bson"

// Iterator walks a pre-materialized, already-verified result set one
// document at a time.
type Iterator struct {
	docs []bson.M
	pos  int
	err  error
	last bson.M
}

// Next advances the cursor and decodes the current document into out.
// Returns false when exhausted or on error; check Err afterward.
func (it *Iterator) Next(out *bson.M) bool {
	if it.err != nil || it.pos >= len(it.docs) {
		return false
	}
	it.last = it.docs[it.pos]
	it.pos++
	*out = it.last
	return true
}

// All drains the remaining documents into a slice.
func (it *Iterator) All() ([]bson.M, error) {
	if it.err != nil {
		return nil, it.err
	}
	rest := it.docs[it.pos:]
	it.pos = len(it.docs)
	return rest, nil
}

// Close releases the iterator; there is no underlying connection to tear
// down, so this only exists to match the teacher's cursor shape.
func (it *Iterator) Close() error { return it.err }

// Err reports any error encountered building the result set.
func (it *Iterator) Err() error { return it.err }
