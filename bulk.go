// bulk.go - the Bulk builder (SPEC_FULL §4.8), mirroring the teacher's
// ModernBulk. A convenience batching surface, not a new consistency
// model: every queued operation is routed through the same write
// coordinator (collection.go) one at a time.

package kvdoc

import (
	"context"

	"github.com/globalsign/mgo/bson"
)

type bulkOpKind int

const (
	bulkInsert bulkOpKind = iota
	bulkUpdateOne
	bulkUpdateAll
	bulkUpsert
	bulkRemoveOne
	bulkRemoveAll
)

type bulkOp struct {
	kind   bulkOpKind
	doc    bson.M
	filter bson.M
	update bson.M
}

// Bulk queues a sequence of write operations for batched execution.
type Bulk struct {
	c        *Collection
	ordered  bool
	ops      []bulkOp
}

// Bulk returns a new Bulk builder, ordered by default (spec §4.8).
func (c *Collection) Bulk() *Bulk {
	return &Bulk{c: c, ordered: true}
}

// Unordered switches the batch to unordered mode: a failing operation
// does not prevent later ones from running, and all errors are
// collected.
func (b *Bulk) Unordered() *Bulk {
	b.ordered = false
	return b
}

// Insert queues an insertOne for each document given.
func (b *Bulk) Insert(docs ...bson.M) *Bulk {
	for _, d := range docs {
		b.ops = append(b.ops, bulkOp{kind: bulkInsert, doc: d})
	}
	return b
}

// Update queues an updateOne(filter, update).
func (b *Bulk) Update(filter, update bson.M) *Bulk {
	b.ops = append(b.ops, bulkOp{kind: bulkUpdateOne, filter: filter, update: update})
	return b
}

// UpdateAll queues an updateMany(filter, update).
func (b *Bulk) UpdateAll(filter, update bson.M) *Bulk {
	b.ops = append(b.ops, bulkOp{kind: bulkUpdateAll, filter: filter, update: update})
	return b
}

// Upsert queues an updateOne(filter, update) with Upsert set.
func (b *Bulk) Upsert(filter, update bson.M) *Bulk {
	b.ops = append(b.ops, bulkOp{kind: bulkUpsert, filter: filter, update: update})
	return b
}

// Remove queues a deleteOne(filter).
func (b *Bulk) Remove(filter bson.M) *Bulk {
	b.ops = append(b.ops, bulkOp{kind: bulkRemoveOne, filter: filter})
	return b
}

// RemoveAll queues a deleteMany(filter).
func (b *Bulk) RemoveAll(filter bson.M) *Bulk {
	b.ops = append(b.ops, bulkOp{kind: bulkRemoveAll, filter: filter})
	return b
}

// BulkResult aggregates the outcome across every queued operation.
type BulkResult struct {
	Inserted int
	Matched  int
	Modified int
	Removed  int
}

// Run executes every queued operation in order, one write-coordinator
// call at a time. Ordered mode (default) halts at the first error;
// unordered mode runs every operation and collects all errors, matching
// insertMany's ordered/unordered contract (spec §4.7).
func (b *Bulk) Run(ctx context.Context) (*BulkResult, error) {
	result := &BulkResult{}
	writeErrs := &WriteErrors{}

	for i, op := range b.ops {
		var err error
		switch op.kind {
		case bulkInsert:
			_, err = b.c.InsertOne(ctx, op.doc)
			if err == nil {
				result.Inserted++
			}
		case bulkUpdateOne:
			var res *UpdateResult
			res, err = b.c.UpdateOne(ctx, op.filter, op.update, UpdateOptions{})
			if err == nil {
				result.Matched += res.Matched
				result.Modified += res.Modified
			}
		case bulkUpdateAll:
			var res *UpdateResult
			res, err = b.c.UpdateMany(ctx, op.filter, op.update, UpdateOptions{})
			if res != nil {
				result.Matched += res.Matched
				result.Modified += res.Modified
			}
		case bulkUpsert:
			var res *UpdateResult
			res, err = b.c.UpdateOne(ctx, op.filter, op.update, UpdateOptions{Upsert: true})
			if err == nil {
				result.Matched += res.Matched
				if res.Upserted {
					result.Inserted++
				} else {
					result.Modified += res.Modified
				}
			}
		case bulkRemoveOne:
			var res *DeleteResult
			res, err = b.c.DeleteOne(ctx, op.filter)
			if err == nil {
				result.Removed += res.Deleted
			}
		case bulkRemoveAll:
			var res *DeleteResult
			res, err = b.c.DeleteMany(ctx, op.filter)
			if res != nil {
				result.Removed += res.Deleted
			}
		}

		if err != nil {
			writeErrs.add(i, err)
			if b.ordered {
				break
			}
		}
	}

	if writeErrs.any() {
		return result, writeErrs
	}
	return result, nil
}
