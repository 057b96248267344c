// query.go - the Query builder (SPEC_FULL §4.8), mirroring the teacher's
// ModernQ: a chainable cursor-spec builder sitting on top of the planner
// and write coordinator rather than a new execution primitive.

package kvdoc

import (
	"context"

	"github.com/globalsign/mgo/bson"
)

// Query accumulates Find options before execution. Build one via
// Collection.Find / Collection.FindId.
type Query struct {
	c       *Collection
	filter  bson.M
	opts    FindOptions
	builtErr error
}

// Find begins a query over filter (spec §6 find).
func (c *Collection) Find(filter bson.M) *Query {
	if filter == nil {
		filter = bson.M{}
	}
	return &Query{c: c, filter: filter}
}

// FindId begins a query matching exactly one document by id.
func (c *Collection) FindId(id bson.ObjectId) *Query {
	return c.Find(bson.M{"_id": id})
}

// Sort sets the in-memory ordering (spec §4.6); spec is a bson.D or
// bson.M of path:direction.
func (q *Query) Sort(spec interface{}) *Query {
	q.opts.Sort = spec
	return q
}

// Skip sets how many matched-and-sorted documents to drop from the front.
func (q *Query) Skip(n int) *Query {
	q.opts.Skip = n
	return q
}

// Limit caps the number of documents returned; 0 means unlimited.
func (q *Query) Limit(n int) *Query {
	q.opts.Limit = n
	return q
}

// Select sets the projection document (spec §4.6).
func (q *Query) Select(projection bson.M) *Query {
	q.opts.Projection = projection
	return q
}

func (q *Query) resultSet(ctx context.Context) ([]bson.M, error) {
	docs, err := q.c.findAllRaw(ctx, q.filter)
	if err != nil {
		return nil, err
	}
	docs = applySortSkipLimit(docs, q.opts)
	if len(q.opts.Projection) == 0 {
		return docs, nil
	}
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		pd, err := applyProjection(d, q.opts.Projection)
		if err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, nil
}

// One returns the first matched document, or ErrNotFound if none match.
func (q *Query) One(ctx context.Context) (bson.M, error) {
	prior := q.opts.Limit
	q.opts.Limit = 1
	docs, err := q.resultSet(ctx)
	q.opts.Limit = prior
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// All returns every matched document.
func (q *Query) All(ctx context.Context) ([]bson.M, error) {
	return q.resultSet(ctx)
}

// Iter returns an Iterator over the matched set (spec §4.8 "Iterator").
func (q *Query) Iter(ctx context.Context) (*Iterator, error) {
	docs, err := q.resultSet(ctx)
	if err != nil {
		return &Iterator{err: err}, err
	}
	return &Iterator{docs: docs}, nil
}

// Count reports how many documents satisfy the filter, honoring Skip/
// Limit but not Sort or Select (spec §6 countDocuments semantics).
func (q *Query) Count(ctx context.Context) (int, error) {
	docs, err := q.c.findAllRaw(ctx, q.filter)
	if err != nil {
		return 0, err
	}
	docs = applySortSkipLimit(docs, FindOptions{Skip: q.opts.Skip, Limit: q.opts.Limit})
	return len(docs), nil
}

// Change describes a findAndModify-style operation for Query.Apply (spec
// §4.8): Update is applied (or the document removed) to the single
// matched document, built directly on updateOne/deleteOne rather than a
// new primitive.
type Change struct {
	Update    bson.M
	Upsert    bool
	Remove    bool
	ReturnNew bool
}

// Apply performs a findAndModify-style update or removal against the
// single document matched by the query's filter, returning the document
// as it was before (default) or after (ReturnNew) the change.
func (q *Query) Apply(ctx context.Context, change Change) (bson.M, error) {
	if change.Remove {
		before, _, err := q.c.findOneRaw(ctx, q.filter)
		if err != nil {
			return nil, err
		}
		if before == nil {
			return nil, ErrNotFound
		}
		if _, err := q.c.DeleteOne(ctx, bson.M{"_id": before["_id"]}); err != nil {
			return nil, err
		}
		return before, nil
	}

	before, _, err := q.c.findOneRaw(ctx, q.filter)
	if err != nil {
		return nil, err
	}
	if before == nil {
		if !change.Upsert {
			return nil, ErrNotFound
		}
		res, err := q.c.upsertInsert(ctx, q.filter, change.Update)
		if err != nil {
			return nil, err
		}
		if !change.ReturnNew {
			return nil, nil
		}
		return q.c.Find(bson.M{"_id": res.UpsertedID}).One(ctx)
	}

	id := before["_id"].(bson.ObjectId)
	if _, err := q.c.UpdateOne(ctx, bson.M{"_id": id}, change.Update, UpdateOptions{}); err != nil {
		return nil, err
	}
	if !change.ReturnNew {
		return before, nil
	}
	return q.c.Find(bson.M{"_id": id}).One(ctx)
}
