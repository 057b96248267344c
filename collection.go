// collection.go - the write coordinator (spec §4.7) and collection
// surface (spec §6), mirroring the shape of the teacher's ModernColl but
// built on the KV contract instead of a mongo-driver *Collection.

package kvdoc

import (
	"context"
	"sync"

	"github.com/globalsign/mgo/bson"
)

// Collection is a named set of documents (spec §3). It caches its
// declared indexes (design note, spec §9 "Index metadata as a small
// owned table") instead of re-scanning metadata on every write.
type Collection struct {
	engine *Engine
	kv     KV
	name   string

	mu      sync.RWMutex
	indexes []IndexSpec
}

func newCollection(e *Engine, name string) *Collection {
	return &Collection{engine: e, kv: e.kv, name: name}
}

// Open reads declared index metadata from the host KV (spec §9); call
// once per Collection before using it. Open is idempotent.
func (c *Collection) Open(ctx context.Context) error {
	prefix := indexMetaPrefix(c.name)
	end := prefixEnd(prefix)
	var specs []IndexSpec
	err := c.kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
		var meta indexMetaDoc
		if err := bson.Unmarshal(e.Value, &meta); err != nil {
			return true, nil
		}
		specs = append(specs, meta.toSpec())
		return true, nil
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.indexes = specs
	c.mu.Unlock()
	return nil
}

func (c *Collection) declaredIndexes() []IndexSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]IndexSpec, len(c.indexes))
	copy(out, c.indexes)
	return out
}

func (c *Collection) cacheIndex(spec IndexSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.indexes {
		if s.Name == spec.Name {
			c.indexes[i] = spec
			return
		}
	}
	c.indexes = append(c.indexes, spec)
}

func (c *Collection) uncacheIndex(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.indexes {
		if s.Name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return
		}
	}
}

func primaryKey(collection string, id bson.ObjectId) []byte {
	return encodeKey(collection, id.Hex())
}

func encodeDoc(doc bson.M) ([]byte, error) { return bson.Marshal(doc) }

func decodeDoc(data []byte) (bson.M, error) {
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ensureObjectId mirrors the teacher's modern_utils.go helper of the same
// purpose: generate an _id when the caller didn't supply one.
func ensureObjectId(doc bson.M) bson.ObjectId {
	if id, ok := doc["_id"].(bson.ObjectId); ok {
		return id
	}
	id := bson.NewObjectId()
	doc["_id"] = id
	return id
}

// InsertResult reports the outcome of insertOne/insertMany (spec §6
// "Error envelope").
type InsertResult struct {
	InsertedID bson.ObjectId
}

// InsertOne implements spec §4.7 insertOne.
func (c *Collection) InsertOne(ctx context.Context, doc bson.M) (*InsertResult, error) {
	if doc == nil {
		return nil, invalidInput("document must be a mapping")
	}
	id := ensureObjectId(doc)
	key := primaryKey(c.name, id)
	data, err := encodeDoc(doc)
	if err != nil {
		return nil, err
	}

	indexOps, indexChecks, err := buildIndexOps(ctx, c.kv, c.name, c.declaredIndexes(), id.Hex(), nil, doc)
	if err != nil {
		return nil, err
	}

	checks := append([]Check{{Key: key, Absent: true}}, indexChecks...)
	ops := append([]Op{{Key: key, Value: data}}, indexOps...)

	ok, err := c.kv.Atomic(ctx, checks, ops)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.engine.logOp(ctx, "insertOne", c.name, "duplicate-key")
		return nil, duplicateKey("_id")
	}
	c.engine.logOp(ctx, "insertOne", c.name, "ok")
	return &InsertResult{InsertedID: id}, nil
}

// InsertManyResult reports per-document outcomes (spec §4.7 insertMany).
type InsertManyResult struct {
	InsertedIDs []bson.ObjectId
	WriteErrors *WriteErrors
}

// InsertMany implements spec §4.7 insertMany, including ordered/unordered
// semantics.
func (c *Collection) InsertMany(ctx context.Context, docs []bson.M, ordered bool) (*InsertManyResult, error) {
	result := &InsertManyResult{WriteErrors: &WriteErrors{}}
	for i, doc := range docs {
		res, err := c.InsertOne(ctx, doc)
		if err != nil {
			result.WriteErrors.add(i, err)
			if ordered {
				break
			}
			continue
		}
		result.InsertedIDs = append(result.InsertedIDs, res.InsertedID)
	}
	if result.WriteErrors.any() {
		return result, result.WriteErrors
	}
	return result, nil
}

// findOneRaw resolves a single candidate via the planner and re-verifies
// it (spec §4.6 "Verification"); it is the shared core of updateOne/
// deleteOne/Query.One.
func (c *Collection) findOneRaw(ctx context.Context, filter bson.M) (bson.M, Version, error) {
	m, err := parseFilter(filter)
	if err != nil {
		return nil, nil, err
	}
	p := selectPlan(filter, c.declaredIndexes())
	ids, err := candidateIDs(ctx, c.kv, c.name, p)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		oid := bson.ObjectIdHex(id)
		data, version, ok, err := c.kv.Get(ctx, primaryKey(c.name, oid))
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue // stale index entry, spec §4.6 "tolerated"
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, nil, err
		}
		if m.match(doc) {
			return doc, version, nil
		}
	}
	return nil, nil, nil
}

// findAllRaw streams every verified candidate, undecorated by sort/skip/
// limit/projection (spec §4.6).
func (c *Collection) findAllRaw(ctx context.Context, filter bson.M) ([]bson.M, error) {
	m, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	p := selectPlan(filter, c.declaredIndexes())
	ids, err := candidateIDs(ctx, c.kv, c.name, p)
	if err != nil {
		return nil, err
	}
	var out []bson.M
	for _, id := range ids {
		oid := bson.ObjectIdHex(id)
		data, _, ok, err := c.kv.Get(ctx, primaryKey(c.name, oid))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, err
		}
		if m.match(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// UpdateResult reports the outcome of updateOne/updateMany (spec §4.7).
type UpdateResult struct {
	Matched     int
	Modified    int
	UpsertedID  bson.ObjectId
	Upserted    bool
	WriteErrors *WriteErrors
}

// UpdateOptions controls upsert (spec §4.7 updateOne/updateMany).
type UpdateOptions struct {
	Upsert bool
}

// UpdateOne implements spec §4.7 updateOne, including upsert synthesis.
func (c *Collection) UpdateOne(ctx context.Context, filter, update bson.M, opts UpdateOptions) (*UpdateResult, error) {
	doc, version, err := c.findOneRaw(ctx, filter)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		if !opts.Upsert {
			return &UpdateResult{}, nil
		}
		return c.upsertInsert(ctx, filter, update)
	}

	newDoc, err := applyUpdate(doc, update, false)
	if err != nil {
		return nil, err
	}
	id := doc["_id"].(bson.ObjectId)
	if err := c.commitUpdate(ctx, id, doc, newDoc, version); err != nil {
		if IsConcurrentModification(err) {
			return nil, err
		}
		return nil, err
	}
	return &UpdateResult{Matched: 1, Modified: 1}, nil
}

// upsertInsert synthesizes a new document per spec §4.7: starts from
// {_id: filter._id if present else generated}, applies the full update
// including $setOnInsert (which applyUpdate runs last, after every other
// operator group), and inserts it.
func (c *Collection) upsertInsert(ctx context.Context, filter, update bson.M) (*UpdateResult, error) {
	seed := bson.M{}
	if id, ok := filter["_id"]; ok {
		seed["_id"] = id
	}
	newDoc, err := applyUpdate(seed, update, true)
	if err != nil {
		return nil, err
	}
	res, err := c.InsertOne(ctx, newDoc)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Modified: 1, Upserted: true, UpsertedID: res.InsertedID}, nil
}

// commitUpdate builds and commits the single atomic batch for a
// document transition: primary version check + set, plus old/new index
// deltas (spec §9 "Transactional write pattern").
func (c *Collection) commitUpdate(ctx context.Context, id bson.ObjectId, oldDoc, newDoc bson.M, version Version) error {
	newDoc["_id"] = id // update operators must never change the primary key
	data, err := encodeDoc(newDoc)
	if err != nil {
		return err
	}
	key := primaryKey(c.name, id)

	indexOps, indexChecks, err := buildIndexOps(ctx, c.kv, c.name, c.declaredIndexes(), id.Hex(), oldDoc, newDoc)
	if err != nil {
		return err
	}

	checks := append([]Check{{Key: key, Version: version}}, indexChecks...)
	ops := append([]Op{{Key: key, Value: data}}, indexOps...)

	ok, err := c.kv.Atomic(ctx, checks, ops)
	if err != nil {
		return err
	}
	if !ok {
		c.engine.logOp(ctx, "update", c.name, "concurrent-modification")
		return concurrentModification("primary version check failed")
	}
	c.engine.logOp(ctx, "update", c.name, "ok")
	return nil
}

// IsConcurrentModification reports whether err is a ConcurrentModification
// error, the recommended caller action being read-then-retry (spec §7).
func IsConcurrentModification(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindConcurrentModification
}

// IsDuplicateKey reports whether err is a DuplicateKey error.
func IsDuplicateKey(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindDuplicateKey
}

// UpdateMany implements spec §4.7 updateMany: iterates all matches, each
// updated in its own atomic batch (no cross-document atomicity).
func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M, opts UpdateOptions) (*UpdateResult, error) {
	docs, err := c.findAllRaw(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 && opts.Upsert {
		return c.upsertInsert(ctx, filter, update)
	}

	result := &UpdateResult{WriteErrors: &WriteErrors{}}
	for i, doc := range docs {
		newDoc, err := applyUpdate(doc, update, false)
		if err != nil {
			result.WriteErrors.add(i, err)
			continue
		}
		id := doc["_id"].(bson.ObjectId)
		// Re-read the document and its version immediately before
		// committing; if it no longer equals the copy the update was
		// computed from, it was changed in between and is reported as
		// ConcurrentModification instead of being overwritten.
		data, version, ok, err := c.kv.Get(ctx, primaryKey(c.name, id))
		if err != nil {
			result.WriteErrors.add(i, err)
			continue
		}
		if !ok {
			continue // deleted concurrently; tolerated like a stale index entry
		}
		if cur, err := decodeDoc(data); err != nil || !equalValues(cur, doc) {
			result.WriteErrors.add(i, concurrentModification("document changed since it was read"))
			continue
		}
		if err := c.commitUpdate(ctx, id, doc, newDoc, version); err != nil {
			result.WriteErrors.add(i, err)
			continue
		}
		result.Matched++
		result.Modified++
	}
	if result.WriteErrors.any() {
		return result, result.WriteErrors
	}
	return result, nil
}

// DeleteResult reports the outcome of deleteOne/deleteMany (spec §4.7).
type DeleteResult struct {
	Deleted     int
	WriteErrors *WriteErrors
}

// DeleteOne implements spec §4.7 deleteOne.
func (c *Collection) DeleteOne(ctx context.Context, filter bson.M) (*DeleteResult, error) {
	doc, version, err := c.findOneRaw(ctx, filter)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return &DeleteResult{}, nil
	}
	id := doc["_id"].(bson.ObjectId)
	if err := c.commitDelete(ctx, id, doc, version); err != nil {
		return nil, err
	}
	return &DeleteResult{Deleted: 1}, nil
}

func (c *Collection) commitDelete(ctx context.Context, id bson.ObjectId, doc bson.M, version Version) error {
	key := primaryKey(c.name, id)
	indexOps, _, err := buildIndexOps(ctx, c.kv, c.name, c.declaredIndexes(), id.Hex(), doc, nil)
	if err != nil {
		return err
	}
	checks := []Check{{Key: key, Version: version}}
	ops := append([]Op{{Key: key, Delete: true}}, indexOps...)

	ok, err := c.kv.Atomic(ctx, checks, ops)
	if err != nil {
		return err
	}
	if !ok {
		c.engine.logOp(ctx, "delete", c.name, "concurrent-modification")
		return concurrentModification("primary version check failed")
	}
	c.engine.logOp(ctx, "delete", c.name, "ok")
	return nil
}

// DeleteMany implements spec §4.7 deleteMany: one atomic batch including a
// version check and delete for every matched document; any mismatch fails
// the entire batch (reported as ConcurrentModification).
func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (*DeleteResult, error) {
	m, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	p := selectPlan(filter, c.declaredIndexes())
	ids, err := candidateIDs(ctx, c.kv, c.name, p)
	if err != nil {
		return nil, err
	}

	var checks []Check
	var ops []Op
	matched := 0
	specs := c.declaredIndexes()
	for _, id := range ids {
		oid := bson.ObjectIdHex(id)
		key := primaryKey(c.name, oid)
		data, version, ok, err := c.kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, err
		}
		if !m.match(doc) {
			continue
		}
		indexOps, _, err := buildIndexOps(ctx, c.kv, c.name, specs, id, doc, nil)
		if err != nil {
			return nil, err
		}
		checks = append(checks, Check{Key: key, Version: version})
		ops = append(ops, Op{Key: key, Delete: true})
		ops = append(ops, indexOps...)
		matched++
	}
	if matched == 0 {
		return &DeleteResult{}, nil
	}

	ok, err := c.kv.Atomic(ctx, checks, ops)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.engine.logOp(ctx, "deleteMany", c.name, "concurrent-modification")
		return nil, concurrentModification("batch version check failed")
	}
	c.engine.logOp(ctx, "deleteMany", c.name, "ok")
	return &DeleteResult{Deleted: matched}, nil
}

// CreateIndex implements spec §4.5 createIndex, including backfill.
func (c *Collection) CreateIndex(ctx context.Context, key bson.D, opts IndexOptions) (string, error) {
	fields, err := parseIndexKeys(key)
	if err != nil {
		return "", err
	}
	name := opts.Name
	if name == "" {
		name = defaultIndexName(fields)
	}
	spec := IndexSpec{Name: name, Fields: fields, Unique: opts.Unique, Sparse: opts.Sparse}

	docs, err := c.findAllRaw(ctx, bson.M{})
	if err != nil {
		return "", err
	}

	var builtKeys [][]byte
	for _, doc := range docs {
		id := doc["_id"].(bson.ObjectId)
		ops, checks, err := buildIndexOps(ctx, c.kv, c.name, []IndexSpec{spec}, id.Hex(), nil, doc)
		if err != nil {
			// Unique violation during backfill: clean up entries written
			// so far and fail (spec §4.5 "state must be cleaned up").
			c.rollbackBackfill(ctx, builtKeys)
			return "", err
		}
		_ = checks
		for _, op := range ops {
			if !op.Delete {
				if err := c.kv.Set(ctx, op.Key, op.Value); err != nil {
					c.rollbackBackfill(ctx, builtKeys)
					return "", err
				}
				builtKeys = append(builtKeys, op.Key)
			}
		}
	}

	metaKey := indexMetaKey(c.name, name)
	metaDoc := spec.toDoc(opts)
	data, err := bson.Marshal(metaDoc)
	if err != nil {
		c.rollbackBackfill(ctx, builtKeys)
		return "", err
	}
	if err := c.kv.Set(ctx, metaKey, data); err != nil {
		c.rollbackBackfill(ctx, builtKeys)
		return "", err
	}

	c.cacheIndex(spec)
	c.engine.logOp(ctx, "createIndex", c.name, "ok")
	return name, nil
}

func (c *Collection) rollbackBackfill(ctx context.Context, keys [][]byte) {
	for _, k := range keys {
		_ = c.kv.Delete(ctx, k)
	}
}

// DropIndex implements spec §4.5 dropIndex. The primary index on _id is
// never droppable.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if name == "_id_" {
		return invalidInput("the primary _id index cannot be dropped")
	}
	var found *IndexSpec
	for _, s := range c.declaredIndexes() {
		if s.Name == name {
			sc := s
			found = &sc
			break
		}
	}
	if found == nil {
		return invalidInput("no index named %q", name)
	}
	ops, err := dropIndexOps(ctx, c.kv, c.name, *found)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Delete {
			if err := c.kv.Delete(ctx, op.Key); err != nil {
				return err
			}
		}
	}
	c.uncacheIndex(name)
	return nil
}

// ListIndexes implements spec §6 listIndexes.
func (c *Collection) ListIndexes() []IndexSpec {
	out := c.declaredIndexes()
	return append([]IndexSpec{{Name: "_id_", Fields: []IndexField{{Path: "_id", Dir: 1}}, Unique: true}}, out...)
}

// CountDocuments implements spec §6, honoring {skip, limit}.
func (c *Collection) CountDocuments(ctx context.Context, filter bson.M, opts FindOptions) (int, error) {
	docs, err := c.findAllRaw(ctx, filter)
	if err != nil {
		return 0, err
	}
	docs = applySortSkipLimit(docs, FindOptions{Skip: opts.Skip, Limit: opts.Limit})
	return len(docs), nil
}

// EstimatedDocumentCount prefix-scans the collection range without filter
// evaluation (spec §6).
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (int, error) {
	prefix := encodeKey(c.name, "")
	end := prefixEnd(prefix)
	idxPrefix := encodeKey(c.name, "__idx__")
	count := 0
	err := c.kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
		if !bytesHasPrefix(e.Key, idxPrefix) {
			count++
		}
		return true, nil
	})
	return count, err
}

// Distinct implements spec §6: deduplicated values of field, flattening a
// sequence-valued field into its elements.
func (c *Collection) Distinct(ctx context.Context, field string, filter bson.M) ([]interface{}, error) {
	docs, err := c.findAllRaw(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	seen := make([]interface{}, 0, len(docs))
	add := func(v interface{}) {
		for _, s := range seen {
			if equalValues(s, v) {
				return
			}
		}
		seen = append(seen, v)
		out = append(out, v)
	}
	for _, doc := range docs {
		r := resolvePath(doc, field)
		if r.absent {
			continue
		}
		for _, v := range r.asValues() {
			if seq, ok := asSlice(v); ok {
				for _, e := range seq {
					add(e)
				}
			} else {
				add(v)
			}
		}
	}
	return out, nil
}
