package kvdoc

import (
	"bytes"
	"context"
	"sort"
	"testing"

	"github.com/globalsign/mgo/bson"

	"github.com/kinfkong/kvdoc/internal/memkv"
)

func TestSerializeIndexValueNumberOrdering(t *testing.T) {
	values := []interface{}{int64(-100), int64(-1), int64(0), int64(1), 2.5, int64(100)}
	var encoded [][]byte
	for _, v := range values {
		encoded = append(encoded, serializeIndexValue(v))
	}
	sorted := append([][]byte(nil), encoded...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range encoded {
		if !bytes.Equal(encoded[i], sorted[i]) {
			t.Fatalf("byte order of serialized numbers does not match numeric order at index %d", i)
		}
	}
}

func TestSerializeIndexValueDistinctKindsDoNotCollide(t *testing.T) {
	a := serializeIndexValue("1")
	b := serializeIndexValue(int64(1))
	if bytes.Equal(a, b) {
		t.Fatalf("string %q and number %v must serialize to distinct tagged forms", "1", int64(1))
	}
}

func TestComputeDeltasSparseFieldAbsent(t *testing.T) {
	spec := IndexSpec{Fields: []IndexField{{Path: "email", Dir: 1}}, Sparse: true}
	deltas := computeDeltas(spec, nil, bson.M{"name": "a"})
	if deltas[0].newPresent {
		t.Fatalf("sparse index should not record a missing field as present")
	}
}

func TestComputeDeltasNonSparseFieldAbsentStillRecorded(t *testing.T) {
	spec := IndexSpec{Fields: []IndexField{{Path: "email", Dir: 1}}, Sparse: false}
	deltas := computeDeltas(spec, nil, bson.M{"name": "a"})
	if !deltas[0].newPresent {
		t.Fatalf("non-sparse index should record a missing field as present (null)")
	}
}

func TestBuildIndexOpsUniqueConflictDetected(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	collection := "users"
	spec := IndexSpec{Name: "email_1", Fields: []IndexField{{Path: "email", Dir: 1}}, Unique: true}

	doc1 := bson.M{"_id": bson.NewObjectId(), "email": "a@example.com"}
	ops, checks, err := buildIndexOps(ctx, kv, collection, []IndexSpec{spec}, doc1["_id"].(bson.ObjectId).Hex(), nil, doc1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := kv.Atomic(ctx, checks, ops)
	if err != nil || !ok {
		t.Fatalf("expected first insert to succeed, ok=%v err=%v", ok, err)
	}

	doc2 := bson.M{"_id": bson.NewObjectId(), "email": "a@example.com"}
	_, _, err = buildIndexOps(ctx, kv, collection, []IndexSpec{spec}, doc2["_id"].(bson.ObjectId).Hex(), nil, doc2)
	if err == nil {
		t.Fatalf("expected duplicate key error for conflicting unique index value")
	}
	if !IsDuplicateKey(err) {
		t.Fatalf("expected IsDuplicateKey(err) to be true, got %v", err)
	}
}

func TestBuildIndexOpsNoConflictForDistinctValues(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	collection := "users"
	spec := IndexSpec{Name: "email_1", Fields: []IndexField{{Path: "email", Dir: 1}}, Unique: true}

	doc1 := bson.M{"_id": bson.NewObjectId(), "email": "a@example.com"}
	ops, checks, err := buildIndexOps(ctx, kv, collection, []IndexSpec{spec}, doc1["_id"].(bson.ObjectId).Hex(), nil, doc1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := kv.Atomic(ctx, checks, ops); err != nil {
		t.Fatalf("unexpected error committing first insert: %v", err)
	}

	doc2 := bson.M{"_id": bson.NewObjectId(), "email": "b@example.com"}
	ops2, checks2, err := buildIndexOps(ctx, kv, collection, []IndexSpec{spec}, doc2["_id"].(bson.ObjectId).Hex(), nil, doc2)
	if err != nil {
		t.Fatalf("unexpected error for distinct unique value: %v", err)
	}
	if ok, err := kv.Atomic(ctx, checks2, ops2); err != nil || !ok {
		t.Fatalf("expected second insert with distinct value to succeed, ok=%v err=%v", ok, err)
	}
}

func TestDropIndexOpsRemovesMetadataAndEntries(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	collection := "users"
	spec := IndexSpec{Name: "email_1", Fields: []IndexField{{Path: "email", Dir: 1}}}

	doc := bson.M{"_id": bson.NewObjectId(), "email": "a@example.com"}
	ops, checks, err := buildIndexOps(ctx, kv, collection, []IndexSpec{spec}, doc["_id"].(bson.ObjectId).Hex(), nil, doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := kv.Atomic(ctx, checks, ops); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := kv.Set(ctx, indexMetaKey(collection, spec.Name), []byte("meta")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dropOps, err := dropIndexOps(ctx, kv, collection, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dropOps) < 2 {
		t.Fatalf("expected metadata delete plus at least one entry delete, got %d ops", len(dropOps))
	}
	if _, err := kv.Atomic(ctx, nil, dropOps); err != nil {
		t.Fatalf("unexpected error applying drop ops: %v", err)
	}

	if _, _, ok, _ := kv.Get(ctx, indexMetaKey(collection, spec.Name)); ok {
		t.Fatalf("expected index metadata to be gone after drop")
	}

	prefix := indexEntryPrefix(collection, spec.Fields[0].Path, nil)
	end := prefixEnd(prefix)
	remaining := 0
	err = kv.List(ctx, prefix, end, func(e Entry) (bool, error) {
		remaining++
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no remaining index entries after drop, got %d", remaining)
	}
}
