package kvdoc_test

import (
	"testing"

	"github.com/globalsign/mgo/bson"

	"github.com/kinfkong/kvdoc"
)

func TestBulkOrderedHaltsAtFirstError(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	id := bson.NewObjectId()
	_, err := c.InsertOne(ctx, bson.M{"_id": id, "name": "existing"})
	AssertNoError(t, err, "seed insert")

	res, err := c.Bulk().
		Insert(bson.M{"_id": id, "name": "dup"}).  // fails: duplicate _id
		Insert(bson.M{"name": "never reached"}).
		Run(ctx)
	AssertError(t, err, "ordered bulk with a failing op")
	if res.Inserted != 0 {
		t.Fatalf("expected the failing op to halt before any insert, got %+v", res)
	}
}

func TestBulkUnorderedRunsEveryOp(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	id := bson.NewObjectId()
	_, err := c.InsertOne(ctx, bson.M{"_id": id, "name": "existing"})
	AssertNoError(t, err, "seed insert")

	res, err := c.Bulk().Unordered().
		Insert(bson.M{"_id": id, "name": "dup"}). // fails
		Insert(bson.M{"name": "ok"}).              // succeeds
		Run(ctx)
	AssertError(t, err, "unordered bulk aggregates errors")
	if res.Inserted != 1 {
		t.Fatalf("expected the second insert to still run, got %+v", res)
	}
	werrs, ok := err.(*kvdoc.WriteErrors)
	if !ok || len(werrs.Errors) != 1 {
		t.Fatalf("expected exactly one aggregated write error, got %v", err)
	}
}

func TestBulkMixedOperations(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	ids := insertAll(t, ctx, c, sampleUsers())

	res, err := c.Bulk().
		Update(bson.M{"_id": ids[0]}, bson.M{"$set": bson.M{"age": int64(99)}}).
		Remove(bson.M{"_id": ids[1]}).
		Upsert(bson.M{"email": "new@example.com"}, bson.M{"$set": bson.M{"age": int64(1)}}).
		Run(ctx)
	AssertNoError(t, err, "mixed bulk")
	if res.Matched != 1 || res.Modified != 1 {
		t.Fatalf("expected one matched/modified update, got %+v", res)
	}
	if res.Removed != 1 {
		t.Fatalf("expected one removal, got %+v", res)
	}
	if res.Inserted != 1 {
		t.Fatalf("expected one upsert-driven insert, got %+v", res)
	}

	remaining, err := c.Find(bson.M{}).All(ctx)
	AssertNoError(t, err, "find remaining")
	if len(remaining) != 3 {
		t.Fatalf("expected 3 users remaining (3 - 1 removed + 1 upserted), got %d", len(remaining))
	}
}

func TestBulkUpdateAllAcrossDocuments(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	insertAll(t, ctx, c, sampleUsers())

	res, err := c.Bulk().
		UpdateAll(bson.M{"active": true}, bson.M{"$set": bson.M{"tier": "gold"}}).
		Run(ctx)
	AssertNoError(t, err, "bulk updateAll")
	if res.Matched != 2 || res.Modified != 2 {
		t.Fatalf("expected 2 active users updated, got %+v", res)
	}
}

func TestBulkRemoveAllAcrossDocuments(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	insertAll(t, ctx, c, sampleUsers())

	res, err := c.Bulk().RemoveAll(bson.M{"active": false}).Run(ctx)
	AssertNoError(t, err, "bulk removeAll")
	if res.Removed != 1 {
		t.Fatalf("expected 1 inactive user removed, got %+v", res)
	}
}
