package kvdoc_test

import (
	"testing"

	"github.com/globalsign/mgo/bson"
)

func TestIteratorNextDrainsInOrder(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	insertAll(t, ctx, c, sampleUsers())

	it, err := c.Find(bson.M{}).Sort(bson.D{{Name: "age", Value: 1}}).Iter(ctx)
	AssertNoError(t, err, "iter")

	var doc bson.M
	count := 0
	var lastAge int64
	for it.Next(&doc) {
		age, _ := doc["age"].(int64)
		if count > 0 && age < lastAge {
			t.Fatalf("expected ascending age order from iterator, got %d after %d", age, lastAge)
		}
		lastAge = age
		count++
	}
	AssertNoError(t, it.Err(), "iterator error")
	if count != 3 {
		t.Fatalf("expected 3 documents, iterated %d", count)
	}
	if it.Next(&doc) {
		t.Fatalf("expected Next to return false once exhausted")
	}
}

func TestIteratorAllDrainsRemaining(t *testing.T) {
	c, ctx := newTestCollection(t, "users")
	insertAll(t, ctx, c, sampleUsers())

	it, err := c.Find(bson.M{}).Iter(ctx)
	AssertNoError(t, err, "iter")

	var first bson.M
	if !it.Next(&first) {
		t.Fatalf("expected at least one document")
	}
	rest, err := it.All()
	AssertNoError(t, err, "iterator All")
	if len(rest) != 2 {
		t.Fatalf("expected 2 remaining documents after one Next, got %d", len(rest))
	}
}
