// testutil_test.go - shared test fixtures and Assert* helpers, adapted
// from the teacher's test_utils_test.go. The teacher's TestDB dialed a
// live MongoDB; here newTestCollection wires an in-process memkv.Store
// instead, so tests run with no external services.

package kvdoc_test

import (
	"context"
	"testing"
	"time"

	"github.com/globalsign/mgo/bson"

	"github.com/kinfkong/kvdoc"
	"github.com/kinfkong/kvdoc/internal/memkv"
)

func newTestCollection(t *testing.T, name string) (*kvdoc.Collection, context.Context) {
	t.Helper()
	ctx := context.Background()
	engine := kvdoc.Open(memkv.New())
	db := engine.DB("test")
	c, err := db.C(ctx, name)
	AssertNoError(t, err, "failed to open test collection")
	return c, ctx
}

// AssertError checks if an error occurred when one was expected.
func AssertError(t *testing.T, err error, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error but got none: %s", message)
	}
}

// AssertNoError checks if no error occurred when none was expected.
func AssertNoError(t *testing.T, err error, message string) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %s - %v", message, err)
	}
}

// AssertEqual checks if two values are equal.
func AssertEqual(t *testing.T, expected, actual interface{}, message string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s - expected: %v, got: %v", message, expected, actual)
	}
}

// sampleUsers mirrors the teacher's GetTestData fixture shape, scaled
// down to what the filter/update/planner suites actually exercise.
func sampleUsers() []bson.M {
	return []bson.M{
		{
			"name":      "John Doe",
			"email":     "john@example.com",
			"age":       int64(30),
			"active":    true,
			"createdAt": time.Now(),
		},
		{
			"name":      "Jane Smith",
			"email":     "jane@example.com",
			"age":       int64(25),
			"active":    true,
			"createdAt": time.Now().Add(-24 * time.Hour),
		},
		{
			"name":      "Bob Johnson",
			"email":     "bob@example.com",
			"age":       int64(35),
			"active":    false,
			"createdAt": time.Now().Add(-48 * time.Hour),
		},
	}
}

func insertAll(t *testing.T, ctx context.Context, c *kvdoc.Collection, docs []bson.M) []bson.ObjectId {
	t.Helper()
	ids := make([]bson.ObjectId, 0, len(docs))
	for _, d := range docs {
		res, err := c.InsertOne(ctx, d)
		AssertNoError(t, err, "failed to insert fixture document")
		ids = append(ids, res.InsertedID)
	}
	return ids
}
