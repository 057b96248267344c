package kvdoc

import (
	"testing"

	"github.com/globalsign/mgo/bson"
)

func TestResolvePathSingle(t *testing.T) {
	doc := bson.M{"a": bson.M{"b": 5}}
	r := resolvePath(doc, "a.b")
	if r.absent || r.multi || r.value != 5 {
		t.Fatalf("expected single value 5, got %+v", r)
	}
}

func TestResolvePathAbsent(t *testing.T) {
	doc := bson.M{"a": bson.M{"b": 5}}
	r := resolvePath(doc, "a.c")
	if !r.absent {
		t.Fatalf("expected absent, got %+v", r)
	}
}

func TestResolvePathFanOut(t *testing.T) {
	doc := bson.M{"items": []interface{}{
		bson.M{"qty": 1},
		bson.M{"qty": 2},
		bson.M{"other": 3},
	}}
	r := resolvePath(doc, "items.qty")
	if !r.multi {
		t.Fatalf("expected fan-out, got %+v", r)
	}
	if len(r.values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(r.values))
	}
}

func TestResolvePathArrayIndex(t *testing.T) {
	doc := bson.M{"items": []interface{}{"a", "b", "c"}}
	r := resolvePath(doc, "items.1")
	if r.absent || r.value != "b" {
		t.Fatalf("expected 'b', got %+v", r)
	}
}

func TestSetAtPathCreatesIntermediates(t *testing.T) {
	doc := bson.M{}
	setAtPath(doc, "a.b.c", 42)
	r := resolvePath(doc, "a.b.c")
	if r.absent || r.value != 42 {
		t.Fatalf("expected 42 at a.b.c, got %+v", r)
	}
}

func TestUnsetAtPathMissingIntermediate(t *testing.T) {
	doc := bson.M{"a": 1}
	unsetAtPath(doc, "x.y.z") // should not panic
	if _, ok := doc["a"]; !ok {
		t.Fatalf("unexpected mutation of unrelated field")
	}
}

func TestRenameFieldAbsentSourceIsNoop(t *testing.T) {
	doc := bson.M{"a": 1}
	renameField(doc, "missing", "b")
	if _, ok := doc["b"]; ok {
		t.Fatalf("rename of absent field should be a no-op")
	}
}

func TestRenameField(t *testing.T) {
	doc := bson.M{"old": 7}
	renameField(doc, "old", "new")
	if _, ok := doc["old"]; ok {
		t.Fatalf("old field should be gone")
	}
	if doc["new"] != 7 {
		t.Fatalf("expected new field to carry the value")
	}
}
