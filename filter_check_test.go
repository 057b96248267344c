// filter_check_test.go - gocheck suite over the filter operator table
// (spec §4.3), matching how the upstream globalsign/mgo project has
// historically used gopkg.in/check.v1 for its own operator-table tests.

package kvdoc

import (
	"testing"

	"github.com/globalsign/mgo/bson"
	. "gopkg.in/check.v1"
)

func TestGocheck(t *testing.T) { TestingT(t) }

type FilterSuite struct{}

var _ = Suite(&FilterSuite{})

func (s *FilterSuite) TestEqualityOperatorTable(c *C) {
	table := []struct {
		filter bson.M
		doc    bson.M
		want   bool
	}{
		{bson.M{"a": int64(1)}, bson.M{"a": int64(1)}, true},
		{bson.M{"a": int64(1)}, bson.M{"a": int64(2)}, false},
		{bson.M{"a": bson.M{"$eq": "x"}}, bson.M{"a": "x"}, true},
		{bson.M{"a": bson.M{"$ne": "x"}}, bson.M{"a": "y"}, true},
		{bson.M{"a": bson.M{"$ne": "x"}}, bson.M{}, true}, // absent field: $ne is true
	}
	for _, t := range table {
		got, err := MatchFilter(t.filter, t.doc)
		c.Assert(err, IsNil)
		c.Check(got, Equals, t.want, Commentf("filter=%v doc=%v", t.filter, t.doc))
	}
}

func (s *FilterSuite) TestTypeOperator(c *C) {
	table := []struct {
		v    interface{}
		want string
	}{
		{"x", "string"},
		{int64(1), "number"},
		{true, "boolean"},
		{[]interface{}{1}, "array"},
		{bson.M{"a": 1}, "object"},
		{nil, "null"},
	}
	for _, t := range table {
		doc := bson.M{"f": t.v}
		got, err := MatchFilter(bson.M{"f": bson.M{"$type": t.want}}, doc)
		c.Assert(err, IsNil)
		c.Check(got, Equals, true, Commentf("value=%v want type=%s", t.v, t.want))
	}
}

func (s *FilterSuite) TestAllRequiresEveryElement(c *C) {
	doc := bson.M{"tags": []interface{}{"red", "blue", "green"}}
	ok, err := MatchFilter(bson.M{"tags": bson.M{"$all": []interface{}{"red", "green"}}}, doc)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, true)

	ok, err = MatchFilter(bson.M{"tags": bson.M{"$all": []interface{}{"red", "purple"}}}, doc)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, false)
}

func (s *FilterSuite) TestNestedLogicalOperators(c *C) {
	doc := bson.M{"a": int64(1), "b": int64(2), "c": int64(3)}
	filter := bson.M{
		"$or": []interface{}{
			bson.M{"$and": []interface{}{
				bson.M{"a": int64(1)},
				bson.M{"b": int64(2)},
			}},
			bson.M{"c": int64(99)},
		},
	}
	ok, err := MatchFilter(filter, doc)
	c.Assert(err, IsNil)
	c.Assert(ok, Equals, true)
}
