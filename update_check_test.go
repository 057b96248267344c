// update_check_test.go - gocheck suite over the update operator table
// (spec §4.4), paired with update_test.go the same way filter_test.go
// and filter_check_test.go cover the filter operator table.

package kvdoc

import (
	"github.com/globalsign/mgo/bson"
	. "gopkg.in/check.v1"
)

type UpdateSuite struct{}

var _ = Suite(&UpdateSuite{})

func (s *UpdateSuite) TestSetOperatorTable(c *C) {
	table := []struct {
		doc    bson.M
		update bson.M
		field  string
		want   interface{}
	}{
		{bson.M{"a": int64(1)}, bson.M{"$set": bson.M{"a": int64(9)}}, "a", int64(9)},
		{bson.M{}, bson.M{"$set": bson.M{"nested.x": int64(1)}}, "nested.x", int64(1)},
		{bson.M{"a": "x"}, bson.M{"$set": bson.M{"a": "y"}}, "a", "y"},
	}
	for _, t := range table {
		out, err := applyUpdate(t.doc, t.update, false)
		c.Assert(err, IsNil)
		r := resolvePath(out, t.field)
		c.Check(r.value, Equals, t.want, Commentf("update=%v", t.update))
	}
}

func (s *UpdateSuite) TestIncMulMinMaxOperatorTable(c *C) {
	doc := bson.M{"n": int64(10)}

	out, err := applyUpdate(doc, bson.M{"$inc": bson.M{"n": int64(5)}}, false)
	c.Assert(err, IsNil)
	c.Check(out["n"], Equals, int64(15))

	out, err = applyUpdate(doc, bson.M{"$mul": bson.M{"n": int64(2)}}, false)
	c.Assert(err, IsNil)
	c.Check(out["n"], Equals, int64(20))

	out, err = applyUpdate(doc, bson.M{"$max": bson.M{"n": int64(3)}}, false)
	c.Assert(err, IsNil)
	c.Check(out["n"], Equals, int64(10), Commentf("$max must keep the larger existing value"))

	out, err = applyUpdate(doc, bson.M{"$max": bson.M{"n": int64(100)}}, false)
	c.Assert(err, IsNil)
	c.Check(out["n"], Equals, int64(100))
}

func (s *UpdateSuite) TestArrayOperatorTable(c *C) {
	doc := bson.M{"tags": []interface{}{"a"}}

	out, err := applyUpdate(doc, bson.M{"$push": bson.M{"tags": "b"}}, false)
	c.Assert(err, IsNil)
	c.Check(out["tags"], DeepEquals, []interface{}{"a", "b"})

	out, err = applyUpdate(doc, bson.M{"$pullAll": bson.M{"tags": []interface{}{"a"}}}, false)
	c.Assert(err, IsNil)
	c.Check(out["tags"], DeepEquals, []interface{}{})

	out, err = applyUpdate(bson.M{"tags": []interface{}{"a", "b", "c"}}, bson.M{"$pop": bson.M{"tags": int64(1)}}, false)
	c.Assert(err, IsNil)
	c.Check(out["tags"], DeepEquals, []interface{}{"a", "b"})
}

func (s *UpdateSuite) TestUnknownOperatorIsInvalidInput(c *C) {
	_, err := applyUpdate(bson.M{}, bson.M{"$bogus": bson.M{"a": 1}}, false)
	c.Assert(err, NotNil)
	e, ok := err.(*Error)
	c.Assert(ok, Equals, true)
	c.Check(e.Kind, Equals, KindInvalidInput)
}
