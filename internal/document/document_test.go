package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(els []*Element) []string {
	out := make([]string, 0, len(els))
	for _, e := range els {
		out = append(out, e.ID())
	}
	return out
}

// TestMergeReplacesInPlace verifies that a colliding identifier takes over
// the existing node's slot under its own parent.
func TestMergeReplacesInPlace(t *testing.T) {
	d := New()
	d.merge(NewElement("area", "id", "a1").Append(
		NewElement("npc", "id", "c1", "name", "Bob"),
		NewElement("npc", "id", "c2", "name", "Ann"),
	), "one.xml")
	d.merge(NewElement("npc", "id", "c3"), "one.xml")
	d.compact()

	d.merge(NewElement("npc", "id", "c1", "name", "Robert"), "two.xml")
	d.compact()

	root := d.Root()
	require.Len(t, root.Children, 2)
	area := root.Children[0]
	assert.Equal(t, []string{"c1", "c2"}, ids(area.Children))
	assert.Equal(t, "Robert", area.Children[0].AttrOr("name"))
	assert.Equal(t, []string{"a1", "c1", "c2", "c3"}, docIDs(d))
}

// TestMergeDescendantCollision checks that a nested duplicate detaches the
// older node wherever it lives.
func TestMergeDescendantCollision(t *testing.T) {
	d := New()
	d.merge(NewElement("npc", "id", "c1", "name", "old"), "one.xml")
	d.merge(NewElement("area", "id", "a1").Append(
		NewElement("npc", "id", "c1", "name", "new"),
	), "two.xml")
	d.compact()

	root := d.Root()
	assert.Equal(t, []string{"a1"}, ids(root.Children))
	c1, ok := d.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "new", c1.AttrOr("name"))
	assert.Equal(t, 3, d.Len())
}

func TestMergeSelfCollisionDropsDescendant(t *testing.T) {
	d := New()
	d.merge(NewElement("area", "id", "a1").Append(
		NewElement("room", "id", "a1"),
		NewElement("npc", "id", "c1"),
	), "one.xml")
	d.compact()

	a1, ok := d.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "area", a1.Tag)
	assert.Equal(t, []string{"c1"}, ids(a1.Children))
}

func TestFromElementDeduplicates(t *testing.T) {
	d := FromElement(NewElement("data").Append(
		NewElement("npc", "id", "c1", "name", "first"),
		NewElement("npc", "id", "c2"),
		NewElement("npc", "id", "c1", "name", "second"),
	))
	top := d.TopLevel()
	assert.Equal(t, []string{"c1", "c2"}, ids(top))
	assert.Equal(t, "second", top[0].AttrOr("name"))
}

func TestSetAttr(t *testing.T) {
	d := New()
	d.merge(NewElement("npc", "id", "c1", "permit", "false"), "one.xml")
	d.compact()
	before := d.Clone()

	el, err := d.setAttr("c1", "permit", "true")
	require.NoError(t, err)
	assert.Equal(t, []Attr{{"id", "c1"}, {"permit", "true"}}, el.Attrs)

	_, err = d.setAttr("c1", "id", "c9")
	require.ErrorIs(t, err, ErrReadOnlyAttr)
	_, err = d.setAttr("zz", "permit", "true")
	require.ErrorIs(t, err, ErrNotFound)

	old, _ := before.Get("c1")
	assert.Equal(t, "false", old.AttrOr("permit"), "clone must not share attribute storage")
}

func TestEditRecord(t *testing.T) {
	d := New()
	d.merge(NewElement("campaign", "id", "k1", "title", "Night").Append(
		NewElement("area", "name", "docks").Append(
			NewElement("npc", "id", "c1", "name", "Bob"),
		),
	), "one.xml")
	d.compact()

	rec, err := d.editRecord("c1")
	require.NoError(t, err)

	want := NewElement("campaign", "id", "k1").Append(
		NewElement("area").Append(
			NewElement("npc", "id", "c1", "name", "Bob"),
		),
	)
	assert.Equal(t, want, rec)
	assert.Equal(t, "c1", idOf(rec))
}

func TestQueryByTag(t *testing.T) {
	d := FromElement(NewElement("data").Append(
		NewElement("npc", "id", "c1", "permit", "true").Append(
			&Element{Tag: TagTagged, Text: "tavern"},
			&Element{Tag: TagTagged, Text: "ally"},
		),
		NewElement("area", "id", "a1").Append(
			NewElement("npc", "id", "c2", "permit", "false").Append(
				&Element{Tag: TagTagged, Text: "tavern"},
			),
		),
		NewElement("npc", "id", "c3", "permit", "yes"),
	))

	res := d.query(Query{Tag: "npc"})
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(res.Matches))
	assert.Equal(t, "doc_npc", res.Root().Tag)
	require.NotNil(t, res.Tags)
	assert.Equal(t, "doc_tag", res.Tags.Tag)
	var names []string
	for _, c := range res.Tags.Children {
		names = append(names, c.AttrOr(AttrName))
	}
	assert.Equal(t, []string{"ally", "tavern"}, names)

	res = d.query(Query{Tag: "npc", VisibleOnly: true})
	assert.Equal(t, []string{"c1", "c3"}, ids(res.Matches))

	res = d.query(Query{Tag: "npc", Tagged: []string{"tavern"}})
	assert.Equal(t, []string{"c1", "c2"}, ids(res.Matches))

	res = d.query(Query{Match: func(e *Element) bool { return e.AttrOr("permit") == "yes" }})
	assert.Equal(t, []string{"c3"}, ids(res.Matches))
	assert.Nil(t, res.Tags)
}

func TestPermitted(t *testing.T) {
	assert.False(t, Permitted(nil))
	assert.False(t, Permitted(NewElement("npc")))
	assert.False(t, Permitted(NewElement("npc", "permit", "")))
	assert.False(t, Permitted(NewElement("npc", "permit", "false")))
	assert.True(t, Permitted(NewElement("npc", "permit", "true")))
}

// docIDs lists every indexed identifier in document order.
func docIDs(d *Document) []string {
	out := make([]string, 0, len(d.index))
	for i := range d.nodes {
		if d.nodes[i].id != "" && d.index[d.nodes[i].id] == i {
			out = append(out, d.nodes[i].id)
		}
	}
	return out
}
