package document

import (
	"slices"
)

// Query selects nodes in document order. Zero-valued fields do not filter.
type Query struct {
	// Tag restricts matches to elements with this tag name.
	Tag string
	// Tagged lists values that must all appear as direct <tagged> children.
	Tagged []string
	// VisibleOnly keeps only nodes that pass Permitted.
	VisibleOnly bool
	// Match is an optional extra predicate evaluated on a copy of the node.
	Match func(*Element) bool
}

// QueryResult holds detached copies of the matches. Tags is only set for
// tag-filtered queries: a synthetic doc_tag element with one <tag name=...>
// child per distinct <tagged> value found below the matches.
type QueryResult struct {
	Tag     string
	Matches []*Element
	Tags    *Element
}

// Root wraps the matches in a synthetic doc_<tag> element, the shape
// templates expect for tag views.
func (r QueryResult) Root() *Element {
	name := "doc"
	if r.Tag != "" {
		name = "doc_" + r.Tag
	}
	return &Element{Tag: name, Children: r.Matches}
}

// query walks the arena, or only the tag bitmap when q names a tag.
func (d *Document) query(q Query) QueryResult {
	res := QueryResult{Tag: q.Tag}

	visit := func(i int) {
		if i == d.root || !d.matches(i, q) {
			return
		}
		el := d.materialize(i)
		if q.Match != nil && !q.Match(el) {
			return
		}
		res.Matches = append(res.Matches, el)
	}

	if q.Tag != "" {
		// Arena order is document order after compaction, and the
		// bitmap iterates in ascending order.
		if bm, ok := d.tags[q.Tag]; ok {
			it := bm.Iterator()
			for it.HasNext() {
				visit(int(it.Next()))
			}
		}
		res.Tags = groupTags(res.Matches)
	} else {
		for i := range d.nodes {
			visit(i)
		}
	}
	return res
}

func (d *Document) matches(i int, q Query) bool {
	n := &d.nodes[i]
	if q.Tag != "" && n.tag != q.Tag {
		return false
	}
	if q.VisibleOnly {
		v := ""
		for _, a := range n.attrs {
			if a.Key == AttrPermit {
				v = a.Value
				break
			}
		}
		if v == "" || v == "false" {
			return false
		}
	}
	for _, want := range q.Tagged {
		found := false
		for _, c := range n.children {
			if d.nodes[c].tag == TagTagged && d.nodes[c].text == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// groupTags lists the distinct tagged values found under matches, sorted,
// as tag children of one element.
func groupTags(matches []*Element) *Element {
	seen := make(map[string]struct{})
	var walk func(e *Element)
	walk = func(e *Element) {
		for _, c := range e.Children {
			if c.Tag == TagTagged {
				seen[c.Text] = struct{}{}
			}
			walk(c)
		}
	}
	for _, m := range matches {
		walk(m)
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	slices.Sort(names)

	group := &Element{Tag: "doc_" + TagTag}
	for _, n := range names {
		group.Children = append(group.Children, NewElement(TagTag, AttrName, n))
	}
	return group
}
