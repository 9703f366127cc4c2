package document

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
)

const noParent = -1

// node is the arena representation of an element. Parent and children are
// arena indices, so walking to the root is O(depth) without owning pointers.
type node struct {
	tag      string
	id       string
	attrs    []Attr
	text     string
	source   string
	parent   int
	children []int
}

// Document is a merged tree stored as an arena of nodes plus an identifier
// index. After every completed mutation the arena is compacted so that arena
// order equals document order, which lets the tag bitmaps double as ordered
// posting lists.
type Document struct {
	nodes []node
	root  int
	index map[string]int
	tags  map[string]*roaring.Bitmap
}

// New returns an empty document whose root carries the fixed data tag.
func New() *Document {
	return newDocument(TagData)
}

// newDocument creates a document holding only a root element.
func newDocument(rootTag string) *Document {
	d := &Document{
		index: make(map[string]int),
		tags:  make(map[string]*roaring.Bitmap),
	}
	d.nodes = append(d.nodes, node{tag: rootTag, parent: noParent})
	d.root = 0
	d.tags[rootTag] = roaring.BitmapOf(0)
	return d
}

// FromElement builds a document from an element tree. The element itself
// becomes the root; its children are merged one by one, so duplicate
// identifiers inside the tree resolve exactly as they do during a load.
func FromElement(root *Element) *Document {
	d := newDocument(root.Tag)
	d.nodes[d.root].attrs = append([]Attr(nil), root.Attrs...)
	for _, c := range root.Children {
		d.merge(c, "")
	}
	d.compact()
	return d
}

// Len returns the number of nodes reachable from the root, root included.
func (d *Document) Len() int {
	return len(d.nodes)
}

// Get returns a detached copy of the node with the given identifier.
func (d *Document) Get(id string) (*Element, bool) {
	i, ok := d.index[id]
	if !ok {
		return nil, false
	}
	return d.materialize(i), true
}

// Has reports whether id is indexed.
func (d *Document) Has(id string) bool {
	_, ok := d.index[id]
	return ok
}

// Root returns a detached copy of the whole tree.
func (d *Document) Root() *Element {
	return d.materialize(d.root)
}

// TopLevel returns detached copies of the root's children.
func (d *Document) TopLevel() []*Element {
	kids := d.nodes[d.root].children
	out := make([]*Element, len(kids))
	for i, k := range kids {
		out[i] = d.materialize(k)
	}
	return out
}

// Clone returns an independent deep copy of d.
func (d *Document) Clone() *Document {
	c := &Document{
		nodes: make([]node, len(d.nodes)),
		root:  d.root,
		index: make(map[string]int, len(d.index)),
		tags:  make(map[string]*roaring.Bitmap, len(d.tags)),
	}
	for i, n := range d.nodes {
		n.attrs = slices.Clone(n.attrs)
		n.children = slices.Clone(n.children)
		c.nodes[i] = n
	}
	for k, v := range d.index {
		c.index[k] = v
	}
	for k, v := range d.tags {
		c.tags[k] = v.Clone()
	}
	return c
}

// materialize builds a detached Element tree from arena slot i.
func (d *Document) materialize(i int) *Element {
	n := &d.nodes[i]
	e := &Element{Tag: n.tag, Text: n.text}
	if len(n.attrs) > 0 {
		e.Attrs = append([]Attr(nil), n.attrs...)
	}
	if len(n.children) > 0 {
		e.Children = make([]*Element, 0, len(n.children))
		for _, c := range n.children {
			e.Children = append(e.Children, d.materialize(c))
		}
	}
	return e
}

// merge inserts el as a child of the root, remembering the source file it
// came from. When el's identifier already exists anywhere in the document,
// the existing node is replaced in its own slot under its own parent instead.
func (d *Document) merge(el *Element, source string) {
	if id := el.ID(); id != "" {
		if existing, ok := d.index[id]; ok && d.nodes[existing].parent != noParent {
			p := d.nodes[existing].parent
			d.unindex(existing)
			n := d.add(p, el, true)
			// add may have detached siblings, so look the slot up afterwards.
			slot := slices.Index(d.nodes[p].children, existing)
			if n >= 0 {
				d.nodes[n].source = source
				d.nodes[p].children[slot] = n
			} else {
				d.nodes[p].children = slices.Delete(d.nodes[p].children, slot, slot+1)
			}
			return
		}
	}
	if n := d.add(d.root, el, true); n >= 0 {
		d.nodes[n].source = source
		d.nodes[d.root].children = append(d.nodes[d.root].children, n)
	}
}

// mergeEdit merges an edit record. The record is the edited node wrapped in
// ancestors that carry nothing but a tag and an identifier; when the edited
// node is still present it is replaced where it lives, so the wrappers never
// clobber the live ancestors. Otherwise the record is merged as a whole.
func (d *Document) mergeEdit(el *Element, source string) {
	target := el
	for len(target.Children) == 1 && isWrapper(target) {
		target = target.Children[0]
	}
	if id := target.ID(); target != el && id != "" && d.Has(id) {
		d.merge(target, source)
		return
	}
	d.merge(el, source)
}

// isWrapper reports whether e only groups children: no attributes other
// than an id.
func isWrapper(e *Element) bool {
	switch len(e.Attrs) {
	case 0:
		return true
	case 1:
		return e.Attrs[0].Key == AttrID
	default:
		return false
	}
}

// dropAnonymous detaches the root children that came from source and carry
// no identifier. Identified nodes are left alone: re-merging replaces them in
// place.
func (d *Document) dropAnonymous(source string) {
	for _, c := range slices.Clone(d.nodes[d.root].children) {
		if d.nodes[c].source == source && d.nodes[c].id == "" {
			d.detach(c)
		}
	}
}

// add copies el's subtree into the arena below parent and returns the new
// index, or -1 when el was dropped. The caller links the result into the
// parent's child list. With indexing enabled, a descendant whose identifier
// collides with a node elsewhere detaches that node; a collision with one of
// its own ancestors drops the descendant.
func (d *Document) add(parent int, el *Element, indexing bool) int {
	id := ""
	if indexing {
		id = el.ID()
		if other, ok := d.index[id]; id != "" && ok {
			if d.isAncestor(other, parent) {
				return -1
			}
			d.detach(other)
		}
	}
	idx := len(d.nodes)
	d.nodes = append(d.nodes, node{
		tag:    el.Tag,
		id:     el.ID(),
		attrs:  append([]Attr(nil), el.Attrs...),
		text:   el.Text,
		parent: parent,
	})
	if id != "" {
		d.index[id] = idx
	}
	for _, c := range el.Children {
		if ci := d.add(idx, c, indexing); ci >= 0 {
			d.nodes[idx].children = append(d.nodes[idx].children, ci)
		}
	}
	return idx
}

// isAncestor reports whether candidate is of or one of its ancestors.
func (d *Document) isAncestor(candidate, of int) bool {
	for p := of; p != noParent; p = d.nodes[p].parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// detach unlinks i from its parent and drops its subtree from the index.
// The arena slots stay behind until the next compaction.
func (d *Document) detach(i int) {
	if p := d.nodes[i].parent; p != noParent {
		d.nodes[p].children = slices.DeleteFunc(d.nodes[p].children, func(c int) bool { return c == i })
	}
	d.unindex(i)
	d.nodes[i].parent = noParent
}

// unindex drops the ids of the subtree at i. Tag bitmaps are rebuilt by
// compact.
func (d *Document) unindex(i int) {
	n := &d.nodes[i]
	if n.id != "" && d.index[n.id] == i {
		delete(d.index, n.id)
	}
	for _, c := range n.children {
		d.unindex(c)
	}
}

// compact rebuilds the arena in document order, discarding detached and
// replaced subtrees, and rebuilds both indexes.
func (d *Document) compact() {
	nodes := make([]node, 0, len(d.nodes))
	index := make(map[string]int, len(d.index))
	tags := make(map[string]*roaring.Bitmap)

	var walk func(old, parent int) int
	walk = func(old, parent int) int {
		src := d.nodes[old]
		idx := len(nodes)
		nodes = append(nodes, node{
			tag:    src.tag,
			id:     src.id,
			attrs:  src.attrs,
			text:   src.text,
			source: src.source,
			parent: parent,
		})
		if src.id != "" && parent != noParent {
			index[src.id] = idx
		}
		bm, ok := tags[src.tag]
		if !ok {
			bm = roaring.New()
			tags[src.tag] = bm
		}
		bm.Add(uint32(idx))
		if len(src.children) > 0 {
			kids := make([]int, 0, len(src.children))
			for _, c := range src.children {
				kids = append(kids, walk(c, idx))
			}
			nodes[idx].children = kids
		}
		return idx
	}
	d.root = walk(d.root, noParent)
	d.nodes = nodes
	d.index = index
	d.tags = tags
}

// rootChildren exposes the root child list for identity checks.
func (d *Document) rootChildren() []int {
	return d.nodes[d.root].children
}

// setAttr writes an attribute on the node with the given identifier. Changing
// the identifier attribute itself is rejected to keep the index consistent.
func (d *Document) setAttr(id, key, value string) (*Element, error) {
	i, ok := d.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	if key == AttrID {
		return nil, ErrReadOnlyAttr
	}
	n := &d.nodes[i]
	attrs := slices.Clone(n.attrs)
	set := false
	for k := range attrs {
		if attrs[k].Key == key {
			attrs[k].Value = value
			set = true
			break
		}
	}
	if !set {
		attrs = append(attrs, Attr{Key: key, Value: value})
	}
	n.attrs = attrs
	return d.materialize(i), nil
}

// editRecord wraps a copy of the node in a rebuilt ancestor chain carrying
// only each ancestor's tag and identifier. The returned element is the
// outermost ancestor below the root.
func (d *Document) editRecord(id string) (*Element, error) {
	i, ok := d.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	el := d.materialize(i)
	for p := d.nodes[i].parent; p != noParent && p != d.root; p = d.nodes[p].parent {
		wrap := &Element{Tag: d.nodes[p].tag}
		if pid := d.nodes[p].id; pid != "" {
			wrap.SetAttr(AttrID, pid)
		}
		wrap.Children = []*Element{el}
		el = wrap
	}
	return el, nil
}

// withForeign appends copies of nodes to the root, hands the augmented tree
// to fn and then removes exactly what was appended, whatever fn does.
// Foreign nodes are not indexed.
func (d *Document) withForeign(nodes []*Element, fn func(root *Element) error) error {
	mark := len(d.nodes)
	kids := len(d.nodes[d.root].children)
	defer func() {
		d.nodes[d.root].children = d.nodes[d.root].children[:kids]
		clear(d.nodes[mark:])
		d.nodes = d.nodes[:mark]
	}()
	for _, n := range nodes {
		if n == nil {
			continue
		}
		i := d.add(d.root, n, false)
		d.nodes[d.root].children = append(d.nodes[d.root].children, i)
	}
	return fn(d.materialize(d.root))
}
