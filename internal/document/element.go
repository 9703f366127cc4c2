package document

// Reserved attribute and tag names shared by the store and content handlers.
const (
	AttrID     = "id"
	AttrName   = "name"
	AttrPermit = "permit"

	TagData   = "data"
	TagTagged = "tagged"
	TagTag    = "tag"
)

// Attr is a single key/value attribute. Order of attributes on an element is
// preserved from the source file.
type Attr struct {
	Key   string
	Value string
}

// Element is a detached, caller-owned copy of a document node. The store never
// hands out its live nodes; every Element returned from a Store method can be
// read or modified freely without affecting the document.
type Element struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Element
}

// NewElement creates an element with the given tag and attribute pairs
// (key, value, key, value...). A trailing odd key is ignored.
func NewElement(tag string, kv ...string) *Element {
	e := &Element{Tag: tag}
	for i := 0; i+1 < len(kv); i += 2 {
		e.SetAttr(kv[i], kv[i+1])
	}
	return e
}

// Attr returns the value of key and whether it is present.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the value of key or the empty string.
func (e *Element) AttrOr(key string) string {
	v, _ := e.Attr(key)
	return v
}

// SetAttr writes key, keeping the original position if key already exists.
func (e *Element) SetAttr(key, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Key == key {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Key: key, Value: value})
}

// ID returns the element identifier or "" when none is declared.
func (e *Element) ID() string {
	return e.AttrOr(AttrID)
}

// Append adds children and returns e for chaining.
func (e *Element) Append(children ...*Element) *Element {
	e.Children = append(e.Children, children...)
	return e
}

// Clone returns a deep copy of e.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := &Element{
		Tag:  e.Tag,
		Text: e.Text,
	}
	if len(e.Attrs) > 0 {
		c.Attrs = append([]Attr(nil), e.Attrs...)
	}
	if len(e.Children) > 0 {
		c.Children = make([]*Element, len(e.Children))
		for i, ch := range e.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// ChildrenByTag returns the direct children with the given tag.
func (e *Element) ChildrenByTag(tag string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// TaggedValues returns the text of every direct <tagged> child.
func (e *Element) TaggedValues() []string {
	var out []string
	for _, c := range e.Children {
		if c.Tag == TagTagged {
			out = append(out, c.Text)
		}
	}
	return out
}

// Permitted reports whether a node is visible to unprivileged callers. An
// absent, empty or "false" permit attribute means hidden.
func Permitted(e *Element) bool {
	if e == nil {
		return false
	}
	v := e.AttrOr(AttrPermit)
	return v != "" && v != "false"
}
