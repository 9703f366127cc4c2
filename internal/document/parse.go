package document

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parse reads one XML source into an element tree. Namespace prefixes are
// kept verbatim in tag and attribute names ("xsi:noNamespaceSchemaLocation").
// Character data is trimmed and concatenated per element; comments,
// processing instructions and directives are dropped.
func Parse(r io.Reader, name string) (*Element, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	var (
		root  *Element
		stack []*Element
	)
	fail := func(err error) (*Element, error) {
		line, _ := dec.InputPos()
		return nil, &ParseError{Path: name, Line: line, Err: err}
	}

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Tag: qualified(t.Name)}
			for _, a := range t.Attr {
				key := qualified(a.Name)
				if _, dup := el.Attr(key); dup {
					return fail(fmt.Errorf("duplicate attribute %q on <%s>", key, el.Tag))
				}
				el.Attrs = append(el.Attrs, Attr{Key: key, Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return fail(fmt.Errorf("second root element <%s>", el.Tag))
				}
				root = el
			} else {
				top := stack[len(stack)-1]
				top.Children = append(top.Children, el)
			}
			stack = append(stack, el)

		case xml.EndElement:
			tag := qualified(t.Name)
			if len(stack) == 0 || stack[len(stack)-1].Tag != tag {
				return fail(fmt.Errorf("unexpected </%s>", tag))
			}
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(top.Text)
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			} else if strings.TrimSpace(string(t)) != "" {
				return fail(errors.New("character data outside root element"))
			}
		}
	}

	if len(stack) > 0 {
		return fail(fmt.Errorf("unclosed <%s>", stack[len(stack)-1].Tag))
	}
	if root == nil {
		return fail(errors.New("no root element"))
	}
	return root, nil
}

// ParseFile parses the XML file at path.
func ParseFile(path string) (*Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	return Parse(f, path)
}

// qualified joins a name's namespace prefix and local part.
func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
