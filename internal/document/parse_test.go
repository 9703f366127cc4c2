package document

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse checks attribute order, qualified names and text trimming.
func TestParse(t *testing.T) {
	src := `<?xml version="1.0" encoding="UTF-8"?>
<!-- campaign -->
<data xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <npc id="c1" name="Bob" permit="true">
    <tagged> tavern </tagged>
    <desc>An   innkeeper.</desc>
  </npc>
</data>`

	root, err := Parse(strings.NewReader(src), "test.xml")
	require.NoError(t, err)

	assert.Equal(t, "data", root.Tag)
	assert.Equal(t, []Attr{{Key: "xmlns:xsi", Value: "http://www.w3.org/2001/XMLSchema-instance"}}, root.Attrs)
	require.Len(t, root.Children, 1)

	npc := root.Children[0]
	assert.Equal(t, []Attr{{"id", "c1"}, {"name", "Bob"}, {"permit", "true"}}, npc.Attrs)
	assert.Equal(t, []string{"tavern"}, npc.TaggedValues())
	require.Len(t, npc.ChildrenByTag("desc"), 1)
	assert.Equal(t, "An   innkeeper.", npc.ChildrenByTag("desc")[0].Text)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"mismatched close", "<data><a></b></data>"},
		{"unclosed", "<data><a>"},
		{"second root", "<data/><data/>"},
		{"text outside root", "<data/>junk"},
		{"duplicate attribute", `<data><a id="1" id="2"/></data>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src), "bad.xml")
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, "bad.xml", pe.Path)
		})
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.xml"))
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "open", ioErr.Op)
}

// TestEncodeParse feeds encoded output back through the parser.
func TestEncodeParse(t *testing.T) {
	root := NewElement("data", "xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance").Append(
		NewElement("area", "id", "a1").Append(
			&Element{Tag: "note", Text: `fish & "chips" <3`},
		),
	)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, root))
	assert.True(t, strings.HasPrefix(buf.String(), "<?xml"))

	back, err := Parse(&buf, "round.xml")
	require.NoError(t, err)
	assert.Equal(t, root, back)
}
