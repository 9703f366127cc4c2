// Package render is the transform facility: it turns document trees into
// HTML through html/template files stored under the web root. Attribute
// values and text are escaped for the context they land in.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tyrowin/gamedesk/internal/document"
)

// Ext is the template file extension.
const Ext = ".tmpl"

// ErrTemplateNotFound is returned when no file or built-in exists for a name.
var ErrTemplateNotFound = errors.New("template not found")

const dirTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{attr . "path"}}</title></head>
<body><h1>{{attr . "path"}}</h1><ul>
{{- range children . "entry"}}
<li><a href="{{pathescape (attr . "path")}}">{{attr . "name"}}{{if eq (attr . "dir") "true"}}/{{end}}</a></li>
{{- end}}
</ul></body></html>
`

var builtins = map[string]string{
	"dir": dirTemplate,
}

var funcs = template.FuncMap{
	"attr": func(e *document.Element, key string) string {
		if e == nil {
			return ""
		}
		return e.AttrOr(key)
	},
	"permitted": document.Permitted,
	"children": func(e *document.Element, tag string) []*document.Element {
		if e == nil {
			return nil
		}
		return e.ChildrenByTag(tag)
	},
	"tagged": func(e *document.Element) []string {
		if e == nil {
			return nil
		}
		return e.TaggedValues()
	},
	"pathescape": pathEscape,
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<json error: %v>", err)
		}
		return string(b)
	},
}

// Renderer loads templates from a directory. Files are re-read on every call
// so edits show up without a restart.
type Renderer struct {
	root string
}

// New returns a renderer over the template directory root.
func New(root string) *Renderer {
	return &Renderer{root: root}
}

// Render executes template name with data into w. Names are slash separated
// paths relative to the root, without the extension.
func (r *Renderer) Render(w io.Writer, name string, data *document.Element) error {
	t, err := r.load(name)
	if err != nil {
		return err
	}
	if err := t.Execute(w, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}

// pathEscape escapes every segment of a slash separated path, so names
// holding spaces, '?' or '#' still link to the right file.
func pathEscape(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

// load reads template name from the root, falling back to a built-in of the
// same name when no file exists.
func (r *Renderer) load(name string) (*template.Template, error) {
	path, err := r.path(name)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		b, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		src = []byte(b)
	} else if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	t, err := template.New(name).Funcs(funcs).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return t, nil
}

// path maps a template name onto a file under the root. Dot segments are
// resolved first so the result never leaves it.
func (r *Renderer) path(name string) (string, error) {
	name = strings.TrimSuffix(name, Ext)
	clean := filepath.Clean(filepath.FromSlash("/" + name))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("%w: empty name", ErrTemplateNotFound)
	}
	return filepath.Join(r.root, clean+Ext), nil
}
