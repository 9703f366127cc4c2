package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tyrowin/gamedesk/internal/document"
)

// DataKey is the route key of the built-in document handler.
const DataKey = "data"

// Query arguments understood by the document handler.
const (
	ParamEdit = "edit"
	ParamKey  = "key"
	ParamVal  = "val"
	ParamSave = "save"
	ParamView = "view"
	ParamTag  = "tag"
	ParamTmpl = "tmpl"
)

const (
	typeHTML  = "text/html; charset=utf-8"
	typePlain = "text/plain; charset=utf-8"
)

// editable lists the attributes a GM may change at runtime.
var editable = map[string]bool{
	document.AttrPermit: true,
	"select":            true,
}

// DataHandler is the generic document handler every plugin channel can use:
// attribute edits with a live push, overlay reset, full views and tag views.
type DataHandler struct {
	channel   string
	store     *document.Store
	publisher Publisher
	renderer  Renderer
	logger    *slog.Logger
}

// NewData is the Factory for DataHandler.
func NewData(key string, deps Deps) (Handler, error) {
	if deps.Store == nil || deps.Renderer == nil || deps.Publisher == nil {
		return nil, errors.New("data handler needs a store, a renderer and a publisher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DataHandler{
		channel:   key,
		store:     deps.Store,
		publisher: deps.Publisher,
		renderer:  deps.Renderer,
		logger:    logger.With("handler", key),
	}, nil
}

// ContentType implements Handler.
func (h *DataHandler) ContentType(p Params) string {
	if _, ok := p.Get(ParamEdit); ok {
		return typePlain
	}
	if _, ok := p.Get(ParamView); ok {
		return typeHTML
	}
	_, tag := p.Get(ParamTag)
	_, tmpl := p.Get(ParamTmpl)
	if tag && tmpl {
		return typeHTML
	}
	return typePlain
}

// Content implements Handler. Edits and overlay resets are only honoured on
// the privileged listener; a reset falls through to the view branches.
func (h *DataHandler) Content(_ context.Context, p Params, privileged bool) (Content, error) {
	if id, ok := p.Get(ParamEdit); ok && privileged {
		return Text(""), h.edit(id, p[ParamKey], p[ParamVal])
	}

	if _, ok := p.Get(ParamSave); ok && privileged {
		if err := h.store.ClearEdits(); err != nil {
			return nil, err
		}
		h.logger.Info("edit overlay cleared")
	}

	if view, ok := p.Get(ParamView); ok {
		out, err := h.export(TemplateName(view) + "/index")
		return Text(out), err
	}

	tag, hasTag := p.Get(ParamTag)
	tmpl, hasTmpl := p.Get(ParamTmpl)
	if hasTag && hasTmpl {
		res := h.store.Query(document.Query{
			Tag:         tag,
			Tagged:      splitKeys(p[ParamKey]),
			VisibleOnly: !privileged,
		})
		out, err := h.export(TemplateName(tmpl), res.Root(), res.Tags)
		return Text(out), err
	}

	return Text(""), nil
}

// edit writes and persists one whitelisted attribute, then notifies the
// channel. The push still goes out when only the overlay write failed.
// Other keys are ignored.
func (h *DataHandler) edit(id, key, value string) error {
	if !editable[key] {
		h.logger.Debug("ignoring edit", "id", id, "key", key)
		return nil
	}
	el, err := h.store.Edit(id, key, value)
	if el == nil {
		return fmt.Errorf("edit %s: %w", id, err)
	}

	msg := "id=" + id + ":" + key + "=" + value + ":name=" + el.AttrOr(document.AttrName)
	h.publisher.Publish(h.channel, msg)
	h.logger.Info("attribute edited", "id", id, "key", key, "value", value)
	return err
}

// export renders tmpl over a snapshot of the document with nodes
// appended under the root.
func (h *DataHandler) export(tmpl string, nodes ...*document.Element) (string, error) {
	var buf bytes.Buffer
	err := h.store.ExportWithForeignNodes(func(root *document.Element) error {
		return h.renderer.Render(&buf, tmpl, root)
	}, nodes...)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// splitKeys splits a comma-separated list, dropping blanks.
func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
