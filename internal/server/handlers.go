package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/Tyrowin/gamedesk/internal/content"
	"github.com/Tyrowin/gamedesk/internal/document"
)

// Every response is HTTP/1.1 without a length: the body ends when the
// connection closes.
const (
	statusOK        = "HTTP/1.1 200 OK"
	statusForbidden = "HTTP/1.1 403 FORBIDDEN"
)

// writeHeader sends the status line and content type, then flushes so the
// body can be streamed straight to the socket.
func writeHeader(w *bufio.Writer, contentType string) error {
	if _, err := fmt.Fprintf(w, "%s\r\nContent-Type: %s\r\n\r\n", statusOK, contentType); err != nil {
		return err
	}
	return w.Flush()
}

// serveFile streams a static file.
func serveFile(w *bufio.Writer, head bool, contentType, file string) error {
	if err := writeHeader(w, contentType); err != nil {
		return err
	}
	if head {
		return nil
	}
	return copyFile(w, file)
}

// serveError sends the fixed 403 response with error.html from the web root
// as its body.
func (r *Router) serveError(w *bufio.Writer, head bool) error {
	if _, err := fmt.Fprintf(w, "%s\r\n\r\n", statusForbidden); err != nil {
		return err
	}
	if head {
		return w.Flush()
	}
	if err := copyFile(w, filepath.Join(r.root, errorFile)); err != nil {
		r.logger.Warn("error page unavailable", "error", err)
	}
	return w.Flush()
}

// serveListing renders a generated directory listing. rel is the directory
// path relative to the web root.
func (r *Router) serveListing(w *bufio.Writer, head bool, dir, rel string) error {
	if err := writeHeader(w, contentTypeHTML); err != nil {
		return err
	}
	if head {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return &document.IOError{Op: "list", Path: dir, Err: err}
	}
	base := "/" + rel
	listing := document.NewElement("dir", "path", base)
	for _, e := range entries {
		listing.Append(document.NewElement("entry",
			"name", e.Name(),
			"path", path.Join(base, e.Name()),
			"dir", fmt.Sprint(e.IsDir())))
	}

	if err := r.renderer.Render(w, listingTemplate, listing); err != nil {
		return err
	}
	return w.Flush()
}

// serveDynamic runs a handler. Once the header is out, any failure or panic
// in the handler is a HandlerFault and the body is left empty.
func (r *Router) serveDynamic(ctx context.Context, w *bufio.Writer, head bool, key string, h content.Handler, params content.Params, privileged bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerFault{Key: key, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	if err := writeHeader(w, h.ContentType(params)); err != nil {
		return err
	}
	if head {
		return nil
	}

	out, err := h.Content(ctx, params, privileged)
	if err != nil {
		return &HandlerFault{Key: key, Err: err}
	}
	return writeContent(w, out)
}

// writeContent writes a handler result after the headers. Text gets a
// trailing newline; a nil result writes nothing.
func writeContent(w *bufio.Writer, out content.Content) error {
	switch v := out.(type) {
	case nil:
	case content.Text:
		if _, err := io.WriteString(w, string(v)+"\n"); err != nil {
			return err
		}
	case content.Bytes:
		if _, err := w.Write(v); err != nil {
			return err
		}
	case content.File:
		return copyFile(w, string(v))
	default:
		return fmt.Errorf("unsupported content %T", out)
	}
	return w.Flush()
}

// copyFile streams the named file into w.
func copyFile(w *bufio.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return &document.IOError{Op: "open", Path: name, Err: err}
	}
	defer func() { _ = f.Close() }()

	// Flush first so the copy can go straight to the connection.
	if err := w.Flush(); err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	return w.Flush()
}
