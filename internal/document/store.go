package document

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const (
	// SourceExt is the extension of recognized data files.
	SourceExt = ".xml"
	// OverlayName is the file name of the single-slot edit overlay.
	OverlayName = "state.xml"

	overlaySchemaNS  = "http://www.w3.org/2001/XMLSchema-instance"
	overlaySchemaLoc = "./ugmt.xsd"
)

// Observer receives one call per parsed source, with the parse error if any.
type Observer interface {
	SourceLoaded(path string, err error)
}

// Store owns the current merged document.
//
// Mutations (Load, Reload, Edit, overlay writes, ExportWithForeignNodes) are
// serialized by writeMu, parsing included, so two reloads of one file always
// apply in order. Load and Reload build the next document on a private copy
// and only take the exclusive lock to swap it in, so readers are never
// blocked while a file is parsed or merged. Edits and foreign-node exports
// change the live document in place under the exclusive lock.
type Store struct {
	dir      string
	overlay  string
	logger   *slog.Logger
	observer Observer

	writeMu sync.Mutex
	mu      sync.RWMutex
	doc     *Document
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithOverlay overrides the edit overlay path.
func WithOverlay(path string) Option {
	return func(s *Store) { s.overlay = path }
}

// WithObserver registers a source load observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// NewStore creates a store over the data directory dir. Nothing is read
// until LoadDir or Load is called.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:     dir,
		overlay: filepath.Join(dir, OverlayName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// OverlayPath returns the edit overlay file path.
func (s *Store) OverlayPath() string { return s.overlay }

// IsSource reports whether a file name is a recognized data file. Hidden
// files are skipped so temp files never count.
func IsSource(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, SourceExt) && !strings.HasPrefix(base, ".")
}

// Sources lists the data files of the directory sorted by name, with the
// edit overlay always last so the most recent edit wins the merge.
func (s *Store) Sources() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &IOError{Op: "scan", Path: s.dir, Err: err}
	}
	var paths []string
	overlay := false
	for _, e := range entries {
		if e.IsDir() || !IsSource(e.Name()) {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		if s.isOverlay(p) {
			overlay = true
			continue
		}
		paths = append(paths, p)
	}
	slices.Sort(paths)
	if overlay {
		paths = append(paths, s.overlay)
	}
	return paths, nil
}

// LoadDir scans the data directory and loads every source.
func (s *Store) LoadDir() error {
	paths, err := s.Sources()
	if err != nil {
		return err
	}
	return s.Load(paths)
}

// Load parses every source, merges their top-level children into a fresh
// document and publishes it. A malformed source only loses its own
// contribution and is reported in the joined error, except during the
// initial load, where the first failure aborts and nothing is published.
func (s *Store) Load(paths []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	initial := s.doc == nil
	target := New()
	var errs []error
	for _, p := range paths {
		s.logger.Info("loading source", "path", p)
		root, err := ParseFile(p)
		s.observe(p, err)
		if err != nil {
			if initial {
				return err
			}
			s.logger.Error("skipping source", "path", p, "error", err)
			errs = append(errs, err)
			continue
		}
		s.mergeSource(target, p, root)
	}
	target.compact()
	s.swap(target)
	s.logger.Info("document loaded", "sources", len(paths), "nodes", target.Len())
	return errors.Join(errs...)
}

// Reload re-parses one source and merges its top-level children into the
// current document without rebuilding unrelated parts. The file is read
// under the write lock, so the last reload to run sees the newest content.
func (s *Store) Reload(path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.doc == nil {
		return ErrNotLoaded
	}

	root, err := ParseFile(path)
	s.observe(path, err)
	if err != nil {
		return err
	}
	next := s.doc.Clone()
	next.dropAnonymous(path)
	s.mergeSource(next, path, root)
	next.compact()
	s.swap(next)
	s.logger.Info("source reloaded", "path", path, "nodes", next.Len())
	return nil
}

// mergeSource merges the top-level nodes of one parsed source into d. The
// edit overlay merges attribute by attribute.
func (s *Store) mergeSource(d *Document, path string, root *Element) {
	tmp := FromElement(root)
	overlay := s.isOverlay(path)
	for _, el := range tmp.TopLevel() {
		if overlay {
			d.mergeEdit(el, path)
		} else {
			d.merge(el, path)
		}
	}
}

func (s *Store) isOverlay(path string) bool {
	return filepath.Clean(path) == filepath.Clean(s.overlay)
}

// swap publishes d as the store's document.
func (s *Store) swap(d *Document) {
	s.mu.Lock()
	s.doc = d
	s.mu.Unlock()
}

// observe reports a parse outcome to the observer, if any.
func (s *Store) observe(path string, err error) {
	if s.observer != nil {
		s.observer.SourceLoaded(path, err)
	}
}

// Get returns a copy of the node with the given identifier.
func (s *Store) Get(id string) (*Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, false
	}
	return s.doc.Get(id)
}

// Query scans the document, see Query.
func (s *Store) Query(q Query) QueryResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return QueryResult{Tag: q.Tag}
	}
	return s.doc.query(q)
}

// Snapshot returns a copy of the whole document tree.
func (s *Store) Snapshot() *Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return New().Root()
	}
	return s.doc.Root()
}

// Len returns the number of nodes in the current document.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return 0
	}
	return s.doc.Len()
}

// Edit writes one attribute of a live node, persists the node to the edit
// overlay and returns a copy of the updated node. Both steps run under the
// write lock, so the overlay always holds the last completed edit. When only
// the overlay write fails, the updated node is returned with the IOError.
// The identifier attribute cannot be changed.
func (s *Store) Edit(id, key, value string) (*Element, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return nil, ErrNotLoaded
	}
	el, err := s.doc.setAttr(id, key, value)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return el, s.saveEdit(id)
}

// SaveEdit persists the node with the given identifier to the edit overlay,
// wrapped in its rebuilt ancestor chain. The overlay is replaced as a whole:
// only the most recent edit survives a restart.
func (s *Store) SaveEdit(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.saveEdit(id)
}

// saveEdit builds the edit record from the current document and writes it.
// The caller holds writeMu.
func (s *Store) saveEdit(id string) error {
	s.mu.RLock()
	var (
		rec *Element
		err = ErrNotLoaded
	)
	if s.doc != nil {
		rec, err = s.doc.editRecord(id)
	}
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.writeOverlay(rec)
}

// ClearEdits empties the edit overlay.
func (s *Store) ClearEdits() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeOverlay(nil)
}

// writeOverlay replaces the overlay file with rec, or with an empty record
// set when rec is nil. The caller holds writeMu.
func (s *Store) writeOverlay(rec *Element) error {
	root := NewElement(TagData,
		"xmlns:xsi", overlaySchemaNS,
		"xsi:noNamespaceSchemaLocation", overlaySchemaLoc)
	if rec != nil {
		root.Append(rec)
	}

	if err := writeFileAtomic(s.overlay, root); err != nil {
		return err
	}
	s.logger.Info("edit overlay written", "path", s.overlay, "id", idOf(rec))
	return nil
}

// idOf returns the id of the node an overlay record edits.
func idOf(e *Element) string {
	for e != nil && len(e.Children) == 1 && isWrapper(e) {
		e = e.Children[0]
	}
	if e == nil {
		return ""
	}
	return e.ID()
}

// ExportWithForeignNodes temporarily appends copies of nodes to the live
// root, calls fn with a copy of the augmented tree and removes exactly the
// appended nodes again on every exit path, panics included. Calls are
// serialized with every other mutation and block readers while fn runs, so
// fn must not call back into the store.
func (s *Store) ExportWithForeignNodes(fn func(root *Element) error, nodes ...*Element) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrNotLoaded
	}
	return s.doc.withForeign(nodes, fn)
}
