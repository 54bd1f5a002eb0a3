// CLAUDE:SUMMARY YAML directory store for configuration documents (configuration, specific, pages families) with an in-memory index and fsnotify reload.
package configserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Family groups documents by file-name prefix.
type Family string

const (
	FamilyConfiguration Family = "configuration" // <id>.yaml
	FamilySpecific      Family = "specific"      // specific_<id>.yaml
	FamilyPages         Family = "pages"         // pages_<id>.yaml
)

func (f Family) prefix() string {
	switch f {
	case FamilySpecific:
		return "specific_"
	case FamilyPages:
		return "pages_"
	}
	return ""
}

// ErrNotFound is returned for unknown document ids.
var ErrNotFound = errors.New("configserver: document not found")

// InvalidIDError rejects ids that cannot name a file in the store.
type InvalidIDError struct {
	ID     string
	Reason string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("configserver: invalid id %q: %s", e.ID, e.Reason)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID checks that id is usable as a file name in family f. Plain
// configuration ids may not carry another family's prefix.
func ValidID(f Family, id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return &InvalidIDError{ID: id, Reason: "only letters, digits, '.', '-' and '_' are allowed"}
	}
	if f == FamilyConfiguration {
		for _, other := range []Family{FamilySpecific, FamilyPages} {
			if strings.HasPrefix(id, other.prefix()) {
				return &InvalidIDError{ID: id, Reason: "reserved prefix " + other.prefix()}
			}
		}
	}
	return nil
}

// Document is one stored configuration, kept in its decoded YAML form so
// that unknown fields survive a round trip.
type Document map[string]any

// ID returns the document's id field.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Datasource returns one of the datasource maps (hosts, urls, pages).
func (d Document) Datasource(key string) map[string]any {
	return asMap(asMap(d["datasource"])[key])
}

// asMap accepts both map shapes a document can hold: yaml.v3 decodes nested
// mappings under a Document as Document, JSON gives map[string]any.
func asMap(v any) map[string]any {
	switch m := v.(type) {
	case Document:
		return m
	case map[string]any:
		return m
	}
	return nil
}

type entry struct {
	family Family
	id     string
	file   string
	doc    Document
}

// Store is a directory of YAML documents with an in-memory index. It is
// safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	index map[Family]map[string]*entry
}

// OpenStore creates dir if needed and loads every document in it.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("configserver: create dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(f Family, id string) string {
	return filepath.Join(s.dir, f.prefix()+id+".yaml")
}

// classify maps a file name onto its family and id.
func classify(name string) (Family, string, bool) {
	if filepath.Ext(name) != ".yaml" {
		return "", "", false
	}
	base := strings.TrimSuffix(name, ".yaml")
	for _, f := range []Family{FamilySpecific, FamilyPages} {
		if id, ok := strings.CutPrefix(base, f.prefix()); ok && id != "" {
			return f, id, true
		}
	}
	if base == "" {
		return "", "", false
	}
	return FamilyConfiguration, base, true
}

// Reload rebuilds the index from disk. Unreadable or malformed files are
// logged and skipped.
func (s *Store) Reload() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("configserver: read dir: %w", err)
	}
	index := map[Family]map[string]*entry{
		FamilyConfiguration: {},
		FamilySpecific:      {},
		FamilyPages:         {},
	}
	for _, fi := range files {
		if fi.IsDir() {
			continue
		}
		f, id, ok := classify(fi.Name())
		if !ok {
			continue
		}
		file := filepath.Join(s.dir, fi.Name())
		doc, err := readDocument(file)
		if err != nil {
			s.logger.Warn("configserver: skip document", "file", fi.Name(), "error", err)
			continue
		}
		index[f][id] = &entry{family: f, id: id, file: fi.Name(), doc: doc}
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	s.logger.Debug("configserver: index loaded", "configuration", len(index[FamilyConfiguration]),
		"specific", len(index[FamilySpecific]), "pages", len(index[FamilyPages]))
	return nil
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Get returns one document.
func (s *Store) Get(f Family, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[f][id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.doc, nil
}

// List returns the documents of one family ordered by file name.
func (s *Store) List(f Family) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sorted(s.index[f])
}

// All returns every document of every family ordered by file name.
func (s *Store) All() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := make(map[string]*entry)
	for _, fam := range s.index {
		for _, e := range fam {
			merged[e.file] = e
		}
	}
	return sorted(merged)
}

func sorted(m map[string]*entry) []Document {
	entries := make([]*entry, 0, len(m))
	for _, e := range m {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].file < entries[j].file })
	out := make([]Document, len(entries))
	for i, e := range entries {
		out[i] = e.doc
	}
	return out
}

// Put writes doc as family f / id, replacing any existing file. The file is
// written to a temporary name and renamed into place.
func (s *Store) Put(f Family, id string, doc Document) (Document, error) {
	if err := ValidID(f, id); err != nil {
		return nil, err
	}
	doc["id"] = id
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("configserver: encode yaml: %w", err)
	}
	// Index the decoded form so reads match what a reload would produce.
	stored, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("configserver: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(f, id)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("configserver: write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("configserver: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("configserver: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("configserver: write %s: %w", filepath.Base(path), err)
	}
	if s.index[f] == nil {
		s.index[f] = make(map[string]*entry)
	}
	s.index[f][id] = &entry{family: f, id: id, file: filepath.Base(path), doc: stored}
	return stored, nil
}

// Delete removes a document. Unknown ids return ErrNotFound.
func (s *Store) Delete(f Family, id string) error {
	if err := ValidID(f, id); err != nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(f, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			delete(s.index[f], id)
			return ErrNotFound
		}
		return fmt.Errorf("configserver: delete: %w", err)
	}
	delete(s.index[f], id)
	return nil
}

// Watch reloads the index whenever a .yaml file in the directory changes.
// It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("configserver: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("configserver: watch %s: %w", s.dir, err)
	}
	s.logger.Info("configserver: watching", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".yaml" || ev.Op == fsnotify.Chmod {
				continue
			}
			s.logger.Debug("configserver: change", "file", filepath.Base(ev.Name), "op", ev.Op.String())
			if err := s.Reload(); err != nil {
				s.logger.Warn("configserver: reload failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("configserver: watcher error", "error", err)
		}
	}
}
