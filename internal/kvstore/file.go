package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is the default KVStore backend: one JSON document per
// namespace, written through a temp-file-write -> os.Rename -> fsync(dir)
// path, debounced after the last mutation to the namespace. This is the
// same shape as the teacher's config-file loader, run in reverse for
// writes, matching the persistence design in spec §4.2/§4.4/§4.7.
type FileStore struct {
	baseDir string
	debounce time.Duration

	mu    sync.Mutex
	docs  map[string]map[string][]byte // namespace -> key -> value
	timers map[string]*time.Timer
	dirty  map[string]bool
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if
// necessary. debounce is the minimum quiet period before a mutated
// namespace is flushed to disk in the background.
func NewFileStore(baseDir string, debounce time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: could not create base dir: %w", err)
	}
	return &FileStore{
		baseDir:  baseDir,
		debounce: debounce,
		docs:     make(map[string]map[string][]byte),
		timers:   make(map[string]*time.Timer),
		dirty:    make(map[string]bool),
	}, nil
}

func (fs *FileStore) path(namespace string) string {
	return filepath.Join(fs.baseDir, namespace+".json")
}

// load lazily reads namespace's file into memory the first time it is
// touched. Corruption is non-fatal: the bad file is set aside with a
// .corrupt.<ts> suffix and the namespace starts empty, per §4.2.
//
// The on-disk document is a plain JSON object mapping each key to its
// value's native JSON shape (a domain to its preference object, a URL
// to its tracked entry, "events" to the usage array) so the file matches
// the persistence contract in spec §6 and is readable by anything that
// just parses JSON, not only this package.
func (fs *FileStore) load(namespace string) map[string][]byte {
	if doc, ok := fs.docs[namespace]; ok {
		return doc
	}
	doc := make(map[string][]byte)
	p := fs.path(namespace)
	raw, err := os.ReadFile(p)
	if err == nil {
		var fields map[string]json.RawMessage
		if jerr := json.Unmarshal(raw, &fields); jerr != nil {
			corruptPath := fmt.Sprintf("%s.corrupt.%d", p, time.Now().UnixNano()/int64(time.Millisecond))
			_ = os.Rename(p, corruptPath)
		} else {
			for k, v := range fields {
				doc[k] = []byte(v)
			}
		}
	}
	fs.docs[namespace] = doc
	return doc
}

func (fs *FileStore) Get(namespace, key string) ([]byte, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	doc := fs.load(namespace)
	v, ok := doc[key]
	return v, ok, nil
}

func (fs *FileStore) Set(namespace, key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	doc := fs.load(namespace)
	doc[key] = value
	fs.markDirtyLocked(namespace)
	return nil
}

func (fs *FileStore) Delete(namespace, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	doc := fs.load(namespace)
	delete(doc, key)
	fs.markDirtyLocked(namespace)
	return nil
}

func (fs *FileStore) ListKeys(namespace string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	doc := fs.load(namespace)
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	return keys, nil
}

// fileTx is the KVTx implementation handed to Transaction callbacks; it
// operates directly on the namespace's in-memory doc under the FileStore's
// lock, so it never observes a torn entry.
type fileTx struct {
	fs        *FileStore
	namespace string
}

func (tx fileTx) Get(key string) ([]byte, bool, error) {
	doc := tx.fs.load(tx.namespace)
	v, ok := doc[key]
	return v, ok, nil
}

func (tx fileTx) Set(key string, value []byte) error {
	doc := tx.fs.load(tx.namespace)
	doc[key] = value
	return nil
}

func (tx fileTx) Delete(key string) error {
	doc := tx.fs.load(tx.namespace)
	delete(doc, key)
	return nil
}

func (fs *FileStore) Transaction(namespace string, fn func(tx KVTx) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	doc := fs.load(namespace)
	backup := make(map[string][]byte, len(doc))
	for k, v := range doc {
		backup[k] = v
	}
	if err := fn(fileTx{fs: fs, namespace: namespace}); err != nil {
		fs.docs[namespace] = backup
		return err
	}
	fs.markDirtyLocked(namespace)
	return nil
}

// markDirtyLocked schedules a debounced flush of namespace. Callers must
// hold fs.mu.
func (fs *FileStore) markDirtyLocked(namespace string) {
	fs.dirty[namespace] = true
	if t, ok := fs.timers[namespace]; ok {
		t.Stop()
	}
	ns := namespace
	fs.timers[namespace] = time.AfterFunc(fs.debounce, func() {
		_ = fs.flushNamespace(ns)
	})
}

// Flush drains every pending debounced write across all namespaces and
// blocks until the serialized bytes reach durable storage.
func (fs *FileStore) Flush() error {
	fs.mu.Lock()
	namespaces := make([]string, 0, len(fs.dirty))
	for ns, dirty := range fs.dirty {
		if dirty {
			namespaces = append(namespaces, ns)
		}
	}
	fs.mu.Unlock()

	var firstErr error
	for _, ns := range namespaces {
		if err := fs.flushNamespace(ns); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (fs *FileStore) flushNamespace(namespace string) error {
	fs.mu.Lock()
	if !fs.dirty[namespace] {
		fs.mu.Unlock()
		return nil
	}
	doc := fs.docs[namespace]
	fields := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		fields[k] = json.RawMessage(v)
	}
	fs.dirty[namespace] = false
	fs.mu.Unlock()

	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	p := fs.path(namespace)
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(p))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
