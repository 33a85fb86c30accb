// Package storage defines the provider-transport interface shared by every
// BlockStorageWorker backend (§4.4, §9 "Storage providers") and the
// in-memory staging filesystem namespace scoped per TestId (§4.8).
package storage

import (
	"context"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/model"
)

// Object is one (key, bytes) pair read from or written to a bucket.
type Object struct {
	Key  string
	Data []byte
}

// Transport is the thin, provider-specific half of a BlockStorageWorker
// backend. The validation pipeline in front of it (§4.4) is shared across
// every provider; only FetchObjects/PutObjects differ per cloud.
type Transport interface {
	// FetchObjects streams every object under bucket/prefix.
	FetchObjects(ctx context.Context, bucket, prefix string) (<-chan Object, <-chan error)
	// PutObjects uploads files (relative path -> contents) under bucket/prefix.
	PutObjects(ctx context.Context, bucket, prefix string, files map[string][]byte) error
}

// Namespace is the in-memory staging area for one testId (§4.8). It is safe
// for concurrent access by that test's executor and its children only; no
// cross-test sharing (§5).
type Namespace struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func newNamespace() *Namespace {
	return &Namespace{files: make(map[string][]byte)}
}

func (n *Namespace) Write(path string, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files[normalize(path)] = data
}

func (n *Namespace) Read(path string) ([]byte, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	data, ok := n.files[normalize(path)]
	return data, ok
}

// List returns every path stored under prefix, sorted, with prefix kept.
func (n *Namespace) List(prefix string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	prefix = normalize(prefix)
	var out []string
	for k := range n.files {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a defensive copy of every file under prefix.
func (n *Namespace) Snapshot(prefix string) map[string][]byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	prefix = normalize(prefix)
	out := make(map[string][]byte)
	for k, v := range n.files {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[strings.TrimPrefix(k, prefix)] = cp
		}
	}
	return out
}

// Empty reports whether the namespace holds no files — used by the §8
// property 9 staging-area-release check.
func (n *Namespace) Empty() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.files) == 0
}

func normalize(p string) string {
	return strings.TrimPrefix(strings.TrimPrefix(p, "./"), "/")
}

// fsFile adapts a byte slice to fs.File for Namespace.Open.
type fsFile struct {
	data   []byte
	offset int
	name   string
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return fileInfo{name: f.name, size: int64(len(f.data))}, nil }
func (f *fsFile) Read(p []byte) (int, error) {
	if f.offset >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.offset:])
	f.offset += n
	return n, nil
}
func (f *fsFile) Close() error { return nil }

type fileInfo struct {
	name string
	size int64
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }

// Open implements fs.FS so a Namespace can be handed to anything expecting a
// read-only filesystem (e.g. a Cucumber runner reading feature files).
func (n *Namespace) Open(name string) (fs.File, error) {
	data, ok := n.Read(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &fsFile{data: data, name: name}, nil
}

// dirEntry is the one immediate path segment under a ReadDir prefix.
type dirEntry struct {
	name  string
	isDir bool
	size  int64
}

func (e dirEntry) Name() string { return e.name }
func (e dirEntry) IsDir() bool  { return e.isDir }
func (e dirEntry) Type() fs.FileMode {
	if e.isDir {
		return fs.ModeDir
	}
	return 0
}
func (e dirEntry) Info() (fs.FileInfo, error) {
	return fileInfo{name: e.name, size: e.size}, nil
}

// ReadDir implements fs.ReadDirFS over the flat key/value store, grouping
// keys by their next path segment under name (e.g. "features" -> the set of
// files directly under "features/"). This lets fs.Glob and fs.ReadDir list
// a Namespace as a directory tree despite the flat underlying map. Open
// serves files only, so fs.Stat and fs.WalkDir report a directory name as
// not existing.
func (n *Namespace) ReadDir(name string) ([]fs.DirEntry, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	prefix := normalize(name)
	if prefix != "" {
		prefix += "/"
	}

	seen := make(map[string]bool)
	var entries []dirEntry
	for k, v := range n.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			continue
		}
		parts := strings.SplitN(rest, "/", 2)
		child := parts[0]
		if seen[child] {
			continue
		}
		seen[child] = true
		isDir := len(parts) > 1
		size := int64(0)
		if !isDir {
			size = int64(len(v))
		}
		entries = append(entries, dirEntry{name: child, isDir: isDir, size: size})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	out := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out, nil
}

// Staging is the registry of per-testId Namespaces (§4.8).
type Staging struct {
	mu         sync.Mutex
	namespaces map[model.TestID]*Namespace
}

func NewStaging() *Staging {
	return &Staging{namespaces: make(map[model.TestID]*Namespace)}
}

// Acquire returns (creating if necessary) the Namespace for id.
func (s *Staging) Acquire(id model.TestID) *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[id]
	if !ok {
		ns = newNamespace()
		s.namespaces[id] = ns
	}
	return ns
}

// Release unconditionally deletes id's namespace, guaranteeing its staging
// tree is gone on both the success and failure path of every operation
// (§4.4 cleanup guarantee, §8 property 9).
func (s *Staging) Release(id model.TestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, id)
}

// Exists reports whether id currently has a namespace (used by tests to
// assert release happened).
func (s *Staging) Exists(id model.TestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.namespaces[id]
	return ok
}

// ErrNotExist mirrors fs.ErrNotExist for callers that don't want to import
// io/fs directly.
var ErrNotExist = fs.ErrNotExist
