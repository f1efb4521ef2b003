package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ufohubx/keyserver/internal/model"
)

// File persists records as a single flat JSON document. Every mutation
// rewrites the whole file via write-temp-then-rename so a crash mid-write
// never leaves a truncated store behind. A single-writer mutex serializes
// writes within the process.
type File struct {
	mu      sync.Mutex
	path    string
	records map[string]*model.KeyRecord
}

// fileDocument is the on-disk shape. Records are sorted by key for stable
// diffs; no schema versioning is needed for a store this small.
type fileDocument struct {
	Keys []*model.KeyRecord `json:"keys"`
}

// NewFile opens (or creates) a file-backed store at path
func NewFile(path string) (*File, error) {
	f := &File{
		path:    path,
		records: make(map[string]*model.KeyRecord),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key store: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse key store: %w", err)
	}
	for _, rec := range doc.Keys {
		f.records[rec.Key] = rec
	}

	return f, nil
}

// Load returns all records
func (f *File) Load(ctx context.Context) ([]*model.KeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*model.KeyRecord, 0, len(f.records))
	for _, rec := range f.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// Put inserts or replaces a record and rewrites the file
func (f *File) Put(ctx context.Context, rec *model.KeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *rec
	f.records[rec.Key] = &cp
	return f.flush()
}

// Delete removes a record and rewrites the file
func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.records[key]; !ok {
		return nil
	}
	delete(f.records, key)
	return f.flush()
}

// flush writes the store atomically. Caller must hold f.mu.
func (f *File) flush() error {
	doc := fileDocument{Keys: make([]*model.KeyRecord, 0, len(f.records))}
	for _, rec := range f.records {
		doc.Keys = append(doc.Keys, rec)
	}
	sort.Slice(doc.Keys, func(i, j int) bool { return doc.Keys[i].Key < doc.Keys[j].Key })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode key store: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".keys-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write key store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync key store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close key store: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace key store: %w", err)
	}

	return nil
}
