// Package registrystore provides durable backends for registry.Registry:
// a file-based store (write-temp-then-rename, flock-guarded) for single-node
// deployments with DATA_DIR set, and a sqlite-backed store for deployments
// that point at a database file or URL. Both satisfy the same interface so
// the gateway can be started against either without code changes.
package registrystore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/agent-door/agentdoor/internal/domain/registry"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

// fileRecord is the on-disk representation of a single registration.
type fileRecord struct {
	Registration tenant.SiteRegistration `json:"registration"`
	SpecJSON     json.RawMessage         `json:"specJson"`
	Seq          int64                   `json:"seq"`
}

// fileDoc is the top-level structure persisted to registrations.json.
type fileDoc struct {
	Version   string                 `json:"version"`
	NextSeq   int64                  `json:"nextSeq"`
	Records   map[string]fileRecord  `json:"records"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// FileStore is a crash-atomic, single-file Registry backend. Every mutation
// reads the current file and applies the change under an in-process mutex,
// then writes via write-temp-then-rename while holding an exclusive flock
// on a companion .lock file; the read itself is not covered by the flock.
// Corruption on disk degrades to an empty registry rather than failing
// startup.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

var _ registry.Registry = (*FileStore)(nil)

// NewFileStore creates a FileStore persisting to path (typically
// filepath.Join(DATA_DIR, "registrations.json")).
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) load() *fileDoc {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("registrystore: failed to read registrations file, starting empty", "path", s.path, "error", err)
		}
		return &fileDoc{Version: "1", Records: map[string]fileRecord{}}
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("registrystore: registrations file corrupt, starting empty", "path", s.path, "error", err)
		return &fileDoc{Version: "1", Records: map[string]fileRecord{}}
	}
	if doc.Records == nil {
		doc.Records = map[string]fileRecord{}
	}
	return &doc
}

func (s *FileStore) save(doc *fileDoc) error {
	doc.UpdatedAt = time.Now().UTC()

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("registrystore: open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("registrystore: acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registrystore: marshal: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("registrystore: create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("registrystore: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("registrystore: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("registrystore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("registrystore: rename temp file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(s.path, 0600); err != nil {
			s.logger.Warn("registrystore: failed to set permissions", "error", err)
		}
	}
	return nil
}

// Register inserts or replaces the registration for reg.Slug.
func (s *FileStore) Register(ctx context.Context, reg tenant.SiteRegistration, specJSON json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	seq := doc.NextSeq
	doc.NextSeq++
	doc.Records[reg.Slug] = fileRecord{Registration: reg, SpecJSON: specJSON, Seq: seq}
	return s.save(doc)
}

// Get returns the registration for slug.
func (s *FileStore) Get(ctx context.Context, slug string) (tenant.SiteRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	rec, ok := doc.Records[slug]
	if !ok {
		return tenant.SiteRegistration{}, registry.ErrNotFound
	}
	return rec.Registration, nil
}

// List returns all registrations ordered by CreatedAt ascending, ties
// broken by insertion order.
func (s *FileStore) List(ctx context.Context) ([]tenant.SiteRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	recs := sortedRecords(doc)
	out := make([]tenant.SiteRegistration, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Registration)
	}
	return out, nil
}

// ListWithSpecs returns all registrations plus their spec payload, in the
// same order as List.
func (s *FileStore) ListWithSpecs(ctx context.Context) ([]tenant.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	recs := sortedRecords(doc)
	out := make([]tenant.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, tenant.Record{Registration: r.Registration, SpecJSON: r.SpecJSON})
	}
	return out, nil
}

// Delete removes slug's registration.
func (s *FileStore) Delete(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if _, ok := doc.Records[slug]; !ok {
		return false, nil
	}
	delete(doc.Records, slug)
	if err := s.save(doc); err != nil {
		return false, err
	}
	return true, nil
}

// Close is a no-op: FileStore holds no long-lived handles between calls.
func (s *FileStore) Close() error { return nil }

// sortedRecords orders by CreatedAt ascending, breaking ties by insertion
// sequence.
func sortedRecords(doc *fileDoc) []fileRecord {
	recs := make([]fileRecord, 0, len(doc.Records))
	for _, r := range doc.Records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		ci, cj := recs[i].Registration.CreatedAt, recs[j].Registration.CreatedAt
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return recs[i].Seq < recs[j].Seq
	})
	return recs
}
