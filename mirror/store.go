// Package mirror keeps a best-effort local copy of data sent to, or read from, the
// remote service: one pretty-printed JSON array per logical endpoint.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/logging"
)

const (
	component = "mirror"
	fileExt   = ".json"
)

// Store reads and writes endpoint files under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
	perm   fs.FileMode

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for write diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithFileMode sets the permission bits of endpoint files. Defaults to 0o644.
func WithFileMode(perm fs.FileMode) Option {
	return func(s *Store) {
		s.perm = perm
	}
}

// New creates a Store rooted at dir. The directory is created lazily on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		logger: logging.WithComponent(logging.Component(component)).Logger,
		perm:   0o644,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory holding endpoint files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing endpoint.
func (s *Store) Path(endpoint string) string {
	return filepath.Join(s.dir, endpoint+fileExt)
}

// Write merges items into the endpoint file. An item structurally equal to one
// already stored, or to an earlier item of the same call, is dropped. Calling Write
// with no items still materialises the endpoint as an empty array.
func (s *Store) Write(ctx context.Context, endpoint string, items ...any) error {
	if err := s.check(ctx, syncErrors.OpMirrorWrite, endpoint); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked(endpoint)
	if err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorWrite, component, err)
	}

	seen := make([]any, 0, len(existing)+len(items))
	for _, raw := range existing {
		v, err := decodeGeneric(raw)
		if err != nil {
			return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorWrite, component,
				fmt.Errorf("decode stored item of %s: %w", endpoint, err))
		}
		seen = append(seen, v)
	}

	merged := existing
	added := 0
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpMirrorWrite, fmt.Errorf("marshal item for %s: %w", endpoint, err))
		}
		v, err := decodeGeneric(raw)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpMirrorWrite, err)
		}
		if containsEqual(seen, v) {
			continue
		}
		seen = append(seen, v)
		merged = append(merged, raw)
		added++
	}

	if err := s.writeLocked(endpoint, merged); err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorWrite, component, err)
	}

	s.logger.Debug("Data saved locally",
		"endpoint", endpoint,
		"file", s.Path(endpoint),
		"added", added,
		"dropped_duplicates", len(items)-added,
		"total", len(merged))
	return nil
}

// Replace overwrites the endpoint with items, discarding what was stored before.
func (s *Store) Replace(ctx context.Context, endpoint string, items ...any) error {
	if err := s.check(ctx, syncErrors.OpMirrorWrite, endpoint); err != nil {
		return err
	}

	raws := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return syncErrors.NewValidationError(syncErrors.OpMirrorWrite, fmt.Errorf("marshal item for %s: %w", endpoint, err))
		}
		raws = append(raws, raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLocked(endpoint, raws); err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorWrite, component, err)
	}
	s.logger.Debug("Endpoint replaced", "endpoint", endpoint, "total", len(raws))
	return nil
}

// Read returns the raw items stored for endpoint, or an empty slice if none exist.
func (s *Store) Read(ctx context.Context, endpoint string) ([]json.RawMessage, error) {
	if err := s.check(ctx, syncErrors.OpMirrorRead, endpoint); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readLocked(endpoint)
	if err != nil {
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorRead, component, err)
	}
	return items, nil
}

// ReadInto decodes the endpoint's items into dst, which must point to a slice.
// A missing endpoint leaves dst as an empty slice.
func (s *Store) ReadInto(ctx context.Context, endpoint string, dst any) error {
	items, err := s.Read(ctx, endpoint)
	if err != nil {
		return err
	}
	b, err := json.Marshal(items)
	if err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorRead, component, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorRead, component,
			fmt.Errorf("decode %s: %w", endpoint, err))
	}
	return nil
}

// Remove deletes the endpoint file. Removing a missing endpoint is not an error.
func (s *Store) Remove(ctx context.Context, endpoint string) error {
	if err := s.check(ctx, syncErrors.OpMirrorWrite, endpoint); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(endpoint)); err != nil && !os.IsNotExist(err) {
		return syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorWrite, component, err)
	}
	return nil
}

// Endpoints lists the endpoints present on disk, sorted by name.
func (s *Store) Endpoints(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, syncErrors.NewLocalPersistenceError(syncErrors.OpMirrorRead, component, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) check(ctx context.Context, op syncErrors.Operation, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateEndpoint(endpoint); err != nil {
		return syncErrors.NewValidationError(op, err)
	}
	return nil
}

// ValidateEndpoint rejects names that could escape the mirror directory.
func ValidateEndpoint(endpoint string) error {
	switch {
	case strings.TrimSpace(endpoint) == "":
		return fmt.Errorf("endpoint name is empty")
	case strings.ContainsAny(endpoint, `/\`):
		return fmt.Errorf("endpoint %q contains a path separator", endpoint)
	case endpoint == "." || endpoint == ".." || strings.HasPrefix(endpoint, "."):
		return fmt.Errorf("endpoint %q is not a plain name", endpoint)
	}
	return nil
}

func (s *Store) readLocked(endpoint string) ([]json.RawMessage, error) {
	b, err := os.ReadFile(s.Path(endpoint))
	if err != nil {
		if os.IsNotExist(err) {
			return []json.RawMessage{}, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []json.RawMessage{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path(endpoint), err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

// writeLocked replaces the endpoint file through a temp file and rename so a failed
// write never truncates the previous content.
func (s *Store) writeLocked(endpoint string, items []json.RawMessage) error {
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+endpoint+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, s.perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.Path(endpoint)); err != nil {
		cleanup()
		return err
	}
	return nil
}

// decodeGeneric turns raw JSON into maps, slices and json.Number values so that two
// documents differing only in key order or spacing compare equal.
func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func containsEqual(values []any, v any) bool {
	for _, existing := range values {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}
