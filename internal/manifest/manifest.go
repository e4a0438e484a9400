package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/segdb/blobstore"
	"github.com/hupe1980/segdb/model"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Manifest describes the state of the database at a specific point in time.
type Manifest struct {
	Version       int
	ID            uint64
	CreatedAt     time.Time
	NextSegmentID model.SegmentID
	// NextOrdinal is the commit ordinal handed to the next new segment.
	NextOrdinal uint64
	Segments    []SegmentInfo
}

// New creates a new empty manifest.
func New() *Manifest {
	return &Manifest{
		Version:       CurrentVersion,
		CreatedAt:     time.Now(),
		NextSegmentID: 1,
		NextOrdinal:   1,
	}
}

// SegmentInfo describes a single logical segment.
type SegmentInfo struct {
	ID model.SegmentID
	// Ordinal is the commit order. A higher ordinal shadows lower ones.
	Ordinal uint64
	// Version is the physical version currently holding the segment.
	Version     uint32
	Path        string // Relative to the store root
	Compression string
	Tables      []TableInfo
}

// TableInfo summarizes one table of a segment.
type TableInfo struct {
	Name    string
	Rows    uint32
	Deleted uint32
	Keys    *BloomFilter
}

// Table returns the summary of the named table.
func (s *SegmentInfo) Table(name string) (*TableInfo, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// Clone returns a copy whose segment list can be modified independently.
// Bloom filters are immutable once committed and are shared.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Segments = make([]SegmentInfo, len(m.Segments))
	for i, s := range m.Segments {
		s.Tables = slices.Clone(s.Tables)
		c.Segments[i] = s
	}
	return &c
}

// Segment returns the position and info of segment id.
func (m *Manifest) Segment(id model.SegmentID) (int, *SegmentInfo, bool) {
	for i := range m.Segments {
		if m.Segments[i].ID == id {
			return i, &m.Segments[i], true
		}
	}
	return -1, nil, false
}

// Remove drops the given segments from the manifest.
func (m *Manifest) Remove(ids ...model.SegmentID) {
	m.Segments = slices.DeleteFunc(m.Segments, func(s SegmentInfo) bool {
		return slices.Contains(ids, s.ID)
	})
}

// ByOrdinal returns the segments sorted oldest first.
func (m *Manifest) ByOrdinal() []SegmentInfo {
	out := slices.Clone(m.Segments)
	slices.SortFunc(out, func(a, b SegmentInfo) int {
		switch {
		case a.Ordinal < b.Ordinal:
			return -1
		case a.Ordinal > b.Ordinal:
			return 1
		}
		return 0
	})
	return out
}

// Store manages the manifest file and atomic updates.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

func fileName(versionID uint64) string {
	return fmt.Sprintf("%s-%06d.bin", ManifestFileName, versionID)
}

// Load loads the current manifest.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	return s.LoadVersion(ctx, 0)
}

// LoadVersion loads a specific version ID. 0 means latest.
func (s *Store) LoadVersion(ctx context.Context, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fileName(versionID)
	if versionID == 0 {
		current, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(current))
	}

	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}

	return ReadBinary(bytes.NewReader(data))
}

// ListVersions returns all readable manifest versions, oldest first.
// Corrupted or unreadable manifests are skipped.
func (s *Store) ListVersions(ctx context.Context) ([]*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.store.List(ctx, ManifestFileName+"-")
	if err != nil {
		return nil, err
	}

	var manifests []*Manifest
	for _, f := range files {
		if !strings.HasSuffix(f, ".bin") {
			continue
		}
		data, err := blobstore.ReadAll(ctx, s.store, f)
		if err != nil {
			continue
		}
		m, err := ReadBinary(bytes.NewReader(data))
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Save atomically saves a new manifest version and points CURRENT at it.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	name := fileName(m.ID)

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return err
	}
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		return err
	}
	return s.store.Put(ctx, CurrentFileName, []byte(name))
}

// DeleteVersion deletes the manifest file for the given version.
func (s *Store) DeleteVersion(ctx context.Context, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Delete(ctx, fileName(versionID))
}
