package hashing

import (
	"encoding/json"
	"os"
	"time"

	"github.com/parasync/parasync/internal/scerr"
)

// ManifestEntry is one recorded (path, size, digest) triple.
type ManifestEntry struct {
	RelativePath string    `json:"relative_path"`
	Size         int64     `json:"size"`
	Digest       string    `json:"digest"`
	Algorithm    Algorithm `json:"algorithm"`
	ModTime      time.Time `json:"mod_time"`
}

// Manifest is a persisted, ordered record of file digests under one root.
// Serialized as self-describing JSON so a manifest file is inspectable
// without this package.
type Manifest struct {
	Algorithm Algorithm       `json:"algorithm"`
	CreatedAt time.Time       `json:"created_at"`
	Root      string          `json:"root"`
	Entries   []ManifestEntry `json:"entries"`

	index map[string]int `json:"-"`
}

// NewManifest creates an empty manifest for root, hashed with algo.
func NewManifest(algo Algorithm, root string) *Manifest {
	return &Manifest{
		Algorithm: algo,
		CreatedAt: time.Now(),
		Root:      root,
		index:     make(map[string]int),
	}
}

// AddEntry appends e, keeping the lookup index in sync.
func (m *Manifest) AddEntry(e ManifestEntry) {
	if m.index == nil {
		m.index = make(map[string]int, len(m.Entries))
	}
	m.index[e.RelativePath] = len(m.Entries)
	m.Entries = append(m.Entries, e)
}

// FindEntry looks up an entry by relative path.
func (m *Manifest) FindEntry(relPath string) (ManifestEntry, bool) {
	if m.index == nil {
		for _, e := range m.Entries {
			if e.RelativePath == relPath {
				return e, true
			}
		}
		return ManifestEntry{}, false
	}
	i, ok := m.index[relPath]
	if !ok {
		return ManifestEntry{}, false
	}
	return m.Entries[i], true
}

// Save writes the manifest to path as indented JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return scerr.New(scerr.KindManifest, path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return scerr.New(scerr.KindManifest, path, err)
	}
	return nil
}

// LoadManifest reads and validates a manifest file written by Save.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scerr.New(scerr.KindManifest, path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, scerr.New(scerr.KindManifest, path, err)
	}
	if m.Algorithm == "" {
		return nil, scerr.New(scerr.KindManifest, path, errManifestMissingAlgorithm)
	}
	m.index = make(map[string]int, len(m.Entries))
	for i, e := range m.Entries {
		m.index[e.RelativePath] = i
	}
	return &m, nil
}

var errManifestMissingAlgorithm = manifestError("manifest missing algorithm field")

type manifestError string

func (e manifestError) Error() string { return string(e) }
