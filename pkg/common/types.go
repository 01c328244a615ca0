package common

import (
	"strings"

	"github.com/tidwall/btree"
)

// CompressionBlock is one independently decoded span of an entry's
// payload. Start and End are absolute archive offsets.
type CompressionBlock struct {
	Start uint64
	End   uint64
}

func (b CompressionBlock) CompressedSize() uint64 {
	return b.End - b.Start
}

// ArchiveEntry is one named sub-file's metadata record from the index.
type ArchiveEntry struct {
	Path             string
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	Method           CompressionMethod
	Hash             [HashLength]byte
	Blocks           []CompressionBlock
	Encrypted        bool
	BlockSize        uint32
}

// IsCompressed returns true if the entry's payload needs a codec pass.
func (e *ArchiveEntry) IsCompressed() bool {
	return e.Method != MethodStored
}

// NormalizePath maps an archive path to its canonical index key:
// forward slashes, no leading slash.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "/")
}

// ArchiveIndex is the archive's directory: an ordered set of entries
// keyed by normalized path. Built once when the archive is opened and
// read-only afterwards, so it is safe to share across goroutines.
type ArchiveIndex struct {
	MountPoint string
	Version    uint32
	tree       *btree.BTreeG[*ArchiveEntry]
}

func NewArchiveIndex(mountPoint string, version uint32) *ArchiveIndex {
	return &ArchiveIndex{
		MountPoint: mountPoint,
		Version:    version,
		tree: btree.NewBTreeG(func(a, b *ArchiveEntry) bool {
			return a.Path < b.Path
		}),
	}
}

func (idx *ArchiveIndex) Insert(entry *ArchiveEntry) {
	entry.Path = NormalizePath(entry.Path)
	idx.tree.Set(entry)
}

func (idx *ArchiveIndex) Get(path string) (*ArchiveEntry, bool) {
	return idx.tree.Get(&ArchiveEntry{Path: NormalizePath(path)})
}

func (idx *ArchiveIndex) Len() int {
	return idx.tree.Len()
}

// Walk visits every entry in path order. Returning false stops the walk.
func (idx *ArchiveIndex) Walk(fn func(*ArchiveEntry) bool) {
	idx.tree.Scan(fn)
}

// Paths returns every entry path in index order.
func (idx *ArchiveIndex) Paths() []string {
	paths := make([]string, 0, idx.tree.Len())
	idx.tree.Scan(func(e *ArchiveEntry) bool {
		paths = append(paths, e.Path)
		return true
	})
	return paths
}
