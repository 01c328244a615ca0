package uasset

import (
	"fmt"

	"github.com/asset-forge/pakex/pkg/common"
)

// AssetMagic marks the head of every serialized asset file.
const AssetMagic uint32 = 0x9E2A83C1

// Package flag: property data is stored schema-resolved (unversioned)
// rather than tagged.
const flagUnversionedProperties uint32 = 0x2000

// summary is the asset file's fixed header: version info plus the
// location of the name, import and export tables.
type summary struct {
	fileVersion  uint32
	headerSize   uint32
	packageFlags uint32

	nameCount    uint32
	nameOffset   uint32
	importCount  uint32
	importOffset uint32
	exportCount  uint32
	exportOffset uint32
	dependsOffset uint32
}

func (s *summary) unversioned() bool {
	return s.packageFlags&flagUnversionedProperties != 0
}

func readSummary(r *common.ByteReader) (*summary, error) {
	if magic := r.U32(); magic != AssetMagic {
		return nil, fmt.Errorf("%w: asset magic 0x%08X", common.ErrSchemaMismatch, magic)
	}
	s := &summary{
		fileVersion:  r.U32(),
		headerSize:   r.U32(),
		packageFlags: r.U32(),

		nameCount:    r.U32(),
		nameOffset:   r.U32(),
		importCount:  r.U32(),
		importOffset: r.U32(),
		exportCount:  r.U32(),
		exportOffset: r.U32(),
		dependsOffset: r.U32(),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// Import is one external object identity referenced by this file.
type Import struct {
	ClassPackage string
	ClassName    string
	OuterIndex   int32
	ObjectName   string
}

// Export is one object defined within this file, including the byte
// range of its serialized property blob.
type Export struct {
	ClassIndex   int32
	OuterIndex   int32
	ObjectName   string
	ObjectFlags  uint32
	SerialSize   int64
	SerialOffset int64
}

func readImports(r *common.ByteReader, nt *nameTable, s *summary) ([]Import, error) {
	r.Seek(int(s.importOffset))
	imports := make([]Import, 0, s.importCount)
	for i := uint32(0); i < s.importCount; i++ {
		var imp Import
		var err error
		if imp.ClassPackage, err = nt.readName(r); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		if imp.ClassName, err = nt.readName(r); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		imp.OuterIndex = r.I32()
		if imp.ObjectName, err = nt.readName(r); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		imports = append(imports, imp)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return imports, nil
}

func readExports(r *common.ByteReader, nt *nameTable, s *summary) ([]Export, error) {
	r.Seek(int(s.exportOffset))
	exports := make([]Export, 0, s.exportCount)
	for i := uint32(0); i < s.exportCount; i++ {
		var exp Export
		var err error
		exp.ClassIndex = r.I32()
		exp.OuterIndex = r.I32()
		if exp.ObjectName, err = nt.readName(r); err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		exp.ObjectFlags = r.U32()
		exp.SerialSize = r.I64()
		exp.SerialOffset = r.I64()
		if exp.SerialSize < 0 || exp.SerialOffset < 0 {
			return nil, fmt.Errorf("%w: export %d has negative serial range", common.ErrSchemaMismatch, i)
		}
		exports = append(exports, exp)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return exports, nil
}

// className resolves an export's class reference to a class name using
// the local tables. Falls back to "Unknown" for out-of-range indices so
// a single damaged export does not abort table parsing.
func className(classIndex int32, imports []Import, exports []Export) string {
	switch {
	case classIndex == 0:
		return "None"
	case classIndex > 0:
		if int(classIndex) <= len(exports) {
			return exports[classIndex-1].ObjectName
		}
	default:
		if int(-classIndex) <= len(imports) {
			return imports[-classIndex-1].ObjectName
		}
	}
	return "Unknown"
}
