// Package uasset decodes serialized asset files into a generic value
// tree: name/import/export table parsing, tagged and schema-resolved
// property decoding, and object reference resolution against the local
// tables.
package uasset

import (
	"fmt"
	"time"

	log "github.com/rs/zerolog/log"

	"github.com/asset-forge/pakex/pkg/common"
	"github.com/asset-forge/pakex/pkg/usmap"
)

// dataTableClass is the class name that marks a table export.
const dataTableClass = "DataTable"

// DecodedAsset is the decode result handed to callers: the source
// entry, when it was decoded, and the value tree.
type DecodedAsset struct {
	SourcePath string    `json:"sourceEntryPath"`
	DecodedAt  time.Time `json:"decodeTimestamp"`
	Data       AssetData `json:"data"`
}

// AssetData is either a table (ordered named rows) or a single decoded
// object plus any sibling exports.
type AssetData struct {
	Kind      string `json:"kind"` // "Table" or "Object"
	ClassName string `json:"className,omitempty"`

	// Table
	RowStruct string     `json:"rowStruct,omitempty"`
	Rows      []TableRow `json:"rows,omitempty"`

	// Object
	Properties        []Field        `json:"properties,omitempty"`
	AdditionalExports []ExportObject `json:"additionalExports,omitempty"`
}

// TableRow is one named row of a table export, in on-disk order.
type TableRow struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// ExportObject is a decoded non-principal export.
type ExportObject struct {
	Name       string  `json:"name"`
	ClassName  string  `json:"className"`
	Properties []Field `json:"properties"`
}

// Asset is a parsed asset file: the shared context needed to decode
// its exports. The schema store is injected, never global, so several
// schemas and archives can coexist in one process.
type Asset struct {
	data    []byte
	summary *summary
	names   *nameTable
	imports []Import
	exports []Export
	schema  *usmap.Schema
}

// Parse reads the asset's summary and tables. data must hold the
// header file followed by its export-data file when one exists.
func Parse(data []byte, schema *usmap.Schema) (*Asset, error) {
	r := common.NewByteReader(data)

	s, err := readSummary(r)
	if err != nil {
		return nil, err
	}

	names, err := readNameTable(r, s.nameCount, s.nameOffset)
	if err != nil {
		return nil, fmt.Errorf("name table: %w", err)
	}
	imports, err := readImports(r, names, s)
	if err != nil {
		return nil, fmt.Errorf("import table: %w", err)
	}
	exports, err := readExports(r, names, s)
	if err != nil {
		return nil, fmt.Errorf("export table: %w", err)
	}

	return &Asset{
		data:    data,
		summary: s,
		names:   names,
		imports: imports,
		exports: exports,
		schema:  schema,
	}, nil
}

// Imports returns the parsed import table. Read-only.
func (a *Asset) Imports() []Import { return a.imports }

// Exports returns the parsed export table. Read-only.
func (a *Asset) Exports() []Export { return a.exports }

// Unversioned reports whether property data is schema-resolved.
func (a *Asset) Unversioned() bool { return a.summary.unversioned() }

// Decode produces the generic value tree for the whole asset. A table
// export anywhere in the file wins over plain objects; otherwise all
// exports decode as objects with the first acting as the principal.
func Decode(sourcePath string, data []byte, schema *usmap.Schema) (*DecodedAsset, error) {
	asset, err := Parse(data, schema)
	if err != nil {
		return nil, err
	}

	out := &DecodedAsset{
		SourcePath: sourcePath,
		DecodedAt:  time.Now().UTC(),
	}

	if i, ok := asset.findTableExport(); ok {
		out.Data, err = asset.decodeTable(i)
	} else {
		out.Data, err = asset.decodeObjects()
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", sourcePath, err)
	}

	log.Debug().Msgf("decoded %s: kind=%s rows=%d props=%d",
		sourcePath, out.Data.Kind, len(out.Data.Rows), len(out.Data.Properties))
	return out, nil
}

func (a *Asset) findTableExport() (int, bool) {
	for i, exp := range a.exports {
		if className(exp.ClassIndex, a.imports, a.exports) == dataTableClass {
			return i, true
		}
	}
	return 0, false
}

// exportDecoder builds a decoder scoped to one export's property blob,
// so a decode can never consume bytes beyond the export's declared
// range.
func (a *Asset) exportDecoder(i int) (*decoder, error) {
	exp := a.exports[i]
	start, end := exp.SerialOffset, exp.SerialOffset+exp.SerialSize
	if end > int64(len(a.data)) || start > end {
		return nil, fmt.Errorf("%w: export %s serial range [%d, %d) exceeds %d bytes",
			common.ErrTruncated, exp.ObjectName, start, end, len(a.data))
	}
	return &decoder{
		r:       common.NewByteReader(a.data[start:end]),
		names:   a.names,
		schema:  a.schema,
		imports: a.imports,
		exports: a.exports,
	}, nil
}

func (a *Asset) decodeTable(i int) (AssetData, error) {
	d, err := a.exportDecoder(i)
	if err != nil {
		return AssetData{}, err
	}

	rowStruct, err := d.names.readName(d.r)
	if err != nil {
		return AssetData{}, fmt.Errorf("table row struct: %w", err)
	}

	count := d.r.U32()
	if err := d.guardCount(count); err != nil {
		return AssetData{}, err
	}

	rows := make([]TableRow, 0, count)
	for n := uint32(0); n < count; n++ {
		name, err := d.names.readName(d.r)
		if err != nil {
			return AssetData{}, fmt.Errorf("row %d name: %w", n, err)
		}
		fields, err := a.decodeProperties(d, rowStruct)
		if err != nil {
			return AssetData{}, fmt.Errorf("row %s: %w", name, err)
		}
		rows = append(rows, TableRow{Name: name, Fields: fields})
	}

	return AssetData{
		Kind:      "Table",
		ClassName: dataTableClass,
		RowStruct: rowStruct,
		Rows:      rows,
	}, nil
}

func (a *Asset) decodeObjects() (AssetData, error) {
	if len(a.exports) == 0 {
		return AssetData{}, fmt.Errorf("%w: asset has no exports", common.ErrSchemaMismatch)
	}

	data := AssetData{Kind: "Object"}
	for i, exp := range a.exports {
		d, err := a.exportDecoder(i)
		if err != nil {
			return AssetData{}, err
		}
		class := className(exp.ClassIndex, a.imports, a.exports)
		fields, err := a.decodeProperties(d, class)
		if err != nil {
			return AssetData{}, fmt.Errorf("export %s: %w", exp.ObjectName, err)
		}

		if i == 0 {
			data.ClassName = class
			data.Properties = fields
		} else {
			data.AdditionalExports = append(data.AdditionalExports, ExportObject{
				Name:       exp.ObjectName,
				ClassName:  class,
				Properties: fields,
			})
		}
	}
	return data, nil
}

func (a *Asset) decodeProperties(d *decoder, typeName string) ([]Field, error) {
	if a.summary.unversioned() {
		return d.readUnversionedProperties(typeName, 0)
	}
	return d.readTaggedProperties(0)
}
