// Package usmap loads the externally supplied binary property-map
// schema: the mapping from class/struct name to ordered field layout
// that schema-resolved assets are decoded against.
package usmap

import (
	"fmt"
	"io"
	"sort"

	"github.com/asset-forge/pakex/pkg/common"
)

const (
	// Magic is the schema file's leading marker.
	Magic uint16 = 0xC45E
	// Version is the only supported schema format version.
	Version uint8 = 1
)

// TypeTag identifies a field's declared wire type.
type TypeTag uint8

const (
	TagBool TypeTag = iota
	TagByte
	TagInt32
	TagInt64
	TagUInt32
	TagUInt64
	TagFloat32
	TagFloat64
	TagName
	TagStr
	TagText
	TagEnum
	TagStruct
	TagArray
	TagMap
	TagSet
	TagObject
	TagSoftObject

	TagUnknown TypeTag = 255
)

func (t TypeTag) String() string {
	switch t {
	case TagBool:
		return "Bool"
	case TagByte:
		return "Byte"
	case TagInt32:
		return "Int32"
	case TagInt64:
		return "Int64"
	case TagUInt32:
		return "UInt32"
	case TagUInt64:
		return "UInt64"
	case TagFloat32:
		return "Float32"
	case TagFloat64:
		return "Float64"
	case TagName:
		return "Name"
	case TagStr:
		return "Str"
	case TagText:
		return "Text"
	case TagEnum:
		return "Enum"
	case TagStruct:
		return "Struct"
	case TagArray:
		return "Array"
	case TagMap:
		return "Map"
	case TagSet:
		return "Set"
	case TagObject:
		return "Object"
	case TagSoftObject:
		return "SoftObject"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// FieldType is a field's full declared type: the tag plus whatever the
// tag parameterizes over (element types, struct or enum names).
type FieldType struct {
	Tag        TypeTag
	Inner      *FieldType // array/set element, map value
	Key        *FieldType // map key
	StructName string     // Tag == TagStruct
	EnumName   string     // Tag == TagEnum
}

// IsArray reports whether the field holds a sequence of its inner type.
func (t FieldType) IsArray() bool {
	return t.Tag == TagArray || t.Tag == TagSet
}

// FieldDef is one declared field of a class layout.
type FieldDef struct {
	Name string
	// Index is the field's position in the class's serialized layout.
	// Layouts may be sparse.
	Index uint16
	Type  FieldType
}

type structDef struct {
	name   string
	super  string
	fields []FieldDef
}

// Schema is the loaded type store. Read-only after Load and safe to
// share across concurrent decode calls.
type Schema struct {
	structs map[string]structDef
	enums   map[string][]string

	// flattened layouts, resolved once at load time
	layouts map[string][]FieldDef
}

// Load parses a schema stream into a Schema.
func Load(src io.Reader) (*Schema, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	r := common.NewByteReader(raw)

	if magic := r.U16(); magic != Magic {
		return nil, fmt.Errorf("%w: schema magic 0x%04X", common.ErrBadMagic, magic)
	}
	if version := r.U8(); version != Version {
		return nil, fmt.Errorf("%w: schema version %d", common.ErrUnsupportedVersion, version)
	}

	names, err := readNameTable(r)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		structs: make(map[string]structDef),
		enums:   make(map[string][]string),
		layouts: make(map[string][]FieldDef),
	}

	enumCount := r.U32()
	for i := uint32(0); i < enumCount; i++ {
		name, err := lookupName(names, r.U32())
		if err != nil {
			return nil, fmt.Errorf("enum %d: %w", i, err)
		}
		valueCount := int(r.U8())
		values := make([]string, 0, valueCount)
		for v := 0; v < valueCount; v++ {
			value, err := lookupName(names, r.U32())
			if err != nil {
				return nil, fmt.Errorf("enum %s value %d: %w", name, v, err)
			}
			values = append(values, value)
		}
		s.enums[name] = values
	}

	structCount := r.U32()
	for i := uint32(0); i < structCount; i++ {
		name, err := lookupName(names, r.U32())
		if err != nil {
			return nil, fmt.Errorf("struct %d: %w", i, err)
		}
		def := structDef{name: name}

		superIdx := r.U32()
		if superIdx != noneIndex {
			def.super, err = lookupName(names, superIdx)
			if err != nil {
				return nil, fmt.Errorf("struct %s super: %w", name, err)
			}
		}

		fieldCount := int(r.U16())
		def.fields = make([]FieldDef, 0, fieldCount)
		for f := 0; f < fieldCount; f++ {
			field := FieldDef{Index: r.U16()}
			field.Name, err = lookupName(names, r.U32())
			if err != nil {
				return nil, fmt.Errorf("struct %s field %d: %w", name, f, err)
			}
			fieldType, err := readFieldType(r, names, 0)
			if err != nil {
				return nil, fmt.Errorf("struct %s field %s: %w", name, field.Name, err)
			}
			field.Type = *fieldType
			def.fields = append(def.fields, field)
		}
		s.structs[name] = def
	}

	if err := r.Err(); err != nil {
		return nil, err
	}

	if err := s.flatten(); err != nil {
		return nil, err
	}
	return s, nil
}

const noneIndex = 0xFFFFFFFF

// maxTypeNesting bounds declared type recursion (arrays of maps of
// arrays...), mirroring the decode-time depth guard.
const maxTypeNesting = 16

func readFieldType(r *common.ByteReader, names []string, depth int) (*FieldType, error) {
	if depth > maxTypeNesting {
		return nil, fmt.Errorf("%w: field type nested deeper than %d", common.ErrMalformed, maxTypeNesting)
	}

	t := &FieldType{Tag: TypeTag(r.U8())}
	var err error
	switch t.Tag {
	case TagArray, TagSet:
		t.Inner, err = readFieldType(r, names, depth+1)
		if err != nil {
			return nil, err
		}
	case TagMap:
		t.Key, err = readFieldType(r, names, depth+1)
		if err != nil {
			return nil, err
		}
		t.Inner, err = readFieldType(r, names, depth+1)
		if err != nil {
			return nil, err
		}
	case TagStruct:
		t.StructName, err = lookupName(names, r.U32())
		if err != nil {
			return nil, err
		}
	case TagEnum:
		t.EnumName, err = lookupName(names, r.U32())
		if err != nil {
			return nil, err
		}
	case TagBool, TagByte, TagInt32, TagInt64, TagUInt32, TagUInt64,
		TagFloat32, TagFloat64, TagName, TagStr, TagText,
		TagObject, TagSoftObject:
		// no parameters
	default:
		return nil, fmt.Errorf("%w: unknown schema type tag %d", common.ErrMalformed, uint8(t.Tag))
	}
	return t, nil
}

func readNameTable(r *common.ByteReader) ([]string, error) {
	count := r.U32()
	if int(count) > r.Remaining() {
		return nil, fmt.Errorf("%w: implausible name count %d", common.ErrMalformed, count)
	}
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		length := int(r.U16())
		buf := r.Bytes(length)
		if err := r.Err(); err != nil {
			return nil, err
		}
		names = append(names, string(buf))
	}
	return names, nil
}

func lookupName(names []string, idx uint32) (string, error) {
	if int(idx) >= len(names) {
		return "", fmt.Errorf("%w: name index %d out of range", common.ErrMalformed, idx)
	}
	return names[idx], nil
}

// flatten resolves every struct's super chain into a single ordered
// layout: ancestor fields first, each segment ordered by layout index.
func (s *Schema) flatten() error {
	for name := range s.structs {
		chain := make([]structDef, 0, 4)
		visited := make(map[string]bool)
		for cur := name; cur != ""; {
			if visited[cur] {
				return fmt.Errorf("%w: struct %s super chain revisits %s", common.ErrMalformed, name, cur)
			}
			visited[cur] = true
			def, ok := s.structs[cur]
			if !ok {
				// Missing super types drop silently: the layout simply
				// starts at the first known ancestor.
				break
			}
			chain = append(chain, def)
			cur = def.super
		}

		var layout []FieldDef
		for i := len(chain) - 1; i >= 0; i-- {
			segment := append([]FieldDef(nil), chain[i].fields...)
			sort.SliceStable(segment, func(a, b int) bool {
				return segment[a].Index < segment[b].Index
			})
			layout = append(layout, segment...)
		}
		s.layouts[name] = layout
	}
	return nil
}

// Lookup returns the flattened, ordered field layout for a type. The
// second return is false for unknown types; whether that is fatal is
// the caller's call.
func (s *Schema) Lookup(typeName string) ([]FieldDef, bool) {
	layout, ok := s.layouts[typeName]
	return layout, ok
}

// Enum returns an enum's ordered value names.
func (s *Schema) Enum(name string) ([]string, bool) {
	values, ok := s.enums[name]
	return values, ok
}

// Len returns the number of known struct layouts.
func (s *Schema) Len() int {
	return len(s.layouts)
}
