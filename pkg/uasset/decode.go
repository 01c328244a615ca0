package uasset

import (
	"encoding/hex"
	"fmt"

	"github.com/asset-forge/pakex/pkg/common"
	"github.com/asset-forge/pakex/pkg/usmap"
)

// maxDecodeDepth bounds struct/array/map recursion. The wire format
// imposes no limit of its own, so malformed input could otherwise
// exhaust the stack.
const maxDecodeDepth = 64

// decoder carries the per-file context every property read needs: the
// byte cursor, the name pool, the shared schema store and the local
// reference tables.
type decoder struct {
	r       *common.ByteReader
	names   *nameTable
	schema  *usmap.Schema
	imports []Import
	exports []Export
}

func (d *decoder) checkDepth(depth int) error {
	if depth > maxDecodeDepth {
		return fmt.Errorf("%w: property nesting exceeds depth %d", common.ErrMalformed, maxDecodeDepth)
	}
	return nil
}

// ---- tagged mode ----

// taggedHeader is the self-describing prefix of one tagged property.
type taggedHeader struct {
	name     string
	typeName string
	size     int32

	boolValue  bool   // BoolProperty
	enumType   string // ByteProperty, EnumProperty
	structName string // StructProperty
	innerType  string // ArrayProperty, SetProperty
	keyType    string // MapProperty
	valueType  string // MapProperty
}

// readTaggedProperties decodes a self-describing property list up to
// its "None" terminator. Unrecognized type tags become Unknown leaves:
// their declared size makes resynchronization safe, so sibling
// properties keep decoding.
func (d *decoder) readTaggedProperties(depth int) ([]Field, error) {
	if err := d.checkDepth(depth); err != nil {
		return nil, err
	}

	var fields []Field
	for {
		name, err := d.names.readName(d.r)
		if err != nil {
			return nil, err
		}
		if name == "None" {
			return fields, nil
		}

		hdr := taggedHeader{name: name}
		if hdr.typeName, err = d.names.readName(d.r); err != nil {
			return nil, err
		}
		hdr.size = d.r.I32()
		d.r.Skip(4) // array index within a static array, always decoded flat
		if hdr.size < 0 {
			return nil, fmt.Errorf("%w: property %s declares negative size", common.ErrSchemaMismatch, name)
		}

		if err := d.readTaggedHeaderExtras(&hdr); err != nil {
			return nil, err
		}
		if hasGUID := d.r.U8(); hasGUID != 0 {
			d.r.Skip(16)
		}
		if err := d.r.Err(); err != nil {
			return nil, err
		}

		value, err := d.readTaggedValue(&hdr, depth)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
}

func (d *decoder) readTaggedHeaderExtras(hdr *taggedHeader) error {
	var err error
	switch hdr.typeName {
	case "BoolProperty":
		hdr.boolValue = d.r.U8() != 0
	case "ByteProperty", "EnumProperty":
		hdr.enumType, err = d.names.readName(d.r)
	case "StructProperty":
		if hdr.structName, err = d.names.readName(d.r); err != nil {
			return err
		}
		d.r.Skip(16) // struct guid
	case "ArrayProperty", "SetProperty":
		hdr.innerType, err = d.names.readName(d.r)
	case "MapProperty":
		if hdr.keyType, err = d.names.readName(d.r); err != nil {
			return err
		}
		hdr.valueType, err = d.names.readName(d.r)
	}
	return err
}

func (d *decoder) readTaggedValue(hdr *taggedHeader, depth int) (Value, error) {
	start := d.r.Pos()

	value, known, err := d.readTaggedPayload(hdr, depth)
	if err != nil {
		return Value{}, err
	}
	if !known {
		// Unknown tag with a recoverable length prefix: skip exactly
		// the declared payload and keep going.
		d.r.Skip(int(hdr.size))
		if err := d.r.Err(); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUnknown, Str: hdr.typeName}, nil
	}
	if err := d.r.Err(); err != nil {
		return Value{}, err
	}

	if consumed := d.r.Pos() - start; consumed != int(hdr.size) {
		return Value{}, fmt.Errorf("%w: %s consumed %d of %d declared bytes",
			common.ErrSchemaMismatch, hdr.typeName, consumed, hdr.size)
	}
	return value, nil
}

func (d *decoder) readTaggedPayload(hdr *taggedHeader, depth int) (Value, bool, error) {
	switch hdr.typeName {
	case "BoolProperty":
		// Value lives in the header; the payload is empty.
		return Value{Kind: KindBool, Bool: hdr.boolValue}, true, nil
	case "IntProperty":
		return Value{Kind: KindInt32, I64: int64(d.r.I32())}, true, nil
	case "Int64Property":
		return Value{Kind: KindInt64, I64: d.r.I64()}, true, nil
	case "UInt32Property":
		return Value{Kind: KindUInt32, U64: uint64(d.r.U32())}, true, nil
	case "UInt64Property":
		return Value{Kind: KindUInt64, U64: d.r.U64()}, true, nil
	case "FloatProperty":
		return Value{Kind: KindFloat32, F64: float64(d.r.F32())}, true, nil
	case "DoubleProperty":
		return Value{Kind: KindFloat64, F64: d.r.F64()}, true, nil
	case "ByteProperty":
		if hdr.enumType == "" || hdr.enumType == "None" {
			return Value{Kind: KindByte, U64: uint64(d.r.U8())}, true, nil
		}
		val, err := d.names.readName(d.r)
		if err != nil {
			return Value{}, false, err
		}
		return Value{Kind: KindEnum, EnumType: hdr.enumType, EnumValue: val}, true, nil
	case "EnumProperty":
		val, err := d.names.readName(d.r)
		if err != nil {
			return Value{}, false, err
		}
		return Value{Kind: KindEnum, EnumType: hdr.enumType, EnumValue: val}, true, nil
	case "NameProperty":
		val, err := d.names.readName(d.r)
		if err != nil {
			return Value{}, false, err
		}
		return Value{Kind: KindName, Str: val}, true, nil
	case "StrProperty":
		val, err := readString(d.r)
		if err != nil {
			return Value{}, false, err
		}
		return Value{Kind: KindString, Str: val}, true, nil
	case "TextProperty":
		val, err := d.readText()
		if err != nil {
			return Value{}, false, err
		}
		return val, true, nil
	case "ObjectProperty":
		val, err := d.readObjectRef()
		if err != nil {
			return Value{}, false, err
		}
		return val, true, nil
	case "SoftObjectProperty":
		val, err := d.readSoftObjectRef()
		if err != nil {
			return Value{}, false, err
		}
		return val, true, nil
	case "StructProperty":
		val, err := d.readStructValue(hdr.structName, depth+1)
		if err != nil {
			return Value{}, false, err
		}
		return val, true, nil
	case "ArrayProperty", "SetProperty":
		val, err := d.readTaggedSequence(hdr.innerType, depth+1)
		if err != nil {
			return Value{}, false, err
		}
		return val, true, nil
	case "MapProperty":
		val, err := d.readTaggedMap(hdr.keyType, hdr.valueType, depth+1)
		if err != nil {
			return Value{}, false, err
		}
		return val, true, nil
	default:
		return Value{}, false, nil
	}
}

// readStructValue decodes a struct payload: a fixed-layout intrinsic
// when the name is one, otherwise a nested tagged property stream.
func (d *decoder) readStructValue(structName string, depth int) (Value, error) {
	if err := d.checkDepth(depth); err != nil {
		return Value{}, err
	}
	if val, ok, err := d.readIntrinsicStruct(structName); ok || err != nil {
		return val, err
	}
	fields, err := d.readTaggedProperties(depth)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindStruct, StructType: structName, Fields: fields}, nil
}

func (d *decoder) readTaggedSequence(innerType string, depth int) (Value, error) {
	if err := d.checkDepth(depth); err != nil {
		return Value{}, err
	}
	count := d.r.U32()
	if err := d.guardCount(count); err != nil {
		return Value{}, err
	}

	structName := ""
	if innerType == "StructProperty" {
		var err error
		if structName, err = d.names.readName(d.r); err != nil {
			return Value{}, err
		}
	}

	elems := make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		elem, err := d.readTaggedElement(innerType, structName, depth)
		if err != nil {
			return Value{}, fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, elem)
	}
	return Value{Kind: KindArray, Elems: elems}, nil
}

func (d *decoder) readTaggedMap(keyType, valueType string, depth int) (Value, error) {
	if err := d.checkDepth(depth); err != nil {
		return Value{}, err
	}
	count := d.r.U32()
	if err := d.guardCount(count); err != nil {
		return Value{}, err
	}

	keyStruct, valueStruct := "", ""
	var err error
	if keyType == "StructProperty" {
		if keyStruct, err = d.names.readName(d.r); err != nil {
			return Value{}, err
		}
	}
	if valueType == "StructProperty" {
		if valueStruct, err = d.names.readName(d.r); err != nil {
			return Value{}, err
		}
	}

	pairs := make([]Pair, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := d.readTaggedElement(keyType, keyStruct, depth)
		if err != nil {
			return Value{}, fmt.Errorf("pair %d key: %w", i, err)
		}
		val, err := d.readTaggedElement(valueType, valueStruct, depth)
		if err != nil {
			return Value{}, fmt.Errorf("pair %d value: %w", i, err)
		}
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
	return Value{Kind: KindMap, Pairs: pairs}, nil
}

// readTaggedElement decodes a bare container element: no per-element
// tag, just the raw value of the container's declared inner type.
func (d *decoder) readTaggedElement(typeName, structName string, depth int) (Value, error) {
	switch typeName {
	case "BoolProperty":
		return Value{Kind: KindBool, Bool: d.r.U8() != 0}, d.r.Err()
	case "ByteProperty":
		return Value{Kind: KindByte, U64: uint64(d.r.U8())}, d.r.Err()
	case "IntProperty":
		return Value{Kind: KindInt32, I64: int64(d.r.I32())}, d.r.Err()
	case "Int64Property":
		return Value{Kind: KindInt64, I64: d.r.I64()}, d.r.Err()
	case "UInt32Property":
		return Value{Kind: KindUInt32, U64: uint64(d.r.U32())}, d.r.Err()
	case "UInt64Property":
		return Value{Kind: KindUInt64, U64: d.r.U64()}, d.r.Err()
	case "FloatProperty":
		return Value{Kind: KindFloat32, F64: float64(d.r.F32())}, d.r.Err()
	case "DoubleProperty":
		return Value{Kind: KindFloat64, F64: d.r.F64()}, d.r.Err()
	case "NameProperty":
		val, err := d.names.readName(d.r)
		return Value{Kind: KindName, Str: val}, err
	case "EnumProperty":
		val, err := d.names.readName(d.r)
		return Value{Kind: KindEnum, EnumValue: val}, err
	case "StrProperty":
		val, err := readString(d.r)
		return Value{Kind: KindString, Str: val}, err
	case "TextProperty":
		return d.readText()
	case "ObjectProperty":
		return d.readObjectRef()
	case "SoftObjectProperty":
		return d.readSoftObjectRef()
	case "StructProperty":
		return d.readStructValue(structName, depth+1)
	default:
		// Inside a container there is no per-element length to skip
		// over, so an unknown element type is unrecoverable.
		return Value{}, fmt.Errorf("%w: unknown element type %s", common.ErrSchemaMismatch, typeName)
	}
}

// ---- schema-resolved (unversioned) mode ----

// readUnversionedProperties decodes a property blob that carries no
// embedded names or types: a presence bitset over the class's flattened
// schema layout, then exactly the present fields in layout order.
func (d *decoder) readUnversionedProperties(structName string, depth int) ([]Field, error) {
	if err := d.checkDepth(depth); err != nil {
		return nil, err
	}

	layout, ok := d.schema.Lookup(structName)
	if !ok {
		return nil, fmt.Errorf("%w: no schema for type %s", common.ErrSchemaMismatch, structName)
	}

	bitsetLen := (len(layout) + 7) / 8
	bitset := d.r.Bytes(bitsetLen)
	if err := d.r.Err(); err != nil {
		return nil, err
	}

	var fields []Field
	for i, def := range layout {
		if bitset[i/8]&(1<<(i%8)) == 0 {
			continue // absent fields are omitted, never defaulted
		}
		value, err := d.readSchemaValue(def.Type, depth)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", structName, def.Name, err)
		}
		fields = append(fields, Field{Name: def.Name, Value: value})
	}
	return fields, nil
}

func (d *decoder) readSchemaValue(t usmap.FieldType, depth int) (Value, error) {
	if err := d.checkDepth(depth); err != nil {
		return Value{}, err
	}

	switch t.Tag {
	case usmap.TagBool:
		return Value{Kind: KindBool, Bool: d.r.U8() != 0}, d.r.Err()
	case usmap.TagByte:
		return Value{Kind: KindByte, U64: uint64(d.r.U8())}, d.r.Err()
	case usmap.TagInt32:
		return Value{Kind: KindInt32, I64: int64(d.r.I32())}, d.r.Err()
	case usmap.TagInt64:
		return Value{Kind: KindInt64, I64: d.r.I64()}, d.r.Err()
	case usmap.TagUInt32:
		return Value{Kind: KindUInt32, U64: uint64(d.r.U32())}, d.r.Err()
	case usmap.TagUInt64:
		return Value{Kind: KindUInt64, U64: d.r.U64()}, d.r.Err()
	case usmap.TagFloat32:
		return Value{Kind: KindFloat32, F64: float64(d.r.F32())}, d.r.Err()
	case usmap.TagFloat64:
		return Value{Kind: KindFloat64, F64: d.r.F64()}, d.r.Err()
	case usmap.TagName:
		val, err := d.names.readName(d.r)
		return Value{Kind: KindName, Str: val}, err
	case usmap.TagStr:
		val, err := readString(d.r)
		return Value{Kind: KindString, Str: val}, err
	case usmap.TagText:
		return d.readText()
	case usmap.TagEnum:
		val, err := d.names.readName(d.r)
		return Value{Kind: KindEnum, EnumType: t.EnumName, EnumValue: val}, err
	case usmap.TagObject:
		return d.readObjectRef()
	case usmap.TagSoftObject:
		return d.readSoftObjectRef()
	case usmap.TagStruct:
		if val, ok, err := d.readIntrinsicStruct(t.StructName); ok || err != nil {
			return val, err
		}
		fields, err := d.readUnversionedProperties(t.StructName, depth+1)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindStruct, StructType: t.StructName, Fields: fields}, nil
	case usmap.TagArray, usmap.TagSet:
		count := d.r.U32()
		if err := d.guardCount(count); err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			elem, err := d.readSchemaValue(*t.Inner, depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, elem)
		}
		return Value{Kind: KindArray, Elems: elems}, nil
	case usmap.TagMap:
		count := d.r.U32()
		if err := d.guardCount(count); err != nil {
			return Value{}, err
		}
		pairs := make([]Pair, 0, count)
		for i := uint32(0); i < count; i++ {
			key, err := d.readSchemaValue(*t.Key, depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("pair %d key: %w", i, err)
			}
			val, err := d.readSchemaValue(*t.Inner, depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("pair %d value: %w", i, err)
			}
			pairs = append(pairs, Pair{Key: key, Value: val})
		}
		return Value{Kind: KindMap, Pairs: pairs}, nil
	default:
		// Without a length prefix there is no way to resynchronize
		// past a field whose type the schema does not describe.
		return Value{}, fmt.Errorf("%w: undecodable schema tag %s", common.ErrSchemaMismatch, t.Tag)
	}
}

// ---- shared payload readers ----

// readIntrinsicStruct handles the small fixed-width struct types that
// are serialized raw instead of as property streams.
func (d *decoder) readIntrinsicStruct(structName string) (Value, bool, error) {
	switch structName {
	case "Vector2D":
		v := Value{Kind: KindVector2, X: float64(d.r.F32()), Y: float64(d.r.F32())}
		return v, true, d.r.Err()
	case "Vector":
		v := Value{Kind: KindVector3, X: float64(d.r.F32()), Y: float64(d.r.F32()), Z: float64(d.r.F32())}
		return v, true, d.r.Err()
	case "Rotator":
		// pitch/yaw/roll, same wire shape as Vector
		v := Value{Kind: KindVector3, X: float64(d.r.F32()), Y: float64(d.r.F32()), Z: float64(d.r.F32())}
		return v, true, d.r.Err()
	case "Guid":
		raw := d.r.Bytes(16)
		if err := d.r.Err(); err != nil {
			return Value{}, true, err
		}
		return Value{Kind: KindString, Str: hex.EncodeToString(raw)}, true, nil
	case "GameplayTagContainer":
		count := d.r.U32()
		if err := d.guardCount(count); err != nil {
			return Value{}, true, err
		}
		tags := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			tag, err := d.names.readName(d.r)
			if err != nil {
				return Value{}, true, err
			}
			tags = append(tags, tag)
		}
		return Value{Kind: KindTagSet, Tags: tags}, true, nil
	}
	return Value{}, false, nil
}

func (d *decoder) readText() (Value, error) {
	d.r.Skip(4) // text flags
	history := int8(d.r.U8())
	switch history {
	case -1: // no history
		if d.r.U32() != 0 {
			s, err := readString(d.r)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindText, Str: s}, nil
		}
		return Value{Kind: KindText}, d.r.Err()
	case 0: // base: namespace, key, source
		if _, err := readString(d.r); err != nil {
			return Value{}, err
		}
		if _, err := readString(d.r); err != nil {
			return Value{}, err
		}
		source, err := readString(d.r)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindText, Str: source}, nil
	default:
		return Value{}, fmt.Errorf("%w: text history type %d", common.ErrSchemaMismatch, history)
	}
}

func (d *decoder) readObjectRef() (Value, error) {
	index := d.r.I32()
	if err := d.r.Err(); err != nil {
		return Value{}, err
	}
	ref, err := Resolve(index, d.imports, d.exports)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindObjectRef, Ref: &ref}, nil
}

func (d *decoder) readSoftObjectRef() (Value, error) {
	assetPath, err := d.names.readName(d.r)
	if err != nil {
		return Value{}, err
	}
	subPath, err := readString(d.r)
	if err != nil {
		return Value{}, err
	}
	path := assetPath
	if subPath != "" {
		path = assetPath + ":" + subPath
	}
	return Value{Kind: KindSoftObjectRef, Str: path}, nil
}

// guardCount rejects container counts that could not possibly fit in
// the remaining bytes, before any allocation happens.
func (d *decoder) guardCount(count uint32) error {
	if int(count) > d.r.Remaining() {
		return fmt.Errorf("%w: container count %d exceeds remaining %d bytes",
			common.ErrTruncated, count, d.r.Remaining())
	}
	return nil
}
