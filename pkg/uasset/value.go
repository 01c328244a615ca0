package uasset

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the decoded value variants.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt32
	KindInt64
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindByte
	KindName
	KindText
	KindString
	KindEnum
	KindObjectRef
	KindSoftObjectRef
	KindVector2
	KindVector3
	KindStruct
	KindArray
	KindMap
	KindTagSet
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindUInt32:
		return "UInt32"
	case KindUInt64:
		return "UInt64"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindByte:
		return "Byte"
	case KindName:
		return "Name"
	case KindText:
		return "Text"
	case KindString:
		return "String"
	case KindEnum:
		return "Enum"
	case KindObjectRef:
		return "ObjectRef"
	case KindSoftObjectRef:
		return "SoftObjectRef"
	case KindVector2:
		return "Vector2"
	case KindVector3:
		return "Vector3"
	case KindStruct:
		return "Struct"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindTagSet:
		return "TagSet"
	case KindUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is one node of the decoded tree: a tagged variant over every
// supported property shape. Only the fields relevant to Kind are set.
// The tree is acyclic by construction; object references stay as
// resolved descriptors, never embedded subtrees.
type Value struct {
	Kind Kind

	Bool bool
	I64  int64   // Int32, Int64
	U64  uint64  // UInt32, UInt64, Byte
	F64  float64 // Float32, Float64

	Str string // Name, Text, String, SoftObjectRef path, Unknown raw tag

	EnumType  string // Enum
	EnumValue string // Enum

	X, Y, Z float64 // Vector2 (X,Y), Vector3

	StructType string  // Struct
	Fields     []Field // Struct

	Elems []Value // Array
	Pairs []Pair  // Map
	Tags  []string // TagSet

	Ref *ObjectReference // ObjectRef
}

// Field is one named property inside a struct or object, in decode
// order.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Pair is one key/value entry of a decoded map, in decode order.
type Pair struct {
	Key   Value `json:"key"`
	Value Value `json:"value"`
}

// MarshalJSON renders every value as {"kind": ..., "value": ...} with a
// kind-appropriate value shape, keeping downstream consumers explicitly
// aware of decode coverage (Unknown nodes survive serialization).
func (v Value) MarshalJSON() ([]byte, error) {
	type kv struct {
		Kind  string      `json:"kind"`
		Value interface{} `json:"value,omitempty"`
	}

	switch v.Kind {
	case KindBool:
		return json.Marshal(kv{v.Kind.String(), v.Bool})
	case KindInt32, KindInt64:
		return json.Marshal(kv{v.Kind.String(), v.I64})
	case KindUInt32, KindUInt64, KindByte:
		return json.Marshal(kv{v.Kind.String(), v.U64})
	case KindFloat32, KindFloat64:
		return json.Marshal(kv{v.Kind.String(), v.F64})
	case KindName, KindText, KindString, KindSoftObjectRef:
		return json.Marshal(kv{v.Kind.String(), v.Str})
	case KindEnum:
		return json.Marshal(kv{v.Kind.String(), map[string]string{
			"type":  v.EnumType,
			"value": v.EnumValue,
		}})
	case KindObjectRef:
		return json.Marshal(kv{v.Kind.String(), v.Ref})
	case KindVector2:
		return json.Marshal(kv{v.Kind.String(), map[string]float64{"x": v.X, "y": v.Y}})
	case KindVector3:
		return json.Marshal(kv{v.Kind.String(), map[string]float64{"x": v.X, "y": v.Y, "z": v.Z}})
	case KindStruct:
		fields := make([]map[string]interface{}, 0, len(v.Fields))
		for _, f := range v.Fields {
			fields = append(fields, map[string]interface{}{"name": f.Name, "value": f.Value})
		}
		return json.Marshal(kv{v.Kind.String(), map[string]interface{}{
			"type":   v.StructType,
			"fields": fields,
		}})
	case KindArray:
		elems := v.Elems
		if elems == nil {
			elems = []Value{}
		}
		return json.Marshal(kv{v.Kind.String(), elems})
	case KindMap:
		pairs := make([]map[string]interface{}, 0, len(v.Pairs))
		for _, p := range v.Pairs {
			pairs = append(pairs, map[string]interface{}{"key": p.Key, "value": p.Value})
		}
		return json.Marshal(kv{v.Kind.String(), pairs})
	case KindTagSet:
		tags := v.Tags
		if tags == nil {
			tags = []string{}
		}
		return json.Marshal(kv{v.Kind.String(), tags})
	case KindUnknown:
		return json.Marshal(kv{v.Kind.String(), map[string]string{"tag": v.Str}})
	default:
		return nil, fmt.Errorf("unmarshalable value kind %d", uint8(v.Kind))
	}
}
