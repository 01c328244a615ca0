package uasset

import (
	"fmt"
	"strings"

	"github.com/asset-forge/pakex/pkg/common"
)

// RefKind classifies a resolved object reference.
type RefKind uint8

const (
	RefNull RefKind = iota
	RefLocal
	RefExternal
	RefUnresolved
)

func (k RefKind) String() string {
	switch k {
	case RefNull:
		return "Null"
	case RefLocal:
		return "Local"
	case RefExternal:
		return "External"
	default:
		return "Unresolved"
	}
}

// ObjectReference is the resolved form of a signed object index:
// nothing, an object defined in this file, an object in another file
// addressed by its outer-chain path, or an index outside both tables.
type ObjectReference struct {
	Kind  RefKind `json:"kind"`
	Index int32   `json:"index"`

	// Local
	ExportIndex int `json:"exportIndex,omitempty"`

	// External
	Path string `json:"path,omitempty"`

	ObjectName string `json:"objectName,omitempty"`
	ClassName  string `json:"className,omitempty"`
}

// Resolve maps a signed index into the local tables. Index 0 is null;
// positive indices address the export table at index-1; negative
// indices address the import table at -index-1. Out-of-range indices
// resolve to Unresolved rather than failing the containing decode.
func Resolve(index int32, imports []Import, exports []Export) (ObjectReference, error) {
	switch {
	case index == 0:
		return ObjectReference{Kind: RefNull}, nil

	case index > 0:
		i := int(index) - 1
		if i >= len(exports) {
			return ObjectReference{Kind: RefUnresolved, Index: index}, nil
		}
		exp := exports[i]
		return ObjectReference{
			Kind:        RefLocal,
			Index:       index,
			ExportIndex: i,
			ObjectName:  exp.ObjectName,
			ClassName:   className(exp.ClassIndex, imports, exports),
		}, nil

	default:
		i := int(-index) - 1
		if i >= len(imports) {
			return ObjectReference{Kind: RefUnresolved, Index: index}, nil
		}
		imp := imports[i]
		path, err := importPath(i, imports)
		if err != nil {
			return ObjectReference{}, err
		}
		return ObjectReference{
			Kind:       RefExternal,
			Index:      index,
			Path:       path,
			ObjectName: imp.ObjectName,
			ClassName:  imp.ClassName,
		}, nil
	}
}

// importPath builds the fully qualified external path by walking the
// outer chain root-first. Malformed inputs can link outers into a
// loop, so every visited slot is tracked.
func importPath(idx int, imports []Import) (string, error) {
	var parts []string
	visited := make(map[int]bool)

	for {
		if visited[idx] {
			return "", fmt.Errorf("%w: import %d revisited while walking outer chain",
				common.ErrCyclicOuterChain, idx)
		}
		visited[idx] = true

		imp := imports[idx]
		parts = append(parts, imp.ObjectName)

		outer := imp.OuterIndex
		if outer == 0 {
			break
		}
		if outer > 0 {
			// An import's outer pointing at an export is malformed;
			// stop at what was collected so far.
			break
		}
		next := int(-outer) - 1
		if next >= len(imports) {
			break
		}
		idx = next
	}

	// parts were collected leaf-first
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), nil
}
