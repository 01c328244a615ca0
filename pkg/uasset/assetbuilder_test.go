package uasset

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// assetBuilder assembles synthetic asset files byte-for-byte: summary,
// name pool, import/export tables, then each export's property blob.
type assetBuilder struct {
	packageFlags uint32

	names   []string
	nameIdx map[string]uint32

	imports []builderImport
	exports []builderExport
}

type builderImport struct {
	classPackage string
	className    string
	outerIndex   int32
	objectName   string
}

type builderExport struct {
	classIndex int32
	outerIndex int32
	objectName string
	payload    []byte
}

func newAssetBuilder() *assetBuilder {
	return &assetBuilder{nameIdx: make(map[string]uint32)}
}

func (b *assetBuilder) intern(s string) uint32 {
	if idx, ok := b.nameIdx[s]; ok {
		return idx
	}
	idx := uint32(len(b.names))
	b.names = append(b.names, s)
	b.nameIdx[s] = idx
	return idx
}

func (b *assetBuilder) addImport(classPackage, className string, outerIndex int32, objectName string) int32 {
	b.intern(classPackage)
	b.intern(className)
	b.intern(objectName)
	b.imports = append(b.imports, builderImport{classPackage, className, outerIndex, objectName})
	// reference usable as a class or outer index
	return -int32(len(b.imports))
}

func (b *assetBuilder) addExport(classIndex int32, objectName string, payload []byte) {
	b.intern(objectName)
	b.exports = append(b.exports, builderExport{
		classIndex: classIndex,
		objectName: objectName,
		payload:    payload,
	})
}

const (
	summaryLen      = 44
	importRecordLen = 28
	exportRecordLen = 36
)

func (b *assetBuilder) build(t *testing.T) []byte {
	t.Helper()

	var namePool bytes.Buffer
	for _, n := range b.names {
		putU32(&namePool, uint32(len(n)+1))
		namePool.WriteString(n)
		namePool.WriteByte(0)
	}

	nameOffset := uint32(summaryLen)
	importOffset := nameOffset + uint32(namePool.Len())
	exportOffset := importOffset + uint32(len(b.imports)*importRecordLen)
	blobStart := exportOffset + uint32(len(b.exports)*exportRecordLen)

	var out bytes.Buffer
	putU32(&out, AssetMagic)
	putU32(&out, 522) // file version, unused by the decoder
	putU32(&out, blobStart)
	putU32(&out, b.packageFlags)
	putU32(&out, uint32(len(b.names)))
	putU32(&out, nameOffset)
	putU32(&out, uint32(len(b.imports)))
	putU32(&out, importOffset)
	putU32(&out, uint32(len(b.exports)))
	putU32(&out, exportOffset)

	blobLen := 0
	for _, exp := range b.exports {
		blobLen += len(exp.payload)
	}
	putU32(&out, blobStart+uint32(blobLen)) // depends offset, past all data

	out.Write(namePool.Bytes())

	for _, imp := range b.imports {
		b.putName(&out, imp.classPackage)
		b.putName(&out, imp.className)
		putU32(&out, uint32(imp.outerIndex))
		b.putName(&out, imp.objectName)
	}

	serial := int64(blobStart)
	for _, exp := range b.exports {
		putU32(&out, uint32(exp.classIndex))
		putU32(&out, uint32(exp.outerIndex))
		b.putName(&out, exp.objectName)
		putU32(&out, 0) // object flags
		putU64(&out, uint64(len(exp.payload)))
		putU64(&out, uint64(serial))
		serial += int64(len(exp.payload))
	}

	for _, exp := range b.exports {
		out.Write(exp.payload)
	}
	return out.Bytes()
}

func (b *assetBuilder) putName(w *bytes.Buffer, s string) {
	idx, ok := b.nameIdx[s]
	if !ok {
		panic("name not interned: " + s)
	}
	putU32(w, idx)
	putU32(w, 0)
}

// payload writes one export's property blob, interning names into the
// owning builder as it goes.
type payload struct {
	b   *assetBuilder
	buf bytes.Buffer
}

func (b *assetBuilder) payload() *payload {
	return &payload{b: b}
}

func (p *payload) bytes() []byte { return p.buf.Bytes() }

func (p *payload) u8(v uint8)    { p.buf.WriteByte(v) }
func (p *payload) u32(v uint32)  { putU32(&p.buf, v) }
func (p *payload) u64(v uint64)  { putU64(&p.buf, v) }
func (p *payload) i32(v int32)   { putU32(&p.buf, uint32(v)) }
func (p *payload) i64(v int64)   { putU64(&p.buf, uint64(v)) }
func (p *payload) f32(v float32) { putU32(&p.buf, math.Float32bits(v)) }
func (p *payload) f64(v float64) { putU64(&p.buf, math.Float64bits(v)) }

func (p *payload) name(s string) {
	p.u32(p.b.intern(s))
	p.u32(0)
}

func (p *payload) nameNumbered(s string, number uint32) {
	p.u32(p.b.intern(s))
	p.u32(number)
}

func (p *payload) str(s string) {
	p.u32(uint32(len(s) + 1))
	p.buf.WriteString(s)
	p.buf.WriteByte(0)
}

func (p *payload) raw(b []byte) { p.buf.Write(b) }

// prop writes one tagged property: header, optional type extras, no
// GUID, then the payload with its true length declared.
func (p *payload) prop(name, typeName string, extras, body *payload) {
	p.propSized(name, typeName, extras, body, int32(bodyLen(body)))
}

// propSized is prop with an explicit declared size, for mismatch tests.
func (p *payload) propSized(name, typeName string, extras, body *payload, size int32) {
	p.name(name)
	p.name(typeName)
	p.i32(size)
	p.u32(0) // static array index
	if extras != nil {
		p.buf.Write(extras.buf.Bytes())
	}
	p.u8(0) // no property guid
	if body != nil {
		p.buf.Write(body.buf.Bytes())
	}
}

// none terminates a tagged property list.
func (p *payload) none() { p.name("None") }

func bodyLen(p *payload) int {
	if p == nil {
		return 0
	}
	return p.buf.Len()
}

// structExtras is the StructProperty header tail: struct name plus a
// zeroed struct guid.
func (p *payload) structExtras(structName string) *payload {
	e := p.b.payload()
	e.name(structName)
	e.raw(make([]byte, 16))
	return e
}

func (p *payload) nameExtras(s string) *payload {
	e := p.b.payload()
	e.name(s)
	return e
}

// mapExtras is the MapProperty header tail: key and value type names.
func (p *payload) mapExtras(keyType, valueType string) *payload {
	e := p.b.payload()
	e.name(keyType)
	e.name(valueType)
	return e
}

func putU32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func putU64(w *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}
