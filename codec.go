package ydoc

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Tags of encoded values.
const (
	tagObject = 118
	tagList   = 117
	tagBytes  = 116
	tagString = 119
	tagBigInt = 122
	tagFloat  = 123
	tagInt    = 125
	tagTrue   = 120
	tagFalse  = 121
	tagNull   = 126
)

const (
	infoOrigin      = 0x80
	infoRightOrigin = 0x40
	infoKeyed       = 0x20
	infoRefMask     = 0x1f
)

// maxValueDepth bounds nesting of decoded lists and objects.
const maxValueDepth = 512

func appendUint(buf []byte, n uint64) []byte {
	return protowire.AppendVarint(buf, n)
}

func decodeUint(buf []byte, n *uint64) ([]byte, error) {
	v, l := protowire.ConsumeVarint(buf)
	if l < 0 {
		return nil, fmt.Errorf("%w: bad varint: %v", ErrDecode, protowire.ParseError(l))
	}
	*n = v
	return buf[l:], nil
}

// decodeCount reads a length that must be satisfiable by the remaining bytes,
// each counted element taking at least one byte.
func decodeCount(buf []byte, n *int) ([]byte, error) {
	var v uint64
	buf, err := decodeUint(buf, &v)
	if err != nil {
		return nil, err
	}
	if v > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: count %d exceeds remaining %d bytes", ErrDecode, v, len(buf))
	}
	*n = int(v)
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	return protowire.AppendString(buf, s)
}

func decodeString(buf []byte, s *string) ([]byte, error) {
	v, l := protowire.ConsumeString(buf)
	if l < 0 {
		return nil, fmt.Errorf("%w: bad string: %v", ErrDecode, protowire.ParseError(l))
	}
	*s = v
	return buf[l:], nil
}

func decodeBytes(buf []byte, body *[]byte) ([]byte, error) {
	v, l := protowire.ConsumeBytes(buf)
	if l < 0 {
		return nil, fmt.Errorf("%w: bad body length: %v", ErrDecode, protowire.ParseError(l))
	}
	*body = append([]byte{}, v...)
	return buf[l:], nil
}

func decodeByte(buf []byte, b *byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrDecode)
	}
	*b = buf[0]
	return buf[1:], nil
}

func appendValue(buf []byte, v Value) []byte {
	switch x := v.(type) {
	case nil, Null:
		return append(buf, tagNull)
	case Bool:
		if x {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case Number:
		buf = append(buf, tagFloat)
		return protowire.AppendFixed64(buf, math.Float64bits(float64(x)))
	case BigInt:
		buf = append(buf, tagBigInt)
		return protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(x)))
	case String:
		buf = append(buf, tagString)
		return appendString(buf, string(x))
	case Bytes:
		buf = append(buf, tagBytes)
		return protowire.AppendBytes(buf, x)
	case List:
		buf = append(buf, tagList)
		buf = appendUint(buf, uint64(len(x)))
		for _, e := range x {
			buf = appendValue(buf, e)
		}
		return buf
	case Object:
		buf = append(buf, tagObject)
		buf = appendUint(buf, uint64(len(x)))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendValue(buf, x[k])
		}
		return buf
	}
	panic(fmt.Sprintf("appendValue: unknown value type %T", v))
}

func decodeValue(buf []byte, v *Value) ([]byte, error) {
	return decodeValueDepth(buf, v, 0)
}

func decodeValueDepth(buf []byte, v *Value, depth int) ([]byte, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("%w: value nested too deeply", ErrDecode)
	}
	var tag byte
	buf, err := decodeByte(buf, &tag)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		*v = Null{}
	case tagTrue:
		*v = Bool(true)
	case tagFalse:
		*v = Bool(false)
	case tagFloat:
		bits, l := protowire.ConsumeFixed64(buf)
		if l < 0 {
			return nil, fmt.Errorf("%w: bad float: %v", ErrDecode, protowire.ParseError(l))
		}
		*v = Number(math.Float64frombits(bits))
		buf = buf[l:]
	case tagBigInt, tagInt:
		var n uint64
		buf, err = decodeUint(buf, &n)
		if err != nil {
			return nil, err
		}
		i := protowire.DecodeZigZag(n)
		if tag == tagInt {
			*v = intValue(i)
		} else {
			*v = BigInt(i)
		}
	case tagString:
		var s string
		buf, err = decodeString(buf, &s)
		if err != nil {
			return nil, err
		}
		*v = String(s)
	case tagBytes:
		var b []byte
		buf, err = decodeBytes(buf, &b)
		if err != nil {
			return nil, err
		}
		*v = Bytes(b)
	case tagList:
		var n int
		buf, err = decodeCount(buf, &n)
		if err != nil {
			return nil, err
		}
		l := make(List, n)
		for i := range l {
			buf, err = decodeValueDepth(buf, &l[i], depth+1)
			if err != nil {
				return nil, err
			}
		}
		*v = l
	case tagObject:
		var n int
		buf, err = decodeCount(buf, &n)
		if err != nil {
			return nil, err
		}
		o := make(Object, n)
		for i := 0; i < n; i++ {
			var k string
			buf, err = decodeString(buf, &k)
			if err != nil {
				return nil, err
			}
			var e Value
			buf, err = decodeValueDepth(buf, &e, depth+1)
			if err != nil {
				return nil, err
			}
			o[k] = e
		}
		*v = o
	default:
		return nil, fmt.Errorf("%w: unknown value tag %d", ErrDecode, tag)
	}
	return buf, nil
}

func appendID(buf []byte, id ID) []byte {
	buf = appendUint(buf, id.Client)
	return appendUint(buf, id.Clock)
}

func decodeID(buf []byte, id *ID) ([]byte, error) {
	buf, err := decodeUint(buf, &id.Client)
	if err != nil {
		return nil, err
	}
	return decodeUint(buf, &id.Clock)
}

// Encode returns the binary form of the state vector.
func (sv StateVector) Encode() []byte {
	clients := sv.clients()
	buf := appendUint(nil, uint64(len(clients)))
	for _, c := range clients {
		buf = appendUint(buf, c)
		buf = appendUint(buf, sv[c])
	}
	return buf
}

// DecodeStateVector parses the output of StateVector.Encode.
func DecodeStateVector(buf []byte) (StateVector, error) {
	var n int
	buf, err := decodeCount(buf, &n)
	if err != nil {
		return nil, fmt.Errorf("state vector: %w", err)
	}
	sv := make(StateVector, n)
	for i := 0; i < n; i++ {
		var client, clock uint64
		buf, err = decodeUint(buf, &client)
		if err != nil {
			return nil, fmt.Errorf("state vector client: %w", err)
		}
		buf, err = decodeUint(buf, &clock)
		if err != nil {
			return nil, fmt.Errorf("state vector clock: %w", err)
		}
		sv[client] = clock
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after state vector", ErrDecode, len(buf))
	}
	return sv, nil
}

func appendIDSet(buf []byte, s idSet) []byte {
	clients := s.clients()
	buf = appendUint(buf, uint64(len(clients)))
	for _, c := range clients {
		buf = appendUint(buf, c)
		buf = appendUint(buf, uint64(len(s[c])))
		for _, r := range s[c] {
			buf = appendUint(buf, r.clock)
			buf = appendUint(buf, r.len)
		}
	}
	return buf
}

func decodeIDSet(buf []byte, s idSet) ([]byte, error) {
	var n int
	buf, err := decodeCount(buf, &n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		var client uint64
		var ranges int
		buf, err = decodeUint(buf, &client)
		if err != nil {
			return nil, err
		}
		buf, err = decodeCount(buf, &ranges)
		if err != nil {
			return nil, err
		}
		for j := 0; j < ranges; j++ {
			var clock, l uint64
			buf, err = decodeUint(buf, &clock)
			if err != nil {
				return nil, err
			}
			buf, err = decodeUint(buf, &l)
			if err != nil {
				return nil, err
			}
			if clock+l < clock {
				return nil, fmt.Errorf("%w: delete range overflows", ErrDecode)
			}
			s.add(client, clock, l)
		}
	}
	return buf, nil
}

// parentRef names the container an item belongs to: a root by name or a
// nested container by the ID of the item holding it.
type parentRef struct {
	root bool
	name string
	id   ID
}

// block is the wire form of one item, or of a run of unknown clocks (skip).
type block struct {
	id          ID
	skip        uint64
	origin      *ID
	rightOrigin *ID
	parent      parentRef
	keyed       bool
	parentSub   string
	content     content
}

func (b *block) isSkip() bool { return b.content == nil }

func (b *block) length() uint64 {
	if b.isSkip() {
		return b.skip
	}
	return 1
}

func (b *block) end() uint64 { return b.id.Clock + b.length() }

// blockOf captures an integrated item in its wire form.
func blockOf(it *item) *block {
	b := &block{
		id:          it.id,
		origin:      it.origin,
		rightOrigin: it.rightOrigin,
		keyed:       it.keyed,
		parentSub:   it.parentSub,
		content:     it.content,
	}
	switch {
	case it.orphanOf != nil:
		b.parent = *it.orphanOf
	case it.parent.item == nil:
		b.parent = parentRef{root: true, name: it.parent.name}
	default:
		b.parent = parentRef{id: it.parent.item.id}
	}
	return b
}

func appendBlock(buf []byte, b *block) []byte {
	if b.isSkip() {
		buf = append(buf, refSkip)
		return appendUint(buf, b.skip)
	}
	info := b.content.ref()
	if b.origin != nil {
		info |= infoOrigin
	}
	if b.rightOrigin != nil {
		info |= infoRightOrigin
	}
	if b.keyed {
		info |= infoKeyed
	}
	buf = append(buf, info)
	if b.origin != nil {
		buf = appendID(buf, *b.origin)
	}
	if b.rightOrigin != nil {
		buf = appendID(buf, *b.rightOrigin)
	}
	if b.parent.root {
		buf = appendUint(buf, 1)
		buf = appendString(buf, b.parent.name)
	} else {
		buf = appendUint(buf, 0)
		buf = appendID(buf, b.parent.id)
	}
	if b.keyed {
		buf = appendString(buf, b.parentSub)
	}
	return appendContent(buf, b.content)
}

func appendContent(buf []byte, c content) []byte {
	switch x := c.(type) {
	case deletedContent:
	case stringContent:
		buf = appendString(buf, string(x.r))
	case embedContent:
		buf = appendValue(buf, x.v)
	case formatContent:
		buf = appendString(buf, x.key)
		buf = appendValue(buf, x.v)
	case *typeContent:
		buf = appendUint(buf, uint64(x.kind))
		if x.kind == KindXmlElement {
			buf = appendString(buf, x.tag)
		}
	case anyContent:
		buf = appendValue(buf, x.v)
	case *docContent:
		buf = appendString(buf, x.guid)
		load := uint64(0)
		if x.shouldLoad {
			load = 1
		}
		buf = appendUint(buf, load)
	default:
		panic(fmt.Sprintf("appendContent: unknown content %T", c))
	}
	return buf
}

func decodeBlock(buf []byte, b *block) ([]byte, error) {
	var info byte
	buf, err := decodeByte(buf, &info)
	if err != nil {
		return nil, err
	}
	ref := info & infoRefMask
	if ref == refSkip {
		buf, err = decodeUint(buf, &b.skip)
		if err != nil {
			return nil, err
		}
		if b.skip == 0 {
			return nil, fmt.Errorf("%w: empty skip", ErrDecode)
		}
		return buf, nil
	}
	if info&infoOrigin != 0 {
		b.origin = &ID{}
		if buf, err = decodeID(buf, b.origin); err != nil {
			return nil, err
		}
	}
	if info&infoRightOrigin != 0 {
		b.rightOrigin = &ID{}
		if buf, err = decodeID(buf, b.rightOrigin); err != nil {
			return nil, err
		}
	}
	var isRoot uint64
	if buf, err = decodeUint(buf, &isRoot); err != nil {
		return nil, err
	}
	switch isRoot {
	case 1:
		b.parent.root = true
		buf, err = decodeString(buf, &b.parent.name)
	case 0:
		buf, err = decodeID(buf, &b.parent.id)
	default:
		err = fmt.Errorf("%w: bad parent marker %d", ErrDecode, isRoot)
	}
	if err != nil {
		return nil, err
	}
	if info&infoKeyed != 0 {
		b.keyed = true
		if buf, err = decodeString(buf, &b.parentSub); err != nil {
			return nil, err
		}
	}
	return decodeContent(buf, ref, &b.content)
}

func decodeContent(buf []byte, ref byte, c *content) ([]byte, error) {
	var err error
	switch ref {
	case refDeleted:
		*c = deletedContent{}
	case refString:
		var s string
		if buf, err = decodeString(buf, &s); err != nil {
			return nil, err
		}
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 || size != len(s) {
			return nil, fmt.Errorf("%w: string content must hold one character", ErrDecode)
		}
		*c = stringContent{r}
	case refEmbed, refAny:
		var v Value
		if buf, err = decodeValue(buf, &v); err != nil {
			return nil, err
		}
		if ref == refEmbed {
			*c = embedContent{v}
		} else {
			*c = anyContent{v}
		}
	case refFormat:
		var f formatContent
		if buf, err = decodeString(buf, &f.key); err != nil {
			return nil, err
		}
		if buf, err = decodeValue(buf, &f.v); err != nil {
			return nil, err
		}
		*c = f
	case refType:
		var k uint64
		if buf, err = decodeUint(buf, &k); err != nil {
			return nil, err
		}
		t := &typeContent{kind: Kind(k)}
		switch t.kind {
		case KindArray, KindMap, KindText, KindXmlFragment, KindXmlText:
		case KindXmlElement:
			if buf, err = decodeString(buf, &t.tag); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown type ref %d", ErrDecode, k)
		}
		*c = t
	case refDoc:
		d := &docContent{}
		if buf, err = decodeString(buf, &d.guid); err != nil {
			return nil, err
		}
		var load uint64
		if buf, err = decodeUint(buf, &load); err != nil {
			return nil, err
		}
		d.shouldLoad = load != 0
		*c = d
	default:
		return nil, fmt.Errorf("%w: unknown content ref %d", ErrDecode, ref)
	}
	return buf, nil
}

// update is a decoded update: per-client runs of blocks plus a delete set.
// Each run is contiguous in clock order.
type update struct {
	groups map[uint64][]*block
	ds     idSet
}

func newUpdate() *update {
	return &update{groups: map[uint64][]*block{}, ds: idSet{}}
}

func (u *update) clients() []uint64 {
	out := make([]uint64, 0, len(u.groups))
	for c, g := range u.groups {
		if len(g) > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// empty reports whether applying the update can have no effect.
func (u *update) empty() bool {
	for _, g := range u.groups {
		for _, b := range g {
			if !b.isSkip() {
				return false
			}
		}
	}
	return u.ds.empty()
}

func (u *update) encode() []byte {
	clients := u.clients()
	buf := appendUint(nil, uint64(len(clients)))
	for _, c := range clients {
		g := u.groups[c]
		buf = appendUint(buf, uint64(len(g)))
		buf = appendUint(buf, c)
		buf = appendUint(buf, g[0].id.Clock)
		for _, b := range g {
			buf = appendBlock(buf, b)
		}
	}
	return appendIDSet(buf, u.ds)
}

func decodeUpdate(buf []byte) (*update, error) {
	u := newUpdate()
	var groups int
	buf, err := decodeCount(buf, &groups)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	for i := 0; i < groups; i++ {
		var n int
		var client, clock uint64
		if buf, err = decodeCount(buf, &n); err != nil {
			return nil, fmt.Errorf("update group: %w", err)
		}
		if buf, err = decodeUint(buf, &client); err != nil {
			return nil, fmt.Errorf("update group client: %w", err)
		}
		if buf, err = decodeUint(buf, &clock); err != nil {
			return nil, fmt.Errorf("update group clock: %w", err)
		}
		g := make([]*block, 0, n)
		for j := 0; j < n; j++ {
			b := &block{id: ID{client, clock}}
			if buf, err = decodeBlock(buf, b); err != nil {
				return nil, fmt.Errorf("struct %s: %w", b.id, err)
			}
			if b.end() < clock {
				return nil, fmt.Errorf("%w: clock overflow", ErrDecode)
			}
			clock = b.end()
			g = append(g, b)
		}
		if len(g) > 0 {
			u.groups[client] = append(u.groups[client], g...)
		}
	}
	if buf, err = decodeIDSet(buf, u.ds); err != nil {
		return nil, fmt.Errorf("delete set: %w", err)
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after update", ErrDecode, len(buf))
	}
	return u, nil
}
