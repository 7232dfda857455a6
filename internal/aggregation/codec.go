package aggregation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCodec marks failures to encode or decode a stored entry.
var ErrCodec = errors.New("aggregation: codec failure")

// Key identifies the aggregate a unit of work belongs to.
type Key string

// KeyCodec converts keys to and from their stored form.
type KeyCodec interface {
	Marshal(k Key) ([]byte, error)
	Unmarshal(b []byte) (Key, error)
}

// StringKeyCodec stores keys as their raw UTF-8 bytes.
type StringKeyCodec struct{}

func (StringKeyCodec) Marshal(k Key) ([]byte, error) {
	if k == "" {
		return nil, fmt.Errorf("%w: empty correlation key", ErrCodec)
	}
	return []byte(k), nil
}

func (StringKeyCodec) Unmarshal(b []byte) (Key, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("%w: empty correlation key", ErrCodec)
	}
	return Key(b), nil
}

// value kinds on the wire
const (
	kindNil protowire.Number = iota + 1
	kindString
	kindBool
	kindInt
	kindInt32
	kindInt64
	kindUint
	kindUint32
	kindUint64
	kindFloat32
	kindFloat64
	kindBytes
	kindTime
	kindList
	kindStrings
	kindMap
	kindStringMap
)

// Value message fields
const (
	fieldKind    protowire.Number = 1
	fieldVarint  protowire.Number = 2
	fieldFixed   protowire.Number = 3
	fieldBytes   protowire.Number = 4
	fieldElement protowire.Number = 5
	fieldEntry   protowire.Number = 6
)

// Entry message fields
const (
	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2
)

// portable reports whether v survives encodeValue unchanged.
func portable(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, int, int32, int64, uint, uint32, uint64, float32, float64, []byte, time.Time, []string, map[string]string:
		return true
	case []any:
		for _, e := range t {
			if !portable(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range t {
			if !portable(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func appendKind(b []byte, k protowire.Number) []byte {
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(k))
}

func appendVarintField(b []byte, v uint64) []byte {
	b = protowire.AppendTag(b, fieldVarint, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// encodeValue appends the encoding of v. v must be portable.
func encodeValue(b []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return appendKind(b, kindNil), nil
	case string:
		b = appendKind(b, kindString)
		return appendBytesField(b, fieldBytes, []byte(t)), nil
	case bool:
		b = appendKind(b, kindBool)
		return appendVarintField(b, protowire.EncodeBool(t)), nil
	case int:
		b = appendKind(b, kindInt)
		return appendVarintField(b, protowire.EncodeZigZag(int64(t))), nil
	case int32:
		b = appendKind(b, kindInt32)
		return appendVarintField(b, protowire.EncodeZigZag(int64(t))), nil
	case int64:
		b = appendKind(b, kindInt64)
		return appendVarintField(b, protowire.EncodeZigZag(t)), nil
	case uint:
		b = appendKind(b, kindUint)
		return appendVarintField(b, uint64(t)), nil
	case uint32:
		b = appendKind(b, kindUint32)
		return appendVarintField(b, uint64(t)), nil
	case uint64:
		b = appendKind(b, kindUint64)
		return appendVarintField(b, t), nil
	case float32:
		b = appendKind(b, kindFloat32)
		b = protowire.AppendTag(b, fieldFixed, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(float64(t))), nil
	case float64:
		b = appendKind(b, kindFloat64)
		b = protowire.AppendTag(b, fieldFixed, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(t)), nil
	case []byte:
		b = appendKind(b, kindBytes)
		return appendBytesField(b, fieldBytes, t), nil
	case time.Time:
		raw, err := t.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		b = appendKind(b, kindTime)
		return appendBytesField(b, fieldBytes, raw), nil
	case []any:
		b = appendKind(b, kindList)
		for _, e := range t {
			enc, err := encodeValue(nil, e)
			if err != nil {
				return nil, err
			}
			b = appendBytesField(b, fieldElement, enc)
		}
		return b, nil
	case []string:
		b = appendKind(b, kindStrings)
		for _, e := range t {
			b = appendBytesField(b, fieldElement, []byte(e))
		}
		return b, nil
	case map[string]any:
		b = appendKind(b, kindMap)
		for k, e := range t {
			enc, err := encodeValue(nil, e)
			if err != nil {
				return nil, err
			}
			b = appendBytesField(b, fieldEntry, encodeEntry(k, enc))
		}
		return b, nil
	case map[string]string:
		b = appendKind(b, kindStringMap)
		for k, e := range t {
			b = appendBytesField(b, fieldEntry, encodeEntry(k, []byte(e)))
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrCodec, v)
	}
}

func encodeEntry(key string, val []byte) []byte {
	var e []byte
	e = appendBytesField(e, entryKey, []byte(key))
	return appendBytesField(e, entryValue, val)
}

type rawValue struct {
	kind     protowire.Number
	varint   uint64
	fixed    uint64
	bytes    []byte
	elements [][]byte
	entries  [][]byte
}

func parseValue(b []byte) (rawValue, error) {
	var rv rawValue
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rv, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rv, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			rv.kind = protowire.Number(v)
			b = b[n:]
		case num == fieldVarint && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rv, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			rv.varint = v
			b = b[n:]
		case num == fieldFixed && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return rv, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			rv.fixed = v
			b = b[n:]
		case typ == protowire.BytesType && (num == fieldBytes || num == fieldElement || num == fieldEntry):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return rv, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			switch num {
			case fieldBytes:
				rv.bytes = v
			case fieldElement:
				rv.elements = append(rv.elements, v)
			case fieldEntry:
				rv.entries = append(rv.entries, v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rv, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return rv, nil
}

func decodeEntry(b []byte) (string, []byte, error) {
	var key string
	var val []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.BytesType {
			return "", nil, fmt.Errorf("%w: malformed map entry", ErrCodec)
		}
		b = b[n:]
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %v", ErrCodec, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case entryKey:
			key = string(v)
		case entryValue:
			val = v
		}
	}
	return key, val, nil
}

func decodeValue(b []byte) (any, error) {
	rv, err := parseValue(b)
	if err != nil {
		return nil, err
	}
	switch rv.kind {
	case kindNil:
		return nil, nil
	case kindString:
		return string(rv.bytes), nil
	case kindBool:
		return protowire.DecodeBool(rv.varint), nil
	case kindInt:
		return int(protowire.DecodeZigZag(rv.varint)), nil
	case kindInt32:
		return int32(protowire.DecodeZigZag(rv.varint)), nil
	case kindInt64:
		return protowire.DecodeZigZag(rv.varint), nil
	case kindUint:
		return uint(rv.varint), nil
	case kindUint32:
		return uint32(rv.varint), nil
	case kindUint64:
		return rv.varint, nil
	case kindFloat32:
		return float32(math.Float64frombits(rv.fixed)), nil
	case kindFloat64:
		return math.Float64frombits(rv.fixed), nil
	case kindBytes:
		return append([]byte{}, rv.bytes...), nil
	case kindTime:
		var t time.Time
		if err := t.UnmarshalBinary(rv.bytes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		return t, nil
	case kindList:
		out := make([]any, 0, len(rv.elements))
		for _, e := range rv.elements {
			v, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case kindStrings:
		out := make([]string, 0, len(rv.elements))
		for _, e := range rv.elements {
			out = append(out, string(e))
		}
		return out, nil
	case kindMap:
		out := make(map[string]any, len(rv.entries))
		for _, e := range rv.entries {
			k, raw, err := decodeEntry(e)
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(raw)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case kindStringMap:
		out := make(map[string]string, len(rv.entries))
		for _, e := range rv.entries {
			k, raw, err := decodeEntry(e)
			if err != nil {
				return nil, err
			}
			out[k] = string(raw)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind %d", ErrCodec, rv.kind)
	}
}
