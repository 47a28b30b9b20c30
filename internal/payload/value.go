package payload

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBoolean
	KindSequence
	KindMapping
)

// KeyWidth bounds the stringified part of a dedup key.
const KeyWidth = 50

var kindNames = map[Kind]string{
	KindNull:     "null",
	KindInteger:  "integer",
	KindFloat:    "float",
	KindText:     "text",
	KindBoolean:  "boolean",
	KindSequence: "sequence",
	KindMapping:  "mapping",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind name as printed by Kind.String.
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if kindName == strings.ToLower(strings.TrimSpace(name)) {
			return kind, nil
		}
	}
	return KindNull, fmt.Errorf("unknown payload kind: %s", name)
}

// Value is a dynamically typed candidate input. The zero value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
	seq  []Value
	m    map[string]Value
}

func Null() Value { return Value{} }
func Int(v int64) Value { return Value{kind: KindInteger, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func Text(v string) Value { return Value{kind: KindText, s: v} }
func Bool(v bool) Value { return Value{kind: KindBoolean, b: v} }
func Seq(items ...Value) Value { return Value{kind: KindSequence, seq: cloneSeq(items)} }
func Map(m map[string]Value) Value {
	return Value{kind: KindMapping, m: cloneMap(m)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) TypeName() string { return v.kind.String() }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInteger
}

func (v Value) AsFloat() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) AsText() (string, bool) {
	return v.s, v.kind == KindText
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBoolean
}

// AsSeq returns a copy of the sequence items.
func (v Value) AsSeq() ([]Value, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	return cloneSeq(v.seq), true
}

// AsMap returns a copy of the mapping entries.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMapping {
		return nil, false
	}
	return cloneMap(v.m), true
}

// Numeric reports the value as float64 for integers and floats.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Len is the size of text, sequence and mapping values.
func (v Value) Len() (int, bool) {
	switch v.kind {
	case KindText:
		return len(v.s), true
	case KindSequence:
		return len(v.seq), true
	case KindMapping:
		return len(v.m), true
	default:
		return 0, false
	}
}

func (v Value) Clone() Value {
	switch v.kind {
	case KindSequence:
		return Value{kind: KindSequence, seq: cloneSeq(v.seq)}
	case KindMapping:
		return Value{kind: KindMapping, m: cloneMap(v.m)}
	default:
		return v
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInteger:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case KindText:
		return v.s == other.s
	case KindBoolean:
		return v.b == other.b
	case KindSequence:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(other.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, item := range v.m {
			o, ok := other.m[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		switch {
		case math.IsInf(v.f, 1):
			return "inf"
		case math.IsInf(v.f, -1):
			return "-inf"
		case math.IsNaN(v.f):
			return "nan"
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindSequence:
		parts := make([]string, 0, len(v.seq))
		for _, item := range v.seq {
			parts = append(parts, item.Repr())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMapping:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, strconv.Quote(k)+": "+v.m[k].Repr())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return ""
}

// Repr is String with text quoted, used for evidence.
func (v Value) Repr() string {
	if v.kind == KindText {
		return strconv.Quote(v.s)
	}
	return v.String()
}

// Key is the dedup key: type name plus truncated stringification.
func (v Value) Key() string {
	return v.TypeName() + ":" + Truncate(v.String(), KeyWidth)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func cloneSeq(items []Value) []Value {
	if items == nil {
		return []Value{}
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

func cloneMap(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, item := range m {
		out[k] = item.Clone()
	}
	return out
}
