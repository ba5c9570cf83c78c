/*
Package redisclient implements a RESP2 (REdis Serialization Protocol) client
core: a resumable wire parser, a command framer, a connection/dispatch
engine, and blocking and non-blocking facades on top of it.

This file defines Value, the tagged sum every RESP reply decodes into.
*/
package redisclient

import (
	"bytes"
	"fmt"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindBytes
	KindArray
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged sum of the five RESP2 reply shapes: Null,
// Int64, Bytes, Array and Error. Exactly one field is meaningful at a time,
// selected by Kind. Bytes payloads are always copied on construction so a
// Value never aliases parser scratch memory that may be reused.
type Value struct {
	kind  Kind
	n     int64
	bytes []byte
	arr   []Value
}

// NullValue returns the RESP nil value ($-1\r\n or *-1\r\n).
func NullValue() Value { return Value{kind: KindNull} }

// IntValue wraps a signed 64-bit integer reply.
func IntValue(n int64) Value { return Value{kind: KindInt, n: n} }

// BytesValue copies b into a new Bytes value. Used for both bulk strings
// and simple strings; binary-safe, may contain any byte including NUL.
func BytesValue(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

// BytesValueString is a convenience constructor for a Bytes value from text.
func BytesValueString(s string) Value {
	return BytesValue([]byte(s))
}

// ArrayValue wraps an ordered, possibly empty, possibly nested sequence of
// Values. The slice is taken as given (not copied) since Array values are
// always built bottom-up by either the parser or the caller.
func ArrayValue(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ErrorValue copies msg into a new Error value, carrying a server error
// message such as "ERR unknown command". An Error is orthogonal to the
// other variants: it is never also an Array, Int, or Bytes.
func ErrorValue(msg []byte) Value {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	return Value{kind: KindError, bytes: cp}
}

// ErrorValueString is a convenience constructor for an Error value from text.
func ErrorValueString(s string) Value {
	return ErrorValue([]byte(s))
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) IsInt() bool   { return v.kind == KindInt }
func (v Value) IsBytes() bool { return v.kind == KindBytes }
func (v Value) IsArray() bool { return v.kind == KindArray }
func (v Value) IsError() bool { return v.kind == KindError }

// IsOK reports whether v is not an Error. Named to match the "is this a
// usable reply" question callers actually ask.
func (v Value) IsOK() bool { return v.kind != KindError }

// Int returns the wrapped integer, or 0 if v is not an Int. Never panics.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		return 0
	}
	return v.n
}

// Bytes returns the wrapped payload for Bytes or Error values, or an empty
// slice otherwise. Never panics. The returned slice is owned by the
// caller; mutating it does not affect v.
func (v Value) Bytes() []byte {
	if v.kind != KindBytes && v.kind != KindError {
		return []byte{}
	}
	cp := make([]byte, len(v.bytes))
	copy(cp, v.bytes)
	return cp
}

// Str is a lossy convenience accessor returning Bytes()/error message as a
// Go string.
func (v Value) Str() string {
	if v.kind != KindBytes && v.kind != KindError {
		return ""
	}
	return string(v.bytes)
}

// Array returns the wrapped element sequence, or an empty slice if v is
// not an Array. Never panics.
func (v Value) Array() []Value {
	if v.kind != KindArray {
		return []Value{}
	}
	out := make([]Value, len(v.arr))
	copy(out, v.arr)
	return out
}

// ErrorMessage returns the carried server error text, or "" if v is not an
// Error.
func (v Value) ErrorMessage() string {
	if v.kind != KindError {
		return ""
	}
	return string(v.bytes)
}

// Equal reports structural equality. Error and Bytes values with identical
// payloads are NOT equal to each other: the tag is part of identity.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.n == other.n
	case KindBytes, KindError:
		return bytes.Equal(v.bytes, other.bytes)
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer, rendering a human-readable debug form:
// nil, decimal integers, quoted-and-escaped byte strings, bracketed arrays,
// and "error: <msg>" for errors. Equivalent to Inspect.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "nil"
	case KindInt:
		return fmt.Sprintf("%d", v.n)
	case KindBytes:
		return quoteEscape(v.bytes)
	case KindArray:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
		}
		b.WriteByte(']')
		return b.String()
	case KindError:
		return "error: " + string(v.bytes)
	default:
		return "<invalid>"
	}
}

// Inspect is an alias for String, named for the RESP debug-rendering
// convention used elsewhere in this package.
func (v Value) Inspect() string { return v.String() }

// quoteEscape renders b as a double-quoted sequence with non-printable
// bytes (< 0x20 or >= 0x7f, besides the escapes below) shown as \xHH.
func quoteEscape(b []byte) string {
	var out bytes.Buffer
	out.WriteByte('"')
	for _, c := range b {
		switch c {
		case '"':
			out.WriteString(`\"`)
		case '\\':
			out.WriteString(`\\`)
		case '\r':
			out.WriteString(`\r`)
		case '\n':
			out.WriteString(`\n`)
		case '\t':
			out.WriteString(`\t`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&out, `\x%02x`, c)
			} else {
				out.WriteByte(c)
			}
		}
	}
	out.WriteByte('"')
	return out.String()
}
