package redisclient

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseWhole feeds buf into a fresh Parser in one call and returns the
// decoded value, requiring a Completed status with nothing left over.
func parseWhole(t *testing.T, buf []byte) Value {
	t.Helper()
	p := NewParser()
	consumed, status := p.Parse(buf)
	require.Equal(t, StatusCompleted, status)
	require.Equal(t, len(buf), consumed)
	return p.Take()
}

func TestParserLiteralScenarios(t *testing.T) {
	t.Run("E1 simple string", func(t *testing.T) {
		v := parseWhole(t, []byte("+PONG\r\n"))
		assert.Equal(t, BytesValueString("PONG"), v)
		assert.True(t, v.IsOK())
		assert.False(t, v.IsError())
	})

	t.Run("E2 error", func(t *testing.T) {
		v := parseWhole(t, []byte("-ERR unknown command\r\n"))
		assert.True(t, v.IsError())
		assert.Equal(t, "ERR unknown command", v.ErrorMessage())
	})

	t.Run("E3 integer", func(t *testing.T) {
		v := parseWhole(t, []byte(":-123\r\n"))
		assert.Equal(t, IntValue(-123), v)
	})

	t.Run("E4 bulk string binary safety", func(t *testing.T) {
		v := parseWhole(t, []byte("$5\r\nhel\r\no\r\n"))
		assert.Equal(t, BytesValueString("hel\r\n"), v)
	})

	t.Run("E5 flat array", func(t *testing.T) {
		v := parseWhole(t, []byte("*3\r\n:1\r\n:2\r\n$3\r\nfoo\r\n"))
		assert.Equal(t, ArrayValue([]Value{IntValue(1), IntValue(2), BytesValueString("foo")}), v)
	})

	t.Run("null bulk and array", func(t *testing.T) {
		assert.True(t, parseWhole(t, []byte("$-1\r\n")).IsNull())
		assert.True(t, parseWhole(t, []byte("*-1\r\n")).IsNull())
	})
}

// TestParserChunkBoundaryInvariant is property 1: every possible split of
// a well-formed frame into two chunks yields the same result as feeding it
// whole, with Incomplete on every chunk but the last.
func TestParserChunkBoundaryInvariant(t *testing.T) {
	frame := []byte("*3\r\n$7\r\nmessage\r\n$3\r\nch1\r\n$2\r\nhi\r\n")
	want := parseWhole(t, frame)

	for split := 1; split < len(frame); split++ {
		p := NewParser()
		consumed1, status1 := p.Parse(frame[:split])
		require.Equal(t, split, consumed1, "split=%d", split)
		require.Equal(t, StatusIncomplete, status1, "split=%d", split)

		consumed2, status2 := p.Parse(frame[split:])
		require.Equal(t, len(frame)-split, consumed2, "split=%d", split)
		require.Equal(t, StatusCompleted, status2, "split=%d", split)
		assert.True(t, want.Equal(p.Take()), "split=%d", split)
	}
}

// TestParserByteAtATimeInvariant is the same invariant taken to the
// extreme: one byte per Parse call.
func TestParserByteAtATimeInvariant(t *testing.T) {
	frame := []byte("*2\r\n$3\r\nfoo\r\n:7\r\n")
	p := NewParser()
	var status Status
	for i := 0; i < len(frame); i++ {
		var consumed int
		consumed, status = p.Parse(frame[i : i+1])
		require.Equal(t, 1, consumed)
		if i < len(frame)-1 {
			require.Equal(t, StatusIncomplete, status)
		}
	}
	require.Equal(t, StatusCompleted, status)
	assert.Equal(t, ArrayValue([]Value{BytesValueString("foo"), IntValue(7)}), p.Take())
}

// TestFrameParseRoundTrip is property 2: frame(command) parses back into
// an Array of Bytes equal to the command's arguments byte-for-byte.
func TestFrameParseRoundTrip(t *testing.T) {
	cmd := NewCommand("SET", "key", "val")
	v := parseAsCommandEcho(t, Frame(cmd))
	require.True(t, v.IsArray())
	got := v.Array()
	require.Len(t, got, 3)
	assert.Equal(t, "SET", got[0].Str())
	assert.Equal(t, "key", got[1].Str())
	assert.Equal(t, "val", got[2].Str())
}

// parseAsCommandEcho parses a RESP array-of-bulk-strings frame as if it
// were itself a reply, exercising the same Array/Bytes decode path a
// server's echo would produce.
func parseAsCommandEcho(t *testing.T, frame []byte) Value {
	return parseWhole(t, frame)
}

// TestParserBinarySafety is property 3: a bulk string containing every
// byte value 0..=255 round-trips exactly.
func TestParserBinarySafety(t *testing.T) {
	body := make([]byte, 256)
	for i := range body {
		body[i] = byte(i)
	}
	var buf bytes.Buffer
	buf.WriteString("$256\r\n")
	buf.Write(body)
	buf.WriteString("\r\n")

	v := parseWhole(t, buf.Bytes())
	assert.Equal(t, body, v.Bytes())
}

// TestParserMalformedInputs is property 4.
func TestParserMalformedInputs(t *testing.T) {
	cases := map[string]string{
		"bad type byte":          "X3\r\n",
		"non-digit bulk size":    "$3x\r\nfoo\r\n",
		"mismatched CRLF":        "$3\r\nfooXX",
		"bulk size below -1":     "$-2\r\n",
		"array size below -1":    "*-2\r\n",
		"lone sign no digits":    ":-\r\n",
		"mismatched integer CRLF": ":123X\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewParser()
			_, status := p.Parse([]byte(input))
			assert.Equal(t, StatusError, status)

			// Terminal until Reset: further input keeps returning Error.
			_, status2 := p.Parse([]byte("+PONG\r\n"))
			assert.Equal(t, StatusError, status2)

			p.Reset()
			v := parseWhole(t, []byte("+PONG\r\n"))
			assert.Equal(t, BytesValueString("PONG"), v)
		})
	}
}

// TestParserDeeplyNestedArrays is property 5.
func TestParserDeeplyNestedArrays(t *testing.T) {
	const depth = 32
	var buf bytes.Buffer
	for i := 0; i < depth; i++ {
		buf.WriteString("*2\r\n")
		buf.WriteString(":")
		buf.WriteString(itoa(i))
		buf.WriteString("\r\n")
	}
	buf.WriteString("$3\r\nend\r\n")

	v := parseWhole(t, buf.Bytes())

	cur := v
	for i := 0; i < depth; i++ {
		require.True(t, cur.IsArray(), "depth %d", i)
		elems := cur.Array()
		require.Len(t, elems, 2)
		assert.Equal(t, IntValue(int64(i)), elems[0], "depth %d", i)
		cur = elems[1]
	}
	assert.Equal(t, BytesValueString("end"), cur)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
