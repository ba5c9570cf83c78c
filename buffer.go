package redisclient

/*
Command Argument Buffers

A Buffer wraps one command name or argument on its way into the Framer.
It is read-only after construction and exposes a zero-copy view of its
stored bytes. A Buffer built from a string holds its own copy of the
string's bytes; one built from a byte slice holds that slice itself.
*/

// Buffer is an opaque, immutable command-argument payload. It is
// constructed once from either owned text or an owned byte sequence and
// never mutated afterward.
type Buffer struct {
	data []byte
}

// NewBufferString constructs a Buffer from text. The string's bytes are
// copied once into the Buffer by the []byte conversion.
func NewBufferString(s string) Buffer {
	return Buffer{data: []byte(s)}
}

// NewBufferBytes constructs a Buffer from an owned byte sequence. The
// caller must not mutate b after passing it in.
func NewBufferBytes(b []byte) Buffer {
	return Buffer{data: b}
}

// Len returns the number of bytes in the buffer.
func (b Buffer) Len() int { return len(b.data) }

// Bytes returns a zero-copy view of the buffer's bytes. Callers must treat
// the result as read-only.
func (b Buffer) Bytes() []byte { return b.data }

// Command is an ordered sequence of Buffers with length >= 1; element 0 is
// the command name, the rest are arguments.
type Command []Buffer

// NewCommand builds a Command from a name and a variadic list of string
// arguments, the common case for callers issuing a single call.
func NewCommand(name string, args ...string) Command {
	cmd := make(Command, 0, len(args)+1)
	cmd = append(cmd, NewBufferString(name))
	for _, a := range args {
		cmd = append(cmd, NewBufferString(a))
	}
	return cmd
}

// NewCommandBuffers builds a Command directly from Buffers, for callers
// that already have binary argument payloads on hand.
func NewCommandBuffers(name Buffer, args ...Buffer) Command {
	cmd := make(Command, 0, len(args)+1)
	cmd = append(cmd, name)
	cmd = append(cmd, args...)
	return cmd
}
