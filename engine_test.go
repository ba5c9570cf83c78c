package redisclient

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEngine wires an Engine to one end of an in-memory net.Pipe, leaving
// the other end (the "server" side) for the test to drive by hand: a
// minimal fixture standing in for a real Redis server, grounded on the
// teacher's own startTestServer helper pattern but built on this module's
// own Parser/Framer instead of a real listener or a peer client library.
func testEngine(t *testing.T) (*Engine, net.Conn) {
	t.Helper()
	client, server := net.Pipe()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e := NewEngine(logger, nil)
	e.BeginConnecting()
	e.Attach(client)
	t.Cleanup(func() { e.Disconnect() })
	return e, server
}

// frameReader decodes a sequence of RESP array-of-bulk-strings requests
// off a net.Conn one at a time, retaining whatever trails a completed
// frame in one Read across calls -- necessary since a pipelined batch
// arrives as several frames in a single underlying read.
type frameReader struct {
	conn    io.Reader
	pending []byte
}

func newFrameReader(conn io.Reader) *frameReader { return &frameReader{conn: conn} }

func (fr *frameReader) ReadCommand(t *testing.T) []string {
	t.Helper()
	p := NewParser()
	data := fr.pending
	fr.pending = nil
	buf := make([]byte, 512)
	for {
		if len(data) > 0 {
			consumed, status := p.Parse(data)
			if status == StatusCompleted {
				fr.pending = append([]byte(nil), data[consumed:]...)
				v := p.Take()
				out := make([]string, 0, len(v.Array()))
				for _, el := range v.Array() {
					out = append(out, el.Str())
				}
				return out
			}
			require.NotEqual(t, StatusError, status)
		}
		n, err := fr.conn.Read(buf)
		require.NoError(t, err)
		data = buf[:n]
	}
}

// readCommand is a one-shot convenience wrapper for tests that only ever
// expect a single frame per read.
func readCommand(t *testing.T, r io.Reader) []string {
	t.Helper()
	return newFrameReader(r).ReadCommand(t)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestEngineReplyOrdering(t *testing.T) {
	e, server := testEngine(t)

	var order []int
	done := make(chan struct{}, 3)
	for i := 1; i <= 3; i++ {
		i := i
		ok := e.SubmitCommand(NewCommand("PING"), func(v Value) {
			order = append(order, i)
			done <- struct{}{}
		})
		require.True(t, ok)
		readCommand(t, server)
	}

	go func() {
		server.Write([]byte("+1\r\n+2\r\n+3\r\n"))
	}()

	for i := 0; i < 3; i++ {
		waitFor(t, done)
	}
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEngineAtMostOnceCompletionOnClose(t *testing.T) {
	e, server := testEngine(t)

	results := make(chan Value, 2)
	require.True(t, e.SubmitCommand(NewCommand("GET", "a"), func(v Value) { results <- v }))
	require.True(t, e.SubmitCommand(NewCommand("GET", "b"), func(v Value) { results <- v }))
	readCommand(t, server)
	readCommand(t, server)

	var gotErr error
	errSeen := make(chan struct{}, 1)
	e.InstallErrorHandler(func(err error) {
		gotErr = err
		errSeen <- struct{}{}
	})

	server.Close()

	waitFor(t, errSeen)
	var transportErr *TransportError
	assert.ErrorAs(t, gotErr, &transportErr)

	select {
	case <-results:
		t.Fatal("async reply callback must never fire for a connection closed mid-command")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Eventually(t, func() bool { return e.State() == StateClosed }, time.Second, 10*time.Millisecond)
}

func TestEngineSubscribedReturnsToConnectedAfterLastUnsubscribeAck(t *testing.T) {
	e, server := testEngine(t)

	h := e.Subscribe("ch1", func([]byte) {}, func(Value) {})
	readCommand(t, server)
	go server.Write([]byte("+OK\r\n"))

	assert.Eventually(t, func() bool { return e.State() == StateSubscribed }, time.Second, 10*time.Millisecond)

	e.Unsubscribe(h)
	unsub := readCommand(t, server)
	assert.Equal(t, []string{"UNSUBSCRIBE", "ch1"}, unsub)

	assert.Equal(t, StateSubscribed, e.State(), "state must not flip before the server acks the UNSUBSCRIBE")
	go server.Write([]byte("*3\r\n$11\r\nunsubscribe\r\n$3\r\nch1\r\n$1\r\n0\r\n"))

	assert.Eventually(t, func() bool { return e.State() == StateConnected }, time.Second, 10*time.Millisecond)
}

func TestEngineStateGating(t *testing.T) {
	e := NewEngine(nil, nil)

	var gotErr error
	e.InstallErrorHandler(func(err error) { gotErr = err })

	ok := e.SubmitCommand(NewCommand("PING"), func(Value) {})
	assert.False(t, ok)
	require.Error(t, gotErr)
	var stateErr *StateError
	assert.ErrorAs(t, gotErr, &stateErr)
}

func TestEngineSubscriptionRoutingOnlyMatchingChannel(t *testing.T) {
	e, server := testEngine(t)

	var ch1Payloads, ch2Payloads [][]byte
	ackDone := make(chan struct{}, 2)
	e.Subscribe("ch1", func(p []byte) { ch1Payloads = append(ch1Payloads, p) }, func(Value) { ackDone <- struct{}{} })
	readCommand(t, server)
	e.Subscribe("ch2", func(p []byte) { ch2Payloads = append(ch2Payloads, p) }, func(Value) { ackDone <- struct{}{} })
	readCommand(t, server)

	go func() {
		server.Write([]byte("+OK\r\n+OK\r\n"))
		server.Write([]byte("*3\r\n$7\r\nmessage\r\n$3\r\nch1\r\n$2\r\nhi\r\n"))
	}()

	waitFor(t, ackDone)
	waitFor(t, ackDone)
	assert.Eventually(t, func() bool { return len(ch1Payloads) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hi", string(ch1Payloads[0]))
	assert.Empty(t, ch2Payloads)
}

func TestEngineMessageDeliveryDoesNotPopReplyQueue(t *testing.T) {
	e, server := testEngine(t)

	var delivered []byte
	subAck := make(chan struct{}, 1)
	e.Subscribe("ch1", func(p []byte) { delivered = p }, func(Value) { subAck <- struct{}{} })
	readCommand(t, server)

	pingResult := make(chan Value, 1)
	require.True(t, e.SubmitCommand(NewCommand("PING"), func(v Value) { pingResult <- v }))
	readCommand(t, server)

	go func() {
		server.Write([]byte("+OK\r\n"))
		server.Write([]byte("*3\r\n$7\r\nmessage\r\n$3\r\nch1\r\n$2\r\nhi\r\n"))
		server.Write([]byte("+PONG\r\n"))
	}()

	waitFor(t, subAck)
	assert.Eventually(t, func() bool { return delivered != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hi", string(delivered))

	select {
	case v := <-pingResult:
		assert.Equal(t, BytesValueString("PONG"), v)
	case <-time.After(2 * time.Second):
		t.Fatal("PING reply was consumed by pub/sub dispatch instead of the reply queue")
	}
}

func TestEngineSingleShotSubscribeFiresOnceThenAutoUnsubscribes(t *testing.T) {
	e, server := testEngine(t)

	count := 0
	fired := make(chan struct{}, 1)
	subAck := make(chan struct{}, 1)
	e.SingleShotSubscribe("news", func(p []byte) {
		count++
		fired <- struct{}{}
	}, func(Value) { subAck <- struct{}{} })
	readCommand(t, server)

	go server.Write([]byte("+OK\r\n"))
	waitFor(t, subAck)

	go server.Write([]byte("*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$3\r\nfoo\r\n"))
	waitFor(t, fired)

	unsub := readCommand(t, server)
	assert.Equal(t, []string{"UNSUBSCRIBE", "news"}, unsub)
	assert.Equal(t, 1, count)
}
