package redisclient

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

/*
Engine: Connection, Dispatch, and Subscription Multiplexer

Engine owns exactly one net.Conn for its lifetime and multiplexes it among
however many commands and subscriptions the facades issue against it. Its
internal state -- the lifecycle State, the pending-reply FIFO, and the
subscription registry -- is mutated exclusively by one goroutine, the
"lane", in the style of an asio strand: every other goroutine (readers of
State, callers issuing commands) either reads an atomic field directly or
posts a lane operation and waits for its result.

Two permanent goroutines back a connected Engine:
  - the reader: a perpetual blocking Read into a fixed buffer, fed through
    the Parser; every StatusCompleted result, and every read/protocol
    failure, is handed to the lane over the incoming channel.
  - the lane: services both incoming (parsed replies, to dispatch) and ops
    (work posted by facade calls: issue a command, subscribe, close). A
    write is always performed synchronously by the lane goroutine itself,
    which is what makes "only one write in flight at a time" automatic
    rather than a queue the implementation has to manage by hand -- the
    lane simply cannot pick its next op off the channel until the current
    one's conn.Write returns.

The lane intentionally keeps running after Close/teardown rather than
exiting: a command submitted concurrently with an unsolicited close (a
read error arriving the instant a caller calls Command) must still be
able to reach the lane and be failed exactly once, per the at-most-once
completion invariant, rather than block forever on a channel nobody is
draining.
*/

const defaultReadBufferSize = 4096

type subEntry struct {
	id      uint64
	handler MessageHandler
}

type subRecord struct {
	channel string
	pattern bool
	oneShot bool
}

// engineOp is one unit of work posted to the lane from any goroutine.
type engineOp interface {
	apply(e *Engine)
}

type parseResult struct {
	value Value
	err   error
}

// replyEntry is what actually sits in the Engine's reply FIFO. onValue
// fires for a genuine decoded reply -- which may itself carry a
// server-reported error inside a Kind Error Value, carried rather than
// raised. onClosed fires instead, exactly once, if the connection
// closes before a reply arrives; it is nil for continuations that don't
// need a distinct close signal (the async facade's per-command callback
// relies solely on the installed error handler for that case instead,
// so its onClosed is left nil and the callback itself is simply never
// invoked for a transport failure -- keeping a dead connection from ever
// masquerading as a server's own -ERR reply).
type replyEntry struct {
	onValue  func(Value)
	onClosed func(error)
}

// Engine is the connection state machine, write queue, reply FIFO, and
// subscription registry. It is created empty (StateUnconnected) and
// driven through its lifecycle by a facade.
type Engine struct {
	state atomic.Int32

	conn net.Conn

	parser *Parser

	logger        *logrus.Logger
	errorHandler  ErrorHandler
	onStateChange StateChangeHandler

	ops      chan engineOp
	incoming chan parseResult

	closeOnce sync.Once

	// lane-exclusive fields below; never touched outside the lane
	// goroutine once it has started.
	replyQueue []replyEntry

	subs              map[string][]subEntry
	patternSubs       map[string][]subEntry
	singleShot        map[string][]subEntry
	patternSingleShot map[string][]subEntry
	byID              map[uint64]subRecord
	nextSubID         uint64
}

// NewEngine returns an unconnected Engine. logger and errorHandler may be
// nil, in which case logrus.StandardLogger() and a logging default are
// used respectively.
func NewEngine(logger *logrus.Logger, errorHandler ErrorHandler) *Engine {
	if logger == nil {
		logger = defaultLogger()
	}
	if errorHandler == nil {
		errorHandler = defaultErrorHandler(logger)
	}
	e := &Engine{
		logger:            logger,
		errorHandler:      errorHandler,
		ops:               make(chan engineOp, 64),
		incoming:          make(chan parseResult, 16),
		subs:              make(map[string][]subEntry),
		patternSubs:       make(map[string][]subEntry),
		singleShot:        make(map[string][]subEntry),
		patternSingleShot: make(map[string][]subEntry),
		byID:              make(map[uint64]subRecord),
	}
	e.state.Store(int32(StateUnconnected))
	return e
}

// State returns the current lifecycle state. Safe to call from any
// goroutine without going through the lane.
func (e *Engine) State() State { return State(e.state.Load()) }

// IsConnected reports whether a command may currently be issued.
func (e *Engine) IsConnected() bool {
	s := e.State()
	return s == StateConnected || s == StateSubscribed
}

// InstallErrorHandler replaces the sink for transport/protocol errors and
// state-gating violations that aren't tied to a specific pending call.
func (e *Engine) InstallErrorHandler(h ErrorHandler) {
	if h != nil {
		e.errorHandler = h
	}
}

// OnStateChange registers a hook invoked on every lifecycle transition.
func (e *Engine) OnStateChange(h StateChangeHandler) { e.onStateChange = h }

// BeginConnecting transitions Unconnected -> Connecting, called by a
// facade before it starts dialing.
func (e *Engine) BeginConnecting() {
	e.transition(StateConnecting)
}

// FailConnect transitions Connecting -> Closed after a failed dial; there
// is no socket to tear down yet.
func (e *Engine) FailConnect(err error) {
	e.transition(StateClosed)
	if err != nil {
		e.errorHandler(wrapTransportError(err, "connect"))
	}
}

// Attach adopts a freshly dialed net.Conn, transitions Connecting ->
// Connected, and starts the reader and lane goroutines.
func (e *Engine) Attach(conn net.Conn) {
	e.conn = conn
	e.parser = NewParser()
	e.transition(StateConnected)
	go e.readLoop()
	go e.run()
}

func (e *Engine) transition(to State) {
	from := State(e.state.Swap(int32(to)))
	if from == to {
		return
	}
	if e.onStateChange != nil {
		e.onStateChange(from, to)
	}
	logStateChange(e.logger, from, to)
}

// readLoop perpetually reads from the socket, feeding bytes to the
// Parser and handing every completed value (or terminal failure) to the
// lane. It exits on the first read error or protocol error.
func (e *Engine) readLoop() {
	buf := make([]byte, defaultReadBufferSize)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			pos := 0
			for pos < len(data) {
				consumed, status := e.parser.Parse(data[pos:])
				pos += consumed
				switch status {
				case StatusCompleted:
					e.incoming <- parseResult{value: e.parser.Take()}
				case StatusError:
					e.incoming <- parseResult{err: newProtocolError("invalid RESP2 byte stream")}
					return
				case StatusIncomplete:
					// pos == len(data); outer loop exits, next Read resumes.
				}
			}
		}
		if err != nil {
			e.incoming <- parseResult{err: wrapTransportError(err, "read")}
			return
		}
	}
}

// run is the lane: the single goroutine that owns every mutable Engine
// field besides the atomic state.
func (e *Engine) run() {
	for {
		select {
		case res, ok := <-e.incoming:
			if !ok {
				e.incoming = nil
				continue
			}
			if res.err != nil {
				e.closeWithError(res.err)
				continue
			}
			e.dispatch(res.value)

		case op := <-e.ops:
			op.apply(e)
		}
	}
}

// dispatch routes one decoded top-level value to either a subscription
// handler (pub/sub delivery) or the head of the reply queue (everything
// else).
func (e *Engine) dispatch(v Value) {
	if v.kind == KindArray && len(v.arr) > 0 && v.arr[0].kind == KindBytes {
		switch string(v.arr[0].bytes) {
		case "message":
			if len(v.arr) >= 3 {
				e.deliverMessage(string(v.arr[1].bytes), v.arr[2].bytes, false)
				return
			}
		case "pmessage":
			if len(v.arr) >= 4 {
				e.deliverMessage(string(v.arr[1].bytes), v.arr[3].bytes, true)
				return
			}
		}
	}
	e.popReply(v)
}

func (e *Engine) popReply(v Value) {
	if len(e.replyQueue) == 0 {
		e.logger.WithField("value", v.String()).Warn("redisclient: reply with no pending command")
		return
	}
	h := e.replyQueue[0]
	e.replyQueue = e.replyQueue[1:]
	h.onValue(v)
}

func (e *Engine) deliverMessage(key string, payload []byte, pattern bool) {
	subsMap, oneShotMap := e.subs, e.singleShot
	if pattern {
		subsMap, oneShotMap = e.patternSubs, e.patternSingleShot
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	for _, ent := range subsMap[key] {
		ent.handler(body)
	}

	if list, ok := oneShotMap[key]; ok && len(list) > 0 {
		delete(oneShotMap, key)
		for _, ent := range list {
			delete(e.byID, ent.id)
			ent.handler(body)
		}
		e.maybeAutoUnsubscribe(key, pattern)
	}
}

func (e *Engine) maybeAutoUnsubscribe(key string, pattern bool) {
	subsMap, oneShotMap := e.subs, e.singleShot
	cmdName := "UNSUBSCRIBE"
	if pattern {
		subsMap, oneShotMap = e.patternSubs, e.patternSingleShot
		cmdName = "PUNSUBSCRIBE"
	}
	if len(subsMap[key]) == 0 && len(oneShotMap[key]) == 0 {
		e.sendControlCommand(cmdName, key)
	}
}

// sendControlCommand issues an UNSUBSCRIBE/PUNSUBSCRIBE for one channel
// or pattern. Its ack is the observable point at which Subscribed ->
// Connected becomes visible: if the registry is entirely empty by the
// time the server confirms it (byID spans every subscription kind), the
// Engine drops back out of Subscribed, mirroring the Connected -> first
// subscribe transition on the way in.
func (e *Engine) sendControlCommand(name, arg string) {
	frame := Frame(NewCommand(name, arg))
	e.replyQueue = append(e.replyQueue, replyEntry{onValue: func(Value) {
		if len(e.byID) == 0 && State(e.state.Load()) == StateSubscribed {
			e.transition(StateConnected)
		}
	}})
	if err := e.writeFrame(frame); err != nil {
		e.closeWithError(wrapTransportError(err, "write"))
	}
}

func (e *Engine) writeFrame(frame []byte) error {
	total := 0
	for total < len(frame) {
		n, err := e.conn.Write(frame[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// closeWithError transitions to Closed (idempotent), closes the socket,
// completes every pending reply continuation exactly once, and releases
// every subscription handler after notifying it with a nil payload
// sentinel so none are left dangling. cause, if non-nil, is forwarded to
// the installed error handler; a nil cause means a caller-requested
// graceful Disconnect.
//
// A pending continuation's onClosed (if it has one) is invoked with the
// connection-closed TransportError directly -- never as a Value, so a
// transport failure can never be mistaken for a server's own -ERR reply.
// Continuations with no onClosed (the async facade's per-command
// callbacks) are simply dropped instead of invoked: a transport or
// protocol failure on an async connection is reported once, as a whole,
// to the installed error handler below, not disguised as a reply.
func (e *Engine) closeWithError(cause error) {
	if State(e.state.Load()) == StateClosed {
		return
	}
	e.transition(StateClosed)

	if e.conn != nil {
		e.conn.Close()
	}

	pending := e.replyQueue
	e.replyQueue = nil
	closedErr := errConnectionClosed()
	for _, h := range pending {
		if h.onClosed != nil {
			h.onClosed(closedErr)
		}
	}

	releaseAll := func(m map[string][]subEntry) {
		for ch, list := range m {
			for _, ent := range list {
				ent.handler(nil)
			}
			delete(m, ch)
		}
	}
	releaseAll(e.subs)
	releaseAll(e.patternSubs)
	releaseAll(e.singleShot)
	releaseAll(e.patternSingleShot)
	e.byID = make(map[uint64]subRecord)

	if cause != nil {
		e.errorHandler(cause)
	}
}

// Disconnect closes the socket, transitions to Closed, and completes
// every pending continuation exactly once. Idempotent and safe to call
// from any goroutine; safe to call before Attach.
func (e *Engine) Disconnect() {
	e.closeOnce.Do(func() {
		e.post(opDisconnect{})
	})
}

// post hands one operation to the lane. The lane never exits and e.ops is
// never closed, so this always eventually succeeds -- even a disconnected
// Engine keeps its lane alive to fail queued work exactly once.
func (e *Engine) post(op engineOp) {
	e.ops <- op
}

type opDisconnect struct{}

func (opDisconnect) apply(e *Engine) { e.closeWithError(nil) }

// ---- command submission ----

type opWrite struct {
	frame   []byte
	waiters []replyEntry
}

func (o opWrite) apply(e *Engine) {
	if State(e.state.Load()) == StateClosed {
		closedErr := errConnectionClosed()
		for _, w := range o.waiters {
			if w.onClosed != nil {
				w.onClosed(closedErr)
			}
		}
		return
	}
	for _, w := range o.waiters {
		e.replyQueue = append(e.replyQueue, w)
	}
	if err := e.writeFrame(o.frame); err != nil {
		e.closeWithError(wrapTransportError(err, "write"))
	}
}

// SubmitCommand frames cmd and enqueues it for write, with reply routed
// to handler. handler fires only for a genuine decoded reply; if the
// connection closes before one arrives, handler is never invoked -- that
// failure is reported once, as a whole, to the installed error handler
// instead. Returns false (without queuing, after notifying the error
// handler) if the connection is not in a state that permits issuing a
// command.
func (e *Engine) SubmitCommand(cmd Command, handler ReplyHandler) bool {
	if !e.IsConnected() {
		e.errorHandler(newStateError("issue command", e.State()))
		return false
	}
	e.post(opWrite{frame: Frame(cmd), waiters: []replyEntry{{onValue: handler}}})
	return true
}

// SubmitPipeline frames cmds as one batch write and registers one
// handler per command, preserving request order. Like SubmitCommand,
// handlers are never invoked for a transport close.
func (e *Engine) SubmitPipeline(cmds []Command, handlers []ReplyHandler) bool {
	if !e.IsConnected() {
		e.errorHandler(newStateError("issue pipeline", e.State()))
		return false
	}
	waiters := make([]replyEntry, len(handlers))
	for i, h := range handlers {
		waiters[i] = replyEntry{onValue: h}
	}
	e.post(opWrite{frame: FrameBatch(cmds), waiters: waiters})
	return true
}

// submitCommandSync is the SyncFacade's variant of SubmitCommand: it
// carries both a success callback and a close callback, so a blocking
// caller can distinguish "the server replied, possibly with its own
// -ERR" from "the connection died before any reply arrived" instead of
// having to sniff the returned Value's Kind.
func (e *Engine) submitCommandSync(cmd Command, onValue func(Value), onClosed func(error)) bool {
	if !e.IsConnected() {
		return false
	}
	e.post(opWrite{frame: Frame(cmd), waiters: []replyEntry{{onValue: onValue, onClosed: onClosed}}})
	return true
}

// submitPipelineSync is the SyncFacade's variant of SubmitPipeline: one
// onValue per command plus a single onClosed shared across the whole
// batch, invoked once per still-pending command if the connection closes
// mid-pipeline.
func (e *Engine) submitPipelineSync(cmds []Command, onValue []func(Value), onClosed func(error)) bool {
	if !e.IsConnected() {
		return false
	}
	waiters := make([]replyEntry, len(cmds))
	for i := range cmds {
		waiters[i] = replyEntry{onValue: onValue[i], onClosed: onClosed}
	}
	e.post(opWrite{frame: FrameBatch(cmds), waiters: waiters})
	return true
}

// ---- subscriptions ----

type opSubscribe struct {
	channel      string
	pattern      bool
	oneShot      bool
	msgHandler   MessageHandler
	replyHandler ReplyHandler
	result       chan Handle
}

func (o opSubscribe) apply(e *Engine) {
	id := e.nextSubID
	e.nextSubID++

	entry := subEntry{id: id, handler: o.msgHandler}
	e.byID[id] = subRecord{channel: o.channel, pattern: o.pattern, oneShot: o.oneShot}

	var target *map[string][]subEntry
	switch {
	case o.oneShot && o.pattern:
		target = &e.patternSingleShot
	case o.oneShot:
		target = &e.singleShot
	case o.pattern:
		target = &e.patternSubs
	default:
		target = &e.subs
	}
	(*target)[o.channel] = append((*target)[o.channel], entry)

	if State(e.state.Load()) == StateConnected {
		e.transition(StateSubscribed)
	}

	// The Handle is handed back before the SUBSCRIBE frame is actually
	// written: registration needs no I/O, and a caller blocked on the
	// lane's result channel should not also be blocked on the socket
	// write completing, which is exactly the "no call blocks" contract
	// AsyncFacade promises.
	o.result <- Handle{id: id, channel: o.channel, pattern: o.pattern}

	cmdName := "SUBSCRIBE"
	if o.pattern {
		cmdName = "PSUBSCRIBE"
	}
	e.replyQueue = append(e.replyQueue, replyEntry{onValue: o.replyHandler})
	if err := e.writeFrame(Frame(NewCommand(cmdName, o.channel))); err != nil {
		e.closeWithError(wrapTransportError(err, "write"))
	}
}

// subscribe is the shared implementation behind Subscribe, PSubscribe,
// SingleShotSubscribe, and SingleShotPSubscribe. Like SubmitCommand, it
// refuses to register or send anything unless the connection is Connected
// or Subscribed: it notifies the error handler with a StateError and
// returns a Handle that matches no registration.
func (e *Engine) subscribe(channel string, pattern, oneShot bool, msgHandler MessageHandler, replyHandler ReplyHandler) Handle {
	if !e.IsConnected() {
		e.errorHandler(newStateError("subscribe", e.State()))
		return Handle{}
	}
	if replyHandler == nil {
		replyHandler = func(Value) {}
	}
	result := make(chan Handle, 1)
	e.post(opSubscribe{
		channel:      channel,
		pattern:      pattern,
		oneShot:      oneShot,
		msgHandler:   msgHandler,
		replyHandler: replyHandler,
		result:       result,
	})
	return <-result
}

// Subscribe registers msgHandler for every future "message" delivery on
// channel and returns a Handle for later Unsubscribe. replyHandler
// receives the SUBSCRIBE acknowledgement.
func (e *Engine) Subscribe(channel string, msgHandler MessageHandler, replyHandler ReplyHandler) Handle {
	return e.subscribe(channel, false, false, msgHandler, replyHandler)
}

// PSubscribe is Subscribe for a glob pattern, routing "pmessage"
// deliveries instead.
func (e *Engine) PSubscribe(pattern string, msgHandler MessageHandler, replyHandler ReplyHandler) Handle {
	return e.subscribe(pattern, true, false, msgHandler, replyHandler)
}

// SingleShotSubscribe fires msgHandler once, on the first delivery after
// registration, then removes it before any subsequent delivery is
// dispatched.
func (e *Engine) SingleShotSubscribe(channel string, msgHandler MessageHandler, replyHandler ReplyHandler) {
	e.subscribe(channel, false, true, msgHandler, replyHandler)
}

// SingleShotPSubscribe is SingleShotSubscribe for a glob pattern.
func (e *Engine) SingleShotPSubscribe(pattern string, msgHandler MessageHandler, replyHandler ReplyHandler) {
	e.subscribe(pattern, true, true, msgHandler, replyHandler)
}

type opUnsubscribe struct {
	handle Handle
}

func (o opUnsubscribe) apply(e *Engine) {
	rec, ok := e.byID[o.handle.id]
	if !ok {
		return
	}
	delete(e.byID, o.handle.id)

	remove := func(m map[string][]subEntry) {
		list := m[rec.channel]
		for i, ent := range list {
			if ent.id == o.handle.id {
				m[rec.channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(m[rec.channel]) == 0 {
			delete(m, rec.channel)
		}
	}

	switch {
	case rec.oneShot && rec.pattern:
		remove(e.patternSingleShot)
	case rec.oneShot:
		remove(e.singleShot)
	case rec.pattern:
		remove(e.patternSubs)
	default:
		remove(e.subs)
	}

	e.maybeAutoUnsubscribe(rec.channel, rec.pattern)
}

// Unsubscribe removes the registration identified by h. If it was the
// last registration for that channel or pattern, an UNSUBSCRIBE/
// PUNSUBSCRIBE is sent to the server.
func (e *Engine) Unsubscribe(h Handle) {
	e.post(opUnsubscribe{handle: h})
}

// Publish sends a PUBLISH command, a normal command from the reply
// queue's perspective (its ack is an integer subscriber count, not a
// pub/sub delivery).
func (e *Engine) Publish(channel string, msg Buffer, handler ReplyHandler) bool {
	return e.SubmitCommand(NewCommandBuffers(NewBufferString("PUBLISH"), NewBufferString(channel), msg), handler)
}
