package redisclient

import (
	"context"
	"net"
)

/*
AsyncFacade: Non-Blocking Request/Response and Pub/Sub API

Every AsyncFacade call submits work to the Engine's lane and returns
immediately; completions and pub/sub deliveries fire later as callback
invocations made from the lane goroutine. Connect is the one exception
that must itself run off the caller's goroutine, since dialing is
blocking stdlib I/O: it is dispatched onto a dedicated goroutine whose
only job is to dial once and report through ConnectHandler.
*/

// AsyncFacade is a non-blocking RESP client built on one Engine.
type AsyncFacade struct {
	cfg    AsyncConfig
	engine *Engine
}

// NewAsyncFacade returns an unconnected AsyncFacade.
func NewAsyncFacade(cfg AsyncConfig) *AsyncFacade {
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return &AsyncFacade{
		cfg:    cfg,
		engine: NewEngine(cfg.Logger, nil),
	}
}

// State returns the current connection lifecycle state.
func (f *AsyncFacade) State() State { return f.engine.State() }

// IsConnected reports whether a command may currently be issued.
func (f *AsyncFacade) IsConnected() bool { return f.engine.IsConnected() }

// InstallErrorHandler replaces the sink for unsolicited transport and
// protocol errors.
func (f *AsyncFacade) InstallErrorHandler(h ErrorHandler) { f.engine.InstallErrorHandler(h) }

// Disconnect closes the connection. Idempotent.
func (f *AsyncFacade) Disconnect() { f.engine.Disconnect() }

// Connect dials ep on a background goroutine and reports the outcome to
// handler. handler is invoked from that goroutine, not the lane, since
// the lane does not exist until the dial succeeds.
func (f *AsyncFacade) Connect(ep Endpoint, handler ConnectHandler) {
	f.engine.BeginConnecting()
	go func() {
		dialer := &net.Dialer{}
		ctx := context.Background()
		var conn net.Conn
		var err error
		if f.cfg.TLSConfig != nil && ep.network == "tcp" {
			conn, err = dialTLS(ctx, dialer, ep, f.cfg.TLSConfig)
		} else {
			conn, err = dialer.DialContext(ctx, ep.network, ep.address)
		}
		if err != nil {
			f.engine.FailConnect(err)
			if handler != nil {
				handler(wrapTransportError(err, "connect"))
			}
			return
		}
		applyTCPOptions(conn, f.cfg.TCPNoDelay, f.cfg.TCPKeepAlive)
		f.engine.Attach(conn)
		if handler != nil {
			handler(nil)
		}
	}()
}

func dummyReplyHandler(Value) {}

// Command issues name/args; reply, if non-nil, is invoked on the lane
// with the decoded response once it arrives. A nil reply is a
// fire-and-forget command.
func (f *AsyncFacade) Command(name string, reply ReplyHandler, args ...string) {
	if reply == nil {
		reply = dummyReplyHandler
	}
	f.engine.SubmitCommand(NewCommand(name, args...), reply)
}

// Subscribe registers msgHandler for every future delivery on channel.
// reply, if non-nil, is invoked with the SUBSCRIBE acknowledgement.
func (f *AsyncFacade) Subscribe(channel string, msgHandler MessageHandler, reply ReplyHandler) Handle {
	return f.engine.Subscribe(channel, msgHandler, orDummy(reply))
}

// PSubscribe is Subscribe for a glob pattern.
func (f *AsyncFacade) PSubscribe(pattern string, msgHandler MessageHandler, reply ReplyHandler) Handle {
	return f.engine.PSubscribe(pattern, msgHandler, orDummy(reply))
}

// SingleShotSubscribe fires msgHandler once, on the first delivery after
// registration, then automatically unsubscribes.
func (f *AsyncFacade) SingleShotSubscribe(channel string, msgHandler MessageHandler, reply ReplyHandler) {
	f.engine.SingleShotSubscribe(channel, msgHandler, orDummy(reply))
}

// SingleShotPSubscribe is SingleShotSubscribe for a glob pattern.
func (f *AsyncFacade) SingleShotPSubscribe(pattern string, msgHandler MessageHandler, reply ReplyHandler) {
	f.engine.SingleShotPSubscribe(pattern, msgHandler, orDummy(reply))
}

// Unsubscribe removes the registration identified by h.
func (f *AsyncFacade) Unsubscribe(h Handle) { f.engine.Unsubscribe(h) }

// PUnsubscribe removes a pattern registration identified by h. Identical
// to Unsubscribe; kept as a distinct name for symmetry with Subscribe/
// PSubscribe.
func (f *AsyncFacade) PUnsubscribe(h Handle) { f.engine.Unsubscribe(h) }

// Publish sends a PUBLISH command; reply, if non-nil, receives the
// subscriber count reply.
func (f *AsyncFacade) Publish(channel string, msg []byte, reply ReplyHandler) {
	f.engine.Publish(channel, NewBufferBytes(msg), orDummy(reply))
}

func orDummy(h ReplyHandler) ReplyHandler {
	if h == nil {
		return dummyReplyHandler
	}
	return h
}

// NewPipeline returns an AsyncPipeline builder that accumulates commands
// and flushes them as one batch write on Send, with per-command replies
// delivered to the respective callback.
func (f *AsyncFacade) NewPipeline() *AsyncPipeline {
	return &AsyncPipeline{async: f}
}

// AsyncPipeline is the non-blocking counterpart of Pipeline: Send returns
// immediately and each command's callback fires independently as its
// reply arrives, in submission order.
type AsyncPipeline struct {
	async    *AsyncFacade
	cmds     []Command
	handlers []ReplyHandler
}

// Command appends one command with its own reply callback (nil for
// fire-and-forget) and returns the AsyncPipeline for chaining.
func (p *AsyncPipeline) Command(name string, reply ReplyHandler, args ...string) *AsyncPipeline {
	p.cmds = append(p.cmds, NewCommand(name, args...))
	p.handlers = append(p.handlers, orDummy(reply))
	return p
}

// Send flushes the accumulated batch in one write.
func (p *AsyncPipeline) Send() {
	if len(p.cmds) == 0 {
		return
	}
	p.async.engine.SubmitPipeline(p.cmds, p.handlers)
}
