package redisclient

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

/*
SyncFacade: Blocking Request/Response API

SyncFacade wraps an Engine with deadline-bounded blocking calls: Connect,
Command, and Pipelined all block the calling goroutine on socket I/O.
Under the hood every call still goes through the same Engine lane as the
asynchronous facade would -- a pair of callbacks that each signal a
channel (one for the decoded reply, one for a connection closing first),
waited on with a timer -- there is no separate blocking-read code path
duplicating the Engine's dispatch logic.

Each exported operation comes in two forms: the Err-suffixed form returns
a (Value, error) pair and never panics; the bare form panics if the
Err-suffixed form would have returned a non-nil error. The panicking
form exists for callers who would otherwise immediately
`if err != nil { panic(err) }`, in the spirit of template.Must /
regexp.MustCompile.
*/

// SyncFacade is a blocking RESP client built on one Engine and one
// connection for its lifetime.
type SyncFacade struct {
	cfg    SyncConfig
	engine *Engine
}

// NewSyncFacade returns an unconnected SyncFacade. Call Connect or
// ConnectErr before issuing commands.
func NewSyncFacade(cfg SyncConfig) *SyncFacade {
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return &SyncFacade{
		cfg:    cfg,
		engine: NewEngine(cfg.Logger, nil),
	}
}

// State returns the current connection lifecycle state.
func (f *SyncFacade) State() State { return f.engine.State() }

// IsConnected reports whether a command may currently be issued.
func (f *SyncFacade) IsConnected() bool { return f.engine.IsConnected() }

// InstallErrorHandler replaces the sink for unsolicited transport and
// protocol errors.
func (f *SyncFacade) InstallErrorHandler(h ErrorHandler) { f.engine.InstallErrorHandler(h) }

// Disconnect closes the connection. Idempotent.
func (f *SyncFacade) Disconnect() { f.engine.Disconnect() }

// ConnectErr dials ep, bounded by cfg.ConnectTimeout (unbounded if zero),
// and returns any failure instead of panicking.
func (f *SyncFacade) ConnectErr(ep Endpoint) error {
	f.engine.BeginConnecting()

	ctx := context.Background()
	var cancel context.CancelFunc
	if f.cfg.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if f.cfg.TLSConfig != nil && ep.network == "tcp" {
		conn, err = dialTLS(ctx, dialer, ep, f.cfg.TLSConfig)
	} else {
		conn, err = dialer.DialContext(ctx, ep.network, ep.address)
	}
	if err != nil {
		if ctx.Err() != nil {
			err = newTimeoutError("connect to %s", ep.String())
		}
		f.engine.FailConnect(err)
		if _, isTimeout := err.(*TimeoutError); !isTimeout {
			err = wrapTransportError(err, "connect")
		}
		return err
	}

	applyTCPOptions(conn, f.cfg.TCPNoDelay, f.cfg.TCPKeepAlive)
	f.engine.Attach(conn)
	return nil
}

// Connect dials ep, panicking if ConnectErr would have returned an error.
func (f *SyncFacade) Connect(ep Endpoint) {
	if err := f.ConnectErr(ep); err != nil {
		panic(err)
	}
}

// CommandErr issues name/args and blocks for the reply, bounded by
// cfg.CommandTimeout. Returns the server's error Value (if any) as a
// normal Value, not as a Go error; err is non-nil only for transport,
// timeout, or state failures -- a connection that dies mid-command
// surfaces as a *TransportError here, never disguised as an Error-Kind
// Value, so callers can always tell "the server said -ERR" apart from
// "the socket died."
func (f *SyncFacade) CommandErr(name string, args ...string) (Value, error) {
	return f.awaitCommand(NewCommand(name, args...))
}

// Command is CommandErr, panicking on a non-nil error -- including a
// transport failure mid-command, not just a timeout or state error.
func (f *SyncFacade) Command(name string, args ...string) Value {
	v, err := f.CommandErr(name, args...)
	if err != nil {
		panic(err)
	}
	return v
}

func (f *SyncFacade) awaitCommand(cmd Command) (Value, error) {
	resultCh := make(chan Value, 1)
	errCh := make(chan error, 1)
	ok := f.engine.submitCommandSync(cmd,
		func(v Value) { resultCh <- v },
		func(err error) { errCh <- err },
	)
	if !ok {
		return Value{}, newStateError("issue command", f.engine.State())
	}
	return f.await(resultCh, errCh)
}

func (f *SyncFacade) await(resultCh chan Value, errCh chan error) (Value, error) {
	if f.cfg.CommandTimeout <= 0 {
		select {
		case v := <-resultCh:
			return v, nil
		case err := <-errCh:
			return Value{}, err
		}
	}
	timer := time.NewTimer(f.cfg.CommandTimeout)
	defer timer.Stop()
	select {
	case v := <-resultCh:
		return v, nil
	case err := <-errCh:
		return Value{}, err
	case <-timer.C:
		err := newTimeoutError("command did not complete within %s", f.cfg.CommandTimeout)
		f.engine.Disconnect()
		return Value{}, err
	}
}

// NewPipeline returns a Pipeline builder that accumulates commands and
// flushes them as one batch write when Finish/FinishErr is called.
func (f *SyncFacade) NewPipeline() *Pipeline {
	return &Pipeline{sync: f}
}

// PipelinedErr is the direct equivalent of NewPipeline().Command(...)...
// FinishErr() for a batch already assembled as a slice. A connection that
// dies before every reply has arrived surfaces as a *TransportError, the
// same distinction CommandErr makes for a single command.
func (f *SyncFacade) PipelinedErr(cmds ...Command) (Value, error) {
	if len(cmds) == 0 {
		return ArrayValue(nil), nil
	}
	results := make([]Value, len(cmds))
	done := make(chan struct{}, len(cmds))
	errCh := make(chan error, 1)
	onValue := make([]func(Value), len(cmds))
	for i := range cmds {
		i := i
		onValue[i] = func(v Value) {
			results[i] = v
			done <- struct{}{}
		}
	}
	onClosed := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}
	if !f.engine.submitPipelineSync(cmds, onValue, onClosed) {
		return Value{}, newStateError("issue pipeline", f.engine.State())
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if f.cfg.CommandTimeout > 0 {
		timer = time.NewTimer(f.cfg.CommandTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	for i := 0; i < len(cmds); i++ {
		select {
		case <-done:
		case err := <-errCh:
			return Value{}, err
		case <-timeoutCh:
			err := newTimeoutError("pipeline of %d commands did not complete within %s", len(cmds), f.cfg.CommandTimeout)
			f.engine.Disconnect()
			return Value{}, err
		}
	}
	return ArrayValue(results), nil
}

// Pipelined is PipelinedErr, panicking on a non-nil error.
func (f *SyncFacade) Pipelined(cmds ...Command) Value {
	v, err := f.PipelinedErr(cmds...)
	if err != nil {
		panic(err)
	}
	return v
}

func dialTLS(ctx context.Context, dialer *net.Dialer, ep Endpoint, cfg *tls.Config) (net.Conn, error) {
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
	return tlsDialer.DialContext(ctx, ep.network, ep.address)
}

func applyTCPOptions(conn net.Conn, noDelay, keepAlive bool) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcpConn.SetNoDelay(noDelay)
	tcpConn.SetKeepAlive(keepAlive)
}
