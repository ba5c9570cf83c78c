package redisclient

import (
	"crypto/tls"
	"time"

	"github.com/sirupsen/logrus"
)

/*
Connection Lifecycle State

State tracks a connection from creation through teardown:

	Unconnected --Connect()--> Connecting --ok--> Connected
	                                |err
	                                v
	                              Closed <-- Disconnect()/IO-error -- {Connecting,Connected,Subscribed}
	Connected --first subscribe--> Subscribed
	Subscribed --last unsubscribe--> Connected

A command may only be issued while Connected or Subscribed; issuing one
in any other state fails with a StateError instead of queuing a write.
The Engine's Submit and subscribe methods, and so the AsyncFacade, route
that StateError to the error handler; the SyncFacade returns it to the
caller as the call's error.
*/

// State is the connection lifecycle state exposed by the Engine and both
// facades.
type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Endpoint is a dial target: either a TCP host/port pair or a Unix-domain
// socket path, resolved as a first-class variant so both endpoint kinds
// dial through one path instead of near-duplicate connect code.
type Endpoint struct {
	network string // "tcp" or "unix"
	address string
}

// TCPEndpoint builds an Endpoint for a TCP host/port pair.
func TCPEndpoint(hostPort string) Endpoint {
	return Endpoint{network: "tcp", address: hostPort}
}

// UnixEndpoint builds an Endpoint for a Unix-domain stream socket at path.
func UnixEndpoint(path string) Endpoint {
	return Endpoint{network: "unix", address: path}
}

func (e Endpoint) String() string { return e.network + "://" + e.address }

// SyncConfig configures a SyncFacade. The zero value is usable but gives
// every operation an unbounded deadline; DefaultSyncConfig applies the
// defaults documented below.
type SyncConfig struct {
	// ConnectTimeout bounds Connect. Zero means no timeout.
	ConnectTimeout time.Duration
	// CommandTimeout bounds Command and Pipelined. Zero means no timeout.
	CommandTimeout time.Duration
	// TCPNoDelay disables Nagle's algorithm on TCP endpoints.
	TCPNoDelay bool
	// TCPKeepAlive enables TCP keepalive probes on TCP endpoints.
	TCPKeepAlive bool
	// TLSConfig, if non-nil, upgrades TCP endpoints to TLS.
	TLSConfig *tls.Config
	// Logger receives structured diagnostics. Defaults to
	// logrus.StandardLogger() when nil.
	Logger *logrus.Logger
}

// AsyncConfig configures an AsyncFacade.
type AsyncConfig struct {
	TCPNoDelay   bool
	TCPKeepAlive bool
	TLSConfig    *tls.Config
	Logger       *logrus.Logger
}

// DefaultSyncConfig returns the recommended starting configuration:
// 5s connect timeout, 3s command timeout, TCP_NODELAY on, keepalive on.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 3 * time.Second,
		TCPNoDelay:     true,
		TCPKeepAlive:   true,
	}
}

// DefaultAsyncConfig returns the recommended starting configuration.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		TCPNoDelay:   true,
		TCPKeepAlive: true,
	}
}

// Handle identifies one subscription registration so it can be removed
// without touching any sibling registered for the same channel.
type Handle struct {
	id      uint64
	channel string
	pattern bool
}

// Channel returns the channel or pattern this handle was registered
// against.
func (h Handle) Channel() string { return h.channel }

// MessageHandler receives the payload bytes of each delivery on a
// subscribed channel or pattern.
type MessageHandler func(payload []byte)

// ReplyHandler receives the decoded reply to an asynchronous command.
type ReplyHandler func(Value)

// ConnectHandler receives the outcome of an asynchronous Connect.
type ConnectHandler func(error)

// StateChangeHandler observes every lifecycle transition the Engine makes.
type StateChangeHandler func(from, to State)
