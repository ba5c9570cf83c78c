package redisclient

import (
	"github.com/sirupsen/logrus"
)

/*
Ambient Logging

The Engine never fails loudly on its own: transport and protocol errors
that aren't attributable to a specific pending call are routed to an
ErrorHandler. If the caller never installs one, the Engine falls back to
logging through logrus rather than dropping the error on the floor --
an always-on ambient sink rather than a silently swallowed failure.
*/

// ErrorHandler receives errors that are not tied to a specific pending
// reply: unsolicited transport failures,
// protocol violations, and calls issued in an invalid State.
type ErrorHandler func(err error)

// defaultErrorHandler logs through logger at Warn, used whenever a caller
// has not installed one of their own via InstallErrorHandler.
func defaultErrorHandler(logger *logrus.Logger) ErrorHandler {
	return func(err error) {
		logger.WithError(err).Warn("redisclient: unrouted error")
	}
}

func defaultLogger() *logrus.Logger {
	return logrus.StandardLogger()
}

// logStateChange emits a Debug-level transition record, mirroring the
// teacher's ConnStateHook but always-on rather than opt-in, since a
// client library's own operator benefits from seeing lifecycle noise in
// their existing structured logs.
func logStateChange(logger *logrus.Logger, from, to State) {
	logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("redisclient: state transition")
}
