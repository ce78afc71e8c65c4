package ems

import "errors"

var (
	// ErrHandshakeTimeout means the daemon never signalled readiness
	// within the configured deadline. The spawn is unwound; nothing was
	// forwarded.
	ErrHandshakeTimeout = errors.New("ems handshake timeout")

	// ErrTransportClosed means the command link or event stream died.
	// The relay stops forwarding; reconnect is the caller's decision.
	ErrTransportClosed = errors.New("ems transport closed")
)
