package relay

import "errors"

var (
	// ErrConnect is a transport failure while opening a link. Fatal to the session.
	ErrConnect = errors.New("link connect failed")
	// ErrProtocol is a malformed or unexpected handshake. Fatal to the session.
	ErrProtocol = errors.New("link protocol violation")
	// ErrMalformedMessage marks a single unusable frame; callers log and drop it.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrNotActive is returned when audio is sent before the handshake completed or after close.
	ErrNotActive = errors.New("voice link not active")
	// ErrLinkClosed is returned by writes on a closed link.
	ErrLinkClosed = errors.New("link closed")
)
