package chathub

// Client is one live connection attached to a room session.
// It abstracts the transport so sessions can be tested without sockets.
type Client interface {
	// GetConnID returns an id unique to this connection.
	GetConnID() string
	// IsAdmin reports whether the connection authenticated as an operator.
	// Admin frames from other connections are dropped.
	IsAdmin() bool

	// Send queues an encoded frame without blocking. It returns false when
	// the connection cannot keep up; the session then drops the connection.
	Send(frame []byte) bool

	// Close stops the connection's writer. Only the owning session calls it.
	Close()
}
