package inbound

import "context"

// SessionInfo describes a freshly accepted client connection.
type SessionInfo struct {
	ID         string
	RemoteAddr string
}

// Session is the transport-facing side of one client session. HandleMessage
// is called sequentially by a single reader; Outbound yields encoded frames in
// reply order and is closed once the session has shut down.
type Session interface {
	ID() string
	HandleMessage(raw []byte)
	Outbound() <-chan []byte
	Close()
}

// SessionOpener creates sessions for accepted connections.
type SessionOpener interface {
	OpenSession(ctx context.Context, info SessionInfo) Session
}
