package btconn

// Error is a handshake failure caused by the remote peer.
type Error struct {
	message  string
	mismatch bool
}

var (
	errInvalidProtocol = &Error{message: "invalid protocol string", mismatch: true}
	errInvalidInfoHash = &Error{message: "invalid info hash", mismatch: true}
	errOwnConnection   = &Error{message: "dropped own connection"}
)

func (e *Error) Error() string { return e.message }

// Mismatch reports whether the peer speaks another protocol or serves another torrent.
// Such peers must not be retried.
func (e *Error) Mismatch() bool { return e.mismatch }
