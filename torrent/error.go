package torrent

import (
	"fmt"
	"net"

	"github.com/drizzle-bt/drizzle/internal/announcer"
)

// DescriptorParseError is returned from Session.AddTorrent and Session.AddURI when the
// torrent file or magnet link cannot be parsed. Nothing is added to the session.
type DescriptorParseError struct {
	err error
}

func newDescriptorParseError(err error) *DescriptorParseError {
	return &DescriptorParseError{err: err}
}

// Error implements error interface.
func (e *DescriptorParseError) Error() string {
	return "invalid torrent descriptor: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *DescriptorParseError) Unwrap() error {
	return e.err
}

// InputError is returned when an argument passed to a Torrent method is invalid.
type InputError struct {
	err error
}

func newInputError(err error) *InputError {
	return &InputError{err: err}
}

func (e *InputError) Error() string {
	return "input error: " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.err
}

// ProtocolMismatchError means the remote peer speaks another protocol or serves another torrent.
// The connection is dropped and the address is not dialed again.
type ProtocolMismatchError struct {
	Addr net.Addr
	err  error
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch with %s: %s", e.Addr, e.err)
}

// Unwrap returns the underlying error.
func (e *ProtocolMismatchError) Unwrap() error {
	return e.err
}

// TimeoutError is logged when a peer does not answer in time. For block requests the
// block is given to another peer.
type TimeoutError struct {
	Addr net.Addr
	Op   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s %s", e.Op, e.Addr)
}

// CorruptionError puts the torrent into error state when too many pieces fail verification.
type CorruptionError struct {
	Corruptions int
	Threshold   int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("too many corrupt pieces: %d (threshold %d)", e.Corruptions, e.Threshold)
}

// DiskError puts the torrent into error state. Start must be called again after fixing the cause.
type DiskError struct {
	Op  string
	err error
}

func newDiskError(op string, err error) *DiskError {
	return &DiskError{Op: op, err: err}
}

func (e *DiskError) Error() string {
	return "disk error: " + e.Op + ": " + e.err.Error()
}

// Unwrap returns the underlying error.
func (e *DiskError) Unwrap() error {
	return e.err
}

// AnnounceError is the error returned from announce response to a tracker.
type AnnounceError struct {
	err *announcer.AnnounceError
}

// Contains the humanized version of error.
func (e *AnnounceError) Error() string {
	return e.err.Message
}

// Unwrap returns the underlying error object.
func (e *AnnounceError) Unwrap() error {
	return e.err.Err
}

// Unknown returns true if the error is unexpected.
// Expected errors are tracker errors, network errors and DNS errors.
func (e *AnnounceError) Unknown() bool {
	return e.err.Unknown
}
