package engine

import "fmt"

// Kind classifies engine errors by the subsystem that raised them.
type Kind string

const (
	KindConfig      Kind = "config"
	KindIO          Kind = "io"
	KindDatabase    Kind = "database"
	KindEncryption  Kind = "encryption"
	KindCompression Kind = "compression"
	KindChannel     Kind = "channel"
	KindShutdown    Kind = "shutdown"
)

// Error wraps an underlying cause with the engine error kind that
// classifies it, generalizing a permanent/transient error
// classification into a small set of typed kinds.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: %s error", e.Kind)
	}
	return fmt.Sprintf("engine: %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ConfigError wraps err as a KindConfig engine error.
func ConfigError(err error) *Error { return newError(KindConfig, err) }

// IoError wraps err as a KindIO engine error.
func IoError(err error) *Error { return newError(KindIO, err) }

// DatabaseError wraps err as a KindDatabase engine error.
func DatabaseError(err error) *Error { return newError(KindDatabase, err) }

// EncryptionError wraps err as a KindEncryption engine error.
func EncryptionError(err error) *Error { return newError(KindEncryption, err) }

// CompressionError wraps err as a KindCompression engine error.
func CompressionError(err error) *Error { return newError(KindCompression, err) }

// ChannelError wraps err as a KindChannel engine error.
func ChannelError(err error) *Error { return newError(KindChannel, err) }

// ShutdownError wraps err as a KindShutdown engine error.
func ShutdownError(err error) *Error { return newError(KindShutdown, err) }
