package objectstore

import "fmt"

// ResultCode is the negative-errno-style result the object-store client
// returns through a completion callback. A non-negative value is
// success; a negative value identifies a failure kind the AIO state
// machine switches on.
type ResultCode int

// Sentinel result codes the state machine inspects by value, mirroring
// the handful of errno constants AioRequest/AbstractWrite branch on.
const (
	// Success is the zero result: the operation completed with no error.
	Success ResultCode = 0

	// ErrNotFound mirrors -ENOENT: the object does not exist.
	ErrNotFound ResultCode = -2

	// ErrIO mirrors -EIO: an unspecified transport/store failure.
	ErrIO ResultCode = -5
)

func (r ResultCode) Error() string {
	switch r {
	case Success:
		return "objectstore: success"
	case ErrNotFound:
		return "objectstore: object not found"
	case ErrIO:
		return "objectstore: I/O error"
	default:
		return fmt.Sprintf("objectstore: result code %d", int(r))
	}
}

// Ok reports whether r represents success.
func (r ResultCode) Ok() bool { return r >= 0 }

// NotFound reports whether r is the not-found sentinel.
func (r ResultCode) NotFound() bool { return r == ErrNotFound }
