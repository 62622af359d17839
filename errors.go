package abs9p

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Errno is the numeric error code carried by an Rlerror reply. Values
// follow the Linux errno numbering, which is what 9P2000.L clients
// expect.
type Errno uint32

// Errnos the server produces itself. Backends may return any value.
const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	EINTR        Errno = 4
	EIO          Errno = 5
	EBADF        Errno = 9
	EAGAIN       Errno = 11
	ENOMEM       Errno = 12
	EACCES       Errno = 13
	EBUSY        Errno = 16
	EEXIST       Errno = 17
	EXDEV        Errno = 18
	ENODEV       Errno = 19
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	EMFILE       Errno = 24
	EFBIG        Errno = 27
	ENOSPC       Errno = 28
	ESPIPE       Errno = 29
	EROFS        Errno = 30
	EMLINK       Errno = 31
	EPIPE        Errno = 32
	ERANGE       Errno = 34
	ENAMETOOLONG Errno = 36
	ENOLCK       Errno = 37
	ENOSYS       Errno = 38
	ENOTEMPTY    Errno = 39
	ELOOP        Errno = 40
	ENODATA      Errno = 61
	EPROTO       Errno = 71
	ENOTSUP      Errno = 95
	ECONNRESET   Errno = 104
	ETIMEDOUT    Errno = 110
)

var errnoNames = map[Errno]string{
	EPERM:        "operation not permitted",
	ENOENT:       "no such file or directory",
	EINTR:        "interrupted system call",
	EIO:          "input/output error",
	EBADF:        "bad file descriptor",
	EAGAIN:       "resource temporarily unavailable",
	ENOMEM:       "cannot allocate memory",
	EACCES:       "permission denied",
	EBUSY:        "device or resource busy",
	EEXIST:       "file exists",
	EXDEV:        "invalid cross-device link",
	ENODEV:       "no such device",
	ENOTDIR:      "not a directory",
	EISDIR:       "is a directory",
	EINVAL:       "invalid argument",
	EMFILE:       "too many open files",
	EFBIG:        "file too large",
	ENOSPC:       "no space left on device",
	ESPIPE:       "illegal seek",
	EROFS:        "read-only file system",
	EMLINK:       "too many links",
	EPIPE:        "broken pipe",
	ERANGE:       "numerical result out of range",
	ENAMETOOLONG: "file name too long",
	ENOLCK:       "no locks available",
	ENOSYS:       "function not implemented",
	ENOTEMPTY:    "directory not empty",
	ELOOP:        "too many levels of symbolic links",
	ENODATA:      "no data available",
	EPROTO:       "protocol error",
	ENOTSUP:      "operation not supported",
	ECONNRESET:   "connection reset by peer",
	ETIMEDOUT:    "connection timed out",
}

// Error implements the error interface, so backends can return an
// Errno directly.
func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", uint32(e))
}

// errnoFromError maps an error from a backend or the os package to
// the errno reported on the wire. Unknown errors map to EIO.
func errnoFromError(err error) Errno {
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	var we wireError
	if errors.As(err, &we) {
		return we.Errno()
	}
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		return Errno(sysErr)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrInvalid):
		return EINVAL
	case errors.Is(err, fs.ErrClosed):
		return EBADF
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ETIMEDOUT
	case errors.Is(err, context.Canceled):
		return EINTR
	default:
		return EIO
	}
}

// wireError is satisfied by errors that know their own errno. Checked
// before the generic os-error mapping.
type wireError interface {
	error
	Errno() Errno
}

// UnknownFidError reports a request referencing a fid with no slot in
// the fid table.
type UnknownFidError struct {
	Fid Fid
}

// Error implements the error interface for UnknownFidError.
func (e *UnknownFidError) Error() string {
	return fmt.Sprintf("unknown fid %d", e.Fid)
}

// Errno maps the failure to its wire representation.
func (e *UnknownFidError) Errno() Errno { return EBADF }

// FidInUseError reports an attach or walk trying to bind a fid that
// already occupies a slot.
type FidInUseError struct {
	Fid Fid
}

// Error implements the error interface for FidInUseError.
func (e *FidInUseError) Error() string {
	return fmt.Sprintf("fid %d already in use", e.Fid)
}

// Errno maps the failure to its wire representation.
func (e *FidInUseError) Errno() Errno { return EBADF }

// DuplicateTagError reports a request reusing a tag that still has a
// pending request. This is a protocol violation fatal to the
// connection.
type DuplicateTagError struct {
	Tag Tag
}

// Error implements the error interface for DuplicateTagError.
func (e *DuplicateTagError) Error() string {
	return fmt.Sprintf("duplicate tag %d: request still pending", e.Tag)
}

// MalformedFrameError reports an undecodable frame. Framing provides
// no recovery point, so this is fatal to the connection.
type MalformedFrameError struct {
	Reason string
}

// Error implements the error interface for MalformedFrameError.
func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// NotSupportedError reports an operation the backend does not
// implement.
type NotSupportedError struct {
	Operation string
	Reason    string
}

// Error implements the error interface for NotSupportedError.
func (e *NotSupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("operation '%s' not supported: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("operation '%s' not supported", e.Operation)
}

// Errno maps the failure to its wire representation.
func (e *NotSupportedError) Errno() Errno { return ENOTSUP }
