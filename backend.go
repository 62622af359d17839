package abs9p

import "context"

// Backend is the filesystem capability a session serves. It is
// supplied at session construction time and may be shared across
// connections; any cross-connection sharing discipline is the
// backend's own contract.
//
// Every method returning an error may return an Errno (or a type
// implementing Errno()) to control the code carried by the Rlerror
// reply; other errors are mapped by errnoFromError.
type Backend interface {
	// Attach binds a new root handle for the named user and export
	// tree. afid is the authentication handle established by Auth,
	// or nil for an unauthenticated attach.
	Attach(ctx context.Context, afid BackendFile, uname, aname string, nuname uint32) (BackendFile, Qid, error)

	// Auth establishes an authentication handle to be written and
	// read by the client's auth protocol. Backends without an auth
	// scheme return ENOTSUP.
	Auth(ctx context.Context, uname, aname string, nuname uint32) (BackendFile, Qid, error)
}

// BackendFile is one backend handle, the object a fid resolves to.
// The dispatcher guarantees a handle is never used after Close and
// never opened twice.
//
// Blocking operations receive a context cancelled when the request is
// flushed or the session torn down; honoring it is best-effort.
type BackendFile interface {
	// Walk resolves one path component relative to this handle and
	// returns a new handle for it. The receiver remains valid.
	Walk(ctx context.Context, name string) (BackendFile, Qid, error)

	// Clone returns an independent handle naming the same object,
	// used for zero-name walks.
	Clone(ctx context.Context) (BackendFile, Qid, error)

	// Open prepares the handle for I/O. flags carries Linux open(2)
	// bits. The returned iounit of zero defers to the negotiated
	// msize.
	Open(ctx context.Context, flags uint32) (Qid, uint32, error)

	// Create creates and opens name inside this directory handle;
	// on success the handle names the new file.
	Create(ctx context.Context, name string, flags, mode, gid uint32) (Qid, uint32, error)

	// ReadAt reads up to len(p) bytes at offset from the open file.
	ReadAt(ctx context.Context, p []byte, offset uint64) (int, error)

	// WriteAt writes p at offset to the open file.
	WriteAt(ctx context.Context, p []byte, offset uint64) (int, error)

	// ReadDir returns entries from the open directory starting at
	// the given cursor, packed to at most count wire bytes.
	ReadDir(ctx context.Context, offset uint64, count uint32) ([]Dirent, error)

	// GetAttr returns the attributes selected by mask.
	GetAttr(ctx context.Context, mask AttrMask) (Qid, AttrMask, Attr, error)

	// SetAttr updates the attributes selected by valid.
	SetAttr(ctx context.Context, valid SetAttrMask, attr SetAttr) error

	// ReadLink returns the target of a symbolic link.
	ReadLink(ctx context.Context) (string, error)

	// Symlink creates a symbolic link name inside this directory
	// handle pointing at target.
	Symlink(ctx context.Context, name, target string, gid uint32) (Qid, error)

	// Link creates a hard link name inside this directory handle to
	// the object named by target.
	Link(ctx context.Context, target BackendFile, name string) error

	// Mkdir creates directory name inside this directory handle.
	Mkdir(ctx context.Context, name string, mode, gid uint32) (Qid, error)

	// Mknod creates a device node inside this directory handle.
	Mknod(ctx context.Context, name string, mode, major, minor, gid uint32) (Qid, error)

	// Rename moves this object to name inside the directory newDir.
	Rename(ctx context.Context, newDir BackendFile, name string) error

	// RenameAt renames oldName in this directory handle to newName
	// in the directory newDir.
	RenameAt(ctx context.Context, oldName string, newDir BackendFile, newName string) error

	// UnlinkAt removes name from this directory handle.
	UnlinkAt(ctx context.Context, name string, flags uint32) error

	// Remove removes the object named by this handle. The dispatcher
	// frees the fid regardless of the outcome.
	Remove(ctx context.Context) error

	// Fsync flushes cached data for the open file.
	Fsync(ctx context.Context) error

	// Lock acquires or releases a POSIX record lock.
	Lock(ctx context.Context, req *Tlock) (LockStatus, error)

	// GetLock tests for a conflicting POSIX record lock.
	GetLock(ctx context.Context, req *Tgetlock) (*Rgetlock, error)

	// StatFS reports statistics for the containing filesystem.
	StatFS(ctx context.Context) (Statfs, error)

	// XattrWalk binds a new handle to the named extended attribute
	// and reports its size.
	XattrWalk(ctx context.Context, name string) (BackendFile, uint64, error)

	// XattrCreate prepares the handle for writing the named extended
	// attribute.
	XattrCreate(ctx context.Context, name string, size uint64, flags uint32) error

	// Close releases the handle. Called exactly once, on clunk,
	// remove, or session teardown.
	Close() error
}
