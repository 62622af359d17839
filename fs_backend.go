package abs9p

import (
	"context"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/absfs/absfs"
)

// v9fsMagic is the statfs f_type Linux reports for 9P mounts.
const v9fsMagic = 0x01021997

// atRemoveDir mirrors Linux's AT_REMOVEDIR flag for Tunlinkat.
const atRemoveDir = 0x200

// ExportOptions adjusts how an FSBackend presents its filesystem.
type ExportOptions struct {
	// ReadOnly rejects every mutating operation with EROFS.
	ReadOnly bool

	// UID and GID are reported as the owner of all files. absfs
	// filesystems do not model ownership, so the export presents a
	// single owner.
	UID uint32
	GID uint32

	// BlockSize is reported in getattr and statfs replies. Zero means
	// 4096.
	BlockSize uint32
}

// FSBackend serves an absfs.SymlinkFileSystem as a 9P export. One
// FSBackend may be shared by any number of sessions; per-file state
// lives in the fsFile handles the sessions hold.
type FSBackend struct {
	fs      absfs.SymlinkFileSystem
	options ExportOptions
	qids    *qidPool
	locks   *lockTable
}

// New creates an FSBackend exporting fs.
func New(fs absfs.SymlinkFileSystem, options ExportOptions) (*FSBackend, error) {
	if fs == nil {
		return nil, &NotSupportedError{Operation: "attach", Reason: "nil filesystem"}
	}
	if options.BlockSize == 0 {
		options.BlockSize = 4096
	}
	return &FSBackend{
		fs:      fs,
		options: options,
		qids:    newQidPool(),
		locks:   newLockTable(),
	}, nil
}

// Auth reports that the export performs no authentication. Clients
// attach with NOFID as the afid.
func (b *FSBackend) Auth(ctx context.Context, uname, aname string, nuname uint32) (BackendFile, Qid, error) {
	return nil, Qid{}, &NotSupportedError{Operation: "auth", Reason: "export does not require authentication"}
}

// Attach opens the export root, or the subtree named by aname.
func (b *FSBackend) Attach(ctx context.Context, afid BackendFile, uname, aname string, nuname uint32) (BackendFile, Qid, error) {
	if err := ctx.Err(); err != nil {
		return nil, Qid{}, err
	}

	root := "/"
	if aname != "" && aname != "/" {
		root = path.Clean("/" + aname)
	}

	info, err := b.fs.Lstat(root)
	if err != nil {
		return nil, Qid{}, err
	}
	if !info.IsDir() {
		return nil, Qid{}, ENOTDIR
	}

	qid := b.qids.get(root, info)
	return &fsFile{backend: b, path: root}, qid, nil
}

// checkWritable gates mutating operations on a read-only export.
func (b *FSBackend) checkWritable() error {
	if b.options.ReadOnly {
		return EROFS
	}
	return nil
}

// lockOwner identifies one holder of POSIX locks taken through a fid.
type lockOwner struct {
	procID   uint32
	clientID string
}

// fsFile is the BackendFile a FSBackend hands out. Handles are
// path-addressed: walking produces a new handle, opening binds an
// absfs.File to it.
type fsFile struct {
	backend *FSBackend

	mu         sync.Mutex
	path       string
	file       absfs.File
	appendMode bool
	dirCache   []os.FileInfo
	owners     []lockOwner
}

var _ Backend = (*FSBackend)(nil)
var _ BackendFile = (*fsFile)(nil)

// childPath validates a walk or create component and joins it onto the
// handle's path. ".." is legal and clips at the export root.
func (f *fsFile) childPath(name string) (string, error) {
	if name == "" || name == "." || name == "/" {
		return "", EINVAL
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return "", EINVAL
		}
	}
	return path.Join(f.path, name), nil
}

func (f *fsFile) Walk(ctx context.Context, name string) (BackendFile, Qid, error) {
	if err := ctx.Err(); err != nil {
		return nil, Qid{}, err
	}
	f.mu.Lock()
	child, err := f.childPath(name)
	f.mu.Unlock()
	if err != nil {
		return nil, Qid{}, err
	}

	info, err := f.backend.fs.Lstat(child)
	if err != nil {
		return nil, Qid{}, err
	}
	qid := f.backend.qids.get(child, info)
	return &fsFile{backend: f.backend, path: child}, qid, nil
}

func (f *fsFile) Clone(ctx context.Context) (BackendFile, Qid, error) {
	if err := ctx.Err(); err != nil {
		return nil, Qid{}, err
	}
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()

	info, err := f.backend.fs.Lstat(p)
	if err != nil {
		return nil, Qid{}, err
	}
	qid := f.backend.qids.get(p, info)
	return &fsFile{backend: f.backend, path: p}, qid, nil
}

// osFlags translates Linux open flags from the wire into os package
// flags for absfs.
func osFlags(flags uint32) int {
	var out int
	switch flags & OpenAccMode {
	case OpenReadOnly:
		out = os.O_RDONLY
	case OpenWriteOnly:
		out = os.O_WRONLY
	case OpenReadWrite:
		out = os.O_RDWR
	default:
		out = os.O_RDONLY
	}
	if flags&OpenCreate != 0 {
		out |= os.O_CREATE
	}
	if flags&OpenExcl != 0 {
		out |= os.O_EXCL
	}
	if flags&OpenTrunc != 0 {
		out |= os.O_TRUNC
	}
	if flags&OpenAppend != 0 {
		out |= os.O_APPEND
	}
	return out
}

// flagsMutate reports whether an open with flags can modify the file.
func flagsMutate(flags uint32) bool {
	if flags&OpenAccMode != OpenReadOnly {
		return true
	}
	return flags&(OpenCreate|OpenTrunc|OpenAppend) != 0
}

func (f *fsFile) Open(ctx context.Context, flags uint32) (Qid, uint32, error) {
	if err := ctx.Err(); err != nil {
		return Qid{}, 0, err
	}
	if flagsMutate(flags) {
		if err := f.backend.checkWritable(); err != nil {
			return Qid{}, 0, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return Qid{}, 0, EINVAL
	}

	info, err := f.backend.fs.Lstat(f.path)
	if err != nil {
		return Qid{}, 0, err
	}
	if info.IsDir() && flags&OpenAccMode != OpenReadOnly {
		return Qid{}, 0, EISDIR
	}

	file, err := f.backend.fs.OpenFile(f.path, osFlags(flags), 0)
	if err != nil {
		return Qid{}, 0, err
	}
	f.file = file
	f.appendMode = flags&OpenAppend != 0
	f.dirCache = nil

	qid := f.backend.qids.get(f.path, info)
	return qid, 0, nil
}

func (f *fsFile) Create(ctx context.Context, name string, flags, mode, gid uint32) (Qid, uint32, error) {
	if err := ctx.Err(); err != nil {
		return Qid{}, 0, err
	}
	if err := f.backend.checkWritable(); err != nil {
		return Qid{}, 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		return Qid{}, 0, EINVAL
	}
	child, err := f.childPath(name)
	if err != nil {
		return Qid{}, 0, err
	}

	file, err := f.backend.fs.OpenFile(child, osFlags(flags)|os.O_CREATE, os.FileMode(mode&0o777))
	if err != nil {
		return Qid{}, 0, err
	}

	info, err := f.backend.fs.Lstat(child)
	if err != nil {
		file.Close()
		return Qid{}, 0, err
	}

	// The fid mutates from directory to the newly created file.
	f.path = child
	f.file = file
	f.appendMode = flags&OpenAppend != 0
	f.dirCache = nil

	qid := f.backend.qids.get(child, info)
	return qid, 0, nil
}

func (f *fsFile) ReadAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file == nil {
		return 0, EBADF
	}
	n, err := file.ReadAt(p, int64(offset))
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (f *fsFile) WriteAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := f.backend.checkWritable(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return 0, EBADF
	}
	if f.appendMode {
		// O_APPEND writes ignore the client offset, as on Linux.
		if _, err := f.file.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
		return f.file.Write(p)
	}
	return f.file.WriteAt(p, int64(offset))
}

// loadDirCache lists the directory through a fresh handle so repeated
// readdir calls at increasing offsets see one stable snapshot.
func (f *fsFile) loadDirCache() error {
	dir, err := f.backend.fs.OpenFile(f.path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil {
		return err
	}
	f.dirCache = infos
	return nil
}

func (f *fsFile) ReadDir(ctx context.Context, offset uint64, count uint32) ([]Dirent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil, EBADF
	}
	if offset == 0 || f.dirCache == nil {
		if err := f.loadDirCache(); err != nil {
			return nil, err
		}
	}

	self, err := f.backend.fs.Lstat(f.path)
	if err != nil {
		return nil, err
	}
	parentPath := path.Dir(f.path)
	parent, err := f.backend.fs.Lstat(parentPath)
	if err != nil {
		return nil, err
	}

	// Entries 1 and 2 are "." and "..", children follow. The offset in
	// each dirent is the ordinal of the next entry, so a client resumes
	// by passing back the last offset it saw.
	total := uint64(len(f.dirCache)) + 2
	if offset > total {
		return nil, EINVAL
	}

	var out []Dirent
	var used uint32
	for i := offset; i < total; i++ {
		var ent Dirent
		switch i {
		case 0:
			ent = Dirent{
				Qid:    f.backend.qids.get(f.path, self),
				Type:   DTDir,
				Name:   ".",
				Offset: i + 1,
			}
		case 1:
			ent = Dirent{
				Qid:    f.backend.qids.get(parentPath, parent),
				Type:   DTDir,
				Name:   "..",
				Offset: i + 1,
			}
		default:
			info := f.dirCache[i-2]
			child := path.Join(f.path, info.Name())
			ent = Dirent{
				Qid:    f.backend.qids.get(child, info),
				Type:   direntType(info.Mode()),
				Name:   info.Name(),
				Offset: i + 1,
			}
		}
		size := ent.wireSize()
		if used+size > count {
			break
		}
		used += size
		out = append(out, ent)
	}
	return out, nil
}

func (f *fsFile) GetAttr(ctx context.Context, mask AttrMask) (Qid, AttrMask, Attr, error) {
	if err := ctx.Err(); err != nil {
		return Qid{}, 0, Attr{}, err
	}
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()

	info, err := f.backend.fs.Lstat(p)
	if err != nil {
		return Qid{}, 0, Attr{}, err
	}

	opts := f.backend.options
	var attr Attr
	attr.Mode = unixMode(info.Mode())
	attr.UID = opts.UID
	attr.GID = opts.GID
	attr.NLink = 1
	if info.IsDir() {
		attr.NLink = 2
	}
	attr.Size = uint64(info.Size())
	attr.BlockSize = uint64(opts.BlockSize)
	attr.Blocks = (attr.Size + 511) / 512
	mt := info.ModTime()
	attr.SetMTime(mt)
	attr.SetATime(mt)
	attr.CTimeSec = uint64(mt.Unix())
	attr.CTimeNSec = uint64(mt.Nanosecond())

	valid := mask & AttrMaskBasic
	qid := f.backend.qids.get(p, info)
	return qid, valid, attr, nil
}

func (f *fsFile) SetAttr(ctx context.Context, valid SetAttrMask, attr SetAttr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.backend.checkWritable(); err != nil {
		return err
	}
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()
	fs := f.backend.fs

	if valid&SetAttrMode != 0 {
		if err := fs.Chmod(p, goFileMode(attr.Mode)); err != nil {
			return err
		}
	}
	if valid&(SetAttrUID|SetAttrGID) != 0 {
		uid, gid := -1, -1
		if valid&SetAttrUID != 0 {
			uid = int(attr.UID)
		}
		if valid&SetAttrGID != 0 {
			gid = int(attr.GID)
		}
		if err := fs.Chown(p, uid, gid); err != nil {
			return err
		}
	}
	if valid&SetAttrSize != 0 {
		if err := fs.Truncate(p, int64(attr.Size)); err != nil {
			return err
		}
	}
	if valid&(SetAttrATime|SetAttrMTime) != 0 {
		info, err := fs.Lstat(p)
		if err != nil {
			return err
		}
		atime := info.ModTime()
		mtime := info.ModTime()
		now := time.Now()
		if valid&SetAttrATime != 0 {
			atime = now
			if valid&SetAttrATimeSet != 0 {
				atime = time.Unix(int64(attr.ATimeSec), int64(attr.ATimeNSec))
			}
		}
		if valid&SetAttrMTime != 0 {
			mtime = now
			if valid&SetAttrMTimeSet != 0 {
				mtime = time.Unix(int64(attr.MTimeSec), int64(attr.MTimeNSec))
			}
		}
		if err := fs.Chtimes(p, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func (f *fsFile) ReadLink(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()
	return f.backend.fs.Readlink(p)
}

func (f *fsFile) Symlink(ctx context.Context, name, target string, gid uint32) (Qid, error) {
	if err := ctx.Err(); err != nil {
		return Qid{}, err
	}
	if err := f.backend.checkWritable(); err != nil {
		return Qid{}, err
	}
	f.mu.Lock()
	child, err := f.childPath(name)
	f.mu.Unlock()
	if err != nil {
		return Qid{}, err
	}

	if err := f.backend.fs.Symlink(target, child); err != nil {
		return Qid{}, err
	}
	info, err := f.backend.fs.Lstat(child)
	if err != nil {
		return Qid{}, err
	}
	return f.backend.qids.get(child, info), nil
}

func (f *fsFile) Link(ctx context.Context, target BackendFile, name string) error {
	return &NotSupportedError{Operation: "link", Reason: "absfs does not expose hard links"}
}

func (f *fsFile) Mkdir(ctx context.Context, name string, mode, gid uint32) (Qid, error) {
	if err := ctx.Err(); err != nil {
		return Qid{}, err
	}
	if err := f.backend.checkWritable(); err != nil {
		return Qid{}, err
	}
	f.mu.Lock()
	child, err := f.childPath(name)
	f.mu.Unlock()
	if err != nil {
		return Qid{}, err
	}

	if err := f.backend.fs.Mkdir(child, os.FileMode(mode&0o777)); err != nil {
		return Qid{}, err
	}
	info, err := f.backend.fs.Lstat(child)
	if err != nil {
		return Qid{}, err
	}
	return f.backend.qids.get(child, info), nil
}

func (f *fsFile) Mknod(ctx context.Context, name string, mode, major, minor, gid uint32) (Qid, error) {
	return Qid{}, &NotSupportedError{Operation: "mknod", Reason: "absfs does not expose device nodes"}
}

func (f *fsFile) Rename(ctx context.Context, newDir BackendFile, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.backend.checkWritable(); err != nil {
		return err
	}
	dir, ok := newDir.(*fsFile)
	if !ok || dir.backend != f.backend {
		return EXDEV
	}
	return f.renameTo(dir, name)
}

// renameTo moves the file into dir under name and fixes up identity
// and lock state.
func (f *fsFile) renameTo(dir *fsFile, name string) error {
	dir.mu.Lock()
	newPath, err := dir.childPath(name)
	dir.mu.Unlock()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.backend.fs.Rename(f.path, newPath); err != nil {
		return err
	}
	f.backend.qids.rename(f.path, newPath)
	f.backend.locks.rename(f.path, newPath)
	f.path = newPath
	return nil
}

func (f *fsFile) RenameAt(ctx context.Context, oldName string, newDir BackendFile, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.backend.checkWritable(); err != nil {
		return err
	}
	dir, ok := newDir.(*fsFile)
	if !ok || dir.backend != f.backend {
		return EXDEV
	}

	f.mu.Lock()
	oldPath, err := f.childPath(oldName)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	dir.mu.Lock()
	newPath, err := dir.childPath(newName)
	dir.mu.Unlock()
	if err != nil {
		return err
	}

	if err := f.backend.fs.Rename(oldPath, newPath); err != nil {
		return err
	}
	f.backend.qids.rename(oldPath, newPath)
	f.backend.locks.rename(oldPath, newPath)
	return nil
}

func (f *fsFile) UnlinkAt(ctx context.Context, name string, flags uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.backend.checkWritable(); err != nil {
		return err
	}
	f.mu.Lock()
	child, err := f.childPath(name)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	info, err := f.backend.fs.Lstat(child)
	if err != nil {
		return err
	}
	if flags&atRemoveDir != 0 && !info.IsDir() {
		return ENOTDIR
	}
	if flags&atRemoveDir == 0 && info.IsDir() {
		return EISDIR
	}

	if err := f.backend.fs.Remove(child); err != nil {
		return err
	}
	f.backend.qids.forget(child)
	f.backend.locks.forget(child)
	return nil
}

func (f *fsFile) Remove(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.backend.checkWritable(); err != nil {
		return err
	}
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()

	if err := f.backend.fs.Remove(p); err != nil {
		return err
	}
	f.backend.qids.forget(p)
	f.backend.locks.forget(p)
	return nil
}

func (f *fsFile) Fsync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file == nil {
		return EBADF
	}
	return file.Sync()
}

func (f *fsFile) Lock(ctx context.Context, req *Tlock) (LockStatus, error) {
	if err := ctx.Err(); err != nil {
		return LockError, err
	}
	f.mu.Lock()
	p := f.path
	owner := lockOwner{procID: req.ProcID, clientID: req.ClientID}
	if req.Type != LockTypeUnlock {
		known := false
		for _, o := range f.owners {
			if o == owner {
				known = true
				break
			}
		}
		if !known {
			f.owners = append(f.owners, owner)
		}
	}
	f.mu.Unlock()

	return f.backend.locks.lock(p, req), nil
}

func (f *fsFile) GetLock(ctx context.Context, req *Tgetlock) (*Rgetlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()
	return f.backend.locks.getLock(p, req), nil
}

func (f *fsFile) StatFS(ctx context.Context) (Statfs, error) {
	if err := ctx.Err(); err != nil {
		return Statfs{}, err
	}
	opts := f.backend.options
	// absfs exposes no capacity information, so report a synthetic
	// filesystem with unknown block counts.
	return Statfs{
		Type:    v9fsMagic,
		BSize:   opts.BlockSize,
		NameLen: 255,
	}, nil
}

func (f *fsFile) XattrWalk(ctx context.Context, name string) (BackendFile, uint64, error) {
	return nil, 0, &NotSupportedError{Operation: "xattrwalk", Reason: "absfs does not expose extended attributes"}
}

func (f *fsFile) XattrCreate(ctx context.Context, name string, size uint64, flags uint32) error {
	return &NotSupportedError{Operation: "xattrcreate", Reason: "absfs does not expose extended attributes"}
}

func (f *fsFile) Close() error {
	f.mu.Lock()
	file := f.file
	f.file = nil
	f.dirCache = nil
	owners := f.owners
	f.owners = nil
	p := f.path
	f.mu.Unlock()

	for _, o := range owners {
		f.backend.locks.releaseOwner(p, o.procID, o.clientID)
	}

	if file != nil {
		return file.Close()
	}
	return nil
}
