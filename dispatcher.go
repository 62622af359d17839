package abs9p

import (
	"context"
	"io"
	"sync"
	"time"
)

// maxWalkElements is the protocol's limit on path components per walk.
const maxWalkElements = 16

// replyOverhead is the fixed cost of an Rread/Rreaddir frame around
// its payload: size[4] type[1] tag[2] count[4].
const replyOverhead = headerSize + 4

// pendingTag tracks one in-flight request. flushed is set while
// holding the dispatcher mutex; once set, the request's reply is
// suppressed and only the cancelled context reaches the backend.
type pendingTag struct {
	cancel  context.CancelFunc
	flushed bool
}

// Dispatcher is the per-connection request state machine. It tracks
// outstanding tags, enforces version gating and tag uniqueness,
// resolves fids, and routes each request to the backend. Requests for
// distinct tags run concurrently; replies are paired to requests only
// by tag.
type Dispatcher struct {
	backend Backend
	fids    *FidTable
	send    func(Tag, Fcall) error
	logger  Logger
	metrics *MetricsCollector
	pool    *WorkerPool

	// serverMSize is the largest msize this server will negotiate.
	serverMSize uint32

	baseCtx context.Context

	mu        sync.Mutex
	versioned bool
	msize     uint32
	pending   map[Tag]*pendingTag
}

// dispatcherConfig carries the collaborators a Session wires into its
// Dispatcher.
type dispatcherConfig struct {
	backend Backend
	fids    *FidTable
	send    func(Tag, Fcall) error
	logger  Logger
	metrics *MetricsCollector
	pool    *WorkerPool
	msize   uint32
	ctx     context.Context
}

func newDispatcher(cfg dispatcherConfig) *Dispatcher {
	if cfg.msize == 0 {
		cfg.msize = DefaultMSize
	}
	if cfg.logger == nil {
		cfg.logger = NewNoopLogger()
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	return &Dispatcher{
		backend:     cfg.backend,
		fids:        cfg.fids,
		send:        cfg.send,
		logger:      cfg.logger,
		metrics:     cfg.metrics,
		pool:        cfg.pool,
		serverMSize: cfg.msize,
		baseCtx:     cfg.ctx,
		pending:     make(map[Tag]*pendingTag),
	}
}

// MaxFrameSize returns the frame size cap the codec must enforce:
// the negotiated msize once version has completed, the server maximum
// before that.
func (d *Dispatcher) MaxFrameSize() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.versioned {
		return d.msize
	}
	return d.serverMSize
}

// Dispatch routes one decoded request. A non-nil return is a protocol
// violation fatal to the connection; per-request failures are
// answered with Rlerror and do not escape.
func (d *Dispatcher) Dispatch(tag Tag, msg Fcall) error {
	d.metrics.RecordRequest(msg.messageType())

	switch req := msg.(type) {
	case *Tversion:
		return d.dispatchVersion(tag, req)
	case *Tflush:
		return d.dispatchFlush(tag, req)
	}

	d.mu.Lock()
	if !d.versioned {
		d.mu.Unlock()
		d.metrics.RecordErrorReply()
		return d.send(tag, &Rlerror{Ecode: uint32(EIO)})
	}
	if _, exists := d.pending[tag]; exists {
		d.mu.Unlock()
		d.metrics.RecordProtocolViolation()
		return &DuplicateTagError{Tag: tag}
	}
	ctx, cancel := context.WithCancel(d.baseCtx)
	pt := &pendingTag{cancel: cancel}
	d.pending[tag] = pt
	d.mu.Unlock()
	d.metrics.TagsChanged(1)

	run := func() {
		resp := d.handle(ctx, msg)
		d.finish(tag, pt, resp)
	}
	if d.pool == nil || !d.pool.Submit(run) {
		go run()
	}
	return nil
}

// dispatchVersion negotiates msize and dialect. A second Tversion
// mid-session resets the session: every pending request is abandoned
// (its reply suppressed) and all fids are released, as if the
// connection had been reopened.
func (d *Dispatcher) dispatchVersion(tag Tag, req *Tversion) error {
	d.mu.Lock()
	for t, pt := range d.pending {
		pt.flushed = true
		pt.cancel()
		delete(d.pending, t)
		d.metrics.RecordFlushed()
		d.metrics.TagsChanged(-1)
	}

	if req.MSize < MinMSize {
		d.versioned = false
		d.mu.Unlock()
		d.releaseAllFids()
		d.metrics.RecordErrorReply()
		return d.send(tag, &Rlerror{Ecode: uint32(EINVAL)})
	}

	msize := req.MSize
	if msize > d.serverMSize {
		msize = d.serverMSize
	}

	version := VersionString
	if req.Version != VersionString {
		version = VersionUnknown
		d.versioned = false
	} else {
		d.versioned = true
		d.msize = msize
	}
	d.mu.Unlock()

	d.releaseAllFids()

	d.logger.Debug("version negotiated",
		LogField{Key: "msize", Value: msize},
		LogField{Key: "version", Value: version})
	return d.send(tag, &Rversion{MSize: msize, Version: version})
}

// dispatchFlush cancels the request pending on oldtag, if any, and
// always answers Rflush. Flushing an unknown or completed tag is a
// no-op success. The flushed request's own reply is never sent.
func (d *Dispatcher) dispatchFlush(tag Tag, req *Tflush) error {
	d.mu.Lock()
	if !d.versioned {
		d.mu.Unlock()
		d.metrics.RecordErrorReply()
		return d.send(tag, &Rlerror{Ecode: uint32(EIO)})
	}
	if _, exists := d.pending[tag]; exists {
		d.mu.Unlock()
		d.metrics.RecordProtocolViolation()
		return &DuplicateTagError{Tag: tag}
	}
	if pt, ok := d.pending[req.OldTag]; ok {
		pt.flushed = true
		pt.cancel()
		// The tag is free for reuse the moment Rflush is sent, so
		// its slot cannot linger until the abandoned handler returns.
		delete(d.pending, req.OldTag)
		d.metrics.TagsChanged(-1)
	}
	d.mu.Unlock()

	return d.send(tag, &Rflush{})
}

// finish completes one request: the reply is sent unless the request
// was flushed or the session reset while it ran.
func (d *Dispatcher) finish(tag Tag, pt *pendingTag, resp Fcall) {
	d.mu.Lock()
	if cur, ok := d.pending[tag]; ok && cur == pt {
		delete(d.pending, tag)
		d.metrics.TagsChanged(-1)
	}
	flushed := pt.flushed
	d.mu.Unlock()
	pt.cancel()

	if flushed {
		d.metrics.RecordFlushed()
		return
	}
	if lerr, ok := resp.(*Rlerror); ok {
		d.metrics.RecordErrorReply()
		d.logger.Debug("request failed",
			LogField{Key: "tag", Value: uint16(tag)},
			LogField{Key: "ecode", Value: lerr.Ecode})
	}
	if err := d.send(tag, resp); err != nil {
		d.logger.Warn("reply write failed", LogField{Key: "error", Value: err.Error()})
	}
}

// Shutdown abandons all pending requests and releases every fid. Run
// at connection teardown.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	for t, pt := range d.pending {
		pt.flushed = true
		pt.cancel()
		delete(d.pending, t)
		d.metrics.TagsChanged(-1)
	}
	d.mu.Unlock()

	d.releaseAllFids()
}

func (d *Dispatcher) releaseAllFids() {
	files := d.fids.ReleaseAll()
	for _, f := range files {
		if err := f.Close(); err != nil {
			d.logger.Warn("fid release failed", LogField{Key: "error", Value: err.Error()})
		}
	}
	d.metrics.FidsChanged(-int64(len(files)))
}

// lerror wraps a backend or table failure as the error reply for the
// offending request.
func lerror(err error) *Rlerror {
	return &Rlerror{Ecode: uint32(errnoFromError(err))}
}

// handle resolves fids and invokes the backend for one request,
// producing the reply. Exactly one backend method runs per request,
// except walk, which steps the name list.
func (d *Dispatcher) handle(ctx context.Context, msg Fcall) Fcall {
	switch req := msg.(type) {
	case *Tauth:
		return d.handleAuth(ctx, req)
	case *Tattach:
		return d.handleAttach(ctx, req)
	case *Twalk:
		return d.handleWalk(ctx, req)
	case *Tlopen:
		return d.handleLopen(ctx, req)
	case *Tlcreate:
		return d.handleLcreate(ctx, req)
	case *Tread:
		return d.handleRead(ctx, req)
	case *Twrite:
		return d.handleWrite(ctx, req)
	case *Tclunk:
		return d.handleClunk(req)
	case *Tremove:
		return d.handleRemove(ctx, req)
	case *Tgetattr:
		return d.handleGetattr(ctx, req)
	case *Tsetattr:
		return d.handleSetattr(ctx, req)
	case *Treaddir:
		return d.handleReaddir(ctx, req)
	case *Treadlink:
		return d.handleReadlink(ctx, req)
	case *Tsymlink:
		return d.handleSymlink(ctx, req)
	case *Tlink:
		return d.handleLink(ctx, req)
	case *Tmkdir:
		return d.handleMkdir(ctx, req)
	case *Tmknod:
		return d.handleMknod(ctx, req)
	case *Trename:
		return d.handleRename(ctx, req)
	case *Trenameat:
		return d.handleRenameat(ctx, req)
	case *Tunlinkat:
		return d.handleUnlinkat(ctx, req)
	case *Tfsync:
		return d.handleFsync(ctx, req)
	case *Tlock:
		return d.handleLock(ctx, req)
	case *Tgetlock:
		return d.handleGetlock(ctx, req)
	case *Tstatfs:
		return d.handleStatfs(ctx, req)
	case *Txattrwalk:
		return d.handleXattrwalk(ctx, req)
	case *Txattrcreate:
		return d.handleXattrcreate(ctx, req)
	default:
		// R-messages and anything else a client has no business
		// sending.
		return lerror(EPROTO)
	}
}

func (d *Dispatcher) handleAuth(ctx context.Context, req *Tauth) Fcall {
	file, qid, err := d.backend.Auth(ctx, req.Uname, req.Aname, req.NUname)
	if err != nil {
		return lerror(err)
	}
	if err := d.fids.Allocate(req.AFid, qid, file); err != nil {
		file.Close()
		return lerror(err)
	}
	d.metrics.FidsChanged(1)
	return &Rauth{AQid: qid}
}

func (d *Dispatcher) handleAttach(ctx context.Context, req *Tattach) Fcall {
	var afile BackendFile
	if req.AFid != NOFID {
		var err error
		afile, _, err = d.fids.Lookup(req.AFid)
		if err != nil {
			return lerror(err)
		}
	}

	file, qid, err := d.backend.Attach(ctx, afile, req.Uname, req.Aname, req.NUname)
	if err != nil {
		return lerror(err)
	}
	if err := d.fids.Allocate(req.Fid, qid, file); err != nil {
		file.Close()
		return lerror(err)
	}
	d.metrics.FidsChanged(1)
	return &Rattach{Qid: qid}
}

// handleWalk steps the name list one element at a time, stopping at
// the first failure. The reply carries the Qid prefix that resolved;
// newfid is bound only when every name resolved.
func (d *Dispatcher) handleWalk(ctx context.Context, req *Twalk) Fcall {
	if len(req.Wnames) > maxWalkElements {
		return lerror(EINVAL)
	}

	start, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}

	cur, qid, err := start.Clone(ctx)
	if err != nil {
		return lerror(err)
	}

	qids := make([]Qid, 0, len(req.Wnames))
	for _, name := range req.Wnames {
		next, q, err := cur.Walk(ctx, name)
		if err != nil {
			cur.Close()
			if len(qids) == 0 {
				// Nothing resolved: the walk itself failed.
				return lerror(err)
			}
			return &Rwalk{WQids: qids}
		}
		cur.Close()
		cur = next
		qid = q
		qids = append(qids, q)
	}

	displaced, err := d.fids.DuplicateAs(req.Fid, req.NewFid, qid, cur)
	if err != nil {
		cur.Close()
		return lerror(err)
	}
	if displaced != nil {
		displaced.Close()
	} else if req.NewFid != req.Fid {
		d.metrics.FidsChanged(1)
	}
	return &Rwalk{WQids: qids}
}

func (d *Dispatcher) handleLopen(ctx context.Context, req *Tlopen) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if opened, _, err := d.fids.IsOpen(req.Fid); err != nil {
		return lerror(err)
	} else if opened {
		return lerror(EINVAL)
	}

	qid, iounit, err := file.Open(ctx, req.Flags)
	if err != nil {
		return lerror(err)
	}
	if err := d.fids.ToOpen(req.Fid, req.Flags); err != nil {
		return lerror(err)
	}
	return &Rlopen{Qid: qid, IOUnit: iounit}
}

func (d *Dispatcher) handleLcreate(ctx context.Context, req *Tlcreate) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}

	qid, iounit, err := file.Create(ctx, req.Name, req.Flags, req.Mode, req.Gid)
	if err != nil {
		return lerror(err)
	}
	if err := d.fids.commitCreate(req.Fid, qid, req.Flags); err != nil {
		return lerror(err)
	}
	return &Rlcreate{Qid: qid, IOUnit: iounit}
}

func (d *Dispatcher) handleRead(ctx context.Context, req *Tread) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if opened, _, err := d.fids.IsOpen(req.Fid); err != nil || !opened {
		if err != nil {
			return lerror(err)
		}
		return lerror(EBADF)
	}

	count := req.Count
	if max := d.MaxFrameSize() - replyOverhead; count > max {
		count = max
	}

	start := time.Now()
	buf := make([]byte, count)
	n, err := file.ReadAt(ctx, buf, req.Offset)
	if err != nil && err != io.EOF && n == 0 {
		return lerror(err)
	}
	d.metrics.RecordRead(n, time.Since(start))
	return &Rread{Data: buf[:n]}
}

func (d *Dispatcher) handleWrite(ctx context.Context, req *Twrite) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if opened, _, err := d.fids.IsOpen(req.Fid); err != nil || !opened {
		if err != nil {
			return lerror(err)
		}
		return lerror(EBADF)
	}

	start := time.Now()
	n, err := file.WriteAt(ctx, req.Data, req.Offset)
	if err != nil && n == 0 {
		return lerror(err)
	}
	d.metrics.RecordWrite(n, time.Since(start))
	return &Rwrite{Count: uint32(n)}
}

// handleClunk frees the fid unconditionally; a failing backend
// release does not resurrect the slot.
func (d *Dispatcher) handleClunk(req *Tclunk) Fcall {
	file, err := d.fids.Free(req.Fid)
	if err != nil {
		return lerror(err)
	}
	d.metrics.FidsChanged(-1)
	if err := file.Close(); err != nil {
		d.logger.Warn("clunk release failed",
			LogField{Key: "fid", Value: uint32(req.Fid)},
			LogField{Key: "error", Value: err.Error()})
	}
	return &Rclunk{}
}

// handleRemove frees the fid whether or not the removal succeeds, per
// the remove contract.
func (d *Dispatcher) handleRemove(ctx context.Context, req *Tremove) Fcall {
	file, err := d.fids.Free(req.Fid)
	if err != nil {
		return lerror(err)
	}
	d.metrics.FidsChanged(-1)

	removeErr := file.Remove(ctx)
	if err := file.Close(); err != nil {
		d.logger.Warn("remove release failed",
			LogField{Key: "fid", Value: uint32(req.Fid)},
			LogField{Key: "error", Value: err.Error()})
	}
	if removeErr != nil {
		return lerror(removeErr)
	}
	return &Rremove{}
}

func (d *Dispatcher) handleGetattr(ctx context.Context, req *Tgetattr) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	qid, valid, attr, err := file.GetAttr(ctx, req.RequestMask)
	if err != nil {
		return lerror(err)
	}
	return &Rgetattr{Valid: valid, Qid: qid, Attr: attr}
}

func (d *Dispatcher) handleSetattr(ctx context.Context, req *Tsetattr) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if err := file.SetAttr(ctx, req.Valid, req.Attr); err != nil {
		return lerror(err)
	}
	return &Rsetattr{}
}

func (d *Dispatcher) handleReaddir(ctx context.Context, req *Treaddir) Fcall {
	file, qid, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if !qid.IsDir() {
		return lerror(ENOTDIR)
	}
	if opened, _, err := d.fids.IsOpen(req.Fid); err != nil || !opened {
		if err != nil {
			return lerror(err)
		}
		return lerror(EBADF)
	}

	count := req.Count
	if max := d.MaxFrameSize() - replyOverhead; count > max {
		count = max
	}

	entries, err := file.ReadDir(ctx, req.Offset, count)
	if err != nil {
		return lerror(err)
	}
	return &Rreaddir{Entries: entries}
}

func (d *Dispatcher) handleReadlink(ctx context.Context, req *Treadlink) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	target, err := file.ReadLink(ctx)
	if err != nil {
		return lerror(err)
	}
	return &Rreadlink{Target: target}
}

func (d *Dispatcher) handleSymlink(ctx context.Context, req *Tsymlink) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	qid, err := file.Symlink(ctx, req.Name, req.SymTgt, req.Gid)
	if err != nil {
		return lerror(err)
	}
	return &Rsymlink{Qid: qid}
}

func (d *Dispatcher) handleLink(ctx context.Context, req *Tlink) Fcall {
	dir, _, err := d.fids.Lookup(req.DFid)
	if err != nil {
		return lerror(err)
	}
	target, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if err := dir.Link(ctx, target, req.Name); err != nil {
		return lerror(err)
	}
	return &Rlink{}
}

func (d *Dispatcher) handleMkdir(ctx context.Context, req *Tmkdir) Fcall {
	dir, _, err := d.fids.Lookup(req.DFid)
	if err != nil {
		return lerror(err)
	}
	qid, err := dir.Mkdir(ctx, req.Name, req.Mode, req.Gid)
	if err != nil {
		return lerror(err)
	}
	return &Rmkdir{Qid: qid}
}

func (d *Dispatcher) handleMknod(ctx context.Context, req *Tmknod) Fcall {
	dir, _, err := d.fids.Lookup(req.DFid)
	if err != nil {
		return lerror(err)
	}
	qid, err := dir.Mknod(ctx, req.Name, req.Mode, req.Major, req.Minor, req.Gid)
	if err != nil {
		return lerror(err)
	}
	return &Rmknod{Qid: qid}
}

func (d *Dispatcher) handleRename(ctx context.Context, req *Trename) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	dir, _, err := d.fids.Lookup(req.DFid)
	if err != nil {
		return lerror(err)
	}
	if err := file.Rename(ctx, dir, req.Name); err != nil {
		return lerror(err)
	}
	return &Rrename{}
}

func (d *Dispatcher) handleRenameat(ctx context.Context, req *Trenameat) Fcall {
	oldDir, _, err := d.fids.Lookup(req.OldDirFid)
	if err != nil {
		return lerror(err)
	}
	newDir, _, err := d.fids.Lookup(req.NewDirFid)
	if err != nil {
		return lerror(err)
	}
	if err := oldDir.RenameAt(ctx, req.OldName, newDir, req.NewName); err != nil {
		return lerror(err)
	}
	return &Rrenameat{}
}

func (d *Dispatcher) handleUnlinkat(ctx context.Context, req *Tunlinkat) Fcall {
	dir, _, err := d.fids.Lookup(req.DirFid)
	if err != nil {
		return lerror(err)
	}
	if err := dir.UnlinkAt(ctx, req.Name, req.Flags); err != nil {
		return lerror(err)
	}
	return &Runlinkat{}
}

func (d *Dispatcher) handleFsync(ctx context.Context, req *Tfsync) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if opened, _, err := d.fids.IsOpen(req.Fid); err != nil || !opened {
		if err != nil {
			return lerror(err)
		}
		return lerror(EBADF)
	}
	if err := file.Fsync(ctx); err != nil {
		return lerror(err)
	}
	return &Rfsync{}
}

func (d *Dispatcher) handleLock(ctx context.Context, req *Tlock) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	status, err := file.Lock(ctx, req)
	if err != nil {
		return lerror(err)
	}
	return &Rlock{Status: status}
}

func (d *Dispatcher) handleGetlock(ctx context.Context, req *Tgetlock) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	resp, err := file.GetLock(ctx, req)
	if err != nil {
		return lerror(err)
	}
	return resp
}

func (d *Dispatcher) handleStatfs(ctx context.Context, req *Tstatfs) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	st, err := file.StatFS(ctx)
	if err != nil {
		return lerror(err)
	}
	return &Rstatfs{Statfs: st}
}

func (d *Dispatcher) handleXattrwalk(ctx context.Context, req *Txattrwalk) Fcall {
	file, qid, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	attrFile, size, err := file.XattrWalk(ctx, req.Name)
	if err != nil {
		return lerror(err)
	}
	if err := d.fids.Allocate(req.NewFid, qid, attrFile); err != nil {
		attrFile.Close()
		return lerror(err)
	}
	d.metrics.FidsChanged(1)
	return &Rxattrwalk{Size: size}
}

func (d *Dispatcher) handleXattrcreate(ctx context.Context, req *Txattrcreate) Fcall {
	file, _, err := d.fids.Lookup(req.Fid)
	if err != nil {
		return lerror(err)
	}
	if err := file.XattrCreate(ctx, req.Name, req.AttrSize, req.Flags); err != nil {
		return lerror(err)
	}
	return &Rxattrcreate{}
}
