package abs9p

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// testClient drives one end of a pipe with synchronous calls.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func (c *testClient) send(tag Tag, msg Fcall) {
	c.t.Helper()
	if err := WriteFcall(c.conn, tag, msg); err != nil {
		c.t.Fatalf("WriteFcall failed: %v", err)
	}
}

func (c *testClient) recv() (Tag, Fcall) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	tag, msg, err := ReadFcall(c.conn, DefaultMSize)
	if err != nil {
		c.t.Fatalf("ReadFcall failed: %v", err)
	}
	return tag, msg
}

func (c *testClient) call(tag Tag, msg Fcall) Fcall {
	c.t.Helper()
	c.send(tag, msg)
	gotTag, resp := c.recv()
	if gotTag != tag {
		c.t.Fatalf("reply tag = %d, want %d", gotTag, tag)
	}
	return resp
}

// expectError asserts the reply is Rlerror with the given errno.
func expectError(t *testing.T, resp Fcall, want Errno) {
	t.Helper()
	lerr, ok := resp.(*Rlerror)
	if !ok {
		t.Fatalf("reply = %T, want Rlerror", resp)
	}
	if Errno(lerr.Ecode) != want {
		t.Errorf("ecode = %v, want %v", Errno(lerr.Ecode), want)
	}
}

// startSession serves backend over an in-memory pipe and returns the
// client end, the session, and a channel carrying Serve's result.
func startSession(t *testing.T, backend Backend) (*testClient, *Session, chan error) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	session := NewSession(serverConn, backend, SessionOptions{})
	served := make(chan error, 1)
	go func() { served <- session.Serve() }()

	t.Cleanup(func() {
		clientConn.Close()
		session.Close()
	})
	return &testClient{t: t, conn: clientConn}, session, served
}

// negotiate performs version and attach, returning the root qid.
func negotiate(t *testing.T, c *testClient, rootFid Fid) Qid {
	t.Helper()

	resp := c.call(NOTAG, &Tversion{MSize: DefaultMSize, Version: VersionString})
	rv, ok := resp.(*Rversion)
	if !ok {
		t.Fatalf("version reply = %T, want Rversion", resp)
	}
	if rv.Version != VersionString {
		t.Fatalf("negotiated version = %q, want %q", rv.Version, VersionString)
	}

	resp = c.call(1, &Tattach{Fid: rootFid, AFid: NOFID, Uname: "user", NUname: 1000})
	ra, ok := resp.(*Rattach)
	if !ok {
		t.Fatalf("attach reply = %T, want Rattach", resp)
	}
	return ra.Qid
}

func TestSessionVersionGating(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)

	resp := c.call(3, &Tgetattr{Fid: 0, RequestMask: AttrMaskBasic})
	expectError(t, resp, EIO)
}

func TestSessionVersionNegotiation(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})

	t.Run("msize clamped to server max", func(t *testing.T) {
		c, _, _ := startSession(t, backend)
		resp := c.call(NOTAG, &Tversion{MSize: 1 << 30, Version: VersionString})
		rv := resp.(*Rversion)
		if rv.MSize != DefaultMSize {
			t.Errorf("msize = %d, want %d", rv.MSize, DefaultMSize)
		}
	})

	t.Run("msize below minimum", func(t *testing.T) {
		c, _, _ := startSession(t, backend)
		resp := c.call(NOTAG, &Tversion{MSize: 100, Version: VersionString})
		expectError(t, resp, EINVAL)
	})

	t.Run("unknown dialect", func(t *testing.T) {
		c, _, _ := startSession(t, backend)
		resp := c.call(NOTAG, &Tversion{MSize: DefaultMSize, Version: "9P2000"})
		rv, ok := resp.(*Rversion)
		if !ok {
			t.Fatalf("reply = %T, want Rversion", resp)
		}
		if rv.Version != VersionUnknown {
			t.Errorf("version = %q, want %q", rv.Version, VersionUnknown)
		}

		// The session remains unversioned.
		resp = c.call(2, &Tattach{Fid: 0, AFid: NOFID})
		expectError(t, resp, EIO)
	})
}

func TestSessionFileLifecycle(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, session, _ := startSession(t, backend)
	negotiate(t, c, 0)

	// Walk to the file.
	resp := c.call(2, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir", "file.txt"}})
	rw, ok := resp.(*Rwalk)
	if !ok {
		t.Fatalf("walk reply = %T, want Rwalk", resp)
	}
	if len(rw.WQids) != 2 {
		t.Fatalf("walk resolved %d names, want 2", len(rw.WQids))
	}

	// Read before open fails without hurting the session.
	expectError(t, c.call(3, &Tread{Fid: 1, Offset: 0, Count: 64}), EBADF)

	resp = c.call(4, &Tlopen{Fid: 1, Flags: OpenReadWrite})
	if _, ok := resp.(*Rlopen); !ok {
		t.Fatalf("open reply = %T, want Rlopen", resp)
	}

	// Double open is a client error.
	expectError(t, c.call(5, &Tlopen{Fid: 1, Flags: OpenReadOnly}), EINVAL)

	rr := c.call(6, &Tread{Fid: 1, Offset: 0, Count: 64}).(*Rread)
	if string(rr.Data) != "hello world" {
		t.Errorf("read %q, want %q", rr.Data, "hello world")
	}

	rwr := c.call(7, &Twrite{Fid: 1, Offset: 0, Data: []byte("HELLO")}).(*Rwrite)
	if rwr.Count != 5 {
		t.Errorf("write count = %d, want 5", rwr.Count)
	}

	if _, ok := c.call(8, &Tfsync{Fid: 1}).(*Rfsync); !ok {
		t.Error("fsync did not succeed")
	}

	if _, ok := c.call(9, &Tclunk{Fid: 1}).(*Rclunk); !ok {
		t.Fatal("clunk did not succeed")
	}
	if session.FidCount() != 1 {
		t.Errorf("FidCount = %d after clunk, want 1 (root)", session.FidCount())
	}

	// The clunked fid is gone.
	expectError(t, c.call(10, &Tclunk{Fid: 1}), EBADF)
}

func TestSessionDirectoryListing(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)
	negotiate(t, c, 0)

	c.call(2, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir"}})

	// Readdir before open is EBADF.
	expectError(t, c.call(3, &Treaddir{Fid: 1, Offset: 0, Count: 4096}), EBADF)

	c.call(4, &Tlopen{Fid: 1, Flags: OpenReadOnly})
	rd := c.call(5, &Treaddir{Fid: 1, Offset: 0, Count: 4096}).(*Rreaddir)
	if len(rd.Entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(rd.Entries))
	}

	// Readdir on a non-directory is ENOTDIR.
	c.call(6, &Twalk{Fid: 0, NewFid: 2, Wnames: []string{"top.txt"}})
	expectError(t, c.call(7, &Treaddir{Fid: 2, Offset: 0, Count: 4096}), ENOTDIR)
}

func TestSessionWalkSemantics(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)
	negotiate(t, c, 0)

	t.Run("first name fails", func(t *testing.T) {
		expectError(t, c.call(2, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"missing"}}), ENOENT)
		// newfid was not bound.
		expectError(t, c.call(3, &Tclunk{Fid: 1}), EBADF)
	})

	t.Run("partial walk", func(t *testing.T) {
		resp := c.call(4, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir", "missing", "deeper"}})
		rw, ok := resp.(*Rwalk)
		if !ok {
			t.Fatalf("reply = %T, want Rwalk", resp)
		}
		if len(rw.WQids) != 1 {
			t.Fatalf("resolved %d names, want 1", len(rw.WQids))
		}
		// Partial resolution binds nothing.
		expectError(t, c.call(5, &Tclunk{Fid: 1}), EBADF)
	})

	t.Run("zero names clones", func(t *testing.T) {
		resp := c.call(6, &Twalk{Fid: 0, NewFid: 1})
		rw := resp.(*Rwalk)
		if len(rw.WQids) != 0 {
			t.Errorf("clone walk returned %d qids, want 0", len(rw.WQids))
		}
		if _, ok := c.call(7, &Tclunk{Fid: 1}).(*Rclunk); !ok {
			t.Error("cloned fid was not bound")
		}
	})

	t.Run("newfid collision", func(t *testing.T) {
		c.call(8, &Twalk{Fid: 0, NewFid: 1})
		expectError(t, c.call(9, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir"}}), EBADF)
		c.call(10, &Tclunk{Fid: 1})
	})

	t.Run("too many names", func(t *testing.T) {
		names := make([]string, maxWalkElements+1)
		for i := range names {
			names[i] = "x"
		}
		expectError(t, c.call(9, &Twalk{Fid: 0, NewFid: 1, Wnames: names}), EINVAL)
	})
}

func TestSessionWalkSelfRebind(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)
	negotiate(t, c, 0)

	c.call(2, &Twalk{Fid: 0, NewFid: 1})

	// Walking fid onto itself moves it to the target.
	resp := c.call(3, &Twalk{Fid: 1, NewFid: 1, Wnames: []string{"dir", "file.txt"}})
	rw, ok := resp.(*Rwalk)
	if !ok || len(rw.WQids) != 2 {
		t.Fatalf("self walk reply = %#v", resp)
	}

	ra := c.call(4, &Tgetattr{Fid: 1, RequestMask: AttrMaskBasic}).(*Rgetattr)
	if ra.Qid.Type != QTFILE {
		t.Errorf("rebound fid qid type = %#x, want QTFILE", ra.Qid.Type)
	}
}

func TestSessionCreateAndRemove(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)
	negotiate(t, c, 0)

	c.call(2, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir"}})

	rc, ok := c.call(3, &Tlcreate{Fid: 1, Name: "made.txt", Flags: OpenReadWrite, Mode: 0644}).(*Rlcreate)
	if !ok {
		t.Fatal("lcreate failed")
	}
	if rc.Qid.Type != QTFILE {
		t.Errorf("created qid type = %#x, want QTFILE", rc.Qid.Type)
	}

	// The fid is now the open file.
	if _, ok := c.call(4, &Twrite{Fid: 1, Offset: 0, Data: []byte("x")}).(*Rwrite); !ok {
		t.Error("write to created fid failed")
	}

	// Remove clunks the fid even as it removes the file.
	if _, ok := c.call(5, &Tremove{Fid: 1}).(*Rremove); !ok {
		t.Fatal("remove failed")
	}
	expectError(t, c.call(6, &Tclunk{Fid: 1}), EBADF)

	expectError(t, c.call(7, &Twalk{Fid: 0, NewFid: 1, Wnames: []string{"dir", "made.txt"}}), ENOENT)
}

func TestSessionAuthRejected(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)

	c.call(NOTAG, &Tversion{MSize: DefaultMSize, Version: VersionString})
	expectError(t, c.call(1, &Tauth{AFid: 0, Uname: "user"}), ENOTSUP)
}

func TestSessionVersionResetsState(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, session, _ := startSession(t, backend)
	negotiate(t, c, 0)

	if session.FidCount() != 1 {
		t.Fatalf("FidCount = %d, want 1", session.FidCount())
	}

	// A second Tversion resets the session.
	resp := c.call(NOTAG, &Tversion{MSize: MinMSize, Version: VersionString})
	rv, ok := resp.(*Rversion)
	if !ok {
		t.Fatalf("reply = %T, want Rversion", resp)
	}
	if rv.MSize != MinMSize {
		t.Errorf("renegotiated msize = %d, want %d", rv.MSize, MinMSize)
	}

	if session.FidCount() != 0 {
		t.Errorf("FidCount = %d after reset, want 0", session.FidCount())
	}
	expectError(t, c.call(2, &Tgetattr{Fid: 0, RequestMask: AttrMaskBasic}), EBADF)
}

func TestSessionMalformedFrameFatal(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, served := startSession(t, backend)
	negotiate(t, c, 0)

	// A frame claiming to be smaller than its header is unrecoverable.
	c.conn.Write([]byte{3, 0, 0, 0, 0, 0, 0})

	select {
	case err := <-served:
		var malformed *MalformedFrameError
		if !errors.As(err, &malformed) {
			t.Errorf("Serve returned %v, want MalformedFrameError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down on malformed frame")
	}
}

func TestSessionCleanEOF(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, served := startSession(t, backend)
	negotiate(t, c, 0)

	c.conn.Close()

	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v on clean close, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down on close")
	}
}

// blockFile parks ReadAt until its context is cancelled, so tests can
// hold a request in flight deterministically.
type blockFile struct {
	stubFile
	started chan struct{}
}

func (f *blockFile) Clone(context.Context) (BackendFile, Qid, error) {
	return f, Qid{Type: QTDIR}, nil
}

func (f *blockFile) Open(context.Context, uint32) (Qid, uint32, error) {
	return Qid{Type: QTDIR}, 0, nil
}

func (f *blockFile) ReadAt(ctx context.Context, p []byte, offset uint64) (int, error) {
	select {
	case f.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return 0, ctx.Err()
}

func (f *blockFile) GetAttr(context.Context, AttrMask) (Qid, AttrMask, Attr, error) {
	return Qid{Type: QTDIR}, AttrMaskBasic, Attr{}, nil
}

// blockBackend serves a single blockFile as its root.
type blockBackend struct {
	root *blockFile
}

func (b *blockBackend) Auth(context.Context, string, string, uint32) (BackendFile, Qid, error) {
	return nil, Qid{}, ENOTSUP
}

func (b *blockBackend) Attach(context.Context, BackendFile, string, string, uint32) (BackendFile, Qid, error) {
	return b.root, Qid{Type: QTDIR}, nil
}

func TestSessionFlushSuppressesReply(t *testing.T) {
	backend := &blockBackend{root: &blockFile{started: make(chan struct{}, 1)}}
	c, _, _ := startSession(t, backend)
	negotiate(t, c, 0)

	c.call(2, &Tlopen{Fid: 0, Flags: OpenReadOnly})

	// Park a read on tag 3, then flush it.
	c.send(3, &Tread{Fid: 0, Offset: 0, Count: 16})
	select {
	case <-backend.root.started:
	case <-time.After(5 * time.Second):
		t.Fatal("read never reached the backend")
	}

	if _, ok := c.call(4, &Tflush{OldTag: 3}).(*Rflush); !ok {
		t.Fatal("flush did not succeed")
	}

	// The next reply must belong to the new request, not the flushed
	// read. Tag 3 is immediately reusable.
	resp := c.call(3, &Tgetattr{Fid: 0, RequestMask: AttrMaskBasic})
	if _, ok := resp.(*Rgetattr); !ok {
		t.Errorf("reply = %T, want Rgetattr", resp)
	}
}

func TestSessionFlushUnknownTag(t *testing.T) {
	backend := newTestBackend(t, ExportOptions{})
	c, _, _ := startSession(t, backend)
	negotiate(t, c, 0)

	if _, ok := c.call(2, &Tflush{OldTag: 77}).(*Rflush); !ok {
		t.Error("flush of unknown tag did not succeed")
	}
}

func TestSessionDuplicateTagFatal(t *testing.T) {
	backend := &blockBackend{root: &blockFile{started: make(chan struct{}, 1)}}
	c, _, served := startSession(t, backend)
	negotiate(t, c, 0)

	c.call(2, &Tlopen{Fid: 0, Flags: OpenReadOnly})

	c.send(3, &Tread{Fid: 0, Offset: 0, Count: 16})
	select {
	case <-backend.root.started:
	case <-time.After(5 * time.Second):
		t.Fatal("read never reached the backend")
	}

	// Reusing the in-flight tag is a protocol violation that tears the
	// connection down.
	c.send(3, &Tgetattr{Fid: 0, RequestMask: AttrMaskBasic})

	select {
	case err := <-served:
		var dup *DuplicateTagError
		if !errors.As(err, &dup) {
			t.Errorf("Serve returned %v, want DuplicateTagError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down on duplicate tag")
	}
}
