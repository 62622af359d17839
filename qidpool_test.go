package abs9p

import (
	"os"
	"testing"
	"time"
)

// fakeInfo is a minimal os.FileInfo for qid pool tests.
type fakeInfo struct {
	name  string
	mode  os.FileMode
	mtime time.Time
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 0 }
func (f fakeInfo) Mode() os.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return f.mtime }
func (f fakeInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeInfo) Sys() interface{}   { return nil }

func TestQidPoolStableIdentity(t *testing.T) {
	pool := newQidPool()
	now := time.Now()

	a := pool.get("/a", fakeInfo{name: "a", mtime: now})
	b := pool.get("/b", fakeInfo{name: "b", mtime: now})
	if a.Path == b.Path {
		t.Error("distinct paths share a qid path")
	}

	again := pool.get("/a", fakeInfo{name: "a", mtime: now})
	if again.Path != a.Path || again.Version != a.Version {
		t.Errorf("repeated lookup changed identity: %v then %v", a, again)
	}
}

func TestQidPoolVersionBumpOnModify(t *testing.T) {
	pool := newQidPool()
	now := time.Now()

	before := pool.get("/f", fakeInfo{name: "f", mtime: now})
	after := pool.get("/f", fakeInfo{name: "f", mtime: now.Add(time.Second)})
	if after.Path != before.Path {
		t.Error("modification changed the qid path")
	}
	if after.Version == before.Version {
		t.Error("modification did not bump the qid version")
	}
}

func TestQidPoolTypeBits(t *testing.T) {
	pool := newQidPool()
	now := time.Now()

	dir := pool.get("/d", fakeInfo{name: "d", mode: os.ModeDir | 0755, mtime: now})
	if dir.Type != QTDIR {
		t.Errorf("dir qid type = %#x, want %#x", dir.Type, QTDIR)
	}
	link := pool.get("/l", fakeInfo{name: "l", mode: os.ModeSymlink | 0777, mtime: now})
	if link.Type != QTSYMLINK {
		t.Errorf("symlink qid type = %#x, want %#x", link.Type, QTSYMLINK)
	}
	file := pool.get("/f", fakeInfo{name: "f", mode: 0644, mtime: now})
	if file.Type != QTFILE {
		t.Errorf("file qid type = %#x, want %#x", file.Type, QTFILE)
	}
}

func TestQidPoolRenameKeepsIdentity(t *testing.T) {
	pool := newQidPool()
	now := time.Now()

	orig := pool.get("/dir/file", fakeInfo{name: "file", mtime: now})
	sub := pool.get("/dir/sub/nested", fakeInfo{name: "nested", mtime: now})

	pool.rename("/dir", "/moved")

	moved := pool.get("/moved/file", fakeInfo{name: "file", mtime: now})
	if moved.Path != orig.Path {
		t.Errorf("rename lost identity: %d then %d", orig.Path, moved.Path)
	}
	movedSub := pool.get("/moved/sub/nested", fakeInfo{name: "nested", mtime: now})
	if movedSub.Path != sub.Path {
		t.Errorf("rename lost nested identity: %d then %d", sub.Path, movedSub.Path)
	}
}

func TestQidPoolForget(t *testing.T) {
	pool := newQidPool()
	now := time.Now()

	orig := pool.get("/dir/file", fakeInfo{name: "file", mtime: now})
	pool.get("/dir", fakeInfo{name: "dir", mode: os.ModeDir, mtime: now})
	pool.forget("/dir")

	if pool.size() != 0 {
		t.Errorf("pool size = %d after forget, want 0", pool.size())
	}

	// A recreated path is a new object.
	recreated := pool.get("/dir/file", fakeInfo{name: "file", mtime: now})
	if recreated.Path == orig.Path {
		t.Error("recreated path reused the old identity")
	}
}
