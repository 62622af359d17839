package abs9p

import (
	"os"
	"strings"
	"sync"
	"time"
)

// qidRecord is the stable identity assigned to one path.
type qidRecord struct {
	path    uint64
	version uint32
	mtime   time.Time
}

// qidPool assigns stable Qid identities to paths served from an absfs
// filesystem, which exposes no inode numbers of its own. Identity
// survives rename (the record moves with the file) and version is
// bumped whenever a new modification time is observed.
type qidPool struct {
	mu      sync.Mutex
	records map[string]*qidRecord
	next    uint64
}

func newQidPool() *qidPool {
	return &qidPool{
		records: make(map[string]*qidRecord),
		next:    1,
	}
}

// get returns the Qid for path, assigning a fresh identity on first
// sight and bumping the version when info shows a newer mtime.
func (p *qidPool) get(path string, info os.FileInfo) Qid {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[path]
	if !ok {
		rec = &qidRecord{path: p.next, mtime: info.ModTime()}
		p.next++
		p.records[path] = rec
	} else if mt := info.ModTime(); !mt.Equal(rec.mtime) {
		rec.version++
		rec.mtime = mt
	}

	return Qid{
		Type:    qidType(info.Mode()),
		Version: rec.version,
		Path:    rec.path,
	}
}

// rename moves the identity of oldPath (and, for directories,
// everything beneath it) to newPath, so walks after a rename still
// observe the same Qid.
func (p *qidPool) rename(oldPath, newPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, ok := p.records[oldPath]; ok {
		delete(p.records, oldPath)
		p.records[newPath] = rec
	}

	prefix := oldPath + "/"
	for path, rec := range p.records {
		if strings.HasPrefix(path, prefix) {
			delete(p.records, path)
			p.records[newPath+"/"+path[len(prefix):]] = rec
		}
	}
}

// forget drops the identity of a removed path and of everything
// beneath it. A path recreated later is a new object and gets a new
// identity.
func (p *qidPool) forget(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.records, path)
	prefix := path + "/"
	for sub := range p.records {
		if strings.HasPrefix(sub, prefix) {
			delete(p.records, sub)
		}
	}
}

// size reports the number of tracked identities, exposed for tests.
func (p *qidPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}
