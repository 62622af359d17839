package abs9p

import "sync"

// lockRecord is one held POSIX record lock. A length of zero extends
// to the end of the file, per fcntl(2).
type lockRecord struct {
	typ      uint8
	start    uint64
	length   uint64
	procID   uint32
	clientID string
}

func (r *lockRecord) sameOwner(procID uint32, clientID string) bool {
	return r.procID == procID && r.clientID == clientID
}

// overlaps reports whether two byte ranges intersect.
func overlaps(aStart, aLen, bStart, bLen uint64) bool {
	aEnd := aStart + aLen // aLen == 0 means unbounded
	bEnd := bStart + bLen
	if aLen != 0 && aEnd <= bStart {
		return false
	}
	if bLen != 0 && bEnd <= aStart {
		return false
	}
	return true
}

// lockTable tracks POSIX record locks per served path. Locks exist
// only in server memory: they arbitrate between 9P clients of this
// export and make no claim on the underlying store. Blocking lock
// requests are answered with LockBlocked rather than queued, which
// matches the protocol's expectation that clients retry.
type lockTable struct {
	mu    sync.Mutex
	locks map[string][]lockRecord
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string][]lockRecord)}
}

// lock applies a Tlock request against path.
func (t *lockTable) lock(path string, req *Tlock) LockStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	held := t.locks[path]

	if req.Type == LockTypeUnlock {
		kept := held[:0]
		for _, rec := range held {
			if rec.sameOwner(req.ProcID, req.ClientID) && overlaps(rec.start, rec.length, req.Start, req.Length) {
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(t.locks, path)
		} else {
			t.locks[path] = kept
		}
		return LockSuccess
	}

	if req.Type != LockTypeRead && req.Type != LockTypeWrite {
		return LockError
	}

	for _, rec := range held {
		if rec.sameOwner(req.ProcID, req.ClientID) {
			continue
		}
		if !overlaps(rec.start, rec.length, req.Start, req.Length) {
			continue
		}
		if rec.typ == LockTypeWrite || req.Type == LockTypeWrite {
			return LockBlocked
		}
	}

	// Replace the owner's own overlapping records so upgrades and
	// downgrades do not accumulate stale ranges.
	kept := held[:0]
	for _, rec := range held {
		if rec.sameOwner(req.ProcID, req.ClientID) && overlaps(rec.start, rec.length, req.Start, req.Length) {
			continue
		}
		kept = append(kept, rec)
	}
	t.locks[path] = append(kept, lockRecord{
		typ:      req.Type,
		start:    req.Start,
		length:   req.Length,
		procID:   req.ProcID,
		clientID: req.ClientID,
	})
	return LockSuccess
}

// getLock tests a Tgetlock request against path, returning the first
// conflicting lock or an unlock record when the range is free.
func (t *lockTable) getLock(path string, req *Tgetlock) *Rgetlock {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.locks[path] {
		if rec.sameOwner(req.ProcID, req.ClientID) {
			continue
		}
		if !overlaps(rec.start, rec.length, req.Start, req.Length) {
			continue
		}
		if rec.typ == LockTypeWrite || req.Type == LockTypeWrite {
			return &Rgetlock{
				Type:     rec.typ,
				Start:    rec.start,
				Length:   rec.length,
				ProcID:   rec.procID,
				ClientID: rec.clientID,
			}
		}
	}

	return &Rgetlock{
		Type:     LockTypeUnlock,
		Start:    req.Start,
		Length:   req.Length,
		ProcID:   req.ProcID,
		ClientID: req.ClientID,
	}
}

// releaseOwner drops every lock held by one owner on path, used when
// the owning fid is clunked.
func (t *lockTable) releaseOwner(path string, procID uint32, clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	held := t.locks[path]
	kept := held[:0]
	for _, rec := range held {
		if rec.sameOwner(procID, clientID) {
			continue
		}
		kept = append(kept, rec)
	}
	if len(kept) == 0 {
		delete(t.locks, path)
	} else {
		t.locks[path] = kept
	}
}

// rename moves lock state with the file.
func (t *lockTable) rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if held, ok := t.locks[oldPath]; ok {
		delete(t.locks, oldPath)
		t.locks[newPath] = held
	}
}

// forget drops lock state for a removed path.
func (t *lockTable) forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, path)
}
